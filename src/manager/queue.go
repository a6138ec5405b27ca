package manager

import (
	"context"
	"sync"
	"time"

	"price-feed/src/logger"
	"price-feed/src/models"
)

// -----------------------------------------------------------------------------
// Connection Request Queue
// -----------------------------------------------------------------------------

// ConnectionRequest is one queued socket action: subscribe a symbol batch on
// a feed type, connecting first if needed. Requests are consumed and
// discarded once processed, never persisted.
type ConnectionRequest struct {
	FeedType models.MFeedType
	Symbols  []string

	canceled bool
}

// -----------------------------------------------------------------------------

// QueueHandler services one request. It must respect the context deadline.
type QueueHandler func(ctx context.Context, request *ConnectionRequest) error

// -----------------------------------------------------------------------------

// ConnectionQueue serializes connection-establishment requests so bursts of
// subscription changes never open redundant sockets concurrently. A single
// worker goroutine services requests strictly FIFO, one in flight at a time,
// with a fixed delay between consecutive requests to stay under upstream
// rate limits. A failed or timed-out request does not block the queue: its
// symbols stay in the registry and the failure callback drives the feed's
// reconnect path.
type ConnectionQueue struct {
	Name   string
	Logger *logger.Logger

	handler   QueueHandler
	onFailure func(feedType models.MFeedType, err error)
	timeout   time.Duration
	gap       time.Duration

	mu       sync.Mutex
	items    []*ConnectionRequest
	inFlight bool
	wake     chan struct{}
	done     chan struct{}
	started  bool
	wg       sync.WaitGroup
}

// -----------------------------------------------------------------------------

// NewConnectionQueue creates a stopped queue. The failure callback receives
// every request that errored or exceeded the attempt timeout.
func NewConnectionQueue(handler QueueHandler, onFailure func(models.MFeedType, error), timeout, gap time.Duration, logger *logger.Logger) *ConnectionQueue {
	return &ConnectionQueue{
		Name:      "ConnectionQueue",
		Logger:    logger,
		handler:   handler,
		onFailure: onFailure,
		timeout:   timeout,
		gap:       gap,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

// Start launches the worker goroutine.
func (q *ConnectionQueue) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.done = make(chan struct{})
	q.mu.Unlock()

	q.wg.Add(1)
	go q.worker()
}

// -----------------------------------------------------------------------------

// Stop halts the worker and discards queued requests. In-flight work runs to
// its deadline.
func (q *ConnectionQueue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.items = nil
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()
}

// -----------------------------------------------------------------------------

// Enqueue appends a request for a feed type and symbol batch.
func (q *ConnectionQueue) Enqueue(feedType models.MFeedType, symbols []string) {
	if len(symbols) == 0 {
		return
	}

	batch := make([]string, len(symbols))
	copy(batch, symbols)

	q.mu.Lock()
	q.items = append(q.items, &ConnectionRequest{FeedType: feedType, Symbols: batch})
	depth := len(q.items)
	q.mu.Unlock()

	q.Logger.Debug("%s : enqueued %d symbols for %s (queue depth %d)", q.Name, len(batch), feedType, depth)

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// -----------------------------------------------------------------------------

// CancelSymbols strips the given symbols from every still-queued request.
// Requests whose batch empties out are canceled entirely. In-flight work is
// not interrupted.
func (q *ConnectionQueue) CancelSymbols(symbols []string) {
	if len(symbols) == 0 {
		return
	}
	drop := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		drop[symbol] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, request := range q.items {
		kept := request.Symbols[:0]
		for _, symbol := range request.Symbols {
			if !drop[symbol] {
				kept = append(kept, symbol)
			}
		}
		request.Symbols = kept
		if len(kept) == 0 {
			request.canceled = true
		}
	}
}

// -----------------------------------------------------------------------------

// Depth returns the number of queued (not in-flight) requests.
func (q *ConnectionQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// -----------------------------------------------------------------------------

// Idle reports whether nothing is queued or in flight.
func (q *ConnectionQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && !q.inFlight
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

func (q *ConnectionQueue) worker() {
	defer q.wg.Done()

	for {
		request := q.pop()
		if request == nil {
			select {
			case <-q.done:
				return
			case <-q.wake:
				continue
			}
		}

		if request.canceled {
			continue
		}

		q.service(request)

		// Fixed gap between consecutive socket actions.
		if q.gap > 0 {
			select {
			case <-q.done:
				return
			case <-time.After(q.gap):
			}
		}

		select {
		case <-q.done:
			return
		default:
		}
	}
}

// -----------------------------------------------------------------------------

func (q *ConnectionQueue) pop() *ConnectionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	request := q.items[0]
	q.items = q.items[1:]
	q.inFlight = true
	return request
}

// -----------------------------------------------------------------------------

func (q *ConnectionQueue) service(request *ConnectionRequest) {
	defer func() {
		q.mu.Lock()
		q.inFlight = false
		q.mu.Unlock()

		if r := recover(); r != nil {
			q.Logger.Error("%s : handler panicked servicing %s: %v", q.Name, request.FeedType, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	if err := q.handler(ctx, request); err != nil {
		q.Logger.Warning("%s : request for %s (%d symbols) failed: %v", q.Name, request.FeedType, len(request.Symbols), err)
		if q.onFailure != nil {
			q.onFailure(request.FeedType, err)
		}
	}
}
