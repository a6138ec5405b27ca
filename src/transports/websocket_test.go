package transports

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"price-feed/src/logger"
	"price-feed/src/models"

	"github.com/gorilla/websocket"
)

// ─── fixtures ─────────────────────────────────────────────────────────────────

func testLogger() *logger.Logger {
	return logger.NewLogger(&models.MConfig{LogLevel: "CRITICAL"}, "test")
}

// startEchoServer runs an in-process upgrade endpoint that forwards every
// received text frame to the returned channel.
func startEchoServer(t *testing.T, received chan<- string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(msg)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// ─── sending ──────────────────────────────────────────────────────────────────

func TestSendMessageSerializesConcurrentWriters(t *testing.T) {
	const writers, perWriter = 4, 25

	received := make(chan string, writers*perWriter)
	endpoint := startEchoServer(t, received)

	client := NewWebSocketClient(endpoint, "writers", testLogger(), func([]byte) {}, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Disconnect()

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if err := client.SendMessage([]byte(fmt.Sprintf("w%d-%d", id, j))); err != nil {
					t.Errorf("writer %d: %v", id, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	got := make(map[string]bool, writers*perWriter)
	deadline := time.After(2 * time.Second)
	for len(got) < writers*perWriter {
		select {
		case msg := <-received:
			got[msg] = true
		case <-deadline:
			t.Fatalf("server received %d of %d frames", len(got), writers*perWriter)
		}
	}
}

func TestSendMessageWithoutConnection(t *testing.T) {
	client := NewWebSocketClient("ws://unused", "idle", testLogger(), func([]byte) {}, nil)
	if err := client.SendMessage([]byte("ping")); err == nil {
		t.Fatal("expected error when sending with no connection")
	}
}

// ─── disconnect reporting ─────────────────────────────────────────────────────

func TestLocalDisconnectDoesNotFireCallback(t *testing.T) {
	received := make(chan string, 1)
	endpoint := startEchoServer(t, received)

	var reports int32
	client := NewWebSocketClient(endpoint, "local", testLogger(), func([]byte) {}, func(error) {
		atomic.AddInt32(&reports, 1)
	})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	client.Disconnect()
	time.Sleep(50 * time.Millisecond)

	if n := atomic.LoadInt32(&reports); n != 0 {
		t.Fatalf("local disconnect reported %d times, want 0", n)
	}
}

func TestRemoteCloseReportsOnce(t *testing.T) {
	closeNow := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-closeNow
		conn.Close()
	}))
	defer srv.Close()

	var reports int32
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewWebSocketClient(endpoint, "remote", testLogger(), func([]byte) {}, func(error) {
		atomic.AddInt32(&reports, 1)
	})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	close(closeNow)

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&reports) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("remote close was never reported")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&reports); n != 1 {
		t.Fatalf("remote close reported %d times, want 1", n)
	}
}
