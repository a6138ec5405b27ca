package feeds

import (
	"fmt"
	"sync"

	"price-feed/src/interfaces"
	"price-feed/src/models"
)

// The global registry map. Key is the feed type (crypto, forex), value is the
// constructor function.
var (
	registry = make(map[models.MFeedType]interfaces.IFeedConstructor)
	mu       sync.RWMutex // Use a mutex for concurrent map access
)

// Register is called by each feed codec's init() function to add itself to the map.
func Register(feedType models.MFeedType, constructor interfaces.IFeedConstructor) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[feedType]; exists {
		return fmt.Errorf("feed constructor already registered for type: %s", feedType)
	}
	registry[feedType] = constructor
	return nil
}

// GetConstructor is used by the connection layer to retrieve the constructor.
func GetConstructor(feedType models.MFeedType) (interfaces.IFeedConstructor, error) {
	mu.RLock()
	defer mu.RUnlock()
	constructor, exists := registry[feedType]
	if !exists {
		return nil, fmt.Errorf("unknown feed type: %s", feedType)
	}
	return constructor, nil
}
