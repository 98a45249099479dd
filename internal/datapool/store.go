package datapool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coralfs/coralfs/internal/logging"
	"github.com/coralfs/coralfs/internal/objectstore"
	"github.com/coralfs/coralfs/internal/striper"
)

// StoreClientConfig configures the object-store-backed client.
type StoreClientConfig struct {
	// MaxParallel bounds concurrent object deletes within one PurgeRange.
	// Default: 16.
	MaxParallel int

	// MaxRetries is the number of attempts per object delete before the
	// failure is reported as terminal. Default: 5.
	MaxRetries int

	// RetryBackoff is the initial backoff between attempts; it doubles
	// per attempt. Default: 100ms.
	RetryBackoff time.Duration
}

// DefaultStoreClientConfig returns a default configuration.
func DefaultStoreClientConfig() StoreClientConfig {
	return StoreClientConfig{
		MaxParallel:  16,
		MaxRetries:   5,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// StoreClient implements Client on top of an objectstore.Store, mapping
// pool-addressed objects to keys under the "pools/" prefix.
type StoreClient struct {
	store  objectstore.Store
	config StoreClientConfig
	log    *logging.Logger
}

// NewStoreClient creates a client backed by the given object store.
func NewStoreClient(store objectstore.Store, config StoreClientConfig) *StoreClient {
	if config.MaxParallel <= 0 {
		config.MaxParallel = 16
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 100 * time.Millisecond
	}
	return &StoreClient{
		store:  store,
		config: config,
		log:    logging.Subsystem("datapool"),
	}
}

// ObjectKey returns the object store key for a named object in a pool.
func ObjectKey(loc Locator, name string) string {
	if loc.Namespace != "" {
		return fmt.Sprintf("pools/%d/%s/%s", loc.Pool, loc.Namespace, name)
	}
	return fmt.Sprintf("pools/%d/%s", loc.Pool, name)
}

// PurgeRange removes count striped data objects starting at firstObj.
func (c *StoreClient) PurgeRange(ino uint64, layout striper.Layout, snapc SnapContext,
	firstObj, count uint64, _ time.Time, _ uint32, onDone func(error)) {

	loc := Locator{Pool: layout.PoolID, Namespace: layout.Namespace}

	go func() {
		sem := make(chan struct{}, c.config.MaxParallel)
		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error

		for idx := firstObj; idx < firstObj+count; idx++ {
			key := ObjectKey(loc, striper.ObjectName(ino, idx))
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				if err := c.deleteWithRetry(key); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}()
		}

		wg.Wait()
		onDone(firstErr)
	}()
}

// Remove removes the single named object from the located pool.
func (c *StoreClient) Remove(name string, loc Locator, snapc SnapContext,
	_ time.Time, _ uint32, onDone func(error)) {

	key := ObjectKey(loc, name)
	go func() {
		onDone(c.deleteWithRetry(key))
	}()
}

func (c *StoreClient) deleteWithRetry(key string) error {
	backoff := c.config.RetryBackoff
	var err error
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		err = c.store.Delete(context.Background(), key)
		if err == nil {
			return nil
		}
		c.log.Debugf("delete retry", map[string]any{
			"key":     key,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
	}
	c.log.Warnf("delete exhausted retries", map[string]any{
		"key":   key,
		"error": err.Error(),
	})
	return err
}

var _ Client = (*StoreClient)(nil)
