package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	object  any
	expires time.Time
}

type inMemoryCache struct {
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	data   map[string]*entry
	wg     sync.WaitGroup
	once   sync.Once
	cfg    config
}

var _ Cache = (*inMemoryCache)(nil)

// NewInMemory returns an in-memory Cache with a background sweeper that
// drops expired entries. parent bounds the sweeper's lifetime.
func NewInMemory(parent context.Context, opts ...Option) Cache {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &inMemoryCache{
		ctx:    ctx,
		cancel: cancel,
		data:   make(map[string]*entry),
		cfg:    cfg,
	}
	c.wg.Add(1)
	go c.sweep()
	return c
}

func (c *inMemoryCache) Get(_ context.Context, key string) (bool, any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return false, nil, nil
	}
	if e.expires.Before(time.Now()) {
		delete(c.data, key)
		return false, nil, nil
	}
	return true, e.object, nil
}

func (c *inMemoryCache) Set(_ context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.defaultTTL
	}
	c.mu.Lock()
	c.data[key] = &entry{object: val, expires: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *inMemoryCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	_, ok := c.data[key]
	if ok {
		delete(c.data, key)
	}
	c.mu.Unlock()
	return ok, nil
}

func (c *inMemoryCache) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
	return nil
}

func (c *inMemoryCache) sweep() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, e := range c.data {
				if e.expires.Before(now) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
