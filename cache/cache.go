// Package cache provides the bounded TTL stores backing the transport's
// idempotency retention window. The in-memory store is the default; the
// Redis store exists for deployments where several companion processes
// share one idempotency ledger against the same gateway.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache is a TTL key/value store. Values are retained for at most their TTL;
// eviction is time-based so a long-lived process cannot leak completed keys.
type Cache interface {
	// Get retrieves a value. The bool reports whether the key was present
	// and unexpired.
	Get(ctx context.Context, key string) (bool, any, error)

	// Set stores a value with a TTL. If ttl <= 0 the store's configured
	// default is used.
	Set(ctx context.Context, key string, val any, ttl time.Duration) error

	// Delete removes a key. The bool reports whether it was present.
	Delete(ctx context.Context, key string) (bool, error)

	// Close releases the store's background resources.
	Close() error
}

// DefaultTTL is the retention window used when none is configured. It is
// sized to outlive plausible client retry storms, not to persist results.
const DefaultTTL = 5 * time.Minute

// DefaultQueryTimeout bounds individual operations on I/O-backed stores.
const DefaultQueryTimeout = 5 * time.Second

type config struct {
	defaultTTL    time.Duration
	queryTimeout  time.Duration
	sweepInterval time.Duration
	prefix        string
}

// Option configures a Cache implementation.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		defaultTTL:    DefaultTTL,
		queryTimeout:  DefaultQueryTimeout,
		sweepInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithTTL sets the default retention window for stored values.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithQueryTimeout bounds individual operations on I/O-backed stores.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithSweepInterval sets how often the in-memory store drops expired entries.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.sweepInterval = d }
}

// WithPrefix namespaces keys, for stores shared between processes.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// Get retrieves a typed value. In-memory stores hand back the original value
// and a type assertion suffices; byte-oriented stores (Redis) hand back
// msgpack bytes which are deserialized here.
func Get[T any](ctx context.Context, c Cache, key string) (bool, T, error) {
	var zero T
	found, val, err := c.Get(ctx, key)
	if !found || err != nil {
		return false, zero, err
	}
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	if data, ok := val.([]byte); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return false, zero, fmt.Errorf("cache: unmarshal value for %s: %w", key, err)
		}
		return true, result, nil
	}
	return false, zero, fmt.Errorf("cache: cannot convert value of type %T to %T", val, zero)
}
