package transport

import (
	"context"
	"time"

	"github.com/openclaw/gatelink/cache"
	"github.com/openclaw/gatelink/logger"
	"github.com/openclaw/gatelink/wire"
	"golang.org/x/sync/singleflight"
)

// Registry tracks outstanding and recently-completed submission keys so a
// logical send has at most one effect despite caller retries and
// double-taps. Concurrent submits of the same (sessionKey, idempotencyKey)
// collapse onto one network call; completed results are retained for a
// bounded window and then evicted.
type Registry struct {
	group     singleflight.Group
	completed cache.Cache
	retention time.Duration
	log       logger.Logger
}

// DefaultRetention is how long completed submission results are remembered.
// Long enough to absorb a retry storm, short enough not to grow without
// bound.
const DefaultRetention = 5 * time.Minute

// NewRegistry builds a Registry retaining completed results in the given
// store for the given window.
func NewRegistry(completed cache.Cache, retention time.Duration, log logger.Logger) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		completed: completed,
		retention: retention,
		log:       log.WithPrefix("[idempotency]"),
	}
}

func submissionKey(sessionKey, idempotencyKey string) string {
	return sessionKey + "\x00" + idempotencyKey
}

// Submit runs call at most once per in-flight (sessionKey, idempotencyKey).
// A second caller arriving while the first is outstanding awaits the same
// result. A completed success within the retention window is returned
// without a network call. A Timeout releases the key so a caller-driven
// retry with the same key reaches the gateway's own idempotent apply.
func (r *Registry) Submit(ctx context.Context, sessionKey, idempotencyKey string, call func(ctx context.Context) (*wire.SendResponse, error)) (*wire.SendResponse, error) {
	key := submissionKey(sessionKey, idempotencyKey)

	if found, resp, err := cache.Get[wire.SendResponse](ctx, r.completed, key); err == nil && found {
		r.log.Debug("returning completed result for key %s on session %s", idempotencyKey, sessionKey)
		return &resp, nil
	}

	result, err, shared := r.group.Do(key, func() (any, error) {
		// Re-check under the flight lock: a racing submit may have just
		// completed and populated the window.
		if found, resp, err := cache.Get[wire.SendResponse](ctx, r.completed, key); err == nil && found {
			return &resp, nil
		}
		resp, err := call(ctx)
		if err != nil {
			return nil, err
		}
		if err := r.completed.Set(ctx, key, *resp, r.retention); err != nil {
			r.log.Warn("failed to retain completed key %s: %v", idempotencyKey, err)
		}
		return resp, nil
	})
	if shared {
		r.log.Debug("collapsed duplicate submit for key %s on session %s", idempotencyKey, sessionKey)
	}
	if err != nil {
		// The flight is over, so the key is released either way; retryable
		// errors invite the caller to resubmit with the same key.
		return nil, err
	}
	return result.(*wire.SendResponse), nil
}
