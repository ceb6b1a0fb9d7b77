package resilience

import (
	"math/rand"
	"time"
)

// BackoffConfig bounds the delay between reconnection attempts.
type BackoffConfig struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the delay regardless of attempt count.
	Max time.Duration

	// Multiplier grows the delay after each failed attempt.
	Multiplier float64

	// Jitter randomizes each delay within [delay/2, delay] to avoid
	// thundering herds when many clients lose the same gateway.
	Jitter bool
}

// DefaultBackoffConfig returns the reconnect defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Backoff computes successive retry delays. Not safe for concurrent use; each
// retry loop owns its own instance.
type Backoff struct {
	cfg     BackoffConfig
	current time.Duration
	attempt int
}

// NewBackoff returns a Backoff starting at cfg.Initial.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = time.Second
	}
	if cfg.Max <= 0 {
		cfg.Max = 30 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	return &Backoff{cfg: cfg, current: cfg.Initial}
}

// Next returns the delay to wait before the next attempt and advances the
// schedule.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.attempt++

	next := time.Duration(float64(b.current) * b.cfg.Multiplier)
	b.current = min(next, b.cfg.Max)

	if b.cfg.Jitter {
		half := d / 2
		d = half + time.Duration(rand.Int63n(int64(half)+1))
	}
	return d
}

// Attempt returns how many delays have been handed out so far.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset restarts the schedule from the initial delay, for use after a
// successful attempt.
func (b *Backoff) Reset() {
	b.current = b.cfg.Initial
	b.attempt = 0
}
