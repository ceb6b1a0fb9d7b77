package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsToCap(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2.0,
	})

	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 400*time.Millisecond, b.Next())
	assert.Equal(t, 800*time.Millisecond, b.Next())
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, time.Second, b.Next()) // pinned at the cap
	assert.Equal(t, 6, b.Attempt())
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	for i := 0; i < 50; i++ {
		b := NewBackoff(BackoffConfig{
			Initial:    time.Second,
			Max:        time.Second,
			Multiplier: 2.0,
			Jitter:     true,
		})
		d := b.Next()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2.0,
	})
	b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, 0, b.Attempt())
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(BackoffConfig{})
	d := b.Next()
	assert.Equal(t, time.Second, d)

	cfg := DefaultBackoffConfig()
	assert.Equal(t, time.Second, cfg.Initial)
	assert.Equal(t, 30*time.Second, cfg.Max)
	assert.True(t, cfg.Jitter)
}
