package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventSessionAffinity(t *testing.T) {
	chat := Event{Type: EventChat, Session: &SessionEvent{SessionKey: "s1", Seq: 7}}
	assert.Equal(t, "s1", chat.SessionKey())
	assert.Equal(t, int64(7), chat.Seq())

	gap := Event{Type: EventSeqGap, Gap: &GapEvent{SessionKey: "s2", Expected: 4, Got: 9}}
	assert.Equal(t, "s2", gap.SessionKey())
	assert.Equal(t, int64(0), gap.Seq())

	tick := Event{Type: EventTick}
	assert.Equal(t, "", tick.SessionKey())
	assert.Equal(t, int64(0), tick.Seq())

	health := Event{Type: EventHealth, Health: &HealthEvent{OK: false}}
	assert.Equal(t, "", health.SessionKey())
}
