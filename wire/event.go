package wire

import "time"

// EventType enumerates the events the transport delivers to subscribers.
type EventType string

const (
	EventHealth EventType = "health"
	EventTick   EventType = "tick"
	EventChat   EventType = "chat"
	EventAgent  EventType = "agent"
	EventSeqGap EventType = "seqGap"
)

// SessionEvent is the payload of chat and agent events. Seq is the
// per-session monotonic sequence number used for gap detection.
type SessionEvent struct {
	SessionKey string    `json:"sessionKey" msgpack:"sessionKey"`
	Seq        int64     `json:"seq" msgpack:"seq"`
	Role       string    `json:"role,omitempty" msgpack:"role,omitempty"`
	Content    string    `json:"content" msgpack:"content"`
	RunID      string    `json:"runId,omitempty" msgpack:"runId,omitempty"`
	At         time.Time `json:"at" msgpack:"at"`
}

// HealthEvent reports the gateway's own health verdict.
type HealthEvent struct {
	OK bool `json:"ok" msgpack:"ok"`
}

// GapEvent is synthesized client-side when a session event arrives with a
// sequence number past the expected next value. It is never on the wire.
type GapEvent struct {
	SessionKey string `json:"sessionKey"`
	Expected   int64  `json:"expected"`
	Got        int64  `json:"got"`
}

// Event is the tagged union delivered on the process-wide feed. Exactly the
// field matching Type is set; Tick events carry no payload at all.
type Event struct {
	Type    EventType
	Health  *HealthEvent
	Session *SessionEvent
	Gap     *GapEvent
	At      time.Time
}

// SessionKey returns the session the event belongs to, or "" for events with
// no session affinity (health, tick).
func (e Event) SessionKey() string {
	switch {
	case e.Session != nil:
		return e.Session.SessionKey
	case e.Gap != nil:
		return e.Gap.SessionKey
	}
	return ""
}

// Seq returns the embedded sequence number, or 0 when the event carries none.
func (e Event) Seq() int64 {
	if e.Session != nil {
		return e.Session.Seq
	}
	return 0
}
