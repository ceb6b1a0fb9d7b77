package transport

import (
	"sync"

	"github.com/openclaw/gatelink/wire"
)

// SessionState is the synchronization state of one session's event stream.
type SessionState int

const (
	// SessionUnsynced means no history baseline exists yet; live events for
	// the session are dropped.
	SessionUnsynced SessionState = iota

	// SessionSyncing means a history fetch is in flight.
	SessionSyncing

	// SessionLive means events are validated and delivered in sequence.
	SessionLive

	// SessionStale means a sequence gap was detected; events are dropped
	// until a fresh history fetch re-baselines the session.
	SessionStale
)

func (s SessionState) String() string {
	switch s {
	case SessionUnsynced:
		return "unsynced"
	case SessionSyncing:
		return "syncing"
	case SessionLive:
		return "live"
	case SessionStale:
		return "stale"
	}
	return "unknown"
}

// sessionTracker validates per-session event ordering. Each session's state
// is independent; there is no cross-session locking.
type sessionTracker struct {
	mu        sync.Mutex
	key       string
	state     SessionState
	lastSeq   int64
	baselined bool
}

func newSessionTracker(key string) *sessionTracker {
	return &sessionTracker{key: key, state: SessionUnsynced}
}

func (t *sessionTracker) State() SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// MarkSyncing records that a history fetch is in flight. Events arriving
// while syncing are dropped; the fetch's payload replaces them wholesale.
func (t *sessionTracker) MarkSyncing() {
	t.mu.Lock()
	t.state = SessionSyncing
	t.mu.Unlock()
}

// Baseline re-anchors the session at the given sequence number after a
// successful history fetch and returns it to Live.
func (t *sessionTracker) Baseline(seq int64) {
	t.mu.Lock()
	t.state = SessionLive
	t.lastSeq = seq
	t.baselined = true
	t.mu.Unlock()
}

// SyncFailed returns the tracker to the state a failed history fetch leaves
// it in: Unsynced if it never had a baseline, Stale otherwise. Seq 0 is a
// legal baseline, so this keys off whether Baseline ever succeeded.
func (t *sessionTracker) SyncFailed() {
	t.mu.Lock()
	if t.baselined {
		t.state = SessionStale
	} else {
		t.state = SessionUnsynced
	}
	t.mu.Unlock()
}

// Accept validates one inbound session event. It returns deliver=true when
// the event is the next expected one, or a GapEvent exactly once per
// detected gap. Events during Unsynced/Syncing/Stale, and stale duplicates,
// are dropped without note.
func (t *sessionTracker) Accept(seq int64) (deliver bool, gap *wire.GapEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != SessionLive {
		return false, nil
	}
	expected := t.lastSeq + 1
	switch {
	case seq == expected:
		t.lastSeq = seq
		return true, nil
	case seq <= t.lastSeq:
		// Duplicate or replayed event; already delivered.
		return false, nil
	default:
		t.state = SessionStale
		return false, &wire.GapEvent{SessionKey: t.key, Expected: expected, Got: seq}
	}
}

// LastSeq returns the last contiguous sequence number observed.
func (t *sessionTracker) LastSeq() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeq
}
