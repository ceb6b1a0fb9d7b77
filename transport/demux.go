package transport

import (
	"context"
	"sync"
	"time"

	"github.com/openclaw/gatelink/logger"
	"github.com/openclaw/gatelink/wire"
)

// SubscribePolicy decides what a full subscriber queue does to delivery.
type SubscribePolicy int

const (
	// DropNewest discards the incoming event for that subscriber only. The
	// other subscribers and the session trackers are unaffected; a dropped
	// chat/agent event will surface as a sequence gap for that subscriber's
	// own consumer to resync from, never as corrupted ordering.
	DropNewest SubscribePolicy = iota

	// Block applies backpressure: delivery to every subscriber waits until
	// this one drains. Only for consumers that are known to keep up.
	Block
)

// Subscription is one consumer's ordered view of the process-wide feed.
type Subscription struct {
	ch     chan wire.Event
	policy SubscribePolicy
	once   sync.Once
	closed chan struct{}
}

// Events returns the subscriber's ordered event channel.
func (s *Subscription) Events() <-chan wire.Event {
	return s.ch
}

// Close detaches the subscription. Its channel is closed once the
// demultiplexer notices.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.closed) })
}

// Demux consumes the raw inbound feed, classifies frames into the event
// union, validates per-session ordering and fans events out to subscribers
// in arrival order.
type Demux struct {
	log   logger.Logger
	codec wire.Codec

	trackerMu sync.Mutex
	trackers  map[string]*sessionTracker

	subMu  sync.Mutex
	subs   map[int]*Subscription
	nextID int
	done   bool
}

// NewDemux returns a Demux for frames encoded with the given codec.
func NewDemux(log logger.Logger, codec wire.Codec) *Demux {
	return &Demux{
		log:      log.WithPrefix("[demux]"),
		codec:    codec,
		trackers: make(map[string]*sessionTracker),
		subs:     make(map[int]*Subscription),
	}
}

// Subscribe attaches a consumer with its own bounded queue. Relative event
// order is identical for every subscriber; a slow subscriber only hurts
// itself under DropNewest.
func (d *Demux) Subscribe(buffer int, policy SubscribePolicy) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscription{
		ch:     make(chan wire.Event, buffer),
		policy: policy,
		closed: make(chan struct{}),
	}
	d.subMu.Lock()
	if d.done {
		// The feed already ended; hand back a subscription that reads as
		// closed instead of one that would never receive or close.
		d.subMu.Unlock()
		sub.Close()
		close(sub.ch)
		return sub
	}
	d.nextID++
	d.subs[d.nextID] = sub
	d.subMu.Unlock()
	return sub
}

// Run consumes frames until the feed closes or ctx is done. It is the
// single consumer of the Connection Manager's feed; ordering is fixed here.
func (d *Demux) Run(ctx context.Context, frames <-chan *wire.Frame) {
	for {
		select {
		case <-ctx.Done():
			d.closeSubs()
			return
		case frame, ok := <-frames:
			if !ok {
				d.closeSubs()
				return
			}
			d.dispatch(ctx, frame)
		}
	}
}

func (d *Demux) dispatch(ctx context.Context, frame *wire.Frame) {
	at := frame.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	switch frame.Type {
	case wire.TypeTick:
		// Liveness heartbeat, no session affinity, forwarded unconditionally.
		d.publish(ctx, wire.Event{Type: wire.EventTick, At: at})
	case wire.TypeHealth:
		var health wire.HealthEvent
		if err := wire.DecodePayload(d.codec, frame, &health); err != nil {
			d.log.Warn("dropping undecodable health event: %v", err)
			return
		}
		d.publish(ctx, wire.Event{Type: wire.EventHealth, Health: &health, At: at})
	case wire.TypeChat, wire.TypeAgent:
		var session wire.SessionEvent
		if err := wire.DecodePayload(d.codec, frame, &session); err != nil {
			d.log.Warn("dropping undecodable %s event: %v", frame.Type, err)
			return
		}
		if session.SessionKey == "" {
			d.log.Warn("dropping %s event with no session key", frame.Type)
			return
		}
		deliver, gap := d.tracker(session.SessionKey).Accept(session.Seq)
		if gap != nil {
			d.log.Warn("sequence gap on session %s: expected %d, got %d",
				gap.SessionKey, gap.Expected, gap.Got)
			d.publish(ctx, wire.Event{Type: wire.EventSeqGap, Gap: gap, At: at})
			return
		}
		if !deliver {
			return
		}
		eventType := wire.EventChat
		if frame.Type == wire.TypeAgent {
			eventType = wire.EventAgent
		}
		d.publish(ctx, wire.Event{Type: eventType, Session: &session, At: at})
	default:
		d.log.Debug("ignoring unknown event type %s", frame.Type)
	}
}

// publish fans one event out to every live subscriber in attach order.
func (d *Demux) publish(ctx context.Context, event wire.Event) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for id, sub := range d.subs {
		select {
		case <-sub.closed:
			delete(d.subs, id)
			close(sub.ch)
			continue
		default:
		}
		if sub.policy == Block {
			select {
			case sub.ch <- event:
			case <-sub.closed:
				delete(d.subs, id)
				close(sub.ch)
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case sub.ch <- event:
		default:
			d.log.Debug("subscriber %d queue full, dropping %s event", id, event.Type)
		}
	}
}

func (d *Demux) closeSubs() {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.done = true
	for id, sub := range d.subs {
		delete(d.subs, id)
		close(sub.ch)
	}
}

// tracker returns the session's tracker, creating it lazily on first
// reference.
func (d *Demux) tracker(sessionKey string) *sessionTracker {
	d.trackerMu.Lock()
	defer d.trackerMu.Unlock()
	t, ok := d.trackers[sessionKey]
	if !ok {
		t = newSessionTracker(sessionKey)
		d.trackers[sessionKey] = t
	}
	return t
}

// SessionState returns the synchronization state of a session.
func (d *Demux) SessionState(sessionKey string) SessionState {
	return d.tracker(sessionKey).State()
}

// LastSeq returns the last contiguous sequence number observed for a session.
func (d *Demux) LastSeq(sessionKey string) int64 {
	return d.tracker(sessionKey).LastSeq()
}

// MarkSyncing flags a session's history fetch as in flight.
func (d *Demux) MarkSyncing(sessionKey string) {
	d.tracker(sessionKey).MarkSyncing()
}

// Baseline re-anchors a session after a successful history fetch.
func (d *Demux) Baseline(sessionKey string, seq int64) {
	d.tracker(sessionKey).Baseline(seq)
}

// SyncFailed records a failed history fetch for a session.
func (d *Demux) SyncFailed(sessionKey string) {
	d.tracker(sessionKey).SyncFailed()
}

// Forget discards a session's tracker when the client loses interest in it.
func (d *Demux) Forget(sessionKey string) {
	d.trackerMu.Lock()
	delete(d.trackers, sessionKey)
	d.trackerMu.Unlock()
}
