package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/openclaw/gatelink/logger"
	"github.com/openclaw/gatelink/resilience"
	"github.com/openclaw/gatelink/wire"
)

// ConnState is the lifecycle state of the connection to the gateway.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// ReconnectPolicy decides what happens to outbound calls issued while the
// connection is being re-established.
type ReconnectPolicy int

const (
	// FailFast rejects calls with ErrUnavailable while reconnecting.
	FailFast ReconnectPolicy = iota

	// WaitForReconnect parks calls until the connection is back, bounded by
	// each call's own timeout.
	WaitForReconnect
)

// ConnConfig configures the connection to the gateway. URL must be an
// already-resolved ws:// or wss:// endpoint; the surrounding process owns
// profile/config resolution.
type ConnConfig struct {
	URL           string
	AuthToken     string
	Codec         wire.Codec
	ClientName    string
	ClientVersion string

	// DialTimeout bounds the websocket handshake plus the connect exchange.
	DialTimeout time.Duration

	// CallTimeout is the default deadline for round trips that do not carry
	// their own.
	CallTimeout time.Duration

	// PingInterval is how often the connection is health-probed. Zero
	// disables the probe loop.
	PingInterval time.Duration

	Backoff         resilience.BackoffConfig
	Breaker         resilience.BreakerConfig
	ReconnectPolicy ReconnectPolicy

	Logger logger.Logger
}

func (c *ConnConfig) withDefaults() error {
	if c.URL == "" {
		return errors.Mark(errors.New("gateway URL is required"), ErrInvalidArgument)
	}
	if c.Codec == nil {
		c.Codec = wire.JSON()
	}
	if c.ClientName == "" {
		c.ClientName = "gatelink"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logger.NewConsoleLogger(logger.LevelNone)
	}
	return nil
}

// Conn owns the single channel to the gateway: connect, request/response
// correlation, the inbound event feed, health probing and the reconnect
// loop. Multiple callers may issue round trips concurrently; each is
// correlated by frame id and bounded by its own timeout.
type Conn struct {
	cfg   ConnConfig
	log   logger.Logger
	codec wire.Codec

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	ws           *websocket.Conn
	state        ConnState
	closing      bool
	reconnecting bool
	connected    chan struct{} // closed while Connected; replaced on loss
	connectionID string

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *wire.Frame

	events chan *wire.Frame

	breaker *resilience.Breaker
}

// NewConn builds a Conn in the Disconnected state. Call Connect to
// establish the channel.
func NewConn(parent context.Context, cfg ConnConfig) (*Conn, error) {
	if err := cfg.withDefaults(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(parent)
	return &Conn{
		cfg:       cfg,
		log:       cfg.Logger.WithPrefix("[conn]"),
		codec:     cfg.Codec,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDisconnected,
		connected: make(chan struct{}),
		pending:   make(map[string]chan *wire.Frame),
		events:    make(chan *wire.Frame, 256),
		breaker:   resilience.NewBreaker(cfg.Breaker),
	}, nil
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionID returns the id the gateway assigned in the connect handshake,
// or "" before the first successful connect.
func (c *Conn) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// Events returns the raw inbound event feed. It is single-consumer; the
// demultiplexer owns it.
func (c *Conn) Events() <-chan *wire.Frame {
	return c.events
}

// Connect establishes the channel and performs the connect handshake.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	if err := c.dial(dctx); err != nil {
		c.mu.Lock()
		if !c.reconnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return errors.Mark(err, ErrUnavailable)
	}
	return nil
}

// dial opens the websocket, exchanges the connect handshake and, on success,
// transitions to Connected and starts the per-connection loops.
func (c *Conn) dial(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	header.Set("X-Gatelink-Codec", c.codec.Name())

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return errors.Wrapf(err, "dial %s", c.cfg.URL)
	}

	resp, err := c.handshake(ws)
	if err != nil {
		ws.Close()
		return err
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	if c.state == StateConnected {
		// A racing dial (manual Connect vs the reconnect loop) won; this
		// channel is surplus. connected is already closed, leave it alone.
		c.mu.Unlock()
		ws.Close()
		return nil
	}
	c.ws = ws
	c.state = StateConnected
	c.reconnecting = false
	c.connectionID = resp.ConnectionID
	close(c.connected)
	c.mu.Unlock()

	c.breaker.Reset()
	c.log.Debug("connected to gateway, connection id %s", resp.ConnectionID)

	go c.readLoop(ws)
	if c.cfg.PingInterval > 0 {
		go c.probeLoop(ws)
	}
	return nil
}

// handshake sends the connect frame and waits for its response on the bare
// websocket, before the read loop exists.
func (c *Conn) handshake(ws *websocket.Conn) (*wire.ConnectResponse, error) {
	id := uuid.NewString()
	buf, err := wire.EncodeFrame(c.codec, wire.Frame{
		ID:        id,
		Kind:      wire.KindRequest,
		Type:      wire.TypeConnect,
		Timestamp: time.Now(),
	}, wire.ConnectRequest{
		ClientName:    c.cfg.ClientName,
		ClientVersion: c.cfg.ClientVersion,
		Codec:         c.codec.Name(),
		Host:          collectHostInfo(),
	})
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(c.cfg.DialTimeout)
	if err := ws.SetWriteDeadline(deadline); err != nil {
		return nil, err
	}
	if err := ws.WriteMessage(c.messageType(), buf); err != nil {
		return nil, errors.Wrap(err, "write connect frame")
	}
	if err := ws.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil, errors.Wrap(err, "read connect response")
		}
		var frame wire.Frame
		if err := c.codec.Unmarshal(data, &frame); err != nil {
			return nil, errors.Wrap(err, "decode connect response")
		}
		if frame.Kind != wire.KindResponse || frame.ID != id {
			c.log.Debug("ignoring %s/%s frame before connect ack", frame.Kind, frame.Type)
			continue
		}
		if !frame.OK {
			return nil, frameError(&frame)
		}
		var resp wire.ConnectResponse
		if err := wire.DecodePayload(c.codec, &frame, &resp); err != nil {
			return nil, err
		}
		if err := ws.SetReadDeadline(time.Time{}); err != nil {
			return nil, err
		}
		_ = ws.SetWriteDeadline(time.Time{})
		return &resp, nil
	}
}

func (c *Conn) messageType() int {
	if c.codec.Name() == "json" {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}

// RoundTrip issues one request and waits for its correlated response. A
// non-positive timeout uses the configured CallTimeout. On timeout the call
// fails with ErrTimeout and no assumption is made about whether the request
// reached the gateway.
func (c *Conn) RoundTrip(ctx context.Context, frameType string, payload any, timeout time.Duration) (*wire.Frame, error) {
	if timeout <= 0 {
		timeout = c.cfg.CallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.awaitConnected(ctx); err != nil {
		return nil, err
	}
	if err := c.breaker.Allow(); err != nil {
		return nil, errors.Mark(err, ErrUnavailable)
	}

	id := uuid.NewString()
	ch := make(chan *wire.Frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	buf, err := wire.EncodeFrame(c.codec, wire.Frame{
		ID:        id,
		Kind:      wire.KindRequest,
		Type:      frameType,
		Timestamp: time.Now(),
	}, payload)
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidArgument)
	}
	if err := c.writeFrame(buf); err != nil {
		c.breaker.Record(err)
		return nil, err
	}

	select {
	case resp := <-ch:
		c.breaker.Record(nil)
		if !resp.OK {
			// A definitive answer, even a rejection, is a healthy channel.
			return nil, frameError(resp)
		}
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.breaker.Record(ctx.Err())
			return nil, errors.Mark(errors.Newf("%s: no response within %s", frameType, timeout), ErrTimeout)
		}
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrClosed
	}
}

// awaitConnected gates a round trip on connection availability according to
// the configured reconnect policy.
func (c *Conn) awaitConnected(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			return ErrClosed
		}
		state := c.state
		reconnecting := c.reconnecting
		connected := c.connected
		c.mu.Unlock()

		switch {
		case state == StateConnected:
			return nil
		case !reconnecting:
			// Never connected, or torn down; there is nothing to wait for.
			return errors.Mark(errors.Newf("connection is %s", state), ErrUnavailable)
		case c.cfg.ReconnectPolicy == FailFast:
			return errors.Mark(errors.New("connection is reconnecting"), ErrUnavailable)
		}

		select {
		case <-connected:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errors.Mark(errors.New("no connection within call deadline"), ErrTimeout)
			}
			return ctx.Err()
		case <-c.ctx.Done():
			return ErrClosed
		}
	}
}

// writeFrame serializes websocket writes; gorilla allows one writer at a time.
func (c *Conn) writeFrame(buf []byte) error {
	c.mu.Lock()
	ws := c.ws
	ok := c.state == StateConnected
	c.mu.Unlock()
	if !ok || ws == nil {
		return errors.Mark(errors.New("connection lost before write"), ErrUnavailable)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteMessage(c.messageType(), buf); err != nil {
		return errors.Mark(errors.Wrap(err, "write frame"), ErrUnavailable)
	}
	return nil
}

// readLoop pumps inbound frames for one websocket generation: responses to
// their pending waiters, events to the demultiplexer feed.
func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		var frame wire.Frame
		if err := c.codec.Unmarshal(data, &frame); err != nil {
			c.log.Warn("dropping undecodable frame: %v", err)
			continue
		}
		switch frame.Kind {
		case wire.KindResponse:
			c.pendingMu.Lock()
			ch, exists := c.pending[frame.ID]
			if exists {
				delete(c.pending, frame.ID)
			}
			c.pendingMu.Unlock()
			if exists {
				ch <- &frame
			} else {
				c.log.Debug("no pending request for response id %s", frame.ID)
			}
		case wire.KindEvent:
			select {
			case c.events <- &frame:
			case <-c.ctx.Done():
				return
			}
		default:
			c.log.Debug("ignoring frame kind %s", frame.Kind)
		}
	}
}

// probeLoop health-checks one websocket generation and forces a reconnect
// when probes stop answering.
func (c *Conn) probeLoop(ws *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		stale := c.ws != ws
		c.mu.Unlock()
		if stale {
			return
		}
		healthy, err := c.RequestHealth(c.ctx, c.cfg.CallTimeout)
		if err != nil {
			if IsTimeout(err) {
				c.log.Warn("health probe timed out, closing connection: %v", err)
				ws.Close()
			}
			return
		}
		if !healthy {
			// The gateway answered; the channel works. Not ours to tear down.
			c.log.Warn("gateway reports unhealthy")
		}
	}
}

// RequestHealth issues a lightweight probe round trip. A false return means
// the gateway definitively said it is unhealthy; ErrTimeout/ErrUnavailable
// mean no answer arrived, which callers must treat differently.
func (c *Conn) RequestHealth(ctx context.Context, timeout time.Duration) (bool, error) {
	resp, err := c.RoundTrip(ctx, wire.TypePing, nil, timeout)
	if err != nil {
		return false, err
	}
	var pong wire.PingResponse
	if err := wire.DecodePayload(c.codec, resp, &pong); err != nil {
		return false, err
	}
	return pong.OK, nil
}

// handleDisconnect reacts to an unexpected channel loss. Reconnection is
// exclusive: the first observer starts the loop, later ones return.
func (c *Conn) handleDisconnect(cause error) {
	c.mu.Lock()
	if c.closing || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.log.Info("connection lost: %v", cause)
	c.state = StateReconnecting
	c.reconnecting = true
	c.connected = make(chan struct{})
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	go c.reconnectLoop()
}

// reconnectLoop retries the dial with exponential backoff and jitter until
// it succeeds or the connection is torn down. No history is replayed on
// success; catch-up is the caller's job via explicit history fetches.
func (c *Conn) reconnectLoop() {
	backoff := resilience.NewBackoff(c.cfg.Backoff)
	for {
		c.mu.Lock()
		closing := c.closing
		connected := c.state == StateConnected
		c.mu.Unlock()
		if closing {
			return
		}
		if connected {
			// Someone re-established the connection manually while the loop
			// was in backoff; nothing left to do.
			return
		}

		delay := backoff.Next()
		c.log.Info("reconnection attempt %d in %s", backoff.Attempt(), delay)
		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}

		c.mu.Lock()
		connected = c.state == StateConnected
		c.mu.Unlock()
		if connected {
			return
		}

		dctx, cancel := context.WithTimeout(c.ctx, c.cfg.DialTimeout)
		err := c.dial(dctx)
		cancel()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			c.log.Warn("reconnection attempt %d failed: %v", backoff.Attempt(), err)
			continue
		}
		c.log.Info("reconnected after %d attempts", backoff.Attempt())
		return
	}
}

// Close tears the connection down. Terminal: a closed Conn cannot be
// reconnected.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.state = StateDisconnected
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "teardown"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		ws.Close()
	}
	return nil
}
