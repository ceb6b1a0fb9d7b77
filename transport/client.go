package transport

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/openclaw/gatelink/cache"
	"github.com/openclaw/gatelink/logger"
	"github.com/openclaw/gatelink/wire"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Transport is the capability contract a gateway client exposes. AbortRun
// and ListSessions are optional capabilities: deployments without them fail
// with ErrUnsupported rather than silently no-opping, and implementations
// may embed UnsupportedTransport to get those defaults.
type Transport interface {
	// RequestHistory fetches a session's prior records and re-baselines its
	// sequence tracking as a side effect.
	RequestHistory(ctx context.Context, sessionKey string) (*wire.HistoryResponse, error)

	// SendMessage submits a message through the idempotency registry.
	SendMessage(ctx context.Context, req wire.SendRequest) (*wire.SendResponse, error)

	// AbortRun signals best-effort cancellation of an in-progress run.
	AbortRun(ctx context.Context, sessionKey, runID string) error

	// ListSessions lists known sessions, newest first. limit <= 0 means the
	// gateway's default page.
	ListSessions(ctx context.Context, limit int) ([]wire.SessionInfo, error)

	// RequestHealth probes the gateway. false means the gateway said it is
	// unhealthy; an error means no answer arrived.
	RequestHealth(ctx context.Context, timeout time.Duration) (bool, error)

	// Events subscribes to the process-wide ordered event feed.
	Events(buffer int, policy SubscribePolicy) *Subscription

	// SetActiveSessionKey advertises which session should be pushed with
	// full fidelity. Advisory; "" clears the selection.
	SetActiveSessionKey(sessionKey string)

	// Close tears the transport down.
	Close() error
}

// UnsupportedTransport supplies the default behavior for the optional
// capabilities. Embed it in gateway implementations that lack them.
type UnsupportedTransport struct{}

func (UnsupportedTransport) AbortRun(context.Context, string, string) error {
	return ErrUnsupported
}

func (UnsupportedTransport) ListSessions(context.Context, int) ([]wire.SessionInfo, error) {
	return nil, ErrUnsupported
}

func (UnsupportedTransport) SetActiveSessionKey(string) {}

// Config configures a Client.
type Config struct {
	Conn ConnConfig

	// IdempotencyStore retains completed submission results. Defaults to an
	// in-memory TTL store owned (and closed) by the Client; pass a Redis
	// store to share the window across companion processes.
	IdempotencyStore cache.Cache

	// IdempotencyRetention is the completed-key window. Defaults to
	// DefaultRetention.
	IdempotencyRetention time.Duration

	// Tracer records spans around facade round trips. Defaults to a no-op.
	Tracer trace.Tracer
}

// Client is the Transport implementation over one gateway connection.
type Client struct {
	log      logger.Logger
	conn     *Conn
	demux    *Demux
	registry *Registry
	tracer   trace.Tracer

	ctx      context.Context
	cancel   context.CancelFunc
	store    cache.Cache
	ownStore bool

	activeMu  sync.Mutex
	activeKey string

	closeOnce sync.Once
}

var _ Transport = (*Client)(nil)

// Dial builds a Client and establishes its connection.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	conn, err := NewConn(ctx, cfg.Conn)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithCancel(ctx)
	log := conn.cfg.Logger

	store := cfg.IdempotencyStore
	ownStore := false
	if store == nil {
		retention := cfg.IdempotencyRetention
		if retention <= 0 {
			retention = DefaultRetention
		}
		store = cache.NewInMemory(cctx, cache.WithTTL(retention))
		ownStore = true
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("gatelink")
	}

	c := &Client{
		log:      log,
		conn:     conn,
		demux:    NewDemux(log, conn.codec),
		registry: NewRegistry(store, cfg.IdempotencyRetention, log),
		tracer:   tracer,
		ctx:      cctx,
		cancel:   cancel,
		store:    store,
		ownStore: ownStore,
	}
	go c.demux.Run(cctx, conn.Events())

	if err := conn.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// State returns the connection state.
func (c *Client) State() ConnState {
	return c.conn.State()
}

// SessionState returns the synchronization state of a session.
func (c *Client) SessionState(sessionKey string) SessionState {
	return c.demux.SessionState(sessionKey)
}

// ForgetSession discards client-side interest in a session. No server-side
// deletion is implied.
func (c *Client) ForgetSession(sessionKey string) {
	c.demux.Forget(sessionKey)
}

func (c *Client) RequestHistory(ctx context.Context, sessionKey string) (*wire.HistoryResponse, error) {
	if sessionKey == "" {
		return nil, errors.Mark(errors.New("session key is required"), ErrInvalidArgument)
	}
	ctx, span := c.tracer.Start(ctx, "gatelink.RequestHistory",
		trace.WithAttributes(attribute.String("session.key", sessionKey)))
	defer span.End()

	c.demux.MarkSyncing(sessionKey)
	resp, err := c.conn.RoundTrip(ctx, wire.TypeHistory, wire.HistoryRequest{SessionKey: sessionKey}, 0)
	if err != nil {
		c.demux.SyncFailed(sessionKey)
		return nil, err
	}
	var history wire.HistoryResponse
	if err := wire.DecodePayload(c.conn.codec, resp, &history); err != nil {
		c.demux.SyncFailed(sessionKey)
		return nil, err
	}
	c.demux.Baseline(sessionKey, history.BaselineSeq)
	c.log.Debug("session %s baselined at seq %d (%d records)",
		sessionKey, history.BaselineSeq, len(history.Records))
	return &history, nil
}

func (c *Client) SendMessage(ctx context.Context, req wire.SendRequest) (*wire.SendResponse, error) {
	if req.SessionKey == "" {
		return nil, errors.Mark(errors.New("session key is required"), ErrInvalidArgument)
	}
	if req.Message == "" && len(req.Attachments) == 0 {
		return nil, errors.Mark(errors.New("message and attachments are both empty"), ErrInvalidArgument)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = wire.NewIdempotencyKey()
	}
	ctx, span := c.tracer.Start(ctx, "gatelink.SendMessage",
		trace.WithAttributes(
			attribute.String("session.key", req.SessionKey),
			attribute.String("idempotency.key", req.IdempotencyKey),
		))
	defer span.End()

	return c.registry.Submit(ctx, req.SessionKey, req.IdempotencyKey,
		func(ctx context.Context) (*wire.SendResponse, error) {
			resp, err := c.conn.RoundTrip(ctx, wire.TypeSend, req, 0)
			if err != nil {
				return nil, err
			}
			var send wire.SendResponse
			if err := wire.DecodePayload(c.conn.codec, resp, &send); err != nil {
				return nil, err
			}
			return &send, nil
		})
}

func (c *Client) AbortRun(ctx context.Context, sessionKey, runID string) error {
	if sessionKey == "" || runID == "" {
		return errors.Mark(errors.New("session key and run id are required"), ErrInvalidArgument)
	}
	ctx, span := c.tracer.Start(ctx, "gatelink.AbortRun",
		trace.WithAttributes(
			attribute.String("session.key", sessionKey),
			attribute.String("run.id", runID),
		))
	defer span.End()

	_, err := c.conn.RoundTrip(ctx, wire.TypeAbort, wire.AbortRequest{SessionKey: sessionKey, RunID: runID}, 0)
	return err
}

func (c *Client) ListSessions(ctx context.Context, limit int) ([]wire.SessionInfo, error) {
	ctx, span := c.tracer.Start(ctx, "gatelink.ListSessions")
	defer span.End()

	resp, err := c.conn.RoundTrip(ctx, wire.TypeSessions, wire.SessionsRequest{Limit: limit}, 0)
	if err != nil {
		return nil, err
	}
	var sessions wire.SessionsResponse
	if err := wire.DecodePayload(c.conn.codec, resp, &sessions); err != nil {
		return nil, err
	}
	return sessions.Sessions, nil
}

func (c *Client) RequestHealth(ctx context.Context, timeout time.Duration) (bool, error) {
	return c.conn.RequestHealth(ctx, timeout)
}

func (c *Client) Events(buffer int, policy SubscribePolicy) *Subscription {
	return c.demux.Subscribe(buffer, policy)
}

// SetActiveSessionKey records the process-wide active session and notifies
// the gateway best-effort. At most one session is active at a time; the
// selection is cleared on Close.
func (c *Client) SetActiveSessionKey(sessionKey string) {
	c.activeMu.Lock()
	c.activeKey = sessionKey
	c.activeMu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.conn.cfg.CallTimeout)
		defer cancel()
		_, err := c.conn.RoundTrip(ctx, wire.TypeActive, wire.ActiveSessionRequest{SessionKey: sessionKey}, 0)
		if err != nil && !IsUnsupported(err) && !errors.Is(err, ErrClosed) {
			c.log.Debug("active session notify failed: %v", err)
		}
	}()
}

// ActiveSessionKey returns the current selection, or "" when none is set.
func (c *Client) ActiveSessionKey() string {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	return c.activeKey
}

// Close tears the transport down: clears the active session, stops the
// demultiplexer and closes the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.activeMu.Lock()
		c.activeKey = ""
		c.activeMu.Unlock()

		c.conn.Close()
		c.cancel()
		if c.ownStore {
			c.store.Close()
		}
	})
	return nil
}
