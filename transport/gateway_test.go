package transport

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openclaw/gatelink/wire"
)

// gatewayHandler produces the response frame for one request, or nil to
// swallow the request (simulating a lost answer).
type gatewayHandler func(frame *wire.Frame) *wire.Frame

// fakeGateway is an in-process websocket gateway for exercising the
// transport end to end. It speaks the JSON codec.
type fakeGateway struct {
	t     *testing.T
	codec wire.Codec
	srv   *httptest.Server

	upgrader websocket.Upgrader

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	handlers  map[string]gatewayHandler
	baselines map[string]int64

	connects  atomic.Int32
	sendCalls atomic.Int32
	sendDelay time.Duration
}

func newFakeGateway(t *testing.T) *fakeGateway {
	g := &fakeGateway{
		t:         t,
		codec:     wire.JSON(),
		handlers:  make(map[string]gatewayHandler),
		baselines: make(map[string]int64),
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) setBaseline(sessionKey string, seq int64) {
	g.mu.Lock()
	g.baselines[sessionKey] = seq
	g.mu.Unlock()
}

func (g *fakeGateway) setHandler(frameType string, h gatewayHandler) {
	g.mu.Lock()
	g.handlers[frameType] = h
	g.mu.Unlock()
}

func (g *fakeGateway) clearHandler(frameType string) {
	g.mu.Lock()
	delete(g.handlers, frameType)
	g.mu.Unlock()
}

func (g *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	g.connects.Add(1)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wire.Frame
		if err := g.codec.Unmarshal(data, &frame); err != nil {
			continue
		}
		resp := g.respond(&frame)
		if resp == nil {
			continue
		}
		g.write(conn, resp, nil)
	}
}

func (g *fakeGateway) respond(frame *wire.Frame) *wire.Frame {
	g.mu.Lock()
	handler := g.handlers[frame.Type]
	g.mu.Unlock()
	if handler != nil {
		return handler(frame)
	}

	switch frame.Type {
	case wire.TypeConnect:
		return g.okFrame(frame, wire.ConnectResponse{ConnectionID: "fake-gw"})
	case wire.TypePing:
		return g.okFrame(frame, wire.PingResponse{OK: true})
	case wire.TypeHistory:
		var req wire.HistoryRequest
		_ = wire.DecodePayload(g.codec, frame, &req)
		g.mu.Lock()
		baseline := g.baselines[req.SessionKey]
		g.mu.Unlock()
		return g.okFrame(frame, wire.HistoryResponse{
			SessionKey:  req.SessionKey,
			BaselineSeq: baseline,
		})
	case wire.TypeSend:
		if g.sendDelay > 0 {
			time.Sleep(g.sendDelay)
		}
		n := g.sendCalls.Add(1)
		return g.okFrame(frame, wire.SendResponse{RunID: fmt.Sprintf("run-%d", n), AcceptedSeq: 0})
	case wire.TypeActive:
		return g.okFrame(frame, struct{}{})
	case wire.TypeAbort, wire.TypeSessions:
		return g.errFrame(frame, wire.ErrorCodeUnsupported, "not implemented in this deployment")
	}
	return g.errFrame(frame, wire.ErrorCodeInvalidArgument, "unknown frame type")
}

func (g *fakeGateway) okFrame(req *wire.Frame, payload any) *wire.Frame {
	buf, err := g.codec.Marshal(payload)
	if err != nil {
		g.t.Fatalf("marshal payload: %v", err)
	}
	return &wire.Frame{
		ID:        req.ID,
		Kind:      wire.KindResponse,
		Type:      req.Type,
		OK:        true,
		Payload:   buf,
		Timestamp: time.Now(),
	}
}

func (g *fakeGateway) errFrame(req *wire.Frame, code, msg string) *wire.Frame {
	return &wire.Frame{
		ID:        req.ID,
		Kind:      wire.KindResponse,
		Type:      req.Type,
		ErrorCode: code,
		Error:     msg,
		Timestamp: time.Now(),
	}
}

func (g *fakeGateway) write(conn *websocket.Conn, frame *wire.Frame, payload any) {
	var buf []byte
	var err error
	if payload != nil {
		buf, err = wire.EncodeFrame(g.codec, *frame, payload)
	} else {
		buf, err = g.codec.Marshal(frame)
	}
	if err != nil {
		g.t.Errorf("encode frame: %v", err)
		return
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, buf)
}

// push delivers an event frame on the current connection.
func (g *fakeGateway) push(frameType string, payload any) {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		g.t.Fatalf("push %s: no active connection", frameType)
	}
	g.write(conn, &wire.Frame{
		ID:        fmt.Sprintf("evt-%d", time.Now().UnixNano()),
		Kind:      wire.KindEvent,
		Type:      frameType,
		Timestamp: time.Now(),
	}, payload)
}

func (g *fakeGateway) pushChat(sessionKey string, seq int64, content string) {
	g.push(wire.TypeChat, wire.SessionEvent{SessionKey: sessionKey, Seq: seq, Role: "user", Content: content, At: time.Now()})
}

func (g *fakeGateway) pushAgent(sessionKey string, seq int64, content string) {
	g.push(wire.TypeAgent, wire.SessionEvent{SessionKey: sessionKey, Seq: seq, Role: "agent", Content: content, At: time.Now()})
}

func (g *fakeGateway) pushTick() {
	g.push(wire.TypeTick, struct{}{})
}

func (g *fakeGateway) pushHealth(ok bool) {
	g.push(wire.TypeHealth, wire.HealthEvent{OK: ok})
}

// dropConn severs the current connection server-side.
func (g *fakeGateway) dropConn() {
	g.mu.Lock()
	conn := g.conn
	g.conn = nil
	g.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
