package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openclaw/gatelink/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestClient(t *testing.T, gw *fakeGateway, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{Conn: testConnConfig(gw)}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientHistoryBaselinesSession(t *testing.T) {
	gw := newFakeGateway(t)
	gw.setBaseline("s1", 42)
	client := dialTestClient(t, gw, nil)
	sub := client.Events(16, Block)

	history, err := client.RequestHistory(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), history.BaselineSeq)
	assert.Equal(t, SessionLive, client.SessionState("s1"))

	// The next contiguous live event is delivered.
	gw.pushChat("s1", 43, "hello")
	event := recvEvent(t, sub)
	assert.Equal(t, wire.EventChat, event.Type)
	assert.Equal(t, int64(43), event.Seq())
	assert.Equal(t, "hello", event.Session.Content)
}

func TestClientDropsEventsBeforeBaseline(t *testing.T) {
	gw := newFakeGateway(t)
	client := dialTestClient(t, gw, nil)
	sub := client.Events(16, Block)

	gw.pushChat("s1", 1, "too early")
	gw.pushTick()

	// Only the tick comes through; the unbaselined session event is dropped.
	event := recvEvent(t, sub)
	assert.Equal(t, wire.EventTick, event.Type)
	assert.Equal(t, SessionUnsynced, client.SessionState("s1"))
}

func TestClientGapThenResync(t *testing.T) {
	gw := newFakeGateway(t)
	gw.setBaseline("s1", 42)
	client := dialTestClient(t, gw, nil)
	sub := client.Events(16, Block)

	_, err := client.RequestHistory(context.Background(), "s1")
	require.NoError(t, err)

	gw.pushChat("s1", 43, "in order")
	event := recvEvent(t, sub)
	require.Equal(t, int64(43), event.Seq())

	// A skipped seq surfaces as exactly one gap and stalls the session.
	gw.pushAgent("s1", 45, "skipped ahead")
	gap := recvEvent(t, sub)
	require.Equal(t, wire.EventSeqGap, gap.Type)
	assert.Equal(t, int64(44), gap.Gap.Expected)
	assert.Equal(t, int64(45), gap.Gap.Got)
	assert.Equal(t, SessionStale, client.SessionState("s1"))

	// Events during Stale are dropped, not queued.
	gw.pushChat("s1", 46, "lost to the gap")
	gw.pushTick()
	event = recvEvent(t, sub)
	require.Equal(t, wire.EventTick, event.Type)

	// A fresh history fetch re-baselines and the stream resumes.
	gw.setBaseline("s1", 46)
	history, err := client.RequestHistory(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(46), history.BaselineSeq)
	assert.Equal(t, SessionLive, client.SessionState("s1"))

	gw.pushChat("s1", 47, "back in sync")
	event = recvEvent(t, sub)
	assert.Equal(t, int64(47), event.Seq())
}

func TestClientHistoryFailureLeavesSessionResyncable(t *testing.T) {
	gw := newFakeGateway(t)
	gw.setHandler(wire.TypeHistory, func(frame *wire.Frame) *wire.Frame {
		return gw.errFrame(frame, wire.ErrorCodeNotFound, "unknown session")
	})
	client := dialTestClient(t, gw, nil)

	_, err := client.RequestHistory(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, IsGatewayRejected(err))
	assert.Equal(t, SessionUnsynced, client.SessionState("s1"))
}

func TestClientHistoryRequiresSessionKey(t *testing.T) {
	gw := newFakeGateway(t)
	client := dialTestClient(t, gw, nil)

	_, err := client.RequestHistory(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))
}

func TestClientSendMessage(t *testing.T) {
	gw := newFakeGateway(t)
	client := dialTestClient(t, gw, nil)

	resp, err := client.SendMessage(context.Background(), wire.SendRequest{
		SessionKey: "s1",
		Message:    "do the thing",
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, int32(1), gw.sendCalls.Load())
}

func TestClientSendValidation(t *testing.T) {
	gw := newFakeGateway(t)
	client := dialTestClient(t, gw, nil)

	_, err := client.SendMessage(context.Background(), wire.SendRequest{Message: "no session"})
	assert.True(t, IsInvalidArgument(err))

	_, err = client.SendMessage(context.Background(), wire.SendRequest{SessionKey: "s1"})
	assert.True(t, IsInvalidArgument(err))

	// Attachment-only sends are legal.
	_, err = client.SendMessage(context.Background(), wire.SendRequest{
		SessionKey:  "s1",
		Attachments: []wire.Attachment{{Ref: "file:///tmp/shot.png"}},
	})
	assert.NoError(t, err)
}

func TestClientConcurrentDuplicateSendsCollapse(t *testing.T) {
	gw := newFakeGateway(t)
	gw.sendDelay = 100 * time.Millisecond
	client := dialTestClient(t, gw, nil)

	req := wire.SendRequest{
		SessionKey:     "s1",
		Message:        "double tap",
		IdempotencyKey: "k1",
	}

	const n = 3
	results := make([]*wire.SendResponse, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.SendMessage(context.Background(), req)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), gw.sendCalls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].RunID, results[i].RunID)
	}
}

func TestClientRetryAfterSendReplaysResult(t *testing.T) {
	gw := newFakeGateway(t)
	client := dialTestClient(t, gw, nil)

	req := wire.SendRequest{SessionKey: "s1", Message: "once", IdempotencyKey: "k1"}
	first, err := client.SendMessage(context.Background(), req)
	require.NoError(t, err)

	second, err := client.SendMessage(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, int32(1), gw.sendCalls.Load())
}

func TestClientSendTimeoutReleasesKey(t *testing.T) {
	gw := newFakeGateway(t)
	client := dialTestClient(t, gw, func(cfg *Config) {
		cfg.Conn.CallTimeout = 150 * time.Millisecond
	})
	gw.setHandler(wire.TypeSend, func(*wire.Frame) *wire.Frame { return nil })

	req := wire.SendRequest{SessionKey: "s1", Message: "maybe landed", IdempotencyKey: "k1"}
	_, err := client.SendMessage(context.Background(), req)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	// Same key, same request; the gateway answers this time.
	gw.clearHandler(wire.TypeSend)
	resp, err := client.SendMessage(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RunID)
}

func TestClientGeneratedKeysAreDistinct(t *testing.T) {
	gw := newFakeGateway(t)
	client := dialTestClient(t, gw, nil)

	// No caller key: each logical send is its own action.
	for i := 0; i < 2; i++ {
		_, err := client.SendMessage(context.Background(), wire.SendRequest{
			SessionKey: "s1",
			Message:    fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), gw.sendCalls.Load())
}

func TestClientAbortUnsupportedDeployment(t *testing.T) {
	gw := newFakeGateway(t)
	client := dialTestClient(t, gw, nil)

	err := client.AbortRun(context.Background(), "s1", "run-1")
	require.Error(t, err)
	assert.True(t, IsUnsupported(err))

	err = client.AbortRun(context.Background(), "", "")
	assert.True(t, IsInvalidArgument(err))
}

func TestClientAbortSupported(t *testing.T) {
	gw := newFakeGateway(t)
	gw.setHandler(wire.TypeAbort, func(frame *wire.Frame) *wire.Frame {
		return gw.okFrame(frame, struct{}{})
	})
	client := dialTestClient(t, gw, nil)

	assert.NoError(t, client.AbortRun(context.Background(), "s1", "run-1"))
}

func TestClientListSessions(t *testing.T) {
	gw := newFakeGateway(t)
	gw.setHandler(wire.TypeSessions, func(frame *wire.Frame) *wire.Frame {
		return gw.okFrame(frame, wire.SessionsResponse{Sessions: []wire.SessionInfo{
			{SessionKey: "s2", LastSeq: 90},
			{SessionKey: "s1", LastSeq: 12},
		}})
	})
	client := dialTestClient(t, gw, nil)

	sessions, err := client.ListSessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].SessionKey)
	assert.Equal(t, int64(90), sessions[0].LastSeq)
}

func TestClientActiveSessionKey(t *testing.T) {
	gw := newFakeGateway(t)
	client := dialTestClient(t, gw, nil)

	assert.Equal(t, "", client.ActiveSessionKey())
	client.SetActiveSessionKey("s1")
	assert.Equal(t, "s1", client.ActiveSessionKey())
	client.SetActiveSessionKey("s2")
	assert.Equal(t, "s2", client.ActiveSessionKey())
	client.SetActiveSessionKey("")
	assert.Equal(t, "", client.ActiveSessionKey())
}

func TestClientForgetSession(t *testing.T) {
	gw := newFakeGateway(t)
	gw.setBaseline("s1", 5)
	client := dialTestClient(t, gw, nil)

	_, err := client.RequestHistory(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, SessionLive, client.SessionState("s1"))

	client.ForgetSession("s1")
	assert.Equal(t, SessionUnsynced, client.SessionState("s1"))
}

func TestClientSurvivesReconnect(t *testing.T) {
	gw := newFakeGateway(t)
	gw.setBaseline("s1", 10)
	client := dialTestClient(t, gw, nil)
	sub := client.Events(16, Block)

	_, err := client.RequestHistory(context.Background(), "s1")
	require.NoError(t, err)

	gw.dropConn()
	require.Eventually(t, func() bool {
		return client.State() == StateConnected && gw.connects.Load() == 2
	}, 3*time.Second, 10*time.Millisecond)

	// Session state is untouched by the reconnect; the stream continues as
	// long as the gateway did not lose anything.
	assert.Equal(t, SessionLive, client.SessionState("s1"))
	gw.pushChat("s1", 11, "still here")
	event := recvEvent(t, sub)
	assert.Equal(t, int64(11), event.Seq())
}

func TestClientCloseClearsActiveSession(t *testing.T) {
	gw := newFakeGateway(t)
	client := dialTestClient(t, gw, nil)
	client.SetActiveSessionKey("s1")

	require.NoError(t, client.Close())
	require.NoError(t, client.Close()) // idempotent
	assert.Equal(t, "", client.ActiveSessionKey())

	_, err := client.SendMessage(context.Background(), wire.SendRequest{
		SessionKey: "s1", Message: "after close",
	})
	assert.ErrorIs(t, err, ErrClosed)
}
