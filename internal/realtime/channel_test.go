package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

type recorder struct {
	events chan *core.Event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan *core.Event, 128)}
}

func (r *recorder) Publish(_ context.Context, ev *core.Event) error {
	r.events <- ev
	return nil
}

func (r *recorder) waitState(t *testing.T, want core.ConnectionState) *core.ConnectionChange {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-r.events:
			if ev.Kind == core.EventConnectionState && ev.Connection.To == want {
				return ev.Connection
			}
		case <-deadline:
			t.Fatalf("state %s not reached", want)
			return nil
		}
	}
}

func (r *recorder) waitKind(t *testing.T, kind core.EventKind) *core.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-r.events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("event %s not received", kind)
			return nil
		}
	}
}

// wsServer is a scripted realtime backend.
type wsServer struct {
	*httptest.Server
	dials    atomic.Int32
	validTok string
	handle   func(ctx context.Context, conn *websocket.Conn, n int32)

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newWSServer(t *testing.T, validToken string, handle func(ctx context.Context, conn *websocket.Conn, n int32)) *wsServer {
	t.Helper()
	s := &wsServer{validTok: validToken, handle: handle}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.dials.Add(1)
		if s.validTok != "" && r.URL.Query().Get(proto.TokenQueryParam) != s.validTok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+r.URL.Query().Get(proto.TokenQueryParam) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		defer conn.CloseNow()
		if s.handle != nil {
			s.handle(r.Context(), conn, n)
			return
		}
		holdOpen(r.Context(), conn)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return strings.Replace(s.URL, "http", "ws", 1) + "/ws"
}

func holdOpen(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func testOptions(url string) Options {
	return Options{
		URL:               url,
		Handshake:         config.HandshakeToken,
		Reconnection:      true,
		ReconnectAttempts: 5,
		ReconnectDelay:    10 * time.Millisecond,
		ReconnectDelayMax: 40 * time.Millisecond,
	}
}

func TestConnectAndReceiveFriendEvents(t *testing.T) {
	srv := newWSServer(t, "tok1", func(ctx context.Context, conn *websocket.Conn, _ int32) {
		_ = wsjson.Write(ctx, conn, proto.Envelope{Event: "presence:ping"})
		env, _ := proto.NewEnvelope(proto.EventFriendRequest, proto.FriendRequestData{
			ID:         "r1",
			Sender:     proto.SenderData{ID: "u2", Name: "Bob"},
			ReceiverID: "u1",
		})
		_ = wsjson.Write(ctx, conn, env)
		_ = wsjson.Write(ctx, conn, proto.Envelope{Event: proto.EventFriendRequestAccepted, Data: []byte(`{"nope":1}`)})
		env, _ = proto.NewEnvelope(proto.EventFriendRequestCancelled, proto.RequestIDData{RequestID: "r1"})
		_ = wsjson.Write(ctx, conn, env)
		holdOpen(ctx, conn)
	})

	rec := newRecorder()
	ch := New(testOptions(srv.wsURL()), rec, nil)
	defer ch.Disconnect()

	require.NoError(t, ch.Initialize(context.Background(), "tok1"))
	rec.waitState(t, core.ConnConnecting)
	change := rec.waitState(t, core.ConnConnected)
	assert.False(t, change.Reconnected)

	ev := rec.waitKind(t, core.EventFriendRequest)
	assert.Equal(t, "r1", ev.FriendRequest.ID)
	assert.Equal(t, "u2", ev.FriendRequest.SenderID)
	assert.Equal(t, "Bob", ev.FriendRequest.Sender.Name)
	assert.Equal(t, "pending", string(ev.FriendRequest.Status))

	ev = rec.waitKind(t, core.EventFriendRequestCancelled)
	assert.Equal(t, "r1", ev.RequestID)
	assert.Equal(t, core.ConnConnected, ch.State())
}

func TestHandshakeRejectionIsTerminal(t *testing.T) {
	srv := newWSServer(t, "good", nil)
	rec := newRecorder()
	ch := New(testOptions(srv.wsURL()), rec, nil)
	defer ch.Disconnect()

	require.NoError(t, ch.Initialize(context.Background(), "bad"))
	rec.waitState(t, core.ConnAuthFailed)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), srv.dials.Load(), "no retry after auth failure")
	assert.Equal(t, core.ConnAuthFailed, ch.State())
}

func TestCloseCodeUnauthorizedIsAuthFailure(t *testing.T) {
	srv := newWSServer(t, "", func(ctx context.Context, conn *websocket.Conn, _ int32) {
		_ = conn.Close(proto.CloseCodeUnauthorized, "token revoked")
	})
	rec := newRecorder()
	ch := New(testOptions(srv.wsURL()), rec, nil)
	defer ch.Disconnect()

	require.NoError(t, ch.Initialize(context.Background(), "tok"))
	rec.waitState(t, core.ConnConnected)
	rec.waitState(t, core.ConnAuthFailed)
	assert.Equal(t, int32(1), srv.dials.Load())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	srv := newWSServer(t, "tok", nil)
	rec := newRecorder()
	ch := New(testOptions(srv.wsURL()), rec, nil)

	ch.Disconnect()
	assert.Equal(t, core.ConnDisconnected, ch.State())

	require.NoError(t, ch.Initialize(context.Background(), "tok"))
	rec.waitState(t, core.ConnConnected)

	ch.Disconnect()
	first := ch.State()
	ch.Disconnect()
	assert.Equal(t, first, ch.State())
	assert.Equal(t, core.ConnDisconnected, ch.State())
}

func TestSendWhenNotConnectedIsDropped(t *testing.T) {
	ch := New(testOptions("ws://127.0.0.1:1/ws"), nil, nil)
	err := ch.Send(context.Background(), core.Command{Kind: core.CommandAcceptFriendRequest, RequestID: "r1"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendWritesCommand(t *testing.T) {
	received := make(chan proto.Envelope, 4)
	srv := newWSServer(t, "tok", func(ctx context.Context, conn *websocket.Conn, _ int32) {
		for {
			var env proto.Envelope
			if err := wsjson.Read(ctx, conn, &env); err != nil {
				return
			}
			received <- env
		}
	})
	rec := newRecorder()
	ch := New(testOptions(srv.wsURL()), rec, nil)
	defer ch.Disconnect()

	require.NoError(t, ch.Initialize(context.Background(), "tok"))
	rec.waitState(t, core.ConnConnected)

	require.NoError(t, ch.Send(context.Background(), core.Command{Kind: core.CommandSendFriendRequest, RequestID: "r1", ReceiverID: "u3"}))
	require.NoError(t, ch.Send(context.Background(), core.Command{Kind: core.CommandRejectFriendRequest, RequestID: "r2"}))

	env := <-received
	assert.Equal(t, proto.CommandFriendRequestSend, env.Event)
	assert.JSONEq(t, `{"requestId":"r1","receiverId":"u3"}`, string(env.Data))
	env = <-received
	assert.Equal(t, proto.CommandFriendRequestReject, env.Event)
	assert.JSONEq(t, `{"requestId":"r2"}`, string(env.Data))

	assert.Error(t, ch.Send(context.Background(), core.Command{Kind: core.CommandAcceptFriendRequest}))
}

func TestReconnectsAfterDrop(t *testing.T) {
	srv := newWSServer(t, "tok", func(ctx context.Context, conn *websocket.Conn, n int32) {
		if n == 1 {
			_ = conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		holdOpen(ctx, conn)
	})
	rec := newRecorder()
	ch := New(testOptions(srv.wsURL()), rec, nil)
	defer ch.Disconnect()

	require.NoError(t, ch.Initialize(context.Background(), "tok"))
	first := rec.waitState(t, core.ConnConnected)
	assert.False(t, first.Reconnected)

	rec.waitState(t, core.ConnDisconnected)
	second := rec.waitState(t, core.ConnConnected)
	assert.True(t, second.Reconnected)
	assert.Equal(t, int32(2), srv.dials.Load())
}

func TestReconnectionIsBounded(t *testing.T) {
	srv := newWSServer(t, "tok", nil)
	url := srv.wsURL()
	srv.Close()

	opts := testOptions(url)
	opts.ReconnectAttempts = 2
	rec := newRecorder()
	ch := New(opts, rec, nil)
	defer ch.Disconnect()

	require.NoError(t, ch.Initialize(context.Background(), "tok"))

	require.Eventually(t, func() bool {
		ch.lifeMu.Lock()
		done := ch.done
		ch.lifeMu.Unlock()
		if done == nil {
			return false
		}
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, core.ConnDisconnected, ch.State())
}

func TestInitializeReplacesExistingChannel(t *testing.T) {
	closed := make(chan int32, 2)
	srv := newWSServer(t, "", func(ctx context.Context, conn *websocket.Conn, n int32) {
		holdOpen(ctx, conn)
		closed <- n
	})
	rec := newRecorder()
	ch := New(testOptions(srv.wsURL()), rec, nil)
	defer ch.Disconnect()

	require.NoError(t, ch.Initialize(context.Background(), "tok1"))
	rec.waitState(t, core.ConnConnected)

	require.NoError(t, ch.Initialize(context.Background(), "tok2"))

	select {
	case n := <-closed:
		assert.Equal(t, int32(1), n, "first connection must be closed")
	case <-time.After(3 * time.Second):
		t.Fatal("first connection was not torn down")
	}
	rec.waitState(t, core.ConnConnected)
	assert.Equal(t, int32(2), srv.dials.Load())
}

func TestMessageHandshake(t *testing.T) {
	srv := newWSServer(t, "", func(ctx context.Context, conn *websocket.Conn, _ int32) {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil || env.Event != proto.CommandAuthenticate {
			return
		}
		if string(env.Data) != `{"token":"tok"}` {
			reply, _ := proto.NewEnvelope(proto.EventError, proto.Error{Code: proto.ErrCodeUnauthorized, Msg: "bad token"})
			_ = wsjson.Write(ctx, conn, reply)
			holdOpen(ctx, conn)
			return
		}
		_ = wsjson.Write(ctx, conn, proto.Envelope{Event: proto.EventAuthenticated})
		holdOpen(ctx, conn)
	})

	opts := testOptions(srv.wsURL())
	opts.Handshake = config.HandshakeMessage

	rec := newRecorder()
	ok := New(opts, rec, nil)
	require.NoError(t, ok.Initialize(context.Background(), "tok"))
	rec.waitState(t, core.ConnConnected)
	ok.Disconnect()

	rec2 := newRecorder()
	bad := New(opts, rec2, nil)
	defer bad.Disconnect()
	require.NoError(t, bad.Initialize(context.Background(), "other"))
	rec2.waitState(t, core.ConnAuthFailed)
}

func TestBackoff(t *testing.T) {
	ch := New(Options{URL: "ws://x", ReconnectDelay: time.Second, ReconnectDelayMax: 5 * time.Second}, nil, nil)
	assert.Equal(t, time.Second, ch.backoff(1))
	assert.Equal(t, 2*time.Second, ch.backoff(2))
	assert.Equal(t, 4*time.Second, ch.backoff(3))
	assert.Equal(t, 5*time.Second, ch.backoff(4))
	assert.Equal(t, 5*time.Second, ch.backoff(9))
}
