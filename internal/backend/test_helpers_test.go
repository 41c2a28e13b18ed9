package backend

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-sync/internal/api"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testBackend struct {
	srv  *Server
	http *httptest.Server
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	cfg := config.Default().Backend
	cfg.JWTSecret = "test-secret"
	srv := NewServer(cfg, NewState(), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testBackend{srv: srv, http: ts}
}

func (b *testBackend) apiURL() string {
	return b.http.URL + "/api"
}

func (b *testBackend) wsURL() string {
	return strings.Replace(b.http.URL, "http", "ws", 1) + "/ws"
}

// signUp creates a user and returns a client authenticated as them.
func (b *testBackend) signUp(t *testing.T, email string) (*api.Client, store.UserIdentity, string) {
	t.Helper()
	user, err := b.srv.State().CreateUser(email, "secret1", strings.Split(email, "@")[0], "")
	require.NoError(t, err)

	anon := api.NewClient(nil, b.apiURL(), nil, nil)
	resp, err := anon.Login(context.Background(), email, "secret1")
	require.NoError(t, err)
	require.Equal(t, user.ID, resp.User.ID)

	token := resp.Token
	return api.NewClient(nil, b.apiURL(), func() string { return token }, nil), user, token
}

func (b *testBackend) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, b.wsURL()+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// waitPeers blocks until userID has n live realtime connections.
func (b *testBackend) waitPeers(t *testing.T, userID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.srv.Peers().Connected(userID) == n }, 2*time.Second, 5*time.Millisecond)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) proto.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var env proto.Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	env, err := proto.NewEnvelope(event, data)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, env))
}

func readInto(ctx context.Context, conn *websocket.Conn, v any) error {
	return wsjson.Read(ctx, conn, v)
}
