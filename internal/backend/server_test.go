package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-sync/internal/api"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

func TestLoginValidateLogout(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	client, user, token := b.signUp(t, "alice@example.com")

	anon := api.NewClient(nil, b.apiURL(), nil, nil)
	_, err := anon.Login(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, api.ErrUnauthorized)

	require.NoError(t, client.ValidateToken(ctx, token))
	me, err := client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, user, *me)

	require.NoError(t, client.Logout(ctx))
	assert.ErrorIs(t, client.ValidateToken(ctx, token), api.ErrUnauthorized)
	assert.ErrorIs(t, anon.ValidateToken(ctx, "not-a-jwt"), api.ErrUnauthorized)
}

func TestPresenceAndUnread(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	client, user, _ := b.signUp(t, "alice@example.com")

	require.NoError(t, client.SetOnline(ctx, true))
	assert.True(t, b.srv.State().Online(user.ID))
	require.NoError(t, client.SetOnline(ctx, false))
	assert.False(t, b.srv.State().Online(user.ID))

	b.srv.State().SetUnread(user.ID, "c1", 3)
	b.srv.State().SetUnread(user.ID, "c2", 2)
	unread, err := client.UnreadCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, unread.Total())

	require.NoError(t, client.MarkConversationRead(ctx, "c1"))
	unread, err = client.UnreadCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, unread.Total())

	assert.ErrorIs(t, client.MarkConversationRead(ctx, "missing"), api.ErrNotFound)
}

func TestFriendRequestFlow(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	alice, aliceUser, aliceToken := b.signUp(t, "alice@example.com")
	_, bobUser, bobToken := b.signUp(t, "bob@example.com")

	aliceConn := b.dial(t, aliceToken)
	bobConn := b.dial(t, bobToken)
	b.waitPeers(t, aliceUser.ID, 1)
	b.waitPeers(t, bobUser.ID, 1)

	_, err := alice.SendFriendRequest(ctx, aliceUser.ID)
	assert.Error(t, err)

	req, err := alice.SendFriendRequest(ctx, bobUser.ID)
	require.NoError(t, err)
	assert.Equal(t, store.FriendRequestPending, req.Status)
	assert.Equal(t, aliceUser.ID, req.SenderID)

	_, err = alice.SendFriendRequest(ctx, bobUser.ID)
	assert.ErrorIs(t, err, api.ErrConflict)

	_, err = alice.SendFriendRequest(ctx, "not-an-id")
	var se *api.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)

	env := readEnvelope(t, bobConn)
	require.Equal(t, proto.EventFriendRequest, env.Event)
	var data proto.FriendRequestData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, req.ID, data.ID)
	assert.Equal(t, aliceUser.ID, data.Sender.ID)
	assert.Equal(t, "alice", data.Sender.Username)
	assert.Empty(t, data.ReceiverID)

	// The announcement command after the REST call does not push twice.
	writeEnvelope(t, aliceConn, proto.CommandFriendRequestSend, proto.SendRequestData{RequestID: req.ID, ReceiverID: bobUser.ID})

	writeEnvelope(t, bobConn, proto.CommandFriendRequestReject, proto.RequestIDData{RequestID: "r1"})
	env = readEnvelope(t, bobConn)
	assert.Equal(t, proto.EventError, env.Event)

	// Alice cannot accept her own request.
	writeEnvelope(t, aliceConn, proto.CommandFriendRequestAccept, proto.RequestIDData{RequestID: req.ID})
	env = readEnvelope(t, aliceConn)
	assert.Equal(t, proto.EventError, env.Event)

	writeEnvelope(t, bobConn, proto.CommandFriendRequestAccept, proto.RequestIDData{RequestID: req.ID})
	env = readEnvelope(t, aliceConn)
	require.Equal(t, proto.EventFriendRequestAccepted, env.Event)
	assert.JSONEq(t, `{"requestId":"`+req.ID+`"}`, string(env.Data))

	list, err := alice.ListFriendRequests(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, store.FriendRequestAccepted, list[0].Status)
}

func TestWSHandshakeRejectsBadToken(t *testing.T) {
	b := newTestBackend(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, b.wsURL()+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWSMessageAuthentication(t *testing.T) {
	b := newTestBackend(t)
	_, user, token := b.signUp(t, "alice@example.com")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, b.wsURL(), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	writeEnvelope(t, conn, proto.CommandAuthenticate, proto.AuthenticateData{Token: token})
	env := readEnvelope(t, conn)
	require.Equal(t, proto.EventAuthenticated, env.Event)
	assert.JSONEq(t, `{"userId":"`+user.ID+`"}`, string(env.Data))
	b.waitPeers(t, user.ID, 1)

	bad, _, err := websocket.Dial(ctx, b.wsURL(), nil)
	require.NoError(t, err)
	defer bad.CloseNow()
	writeEnvelope(t, bad, proto.CommandAuthenticate, proto.AuthenticateData{Token: "nope"})
	env = readEnvelope(t, bad)
	assert.Equal(t, proto.EventError, env.Event)

	var rerr error
	var tmp proto.Envelope
	for rerr == nil {
		rerr = readInto(ctx, bad, &tmp)
	}
	assert.Equal(t, websocket.StatusCode(proto.CloseCodeUnauthorized), websocket.CloseStatus(rerr))
}

func TestLogoutClosesRealtimeWithUnauthorized(t *testing.T) {
	b := newTestBackend(t)
	client, user, token := b.signUp(t, "alice@example.com")
	conn := b.dial(t, token)
	b.waitPeers(t, user.ID, 1)

	require.NoError(t, client.Logout(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var env proto.Envelope
	err := readInto(ctx, conn, &env)
	assert.Equal(t, websocket.StatusCode(proto.CloseCodeUnauthorized), websocket.CloseStatus(err))
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	now = now.Add(time.Minute)
	assert.True(t, rl.allow())

	var disabled *rateLimiter
	assert.True(t, disabled.allow())
	assert.True(t, newRateLimiter(0).allow())
}
