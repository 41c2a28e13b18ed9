package friends

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/reconciler"
	"github.com/vovakirdan/wirechat-sync/internal/session"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

type fakeBackend struct {
	err  error
	next *store.FriendRequest
}

func (b *fakeBackend) SendFriendRequest(_ context.Context, receiverID string) (*store.FriendRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	req := *b.next
	return &req, nil
}

type fakeCommander struct {
	err  error
	sent []core.Command
}

func (c *fakeCommander) Send(_ context.Context, cmd core.Command) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, cmd)
	return nil
}

type fixture struct {
	svc      *Service
	backend  *fakeBackend
	commands *fakeCommander
	requests *reconciler.Reconciler
}

func newFixture(t *testing.T, userID string) *fixture {
	t.Helper()
	sessions := session.NewManager(nil, nil)
	if userID != "" {
		require.NoError(t, sessions.Login(context.Background(), "tok", store.UserIdentity{ID: userID}))
	}
	f := &fixture{
		backend:  &fakeBackend{},
		commands: &fakeCommander{},
		requests: reconciler.New(nil, nil, nil),
	}
	f.requests.UseSession(sessions)
	f.svc = New(f.backend, f.commands, f.requests, sessions, nil)
	return f
}

func pending(id, sender, receiver string) store.FriendRequest {
	return store.FriendRequest{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Status:     store.FriendRequestPending,
		CreatedAt:  time.Now(),
	}
}

func TestSendRequest(t *testing.T) {
	f := newFixture(t, "u1")
	f.backend.next = &store.FriendRequest{ID: "r1"}

	req, err := f.svc.SendRequest(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, "u1", req.SenderID)
	assert.Equal(t, "u2", req.ReceiverID)

	local, ok := f.requests.FriendRequest("r1")
	require.True(t, ok)
	assert.Equal(t, store.FriendRequestPending, local.Status)
	assert.Equal(t, []core.Command{{Kind: core.CommandSendFriendRequest, RequestID: "r1", ReceiverID: "u2"}}, f.commands.sent)
}

func TestSendRequestValidation(t *testing.T) {
	f := newFixture(t, "u1")
	_, err := f.svc.SendRequest(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrCannotFriendSelf)
	_, err = f.svc.SendRequest(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyReceiver)

	f.backend.err = errors.New("conflict")
	_, err = f.svc.SendRequest(context.Background(), "u2")
	assert.Error(t, err)
	assert.Empty(t, f.requests.FriendRequests())

	signedOut := newFixture(t, "")
	_, err = signedOut.svc.SendRequest(context.Background(), "u2")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSendRequestSurvivesOfflineChannel(t *testing.T) {
	f := newFixture(t, "u1")
	f.backend.next = &store.FriendRequest{ID: "r1", SenderID: "u1", ReceiverID: "u2"}
	f.commands.err = realtime.ErrNotConnected

	_, err := f.svc.SendRequest(context.Background(), "u2")
	require.NoError(t, err)
	_, ok := f.requests.FriendRequest("r1")
	assert.True(t, ok)
}

func TestAcceptAndReject(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()
	f.requests.Add(ctx, pending("r1", "u2", "u1"))
	f.requests.Add(ctx, pending("r2", "u3", "u1"))

	require.NoError(t, f.svc.AcceptRequest(ctx, "r1"))
	require.NoError(t, f.svc.RejectRequest(ctx, "r2"))

	r1, _ := f.requests.FriendRequest("r1")
	r2, _ := f.requests.FriendRequest("r2")
	assert.Equal(t, store.FriendRequestAccepted, r1.Status)
	assert.Equal(t, store.FriendRequestRejected, r2.Status)

	assert.ErrorIs(t, f.svc.RejectRequest(ctx, "r1"), ErrRequestNotFound, "terminal request")
	assert.ErrorIs(t, f.svc.AcceptRequest(ctx, "missing"), ErrRequestNotFound)
	assert.Len(t, f.commands.sent, 2)
}

func TestAcceptRequestAnnouncedWithoutReceiver(t *testing.T) {
	f := newFixture(t, "u1")
	hub := core.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	defer f.requests.Attach(hub)()

	announced := &store.FriendRequest{
		ID:       "r1",
		SenderID: "u2",
		Status:   store.FriendRequestPending,
		Sender:   store.FriendRequestSender{ID: "u2", Name: "Bob"},
	}
	require.NoError(t, hub.Publish(ctx, &core.Event{Kind: core.EventFriendRequest, FriendRequest: announced}))
	require.Eventually(t, func() bool {
		_, ok := f.requests.FriendRequest("r1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.svc.AcceptRequest(ctx, "r1"))
	r1, _ := f.requests.FriendRequest("r1")
	assert.Equal(t, "u1", r1.ReceiverID)
	assert.Equal(t, store.FriendRequestAccepted, r1.Status)
	assert.Equal(t, []core.Command{{Kind: core.CommandAcceptFriendRequest, RequestID: "r1"}}, f.commands.sent)
}

func TestOnlyPartiesMayRespond(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()
	f.requests.Add(ctx, pending("out", "u1", "u2"))
	f.requests.Add(ctx, pending("in", "u2", "u1"))

	assert.ErrorIs(t, f.svc.AcceptRequest(ctx, "out"), ErrRequestNotFound)
	assert.ErrorIs(t, f.svc.CancelRequest(ctx, "in"), ErrRequestNotFound)
	require.NoError(t, f.svc.CancelRequest(ctx, "out"))

	out, _ := f.requests.FriendRequest("out")
	assert.Equal(t, store.FriendRequestCancelled, out.Status)
}

func TestDroppedCommandLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()
	f.requests.Add(ctx, pending("r1", "u2", "u1"))
	f.commands.err = realtime.ErrNotConnected

	err := f.svc.AcceptRequest(ctx, "r1")
	assert.ErrorIs(t, err, realtime.ErrNotConnected)
	r1, _ := f.requests.FriendRequest("r1")
	assert.Equal(t, store.FriendRequestPending, r1.Status)
}
