package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

func TestEventFromEnvelopeFriendRequest(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	env := proto.Envelope{Event: proto.EventFriendRequest, Data: []byte(`{"id":"r1","sender":{"id":"u2","name":"Bob","avatar":"a.png"},"createdAt":"2026-02-01T10:00:00Z"}`)}
	ev, perr, err := eventFromEnvelope(env, now)
	require.NoError(t, err)
	require.Nil(t, perr)
	require.NotNil(t, ev)

	assert.Equal(t, core.EventFriendRequest, ev.Kind)
	assert.Equal(t, "u2", ev.FriendRequest.SenderID, "sender id falls back to the embedded profile")
	assert.Equal(t, store.FriendRequestPending, ev.FriendRequest.Status)
	assert.Equal(t, "a.png", ev.FriendRequest.Sender.Avatar)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), ev.FriendRequest.CreatedAt)

	env.Data = []byte(`{"id":"r2","sender":{"id":"u2","name":"Bob"},"createdAt":"yesterday"}`)
	ev, _, err = eventFromEnvelope(env, now)
	require.NoError(t, err)
	assert.Equal(t, now, ev.FriendRequest.CreatedAt)

	env.Data = []byte(`{"sender":{"id":"u2"}}`)
	_, _, err = eventFromEnvelope(env, now)
	assert.ErrorIs(t, err, errMissingRequestID)
}

func TestEventFromEnvelopeTransitions(t *testing.T) {
	cases := map[string]core.EventKind{
		proto.EventFriendRequestAccepted:  core.EventFriendRequestAccepted,
		proto.EventFriendRequestRejected:  core.EventFriendRequestRejected,
		proto.EventFriendRequestCancelled: core.EventFriendRequestCancelled,
	}
	for name, kind := range cases {
		t.Run(name, func(t *testing.T) {
			ev, perr, err := eventFromEnvelope(proto.Envelope{Event: name, Data: []byte(`{"requestId":"r9"}`)}, time.Now())
			require.NoError(t, err)
			require.Nil(t, perr)
			assert.Equal(t, kind, ev.Kind)
			assert.Equal(t, "r9", ev.RequestID)

			_, _, err = eventFromEnvelope(proto.Envelope{Event: name, Data: []byte(`{}`)}, time.Now())
			assert.ErrorIs(t, err, errMissingRequestID)
		})
	}
}

func TestEventFromEnvelopeErrorAndUnknown(t *testing.T) {
	ev, perr, err := eventFromEnvelope(proto.Envelope{Event: proto.EventError, Data: []byte(`{"code":"unauthorized","msg":"expired"}`)}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, ev)
	require.NotNil(t, perr)
	assert.Equal(t, proto.ErrCodeUnauthorized, perr.Code)

	ev, perr, err = eventFromEnvelope(proto.Envelope{Event: "typing"}, time.Now())
	assert.NoError(t, err)
	assert.Nil(t, ev)
	assert.Nil(t, perr)
}

func TestEnvelopeFromCommand(t *testing.T) {
	env, err := envelopeFromCommand(core.Command{Kind: core.CommandCancelFriendRequest, RequestID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, proto.CommandFriendRequestCancel, env.Event)
	assert.JSONEq(t, `{"requestId":"r1"}`, string(env.Data))

	_, err = envelopeFromCommand(core.Command{Kind: core.CommandSendFriendRequest, RequestID: "r1"})
	assert.Error(t, err)

	_, err = envelopeFromCommand(core.Command{Kind: core.CommandAcceptFriendRequest})
	assert.ErrorIs(t, err, errMissingRequestID)
}
