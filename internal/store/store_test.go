package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFriendRequestStatusTransitions(t *testing.T) {
	terminal := []FriendRequestStatus{FriendRequestAccepted, FriendRequestRejected, FriendRequestCancelled}
	all := append([]FriendRequestStatus{FriendRequestPending}, terminal...)

	for _, next := range terminal {
		assert.True(t, FriendRequestPending.CanTransition(next), "pending -> %s", next)
	}
	assert.False(t, FriendRequestPending.CanTransition(FriendRequestPending))

	for _, from := range terminal {
		assert.True(t, from.Terminal())
		for _, next := range all {
			assert.False(t, from.CanTransition(next), "%s -> %s", from, next)
		}
	}

	assert.False(t, FriendRequestStatus("bogus").Valid())
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", UserIdentity{FirstName: "Ada", LastName: "Lovelace"}.DisplayName())
	assert.Equal(t, "ada@example.com", UserIdentity{Email: "ada@example.com"}.DisplayName())
}
