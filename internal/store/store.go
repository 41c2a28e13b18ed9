package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// UserIdentity is the authenticated user as returned by the backend.
// It is replaced wholesale on login and never mutated in place.
type UserIdentity struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

// DisplayName joins first and last name, falling back to the email.
func (u UserIdentity) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// FriendRequestStatus defines the lifecycle of a friend request.
type FriendRequestStatus string

const (
	FriendRequestPending   FriendRequestStatus = "pending"
	FriendRequestAccepted  FriendRequestStatus = "accepted"
	FriendRequestRejected  FriendRequestStatus = "rejected"
	FriendRequestCancelled FriendRequestStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s FriendRequestStatus) Terminal() bool {
	switch s {
	case FriendRequestAccepted, FriendRequestRejected, FriendRequestCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s FriendRequestStatus) Valid() bool {
	return s == FriendRequestPending || s.Terminal()
}

// CanTransition reports whether a request may move from s to next.
// Only pending requests move, and only into a terminal state.
func (s FriendRequestStatus) CanTransition(next FriendRequestStatus) bool {
	return s == FriendRequestPending && next.Terminal()
}

// FriendRequestSender is the public profile of the requesting user.
type FriendRequestSender struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Username string `json:"username,omitempty"`
}

// FriendRequest is a friend request between two users. Requests are never
// deleted, only moved to a terminal status.
type FriendRequest struct {
	ID         string              `json:"id"`
	SenderID   string              `json:"senderId"`
	ReceiverID string              `json:"receiverId"`
	Status     FriendRequestStatus `json:"status"`
	CreatedAt  time.Time           `json:"createdAt"`
	Sender     FriendRequestSender `json:"sender"`
}

// SessionStore persists the session token and user identity.
type SessionStore interface {
	// LoadSession returns the persisted token and user, or ErrNotFound.
	LoadSession(ctx context.Context) (string, *UserIdentity, error)

	// SaveSession replaces both persisted keys in one transaction.
	SaveSession(ctx context.Context, token string, user UserIdentity) error

	// ClearSession removes both persisted keys.
	ClearSession(ctx context.Context) error
}

// FriendRequestStore keeps the local friend request audit trail.
type FriendRequestStore interface {
	// UpsertFriendRequest inserts a request or moves an existing pending row
	// to the new status. Rows in a terminal status are left untouched.
	UpsertFriendRequest(ctx context.Context, req *FriendRequest) error

	// GetFriendRequest retrieves a request by ID.
	GetFriendRequest(ctx context.Context, id string) (*FriendRequest, error)

	// ListFriendRequests returns all requests, oldest first.
	ListFriendRequests(ctx context.Context) ([]*FriendRequest, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	SessionStore
	FriendRequestStore

	// Close closes the underlying database connection.
	Close() error
}
