// Package session owns the client-side record of the authenticated user and
// their credential.
package session

import (
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// State is the authentication state of the session.
type State int

const (
	// StateUnauthenticated means no token and no user.
	StateUnauthenticated State = iota
	// StateAuthenticating means a login exchange is in flight.
	StateAuthenticating
	// StateAuthenticated means both token and user are present.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Reason tells observers why the session changed.
type Reason string

const (
	ReasonRestore        Reason = "restore"
	ReasonAuthenticating Reason = "authenticating"
	ReasonLogin          Reason = "login"
	ReasonUpdate         Reason = "update"
	ReasonLogout         Reason = "logout"
	ReasonForced         Reason = "forced"
	ReasonAborted        Reason = "aborted"
)

// Snapshot is an immutable view of the session. Token and User are set if and
// only if State is StateAuthenticated.
type Snapshot struct {
	State State
	Token string
	User  *store.UserIdentity
}

// IsAuthenticated reports whether the snapshot holds a usable credential.
func (s Snapshot) IsAuthenticated() bool {
	return s.State == StateAuthenticated
}

// UserID returns the authenticated user's ID or "".
func (s Snapshot) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

func authenticated(token string, user store.UserIdentity) *Snapshot {
	u := user
	return &Snapshot{State: StateAuthenticated, Token: token, User: &u}
}

var (
	unauthenticatedSnapshot = &Snapshot{State: StateUnauthenticated}
	authenticatingSnapshot  = &Snapshot{State: StateAuthenticating}
)
