package core

import "github.com/vovakirdan/wirechat-sync/internal/store"

// EventKind is a typed notification flowing from the transport to the state owners.
type EventKind int

const (
	// EventFriendRequest announces a new incoming friend request.
	EventFriendRequest EventKind = iota
	// EventFriendRequestAccepted moves a request to accepted.
	EventFriendRequestAccepted
	// EventFriendRequestRejected moves a request to rejected.
	EventFriendRequestRejected
	// EventFriendRequestCancelled moves a request to cancelled.
	EventFriendRequestCancelled
	// EventConnectionState reports a realtime connection state change.
	EventConnectionState
)

func (k EventKind) String() string {
	switch k {
	case EventFriendRequest:
		return "friend_request"
	case EventFriendRequestAccepted:
		return "friend_request_accepted"
	case EventFriendRequestRejected:
		return "friend_request_rejected"
	case EventFriendRequestCancelled:
		return "friend_request_cancelled"
	case EventConnectionState:
		return "connection_state"
	default:
		return "unknown"
	}
}

// TargetStatus returns the status a transition event moves a request to.
func (k EventKind) TargetStatus() (store.FriendRequestStatus, bool) {
	switch k {
	case EventFriendRequestAccepted:
		return store.FriendRequestAccepted, true
	case EventFriendRequestRejected:
		return store.FriendRequestRejected, true
	case EventFriendRequestCancelled:
		return store.FriendRequestCancelled, true
	default:
		return "", false
	}
}

// ConnectionState is the realtime channel state.
type ConnectionState int

const (
	ConnDisconnected ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnAuthFailed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// ConnectionChange describes an EventConnectionState transition.
type ConnectionChange struct {
	From ConnectionState
	To   ConnectionState
	// Reconnected is set on a Connected transition that followed a drop.
	Reconnected bool
}

// Event is published on the hub to describe what happened.
type Event struct {
	Kind          EventKind
	FriendRequest *store.FriendRequest // EventFriendRequest
	RequestID     string               // accepted/rejected/cancelled
	Connection    *ConnectionChange    // EventConnectionState
}
