package core

// CommandKind describes what the client asks the server to do.
type CommandKind int

const (
	// CommandSendFriendRequest tells the server to notify the receiver of a request.
	CommandSendFriendRequest CommandKind = iota
	// CommandAcceptFriendRequest accepts an incoming request.
	CommandAcceptFriendRequest
	// CommandRejectFriendRequest rejects an incoming request.
	CommandRejectFriendRequest
	// CommandCancelFriendRequest withdraws an outgoing request.
	CommandCancelFriendRequest
)

func (k CommandKind) String() string {
	switch k {
	case CommandSendFriendRequest:
		return "send_friend_request"
	case CommandAcceptFriendRequest:
		return "accept_friend_request"
	case CommandRejectFriendRequest:
		return "reject_friend_request"
	case CommandCancelFriendRequest:
		return "cancel_friend_request"
	default:
		return "unknown"
	}
}

// Command is a fire-and-forget action for the realtime channel.
type Command struct {
	Kind       CommandKind
	RequestID  string
	ReceiverID string // CommandSendFriendRequest only
}
