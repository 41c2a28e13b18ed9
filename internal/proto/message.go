package proto

import (
	"encoding/json"
	"fmt"
)

// Envelope is the frame exchanged on the realtime channel in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	// Server-pushed events.
	EventFriendRequest          = "friend:request"
	EventFriendRequestAccepted  = "friend:request:accepted"
	EventFriendRequestRejected  = "friend:request:rejected"
	EventFriendRequestCancelled = "friend:request:cancelled"
	EventAuthenticated          = "authenticated"
	EventError                  = "error"

	// Client commands.
	CommandFriendRequestSend   = "friend:request:send"
	CommandFriendRequestAccept = "friend:request:accept"
	CommandFriendRequestReject = "friend:request:reject"
	CommandFriendRequestCancel = "friend:request:cancel"
	CommandAuthenticate        = "authenticate"

	// ErrCodeUnauthorized in an error frame means the credential was rejected.
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeBadRequest   = "bad_request"
	ErrCodeRateLimited  = "rate_limited"

	// CloseCodeUnauthorized is the close status a server uses to reject a token.
	CloseCodeUnauthorized = 4401

	// TokenQueryParam carries the token in the handshake URL.
	TokenQueryParam = "token"
)

// NewEnvelope marshals data into an envelope for event.
func NewEnvelope(event string, data any) (Envelope, error) {
	env := Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return env, fmt.Errorf("marshal %s: %w", event, err)
	}
	env.Data = raw
	return env, nil
}

// SenderData is the sender profile embedded in a friend request.
type SenderData struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Username string `json:"username,omitempty"`
}

// FriendRequestData is the payload of friend:request.
type FriendRequestData struct {
	ID         string     `json:"id"`
	Sender     SenderData `json:"sender"`
	SenderID   string     `json:"senderId,omitempty"`
	ReceiverID string     `json:"receiverId,omitempty"`
	Status     string     `json:"status,omitempty"`
	CreatedAt  string     `json:"createdAt,omitempty"`
}

// RequestIDData is the payload of accepted/rejected/cancelled events and of
// the accept/reject/cancel commands.
type RequestIDData struct {
	RequestID string `json:"requestId"`
}

// SendRequestData is the payload of friend:request:send.
type SendRequestData struct {
	RequestID  string `json:"requestId"`
	ReceiverID string `json:"receiverId"`
}

// AuthenticateData is the payload of the post-connect authenticate message.
type AuthenticateData struct {
	Token string `json:"token"`
}

// AuthenticatedData confirms which user the server bound the connection to.
type AuthenticatedData struct {
	UserID string `json:"userId"`
}

// Error describes a protocol-level error frame.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
