package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token and the user it belongs to.
type LoginResponse struct {
	Token string             `json:"token"`
	User  store.UserIdentity `json:"user"`
}

// PresenceRequest is the body of PUT /users/me/online.
type PresenceRequest struct {
	IsOnline bool `json:"is_online"`
}

// ConversationUnread is one conversation's unread count.
type ConversationUnread struct {
	ConversationID string `json:"conversation_id"`
	UnreadCount    int    `json:"unread_count"`
}

// UnreadResponse is the body of GET /conversations/unread.
type UnreadResponse struct {
	Conversations []ConversationUnread `json:"conversations"`
}

// Total sums the per-conversation counts, ignoring negative values.
func (r UnreadResponse) Total() int {
	total := 0
	for _, c := range r.Conversations {
		if c.UnreadCount > 0 {
			total += c.UnreadCount
		}
	}
	return total
}

// SendFriendRequestRequest is the body of POST /friends/requests.
type SendFriendRequestRequest struct {
	ReceiverID string `json:"receiver_id"`
}

// Login exchanges credentials for a token. No bearer header is sent.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.doWithToken(ctx, "", http.MethodPost, "/auth/login", LoginRequest{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout tells the backend the token is no longer in use.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// ValidateToken checks token against the backend. A nil error means the token
// is accepted.
func (c *Client) ValidateToken(ctx context.Context, token string) error {
	return c.doWithToken(ctx, token, http.MethodGet, "/auth/validate", nil, nil)
}

// Me fetches the current user's identity.
func (c *Client) Me(ctx context.Context) (*store.UserIdentity, error) {
	var out store.UserIdentity
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetOnline reports the current user's presence flag.
func (c *Client) SetOnline(ctx context.Context, online bool) error {
	return c.do(ctx, http.MethodPut, "/users/me/online", PresenceRequest{IsOnline: online}, nil)
}

// UnreadCounts fetches per-conversation unread counts.
func (c *Client) UnreadCounts(ctx context.Context) (*UnreadResponse, error) {
	var out UnreadResponse
	if err := c.do(ctx, http.MethodGet, "/conversations/unread", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkConversationRead acknowledges all messages in a conversation.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil)
}

// ListFriendRequests fetches incoming and outgoing friend requests.
func (c *Client) ListFriendRequests(ctx context.Context) ([]store.FriendRequest, error) {
	var out []store.FriendRequest
	if err := c.do(ctx, http.MethodGet, "/friends/requests", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendFriendRequest creates a pending request to receiverID.
func (c *Client) SendFriendRequest(ctx context.Context, receiverID string) (*store.FriendRequest, error) {
	var out store.FriendRequest
	if err := c.do(ctx, http.MethodPost, "/friends/requests", SendFriendRequestRequest{ReceiverID: receiverID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
