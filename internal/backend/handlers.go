package backend

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/api"
	"github.com/vovakirdan/wirechat-sync/internal/utils"
)

type handlers struct {
	srv *Server
	log *zerolog.Logger
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type registerRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=6"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type presenceRequest struct {
	IsOnline *bool `json:"is_online" binding:"required"`
}

type unreadRequest struct {
	UnreadCount int `json:"unread_count" binding:"min=0"`
}

type sendFriendRequestRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
}

// Login handles user login.
// POST /api/auth/login
func (h *handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	user, err := h.srv.state.Authenticate(req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		return
	}
	token, err := h.srv.IssueToken(user)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to issue token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("user_id", user.ID).Msg("user logged in")
	c.JSON(http.StatusOK, api.LoginResponse{Token: token, User: user})
}

// Register handles user registration.
// POST /api/auth/register
func (h *handlers) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	user, err := h.srv.state.CreateUser(req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
			return
		}
		h.log.Error().Err(err).Msg("failed to register user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	token, err := h.srv.IssueToken(user)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("failed to issue token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("user_id", user.ID).Msg("user registered")
	c.JSON(http.StatusCreated, api.LoginResponse{Token: token, User: user})
}

// Logout revokes the presented token and closes realtime connections opened with it.
// POST /api/auth/logout
func (h *handlers) Logout(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	exp := time.Now().Add(h.srv.cfg.TokenTTL)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	h.srv.state.Revoke(claims.ID, exp)
	h.srv.peers.CloseToken(claims.ID)

	h.log.Info().Str("user_id", claims.UserID).Msg("user logged out")
	c.Status(http.StatusNoContent)
}

// Validate confirms the bearer token is still accepted.
// GET /api/auth/validate
func (h *handlers) Validate(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"valid": true, "user_id": currentUserID(c)})
}

// Me returns the authenticated user.
// GET /api/users/me
func (h *handlers) Me(c *gin.Context) {
	user, err := h.srv.state.User(currentUserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// SetOnline records the caller's presence flag.
// PUT /api/users/me/online
func (h *handlers) SetOnline(c *gin.Context) {
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	uid := currentUserID(c)
	if err := h.srv.state.SetOnline(uid, *req.IsOnline); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	h.log.Debug().Str("user_id", uid).Bool("is_online", *req.IsOnline).Msg("presence updated")
	c.JSON(http.StatusOK, api.PresenceRequest{IsOnline: *req.IsOnline})
}

// UnreadCounts lists unread counts per conversation.
// GET /api/conversations/unread
func (h *handlers) UnreadCounts(c *gin.Context) {
	c.JSON(http.StatusOK, h.srv.state.Unread(currentUserID(c)))
}

// MarkRead zeroes a conversation's unread count.
// POST /api/conversations/:id/read
func (h *handlers) MarkRead(c *gin.Context) {
	id := c.Param("id")
	if !h.srv.state.MarkRead(currentUserID(c), id) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, api.ConversationUnread{ConversationID: id})
}

// SetUnread seeds a conversation's unread count for the caller.
// PUT /api/dev/conversations/:id/unread
func (h *handlers) SetUnread(c *gin.Context) {
	var req unreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	id := c.Param("id")
	h.srv.state.SetUnread(currentUserID(c), id, req.UnreadCount)
	c.JSON(http.StatusOK, api.ConversationUnread{ConversationID: id, UnreadCount: req.UnreadCount})
}

// ListFriendRequests lists requests the caller sent or received.
// GET /api/friends/requests
func (h *handlers) ListFriendRequests(c *gin.Context) {
	c.JSON(http.StatusOK, h.srv.state.ListFriendRequests(currentUserID(c)))
}

// SendFriendRequest opens a request and pushes it to the receiver.
// POST /api/friends/requests
func (h *handlers) SendFriendRequest(c *gin.Context) {
	var req sendFriendRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send friend request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if !utils.IsID(req.ReceiverID) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid receiver id"})
		return
	}
	uid := currentUserID(c)

	created, err := h.srv.state.CreateFriendRequest(uid, req.ReceiverID)
	if err != nil {
		switch {
		case errors.Is(err, ErrCannotFriendSelf):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot send friend request to yourself"})
		case errors.Is(err, ErrRequestAlreadyExists):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "friend request already exists"})
		case errors.Is(err, ErrUserNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		default:
			h.log.Error().Err(err).Str("from_user_id", uid).Str("to_user_id", req.ReceiverID).Msg("failed to send friend request")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.srv.announce(created)
	h.log.Info().Str("from_user_id", uid).Str("to_user_id", req.ReceiverID).Str("request_id", created.ID).Msg("friend request sent")
	c.JSON(http.StatusCreated, created)
}
