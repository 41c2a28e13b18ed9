// Package backend is a development server implementing the REST and realtime
// contract the sync client talks to. State lives in memory.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/store"
	"github.com/vovakirdan/wirechat-sync/internal/utils"
)

var errTokenRevoked = errors.New("token revoked")

// Server wires state, token handling and realtime fan-out behind a gin router.
type Server struct {
	cfg    config.BackendConfig
	tokens TokenConfig
	state  *State
	peers  *Registry
	engine *gin.Engine
	log    *zerolog.Logger
}

// NewServer builds the router for state.
func NewServer(cfg config.BackendConfig, state *State, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &Server{
		cfg:    cfg,
		tokens: TokenConfigFrom(cfg),
		state:  state,
		peers:  NewRegistry(logger),
		log:    logger,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(s.log))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", gin.WrapH(NewWSHandler(s, s.log)))

	h := &handlers{srv: s, log: s.log}
	api := r.Group("/api")
	api.POST("/auth/login", h.Login)
	api.POST("/auth/register", h.Register)

	authed := api.Group("")
	authed.Use(AuthMiddleware(s, s.log))
	{
		authed.POST("/auth/logout", h.Logout)
		authed.GET("/auth/validate", h.Validate)
		authed.GET("/users/me", h.Me)
		authed.PUT("/users/me/online", h.SetOnline)
		authed.GET("/conversations/unread", h.UnreadCounts)
		authed.POST("/conversations/:id/read", h.MarkRead)
		authed.PUT("/dev/conversations/:id/unread", h.SetUnread)
		authed.GET("/friends/requests", h.ListFriendRequests)
		authed.POST("/friends/requests", h.SendFriendRequest)
	}
	return r
}

// Handler returns the HTTP handler serving REST and realtime routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// State returns the data set served by s.
func (s *Server) State() *State {
	return s.state
}

// Peers returns the realtime connection registry.
func (s *Server) Peers() *Registry {
	return s.peers
}

// IssueToken signs a token for user.
func (s *Server) IssueToken(user store.UserIdentity) (string, error) {
	return GenerateToken(s.tokens, user.ID, user.Email, time.Now())
}

func (s *Server) verify(token string) (*Claims, error) {
	claims, err := ParseToken(s.tokens, token)
	if err != nil {
		return nil, err
	}
	if s.state.Revoked(claims.ID) {
		return nil, errTokenRevoked
	}
	if _, err := s.state.User(claims.UserID); err != nil {
		return nil, err
	}
	return claims, nil
}

// handleCommand applies a realtime command from p and notifies the other party.
func (s *Server) handleCommand(p *peer, env proto.Envelope) {
	logger := s.log.With().Str("peer_id", p.id).Str("user_id", p.userID).Str("command", env.Event).Logger()

	switch env.Event {
	case proto.CommandAuthenticate:
		reply, _ := proto.NewEnvelope(proto.EventAuthenticated, proto.AuthenticatedData{UserID: p.userID})
		p.push(reply)
		return
	case proto.CommandFriendRequestSend:
		var data proto.SendRequestData
		if err := json.Unmarshal(env.Data, &data); err != nil || !utils.IsID(data.RequestID) {
			p.push(errorEnvelope(proto.ErrCodeBadRequest, "invalid payload"))
			return
		}
		req, err := s.state.FriendRequest(data.RequestID)
		if err != nil || req.SenderID != p.userID || req.ReceiverID != data.ReceiverID {
			p.push(errorEnvelope(proto.ErrCodeBadRequest, "unknown friend request"))
			return
		}
		s.announce(req)
		return
	}

	status, kind, ok := commandTarget(env.Event)
	if !ok {
		logger.Debug().Msg("unknown realtime command")
		p.push(errorEnvelope(proto.ErrCodeBadRequest, "unknown command"))
		return
	}
	var data proto.RequestIDData
	if err := json.Unmarshal(env.Data, &data); err != nil || !utils.IsID(data.RequestID) {
		p.push(errorEnvelope(proto.ErrCodeBadRequest, "invalid payload"))
		return
	}

	req, err := s.state.TransitionFriendRequest(p.userID, data.RequestID, status)
	if err != nil {
		logger.Debug().Err(err).Str("request_id", data.RequestID).Msg("friend request command refused")
		p.push(errorEnvelope(proto.ErrCodeBadRequest, err.Error()))
		return
	}

	counterpart := req.SenderID
	if status == store.FriendRequestCancelled {
		counterpart = req.ReceiverID
	}
	out, err := transitionEnvelope(req.ID, status)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build transition event")
		return
	}
	delivered := s.peers.SendToUser(counterpart, out)
	logger.Info().Str("kind", kind.String()).Str("request_id", req.ID).Int("delivered", delivered).Msg("friend request updated")
}

// announce pushes a new request to its receiver once.
func (s *Server) announce(req store.FriendRequest) {
	if !s.state.Announce(req.ID) {
		return
	}
	env, err := friendRequestEnvelope(req)
	if err != nil {
		s.log.Error().Err(err).Str("request_id", req.ID).Msg("failed to build friend request event")
		return
	}
	n := s.peers.SendToUser(req.ReceiverID, env)
	s.log.Info().Str("request_id", req.ID).Str("receiver_id", req.ReceiverID).Int("delivered", n).Msg("friend request announced")
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("listen: %w", err)
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.log.Info().Msg("shutting down http server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-serverErr
	}
}
