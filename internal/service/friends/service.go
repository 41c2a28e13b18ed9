package friends

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/session"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// Common errors for friend operations.
var (
	ErrNotAuthenticated = errors.New("not signed in")
	ErrCannotFriendSelf = errors.New("cannot send friend request to yourself")
	ErrRequestNotFound  = errors.New("friend request not found")
	ErrEmptyReceiver    = errors.New("receiver id is required")
)

// Backend creates friend requests over REST.
type Backend interface {
	SendFriendRequest(ctx context.Context, receiverID string) (*store.FriendRequest, error)
}

// Commander emits realtime commands.
type Commander interface {
	Send(ctx context.Context, cmd core.Command) error
}

// Requests is the local friend request state.
type Requests interface {
	Add(ctx context.Context, req store.FriendRequest) bool
	Transition(ctx context.Context, id string, next store.FriendRequestStatus) bool
	FriendRequest(id string) (store.FriendRequest, bool)
}

// SessionSource exposes the current session.
type SessionSource interface {
	Current() session.Snapshot
}

// Service performs the signed-in user's friend request actions.
type Service struct {
	backend  Backend
	commands Commander
	requests Requests
	sessions SessionSource
	log      *zerolog.Logger
}

// New creates a new friend Service.
func New(backend Backend, commands Commander, requests Requests, sessions SessionSource, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		backend:  backend,
		commands: commands,
		requests: requests,
		sessions: sessions,
		log:      logger,
	}
}

// SendRequest creates a request to receiverID over REST, records it locally
// and announces it on the realtime channel. An offline channel does not fail
// the call since the backend already holds the request.
func (s *Service) SendRequest(ctx context.Context, receiverID string) (*store.FriendRequest, error) {
	snap := s.sessions.Current()
	if !snap.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	if receiverID == "" {
		return nil, ErrEmptyReceiver
	}
	if receiverID == snap.UserID() {
		return nil, ErrCannotFriendSelf
	}

	req, err := s.backend.SendFriendRequest(ctx, receiverID)
	if err != nil {
		return nil, fmt.Errorf("send friend request: %w", err)
	}
	if req.SenderID == "" {
		req.SenderID = snap.UserID()
	}
	if req.ReceiverID == "" {
		req.ReceiverID = receiverID
	}
	if !req.Status.Valid() {
		req.Status = store.FriendRequestPending
	}
	s.requests.Add(ctx, *req)

	err = s.commands.Send(ctx, core.Command{Kind: core.CommandSendFriendRequest, RequestID: req.ID, ReceiverID: receiverID})
	if err != nil {
		s.log.Warn().Err(err).Str("request_id", req.ID).Msg("friend request announcement dropped")
	}
	return req, nil
}

// AcceptRequest accepts an incoming pending request.
func (s *Service) AcceptRequest(ctx context.Context, requestID string) error {
	return s.respond(ctx, requestID, store.FriendRequestAccepted, core.CommandAcceptFriendRequest)
}

// RejectRequest rejects an incoming pending request.
func (s *Service) RejectRequest(ctx context.Context, requestID string) error {
	return s.respond(ctx, requestID, store.FriendRequestRejected, core.CommandRejectFriendRequest)
}

// CancelRequest withdraws an outgoing pending request.
func (s *Service) CancelRequest(ctx context.Context, requestID string) error {
	return s.respond(ctx, requestID, store.FriendRequestCancelled, core.CommandCancelFriendRequest)
}

// respond emits the command first and only applies the transition locally
// once the command was written. Dropped commands leave local state as is.
func (s *Service) respond(ctx context.Context, requestID string, next store.FriendRequestStatus, kind core.CommandKind) error {
	snap := s.sessions.Current()
	if !snap.IsAuthenticated() {
		return ErrNotAuthenticated
	}

	req, ok := s.requests.FriendRequest(requestID)
	if !ok || !req.Status.CanTransition(next) {
		return ErrRequestNotFound
	}
	// Only the receiver answers a request; only the sender withdraws it.
	party := req.ReceiverID
	if next == store.FriendRequestCancelled {
		party = req.SenderID
	}
	if party != snap.UserID() {
		return ErrRequestNotFound
	}

	if err := s.commands.Send(ctx, core.Command{Kind: kind, RequestID: requestID}); err != nil {
		if errors.Is(err, realtime.ErrNotConnected) {
			return err
		}
		return fmt.Errorf("%s friend request: %w", next, err)
	}
	s.requests.Transition(ctx, requestID, next)
	return nil
}
