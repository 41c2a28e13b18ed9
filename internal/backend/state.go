package backend

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/api"
	"github.com/vovakirdan/wirechat-sync/internal/store"
	"github.com/vovakirdan/wirechat-sync/internal/utils"
)

// Common errors for backend state operations.
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUserExists           = errors.New("user already exists")
	ErrUserNotFound         = errors.New("user not found")
	ErrCannotFriendSelf     = errors.New("cannot send friend request to yourself")
	ErrRequestAlreadyExists = errors.New("friend request already exists")
	ErrRequestNotFound      = errors.New("friend request not found")
	ErrNotRequestParty      = errors.New("not a party of this friend request")
	ErrRequestClosed        = errors.New("friend request is no longer pending")
)

type account struct {
	user         store.UserIdentity
	passwordHash string
	online       bool
}

type friendRequest struct {
	store.FriendRequest
	announced bool
}

// State is the in-memory data set of the development backend.
type State struct {
	mu       sync.RWMutex
	users    map[string]*account
	byEmail  map[string]string
	requests map[string]*friendRequest
	unread   map[string]map[string]int
	revoked  map[string]time.Time
	now      func() time.Time
}

// NewState creates an empty data set.
func NewState() *State {
	return &State{
		users:    make(map[string]*account),
		byEmail:  make(map[string]string),
		requests: make(map[string]*friendRequest),
		unread:   make(map[string]map[string]int),
		revoked:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// CreateUser registers a user with a bcrypt hashed password.
func (s *State) CreateUser(email, password, firstName, lastName string) (store.UserIdentity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return store.UserIdentity{}, ErrInvalidCredentials
	}
	hash, err := HashPassword(password)
	if err != nil {
		return store.UserIdentity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[email]; exists {
		return store.UserIdentity{}, ErrUserExists
	}
	user := store.UserIdentity{
		ID:        utils.NewID(),
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
	}
	s.users[user.ID] = &account{user: user, passwordHash: hash}
	s.byEmail[email] = user.ID
	return user, nil
}

// Authenticate checks credentials and returns the matching user.
func (s *State) Authenticate(email, password string) (store.UserIdentity, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	var acc account
	if ok {
		acc = *s.users[id]
	}
	s.mu.RUnlock()

	if !ok {
		return store.UserIdentity{}, ErrInvalidCredentials
	}
	if err := ComparePassword(acc.passwordHash, password); err != nil {
		return store.UserIdentity{}, ErrInvalidCredentials
	}
	return acc.user, nil
}

// User returns the user with id.
func (s *State) User(id string) (store.UserIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.users[id]
	if !ok {
		return store.UserIdentity{}, ErrUserNotFound
	}
	return acc.user, nil
}

// SetOnline records the presence flag of a user.
func (s *State) SetOnline(id string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	acc.online = online
	return nil
}

// Online reports the presence flag of a user.
func (s *State) Online(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.users[id]
	return ok && acc.online
}

// SetUnread sets the unread count of one of the user's conversations.
func (s *State) SetUnread(userID, conversationID string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	convs, ok := s.unread[userID]
	if !ok {
		convs = make(map[string]int)
		s.unread[userID] = convs
	}
	convs[conversationID] = count
}

// Unread lists the user's conversations with their unread counts.
func (s *State) Unread(userID string) api.UnreadResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := api.UnreadResponse{Conversations: make([]api.ConversationUnread, 0, len(s.unread[userID]))}
	for id, n := range s.unread[userID] {
		resp.Conversations = append(resp.Conversations, api.ConversationUnread{ConversationID: id, UnreadCount: n})
	}
	sort.Slice(resp.Conversations, func(i, j int) bool {
		return resp.Conversations[i].ConversationID < resp.Conversations[j].ConversationID
	})
	return resp
}

// MarkRead zeroes the unread count of a conversation.
func (s *State) MarkRead(userID, conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	convs, ok := s.unread[userID]
	if !ok {
		return false
	}
	if _, ok := convs[conversationID]; !ok {
		return false
	}
	convs[conversationID] = 0
	return true
}

// CreateFriendRequest opens a pending request from senderID to receiverID.
func (s *State) CreateFriendRequest(senderID, receiverID string) (store.FriendRequest, error) {
	if senderID == receiverID {
		return store.FriendRequest{}, ErrCannotFriendSelf
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sender, ok := s.users[senderID]
	if !ok {
		return store.FriendRequest{}, ErrUserNotFound
	}
	if _, ok := s.users[receiverID]; !ok {
		return store.FriendRequest{}, ErrUserNotFound
	}
	for _, r := range s.requests {
		if r.Status != store.FriendRequestPending {
			continue
		}
		if (r.SenderID == senderID && r.ReceiverID == receiverID) || (r.SenderID == receiverID && r.ReceiverID == senderID) {
			return store.FriendRequest{}, ErrRequestAlreadyExists
		}
	}

	req := &friendRequest{FriendRequest: store.FriendRequest{
		ID:         utils.NewID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     store.FriendRequestPending,
		CreatedAt:  s.now().UTC().Truncate(time.Second),
		Sender:     senderProfile(sender.user),
	}}
	s.requests[req.ID] = req
	return req.FriendRequest, nil
}

// Announce marks a request as pushed to its receiver. It returns false when
// it was already announced.
func (s *State) Announce(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.announced {
		return false
	}
	req.announced = true
	return true
}

// FriendRequest returns the request with id.
func (s *State) FriendRequest(id string) (store.FriendRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return store.FriendRequest{}, ErrRequestNotFound
	}
	return req.FriendRequest, nil
}

// TransitionFriendRequest moves a pending request to next on behalf of
// actorID. The receiver accepts or rejects; the sender cancels.
func (s *State) TransitionFriendRequest(actorID, id string, next store.FriendRequestStatus) (store.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return store.FriendRequest{}, ErrRequestNotFound
	}
	party := req.ReceiverID
	if next == store.FriendRequestCancelled {
		party = req.SenderID
	}
	if party != actorID {
		return store.FriendRequest{}, ErrNotRequestParty
	}
	if !req.Status.CanTransition(next) {
		return store.FriendRequest{}, ErrRequestClosed
	}
	req.Status = next
	return req.FriendRequest, nil
}

// ListFriendRequests returns the requests the user sent or received, oldest first.
func (s *State) ListFriendRequests(userID string) []store.FriendRequest {
	s.mu.RLock()
	out := make([]store.FriendRequest, 0)
	for _, r := range s.requests {
		if r.SenderID == userID || r.ReceiverID == userID {
			out = append(out, r.FriendRequest)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Revoke rejects token until it would have expired anyway.
func (s *State) Revoke(tokenID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, id)
		}
	}
	s.revoked[tokenID] = expiresAt
}

// Revoked reports whether the token id was revoked.
func (s *State) Revoked(tokenID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[tokenID]
	return ok
}

func senderProfile(u store.UserIdentity) store.FriendRequestSender {
	return store.FriendRequestSender{
		ID:       u.ID,
		Name:     u.DisplayName(),
		Avatar:   u.ProfilePicture,
		Username: strings.SplitN(u.Email, "@", 2)[0],
	}
}
