package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/store"
)

var (
	// ErrEmptyToken is returned when logging in without a token.
	ErrEmptyToken = errors.New("session: token is required")
	// ErrInvalidUser is returned when logging in without a user id.
	ErrInvalidUser = errors.New("session: user id is required")
	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("session: not authenticated")
)

// ChangeFunc observes session transitions. It runs after the new snapshot is
// visible and must not block.
type ChangeFunc func(prev, next Snapshot, reason Reason)

// Manager holds the current session. Every mutation swaps the whole snapshot,
// so concurrent readers never see a token without its user.
type Manager struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	store   store.SessionStore
	log     *zerolog.Logger

	obsMu     sync.RWMutex
	observers map[int]ChangeFunc
	nextObsID int
}

// NewManager creates an unauthenticated session manager backed by st.
// st may be nil, in which case nothing is persisted.
func NewManager(st store.SessionStore, logger *zerolog.Logger) *Manager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	m := &Manager{
		store:     st,
		log:       logger,
		observers: make(map[int]ChangeFunc),
	}
	m.current.Store(unauthenticatedSnapshot)
	return m
}

// Current returns the current snapshot.
func (m *Manager) Current() Snapshot {
	return *m.current.Load()
}

// Subscribe registers fn for future transitions and returns an unsubscribe func.
func (m *Manager) Subscribe(fn ChangeFunc) func() {
	m.obsMu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = fn
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

// Restore loads the persisted session, if any. It is meant to run once at startup.
func (m *Manager) Restore(ctx context.Context) (Snapshot, error) {
	if m.store == nil {
		return m.Current(), nil
	}

	token, user, err := m.store.LoadSession(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return m.Current(), nil
		}
		return m.Current(), fmt.Errorf("load session: %w", err)
	}
	if strings.TrimSpace(token) == "" || user == nil || user.ID == "" {
		return m.Current(), nil
	}

	m.mu.Lock()
	prev, next := m.swap(authenticated(token, *user))
	m.mu.Unlock()

	m.notify(prev, next, ReasonRestore)
	m.log.Info().Str("user_id", user.ID).Msg("session restored")
	return m.Current(), nil
}

// BeginAuthentication marks a login exchange as in flight. It returns false if
// the session is not currently unauthenticated.
func (m *Manager) BeginAuthentication() bool {
	m.mu.Lock()
	if m.current.Load().State != StateUnauthenticated {
		m.mu.Unlock()
		return false
	}
	prev, next := m.swap(authenticatingSnapshot)
	m.mu.Unlock()

	m.notify(prev, next, ReasonAuthenticating)
	return true
}

// AbortAuthentication returns an in-flight login to unauthenticated.
func (m *Manager) AbortAuthentication() {
	m.mu.Lock()
	if m.current.Load().State != StateAuthenticating {
		m.mu.Unlock()
		return
	}
	prev, next := m.swap(unauthenticatedSnapshot)
	m.mu.Unlock()

	m.notify(prev, next, ReasonAborted)
}

// Login replaces the session with token and user and persists both.
// A persistence failure is logged; the in-memory session still changes.
func (m *Manager) Login(ctx context.Context, token string, user store.UserIdentity) error {
	if strings.TrimSpace(token) == "" {
		return ErrEmptyToken
	}
	if strings.TrimSpace(user.ID) == "" {
		return ErrInvalidUser
	}

	m.mu.Lock()
	if m.store != nil {
		if err := m.store.SaveSession(ctx, token, user); err != nil {
			m.log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to persist session")
		}
	}
	prev, next := m.swap(authenticated(token, user))
	m.mu.Unlock()

	m.notify(prev, next, ReasonLogin)
	m.log.Info().Str("user_id", user.ID).Msg("session authenticated")
	return nil
}

// UpdateUser replaces the user identity of an authenticated session.
func (m *Manager) UpdateUser(ctx context.Context, user store.UserIdentity) error {
	m.mu.Lock()
	cur := m.current.Load()
	if cur.State != StateAuthenticated {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	if user.ID != cur.User.ID {
		m.mu.Unlock()
		return fmt.Errorf("session: cannot replace user %s with %s", cur.User.ID, user.ID)
	}
	if m.store != nil {
		if err := m.store.SaveSession(ctx, cur.Token, user); err != nil {
			m.log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to persist session")
		}
	}
	prev, next := m.swap(authenticated(cur.Token, user))
	m.mu.Unlock()

	m.notify(prev, next, ReasonUpdate)
	return nil
}

// Logout clears the session. It returns false when there was nothing to clear,
// so a second concurrent logout is a no-op.
func (m *Manager) Logout(ctx context.Context, reason Reason) bool {
	m.mu.Lock()
	if m.current.Load().State == StateUnauthenticated {
		m.mu.Unlock()
		return false
	}
	if m.store != nil {
		if err := m.store.ClearSession(ctx); err != nil {
			m.log.Warn().Err(err).Msg("failed to clear persisted session")
		}
	}
	prev, next := m.swap(unauthenticatedSnapshot)
	m.mu.Unlock()

	m.notify(prev, next, reason)
	m.log.Info().Str("user_id", prev.UserID()).Str("reason", string(reason)).Msg("session cleared")
	return true
}

// swap must be called with mu held.
func (m *Manager) swap(next *Snapshot) (Snapshot, Snapshot) {
	return *m.current.Swap(next), *next
}

func (m *Manager) notify(prev, next Snapshot, reason Reason) {
	m.obsMu.RLock()
	fns := make([]ChangeFunc, 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.obsMu.RUnlock()

	for _, fn := range fns {
		fn(prev, next, reason)
	}
}
