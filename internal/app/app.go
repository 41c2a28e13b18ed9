package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/api"
	"github.com/vovakirdan/wirechat-sync/internal/auth"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/log"
	"github.com/vovakirdan/wirechat-sync/internal/presence"
	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/reconciler"
	"github.com/vovakirdan/wirechat-sync/internal/service/friends"
	"github.com/vovakirdan/wirechat-sync/internal/session"
	"github.com/vovakirdan/wirechat-sync/internal/store"
	"github.com/vovakirdan/wirechat-sync/internal/store/sqlite"
)

// ErrLoginInProgress is returned when a login is already being exchanged.
var ErrLoginInProgress = errors.New("app: login already in progress")

// Notifier receives user-facing messages such as the forced logout notice.
type Notifier func(message string)

// App wires the session, realtime, presence and reconciliation layers
// together and owns the session scope they run in.
type App struct {
	cfg config.Config
	log *zerolog.Logger

	store      store.Store
	sessions   *session.Manager
	api        *api.Client
	hub        *core.Hub
	channel    *realtime.Channel
	validator  *auth.Validator
	presence   *presence.Reporter
	reconciler *reconciler.Reconciler
	friends    *friends.Service

	mu       sync.Mutex
	baseCtx  context.Context
	scope    *sessionScope
	appState presence.AppState
	notify   Notifier
	unsubs   []func()
}

// sessionScope holds what runs while a session is signed in.
type sessionScope struct {
	ctx    context.Context
	cancel context.CancelFunc
	token  string
	wg     sync.WaitGroup
}

// New constructs the application with a SQLite store at cfg.DatabasePath.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")
	return NewWithStore(cfg, st, nil, logger), nil
}

// NewWithStore constructs the application on top of st. httpClient may be nil.
func NewWithStore(cfg config.Config, st store.Store, httpClient *http.Client, logger *zerolog.Logger) *App {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	a := &App{
		cfg:      cfg,
		log:      logger,
		store:    st,
		appState: presence.AppActive,
		baseCtx:  context.Background(),
	}

	a.sessions = session.NewManager(st, log.Component(logger, "session"))
	a.api = api.NewClient(httpClient, cfg.APIBaseURL, func() string { return a.sessions.Current().Token }, log.Component(logger, "api"))
	a.hub = core.NewHub(log.Component(logger, "hub"))

	a.channel = realtime.New(realtime.OptionsFromConfig(cfg), a.hub, log.Component(logger, "realtime"))

	a.validator = auth.NewValidator(a.api, a.sessions, cfg.RequestTimeout, a.onTokenRejected, log.Component(logger, "validator"))
	a.presence = presence.NewReporter(a.api, a.sessions, cfg.PresenceTimeout, log.Component(logger, "presence"))
	a.reconciler = reconciler.New(a.api, st, log.Component(logger, "reconciler"))
	a.reconciler.UseSession(a.sessions)
	a.friends = friends.New(a.api, a.channel, a.reconciler, a.sessions, log.Component(logger, "friends"))

	a.unsubs = append(a.unsubs,
		a.reconciler.Attach(a.hub),
		a.hub.Subscribe(a.onConnectionState, core.EventConnectionState),
		a.sessions.Subscribe(a.onSessionChange),
	)
	return a
}

// Start runs the event hub, restores a persisted session and, if it is still
// accepted, arms the session scope. Background work stops when ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	a.baseCtx = ctx
	a.mu.Unlock()

	go a.hub.Run(ctx)

	snap, err := a.sessions.Restore(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("session restore failed")
		return nil
	}
	if !snap.IsAuthenticated() {
		return nil
	}

	switch verdict := a.validator.ValidateToken(ctx, snap.Token); verdict {
	case auth.VerdictRejected:
		a.log.Info().Str("user_id", snap.UserID()).Msg("restored session rejected")
		a.forceLogout(snap.Token, auth.ExpiredMessage)
		return nil
	case auth.VerdictUnreachable:
		a.log.Warn().Str("user_id", snap.UserID()).Msg("backend unreachable, keeping restored session")
	}
	a.arm(snap)
	return nil
}

// Login exchanges credentials for a session. An existing session is logged
// out first.
func (a *App) Login(ctx context.Context, email, password string) (store.UserIdentity, error) {
	if a.sessions.Current().IsAuthenticated() {
		if err := a.Logout(ctx); err != nil {
			return store.UserIdentity{}, err
		}
	}
	if !a.sessions.BeginAuthentication() {
		return store.UserIdentity{}, ErrLoginInProgress
	}

	resp, err := a.api.Login(ctx, email, password)
	if err != nil {
		a.sessions.AbortAuthentication()
		return store.UserIdentity{}, fmt.Errorf("login: %w", err)
	}
	if err := a.sessions.Login(ctx, resp.Token, resp.User); err != nil {
		a.sessions.AbortAuthentication()
		return store.UserIdentity{}, fmt.Errorf("login: %w", err)
	}

	a.arm(a.sessions.Current())
	return resp.User, nil
}

// Logout reports the user offline, closes the realtime channel, revokes the
// token on the backend when reachable and clears the local session.
func (a *App) Logout(ctx context.Context) error {
	if !a.sessions.Current().IsAuthenticated() {
		return nil
	}
	a.disarm()

	if err := a.api.Logout(ctx); err != nil {
		a.log.Warn().Err(err).Msg("backend logout failed")
	}
	a.sessions.Logout(ctx, session.ReasonLogout)
	a.reconciler.Reset()
	return nil
}

// SetAppState records a lifecycle transition. Returning to the foreground
// while signed in re-validates the token before returning.
func (a *App) SetAppState(ctx context.Context, next presence.AppState) {
	a.mu.Lock()
	prev := a.appState
	a.appState = next
	a.mu.Unlock()

	a.presence.OnAppStateChange(next)

	if prev != presence.AppActive && next == presence.AppActive && a.sessions.Current().IsAuthenticated() {
		a.validator.Check(ctx, auth.TriggerResume)
	}
}

// SetNotifier registers fn for user-facing messages.
func (a *App) SetNotifier(fn Notifier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notify = fn
}

// Session returns the current session snapshot.
func (a *App) Session() session.Snapshot {
	return a.sessions.Current()
}

// Sessions exposes the session manager for observers.
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

// Reconciler exposes friend request and unread state.
func (a *App) Reconciler() *reconciler.Reconciler {
	return a.reconciler
}

// Friends exposes the friend request actions.
func (a *App) Friends() *friends.Service {
	return a.friends
}

// ConnectionState returns the realtime channel state.
func (a *App) ConnectionState() core.ConnectionState {
	return a.channel.State()
}

// Close stops the session scope and closes the store. The session itself is
// kept so it can be restored on the next start.
func (a *App) Close() error {
	a.disarm()
	for _, unsub := range a.unsubs {
		unsub()
	}
	if a.store == nil {
		return nil
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
		return err
	}
	a.log.Info().Msg("store closed")
	return nil
}
