package app

import (
	"context"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/session"
)

// arm starts the session-scoped work: realtime channel, periodic validation,
// unread polling, friend request hydration and presence.
func (a *App) arm(snap session.Snapshot) {
	if !snap.IsAuthenticated() {
		return
	}

	a.mu.Lock()
	if a.scope != nil {
		a.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(a.baseCtx)
	sc := &sessionScope{ctx: ctx, cancel: cancel, token: snap.Token}
	sc.wg.Add(3)
	a.scope = sc
	a.mu.Unlock()

	if err := a.reconciler.LoadLocal(ctx, snap.UserID()); err != nil {
		a.log.Warn().Err(err).Msg("failed to load local friend requests")
	}

	go func() {
		defer sc.wg.Done()
		a.validator.Run(ctx, a.cfg.ValidateInterval)
	}()
	go func() {
		defer sc.wg.Done()
		a.reconciler.RunPoller(ctx, a.cfg.PollInterval)
	}()
	go func() {
		defer sc.wg.Done()
		_ = a.reconciler.Hydrate(ctx)
	}()

	if err := a.channel.Initialize(ctx, snap.Token); err != nil {
		a.log.Warn().Err(err).Msg("realtime initialize failed")
	}
	a.presence.Mount()
	a.log.Info().Str("user_id", snap.UserID()).Msg("session scope armed")
}

// disarm stops everything arm started. The presence offline report goes out
// before the channel closes, while the token is still set.
func (a *App) disarm() {
	a.mu.Lock()
	sc := a.scope
	a.scope = nil
	a.mu.Unlock()
	if sc == nil {
		return
	}

	a.presence.Unmount()
	a.channel.Disconnect()
	sc.cancel()
	sc.wg.Wait()
	a.log.Info().Msg("session scope disarmed")
}

// spawn runs fn in the current scope, if any, and reports whether it did.
// disarm waits for it.
func (a *App) spawn(fn func(ctx context.Context)) bool {
	a.mu.Lock()
	sc := a.scope
	if sc == nil {
		a.mu.Unlock()
		return false
	}
	sc.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer sc.wg.Done()
		fn(sc.ctx)
	}()
	return true
}

func (a *App) scopeToken() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scope == nil {
		return "", false
	}
	return a.scope.token, true
}

// onTokenRejected runs on the validator's goroutine, which belongs to the
// scope being torn down, so the logout happens elsewhere.
func (a *App) onTokenRejected(_ context.Context, message string) {
	token := a.sessions.Current().Token
	go a.forceLogout(token, message)
}

// forceLogout clears the session the token belongs to and surfaces message.
// A session that has since been replaced is left alone.
func (a *App) forceLogout(token, message string) {
	if cur := a.sessions.Current(); !cur.IsAuthenticated() || cur.Token != token {
		return
	}
	a.disarm()
	if !a.sessions.Logout(context.Background(), session.ReasonForced) {
		return
	}
	a.reconciler.Reset()

	a.mu.Lock()
	notify := a.notify
	a.mu.Unlock()
	a.log.Warn().Msg("session invalidated, logged out")
	if notify != nil {
		notify(message)
	}
}

func (a *App) onConnectionState(_ context.Context, ev *core.Event) {
	change := ev.Connection
	if change == nil {
		return
	}

	switch {
	case change.To == core.ConnAuthFailed:
		if token, ok := a.scopeToken(); ok {
			go a.forceLogout(token, auth.ExpiredMessage)
		}
	case change.To == core.ConnConnected && change.Reconnected:
		// Events sent while the channel was down are recovered from REST.
		a.spawn(a.resync)
	}
}

func (a *App) resync(ctx context.Context) {
	a.log.Info().Msg("realtime reconnected, resyncing")
	_ = a.reconciler.Hydrate(ctx)
	_ = a.reconciler.PollUnread(ctx)
}

func (a *App) onSessionChange(prev, next session.Snapshot, _ session.Reason) {
	if prev.IsAuthenticated() && !next.IsAuthenticated() {
		a.disarm()
	}
}
