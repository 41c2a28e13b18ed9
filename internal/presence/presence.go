// Package presence reports the signed-in user's online flag as the app moves
// between foreground and background.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/session"
)

// AppState is the host application's lifecycle state.
type AppState int

const (
	AppActive AppState = iota
	AppInactive
	AppBackground
)

func (s AppState) String() string {
	switch s {
	case AppActive:
		return "active"
	case AppInactive:
		return "inactive"
	case AppBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Setter publishes the online flag for the current user.
type Setter interface {
	SetOnline(ctx context.Context, online bool) error
}

// SessionSource exposes the current session.
type SessionSource interface {
	Current() session.Snapshot
}

const defaultTimeout = 3 * time.Second

// Reporter turns lifecycle transitions into online/offline reports. Reports
// are delivered in order by a single worker and consecutive duplicates are
// suppressed. Failures are logged and not retried.
type Reporter struct {
	setter   Setter
	sessions SessionSource
	timeout  time.Duration
	log      *zerolog.Logger

	mu       sync.Mutex
	appState AppState
	mounted  bool
	hasLast  bool
	last     bool
	w        *worker
}

// NewReporter creates an unmounted reporter. timeout bounds each report.
func NewReporter(setter Setter, sessions SessionSource, timeout time.Duration, logger *zerolog.Logger) *Reporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Reporter{
		setter:   setter,
		sessions: sessions,
		timeout:  timeout,
		log:      logger,
		appState: AppActive,
	}
}

// AppState returns the last lifecycle state seen by the reporter.
func (r *Reporter) AppState() AppState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appState
}

// Mount starts reporting. When the user is signed in and the app is in the
// foreground the user is reported online.
func (r *Reporter) Mount() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mounted {
		return
	}
	r.mounted = true
	r.hasLast = false
	r.w = startWorker(r.deliver)

	if r.appState == AppActive && r.sessions.Current().IsAuthenticated() {
		r.enqueueLocked(true)
	}
}

// Unmount reports the user offline when signed in, then stops the worker.
// It waits at most the report timeout for pending reports to drain.
func (r *Reporter) Unmount() {
	r.mu.Lock()
	if !r.mounted {
		r.mu.Unlock()
		return
	}
	if r.sessions.Current().IsAuthenticated() {
		r.enqueueLocked(false)
	}
	r.mounted = false
	w := r.w
	r.w = nil
	r.mu.Unlock()

	w.stop()
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case <-w.done:
	case <-timer.C:
		r.log.Warn().Msg("presence reports still pending at unmount")
	}
}

// OnAppStateChange records a lifecycle transition and reports the matching
// online flag while signed in.
func (r *Reporter) OnAppStateChange(next AppState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.appState
	r.appState = next
	if prev == next || !r.mounted || !r.sessions.Current().IsAuthenticated() {
		return
	}

	switch {
	case prev != AppActive && next == AppActive:
		r.enqueueLocked(true)
	case prev == AppActive && next != AppActive:
		r.enqueueLocked(false)
	}
}

func (r *Reporter) enqueueLocked(online bool) {
	if r.hasLast && r.last == online {
		return
	}
	r.hasLast = true
	r.last = online
	r.w.push(online)
}

func (r *Reporter) deliver(online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.setter.SetOnline(ctx, online); err != nil {
		r.log.Warn().Err(err).Bool("is_online", online).Msg("presence report failed")
		return
	}
	r.log.Debug().Bool("is_online", online).Msg("presence reported")
}

// worker delivers queued reports one at a time.
type worker struct {
	mu      sync.Mutex
	pending []bool
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func startWorker(deliver func(bool)) *worker {
	w := &worker{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.loop(deliver)
	return w
}

func (w *worker) push(online bool) {
	w.mu.Lock()
	w.pending = append(w.pending, online)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) next() (bool, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return false, false
	}
	v := w.pending[0]
	w.pending = w.pending[1:]
	return v, true
}

func (w *worker) stop() {
	w.once.Do(func() { close(w.quit) })
}

func (w *worker) loop(deliver func(bool)) {
	defer close(w.done)
	for {
		if v, ok := w.next(); ok {
			deliver(v)
			continue
		}
		select {
		case <-w.wake:
		case <-w.quit:
			// drain what was queued before the stop
			for {
				v, ok := w.next()
				if !ok {
					return
				}
				deliver(v)
			}
		}
	}
}
