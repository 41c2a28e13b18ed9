package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/wirechat-sync/internal/api"
	"github.com/vovakirdan/wirechat-sync/internal/session"
)

// Verdict is the outcome of a token check.
type Verdict int

const (
	// VerdictValid means the backend accepted the token.
	VerdictValid Verdict = iota
	// VerdictRejected means the token is expired or the backend refused it.
	VerdictRejected
	// VerdictUnreachable means the check could not complete (timeout, network).
	VerdictUnreachable
)

func (v Verdict) String() string {
	switch v {
	case VerdictValid:
		return "valid"
	case VerdictRejected:
		return "rejected"
	case VerdictUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Triggers recorded in logs.
const (
	TriggerResume   = "resume"
	TriggerPeriodic = "periodic"
	TriggerRestore  = "restore"
)

// ExpiredMessage is shown to the user after a forced logout.
const ExpiredMessage = "Your session has expired. Please log in again."

// Checker asks the backend whether a token is still accepted.
type Checker interface {
	ValidateToken(ctx context.Context, token string) error
}

// InvalidFunc is called when the current session's token is rejected.
type InvalidFunc func(ctx context.Context, message string)

// Validator re-checks the session token against the backend.
// Concurrent checks of the same token share one request.
type Validator struct {
	checker   Checker
	sessions  *session.Manager
	timeout   time.Duration
	onInvalid InvalidFunc
	now       func() time.Time
	group     singleflight.Group
	log       *zerolog.Logger
}

// NewValidator creates a validator. onInvalid runs once per rejected check.
func NewValidator(checker Checker, sessions *session.Manager, timeout time.Duration, onInvalid InvalidFunc, logger *zerolog.Logger) *Validator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Validator{
		checker:   checker,
		sessions:  sessions,
		timeout:   timeout,
		onInvalid: onInvalid,
		now:       time.Now,
		log:       logger,
	}
}

// ValidateToken checks token and returns the verdict. It has no side effects
// beyond the network call.
func (v *Validator) ValidateToken(ctx context.Context, token string) Verdict {
	if token == "" {
		return VerdictRejected
	}
	if ExpiredAt(token, v.now()) {
		return VerdictRejected
	}

	// The shared request outlives any one caller; a caller whose ctx ends
	// stops waiting and gets VerdictUnreachable.
	ch := v.group.DoChan(token, func() (any, error) {
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
		defer cancel()
		return classify(v.checker.ValidateToken(reqCtx, token)), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Verdict)
	case <-ctx.Done():
		return VerdictUnreachable
	}
}

// Validate reports whether the current session token is accepted. Any
// failure, including a timeout, counts as invalid.
func (v *Validator) Validate(ctx context.Context) bool {
	snap := v.sessions.Current()
	if !snap.IsAuthenticated() {
		return false
	}
	return v.ValidateToken(ctx, snap.Token) == VerdictValid
}

// Check validates the current session and forces a logout when the token was
// rejected. Unreachable verdicts are logged and left for the next trigger.
func (v *Validator) Check(ctx context.Context, trigger string) Verdict {
	snap := v.sessions.Current()
	if !snap.IsAuthenticated() {
		return VerdictRejected
	}

	verdict := v.ValidateToken(ctx, snap.Token)
	logEvent := v.log.Debug()
	if verdict != VerdictValid {
		logEvent = v.log.Warn()
	}
	logEvent.Str("trigger", trigger).Str("verdict", verdict.String()).Str("user_id", snap.UserID()).Msg("token check")

	if verdict != VerdictRejected {
		return verdict
	}
	// A newer login may have replaced the token while the check was in flight.
	if cur := v.sessions.Current(); !cur.IsAuthenticated() || cur.Token != snap.Token {
		return verdict
	}
	if v.onInvalid != nil {
		v.onInvalid(ctx, ExpiredMessage)
	}
	return verdict
}

// Run checks the session every interval until ctx is cancelled.
func (v *Validator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if v.Check(ctx, TriggerPeriodic) == VerdictRejected {
				return
			}
		}
	}
}

func classify(err error) Verdict {
	if err == nil {
		return VerdictValid
	}
	var se *api.StatusError
	if errors.As(err, &se) {
		if se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden {
			return VerdictRejected
		}
	}
	return VerdictUnreachable
}
