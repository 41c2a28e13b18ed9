// Package realtime maintains the single authenticated WebSocket channel of a
// signed-in session.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

var (
	// ErrNotConnected is returned when a command is issued while the channel
	// is not connected. The command is dropped.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrAuthRejected is reported when the server refuses the token.
	ErrAuthRejected = errors.New("realtime: credential rejected")
)

const (
	dialTimeout      = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	publishTimeout   = time.Second
)

// Options configures the channel transport.
type Options struct {
	URL               string
	Handshake         string
	Reconnection      bool
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	HTTPClient        *http.Client
}

// OptionsFromConfig builds Options from client configuration.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		URL:               cfg.RealtimeURL,
		Handshake:         cfg.Realtime.Handshake,
		Reconnection:      cfg.Realtime.Reconnection,
		ReconnectAttempts: cfg.Realtime.ReconnectAttempts,
		ReconnectDelay:    cfg.Realtime.ReconnectDelay,
		ReconnectDelayMax: cfg.Realtime.ReconnectDelayMax,
	}
}

// Publisher receives domain events decoded from the channel.
type Publisher interface {
	Publish(ctx context.Context, ev *core.Event) error
}

// Channel owns at most one live connection at a time.
type Channel struct {
	opts Options
	pub  Publisher
	log  *zerolog.Logger
	now  func() time.Time

	// lifeMu serialises Initialize and Disconnect.
	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state core.ConnectionState
	conn  *websocket.Conn
}

// New creates a disconnected channel.
func New(opts Options, pub Publisher, logger *zerolog.Logger) *Channel {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.Handshake == "" {
		opts.Handshake = config.HandshakeToken
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.ReconnectDelayMax < opts.ReconnectDelay {
		opts.ReconnectDelayMax = opts.ReconnectDelay
	}
	return &Channel{
		opts:  opts,
		pub:   pub,
		log:   logger,
		now:   time.Now,
		state: core.ConnDisconnected,
	}
}

// State returns the current connection state.
func (c *Channel) State() core.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Initialize opens a channel authenticated with token, tearing down any
// existing one first. It returns once the connection loop has started; state
// changes are published as EventConnectionState.
func (c *Channel) Initialize(ctx context.Context, token string) error {
	if token == "" {
		return ErrAuthRejected
	}
	if _, err := url.Parse(c.opts.URL); err != nil || c.opts.URL == "" {
		return fmt.Errorf("realtime: invalid url %q", c.opts.URL)
	}

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.teardownLocked()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go c.run(runCtx, token, done)
	return nil
}

// Disconnect closes the channel. Calling it on a disconnected channel is a no-op.
func (c *Channel) Disconnect() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.teardownLocked()
	c.setState(core.ConnDisconnected, false)
}

func (c *Channel) teardownLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
}

// Send emits cmd without waiting for an acknowledgement. When the channel is
// not connected the command is dropped and ErrNotConnected returned.
func (c *Channel) Send(ctx context.Context, cmd core.Command) error {
	env, err := envelopeFromCommand(cmd)
	if err != nil {
		return fmt.Errorf("realtime: %w", err)
	}

	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != core.ConnConnected || conn == nil {
		c.log.Debug().Str("command", env.Event).Str("request_id", cmd.RequestID).Msg("command dropped, channel not connected")
		return ErrNotConnected
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, env); err != nil {
		c.log.Warn().Err(err).Str("command", env.Event).Msg("command write failed")
		return fmt.Errorf("realtime: send %s: %w", env.Event, err)
	}
	return nil
}

func (c *Channel) run(ctx context.Context, token string, done chan struct{}) {
	defer close(done)

	attempt := 0
	everConnected := false
	for {
		if attempt > 0 {
			if !c.opts.Reconnection || attempt > c.opts.ReconnectAttempts {
				c.log.Warn().Int("attempts", attempt-1).Msg("realtime reconnection exhausted")
				c.setState(core.ConnDisconnected, false)
				return
			}
			if !sleepCtx(ctx, c.backoff(attempt)) {
				c.setState(core.ConnDisconnected, false)
				return
			}
		}

		c.setState(core.ConnConnecting, false)
		conn, err := c.connect(ctx, token)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				c.setState(core.ConnDisconnected, false)
				return
			case errors.Is(err, ErrAuthRejected):
				c.log.Warn().Err(err).Msg("realtime handshake rejected")
				c.setState(core.ConnAuthFailed, false)
				return
			}
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("realtime connect failed")
			c.setState(core.ConnDisconnected, false)
			attempt++
			continue
		}

		c.attach(conn, everConnected)
		everConnected = true
		attempt = 0

		err = c.readLoop(ctx, conn)
		c.detach()

		switch {
		case ctx.Err() != nil:
			_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
			c.setState(core.ConnDisconnected, false)
			return
		case errors.Is(err, ErrAuthRejected):
			_ = conn.CloseNow()
			c.log.Warn().Msg("realtime credential rejected by server")
			c.setState(core.ConnAuthFailed, false)
			return
		}

		_ = conn.CloseNow()
		c.log.Info().Err(err).Msg("realtime connection dropped")
		c.setState(core.ConnDisconnected, false)
		attempt = 1
	}
}

func (c *Channel) connect(ctx context.Context, token string) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set(proto.TokenQueryParam, token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{
		HTTPClient: c.opts.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	if c.opts.Handshake == config.HandshakeMessage {
		if err := c.authenticate(ctx, conn, token); err != nil {
			_ = conn.CloseNow()
			return nil, err
		}
	}
	return conn, nil
}

// authenticate sends the post-connect authenticate message and waits for the
// server to confirm it.
func (c *Channel) authenticate(ctx context.Context, conn *websocket.Conn, token string) error {
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	env, err := proto.NewEnvelope(proto.CommandAuthenticate, proto.AuthenticateData{Token: token})
	if err != nil {
		return err
	}
	if err := wsjson.Write(hctx, conn, env); err != nil {
		return fmt.Errorf("send authenticate: %w", err)
	}

	for {
		var reply proto.Envelope
		if err := wsjson.Read(hctx, conn, &reply); err != nil {
			if websocket.CloseStatus(err) == proto.CloseCodeUnauthorized {
				return ErrAuthRejected
			}
			return fmt.Errorf("await authenticated: %w", err)
		}
		switch reply.Event {
		case proto.EventAuthenticated:
			return nil
		case proto.EventError:
			_, perr, _ := eventFromEnvelope(reply, c.now())
			if perr != nil && perr.Code == proto.ErrCodeUnauthorized {
				return fmt.Errorf("%w: %s", ErrAuthRejected, perr.Msg)
			}
		default:
			c.log.Debug().Str("event", reply.Event).Msg("frame before authentication ignored")
		}
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if websocket.CloseStatus(err) == proto.CloseCodeUnauthorized {
				return ErrAuthRejected
			}
			return err
		}

		ev, perr, err := eventFromEnvelope(env, c.now())
		if err != nil {
			c.log.Warn().Err(err).Str("event", env.Event).Msg("malformed realtime frame")
			continue
		}
		if perr != nil {
			if perr.Code == proto.ErrCodeUnauthorized {
				return ErrAuthRejected
			}
			c.log.Warn().Str("code", perr.Code).Str("msg", perr.Msg).Msg("realtime error frame")
			continue
		}
		if ev == nil {
			c.log.Debug().Str("event", env.Event).Msg("unhandled realtime frame")
			continue
		}
		c.publish(ev)
	}
}

func (c *Channel) attach(conn *websocket.Conn, reconnected bool) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(core.ConnConnected, reconnected)
}

func (c *Channel) detach() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

func (c *Channel) setState(next core.ConnectionState, reconnected bool) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if prev == next {
		return
	}
	c.log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("realtime state")
	c.publish(&core.Event{
		Kind:       core.EventConnectionState,
		Connection: &core.ConnectionChange{From: prev, To: next, Reconnected: reconnected},
	})
}

func (c *Channel) publish(ev *core.Event) {
	if c.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.pub.Publish(ctx, ev); err != nil {
		c.log.Warn().Err(err).Str("event", ev.Kind.String()).Msg("failed to publish realtime event")
	}
}

// backoff doubles the base delay per attempt up to the configured maximum.
func (c *Channel) backoff(attempt int) time.Duration {
	d := c.opts.ReconnectDelay
	for i := 1; i < attempt && d < c.opts.ReconnectDelayMax; i++ {
		d *= 2
	}
	if d > c.opts.ReconnectDelayMax {
		d = c.opts.ReconnectDelayMax
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
