package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/utils"
)

const (
	peerQueueSize       = 32
	authenticateTimeout = 10 * time.Second
	closeTimeout        = 5 * time.Second
)

// peer is one authenticated realtime connection.
type peer struct {
	id      string
	userID  string
	tokenID string
	conn    *websocket.Conn
	send    chan proto.Envelope
}

// push queues env without blocking. It returns false when the queue is full.
func (p *peer) push(env proto.Envelope) bool {
	select {
	case p.send <- env:
		return true
	default:
		return false
	}
}

// Registry tracks live connections per user and fans events out to them.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]map[*peer]struct{}
	log   *zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{peers: make(map[string]map[*peer]struct{}), log: logger}
}

func (r *Registry) add(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.peers[p.userID]
	if !ok {
		set = make(map[*peer]struct{})
		r.peers[p.userID] = set
	}
	set[p] = struct{}{}
}

func (r *Registry) remove(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.peers[p.userID]
	delete(set, p)
	if len(set) == 0 {
		delete(r.peers, p.userID)
	}
}

// SendToUser queues env on every connection of userID and returns how many
// connections received it. Slow connections drop the event.
func (r *Registry) SendToUser(userID string, env proto.Envelope) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for p := range r.peers[userID] {
		if p.push(env) {
			n++
			continue
		}
		r.log.Warn().Str("peer_id", p.id).Str("event", env.Event).Msg("peer queue full, event dropped")
	}
	return n
}

// Connected reports how many live connections userID has.
func (r *Registry) Connected(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers[userID])
}

// CloseToken closes every connection opened with the token id using the
// unauthorized close code.
func (r *Registry) CloseToken(tokenID string) {
	r.mu.RLock()
	var victims []*peer
	for _, set := range r.peers {
		for p := range set {
			if p.tokenID == tokenID {
				victims = append(victims, p)
			}
		}
	}
	r.mu.RUnlock()

	for _, p := range victims {
		go func(p *peer) {
			_ = p.conn.Close(proto.CloseCodeUnauthorized, "token revoked")
		}(p)
	}
}

// WSHandler upgrades HTTP connections and bridges them to the registry.
type WSHandler struct {
	srv *Server
	log *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(srv *Server, logger *zerolog.Logger) http.Handler {
	return &WSHandler{srv: srv, log: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get(proto.TokenQueryParam)
	if token == "" {
		token, _ = bearerToken(r.Header.Get("Authorization"))
	}

	// A token offered in the handshake is checked before upgrading.
	var claims *Claims
	if token != "" {
		c, err := h.srv.verify(token)
		if err != nil {
			h.log.Debug().Err(err).Msg("ws handshake rejected")
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims = c
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if claims == nil {
		claims, err = h.authenticate(ctx, conn)
		if err != nil {
			h.log.Debug().Err(err).Msg("ws authenticate failed")
			_ = conn.Close(proto.CloseCodeUnauthorized, "unauthorized")
			return
		}
	}

	p := &peer{
		id:      utils.NewID(),
		userID:  claims.UserID,
		tokenID: claims.ID,
		conn:    conn,
		send:    make(chan proto.Envelope, peerQueueSize),
	}
	h.srv.peers.add(p)
	defer h.srv.peers.remove(p)
	h.log.Info().Str("peer_id", p.id).Str("user_id", p.userID).Msg("realtime peer connected")

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, p)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, p)
	}()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
			err = nil
		}
		if err != nil {
			status = websocket.StatusInternalError
			reason = err.Error()
			h.log.Warn().Err(err).Str("peer_id", p.id).Msg("ws connection closed with error")
		}
	}
	h.log.Info().Str("peer_id", p.id).Int("status", int(status)).Msg("realtime peer disconnected")
	_ = conn.Close(status, reason)
}

// authenticate waits for the post-connect authenticate message.
func (h *WSHandler) authenticate(ctx context.Context, conn *websocket.Conn) (*Claims, error) {
	actx, cancel := context.WithTimeout(ctx, authenticateTimeout)
	defer cancel()

	var env proto.Envelope
	if err := wsjson.Read(actx, conn, &env); err != nil {
		return nil, err
	}
	var data proto.AuthenticateData
	if env.Event != proto.CommandAuthenticate || json.Unmarshal(env.Data, &data) != nil || data.Token == "" {
		_ = wsjson.Write(actx, conn, errorEnvelope(proto.ErrCodeUnauthorized, "authenticate first"))
		return nil, errors.New("expected authenticate message")
	}
	claims, err := h.srv.verify(data.Token)
	if err != nil {
		_ = wsjson.Write(actx, conn, errorEnvelope(proto.ErrCodeUnauthorized, "invalid token"))
		return nil, err
	}
	reply, err := proto.NewEnvelope(proto.EventAuthenticated, proto.AuthenticatedData{UserID: claims.UserID})
	if err != nil {
		return nil, err
	}
	if err := wsjson.Write(actx, conn, reply); err != nil {
		return nil, err
	}
	return claims, nil
}

func (h *WSHandler) readLoop(ctx context.Context, p *peer) error {
	limiter := newRateLimiter(h.srv.cfg.CommandRateLimit)
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, p.conn, &env); err != nil {
			return err
		}
		if !limiter.allow() {
			p.push(errorEnvelope(proto.ErrCodeRateLimited, "too many commands"))
			continue
		}
		h.srv.handleCommand(p, env)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, p *peer) error {
	for {
		select {
		case env := <-p.send:
			wctx, cancel := context.WithTimeout(ctx, closeTimeout)
			err := wsjson.Write(wctx, p.conn, env)
			cancel()
			if err != nil {
				h.log.Error().Err(err).Str("peer_id", p.id).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
