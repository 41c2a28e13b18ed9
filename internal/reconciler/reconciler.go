// Package reconciler merges realtime friend events and periodic REST polls
// into the local friend request list and unread counters.
package reconciler

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/api"
	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/session"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// Backend is the REST surface the reconciler reads from.
type Backend interface {
	UnreadCounts(ctx context.Context) (*api.UnreadResponse, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
	ListFriendRequests(ctx context.Context) ([]store.FriendRequest, error)
}

// SessionSource exposes the signed-in user that incoming requests are
// addressed to.
type SessionSource interface {
	Current() session.Snapshot
}

// ChangeKind names what a Change reports.
type ChangeKind string

const (
	ChangeFriendRequest ChangeKind = "friend_request"
	ChangeUnread        ChangeKind = "unread"
	ChangeNotifications ChangeKind = "notifications"
)

// Change is delivered to observers after local state moved.
type Change struct {
	Kind          ChangeKind
	Request       *store.FriendRequest
	Unread        int
	Notifications int
}

// Reconciler owns the local friend request list, the unread counter and the
// friend notification counter. The two counters are independent.
type Reconciler struct {
	backend  Backend
	store    store.FriendRequestStore
	sessions SessionSource
	log      *zerolog.Logger

	mu            sync.RWMutex
	requests      map[string]*store.FriendRequest
	unread        int
	perConv       map[string]int
	notifications int

	obsMu     sync.Mutex
	observers map[int]func(Change)
	nextObs   int
}

// New creates an empty reconciler. st may be nil.
func New(backend Backend, st store.FriendRequestStore, logger *zerolog.Logger) *Reconciler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Reconciler{
		backend:   backend,
		store:     st,
		log:       logger,
		requests:  make(map[string]*store.FriendRequest),
		perConv:   make(map[string]int),
		observers: make(map[int]func(Change)),
	}
}

// UseSession sets the session incoming requests without a receiver are
// attributed to.
func (r *Reconciler) UseSession(src SessionSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = src
}

// Attach subscribes the reconciler to friend events on hub.
func (r *Reconciler) Attach(hub *core.Hub) func() {
	return hub.Subscribe(r.handle,
		core.EventFriendRequest,
		core.EventFriendRequestAccepted,
		core.EventFriendRequestRejected,
		core.EventFriendRequestCancelled,
	)
}

// Subscribe registers fn for state changes and returns an unsubscribe func.
func (r *Reconciler) Subscribe(fn func(Change)) func() {
	r.obsMu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	r.obsMu.Unlock()

	return func() {
		r.obsMu.Lock()
		delete(r.observers, id)
		r.obsMu.Unlock()
	}
}

func (r *Reconciler) handle(ctx context.Context, ev *core.Event) {
	if ev.Kind == core.EventFriendRequest {
		if ev.FriendRequest != nil {
			r.receive(ctx, ev.FriendRequest)
		}
		return
	}
	status, ok := ev.Kind.TargetStatus()
	if !ok {
		return
	}
	r.Transition(ctx, ev.RequestID, status)
}

// receive records an incoming request announced over realtime.
func (r *Reconciler) receive(ctx context.Context, req *store.FriendRequest) {
	r.mu.Lock()
	if _, exists := r.requests[req.ID]; exists {
		r.mu.Unlock()
		r.log.Debug().Str("request_id", req.ID).Msg("duplicate friend request ignored")
		return
	}
	stored := *req
	if stored.ReceiverID == "" && r.sessions != nil {
		stored.ReceiverID = r.sessions.Current().UserID()
	}
	r.requests[req.ID] = &stored
	if stored.Status == store.FriendRequestPending {
		r.notifications++
	}
	notifications := r.notifications
	r.mu.Unlock()

	r.persist(ctx, &stored)
	r.log.Info().Str("request_id", stored.ID).Str("sender_id", stored.SenderID).Msg("friend request received")
	r.emit(Change{Kind: ChangeFriendRequest, Request: &stored})
	r.emit(Change{Kind: ChangeNotifications, Notifications: notifications})
}

// Add records a request created locally, such as one the user just sent.
// Existing entries are left as they are.
func (r *Reconciler) Add(ctx context.Context, req store.FriendRequest) bool {
	if req.ID == "" {
		return false
	}
	if !req.Status.Valid() {
		req.Status = store.FriendRequestPending
	}
	r.mu.Lock()
	if _, exists := r.requests[req.ID]; exists {
		r.mu.Unlock()
		return false
	}
	r.requests[req.ID] = &req
	r.mu.Unlock()

	r.persist(ctx, &req)
	r.emit(Change{Kind: ChangeFriendRequest, Request: &req})
	return true
}

// Transition moves a pending request to a terminal status. Unknown ids and
// requests already in a terminal status are left unchanged.
func (r *Reconciler) Transition(ctx context.Context, id string, next store.FriendRequestStatus) bool {
	r.mu.Lock()
	cur, ok := r.requests[id]
	if !ok {
		r.mu.Unlock()
		r.log.Debug().Str("request_id", id).Str("status", string(next)).Msg("transition for unknown friend request ignored")
		return false
	}
	if !cur.Status.CanTransition(next) {
		r.mu.Unlock()
		r.log.Debug().Str("request_id", id).Str("from", string(cur.Status)).Str("to", string(next)).Msg("friend request transition ignored")
		return false
	}
	updated := *cur
	updated.Status = next
	r.requests[id] = &updated
	r.mu.Unlock()

	r.persist(ctx, &updated)
	r.log.Info().Str("request_id", id).Str("status", string(next)).Msg("friend request updated")
	r.emit(Change{Kind: ChangeFriendRequest, Request: &updated})
	return true
}

// CanTransition reports whether the request id is known and may move to next.
func (r *Reconciler) CanTransition(id string, next store.FriendRequestStatus) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.requests[id]
	return ok && cur.Status.CanTransition(next)
}

// FriendRequest returns a copy of the request with id.
func (r *Reconciler) FriendRequest(id string) (store.FriendRequest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return store.FriendRequest{}, false
	}
	return *req, true
}

// FriendRequests returns all known requests, oldest first.
func (r *Reconciler) FriendRequests() []store.FriendRequest {
	r.mu.RLock()
	out := make([]store.FriendRequest, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, *req)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Notifications returns the number of friend requests received over realtime
// since the user last marked them seen.
func (r *Reconciler) Notifications() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notifications
}

// MarkNotificationsSeen resets the friend notification counter.
func (r *Reconciler) MarkNotificationsSeen() {
	r.mu.Lock()
	changed := r.notifications != 0
	r.notifications = 0
	r.mu.Unlock()
	if changed {
		r.emit(Change{Kind: ChangeNotifications})
	}
}

// Hydrate seeds the request list from the backend. Rows are merged with the
// same rules as realtime events: new ids are added, pending ids may move to a
// terminal status, terminal ids never change.
func (r *Reconciler) Hydrate(ctx context.Context) error {
	rows, err := r.backend.ListFriendRequests(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("friend request hydration failed")
		return err
	}
	added, moved := 0, 0
	for i := range rows {
		row := rows[i]
		if row.ID == "" {
			continue
		}
		if !row.Status.Valid() {
			row.Status = store.FriendRequestPending
		}
		if _, known := r.FriendRequest(row.ID); !known {
			if r.Add(ctx, row) {
				added++
			}
			continue
		}
		if row.Status.Terminal() && r.Transition(ctx, row.ID, row.Status) {
			moved++
		}
	}
	r.log.Debug().Int("rows", len(rows)).Int("added", added).Int("moved", moved).Msg("friend requests hydrated")
	return nil
}

// LoadLocal seeds the request list from local storage, keeping only requests
// that involve userID.
func (r *Reconciler) LoadLocal(ctx context.Context, userID string) error {
	if r.store == nil {
		return nil
	}
	rows, err := r.store.ListFriendRequests(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	for _, row := range rows {
		if row.SenderID != userID && row.ReceiverID != userID {
			continue
		}
		if _, exists := r.requests[row.ID]; !exists {
			r.requests[row.ID] = row
		}
	}
	r.mu.Unlock()
	return nil
}

// Reset drops all in-memory state. Stored rows remain as an audit trail.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.requests = make(map[string]*store.FriendRequest)
	r.perConv = make(map[string]int)
	r.unread = 0
	r.notifications = 0
	r.mu.Unlock()
}

func (r *Reconciler) persist(ctx context.Context, req *store.FriendRequest) {
	if r.store == nil {
		return
	}
	if err := r.store.UpsertFriendRequest(context.WithoutCancel(ctx), req); err != nil {
		r.log.Warn().Err(err).Str("request_id", req.ID).Msg("failed to persist friend request")
	}
}

func (r *Reconciler) emit(ch Change) {
	r.obsMu.Lock()
	fns := make([]func(Change), 0, len(r.observers))
	for _, fn := range r.observers {
		fns = append(fns, fn)
	}
	r.obsMu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}
