package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

const queueSize = 256

// Handler consumes an event. Handlers run one at a time on the hub goroutine
// and must not block on the hub itself.
type Handler func(ctx context.Context, ev *Event)

type subscription struct {
	id      int
	handler Handler
}

// Hub is the event loop between the realtime transport and the state owners.
// Events are dispatched serially in publish order.
type Hub struct {
	queue chan *Event
	done  chan struct{}
	once  sync.Once
	log   *zerolog.Logger

	mu     sync.RWMutex
	subs   map[EventKind][]subscription
	nextID int
}

// NewHub creates a hub; call Run to start dispatching.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		queue: make(chan *Event, queueSize),
		done:  make(chan struct{}),
		log:   logger,
		subs:  make(map[EventKind][]subscription),
	}
}

// Subscribe registers handler for the given kinds and returns an unsubscribe func.
func (h *Hub) Subscribe(handler Handler, kinds ...EventKind) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	for _, k := range kinds {
		h.subs[k] = append(h.subs[k], subscription{id: id, handler: handler})
	}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, k := range kinds {
			list := h.subs[k]
			for i, s := range list {
				if s.id == id {
					h.subs[k] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		}
	}
}

// Publish queues ev for dispatch. It blocks while the queue is full.
func (h *Hub) Publish(ctx context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.queue <- ev:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dispatches events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer h.once.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.queue:
			h.dispatch(ctx, ev)
		}
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) dispatch(ctx context.Context, ev *Event) {
	h.mu.RLock()
	list := h.subs[ev.Kind]
	handlers := make([]Handler, len(list))
	for i, s := range list {
		handlers[i] = s.handler
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		h.safeCall(ctx, handler, ev)
	}
}

func (h *Hub) safeCall(ctx context.Context, handler Handler, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Str("event", ev.Kind.String()).Msg("event handler panicked")
		}
	}()
	handler(ctx, ev)
}
