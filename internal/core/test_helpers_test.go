package core

import (
	"context"
	"testing"
	"time"
)

func collect(h *Hub, kinds ...EventKind) <-chan *Event {
	ch := make(chan *Event, 64)
	h.Subscribe(func(_ context.Context, ev *Event) { ch <- ev }, kinds...)
	return ch
}

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event kind %v not received", kind)
			return nil
		}
	}
}
