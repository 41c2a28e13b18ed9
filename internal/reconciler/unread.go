package reconciler

import (
	"context"
	"time"
)

// Unread returns the unread message total last reported by the backend.
func (r *Reconciler) Unread() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unread
}

// UnreadFor returns the unread count of one conversation.
func (r *Reconciler) UnreadFor(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perConv[conversationID]
}

// PollUnread fetches unread counts and replaces the counter with their sum.
// On failure the counter keeps its previous value.
func (r *Reconciler) PollUnread(ctx context.Context) error {
	resp, err := r.backend.UnreadCounts(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("unread poll failed")
		return err
	}

	perConv := make(map[string]int, len(resp.Conversations))
	for _, c := range resp.Conversations {
		if c.UnreadCount > 0 {
			perConv[c.ConversationID] = c.UnreadCount
		}
	}
	total := resp.Total()

	r.mu.Lock()
	changed := r.unread != total
	r.unread = total
	r.perConv = perConv
	r.mu.Unlock()

	if changed {
		r.log.Debug().Int("unread", total).Msg("unread counter replaced")
		r.emit(Change{Kind: ChangeUnread, Unread: total})
	}
	return nil
}

// MarkConversationRead asks the backend to mark a conversation read and then
// refetches the counts. The local counter only moves from backend data.
func (r *Reconciler) MarkConversationRead(ctx context.Context, conversationID string) error {
	if err := r.backend.MarkConversationRead(ctx, conversationID); err != nil {
		r.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("mark read failed")
		return err
	}
	return r.PollUnread(ctx)
}

// RunPoller polls immediately and then every interval until ctx is cancelled.
func (r *Reconciler) RunPoller(ctx context.Context, interval time.Duration) {
	_ = r.PollUnread(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.PollUnread(ctx)
		}
	}
}
