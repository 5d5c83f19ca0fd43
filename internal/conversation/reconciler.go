// ABOUTME: Reconciler persisting produced messages after a turn halts
// ABOUTME: Continuations update known messages in place; everything else is inserted

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/serviceos-chat/internal/chaterr"
	"github.com/2389/serviceos-chat/internal/message"
	"github.com/2389/serviceos-chat/internal/store"
)

// writeTimeout bounds each persistence write.
const writeTimeout = 5 * time.Second

// Reconciler writes turn output to the store.
type Reconciler struct {
	store  store.Store
	now    func() time.Time
	logger *slog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(s store.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: s, now: time.Now, logger: logger.With("component", "reconciler")}
}

// Reconcile persists produced for chatID. For a continuation, messages
// whose ID is in working are updated in place; the rest are inserted, as
// are working-set messages the chat has never stored. Message identities
// are never rewritten. Writes use a context detached from ctx.
func (r *Reconciler) Reconcile(ctx context.Context, chatID string, working, produced []message.Message, continuation bool) error {
	if len(produced) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	if !continuation {
		return r.save(ctx, chatID, produced)
	}

	var fresh []message.Message
	for _, m := range produced {
		if !message.ContainsID(working, m.ID) {
			fresh = append(fresh, m)
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := r.store.UpdateMessage(wctx, chatID, m.ID, m.Parts)
		cancel()
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Debug("message not stored yet, inserting", "chat_id", chatID, "message_id", m.ID)
			fresh = append(fresh, m)
			continue
		}
		if err != nil {
			return chaterr.Storage("chat", fmt.Errorf("update message %s: %w", m.ID, err))
		}
		r.logger.Debug("message updated", "chat_id", chatID, "message_id", m.ID, "parts", len(m.Parts))
	}
	return r.save(ctx, chatID, fresh)
}

func (r *Reconciler) save(ctx context.Context, chatID string, msgs []message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]*store.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = r.now().UTC()
		}
		rows = append(rows, store.NewMessage(chatID, m))
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := r.store.SaveMessages(wctx, rows); err != nil {
		return chaterr.Storage("chat", fmt.Errorf("save messages: %w", err))
	}
	r.logger.Debug("messages saved", "chat_id", chatID, "count", len(rows))
	return nil
}
