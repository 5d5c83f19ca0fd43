// ABOUTME: Loader reconstructing the working message set for a turn
// ABOUTME: Enforces ownership, creates new chats and records the user message before any model call

package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/2389/serviceos-chat/internal/chaterr"
	"github.com/2389/serviceos-chat/internal/message"
	"github.com/2389/serviceos-chat/internal/store"
)

// LoadRequest identifies the turn being loaded.
type LoadRequest struct {
	ChatID string
	UserID string
	// Message is the new user message of a fresh turn.
	Message *message.Message
	// Messages is the full client-held list of a continuation.
	Messages   []message.Message
	Visibility store.Visibility
}

// Continuation reports whether the request continues an existing message.
func (r LoadRequest) Continuation() bool {
	return len(r.Messages) > 0
}

// Loaded is the working state of a turn.
type Loaded struct {
	Chat         *store.Chat
	Messages     []message.Message
	Continuation bool
	// NewChat is set when the chat was created by this request.
	NewChat bool
}

// Loader reconstructs conversation state.
type Loader struct {
	store store.Store
	now   func() time.Time
}

// NewLoader creates a loader.
func NewLoader(s store.Store) *Loader {
	return &Loader{store: s, now: time.Now}
}

// Load returns the working set for req.
func (l *Loader) Load(ctx context.Context, req LoadRequest) (*Loaded, error) {
	if req.UserID == "" {
		return nil, chaterr.Unauthorized("chat")
	}
	if !req.Continuation() && req.Message == nil {
		return nil, chaterr.BadRequest("api", "A message is required.")
	}

	chat, err := l.store.GetChatByID(ctx, req.ChatID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		chat = nil
	case err != nil:
		return nil, chaterr.Storage("chat", err)
	}
	if chat != nil && chat.UserID != req.UserID {
		return nil, chaterr.Forbidden("chat")
	}

	if req.Continuation() {
		if chat == nil {
			return nil, chaterr.NotFound("chat")
		}
		if err := l.checkWorkingSet(ctx, chat.ID, req.Messages); err != nil {
			return nil, err
		}
		return &Loaded{Chat: chat, Messages: req.Messages, Continuation: true}, nil
	}

	msg := req.Message.Clone()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = l.now().UTC()
	}

	out := &Loaded{Chat: chat}
	if chat == nil {
		if msg.Role != message.RoleUser {
			return nil, chaterr.BadRequest("api", "A new chat must start with a user message.")
		}
		chat = &store.Chat{
			ID:         req.ChatID,
			UserID:     req.UserID,
			Title:      store.DefaultChatTitle,
			Visibility: req.Visibility,
			CreatedAt:  l.now().UTC(),
		}
		if !chat.Visibility.Valid() {
			chat.Visibility = store.VisibilityPrivate
		}
		if err := l.store.SaveChat(ctx, chat); err != nil {
			return nil, chaterr.Storage("chat", err)
		}
		out.Chat = chat
		out.NewChat = true
	} else {
		history, err := l.store.GetMessagesByChatID(ctx, chat.ID)
		if err != nil {
			return nil, chaterr.Storage("chat", err)
		}
		out.Messages = store.Messages(history)
	}
	out.Messages = append(out.Messages, msg)

	if msg.Role == message.RoleUser {
		if err := l.store.SaveMessages(ctx, []*store.Message{store.NewMessage(chat.ID, msg)}); err != nil {
			return nil, chaterr.Storage("chat", err)
		}
	}
	return out, nil
}

// checkWorkingSet rejects a continuation that names a message stored under
// another chat. IDs the store has never seen are allowed; they are inserted
// on reconciliation.
func (l *Loader) checkWorkingSet(ctx context.Context, chatID string, msgs []message.Message) error {
	history, err := l.store.GetMessagesByChatID(ctx, chatID)
	if err != nil {
		return chaterr.Storage("chat", err)
	}
	known := make(map[string]bool, len(history))
	for _, m := range history {
		known[m.ID] = true
	}

	for _, m := range msgs {
		if known[m.ID] {
			continue
		}
		_, err := l.store.GetMessageByID(ctx, m.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return chaterr.Storage("chat", err)
		default:
			return chaterr.Forbidden("chat")
		}
	}
	return nil
}
