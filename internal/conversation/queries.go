// ABOUTME: Ownership-checked chat operations: history, deletion, votes, visibility, resume
// ABOUTME: Private chats are visible to their owner only; public chats to any signed-in user

package conversation

import (
	"context"
	"errors"

	"github.com/2389/serviceos-chat/internal/chaterr"
	"github.com/2389/serviceos-chat/internal/message"
	"github.com/2389/serviceos-chat/internal/store"
	"github.com/2389/serviceos-chat/internal/stream"
)

// chat loads a chat for userID. When owned is set only the owner may access
// it; otherwise public chats are readable by anyone signed in.
func (s *Service) chat(ctx context.Context, surface, userID, chatID string, owned bool) (*store.Chat, error) {
	if userID == "" {
		return nil, chaterr.Unauthorized(surface)
	}
	if chatID == "" {
		return nil, chaterr.BadRequest(surface, "A chat id is required.")
	}
	chat, err := s.store.GetChatByID(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, chaterr.NotFound(surface)
	}
	if err != nil {
		return nil, chaterr.Storage(surface, err)
	}
	if chat.UserID == userID {
		return chat, nil
	}
	if owned || chat.Visibility != store.VisibilityPublic {
		return nil, chaterr.Forbidden(surface)
	}
	return chat, nil
}

// DeleteChat removes a chat and everything that belongs to it.
func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) (*store.Chat, error) {
	if _, err := s.chat(ctx, "chat", userID, chatID, true); err != nil {
		return nil, err
	}
	deleted, err := s.store.DeleteChatByID(ctx, chatID)
	if err != nil {
		return nil, chaterr.Storage("chat", err)
	}
	s.logger.Info("chat deleted", "chat_id", chatID, "user_id", userID)
	return deleted, nil
}

// DeleteAllChats removes every chat owned by userID and returns how many
// were deleted.
func (s *Service) DeleteAllChats(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, chaterr.Unauthorized("history")
	}
	n, err := s.store.DeleteAllChatsByUserID(ctx, userID)
	if err != nil {
		return 0, chaterr.Storage("history", err)
	}
	return n, nil
}

// ListChats returns a page of the user's chats, newest first.
func (s *Service) ListChats(ctx context.Context, params store.ListChatsParams) (*store.ChatPage, error) {
	if params.UserID == "" {
		return nil, chaterr.Unauthorized("history")
	}
	if params.StartingAfter != "" && params.EndingBefore != "" {
		return nil, chaterr.BadRequest("history", "Only one of starting_after or ending_before can be provided.")
	}
	page, err := s.store.ListChatsByUserID(ctx, params)
	if errors.Is(err, store.ErrNotFound) {
		return nil, chaterr.NotFound("history")
	}
	if err != nil {
		return nil, chaterr.Storage("history", err)
	}
	return page, nil
}

// GetMessages returns a chat's messages in order.
func (s *Service) GetMessages(ctx context.Context, userID, chatID string) ([]message.Message, error) {
	if _, err := s.chat(ctx, "chat", userID, chatID, false); err != nil {
		return nil, err
	}
	rows, err := s.store.GetMessagesByChatID(ctx, chatID)
	if err != nil {
		return nil, chaterr.Storage("chat", err)
	}
	return store.Messages(rows), nil
}

// Vote records the user's rating of a message in their chat.
func (s *Service) Vote(ctx context.Context, userID, chatID, messageID string, upvote bool) error {
	if messageID == "" {
		return chaterr.BadRequest("vote", "A message id is required.")
	}
	if _, err := s.chat(ctx, "vote", userID, chatID, true); err != nil {
		return err
	}
	msg, err := s.store.GetMessageByID(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && msg.ChatID != chatID) {
		return chaterr.NotFound("vote")
	}
	if err != nil {
		return chaterr.Storage("vote", err)
	}
	if err := s.store.VoteMessage(ctx, chatID, messageID, upvote); err != nil {
		return chaterr.Storage("vote", err)
	}
	return nil
}

// GetVotes returns the votes of a chat.
func (s *Service) GetVotes(ctx context.Context, userID, chatID string) ([]*store.Vote, error) {
	if _, err := s.chat(ctx, "vote", userID, chatID, true); err != nil {
		return nil, err
	}
	votes, err := s.store.GetVotesByChatID(ctx, chatID)
	if err != nil {
		return nil, chaterr.Storage("vote", err)
	}
	return votes, nil
}

// SetVisibility changes who may read a chat.
func (s *Service) SetVisibility(ctx context.Context, userID, chatID string, visibility store.Visibility) error {
	if !visibility.Valid() {
		return chaterr.BadRequest("chat", "Visibility must be public or private.")
	}
	if _, err := s.chat(ctx, "chat", userID, chatID, true); err != nil {
		return err
	}
	if err := s.store.UpdateChatVisibility(ctx, chatID, visibility); err != nil {
		return chaterr.Storage("chat", err)
	}
	return nil
}

// Resume re-attaches to the chat's latest stream after the given sequence
// number. A nil channel means there is nothing to resume.
func (s *Service) Resume(ctx context.Context, userID, chatID string, after int64) (<-chan stream.Chunk, error) {
	if _, err := s.chat(ctx, "stream", userID, chatID, false); err != nil {
		return nil, err
	}
	if !s.delivery.Enabled() {
		return nil, nil
	}
	ch, err := s.delivery.Resume(ctx, chatID, after)
	if err != nil {
		return nil, chaterr.Storage("stream", err)
	}
	return ch, nil
}

// Ping checks that storage is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
