// ABOUTME: Store interface and data types for serviceos-chat persistence
// ABOUTME: Defines Chat, Message, Vote and Stream records and the Store interface

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/serviceos-chat/internal/message"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when inserting a record whose ID already exists
var ErrDuplicate = errors.New("already exists")

// Visibility controls who may read a chat.
type Visibility string

// Chat visibilities
const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

// DefaultChatTitle is the placeholder title given to a chat until its
// derived title is persisted.
const DefaultChatTitle = "New chat"

// Chat is a conversation owned by a single user.
type Chat struct {
	ID         string
	UserID     string
	Title      string
	Visibility Visibility
	CreatedAt  time.Time
}

// Message is a conversation message as stored, tagged with its chat.
type Message struct {
	message.Message
	ChatID string
}

// NewMessage wraps m for storage under chatID.
func NewMessage(chatID string, m message.Message) *Message {
	return &Message{Message: m, ChatID: chatID}
}

// Messages unwraps stored messages in order.
func Messages(in []*Message) []message.Message {
	out := make([]message.Message, 0, len(in))
	for _, m := range in {
		out = append(out, m.Message)
	}
	return out
}

// Vote is a user's rating of an assistant message.
type Vote struct {
	ChatID    string
	MessageID string
	IsUpvoted bool
}

// Stream is a resumable stream handle registered for a chat.
type Stream struct {
	ID        string
	ChatID    string
	CreatedAt time.Time
}

// ListChatsParams selects a page of a user's chats, newest first.
// At most one of StartingAfter and EndingBefore may be set.
type ListChatsParams struct {
	UserID        string
	Limit         int
	StartingAfter string
	EndingBefore  string
}

// ChatPage is one page of chats.
type ChatPage struct {
	Chats   []*Chat
	HasMore bool
}

// Store defines the interface for chat, message, vote and stream persistence
type Store interface {
	// Chats
	SaveChat(ctx context.Context, chat *Chat) error
	GetChatByID(ctx context.Context, id string) (*Chat, error)
	DeleteChatByID(ctx context.Context, id string) (*Chat, error)
	DeleteAllChatsByUserID(ctx context.Context, userID string) (int, error)
	ListChatsByUserID(ctx context.Context, params ListChatsParams) (*ChatPage, error)
	UpdateChatTitle(ctx context.Context, id, title string) error
	UpdateChatVisibility(ctx context.Context, id string, visibility Visibility) error

	// Messages
	SaveMessages(ctx context.Context, msgs []*Message) error
	UpdateMessage(ctx context.Context, chatID, id string, parts []message.Part) error
	GetMessagesByChatID(ctx context.Context, chatID string) ([]*Message, error)
	GetMessageByID(ctx context.Context, id string) (*Message, error)
	DeleteMessagesAfter(ctx context.Context, chatID string, ts time.Time) (int, error)

	// Votes
	VoteMessage(ctx context.Context, chatID, messageID string, upvote bool) error
	GetVotesByChatID(ctx context.Context, chatID string) ([]*Vote, error)

	// Resumable stream handles
	CreateStreamID(ctx context.Context, streamID, chatID string) error
	GetStreamIDsByChatID(ctx context.Context, chatID string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
