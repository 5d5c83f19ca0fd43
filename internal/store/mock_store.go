// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject failures per operation

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/2389/serviceos-chat/internal/message"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	chats    map[string]*Chat    // keyed by chat ID
	messages map[string]*Message // keyed by message ID
	order    []string            // message IDs in insertion order
	votes    map[string]*Vote    // keyed by "chatID:messageID"
	streams  []*Stream

	// Failures maps an operation name (e.g. "SaveMessages") to the error it
	// should return.
	Failures map[string]error

	// Calls records operation names in call order.
	Calls []string
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		chats:    make(map[string]*Chat),
		messages: make(map[string]*Message),
		votes:    make(map[string]*Vote),
		Failures: make(map[string]error),
	}
}

// record notes the call and returns any injected failure. Caller holds mu.
func (m *MockStore) record(op string) error {
	m.Calls = append(m.Calls, op)
	return m.Failures[op]
}

// CallsTo returns how many times op was called.
func (m *MockStore) CallsTo(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func copyMessage(msg *Message) *Message {
	c := *msg
	c.Message = msg.Message.Clone()
	return &c
}

// SaveChat stores a new chat.
func (m *MockStore) SaveChat(ctx context.Context, chat *Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SaveChat"); err != nil {
		return err
	}
	if _, ok := m.chats[chat.ID]; ok {
		return ErrDuplicate
	}
	c := *chat
	if c.Visibility == "" {
		c.Visibility = VisibilityPrivate
	}
	m.chats[c.ID] = &c
	return nil
}

// GetChatByID retrieves a chat by ID.
func (m *MockStore) GetChatByID(ctx context.Context, id string) (*Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetChatByID"); err != nil {
		return nil, err
	}
	c, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// DeleteChatByID removes a chat and everything that belongs to it.
func (m *MockStore) DeleteChatByID(ctx context.Context, id string) (*Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteChatByID"); err != nil {
		return nil, err
	}
	c, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	m.deleteChatLocked(id)
	return c, nil
}

func (m *MockStore) deleteChatLocked(id string) {
	delete(m.chats, id)
	kept := m.order[:0]
	for _, mid := range m.order {
		if m.messages[mid].ChatID == id {
			delete(m.messages, mid)
			continue
		}
		kept = append(kept, mid)
	}
	m.order = kept
	for k, v := range m.votes {
		if v.ChatID == id {
			delete(m.votes, k)
		}
	}
	streams := m.streams[:0]
	for _, s := range m.streams {
		if s.ChatID != id {
			streams = append(streams, s)
		}
	}
	m.streams = streams
}

// DeleteAllChatsByUserID removes every chat owned by userID.
func (m *MockStore) DeleteAllChatsByUserID(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteAllChatsByUserID"); err != nil {
		return 0, err
	}
	var ids []string
	for id, c := range m.chats {
		if c.UserID == userID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		m.deleteChatLocked(id)
	}
	return len(ids), nil
}

// ListChatsByUserID returns a page of the user's chats, newest first.
func (m *MockStore) ListChatsByUserID(ctx context.Context, params ListChatsParams) (*ChatPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ListChatsByUserID"); err != nil {
		return nil, err
	}

	var cursor *Chat
	after := params.StartingAfter != ""
	if id := params.StartingAfter + params.EndingBefore; id != "" {
		c, ok := m.chats[id]
		if !ok {
			return nil, fmt.Errorf("resolving cursor: %w", ErrNotFound)
		}
		cursor = c
	}

	var chats []*Chat
	for _, c := range m.chats {
		if c.UserID != params.UserID {
			continue
		}
		if cursor != nil {
			if after && !c.CreatedAt.After(cursor.CreatedAt) {
				continue
			}
			if !after && !c.CreatedAt.Before(cursor.CreatedAt) {
				continue
			}
		}
		cc := *c
		chats = append(chats, &cc)
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].CreatedAt.After(chats[j].CreatedAt)
	})

	limit := clampLimit(params.Limit)
	page := &ChatPage{Chats: chats}
	if len(chats) > limit {
		page.Chats = chats[:limit]
		page.HasMore = true
	}
	return page, nil
}

// UpdateChatTitle sets a chat's title.
func (m *MockStore) UpdateChatTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UpdateChatTitle"); err != nil {
		return err
	}
	c, ok := m.chats[id]
	if !ok {
		return ErrNotFound
	}
	c.Title = title
	return nil
}

// UpdateChatVisibility sets a chat's visibility.
func (m *MockStore) UpdateChatVisibility(ctx context.Context, id string, visibility Visibility) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UpdateChatVisibility"); err != nil {
		return err
	}
	if !visibility.Valid() {
		return fmt.Errorf("invalid visibility %q", visibility)
	}
	c, ok := m.chats[id]
	if !ok {
		return ErrNotFound
	}
	c.Visibility = visibility
	return nil
}

// SaveMessages inserts msgs in order.
func (m *MockStore) SaveMessages(ctx context.Context, msgs []*Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SaveMessages"); err != nil {
		return err
	}
	for _, msg := range msgs {
		if _, ok := m.chats[msg.ChatID]; !ok {
			return ErrNotFound
		}
		if _, ok := m.messages[msg.ID]; ok {
			return ErrDuplicate
		}
	}
	for _, msg := range msgs {
		c := copyMessage(msg)
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now()
		}
		m.messages[c.ID] = c
		m.order = append(m.order, c.ID)
	}
	return nil
}

// UpdateMessage replaces the parts of an existing message in chatID.
func (m *MockStore) UpdateMessage(ctx context.Context, chatID, id string, parts []message.Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UpdateMessage"); err != nil {
		return err
	}
	msg, ok := m.messages[id]
	if !ok || msg.ChatID != chatID {
		return ErrNotFound
	}
	msg.Parts = append([]message.Part(nil), parts...)
	return nil
}

// GetMessagesByChatID returns the chat's messages in creation order.
func (m *MockStore) GetMessagesByChatID(ctx context.Context, chatID string) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetMessagesByChatID"); err != nil {
		return nil, err
	}
	var msgs []*Message
	for _, id := range m.order {
		if msg := m.messages[id]; msg.ChatID == chatID {
			msgs = append(msgs, copyMessage(msg))
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// GetMessageByID retrieves a single message.
func (m *MockStore) GetMessageByID(ctx context.Context, id string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetMessageByID"); err != nil {
		return nil, err
	}
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// DeleteMessagesAfter removes the chat's messages created at or after ts.
func (m *MockStore) DeleteMessagesAfter(ctx context.Context, chatID string, ts time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("DeleteMessagesAfter"); err != nil {
		return 0, err
	}
	count := 0
	kept := m.order[:0]
	for _, id := range m.order {
		msg := m.messages[id]
		if msg.ChatID == chatID && !msg.CreatedAt.Before(ts) {
			delete(m.messages, id)
			delete(m.votes, chatID+":"+id)
			count++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return count, nil
}

// VoteMessage records or replaces the vote on a message.
func (m *MockStore) VoteMessage(ctx context.Context, chatID, messageID string, upvote bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("VoteMessage"); err != nil {
		return err
	}
	msg, ok := m.messages[messageID]
	if !ok || msg.ChatID != chatID {
		return ErrNotFound
	}
	m.votes[chatID+":"+messageID] = &Vote{ChatID: chatID, MessageID: messageID, IsUpvoted: upvote}
	return nil
}

// GetVotesByChatID returns all votes in a chat, ordered by message ID.
func (m *MockStore) GetVotesByChatID(ctx context.Context, chatID string) ([]*Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetVotesByChatID"); err != nil {
		return nil, err
	}
	var votes []*Vote
	for _, v := range m.votes {
		if v.ChatID == chatID {
			vv := *v
			votes = append(votes, &vv)
		}
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].MessageID < votes[j].MessageID })
	return votes, nil
}

// CreateStreamID registers a resumable stream handle.
func (m *MockStore) CreateStreamID(ctx context.Context, streamID, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("CreateStreamID"); err != nil {
		return err
	}
	if _, ok := m.chats[chatID]; !ok {
		return ErrNotFound
	}
	m.streams = append(m.streams, &Stream{ID: streamID, ChatID: chatID, CreatedAt: time.Now()})
	return nil
}

// GetStreamIDsByChatID returns the chat's stream handles, oldest first.
func (m *MockStore) GetStreamIDsByChatID(ctx context.Context, chatID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("GetStreamIDsByChatID"); err != nil {
		return nil, err
	}
	var ids []string
	for _, s := range m.streams {
		if s.ChatID == chatID {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

// Ping always succeeds unless a failure is injected.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("Ping")
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
