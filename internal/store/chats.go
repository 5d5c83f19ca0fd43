// ABOUTME: Chat persistence for the SQLite store
// ABOUTME: Create, lookup, paginated listing, metadata updates and transactional deletion

package store

import (
	"context"
	"database/sql"
	"fmt"
)

const chatColumns = `id, user_id, title, visibility, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*Chat, error) {
	var chat Chat
	var visibility, createdAt string
	if err := row.Scan(&chat.ID, &chat.UserID, &chat.Title, &visibility, &createdAt); err != nil {
		return nil, err
	}
	chat.Visibility = Visibility(visibility)

	var err error
	chat.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &chat, nil
}

// SaveChat creates a chat. Returns ErrDuplicate if the ID is taken.
func (s *SQLiteStore) SaveChat(ctx context.Context, chat *Chat) error {
	visibility := chat.Visibility
	if visibility == "" {
		visibility = VisibilityPrivate
	}
	if !visibility.Valid() {
		return fmt.Errorf("invalid visibility %q", visibility)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, user_id, title, visibility, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, chat.ID, chat.UserID, chat.Title, string(visibility), formatTime(chat.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting chat: %w", err)
	}

	s.logger.Debug("created chat", "id", chat.ID, "user_id", chat.UserID)
	return nil
}

// GetChatByID retrieves a chat by ID.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) GetChatByID(ctx context.Context, id string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id)
	chat, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chat: %w", err)
	}
	return chat, nil
}

// DeleteChatByID removes a chat together with its votes, messages and stream
// handles in a single transaction, returning the deleted chat.
func (s *SQLiteStore) DeleteChatByID(ctx context.Context, id string) (*Chat, error) {
	var deleted *Chat
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		chat, err := scanChat(tx.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id))
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("querying chat: %w", err)
		}
		if err := deleteChatRows(ctx, tx, id); err != nil {
			return err
		}
		deleted = chat
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("deleted chat", "id", id)
	return deleted, nil
}

func deleteChatRows(ctx context.Context, tx *sql.Tx, chatID string) error {
	for _, q := range []struct{ what, query string }{
		{"votes", `DELETE FROM votes WHERE chat_id = ?`},
		{"messages", `DELETE FROM messages WHERE chat_id = ?`},
		{"streams", `DELETE FROM streams WHERE chat_id = ?`},
		{"chat", `DELETE FROM chats WHERE id = ?`},
	} {
		if _, err := tx.ExecContext(ctx, q.query, chatID); err != nil {
			return fmt.Errorf("deleting %s: %w", q.what, err)
		}
	}
	return nil
}

// DeleteAllChatsByUserID removes every chat owned by userID and returns how many were deleted.
func (s *SQLiteStore) DeleteAllChatsByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM chats WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("querying chats: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scanning chat id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating chat rows: %w", err)
		}

		for _, id := range ids {
			if err := deleteChatRows(ctx, tx, id); err != nil {
				return err
			}
		}
		count = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListChatsByUserID returns a page of the user's chats, newest first.
// StartingAfter selects chats created after the cursor chat, EndingBefore
// chats created before it. An unknown cursor returns ErrNotFound.
func (s *SQLiteStore) ListChatsByUserID(ctx context.Context, params ListChatsParams) (*ChatPage, error) {
	limit := clampLimit(params.Limit)

	query := `SELECT ` + chatColumns + ` FROM chats WHERE user_id = ?`
	args := []any{params.UserID}

	switch {
	case params.StartingAfter != "":
		cursor, err := s.GetChatByID(ctx, params.StartingAfter)
		if err != nil {
			return nil, fmt.Errorf("resolving starting_after: %w", err)
		}
		query += ` AND created_at > ?`
		args = append(args, formatTime(cursor.CreatedAt))
	case params.EndingBefore != "":
		cursor, err := s.GetChatByID(ctx, params.EndingBefore)
		if err != nil {
			return nil, fmt.Errorf("resolving ending_before: %w", err)
		}
		query += ` AND created_at < ?`
		args = append(args, formatTime(cursor.CreatedAt))
	}

	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chats: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat row: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat rows: %w", err)
	}

	page := &ChatPage{Chats: chats}
	if len(chats) > limit {
		page.Chats = chats[:limit]
		page.HasMore = true
	}
	return page, nil
}

// UpdateChatTitle sets a chat's title.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) UpdateChatTitle(ctx context.Context, id, title string) error {
	return s.updateChat(ctx, `UPDATE chats SET title = ? WHERE id = ?`, title, id)
}

// UpdateChatVisibility sets a chat's visibility.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) UpdateChatVisibility(ctx context.Context, id string, visibility Visibility) error {
	if !visibility.Valid() {
		return fmt.Errorf("invalid visibility %q", visibility)
	}
	return s.updateChat(ctx, `UPDATE chats SET visibility = ? WHERE id = ?`, string(visibility), id)
}

func (s *SQLiteStore) updateChat(ctx context.Context, query string, value any, id string) error {
	result, err := s.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("updating chat: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
