// ABOUTME: Message, vote and stream-handle persistence for the SQLite store
// ABOUTME: Parts and attachments are stored as JSON; ordering is created_at then insertion order

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/serviceos-chat/internal/message"
)

const messageColumns = `id, chat_id, role, parts, attachments, created_at`

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var role, parts, attachments, createdAt string
	if err := row.Scan(&msg.ID, &msg.ChatID, &role, &parts, &attachments, &createdAt); err != nil {
		return nil, err
	}
	msg.Role = message.Role(role)
	if err := json.Unmarshal([]byte(parts), &msg.Parts); err != nil {
		return nil, fmt.Errorf("decoding parts of %s: %w", msg.ID, err)
	}
	if attachments != "" {
		if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decoding attachments of %s: %w", msg.ID, err)
		}
	}

	var err error
	msg.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &msg, nil
}

func encodeParts(parts []message.Part) (string, error) {
	if parts == nil {
		parts = []message.Part{}
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("encoding parts: %w", err)
	}
	return string(data), nil
}

// SaveMessages inserts msgs in order within one transaction.
// Returns ErrNotFound if a message's chat doesn't exist and ErrDuplicate if
// a message ID is already taken.
func (s *SQLiteStore) SaveMessages(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO messages (id, chat_id, role, parts, attachments, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		checked := make(map[string]bool)
		for _, msg := range msgs {
			if !checked[msg.ChatID] {
				var exists int
				err := tx.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE id = ?`, msg.ChatID).Scan(&exists)
				if err == sql.ErrNoRows {
					return ErrNotFound
				}
				if err != nil {
					return fmt.Errorf("checking chat: %w", err)
				}
				checked[msg.ChatID] = true
			}

			parts, err := encodeParts(msg.Parts)
			if err != nil {
				return err
			}
			attachments := []message.Attachment{}
			if msg.Attachments != nil {
				attachments = msg.Attachments
			}
			attachmentsJSON, err := json.Marshal(attachments)
			if err != nil {
				return fmt.Errorf("encoding attachments: %w", err)
			}

			createdAt := msg.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}

			if _, err := stmt.ExecContext(ctx, msg.ID, msg.ChatID, string(msg.Role), parts, string(attachmentsJSON), formatTime(createdAt)); err != nil {
				if isConstraintViolation(err) {
					return ErrDuplicate
				}
				if isForeignKeyViolation(err) {
					return ErrNotFound
				}
				return fmt.Errorf("inserting message %s: %w", msg.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("saved messages", "count", len(msgs), "chat_id", msgs[0].ChatID)
	return nil
}

// UpdateMessage replaces the parts of an existing message in chatID.
// Identity, role and timestamp are never rewritten.
// Returns ErrNotFound if the chat holds no message with that id.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, chatID, id string, parts []message.Part) error {
	encoded, err := encodeParts(parts)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `UPDATE messages SET parts = ? WHERE id = ? AND chat_id = ?`, encoded, id, chatID)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated message", "id", id, "chat_id", chatID, "parts", len(parts))
	return nil
}

// GetMessagesByChatID returns the chat's messages in creation order.
func (s *SQLiteStore) GetMessagesByChatID(ctx context.Context, chatID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return msgs, nil
}

// GetMessageByID retrieves a single message.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessageByID(ctx context.Context, id string) (*Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// DeleteMessagesAfter removes the chat's messages created at or after ts,
// along with their votes, and returns how many messages were removed.
func (s *SQLiteStore) DeleteMessagesAfter(ctx context.Context, chatID string, ts time.Time) (int, error) {
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cutoff := formatTime(ts)
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM votes
			WHERE chat_id = ? AND message_id IN (
				SELECT id FROM messages WHERE chat_id = ? AND created_at >= ?
			)
		`, chatID, chatID, cutoff); err != nil {
			return fmt.Errorf("deleting votes: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ? AND created_at >= ?`, chatID, cutoff)
		if err != nil {
			return fmt.Errorf("deleting messages: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		count = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// VoteMessage records or replaces the vote on a message.
// Returns ErrNotFound if the message doesn't belong to the chat.
func (s *SQLiteStore) VoteMessage(ctx context.Context, chatID, messageID string, upvote bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ? AND chat_id = ?`, messageID, chatID).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("checking message: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO votes (chat_id, message_id, is_upvoted)
			VALUES (?, ?, ?)
			ON CONFLICT (chat_id, message_id) DO UPDATE SET is_upvoted = excluded.is_upvoted
		`, chatID, messageID, upvote)
		if err != nil {
			return fmt.Errorf("upserting vote: %w", err)
		}
		return nil
	})
}

// GetVotesByChatID returns all votes in a chat.
func (s *SQLiteStore) GetVotesByChatID(ctx context.Context, chatID string) ([]*Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, message_id, is_upvoted FROM votes WHERE chat_id = ? ORDER BY rowid
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying votes: %w", err)
	}
	defer rows.Close()

	var votes []*Vote
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.ChatID, &v.MessageID, &v.IsUpvoted); err != nil {
			return nil, fmt.Errorf("scanning vote row: %w", err)
		}
		votes = append(votes, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vote rows: %w", err)
	}
	return votes, nil
}

// CreateStreamID registers a resumable stream handle for a chat.
func (s *SQLiteStore) CreateStreamID(ctx context.Context, streamID, chatID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO streams (id, chat_id, created_at) VALUES (?, ?, ?)
	`, streamID, chatID, formatTime(time.Now()))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting stream: %w", err)
	}
	return nil
}

// GetStreamIDsByChatID returns the chat's stream handles, oldest first.
func (s *SQLiteStore) GetStreamIDsByChatID(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM streams WHERE chat_id = ? ORDER BY created_at ASC, rowid ASC
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying streams: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning stream row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stream rows: %w", err)
	}
	return ids, nil
}
