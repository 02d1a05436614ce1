package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pliu/chatty/internal/models"
	"github.com/pliu/chatty/internal/store"
)

const messageSelect = `
	SELECT m.id, m.conversation_id, m.text, m.sent_at, u.username, u.display_name
	FROM messages m
	JOIN users u ON u.username = m.author_username
`

// SendMessage sanitizes and stores text, then notifies the thread and the
// conversation list of every member.
func (s *SQLStore) SendMessage(ctx context.Context, conversationID int64, authorUsername, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("message text is required: %w", store.ErrInvalidInput)
	}
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	var message *models.Message
	err := s.inTx(ctx, func(tx *sql.Tx) ([]store.Scope, error) {
		if err := s.conversationExists(ctx, tx, conversationID); err != nil {
			return nil, err
		}
		var err error
		message, err = s.insertMessage(ctx, tx, conversationID, authorUsername, text)
		if err != nil {
			return nil, err
		}
		members, err := s.listMembers(ctx, tx, conversationID)
		if err != nil {
			return nil, err
		}
		return memberScopes(conversationID, members), nil
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

// insertMessage stamps the message with the wall clock, bumped past the
// newest message of the conversation so sent_at is strictly increasing and
// the exclusive paging cursor never skips a message.
func (s *SQLStore) insertMessage(ctx context.Context, q querier, conversationID int64, authorUsername, text string) (*models.Message, error) {
	author, err := s.lookupUser(ctx, q, authorUsername)
	if err != nil {
		return nil, err
	}

	var latest int64
	query := s.rebind("SELECT COALESCE(MAX(sent_at), 0) FROM messages WHERE conversation_id = ?")
	if err := q.QueryRowContext(ctx, query, conversationID).Scan(&latest); err != nil {
		return nil, err
	}
	sentAt := max(s.now().UnixMilli(), latest+1)

	message := &models.Message{
		ConversationID: conversationID,
		Author:         *author,
		Text:           s.sanitizer.Sanitize(text),
		SentAt:         fromMillis(sentAt),
	}
	query = s.rebind("INSERT INTO messages (conversation_id, author_username, text, sent_at) VALUES (?, ?, ?, ?) RETURNING id")
	if err := q.QueryRowContext(ctx, query, conversationID, authorUsername, message.Text, sentAt).Scan(&message.ID); err != nil {
		return nil, err
	}
	return message, nil
}

func (s *SQLStore) GetMessage(ctx context.Context, messageID int64) (*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(messageSelect+" WHERE m.id = ? AND m.deleted = FALSE"), messageID)
	if err != nil {
		return nil, err
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("message %d: %w", messageID, store.ErrNotFound)
	}
	return &messages[0], nil
}

// DeleteMessage marks a message unavailable. Deleting an already deleted
// message reports ErrNotFound.
func (s *SQLStore) DeleteMessage(ctx context.Context, messageID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) ([]store.Scope, error) {
		var conversationID int64
		query := s.rebind("SELECT conversation_id FROM messages WHERE id = ? AND deleted = FALSE")
		err := tx.QueryRowContext(ctx, query, messageID).Scan(&conversationID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", messageID, store.ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, s.rebind("UPDATE messages SET deleted = TRUE WHERE id = ?"), messageID); err != nil {
			return nil, err
		}
		members, err := s.listMembers(ctx, tx, conversationID)
		if err != nil {
			return nil, err
		}
		return memberScopes(conversationID, members), nil
	})
}

// ListMessages returns up to limit messages sent strictly before the given
// time, newest first. Messages sharing a timestamp are ordered by id.
func (s *SQLStore) ListMessages(ctx context.Context, conversationID int64, before time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive: %w", store.ErrInvalidInput)
	}
	if err := s.conversationExists(ctx, s.db, conversationID); err != nil {
		return nil, err
	}
	query := s.rebind(messageSelect + `
		WHERE m.conversation_id = ? AND m.deleted = FALSE AND m.sent_at < ?
		ORDER BY m.sent_at DESC, m.id DESC
		LIMIT ?
	`)
	rows, err := s.db.QueryContext(ctx, query, conversationID, before.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var (
			m      models.Message
			sentAt int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Text, &sentAt, &m.Author.Username, &m.Author.DisplayName); err != nil {
			return nil, err
		}
		m.SentAt = fromMillis(sentAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
