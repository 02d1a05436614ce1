package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pliu/chatty/internal/models"
	"github.com/pliu/chatty/internal/naming"
	"github.com/pliu/chatty/internal/store"
	"github.com/samber/lo"
)

const lastMessageIDQuery = `(
	SELECT m.id FROM messages m
	WHERE m.conversation_id = c.id AND m.deleted = FALSE
	ORDER BY m.sent_at DESC, m.id DESC
	LIMIT 1
)`

const conversationSelect = `
	SELECT c.id, c.name, c.name_is_auto, o.username, o.display_name,
		lm.id, lm.text, lm.sent_at, a.username, a.display_name
	FROM conversations c
	JOIN users o ON o.username = c.owner_username
	LEFT JOIN messages lm ON lm.id = ` + lastMessageIDQuery + `
	LEFT JOIN users a ON a.username = lm.author_username
`

// CreateConversation inserts the conversation, its owner as first member and
// the opening system message in a single transaction. Auto-named
// conversations start with the name derived from the owner alone.
func (s *SQLStore) CreateConversation(ctx context.Context, ownerUsername, name string, nameIsAuto bool) (*models.Conversation, error) {
	if !nameIsAuto && strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("conversation name is required: %w", store.ErrInvalidInput)
	}

	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) ([]store.Scope, error) {
		owner, err := s.lookupUser(ctx, tx, ownerUsername)
		if err != nil {
			return nil, err
		}

		convName := s.sanitizer.Sanitize(name)
		if nameIsAuto {
			convName = naming.DeriveGroupName([]models.User{*owner})
		}

		query := s.rebind("INSERT INTO conversations (name, name_is_auto, owner_username) VALUES (?, ?, ?) RETURNING id")
		if err := tx.QueryRowContext(ctx, query, convName, nameIsAuto, ownerUsername).Scan(&id); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO members (conversation_id, username) VALUES (?, ?)"), id, ownerUsername); err != nil {
			return nil, err
		}
		if _, err := s.insertMessage(ctx, tx, id, ownerUsername, fmt.Sprintf("@%s started a chat.", ownerUsername)); err != nil {
			return nil, err
		}
		return []store.Scope{store.ConversationScope(id), store.UserScope(ownerUsername)}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, id)
}

func (s *SQLStore) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	return s.getConversation(ctx, s.db, id)
}

func (s *SQLStore) getConversation(ctx context.Context, q querier, id int64) (*models.Conversation, error) {
	rows, err := q.QueryContext(ctx, s.rebind(conversationSelect+" WHERE c.id = ?"), id)
	if err != nil {
		return nil, err
	}
	conversations, err := scanConversations(rows)
	if err != nil {
		return nil, err
	}
	if len(conversations) == 0 {
		return nil, fmt.Errorf("conversation %d: %w", id, store.ErrNotFound)
	}
	return &conversations[0], nil
}

// ListConversationsForUser orders by most recent activity. Conversations
// without an available message come last, newest first.
func (s *SQLStore) ListConversationsForUser(ctx context.Context, username string) ([]models.Conversation, error) {
	query := s.rebind(conversationSelect + `
		JOIN members mb ON mb.conversation_id = c.id
		WHERE mb.username = ?
		ORDER BY CASE WHEN lm.sent_at IS NULL THEN 1 ELSE 0 END, lm.sent_at DESC, lm.id DESC, c.id DESC
	`)
	rows, err := s.db.QueryContext(ctx, query, username)
	if err != nil {
		return nil, err
	}
	return scanConversations(rows)
}

func (s *SQLStore) ListMembers(ctx context.Context, conversationID int64) ([]models.User, error) {
	if err := s.conversationExists(ctx, s.db, conversationID); err != nil {
		return nil, err
	}
	return s.listMembers(ctx, s.db, conversationID)
}

func (s *SQLStore) listMembers(ctx context.Context, q querier, conversationID int64) ([]models.User, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`
		SELECT u.username, u.display_name
		FROM users u
		JOIN members m ON u.username = m.username
		WHERE m.conversation_id = ?
		ORDER BY u.username
	`), conversationID)
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

func (s *SQLStore) IsMember(ctx context.Context, conversationID int64, username string) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM members WHERE conversation_id = ? AND username = ?)")
	err := s.db.QueryRowContext(ctx, query, conversationID, username).Scan(&exists)
	return exists, err
}

// AddMember is idempotent. Only an actual insertion renames an auto-named
// conversation and publishes a change.
func (s *SQLStore) AddMember(ctx context.Context, conversationID int64, username string) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	return s.inTx(ctx, func(tx *sql.Tx) ([]store.Scope, error) {
		var nameIsAuto bool
		err := tx.QueryRowContext(ctx, s.rebind("SELECT name_is_auto FROM conversations WHERE id = ?"), conversationID).Scan(&nameIsAuto)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %d: %w", conversationID, store.ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		if _, err := s.lookupUser(ctx, tx, username); err != nil {
			return nil, err
		}

		result, err := tx.ExecContext(ctx, s.rebind("INSERT INTO members (conversation_id, username) VALUES (?, ?) ON CONFLICT (conversation_id, username) DO NOTHING"), conversationID, username)
		if err != nil {
			return nil, err
		}
		if n, err := result.RowsAffected(); err != nil {
			return nil, err
		} else if n == 0 {
			return nil, nil
		}

		members, err := s.listMembers(ctx, tx, conversationID)
		if err != nil {
			return nil, err
		}
		if nameIsAuto {
			query := s.rebind("UPDATE conversations SET name = ? WHERE id = ? AND name_is_auto = TRUE")
			if _, err := tx.ExecContext(ctx, query, naming.DeriveGroupName(members), conversationID); err != nil {
				return nil, err
			}
		}
		return memberScopes(conversationID, members), nil
	})
}

// RemoveMember is idempotent and never renames. The owner cannot be removed
// so a conversation always keeps at least one member.
func (s *SQLStore) RemoveMember(ctx context.Context, conversationID int64, username string) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	return s.inTx(ctx, func(tx *sql.Tx) ([]store.Scope, error) {
		var owner string
		err := tx.QueryRowContext(ctx, s.rebind("SELECT owner_username FROM conversations WHERE id = ?"), conversationID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %d: %w", conversationID, store.ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		if owner == username {
			return nil, fmt.Errorf("the owner cannot leave conversation %d: %w", conversationID, store.ErrInvalidInput)
		}

		result, err := tx.ExecContext(ctx, s.rebind("DELETE FROM members WHERE conversation_id = ? AND username = ?"), conversationID, username)
		if err != nil {
			return nil, err
		}
		if n, err := result.RowsAffected(); err != nil {
			return nil, err
		} else if n == 0 {
			return nil, nil
		}

		members, err := s.listMembers(ctx, tx, conversationID)
		if err != nil {
			return nil, err
		}
		return append(memberScopes(conversationID, members), store.UserScope(username)), nil
	})
}

// RenameConversation sets an explicit name. From then on the name is never
// derived from membership again.
func (s *SQLStore) RenameConversation(ctx context.Context, conversationID int64, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("conversation name is required: %w", store.ErrInvalidInput)
	}
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	return s.inTx(ctx, func(tx *sql.Tx) ([]store.Scope, error) {
		query := s.rebind("UPDATE conversations SET name = ?, name_is_auto = FALSE WHERE id = ?")
		result, err := tx.ExecContext(ctx, query, s.sanitizer.Sanitize(name), conversationID)
		if err != nil {
			return nil, err
		}
		if n, err := result.RowsAffected(); err != nil {
			return nil, err
		} else if n == 0 {
			return nil, fmt.Errorf("conversation %d: %w", conversationID, store.ErrNotFound)
		}

		members, err := s.listMembers(ctx, tx, conversationID)
		if err != nil {
			return nil, err
		}
		return memberScopes(conversationID, members), nil
	})
}

func (s *SQLStore) conversationExists(ctx context.Context, q querier, id int64) error {
	var exists bool
	err := q.QueryRowContext(ctx, s.rebind("SELECT EXISTS(SELECT 1 FROM conversations WHERE id = ?)"), id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("conversation %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *SQLStore) lookupUser(ctx context.Context, q querier, username string) (*models.User, error) {
	var user models.User
	err := q.QueryRowContext(ctx, s.rebind("SELECT username, display_name FROM users WHERE username = ?"), username).
		Scan(&user.Username, &user.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func scanConversations(rows *sql.Rows) ([]models.Conversation, error) {
	defer rows.Close()

	conversations := []models.Conversation{}
	for rows.Next() {
		var (
			c          models.Conversation
			msgID      sql.NullInt64
			msgText    sql.NullString
			msgSentAt  sql.NullInt64
			authorName sql.NullString
			authorDisp sql.NullString
		)
		err := rows.Scan(&c.ID, &c.Name, &c.NameIsAuto, &c.Owner.Username, &c.Owner.DisplayName,
			&msgID, &msgText, &msgSentAt, &authorName, &authorDisp)
		if err != nil {
			return nil, err
		}
		if msgID.Valid {
			c.LastMessage = &models.Message{
				ID:             msgID.Int64,
				ConversationID: c.ID,
				Author:         models.User{Username: authorName.String, DisplayName: authorDisp.String},
				Text:           msgText.String,
				SentAt:         fromMillis(msgSentAt.Int64),
			}
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func memberScopes(conversationID int64, members []models.User) []store.Scope {
	scopes := []store.Scope{store.ConversationScope(conversationID)}
	for _, m := range members {
		scopes = append(scopes, store.UserScope(m.Username))
	}
	return scopes
}

func dedupScopes(scopes []store.Scope) []store.Scope {
	return lo.Uniq(scopes)
}
