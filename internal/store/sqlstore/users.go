package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pliu/chatty/internal/models"
	"github.com/pliu/chatty/internal/store"
)

func (s *SQLStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	query := s.rebind("SELECT username, display_name, password FROM users WHERE username = ?")
	err := s.db.QueryRowContext(ctx, query, username).Scan(&user.Username, &user.DisplayName, &user.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *SQLStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT username, display_name FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

// SearchUsers matches the query as a case-insensitive substring of either
// the username or the display name.
func (s *SQLStore) SearchUsers(ctx context.Context, queryStr string) ([]models.User, error) {
	pattern := "%" + escapeLike(strings.ToLower(queryStr)) + "%"
	query := s.rebind(`
		SELECT username, display_name FROM users
		WHERE LOWER(username) LIKE ? ESCAPE '\' OR LOWER(display_name) LIKE ? ESCAPE '\'
		ORDER BY username
	`)
	rows, err := s.db.QueryContext(ctx, query, pattern, pattern)
	if err != nil {
		return nil, err
	}
	return scanUsers(rows)
}

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	if strings.TrimSpace(user.Username) == "" || strings.TrimSpace(user.DisplayName) == "" {
		return fmt.Errorf("username and display name are required: %w", store.ErrInvalidInput)
	}
	query := s.rebind("INSERT INTO users (username, display_name, password) VALUES (?, ?, ?) ON CONFLICT (username) DO NOTHING")
	result, err := s.db.ExecContext(ctx, query, user.Username, user.DisplayName, user.Password)
	if err != nil {
		return err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return fmt.Errorf("user %q: %w", user.Username, store.ErrAlreadyExists)
	}
	return nil
}

// UpdateDisplayName renames a user and notifies every conversation they are
// in, since owners and authors are rendered with their display name.
func (s *SQLStore) UpdateDisplayName(ctx context.Context, username, displayName string) error {
	if strings.TrimSpace(displayName) == "" {
		return fmt.Errorf("display name is required: %w", store.ErrInvalidInput)
	}
	return s.inTx(ctx, func(tx *sql.Tx) ([]store.Scope, error) {
		result, err := tx.ExecContext(ctx, s.rebind("UPDATE users SET display_name = ? WHERE username = ?"), displayName, username)
		if err != nil {
			return nil, err
		}
		if n, err := result.RowsAffected(); err != nil {
			return nil, err
		} else if n == 0 {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}

		rows, err := tx.QueryContext(ctx, s.rebind(`
			SELECT DISTINCT other.conversation_id, other.username
			FROM members mine
			JOIN members other ON other.conversation_id = mine.conversation_id
			WHERE mine.username = ?
		`), username)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		scopes := []store.Scope{store.UserScope(username)}
		for rows.Next() {
			var (
				conversationID int64
				member         string
			)
			if err := rows.Scan(&conversationID, &member); err != nil {
				return nil, err
			}
			scopes = append(scopes, store.ConversationScope(conversationID), store.UserScope(member))
		}
		return dedupScopes(scopes), rows.Err()
	})
}

func (s *SQLStore) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, s.rebind("UPDATE users SET password = ? WHERE username = ?"), passwordHash, username)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %q: %w", username, store.ErrNotFound)
	}
	return nil
}

func scanUsers(rows *sql.Rows) ([]models.User, error) {
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.Username, &user.DisplayName); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
