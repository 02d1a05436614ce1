package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pliu/chatty/internal/store"
)

// Sanitizer cleans user supplied text before it is persisted.
type Sanitizer interface {
	Sanitize(text string) string
}

type passthrough struct{}

func (passthrough) Sanitize(text string) string { return text }

type SQLStore struct {
	db         *sql.DB
	driverName string
	sanitizer  Sanitizer
	notifier   store.Notifier
	now        func() time.Time
	locks      *keyedMutex
}

var _ store.Store = (*SQLStore)(nil)

type Option func(*SQLStore)

func WithSanitizer(s Sanitizer) Option {
	return func(st *SQLStore) { st.sanitizer = s }
}

func WithNotifier(n store.Notifier) Option {
	return func(st *SQLStore) { st.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(st *SQLStore) { st.now = now }
}

func New(driverName, dataSourceName string, opts ...Option) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		// One connection: SQLite has a single writer and every :memory:
		// connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLStore{
		db:         db,
		driverName: driverName,
		sanitizer:  passthrough{},
		notifier:   store.NopNotifier{},
		now:        time.Now,
		locks:      newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		password TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		name_is_auto BOOLEAN NOT NULL DEFAULT TRUE,
		owner_username TEXT NOT NULL REFERENCES users(username)
	);

	CREATE TABLE IF NOT EXISTS members (
		conversation_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		PRIMARY KEY (conversation_id, username),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id),
		FOREIGN KEY (username) REFERENCES users(username)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL,
		author_username TEXT NOT NULL,
		text TEXT NOT NULL,
		sent_at BIGINT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id),
		FOREIGN KEY (author_username) REFERENCES users(username)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (conversation_id, sent_at);
	CREATE INDEX IF NOT EXISTS idx_members_username ON members (username);
	`

	if s.driverName == "postgres" {
		query = strings.ReplaceAll(query, "INTEGER PRIMARY KEY AUTOINCREMENT", "SERIAL PRIMARY KEY")
	}

	_, err := s.db.Exec(query)
	return err
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

// querier is satisfied by both *sql.DB and *sql.Tx so reads can run inside
// or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction and publishes the returned scopes once the
// commit succeeds. Nothing is published on rollback.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) ([]store.Scope, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	scopes, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if len(scopes) > 0 {
		s.notifier.Publish(scopes...)
	}
	return nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
