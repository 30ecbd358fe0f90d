// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite or mattn/go-sqlite3
// ABOUTME: Provides conversation persistence with automatic schema creation and migrations

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// defaultRecentLimit caps ListRecent when the caller passes a non-positive limit.
const defaultRecentLimit = 200

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the pure-Go driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithDriver(DriverSQLite, path)
}

// NewSQLiteStoreWithDriver is NewSQLiteStore with an explicit database/sql
// driver name: "sqlite" (modernc) or "sqlite3" (mattn, cgo).
func NewSQLiteStoreWithDriver(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store", "driver", driver)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to :memory: would see its own empty database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id            INTEGER PRIMARY KEY,
			group_id      INTEGER NOT NULL DEFAULT 0,
			created_at    INTEGER NOT NULL,
			title         TEXT NOT NULL,
			model         TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			messages      TEXT NOT NULL DEFAULT '[]'
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_group ON conversations(group_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_created ON conversations(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_conversations_title ON conversations(title);
		CREATE INDEX IF NOT EXISTS idx_conversations_model ON conversations(model);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Databases written before grouping and per-conversation prompts lack these columns.
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('conversations') WHERE name = 'group_id'`,
			apply:  `ALTER TABLE conversations ADD COLUMN group_id INTEGER NOT NULL DEFAULT 0`,
			column: "group_id",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('conversations') WHERE name = 'system_prompt'`,
			apply:  `ALTER TABLE conversations ADD COLUMN system_prompt TEXT NOT NULL DEFAULT ''`,
			column: "system_prompt",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to conversations: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "conversations")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

const conversationColumns = `id, group_id, created_at, title, model, system_prompt, messages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(
		&c.ID,
		&c.GroupID,
		&c.CreatedAt,
		&c.Title,
		&c.Model,
		&c.SystemPrompt,
		&c.Messages,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

// Get retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	c, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("querying conversation", err)
	}
	return c, nil
}

// Put inserts or replaces a conversation.
// Uses INSERT OR REPLACE so a repeated id overwrites the previous row.
func (s *SQLiteStore) Put(ctx context.Context, c *Conversation) error {
	query := `
		INSERT OR REPLACE INTO conversations (` + conversationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.GroupID,
		c.CreatedAt,
		c.Title,
		c.Model,
		c.SystemPrompt,
		c.Messages,
	)
	if err != nil {
		return storageErr("writing conversation", err)
	}

	s.logger.Debug("put conversation", "id", c.ID, "group_id", c.GroupID, "size", len(c.Messages))
	return nil
}

// Delete removes a conversation. A missing id is logged and ignored.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return storageErr("deleting conversation", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storageErr("getting rows affected", err)
	}

	if rowsAffected == 0 {
		s.logger.Info("conversation not found, nothing deleted", "id", id)
		return nil
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// Clear removes all conversations
func (s *SQLiteStore) Clear(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations`)
	if err != nil {
		return storageErr("clearing conversations", err)
	}
	rowsAffected, _ := result.RowsAffected()
	s.logger.Debug("cleared conversations", "count", rowsAffected)
	return nil
}

// ListByGroup returns every conversation in the group, oldest first.
// Uses idx_conversations_group.
func (s *SQLiteStore) ListByGroup(ctx context.Context, groupID int64) ([]*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE group_id = ?
		ORDER BY created_at ASC
	`
	return s.query(ctx, "querying conversations by group", query, groupID)
}

// CountByGroup returns the number of conversations in the group
func (s *SQLiteStore) CountByGroup(ctx context.Context, groupID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE group_id = ?`, groupID).Scan(&count)
	if err != nil {
		return 0, storageErr("counting conversations by group", err)
	}
	return count, nil
}

// ListRecent retrieves conversations ordered by creation time, newest first.
// If limit is 0 or negative, a default limit of 200 is used.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	return s.query(ctx, "querying recent conversations", query, limit)
}

// Filter scans the whole table and applies pred in Go. There is no full-text
// index on messages, so this is linear in the number of records.
func (s *SQLiteStore) Filter(ctx context.Context, pred Predicate) ([]*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations ORDER BY created_at DESC, id DESC`

	all, err := s.query(ctx, "scanning conversations", query)
	if err != nil {
		return nil, err
	}

	matched := make([]*Conversation, 0)
	for _, c := range all {
		if pred(c) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

func (s *SQLiteStore) query(ctx context.Context, op, query string, args ...any) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	conversations := make([]*Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, storageErr("scanning conversation row", err)
		}
		conversations = append(conversations, c)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating conversation rows", err)
	}

	return conversations, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
