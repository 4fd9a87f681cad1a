// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation cache persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
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

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			update_time TIMESTAMP NOT NULL,
			fetched_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_update_time
			ON conversations(update_time DESC);

		CREATE TABLE IF NOT EXISTS conversation_details (
			id TEXT PRIMARY KEY,
			raw BLOB NOT NULL,
			fetched_at TIMESTAMP NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertConversations replaces or inserts index rows for a fetched page.
func (s *SQLiteStore) UpsertConversations(ctx context.Context, entries []ConversationEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conversations (id, title, update_time, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			update_time = excluded.update_time,
			fetched_at = excluded.fetched_at
	`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Title, e.UpdateTime, e.FetchedAt); err != nil {
			return fmt.Errorf("upserting conversation %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// ListConversations returns all cached index rows, newest update first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]ConversationEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, update_time, fetched_at
		FROM conversations
		ORDER BY update_time DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var entries []ConversationEntry
	for rows.Next() {
		var e ConversationEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.UpdateTime, &e.FetchedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PutDetail stores the raw graph JSON for a conversation.
func (s *SQLiteStore) PutDetail(ctx context.Context, id string, raw []byte, fetchedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_details (id, raw, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			raw = excluded.raw,
			fetched_at = excluded.fetched_at
	`, id, raw, fetchedAt)
	if err != nil {
		return fmt.Errorf("storing detail %s: %w", id, err)
	}
	return nil
}

// GetDetail returns the cached graph JSON for a conversation.
func (s *SQLiteStore) GetDetail(ctx context.Context, id string) (*CachedDetail, error) {
	d := CachedDetail{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT raw, fetched_at FROM conversation_details WHERE id = ?
	`, id).Scan(&d.Raw, &d.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying detail %s: %w", id, err)
	}
	return &d, nil
}

// Invalidate drops both the cached graph and the index row.
func (s *SQLiteStore) Invalidate(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_details WHERE id = ?`, id); err != nil {
		return fmt.Errorf("invalidating detail %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("invalidating conversation %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Debug("cache invalidated", "conversation_id", id)
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
