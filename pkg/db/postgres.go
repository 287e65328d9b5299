package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// queryTimeout bounds every database round-trip; timed-out writes are
// retried asynchronously by the debounced writer.
const queryTimeout = 5 * time.Second

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL document store
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}

	// Create the room_documents table if it doesn't exist
	if err := store.createTable(); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InitDocuments(roomCode string, editorIDs []int) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO room_documents (room_code, editor_id, content, revision, updated_at)
		VALUES ($1, $2, '', 0, $3)
		ON CONFLICT (room_code, editor_id) DO NOTHING
	`
	now := time.Now()
	for _, id := range editorIDs {
		if _, err := tx.ExecContext(ctx, query, roomCode, id, now); err != nil {
			return fmt.Errorf("failed to init document %s/%d: %w", roomCode, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadDocuments(roomCode string) ([]PersistedDocument, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	query := `
		SELECT editor_id, content, revision
		FROM room_documents
		WHERE room_code = $1
		ORDER BY editor_id
	`

	rows, err := s.db.QueryContext(ctx, query, roomCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	defer rows.Close()

	var docs []PersistedDocument
	for rows.Next() {
		var doc PersistedDocument
		if err := rows.Scan(&doc.EditorID, &doc.Content, &doc.Revision); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return docs, nil
}

func (s *PostgresStore) SaveDocument(roomCode string, editorID int, content string, revision int) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	query := `
		INSERT INTO room_documents (room_code, editor_id, content, revision, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (room_code, editor_id) DO UPDATE
		SET content = EXCLUDED.content,
		    revision = EXCLUDED.revision,
		    updated_at = EXCLUDED.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, roomCode, editorID, content, revision, time.Now()); err != nil {
		return fmt.Errorf("failed to save document %s/%d: %w", roomCode, editorID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(roomCode string, editorID int) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM room_documents WHERE room_code = $1 AND editor_id = $2`, roomCode, editorID); err != nil {
		return fmt.Errorf("failed to delete document %s/%d: %w", roomCode, editorID, err)
	}
	return nil
}

func (s *PostgresStore) CleanupRoom(roomCode string) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM room_documents WHERE room_code = $1`, roomCode); err != nil {
		return fmt.Errorf("failed to clean up room %s: %w", roomCode, err)
	}
	return nil
}

// Compile-time check to ensure PostgresStore implements the Store interface
var _ Store = (*PostgresStore)(nil)
