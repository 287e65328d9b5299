package db

// createTable creates the room_documents table if it doesn't exist
func (s *PostgresStore) createTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS room_documents (
		room_code VARCHAR(16) NOT NULL,
		editor_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		revision INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		PRIMARY KEY (room_code, editor_id)
	);

	CREATE INDEX IF NOT EXISTS idx_room_documents_room_code ON room_documents(room_code);
	`

	_, err := s.db.Exec(query)
	return err
}
