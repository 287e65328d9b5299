package db

// PersistedDocument is one row of durable document state, keyed by room code
// and editor id.
type PersistedDocument struct {
	EditorID int    `json:"editorId"`
	Content  string `json:"content"`
	Revision int    `json:"revision"`
}

// Store is the durable backing for room documents.
type Store interface {
	// InitDocuments inserts one empty row per editor id, transactionally.
	// Called at room creation.
	InitDocuments(roomCode string, editorIDs []int) error
	// LoadDocuments returns every persisted document of a room; an empty
	// slice means the room is unknown.
	LoadDocuments(roomCode string) ([]PersistedDocument, error)
	// SaveDocument upserts a single document snapshot. Idempotent.
	SaveDocument(roomCode string, editorID int, content string, revision int) error
	// DeleteDocument removes one document's row. Called when an editor is
	// removed from a live room, so a later restart does not resurrect it.
	DeleteDocument(roomCode string, editorID int) error
	// CleanupRoom removes every row of a room. Called on expiry and close.
	CleanupRoom(roomCode string) error
	Close() error
}
