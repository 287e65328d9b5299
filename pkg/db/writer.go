package db

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jerukian123/collab-editor-monaco/pkg/metrics"
)

// DefaultDebounce is how long a document must stay quiet before its pending
// snapshot is written out.
const DefaultDebounce = 2 * time.Second

// writeKey identifies a pending write. Room code and editor id are kept as
// structured fields rather than a joined string key.
type writeKey struct {
	roomCode string
	editorID int
}

type pendingWrite struct {
	content  string
	revision int
	timer    *time.Timer
}

// DebouncedWriter coalesces document snapshots so that rapid typing results
// in at most one database write per document per debounce window. The
// latest snapshot always wins; a failed write stays pending and is retried
// after another window.
type DebouncedWriter struct {
	mu      sync.Mutex
	store   Store
	window  time.Duration
	pending map[writeKey]*pendingWrite
	closed  bool
}

// NewDebouncedWriter wraps store with debounced persistence.
func NewDebouncedWriter(store Store, window time.Duration) *DebouncedWriter {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &DebouncedWriter{
		store:   store,
		window:  window,
		pending: make(map[writeKey]*pendingWrite),
	}
}

// Schedule records the latest snapshot for a document and (re)arms its
// debounce timer. Never blocks on the database.
func (w *DebouncedWriter) Schedule(roomCode string, editorID int, content string, revision int) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		// Shutdown in progress; write through so the edit is not lost.
		w.save(roomCode, editorID, content, revision)
		return
	}

	key := writeKey{roomCode: roomCode, editorID: editorID}
	if p, ok := w.pending[key]; ok {
		p.content = content
		p.revision = revision
		p.timer.Reset(w.window)
		w.mu.Unlock()
		return
	}
	p := &pendingWrite{content: content, revision: revision}
	p.timer = time.AfterFunc(w.window, func() { w.flush(key) })
	w.pending[key] = p
	w.mu.Unlock()
}

// flush writes the pending snapshot for key, unless a newer one arrived
// while the write was in flight. On failure the entry stays pending and the
// timer is re-armed.
func (w *DebouncedWriter) flush(key writeKey) {
	w.mu.Lock()
	p, ok := w.pending[key]
	if !ok {
		w.mu.Unlock()
		return
	}
	content, revision := p.content, p.revision
	w.mu.Unlock()

	err := w.store.SaveDocument(key.roomCode, key.editorID, content, revision)

	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok = w.pending[key]
	if !ok || p.revision != revision {
		// Discarded, or a newer snapshot is pending; its own timer handles it.
		return
	}
	if err != nil {
		metrics.DocumentSaveFailures.Inc()
		log.WithError(err).WithFields(log.Fields{
			"room":   key.roomCode,
			"editor": key.editorID,
		}).Warn("document save failed, will retry")
		if !w.closed {
			p.timer.Reset(w.window)
		}
		return
	}
	metrics.DocumentSaves.Inc()
	p.timer.Stop()
	delete(w.pending, key)
}

// DiscardDocument drops the pending write for one document, if any. Used
// when the document is removed from its room.
func (w *DebouncedWriter) DiscardDocument(roomCode string, editorID int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := writeKey{roomCode: roomCode, editorID: editorID}
	if p, ok := w.pending[key]; ok {
		p.timer.Stop()
		delete(w.pending, key)
	}
}

// DiscardRoom drops all pending writes for a room. Used when the room's
// rows are about to be deleted anyway.
func (w *DebouncedWriter) DiscardRoom(roomCode string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, p := range w.pending {
		if key.roomCode == roomCode {
			p.timer.Stop()
			delete(w.pending, key)
		}
	}
}

// Flush cancels every pending timer and writes all pending snapshots
// synchronously. Called on graceful shutdown; Schedule afterwards writes
// through directly.
func (w *DebouncedWriter) Flush() {
	w.mu.Lock()
	w.closed = true
	remaining := make(map[writeKey]*pendingWrite, len(w.pending))
	for key, p := range w.pending {
		p.timer.Stop()
		remaining[key] = p
	}
	w.pending = make(map[writeKey]*pendingWrite)
	w.mu.Unlock()

	for key, p := range remaining {
		w.save(key.roomCode, key.editorID, p.content, p.revision)
	}
}

// PendingCount reports how many documents have an unwritten snapshot.
func (w *DebouncedWriter) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *DebouncedWriter) save(roomCode string, editorID int, content string, revision int) {
	if err := w.store.SaveDocument(roomCode, editorID, content, revision); err != nil {
		metrics.DocumentSaveFailures.Inc()
		log.WithError(err).WithFields(log.Fields{
			"room":   roomCode,
			"editor": editorID,
		}).Error("document save failed during flush")
		return
	}
	metrics.DocumentSaves.Inc()
}
