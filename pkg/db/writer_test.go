package db

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type savedDoc struct {
	roomCode string
	editorID int
	content  string
	revision int
}

type fakeStore struct {
	mu     sync.Mutex
	saves  []savedDoc
	failN  int // fail the first N saves
	inited map[string][]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{inited: make(map[string][]int)}
}

func (f *fakeStore) InitDocuments(roomCode string, editorIDs []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inited[roomCode] = editorIDs
	return nil
}

func (f *fakeStore) LoadDocuments(roomCode string) ([]PersistedDocument, error) {
	return nil, nil
}

func (f *fakeStore) SaveDocument(roomCode string, editorID int, content string, revision int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("connection reset")
	}
	f.saves = append(f.saves, savedDoc{roomCode, editorID, content, revision})
	return nil
}

func (f *fakeStore) DeleteDocument(roomCode string, editorID int) error { return nil }

func (f *fakeStore) CleanupRoom(roomCode string) error { return nil }
func (f *fakeStore) Close() error                      { return nil }

func (f *fakeStore) savedDocs() []savedDoc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]savedDoc(nil), f.saves...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWriterCoalescesBursts(t *testing.T) {
	store := newFakeStore()
	w := NewDebouncedWriter(store, 30*time.Millisecond)

	// Rapid typing: only the last snapshot should hit the database.
	for i := 1; i <= 5; i++ {
		w.Schedule("ABC234", 1, "draft", i)
	}
	w.Schedule("ABC234", 1, "final", 6)

	waitFor(t, func() bool { return len(store.savedDocs()) == 1 })
	saves := store.savedDocs()
	assert.Equal(t, savedDoc{"ABC234", 1, "final", 6}, saves[0])
	assert.Equal(t, 0, w.PendingCount())
}

func TestWriterIndependentDocuments(t *testing.T) {
	store := newFakeStore()
	w := NewDebouncedWriter(store, 20*time.Millisecond)

	w.Schedule("ABC234", 1, "one", 3)
	w.Schedule("ABC234", 2, "two", 7)
	w.Schedule("XYZ789", 1, "three", 1)

	waitFor(t, func() bool { return len(store.savedDocs()) == 3 })
	assert.ElementsMatch(t, []savedDoc{
		{"ABC234", 1, "one", 3},
		{"ABC234", 2, "two", 7},
		{"XYZ789", 1, "three", 1},
	}, store.savedDocs())
}

func TestWriterRetriesFailedWrite(t *testing.T) {
	store := newFakeStore()
	store.failN = 2
	w := NewDebouncedWriter(store, 15*time.Millisecond)

	w.Schedule("ABC234", 1, "content", 4)

	// The first two attempts fail; the entry stays pending and is retried.
	waitFor(t, func() bool { return len(store.savedDocs()) == 1 })
	assert.Equal(t, savedDoc{"ABC234", 1, "content", 4}, store.savedDocs()[0])
	assert.Equal(t, 0, w.PendingCount())
}

func TestWriterFlushWritesPendingSynchronously(t *testing.T) {
	store := newFakeStore()
	w := NewDebouncedWriter(store, time.Hour)

	w.Schedule("ABC234", 1, "unsaved", 9)
	w.Schedule("XYZ789", 2, "also unsaved", 2)
	require.Equal(t, 2, w.PendingCount())

	w.Flush()
	assert.ElementsMatch(t, []savedDoc{
		{"ABC234", 1, "unsaved", 9},
		{"XYZ789", 2, "also unsaved", 2},
	}, store.savedDocs())
	assert.Equal(t, 0, w.PendingCount())

	// After Flush the writer is closed; schedules write through.
	w.Schedule("ABC234", 1, "late", 10)
	assert.Len(t, store.savedDocs(), 3)
}

func TestWriterDiscardRoom(t *testing.T) {
	store := newFakeStore()
	w := NewDebouncedWriter(store, 20*time.Millisecond)

	w.Schedule("ABC234", 1, "doomed", 5)
	w.Schedule("XYZ789", 1, "survives", 5)
	w.DiscardRoom("ABC234")

	waitFor(t, func() bool { return len(store.savedDocs()) == 1 })
	time.Sleep(50 * time.Millisecond)
	saves := store.savedDocs()
	require.Len(t, saves, 1)
	assert.Equal(t, "XYZ789", saves[0].roomCode)
}
