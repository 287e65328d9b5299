// Package document holds the canonical server-side state of a single
// document: content, revision counter, and the sliding window of applied
// operations used to transform stale client edits.
package document

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/jerukian123/collab-editor-monaco/pkg/ot"
)

// DefaultHistorySize is the number of applied operations retained for
// transforming stale clients.
const DefaultHistorySize = 100

var (
	// ErrRevisionTooOld means the client's base revision fell out of the
	// history window; the client must resync from a snapshot.
	ErrRevisionTooOld = errors.New("revision too old")

	// ErrFutureRevision means the client claims a revision the server has
	// not reached; a client-side bug.
	ErrFutureRevision = errors.New("future revision")
)

// Store is the single-writer owner of one document's state. All mutations
// are serialized under its mutex; concurrent Ingest calls are linearized.
type Store struct {
	mu         sync.Mutex
	id         int
	content    string
	revision   int
	history    []ot.Operation
	maxHistory int
}

// New creates an empty document at revision 0.
func New(id, historySize int) *Store {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Store{id: id, maxHistory: historySize}
}

// Ingest applies a client operation authored against baseRevision. Stale
// operations are transformed against every applied operation the client has
// not seen. Returns the transformed operation and the new revision.
func (s *Store) Ingest(op ot.Operation, baseRevision int) (ot.Operation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if baseRevision > s.revision {
		return nil, 0, fmt.Errorf("%w: base %d, server at %d", ErrFutureRevision, baseRevision, s.revision)
	}
	oldest := s.revision - len(s.history)
	if baseRevision < oldest {
		return nil, 0, fmt.Errorf("%w: base %d, oldest retained %d", ErrRevisionTooOld, baseRevision, oldest)
	}

	transformed := op.Compact()
	for _, applied := range s.history[baseRevision-oldest:] {
		var err error
		transformed, err = ot.Transform(transformed, applied, ot.SideLeft)
		if err != nil {
			return nil, 0, err
		}
	}

	baseLen := len([]rune(s.content))
	if err := transformed.Validate(baseLen); err != nil {
		return nil, 0, err
	}
	next, err := transformed.Apply(s.content)
	if err != nil {
		return nil, 0, err
	}

	s.content = next
	s.revision++
	s.history = append(s.history, transformed)
	if len(s.history) > s.maxHistory {
		// Drop the oldest entry; copy so the backing array does not pin it.
		s.history = append(s.history[:0:0], s.history[1:]...)
	}

	log.WithFields(log.Fields{
		"editor":   s.id,
		"base":     baseRevision,
		"revision": s.revision,
		"length":   len([]rune(s.content)),
	}).Debug("operation applied")

	return transformed, s.revision, nil
}

// Snapshot returns the current content and revision.
func (s *Store) Snapshot() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content, s.revision
}

// Revision returns the current revision.
func (s *Store) Revision() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Reset replaces the document state from a persisted snapshot and clears
// the history window. Clients holding older revisions must resync.
func (s *Store) Reset(content string, revision int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = content
	s.revision = revision
	s.history = nil
}
