package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerukian123/collab-editor-monaco/pkg/ot"
)

func TestIngestFresh(t *testing.T) {
	s := New(1, DefaultHistorySize)

	applied, rev, err := s.Ingest(ot.Operation{ot.Insert("hello world")}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, rev)
	assert.Equal(t, ot.Operation{ot.Insert("hello world")}, applied)

	content, rev := s.Snapshot()
	assert.Equal(t, "hello world", content)
	assert.Equal(t, 1, rev)
}

func TestIngestStaleTransformed(t *testing.T) {
	s := New(1, DefaultHistorySize)
	_, _, err := s.Ingest(ot.Operation{ot.Insert("abc")}, 0)
	require.NoError(t, err)

	// A applies first at the current revision.
	_, _, err = s.Ingest(ot.Operation{ot.Insert("x"), ot.Retain(3)}, 1)
	require.NoError(t, err)

	// B was authored against revision 1 and arrives late; it must be
	// transformed against A's insert with the server side winning the tie.
	applied, rev, err := s.Ingest(ot.Operation{ot.Insert("y"), ot.Retain(3)}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, rev)
	assert.Equal(t, ot.Operation{ot.Retain(1), ot.Insert("y"), ot.Retain(3)}, applied)

	content, _ := s.Snapshot()
	assert.Equal(t, "xyabc", content)
}

func TestIngestOverlappingDeletes(t *testing.T) {
	s := New(1, DefaultHistorySize)
	_, _, err := s.Ingest(ot.Operation{ot.Insert("hello world")}, 0)
	require.NoError(t, err)

	_, _, err = s.Ingest(ot.Operation{ot.Delete(5), ot.Retain(6)}, 1)
	require.NoError(t, err)

	_, rev, err := s.Ingest(ot.Operation{ot.Retain(1), ot.Delete(6), ot.Retain(4)}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, rev)

	content, _ := s.Snapshot()
	assert.Equal(t, "orld", content)
}

func TestIngestRevisionBounds(t *testing.T) {
	s := New(1, 2)
	for i := 0; i < 5; i++ {
		_, _, err := s.Ingest(ot.Operation{ot.Retain(i), ot.Insert("a")}, i)
		require.NoError(t, err)
	}
	// revision 5, history holds revisions 4..5, oldest base is 3.

	_, _, err := s.Ingest(ot.Operation{ot.Retain(2), ot.Delete(3)}, 2)
	assert.ErrorIs(t, err, ErrRevisionTooOld)

	_, _, err = s.Ingest(ot.Operation{ot.Retain(5)}, 6)
	assert.ErrorIs(t, err, ErrFutureRevision)

	// The exact oldest retained base is still accepted.
	_, rev, err := s.Ingest(ot.Operation{ot.Retain(3), ot.Insert("z")}, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, rev)
}

func TestIngestInvalidOperation(t *testing.T) {
	s := New(1, DefaultHistorySize)
	_, _, err := s.Ingest(ot.Operation{ot.Insert("abc")}, 0)
	require.NoError(t, err)

	_, _, err = s.Ingest(ot.Operation{ot.Retain(5)}, 1)
	assert.ErrorIs(t, err, ot.ErrInvalidOperation)

	// Failed ingest leaves state untouched.
	content, rev := s.Snapshot()
	assert.Equal(t, "abc", content)
	assert.Equal(t, 1, rev)
}

func TestHistoryBound(t *testing.T) {
	const window = 10
	s := New(1, window)
	for i := 0; i < 50; i++ {
		_, rev, err := s.Ingest(ot.Operation{ot.Retain(i), ot.Insert("a")}, i)
		require.NoError(t, err)
		require.Equal(t, i+1, rev)
	}

	// The oldest retained base (40) is accepted; after that ingest the
	// window slides and 40 falls out.
	_, _, err := s.Ingest(ot.Operation{ot.Retain(40), ot.Insert("b")}, 40)
	require.NoError(t, err)
	_, _, err = s.Ingest(ot.Operation{ot.Retain(40), ot.Insert("c")}, 40)
	assert.ErrorIs(t, err, ErrRevisionTooOld)
}

func TestResetClearsHistory(t *testing.T) {
	s := New(1, DefaultHistorySize)
	_, _, err := s.Ingest(ot.Operation{ot.Insert("abc")}, 0)
	require.NoError(t, err)

	s.Reset("content", 4)
	content, rev := s.Snapshot()
	assert.Equal(t, "content", content)
	assert.Equal(t, 4, rev)

	// Any base older than the reset revision is outside the (empty) window.
	_, _, err = s.Ingest(ot.Operation{ot.Retain(7), ot.Insert("x")}, 3)
	assert.ErrorIs(t, err, ErrRevisionTooOld)

	_, rev, err = s.Ingest(ot.Operation{ot.Retain(7), ot.Insert("!")}, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, rev)
}

func TestConcurrentIngestLinearized(t *testing.T) {
	s := New(1, DefaultHistorySize)
	_, _, err := s.Ingest(ot.Operation{ot.Insert("0123456789")}, 0)
	require.NoError(t, err)

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, _, err := s.Ingest(ot.Operation{ot.Insert("x"), ot.Retain(10)}, 1)
			done <- err
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-done)
	}

	content, rev := s.Snapshot()
	assert.Equal(t, 11, rev)
	assert.Equal(t, "xxxxxxxxxx0123456789", content)
}
