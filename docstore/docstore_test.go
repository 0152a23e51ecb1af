package docstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "documents.db"))
	require.NoError(t, err)
	return s
}

func TestRegisterAndDuplicate(t *testing.T) {
	s := newTestStore(t)

	doc, created, err := s.Register("hash-1", "ddt.pdf", "/in/ddt.pdf", StatusQueued)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusQueued, doc.Status)

	// Same hash again: the original record comes back untouched.
	dup, created, err := s.Register("hash-1", "ddt_copy.pdf", "/in/ddt_copy.pdf", StatusQueued)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "ddt.pdf", dup.FileName)
}

func TestTransitionLifecycle(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Register("hash-1", "ddt.pdf", "", StatusQueued)
	require.NoError(t, err)

	doc, err := s.Transition("hash-1", StatusProcessing, "worker picked up", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, doc.Status)

	doc, err = s.Transition("hash-1", StatusReadyForReview, "extraction done", func(d *Document) {
		d.Method = "LAYOUT_MODEL"
		d.ExtractedJSON = `{"numero_documento":"DDT-1"}`
	})
	require.NoError(t, err)
	assert.Equal(t, "LAYOUT_MODEL", doc.Method)

	doc, err = s.Transition("hash-1", StatusFinalized, "operator confirmed", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, doc.Status)
}

func TestForbiddenTransitions(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name string
		from Status
		to   Status
	}{
		{"review cannot go back to processing", StatusReadyForReview, StatusProcessing},
		{"finalized is terminal", StatusFinalized, StatusProcessing},
		{"error is terminal", StatusErrorFinal, StatusQueued},
		{"queued cannot skip to review", StatusQueued, StatusReadyForReview},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash := string(rune('a'+i)) + "-hash"
			_, _, err := s.Register(hash, "x.pdf", "", tt.from)
			require.NoError(t, err)

			_, err = s.Transition(hash, tt.to, "test", nil)
			require.Error(t, err)
			var invalid ErrInvalidTransition
			assert.True(t, errors.As(err, &invalid))
		})
	}
}

func TestStuckRecovery(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Register("hash-1", "x.pdf", "", StatusQueued)
	require.NoError(t, err)
	_, err = s.Transition("hash-1", StatusProcessing, "worker picked up", nil)
	require.NoError(t, err)

	// Negative age makes every in-flight document count as stuck.
	marked, err := s.RequeueStuck(-time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	// A stuck document can only move by explicit operator action.
	doc, err := s.Transition("hash-1", StatusProcessing, "manual retry", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, doc.Status)
}

func TestListByStatus(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Register("h1", "a.pdf", "", StatusQueued)
	require.NoError(t, err)
	_, _, err = s.Register("h2", "b.pdf", "", StatusQueued)
	require.NoError(t, err)
	_, err = s.Transition("h2", StatusProcessing, "worker", nil)
	require.NoError(t, err)

	queued, err := s.List(StatusQueued, 0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "a.pdf", queued[0].FileName)

	all, err := s.List("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("contenuto"), 0o644))

	h1, err := HashFile(path)
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	h2, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	_, err = HashFile(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}
