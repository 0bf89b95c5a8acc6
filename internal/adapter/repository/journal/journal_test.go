package journal

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
)

func setupTestStore(t *testing.T, dir string, maxSegmentSize, maxTotalSize int64) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewStore(dir, maxSegmentSize, maxTotalSize, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_EmptyLoad(t *testing.T) {
	s := setupTestStore(t, t.TempDir(), 1024, 10*1024)

	cp, err := s.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, cp.ProcessedUpTo)
	assert.Empty(t, cp.Excluded)
}

func TestStore_CommitAndReload(t *testing.T) {
	dir := t.TempDir()
	s := setupTestStore(t, dir, 1024, 10*1024)

	require.NoError(t, s.Commit(t.Context(), domain.CheckpointDelta{ProcessedUpTo: 20, Excluded: []string{"4111"}}))
	require.NoError(t, s.Commit(t.Context(), domain.CheckpointDelta{ProcessedUpTo: 40}))
	require.NoError(t, s.Commit(t.Context(), domain.CheckpointDelta{ProcessedUpTo: 45, Excluded: []string{"4222", "4111"}}))
	require.NoError(t, s.Close())

	// Reopen to simulate a restarted run.
	reopened := setupTestStore(t, dir, 1024, 10*1024)
	cp, err := reopened.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 45, cp.ProcessedUpTo)
	assert.Equal(t, map[string]struct{}{"4111": {}, "4222": {}}, cp.Excluded)

	// Appends after a reopen land in the same journal.
	require.NoError(t, reopened.Commit(t.Context(), domain.CheckpointDelta{ProcessedUpTo: 60}))
	cp, err = reopened.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 60, cp.ProcessedUpTo)
}

func TestStore_SegmentRotation(t *testing.T) {
	s := setupTestStore(t, t.TempDir(), 64, 10*1024)

	for i := range 10 {
		require.NoError(t, s.Commit(t.Context(), domain.CheckpointDelta{ProcessedUpTo: (i + 1) * 20, Excluded: []string{"4111111111111111"}}))
	}

	segments, err := s.sortedSegments()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(segments), 2)

	cp, err := s.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 200, cp.ProcessedUpTo)
	assert.Len(t, cp.Excluded, 1)
}

func TestStore_MaxTotalSize(t *testing.T) {
	s := setupTestStore(t, t.TempDir(), 1024, 40)

	require.NoError(t, s.Commit(t.Context(), domain.CheckpointDelta{ProcessedUpTo: 20}))
	err := s.Commit(t.Context(), domain.CheckpointDelta{ProcessedUpTo: 40, Excluded: []string{"4111111111111111"}})
	assert.ErrorContains(t, err, "max total size exceeded")
}

func TestStore_Reset(t *testing.T) {
	dir := t.TempDir()
	s := setupTestStore(t, dir, 1024, 10*1024)
	require.NoError(t, s.Commit(t.Context(), domain.CheckpointDelta{ProcessedUpTo: 20, Excluded: []string{"4111"}}))

	require.NoError(t, s.Reset(t.Context()))

	cp, err := s.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, cp.ProcessedUpTo)
	assert.Empty(t, cp.Excluded)

	require.NoError(t, s.Commit(t.Context(), domain.CheckpointDelta{ProcessedUpTo: 5}))
	cp, err = s.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 5, cp.ProcessedUpTo)
}

func TestStore_SkipsTornEntry(t *testing.T) {
	dir := t.TempDir()
	s := setupTestStore(t, dir, 1024, 10*1024)
	require.NoError(t, s.Commit(t.Context(), domain.CheckpointDelta{ProcessedUpTo: 20}))
	require.NoError(t, s.Close())

	segments, err := s.sortedSegments()
	require.NoError(t, err)
	require.Len(t, segments, 1)
	f, err := os.OpenFile(segments[0], os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(`{"processed_up_to":4`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened := setupTestStore(t, dir, 1024, 10*1024)
	cp, err := reopened.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 20, cp.ProcessedUpTo)

	require.NoError(t, reopened.Commit(t.Context(), domain.CheckpointDelta{ProcessedUpTo: 30}))
	cp, err = reopened.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 30, cp.ProcessedUpTo)
}

func TestStore_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))
	s := setupTestStore(t, dir, 1024, 10*1024)

	cp, err := s.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, cp.ProcessedUpTo)
}
