package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
)

// newTestStore connects to the server named by REDIS_TEST_ADDR, for example
// redis://localhost:6379/15. Tests are skipped when it is unset.
func newTestStore(t *testing.T) *CheckpointStore {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client, err := NewClient(t.Context(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	prefix := fmt.Sprintf("cardrecon:test:%s", uuid.NewString())
	s := NewCheckpointStore(client, prefix, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { s.Reset(context.Background()) })
	return s
}

func TestCheckpointStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	cp, err := s.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, cp.ProcessedUpTo)
	assert.Empty(t, cp.Excluded)

	require.NoError(t, s.Commit(t.Context(), domain.CheckpointDelta{ProcessedUpTo: 20, Excluded: []string{"4111"}}))
	require.NoError(t, s.Commit(t.Context(), domain.CheckpointDelta{ProcessedUpTo: 40, Excluded: []string{"4222"}}))
	require.NoError(t, s.Commit(t.Context(), domain.CheckpointDelta{ProcessedUpTo: 10}))

	cp, err = s.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 40, cp.ProcessedUpTo)
	assert.Equal(t, map[string]struct{}{"4111": {}, "4222": {}}, cp.Excluded)

	require.NoError(t, s.Reset(t.Context()))
	cp, err = s.Load(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, cp.ProcessedUpTo)
	assert.Empty(t, cp.Excluded)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(t.Context(), "not a url")
	assert.ErrorContains(t, err, "invalid redis url")
}

func TestIsNetworkError(t *testing.T) {
	assert.True(t, isNetworkError(redis.ErrClosed))
	assert.True(t, isNetworkError(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.False(t, isNetworkError(errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")))
	assert.False(t, isNetworkError(redis.Nil))
}
