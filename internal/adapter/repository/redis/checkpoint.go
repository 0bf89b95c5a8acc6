// Package redis stores batch checkpoints in Redis so several operators can
// share one verification run.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
)

// maxScript sets KEYS[1] to ARGV[1] unless the stored value is already larger.
const maxScript = `
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if tonumber(ARGV[1]) > cur then
	redis.call('SET', KEYS[1], ARGV[1])
end
return 0`

// CheckpointStore implements domain.CheckpointStore with a string key for
// progress and a set for excluded keys.
type CheckpointStore struct {
	client      *redis.Client
	progressKey string
	excludedKey string
	logger      *slog.Logger
}

// NewCheckpointStore creates a store whose keys share the given prefix.
func NewCheckpointStore(client *redis.Client, prefix string, logger *slog.Logger) *CheckpointStore {
	return &CheckpointStore{
		client:      client,
		progressKey: prefix + ":processed_up_to",
		excludedKey: prefix + ":excluded",
		logger:      logger.With("component", "redis_checkpoint"),
	}
}

// NewClient parses a redis:// URL and verifies the server answers.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Load implements domain.CheckpointStore.
func (s *CheckpointStore) Load(ctx context.Context) (domain.Checkpoint, error) {
	cp := domain.NewCheckpoint()

	pipe := s.client.Pipeline()
	progress := pipe.Get(ctx, s.progressKey)
	members := pipe.SMembers(ctx, s.excludedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return cp, s.wrap("load", err)
	}

	if v, err := progress.Result(); err == nil {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cp, fmt.Errorf("corrupt progress value %q: %w", v, err)
		}
		cp.ProcessedUpTo = n
	} else if !errors.Is(err, redis.Nil) {
		return cp, s.wrap("load", err)
	}
	for _, k := range members.Val() {
		cp.Excluded[k] = struct{}{}
	}

	s.logger.Info("Loaded checkpoint", "processed_up_to", cp.ProcessedUpTo, "excluded", len(cp.Excluded))
	return cp, nil
}

// Commit implements domain.CheckpointStore. Both keys change in one transaction.
func (s *CheckpointStore) Commit(ctx context.Context, delta domain.CheckpointDelta) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Eval(ctx, maxScript, []string{s.progressKey}, delta.ProcessedUpTo)
		if len(delta.Excluded) > 0 {
			members := make([]interface{}, len(delta.Excluded))
			for i, k := range delta.Excluded {
				members[i] = k
			}
			pipe.SAdd(ctx, s.excludedKey, members...)
		}
		return nil
	})
	if err != nil {
		return s.wrap("commit", err)
	}
	return nil
}

// Reset implements domain.CheckpointStore.
func (s *CheckpointStore) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.progressKey, s.excludedKey).Err(); err != nil {
		return s.wrap("reset", err)
	}
	s.logger.Info("Checkpoint reset", "keys", []string{s.progressKey, s.excludedKey})
	return nil
}

func (s *CheckpointStore) wrap(op string, err error) error {
	if isNetworkError(err) {
		s.logger.Error("Redis connection lost", "op", op, "error", err)
	}
	return fmt.Errorf("redis checkpoint %s: %w", op, err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
