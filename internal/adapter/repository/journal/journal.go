// Package journal stores batch checkpoints as an append-only series of
// JSON lines split across segment files.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
)

const (
	segmentPrefix = "segment-"
	segmentSuffix = ".jsonl"
	dirPerm       = 0755
	filePerm      = 0644
)

// Store implements domain.CheckpointStore on local disk. Each Commit appends
// one delta; Load replays every segment in order.
type Store struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu          sync.Mutex
	segment     *os.File
	segmentSize int64
	totalSize   int64
}

// NewStore opens or creates a journal in dir.
func NewStore(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory %s: %w", dir, err)
	}

	s := &Store{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "checkpoint_journal"),
	}

	total, err := s.diskUsage()
	if err != nil {
		return nil, err
	}
	s.totalSize = total

	if err := s.openLatestSegment(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load implements domain.CheckpointStore.
func (s *Store) Load(ctx context.Context) (domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := domain.NewCheckpoint()
	segments, err := s.sortedSegments()
	if err != nil {
		return cp, err
	}

	deltas := 0
	for _, path := range segments {
		n, err := s.replaySegment(ctx, path, &cp)
		deltas += n
		if err != nil {
			return domain.NewCheckpoint(), err
		}
	}

	s.logger.Info("Loaded checkpoint", "segments", len(segments), "deltas", deltas,
		"processed_up_to", cp.ProcessedUpTo, "excluded", len(cp.Excluded))
	return cp, nil
}

func (s *Store) replaySegment(ctx context.Context, path string, cp *domain.Checkpoint) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open segment %s: %w", path, err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var delta domain.CheckpointDelta
		if err := json.Unmarshal(scanner.Bytes(), &delta); err != nil {
			// A torn final line is left behind by a crash mid-append.
			s.logger.Warn("Skipping unreadable checkpoint entry", "segment", filepath.Base(path), "error", err)
			continue
		}
		cp.Merge(delta)
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return n, nil
}

// Commit implements domain.CheckpointStore. The entry is synced before
// Commit returns.
func (s *Store) Commit(ctx context.Context, delta domain.CheckpointDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint delta: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalSize+int64(len(data)) > s.maxTotalSize {
		return fmt.Errorf("checkpoint journal max total size exceeded (%d > %d)", s.totalSize, s.maxTotalSize)
	}
	if s.segment == nil {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.segment.Write(data)
	s.segmentSize += int64(n)
	s.totalSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to append checkpoint delta: %w", err)
	}
	if err := s.segment.Sync(); err != nil {
		return fmt.Errorf("failed to sync checkpoint segment: %w", err)
	}

	if s.segmentSize >= s.maxSegmentSize {
		if err := s.rotate(); err != nil {
			s.logger.Error("Failed to rotate checkpoint segment", "error", err)
		}
	}
	return nil
}

// Reset implements domain.CheckpointStore by removing every segment.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.segment != nil {
		s.segment.Close()
		s.segment = nil
	}

	segments, err := s.sortedSegments()
	if err != nil {
		return err
	}
	for _, path := range segments {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove checkpoint segment %s: %w", path, err)
		}
	}
	s.totalSize = 0

	s.logger.Info("Checkpoint journal reset", "removed_segments", len(segments))
	return s.rotate()
}

// Close closes the active segment.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.segment == nil {
		return nil
	}
	err := s.segment.Close()
	s.segment = nil
	return err
}

func (s *Store) rotate() error {
	if s.segment != nil {
		if err := s.segment.Close(); err != nil {
			s.logger.Error("Failed to close checkpoint segment before rotating", "error", err)
		}
		s.segment = nil
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", segmentPrefix, time.Now().UnixNano(), segmentSuffix))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint segment %s: %w", path, err)
	}

	s.segment = f
	s.segmentSize = 0
	s.logger.Debug("Rotated to new checkpoint segment", "path", path)
	return nil
}

func (s *Store) openLatestSegment() error {
	segments, err := s.sortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return s.rotate()
	}

	latest := segments[len(segments)-1]
	stat, err := os.Stat(latest)
	if err != nil {
		return fmt.Errorf("failed to stat latest segment %s: %w", latest, err)
	}
	if stat.Size() >= s.maxSegmentSize {
		return s.rotate()
	}
	torn, err := endsTorn(latest, stat.Size())
	if err != nil {
		return err
	}
	if torn {
		s.logger.Warn("Latest checkpoint segment ends mid-entry, starting a new one", "path", latest)
		return s.rotate()
	}

	f, err := os.OpenFile(latest, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open latest segment %s: %w", latest, err)
	}
	s.segment = f
	s.segmentSize = stat.Size()
	return nil
}

// endsTorn reports whether a non-empty segment lacks its trailing newline.
func endsTorn(path string, size int64) (bool, error) {
	if size == 0 {
		return false, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open segment %s: %w", path, err)
	}
	defer f.Close()

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return false, fmt.Errorf("failed to read segment %s: %w", path, err)
	}
	return last[0] != '\n', nil
}

func (s *Store) sortedSegments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentSuffix) {
			segments = append(segments, filepath.Join(s.dir, name))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (s *Store) diskUsage() (int64, error) {
	segments, err := s.sortedSegments()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, path := range segments {
		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
