// Package badger stores batch checkpoints in an embedded BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
)

// Options configures the underlying database.
type Options struct {
	Path       string
	InMemory   bool
	SyncWrites bool
}

// CheckpointStore implements domain.CheckpointStore. Progress and each
// excluded key are stored under a namespace prefix, so several runs can
// share one database.
type CheckpointStore struct {
	db       *badger.DB
	progress []byte
	excluded []byte
	logger   *slog.Logger
}

// Open opens the database described by opts.
func Open(opts Options, logger *slog.Logger) (*badger.DB, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", opts.Path, err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites).WithNumVersionsToKeep(1)
	if logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: logger.With("component", "badger")})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// NewCheckpointStore creates a store over db using namespace as key prefix.
func NewCheckpointStore(db *badger.DB, namespace string, logger *slog.Logger) *CheckpointStore {
	return &CheckpointStore{
		db:       db,
		progress: []byte(namespace + ":processed_up_to"),
		excluded: []byte(namespace + ":excluded:"),
		logger:   logger.With("component", "badger_checkpoint"),
	}
}

// Load implements domain.CheckpointStore.
func (s *CheckpointStore) Load(ctx context.Context) (domain.Checkpoint, error) {
	cp := domain.NewCheckpoint()
	err := s.db.View(func(txn *badger.Txn) error {
		n, err := readProgress(txn, s.progress)
		if err != nil {
			return err
		}
		cp.ProcessedUpTo = n

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.excluded
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			cp.Excluded[string(key[len(s.excluded):])] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return domain.NewCheckpoint(), fmt.Errorf("load checkpoint: %w", err)
	}

	s.logger.Info("Loaded checkpoint", "processed_up_to", cp.ProcessedUpTo, "excluded", len(cp.Excluded))
	return cp, nil
}

// Commit implements domain.CheckpointStore. The progress index only moves forward.
func (s *CheckpointStore) Commit(ctx context.Context, delta domain.CheckpointDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := readProgress(txn, s.progress)
		if err != nil {
			return err
		}
		if delta.ProcessedUpTo > current {
			if err := txn.Set(s.progress, []byte(strconv.Itoa(delta.ProcessedUpTo))); err != nil {
				return err
			}
		}
		for _, k := range delta.Excluded {
			key := append(append([]byte{}, s.excluded...), k...)
			if err := txn.Set(key, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Reset implements domain.CheckpointStore.
func (s *CheckpointStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.DropPrefix(s.progress, s.excluded); err != nil {
		return fmt.Errorf("reset checkpoint: %w", err)
	}
	s.logger.Info("Checkpoint reset")
	return nil
}

func readProgress(txn *badger.Txn, key []byte) (int, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int
	err = item.Value(func(val []byte) error {
		var perr error
		n, perr = strconv.Atoi(string(val))
		return perr
	})
	if err != nil {
		return 0, fmt.Errorf("corrupt progress value: %w", err)
	}
	return n, nil
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
