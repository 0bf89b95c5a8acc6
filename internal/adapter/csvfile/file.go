package csvfile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// FileSink writes a run's candidates to a CSV file. The file is replaced
// atomically so readers never see a partial report.
type FileSink struct {
	path   string
	logger *slog.Logger
}

// NewFileSink creates a FileSink writing to path.
func NewFileSink(path string, logger *slog.Logger) *FileSink {
	return &FileSink{path: path, logger: logger.With("component", "csv_sink")}
}

// WriteCandidates implements domain.CandidateSink.
func (s *FileSink) WriteCandidates(ctx context.Context, runID string, candidates []domain.Candidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeFile(s.path, func(w io.Writer) error { return WriteCandidates(w, candidates) }); err != nil {
		return err
	}
	s.logger.Info("wrote candidates file", "path", s.path, "run_id", runID, "rows", len(candidates))
	return nil
}

// ReadCandidatesFile reads a candidate file from disk.
func ReadCandidatesFile(path string) ([]domain.Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candidates file: %w", err)
	}
	defer f.Close()

	candidates, err := ReadCandidates(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates file %s: %w", path, err)
	}
	return candidates, nil
}

// WriteCandidatesFile writes a candidate file to disk.
func WriteCandidatesFile(path string, candidates []domain.Candidate) error {
	return writeFile(path, func(w io.Writer) error { return WriteCandidates(w, candidates) })
}

// ReadLedgerFile reads the settled keys from a ledger file on disk.
func ReadLedgerFile(path, column string) (domain.SettledSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	defer f.Close()

	set, err := ReadLedger(f, column)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file %s: %w", path, err)
	}
	return set, nil
}

// WriteAttemptsFile writes the payment attempts listing to disk.
func WriteAttemptsFile(path string, attempts []domain.Attempt) error {
	return writeFile(path, func(w io.Writer) error { return WriteAttempts(w, attempts) })
}

func writeFile(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
