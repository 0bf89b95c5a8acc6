package logstream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/metrics"
	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
	"github.com/jsanchez-sales-hub/sht-4502/internal/pkg/config"
	"github.com/klauspost/compress/zstd"
)

const readBufferSize = 1 << 20

// FileSource opens a log file for each pass. Files ending in .zst are
// decompressed on the fly.
type FileSource struct {
	path    string
	rules   config.Rules
	opts    Options
	logger  *slog.Logger
	metrics *metrics.ReconcileMetrics
}

// NewFileSource creates a FileSource. The file is opened read-only and never locked.
func NewFileSource(path string, rules config.Rules, opts Options, logger *slog.Logger, m *metrics.ReconcileMetrics) *FileSource {
	if opts.Name == "" {
		opts.Name = filepath.Base(path)
	}
	return &FileSource{path: path, rules: rules, opts: opts, logger: logger, metrics: m}
}

// Path returns the file the source reads.
func (s *FileSource) Path() string {
	return s.path
}

// Open starts a new pass from offset zero.
func (s *FileSource) Open(ctx context.Context) (domain.EventStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := OpenFile(s.path)
	if err != nil {
		return nil, err
	}
	return NewReader(rc, s.rules, s.opts, s.logger, s.metrics), nil
}

// OpenFile opens a log file read-only, decompressing .zst files.
func OpenFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log %s: %w", path, err)
	}

	if !strings.HasSuffix(path, ".zst") {
		return &fileReader{Reader: bufio.NewReaderSize(f, readBufferSize), file: f}, nil
	}

	dec, err := zstd.NewReader(bufio.NewReaderSize(f, readBufferSize))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open zstd stream %s: %w", path, err)
	}
	return &zstdReader{Decoder: dec, file: f}, nil
}

// BytesSource serves passes over an in-memory log, such as the output of a
// targeted search.
type BytesSource struct {
	data    []byte
	rules   config.Rules
	opts    Options
	logger  *slog.Logger
	metrics *metrics.ReconcileMetrics
}

// NewBytesSource creates a BytesSource over data.
func NewBytesSource(data []byte, rules config.Rules, opts Options, logger *slog.Logger, m *metrics.ReconcileMetrics) *BytesSource {
	return &BytesSource{data: data, rules: rules, opts: opts, logger: logger, metrics: m}
}

// Open starts a new pass over the buffered log.
func (s *BytesSource) Open(ctx context.Context) (domain.EventStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewReader(bytes.NewReader(s.data), s.rules, s.opts, s.logger, s.metrics), nil
}

type fileReader struct {
	*bufio.Reader
	file *os.File
}

func (r *fileReader) Close() error {
	return r.file.Close()
}

type zstdReader struct {
	*zstd.Decoder
	file *os.File
}

func (r *zstdReader) Close() error {
	r.Decoder.Close()
	return r.file.Close()
}
