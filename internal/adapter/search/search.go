// Package search runs targeted text searches over the pipeline log.
package search

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/logstream"
	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
)

const (
	defaultMaxLineSize = 4 * 1024 * 1024
	maxStderrLen       = 512
)

// GrepQuery searches the log with a grep subprocess, one fixed-string
// pattern per term.
type GrepQuery struct {
	grepPath string
	logPath  string
	logger   *slog.Logger
}

// NewGrepQuery creates a GrepQuery. An empty grepPath uses grep from PATH.
func NewGrepQuery(grepPath, logPath string, logger *slog.Logger) *GrepQuery {
	if grepPath == "" {
		grepPath = "grep"
	}
	return &GrepQuery{grepPath: grepPath, logPath: logPath, logger: logger.With("component", "grep_query")}
}

// Query implements domain.ExternalQuery. No match is an empty result, not an error.
func (q *GrepQuery) Query(ctx context.Context, terms ...string) ([]byte, error) {
	args := []string{"-F"}
	for _, t := range terms {
		if t == "" {
			continue
		}
		args = append(args, "-e", t)
	}
	if len(args) == 1 {
		return nil, nil
	}
	args = append(args, "--", q.logPath)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, q.grepPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	msg := strings.TrimSpace(stderr.String())
	if len(msg) > maxStderrLen {
		msg = msg[:maxStderrLen]
	}
	q.logger.Debug("grep failed", "terms", len(terms), "error", err, "stderr", msg)
	return nil, fmt.Errorf("%w: grep: %w: %s", domain.ErrQueryFailed, err, msg)
}

// ScanQuery searches the log in process. It reads compressed archives too,
// which grep cannot.
type ScanQuery struct {
	logPath     string
	maxLineSize int
}

// NewScanQuery creates a ScanQuery. maxLineSize <= 0 uses the default.
func NewScanQuery(logPath string, maxLineSize int) *ScanQuery {
	if maxLineSize <= 0 {
		maxLineSize = defaultMaxLineSize
	}
	return &ScanQuery{logPath: logPath, maxLineSize: maxLineSize}
}

// Query implements domain.ExternalQuery.
func (q *ScanQuery) Query(ctx context.Context, terms ...string) ([]byte, error) {
	patterns := make([][]byte, 0, len(terms))
	for _, t := range terms {
		if t != "" {
			patterns = append(patterns, []byte(t))
		}
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	rc, err := logstream.OpenFile(q.logPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrQueryFailed, err)
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), q.maxLineSize)

	var out bytes.Buffer
	lines := 0
	for scanner.Scan() {
		lines++
		if lines%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := scanner.Bytes()
		for _, p := range patterns {
			if bytes.Contains(line, p) {
				out.Write(line)
				out.WriteByte('\n')
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan %s: %w", domain.ErrQueryFailed, q.logPath, err)
	}
	return out.Bytes(), nil
}
