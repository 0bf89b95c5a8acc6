// Package logstream turns a newline-delimited JSON log into a forward-only
// sequence of domain events.
//
// Malformed lines surface as *domain.ParseError and never end the stream;
// the caller decides whether to log and continue. Failures of the underlying
// reader (I/O errors, oversized lines, corrupt compression) end the stream
// with an error wrapping domain.ErrStreamTruncated.
package logstream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/metrics"
	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
	"github.com/jsanchez-sales-hub/sht-4502/internal/pkg/config"
)

const (
	defaultMaxLineSize = 4 * 1024 * 1024
	initialBufferSize  = 64 * 1024
)

var errNotObject = errors.New("line is not a JSON object")

// Options tunes a Reader.
type Options struct {
	// Name identifies the stream in log output.
	Name string
	// ProgressEvery emits a progress line every N lines. 0 disables it.
	ProgressEvery int
	// MaxLineSize bounds a single line. Longer lines end the stream.
	MaxLineSize int
	// KeepRaw retains a copy of every line in Event.Raw.
	KeepRaw bool
}

// Reader parses events from a line-delimited stream.
type Reader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	rules   config.Rules
	opts    Options
	logger  *slog.Logger
	metrics *metrics.ReconcileMetrics

	line        int
	parseErrors int
}

// NewReader creates a Reader over r. The metrics argument may be nil.
func NewReader(r io.Reader, rules config.Rules, opts Options, logger *slog.Logger, m *metrics.ReconcileMetrics) *Reader {
	maxLine := opts.MaxLineSize
	if maxLine <= 0 {
		maxLine = defaultMaxLineSize
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(initialBufferSize, maxLine)), maxLine)

	var closer io.Closer
	if c, ok := r.(io.Closer); ok {
		closer = c
	}

	return &Reader{
		scanner: scanner,
		closer:  closer,
		rules:   rules,
		opts:    opts,
		logger:  logger.With("component", "logstream", "source", opts.Name),
		metrics: m,
	}
}

// Next returns the next event. See the package documentation for the error contract.
func (r *Reader) Next() (domain.Event, error) {
	for {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return domain.Event{}, fmt.Errorf("%w: after line %d: %w", domain.ErrStreamTruncated, r.line, err)
			}
			return domain.Event{}, io.EOF
		}
		r.line++
		r.reportProgress()

		raw := r.scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		ev, err := r.parse(raw)
		if err != nil {
			r.parseErrors++
			if r.metrics != nil {
				r.metrics.LinesTotal.WithLabelValues("parse_error").Inc()
			}
			return domain.Event{}, &domain.ParseError{Line: r.line, Raw: string(raw), Err: err}
		}
		if r.metrics != nil {
			r.metrics.LinesTotal.WithLabelValues("parsed").Inc()
		}
		return ev, nil
	}
}

// Line returns the number of lines consumed so far.
func (r *Reader) Line() int {
	return r.line
}

// ParseErrors returns the number of malformed lines seen so far.
func (r *Reader) ParseErrors() int {
	return r.parseErrors
}

// Close closes the underlying reader when it is closable.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *Reader) parse(raw []byte) (domain.Event, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.Event{}, err
	}
	if payload == nil {
		return domain.Event{}, errNotObject
	}

	ev := domain.Event{Line: r.line, Payload: payload}
	ev.SessionID = ev.String(r.rules.SessionField)
	ev.Message = ev.String(r.rules.MessageField)

	t, err := parseTime(payload[r.rules.TimeField])
	if err != nil {
		return domain.Event{}, fmt.Errorf("field %q: %w", r.rules.TimeField, err)
	}
	ev.Time = t

	if r.opts.KeepRaw {
		ev.Raw = bytes.Clone(raw)
	}
	return ev, nil
}

// parseTime accepts epoch milliseconds (number or numeric string) and ISO-8601
// strings. An absent field yields the zero time: the event is kept, orders
// before every timed event and renders an empty timestamp in reports.
func parseTime(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}

	if raw[0] != '"' {
		ms, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid numeric time %s", raw)
		}
		return time.UnixMilli(int64(ms)).UTC(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, err
	}
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return t.UTC(), nil
}

func (r *Reader) reportProgress() {
	if r.opts.ProgressEvery <= 0 || r.line%r.opts.ProgressEvery != 0 {
		return
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if r.metrics != nil {
		r.metrics.HeapInUseBytes.Set(float64(ms.HeapInuse))
	}
	r.logger.Info("log stream progress",
		"line", r.line,
		"parse_errors", r.parseErrors,
		"heap_inuse", humanize.Bytes(ms.HeapInuse),
		"sys", humanize.Bytes(ms.Sys),
	)
}
