// Package csvfile reads and writes the report files: candidate lists,
// settlement ledgers and the payment attempts listing.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
)

// TimestampLayout is the timestamp format used in every report file.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// CandidateHeader is the column order of a candidate file.
var CandidateHeader = []string{
	"run_id",
	"order_id",
	"timestamp",
	"cardNumber",
	"expirationDate",
	"cvv",
	"lastKnownIp",
	"trucentiveLink",
	"balance",
	"review",
}

// AttemptHeader is the column order of the payment attempts file.
var AttemptHeader = []string{"run_id", "timestamp", "order_id"}

var errNoHeader = errors.New("missing header row")

// FormatTimestamp renders t in UTC. The zero time renders as an empty field.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts the report layout and RFC 3339. An empty field is the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}

// WriteCandidates writes a header and one row per candidate.
func WriteCandidates(w io.Writer, candidates []domain.Candidate) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CandidateHeader); err != nil {
		return err
	}
	for _, c := range candidates {
		row := []string{
			c.SessionID,
			c.OrderID,
			FormatTimestamp(c.Timestamp),
			c.CardNumber,
			c.ExpirationDate,
			c.CVV,
			c.LastKnownIP,
			c.Link,
			c.Balance,
			c.Review,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCandidates reads a candidate file. Missing columns read as empty and
// unknown columns are ignored.
func ReadCandidates(r io.Reader) ([]domain.Candidate, error) {
	tr, err := newTableReader(r)
	if err != nil {
		return nil, err
	}

	var out []domain.Candidate
	for {
		row, err := tr.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		ts, err := ParseTimestamp(row.get("timestamp"))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row.line, err)
		}
		out = append(out, domain.Candidate{
			SessionID:      row.get("run_id"),
			OrderID:        row.get("order_id"),
			Timestamp:      ts,
			CardNumber:     row.get("cardNumber"),
			ExpirationDate: row.get("expirationDate"),
			CVV:            row.get("cvv"),
			LastKnownIP:    row.get("lastKnownIp"),
			Link:           row.get("trucentiveLink"),
			Balance:        row.get("balance"),
			Review:         row.get("review"),
		})
	}
}

// ReadLedger collects the values of column from a settlement ledger.
func ReadLedger(r io.Reader, column string) (domain.SettledSet, error) {
	tr, err := newTableReader(r)
	if err != nil {
		return nil, err
	}
	if _, ok := tr.columns[column]; !ok {
		return nil, fmt.Errorf("ledger has no %q column", column)
	}

	set := domain.NewSettledSet()
	for {
		row, err := tr.next()
		if errors.Is(err, io.EOF) {
			return set, nil
		}
		if err != nil {
			return nil, err
		}
		set.Add(row.get(column))
	}
}

// WriteAttempts writes the payment attempts listing.
func WriteAttempts(w io.Writer, attempts []domain.Attempt) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(AttemptHeader); err != nil {
		return err
	}
	for _, a := range attempts {
		if err := cw.Write([]string{a.SessionID, FormatTimestamp(a.Timestamp), a.OrderID}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type tableReader struct {
	cr      *csv.Reader
	columns map[string]int
}

type tableRow struct {
	line    int
	fields  []string
	columns map[string]int
}

func (r tableRow) get(name string) string {
	i, ok := r.columns[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return r.fields[i]
}

func newTableReader(r io.Reader) (*tableReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.TrimSpace(h)
		if _, dup := columns[h]; !dup {
			columns[h] = i
		}
	}
	return &tableReader{cr: cr, columns: columns}, nil
}

func (t *tableReader) next() (tableRow, error) {
	fields, err := t.cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return tableRow{}, io.EOF
		}
		return tableRow{}, fmt.Errorf("failed to read row: %w", err)
	}
	line, _ := t.cr.FieldPos(0)
	return tableRow{line: line, fields: fields, columns: t.columns}, nil
}
