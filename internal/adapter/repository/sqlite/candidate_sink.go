// Package sqlite imports report candidates into a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS cards (
	card_number     TEXT PRIMARY KEY,
	expiration_date TEXT NOT NULL DEFAULT '',
	cvv             TEXT NOT NULL DEFAULT '',
	last_known_ip   TEXT NOT NULL DEFAULT '',
	link            TEXT NOT NULL DEFAULT '',
	balance         TEXT NOT NULL DEFAULT '',
	review          TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE TABLE IF NOT EXISTS payment_attempts (
	session_id   TEXT PRIMARY KEY,
	card_number  TEXT NOT NULL REFERENCES cards (card_number),
	order_id     TEXT,
	attempted_at TEXT,
	report_run   TEXT NOT NULL
);
`

const memoryDSN = ":memory:"

// Open opens the database at path, creating its directory and the schema.
// The path ":memory:" opens a private in-memory database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path != memoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; an in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return db, nil
}

// CandidateSink implements domain.CandidateSink over SQLite.
type CandidateSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCandidateSink creates a sink over a database returned by Open.
func NewCandidateSink(db *sql.DB, logger *slog.Logger) *CandidateSink {
	return &CandidateSink{db: db, logger: logger.With("component", "sqlite_sink")}
}

// WriteCandidates implements domain.CandidateSink. Existing cards and
// attempts are kept as they are.
func (s *CandidateSink) WriteCandidates(ctx context.Context, runID string, candidates []domain.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	cardStmt, err := txn.PrepareContext(ctx, `
		INSERT OR IGNORE INTO cards (card_number, expiration_date, cvv, last_known_ip, link, balance, review)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer cardStmt.Close()

	attemptStmt, err := txn.PrepareContext(ctx, `
		INSERT OR IGNORE INTO payment_attempts (session_id, card_number, order_id, attempted_at, report_run)
		VALUES (?, ?, NULLIF(?, ''), ?, ?)`)
	if err != nil {
		return err
	}
	defer attemptStmt.Close()

	var newCards, newAttempts int64
	for _, c := range candidates {
		res, err := cardStmt.ExecContext(ctx, c.CardNumber, c.ExpirationDate, c.CVV, c.LastKnownIP, c.Link, c.Balance, c.Review)
		if err != nil {
			return fmt.Errorf("failed to insert card: %w", err)
		}
		n, _ := res.RowsAffected()
		newCards += n

		if c.SessionID == "" {
			continue
		}
		var attemptedAt sql.NullString
		if !c.Timestamp.IsZero() {
			attemptedAt = sql.NullString{String: c.Timestamp.UTC().Format(time.RFC3339Nano), Valid: true}
		}
		res, err = attemptStmt.ExecContext(ctx, c.SessionID, c.CardNumber, c.OrderID, attemptedAt, runID)
		if err != nil {
			return fmt.Errorf("failed to insert payment attempt: %w", err)
		}
		n, _ = res.RowsAffected()
		newAttempts += n
	}

	if err := txn.Commit(); err != nil {
		return err
	}
	s.logger.Info("imported candidates", "run_id", runID, "rows", len(candidates),
		"new_cards", newCards, "new_attempts", newAttempts)
	return nil
}
