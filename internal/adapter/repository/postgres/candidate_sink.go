package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

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
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payment_attempts (
	session_id   TEXT PRIMARY KEY,
	card_number  TEXT NOT NULL REFERENCES cards (card_number),
	order_id     TEXT,
	attempted_at TIMESTAMPTZ,
	report_run   TEXT NOT NULL
);
`

const stagingTable = "candidates_import"

// CandidateSink imports report candidates into the cards and
// payment_attempts tables. Rows that already exist are left untouched.
type CandidateSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCandidateSink creates a new PostgreSQL candidate sink.
func NewCandidateSink(db *sql.DB, logger *slog.Logger) *CandidateSink {
	return &CandidateSink{db: db, logger: logger.With("component", "postgres_sink")}
}

// EnsureSchema creates the target tables when they are missing.
func (s *CandidateSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// WriteCandidates implements domain.CandidateSink. The rows are staged with
// COPY and merged in a single transaction.
func (s *CandidateSink) WriteCandidates(ctx context.Context, runID string, candidates []domain.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback() // no-op after Commit

	_, err = txn.ExecContext(ctx, `CREATE TEMP TABLE `+stagingTable+` (
		session_id TEXT, order_id TEXT, attempted_at TIMESTAMPTZ, card_number TEXT,
		expiration_date TEXT, cvv TEXT, last_known_ip TEXT, link TEXT, balance TEXT, review TEXT
	) ON COMMIT DROP`)
	if err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn(stagingTable,
		"session_id", "order_id", "attempted_at", "card_number",
		"expiration_date", "cvv", "last_known_ip", "link", "balance", "review"))
	if err != nil {
		return err
	}
	for _, c := range candidates {
		var attemptedAt sql.NullTime
		if !c.Timestamp.IsZero() {
			attemptedAt = sql.NullTime{Time: c.Timestamp, Valid: true}
		}
		_, err = stmt.ExecContext(ctx, c.SessionID, c.OrderID, attemptedAt, c.CardNumber,
			c.ExpirationDate, c.CVV, c.LastKnownIP, c.Link, c.Balance, c.Review)
		if err != nil {
			_ = stmt.Close()
			return fmt.Errorf("failed to stage candidate: %w", err)
		}
	}
	// The empty Exec flushes the COPY buffer.
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("failed to flush staged candidates: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	cards, err := txn.ExecContext(ctx, `
		INSERT INTO cards (card_number, expiration_date, cvv, last_known_ip, link, balance, review)
		SELECT DISTINCT ON (card_number) card_number, expiration_date, cvv, last_known_ip, link, balance, review
		FROM `+stagingTable+`
		ORDER BY card_number, attempted_at DESC NULLS LAST
		ON CONFLICT (card_number) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to merge cards: %w", err)
	}

	attempts, err := txn.ExecContext(ctx, `
		INSERT INTO payment_attempts (session_id, card_number, order_id, attempted_at, report_run)
		SELECT session_id, card_number, NULLIF(order_id, ''), attempted_at, $1
		FROM `+stagingTable+`
		WHERE session_id <> ''
		ON CONFLICT (session_id) DO NOTHING`, runID)
	if err != nil {
		return fmt.Errorf("failed to merge payment attempts: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return err
	}

	newCards, _ := cards.RowsAffected()
	newAttempts, _ := attempts.RowsAffected()
	s.logger.Info("imported candidates", "run_id", runID, "rows", len(candidates),
		"new_cards", newCards, "new_attempts", newAttempts)
	return nil
}
