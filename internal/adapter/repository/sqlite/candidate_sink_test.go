package sqlite

import (
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
)

func newSink(t *testing.T, path string) (*CandidateSink, *sql.DB) {
	t.Helper()
	db, err := Open(t.Context(), path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCandidateSink(db, slog.New(slog.NewTextHandler(io.Discard, nil))), db
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(t.Context(), "SELECT count(*) FROM "+table).Scan(&n))
	return n
}

func TestCandidateSink_InsertOrIgnore(t *testing.T) {
	sink, db := newSink(t, memoryDSN)

	first := []domain.Candidate{
		{SessionID: "run-1", OrderID: "ORD-1", Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), CardNumber: "4111111111111111", CVV: "123"},
		{SessionID: "run-2", CardNumber: "4222222222222222"},
	}
	require.NoError(t, sink.WriteCandidates(t.Context(), "report-a", first))

	second := []domain.Candidate{
		{SessionID: "run-1", OrderID: "ORD-1", CardNumber: "4111111111111111", CVV: "999"},
		{SessionID: "run-3", OrderID: "ORD-3", CardNumber: "4111111111111111"},
	}
	require.NoError(t, sink.WriteCandidates(t.Context(), "report-b", second))

	assert.Equal(t, 2, count(t, db, "cards"))
	assert.Equal(t, 3, count(t, db, "payment_attempts"))

	var cvv string
	require.NoError(t, db.QueryRowContext(t.Context(), `SELECT cvv FROM cards WHERE card_number = ?`, "4111111111111111").Scan(&cvv))
	assert.Equal(t, "123", cvv)

	var run string
	var orderID, attemptedAt sql.NullString
	require.NoError(t, db.QueryRowContext(t.Context(),
		`SELECT report_run, order_id, attempted_at FROM payment_attempts WHERE session_id = ?`, "run-1").Scan(&run, &orderID, &attemptedAt))
	assert.Equal(t, "report-a", run)
	assert.Equal(t, "ORD-1", orderID.String)
	assert.Equal(t, "2024-05-01T10:00:00Z", attemptedAt.String)

	require.NoError(t, db.QueryRowContext(t.Context(),
		`SELECT order_id, attempted_at FROM payment_attempts WHERE session_id = ?`, "run-2").Scan(&orderID, &attemptedAt))
	assert.False(t, orderID.Valid)
	assert.False(t, attemptedAt.Valid)
}

func TestCandidateSink_Persistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "cardrecon.db")
	sink, db := newSink(t, path)
	require.NoError(t, sink.WriteCandidates(t.Context(), "report-a", []domain.Candidate{{SessionID: "run-1", CardNumber: "4111"}}))
	require.NoError(t, db.Close())

	_, reopened := newSink(t, path)
	assert.Equal(t, 1, count(t, reopened, "cards"))
	assert.Equal(t, 1, count(t, reopened, "payment_attempts"))
}

func TestCandidateSink_Empty(t *testing.T) {
	sink, db := newSink(t, memoryDSN)
	require.NoError(t, sink.WriteCandidates(t.Context(), "report-a", nil))
	assert.Equal(t, 0, count(t, db, "cards"))
}
