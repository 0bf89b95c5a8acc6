package usecase

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/logstream"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/metrics"
	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
	"github.com/jsanchez-sales-hub/sht-4502/internal/domain/mocks"
	"github.com/jsanchez-sales-hub/sht-4502/internal/pkg/config"
)

func runReport(t *testing.T, opts ReportOptions, lines ...logLine) (*ReportResult, error) {
	t.Helper()
	uc := NewReportUseCase(newSource(buildLog(t, lines...)), config.DefaultRules(), nil, opts, testLogger(), nil)
	return uc.Run(t.Context())
}

func TestReportUseCase_Scenarios(t *testing.T) {
	t.Run("Later successful reuse removes the candidate", func(t *testing.T) {
		res, err := runReport(t, ReportOptions{},
			cardEvent("S1", 1, "4111"),
			failureEvent("S1", 2),
			cardEvent("S2", 5, "4111"),
			paymentEvent("S2", 6, true),
		)

		require.NoError(t, err)
		assert.Empty(t, res.Candidates)
		assert.Equal(t, 1, res.ResolvedReuse)
	})

	t.Run("Failed reuse keeps the card", func(t *testing.T) {
		res, err := runReport(t, ReportOptions{},
			cardEvent("S1", 1, "4111"),
			failureEvent("S1", 2),
			cardEvent("S2", 5, "4111"),
			failureEvent("S2", 6),
		)

		require.NoError(t, err)
		require.Len(t, res.Candidates, 1)
		assert.Equal(t, "4111", res.Candidates[0].CardNumber)
		assert.Equal(t, 0, res.ResolvedReuse)
	})

	t.Run("Latest snapshot survives deduplication", func(t *testing.T) {
		res, err := runReport(t, ReportOptions{},
			cardEvent("S1", 2, "4111"),
			failureEvent("S1", 3),
			cardEvent("S2", 9, "4111"),
			failureEvent("S2", 10),
		)

		require.NoError(t, err)
		require.Len(t, res.Candidates, 1)
		assert.Equal(t, "S2", res.Candidates[0].SessionID)
		assert.Equal(t, time.UnixMilli(9).UTC(), res.Candidates[0].Timestamp)
		assert.Equal(t, 2, res.Extracted)
		assert.Equal(t, 1, res.Deduplicated)
	})
}

func TestReportUseCase_Run(t *testing.T) {
	lines := []logLine{
		cardEvent("S1", 1, "4111"),
		failureEvent("S1", 2),
		logLine{"runId": "S1", "time": 3, "orderId": "ORD-1"},
		cardEvent("S2", 4, "4222"),
		paymentEvent("S2", 5, true),
		cardEvent("S3", 6, "4333"),
		logLine{"runId": "S3", "time": 7, "orderId": "ORD-3"},
		failureEvent("S3", 8),
		logLine{"runId": "S4", "time": 9, "msg": "Error while making Requests"},
	}

	t.Run("Only failed sessions yield candidates", func(t *testing.T) {
		res, err := runReport(t, ReportOptions{}, lines...)

		require.NoError(t, err)
		require.Len(t, res.Candidates, 2)
		assert.Equal(t, "S3", res.Candidates[0].SessionID)
		assert.Equal(t, "S1", res.Candidates[1].SessionID)
		assert.Equal(t, 3, res.Sessions)
		assert.Equal(t, 2, res.FailedSessions)
		_, err = uuid.Parse(res.RunID)
		assert.NoError(t, err)
	})

	t.Run("Ledger drops settled orders", func(t *testing.T) {
		res, err := runReport(t, ReportOptions{Ledger: domain.NewSettledSet("ORD-3")}, lines...)

		require.NoError(t, err)
		require.Len(t, res.Candidates, 1)
		assert.Equal(t, "ORD-1", res.Candidates[0].OrderID)
		assert.Equal(t, 1, res.ResolvedLedger)
	})

	t.Run("Sinks receive the run", func(t *testing.T) {
		sink := &mocks.MockSink{WriteErr: errors.New("connection reset"), FailTimes: 1}
		res, err := runReport(t, ReportOptions{Sinks: []domain.CandidateSink{sink}, SinkBackoff: time.Millisecond}, lines...)

		require.NoError(t, err)
		assert.Equal(t, 2, sink.Attempts)
		assert.Equal(t, res.RunID, sink.RunID)
		assert.Equal(t, res.Candidates, sink.Written)
	})

	t.Run("Sink failure after retries", func(t *testing.T) {
		sink := &mocks.MockSink{WriteErr: errors.New("database is down")}
		_, err := runReport(t, ReportOptions{Sinks: []domain.CandidateSink{sink}, SinkRetries: 2, SinkBackoff: time.Millisecond}, lines...)

		require.Error(t, err)
		assert.Equal(t, 2, sink.Attempts)
	})

	t.Run("Metrics", func(t *testing.T) {
		m := metrics.NewReconcileMetrics(prometheus.NewRegistry())
		src := logstream.NewBytesSource(buildLog(t, lines...), config.DefaultRules(), logstream.Options{}, testLogger(), m)
		uc := NewReportUseCase(src, config.DefaultRules(), nil, ReportOptions{}, testLogger(), m)

		_, err := uc.Run(t.Context())

		require.NoError(t, err)
		assert.Equal(t, 2.0, testutil.ToFloat64(m.CandidatesTotal.WithLabelValues("emitted")))
		// Two passes over nine lines.
		assert.Equal(t, 18.0, testutil.ToFloat64(m.LinesTotal.WithLabelValues("parsed")))
	})
}
