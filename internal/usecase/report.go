package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/metrics"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/pii"
	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
	"github.com/jsanchez-sales-hub/sht-4502/internal/pkg/config"
)

const (
	defaultSinkRetries = 3
	defaultSinkBackoff = 1 * time.Second
)

// ReportOptions configures a report run.
type ReportOptions struct {
	// Ledger drops candidates settled externally. Nil disables the filter.
	Ledger domain.SettledSet
	Sinks  []domain.CandidateSink

	SinkRetries int
	SinkBackoff time.Duration
}

// ReportResult describes a finished report run.
type ReportResult struct {
	RunID          string
	Candidates     []domain.Candidate
	Sessions       int
	FailedSessions int
	Extracted      int
	Deduplicated   int
	ResolvedReuse  int
	ResolvedLedger int
}

// ReportUseCase runs the full pass: sessions with card data and a failed
// payment yield candidates, which are deduplicated, checked for a later
// successful reuse and filtered against the settlement ledger.
type ReportUseCase struct {
	source     domain.LogSource
	rules      config.Rules
	aggregator *SessionAggregator
	extractor  *Extractor
	opts       ReportOptions
	baseLogger *slog.Logger
	logger     *slog.Logger
	metrics    *metrics.ReconcileMetrics
}

// NewReportUseCase creates a new ReportUseCase. m may be nil.
func NewReportUseCase(source domain.LogSource, rules config.Rules, redactor *pii.Redactor, opts ReportOptions, logger *slog.Logger, m *metrics.ReconcileMetrics) *ReportUseCase {
	if opts.SinkRetries <= 0 {
		opts.SinkRetries = defaultSinkRetries
	}
	if opts.SinkBackoff <= 0 {
		opts.SinkBackoff = defaultSinkBackoff
	}
	return &ReportUseCase{
		source:     source,
		rules:      rules,
		aggregator: NewSessionAggregator(rules, redactor, logger),
		extractor:  NewExtractor(rules),
		opts:       opts,
		baseLogger: logger,
		logger:     logger.With("component", "report"),
		metrics:    m,
	}
}

// Run executes the pipeline and hands the surviving candidates to every sink.
func (uc *ReportUseCase) Run(ctx context.Context) (*ReportResult, error) {
	ctx, span := tracer.Start(ctx, "report.Run")
	defer span.End()

	res, err := uc.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("run_id", res.RunID),
		attribute.Int("candidates", len(res.Candidates)),
	)
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (uc *ReportUseCase) run(ctx context.Context) (*ReportResult, error) {
	res := &ReportResult{RunID: uuid.NewString()}
	log := uc.logger.With("run_id", res.RunID)

	interest, err := uc.aggregator.DeriveInterestSet(ctx, uc.source, InterestPredicate(uc.rules))
	if err != nil {
		return nil, err
	}
	log.Info("derived interest set", "sessions", len(interest))

	timeline, err := uc.aggregator.CollectEvents(ctx, uc.source, interest)
	if err != nil {
		return nil, err
	}
	res.Sessions = timeline.SessionCount()
	log.Info("collected session events", "events", timeline.Len(), "sessions", res.Sessions)

	var candidates []domain.Candidate
	for _, id := range timeline.SessionIDs() {
		if timeline.Summary(id).Outcome != domain.OutcomeFailed {
			continue
		}
		res.FailedSessions++
		if c, ok := uc.extractor.Extract(timeline.Session(id)); ok {
			candidates = append(candidates, *c)
		}
	}
	res.Extracted = len(candidates)

	candidates = Deduplicate(candidates)
	res.Deduplicated = len(candidates)
	log.Info("extracted candidates", "failed_sessions", res.FailedSessions, "extracted", res.Extracted, "deduplicated", res.Deduplicated)

	reconciler := NewReconciler(timeline, NewFieldMatcher(uc.extractor), uc.baseLogger.With("run_id", res.RunID))
	results, err := reconciler.Reconcile(ctx, candidates)
	if err != nil {
		return nil, err
	}
	candidates = Unresolved(results)
	res.ResolvedReuse = res.Deduplicated - len(candidates)

	candidates, dropped := LedgerFilter(candidates, uc.opts.Ledger)
	res.ResolvedLedger = len(dropped)
	res.Candidates = candidates

	if uc.metrics != nil {
		uc.metrics.CandidatesTotal.WithLabelValues("extracted").Add(float64(res.Extracted))
		uc.metrics.CandidatesTotal.WithLabelValues("deduplicated").Add(float64(res.Deduplicated))
		uc.metrics.CandidatesTotal.WithLabelValues("resolved_reuse").Add(float64(res.ResolvedReuse))
		uc.metrics.CandidatesTotal.WithLabelValues("resolved_ledger").Add(float64(res.ResolvedLedger))
		uc.metrics.CandidatesTotal.WithLabelValues("emitted").Add(float64(len(candidates)))
	}

	for _, sink := range uc.opts.Sinks {
		if err := uc.writeWithRetry(ctx, sink, res.RunID, candidates); err != nil {
			return nil, fmt.Errorf("failed to write candidates: %w", err)
		}
	}

	log.Info("report finished",
		"emitted", len(candidates),
		"resolved_reuse", res.ResolvedReuse,
		"resolved_ledger", res.ResolvedLedger,
	)
	return res, nil
}

func (uc *ReportUseCase) writeWithRetry(ctx context.Context, sink domain.CandidateSink, runID string, candidates []domain.Candidate) error {
	var lastErr error
	for i := 0; i < uc.opts.SinkRetries; i++ {
		err := sink.WriteCandidates(ctx, runID, candidates)
		if err == nil {
			return nil
		}
		lastErr = err
		uc.logger.Warn("failed to write candidates to sink, retrying...", "attempt", i+1, "error", err)
		select {
		case <-time.After(uc.opts.SinkBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
