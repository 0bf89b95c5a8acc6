package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/metrics"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/pii"
	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
	"github.com/jsanchez-sales-hub/sht-4502/internal/pkg/config"
)

var tracer = otel.Tracer("cardrecon.usecase")

const defaultConcurrency = 20

// SourceFactory wraps raw search output as a log source. Events must keep
// their raw lines when substring matching is used.
type SourceFactory func(data []byte) domain.LogSource

// BatchOptions tunes a BatchProcessor.
type BatchOptions struct {
	// Concurrency is the maximum number of units in one wave.
	Concurrency int
	// QueryRate limits external queries per second. 0 disables throttling.
	QueryRate  float64
	QueryBurst int
	// QueryTimeout bounds a single external query. 0 means no timeout.
	QueryTimeout time.Duration
	// Enrich fills a missing link or balance from the origin session.
	Enrich bool
	// Matcher selects the lines that count as a reuse. Defaults to SubstringMatcher.
	Matcher Matcher
}

// UnitResult is the outcome of one candidate in a batch.
type UnitResult struct {
	Index      int
	Candidate  domain.Candidate
	State      domain.UnitState
	ResolvedBy string
}

// BatchReport is the result of a batch run. Retained keeps input order.
type BatchReport struct {
	Units         []UnitResult
	Retained      []domain.Candidate
	ProcessedUpTo int
	Resolved      int
	Skipped       int
	Flagged       int
}

// BatchProcessor re-verifies candidates with targeted searches in bounded waves.
type BatchProcessor struct {
	query      domain.ExternalQuery
	store      domain.CheckpointStore
	newSource  SourceFactory
	aggregator *SessionAggregator
	extractor  *Extractor
	rules      config.Rules
	opts       BatchOptions
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *metrics.ReconcileMetrics
}

// NewBatchProcessor creates a BatchProcessor. store and m may be nil.
func NewBatchProcessor(query domain.ExternalQuery, store domain.CheckpointStore, newSource SourceFactory, rules config.Rules, opts BatchOptions, logger *slog.Logger, m *metrics.ReconcileMetrics) *BatchProcessor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Matcher == nil {
		opts.Matcher = SubstringMatcher{}
	}

	var limiter *rate.Limiter
	if opts.QueryRate > 0 {
		burst := opts.QueryBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.QueryRate), burst)
	}

	return &BatchProcessor{
		query:      query,
		store:      store,
		newSource:  newSource,
		aggregator: NewSessionAggregator(rules, nil, logger),
		extractor:  NewExtractor(rules),
		rules:      rules,
		opts:       opts,
		limiter:    limiter,
		logger:     logger.With("component", "batch"),
		metrics:    m,
	}
}

// ValidateKey checks that key is all digits with a length in the configured range.
func ValidateKey(key string, rules config.Rules) error {
	if len(key) < rules.KeyMinLength || len(key) > rules.KeyMaxLength {
		return fmt.Errorf("%w: length %d outside [%d, %d]", domain.ErrInvalidKey, len(key), rules.KeyMinLength, rules.KeyMaxLength)
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: non-digit character", domain.ErrInvalidKey)
		}
	}
	return nil
}

// Run verifies candidates starting at cp.ProcessedUpTo. Earlier indices are
// decided from the checkpoint alone. After each wave the progress is
// committed to the checkpoint store. A consistency violation aborts the run
// and no report is returned.
func (p *BatchProcessor) Run(ctx context.Context, candidates []domain.Candidate, cp domain.Checkpoint) (*BatchReport, error) {
	ctx, span := tracer.Start(ctx, "batch.Run")
	defer span.End()
	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("resume_index", cp.ProcessedUpTo),
		attribute.Int("concurrency", p.opts.Concurrency),
	)

	units := make([]UnitResult, len(candidates))
	start := min(max(cp.ProcessedUpTo, 0), len(candidates))
	for i := 0; i < start; i++ {
		c := candidates[i]
		// Key validation needs no search, so its flag is restored on resume.
		if ValidateKey(c.NaturalKey(), p.rules) != nil {
			c.Review = domain.ReviewInvalidKey
		}
		units[i] = UnitResult{Index: i, Candidate: c, State: domain.StateSkippedByCheckpoint}
	}
	if start > 0 {
		p.logger.Info("resuming from checkpoint", "resume_index", start, "excluded", len(cp.Excluded))
	}

	for lo := start; lo < len(candidates); lo += p.opts.Concurrency {
		hi := min(lo+p.opts.Concurrency, len(candidates))
		if err := p.runWave(ctx, candidates, units, lo, hi); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		delta := domain.CheckpointDelta{ProcessedUpTo: hi}
		for _, u := range units[lo:hi] {
			if u.State == domain.StateVerifiedResolved {
				delta.Excluded = append(delta.Excluded, u.Candidate.NaturalKey())
			}
		}
		if p.store != nil {
			if err := p.store.Commit(ctx, delta); err != nil {
				err = fmt.Errorf("failed to commit checkpoint at %d: %w", hi, err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}
		if p.metrics != nil {
			p.metrics.CheckpointIndex.Set(float64(hi))
		}
		p.logger.Info("wave completed", "processed_up_to", hi, "total", len(candidates), "resolved_in_wave", len(delta.Excluded))
	}

	report := &BatchReport{Units: units, ProcessedUpTo: len(candidates)}
	for _, u := range units {
		switch u.State {
		case domain.StateSkippedByCheckpoint:
			report.Skipped++
			if cp.IsExcluded(u.Candidate.NaturalKey()) {
				continue
			}
		case domain.StateVerifiedResolved:
			report.Resolved++
			continue
		case domain.StateFlaggedForReview:
			report.Flagged++
		}
		report.Retained = append(report.Retained, u.Candidate)
	}

	span.SetAttributes(attribute.Int("resolved", report.Resolved), attribute.Int("flagged", report.Flagged))
	span.SetStatus(codes.Ok, "")
	p.logger.Info("batch finished",
		"total", len(candidates),
		"retained", len(report.Retained),
		"resolved", report.Resolved,
		"skipped", report.Skipped,
		"flagged", report.Flagged,
	)
	return report, nil
}

// runWave verifies units[lo:hi] concurrently and returns after all of them finish.
func (p *BatchProcessor) runWave(ctx context.Context, candidates []domain.Candidate, units []UnitResult, lo, hi int) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := lo; i < hi; i++ {
		g.Go(func() error {
			res, err := p.verify(gctx, i, candidates[i])
			if err != nil {
				return fmt.Errorf("candidate %d: %w", i, err)
			}
			units[i] = res
			return nil
		})
	}
	return g.Wait()
}

// verify decides one candidate. Only consistency violations and cancellation
// are returned as errors; query failures flag the candidate for review.
func (p *BatchProcessor) verify(ctx context.Context, idx int, c domain.Candidate) (UnitResult, error) {
	ctx, span := tracer.Start(ctx, "batch.verify")
	defer span.End()
	span.SetAttributes(attribute.Int("index", idx), attribute.String("session_id", c.SessionID))

	if p.metrics != nil {
		p.metrics.UnitsInFlight.Inc()
		defer p.metrics.UnitsInFlight.Dec()
	}

	res, err := p.decide(ctx, idx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.String("state", string(res.State)))
	if p.metrics != nil {
		p.metrics.UnitsTotal.WithLabelValues(string(res.State)).Inc()
	}
	return res, nil
}

func (p *BatchProcessor) decide(ctx context.Context, idx int, c domain.Candidate) (UnitResult, error) {
	key := c.NaturalKey()
	log := p.logger.With("index", idx, "card", pii.MaskKey(key), "session", c.SessionID)

	if err := ValidateKey(key, p.rules); err != nil {
		log.Warn("flagging candidate for review", "error", err)
		c.Review = domain.ReviewInvalidKey
		return UnitResult{Index: idx, Candidate: c, State: domain.StateFlaggedForReview}, nil
	}

	flagFailed := func(err error) (UnitResult, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return UnitResult{}, ctxErr
		}
		log.Warn("verification failed, keeping candidate for review", "error", err)
		c.Review = domain.ReviewVerificationFailed
		return UnitResult{Index: idx, Candidate: c, State: domain.StateFlaggedForReview}, nil
	}

	keyLines, err := p.search(ctx, key)
	if err != nil {
		return flagFailed(err)
	}
	keyTimeline, err := p.aggregator.CollectEvents(ctx, p.newSource(keyLines), nil)
	if err != nil {
		return flagFailed(err)
	}

	origin, ok := keyTimeline.FirstIndex(c.SessionID)
	if !ok {
		return UnitResult{}, fmt.Errorf("%w: session %s absent from search output: %w", domain.ErrConsistency, c.SessionID, domain.ErrOriginNotFound)
	}

	var reuses []string
	seen := map[string]struct{}{c.SessionID: {}}
	for i := origin + 1; i < keyTimeline.Len(); i++ {
		ev := keyTimeline.At(i)
		if _, dup := seen[ev.SessionID]; dup {
			continue
		}
		if !p.opts.Matcher.Match(ev, key) {
			continue
		}
		seen[ev.SessionID] = struct{}{}
		reuses = append(reuses, ev.SessionID)
	}

	enrich := p.opts.Enrich && (c.Link == "" || c.Balance == "")
	if len(reuses) == 0 && !enrich {
		return UnitResult{Index: idx, Candidate: c, State: domain.StateVerifiedUnresolved}, nil
	}

	terms := reuses
	if enrich {
		terms = append([]string{c.SessionID}, reuses...)
	}
	sessionLines, err := p.search(ctx, terms...)
	if err != nil {
		return flagFailed(err)
	}
	sessions, err := p.aggregator.CollectEvents(ctx, p.newSource(sessionLines), nil)
	if err != nil {
		return flagFailed(err)
	}

	if enrich {
		p.extractor.Enrich(&c, sessions.Session(c.SessionID))
	}
	for _, s := range reuses {
		if sessions.Summary(s).HasSuccess {
			log.Info("card was reused successfully", "resolved_by", s)
			return UnitResult{Index: idx, Candidate: c, State: domain.StateVerifiedResolved, ResolvedBy: s}, nil
		}
	}
	return UnitResult{Index: idx, Candidate: c, State: domain.StateVerifiedUnresolved}, nil
}

func (p *BatchProcessor) search(ctx context.Context, terms ...string) ([]byte, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if p.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := p.query.Query(ctx, terms...)
	if p.metrics != nil {
		p.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil && !errors.Is(err, domain.ErrQueryFailed) {
		err = fmt.Errorf("%w: %w", domain.ErrQueryFailed, err)
	}
	return out, err
}
