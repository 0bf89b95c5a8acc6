package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/pii"
	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
)

// Matcher decides whether an event mentions a natural key.
type Matcher interface {
	Match(ev domain.Event, key string) bool
}

// FieldMatcher matches events whose card snapshot carries exactly the key.
type FieldMatcher struct {
	extractor *Extractor
}

// NewFieldMatcher creates a FieldMatcher that reads snapshots with x.
func NewFieldMatcher(x *Extractor) FieldMatcher {
	return FieldMatcher{extractor: x}
}

func (m FieldMatcher) Match(ev domain.Event, key string) bool {
	snap, ok := m.extractor.Snapshot(ev)
	return ok && snap.CardNumber == key
}

// SubstringMatcher matches events whose raw line contains the key anywhere,
// the way a text search over the log would.
type SubstringMatcher struct{}

func (SubstringMatcher) Match(ev domain.Event, key string) bool {
	if key == "" {
		return false
	}
	raw := ev.Raw
	if raw == nil {
		// Events read without raw lines are re-encoded; key order may differ
		// but values are preserved.
		var err error
		if raw, err = json.Marshal(ev.Payload); err != nil {
			return false
		}
	}
	return bytes.Contains(raw, []byte(key))
}

// Reconciler looks for a later successful reuse of each candidate's key.
type Reconciler struct {
	timeline *Timeline
	matcher  Matcher
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler over a read-only timeline.
func NewReconciler(timeline *Timeline, matcher Matcher, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		timeline: timeline,
		matcher:  matcher,
		logger:   logger.With("component", "reconciler"),
	}
}

// Decide scans forward from the candidate's origin session. The first later
// session that mentions the key and succeeded resolves the candidate; a
// session that mentions the key without succeeding is not looked at again.
func (r *Reconciler) Decide(c domain.Candidate) (domain.Result, error) {
	origin, ok := r.timeline.FirstIndex(c.SessionID)
	if !ok {
		return domain.Result{}, fmt.Errorf("%w: session %s: %w", domain.ErrConsistency, c.SessionID, domain.ErrOriginNotFound)
	}

	key := c.NaturalKey()
	skip := map[string]struct{}{c.SessionID: {}}
	for i := origin + 1; i < r.timeline.Len(); i++ {
		ev := r.timeline.At(i)
		if _, skipped := skip[ev.SessionID]; skipped {
			continue
		}
		if !r.matcher.Match(ev, key) {
			continue
		}
		if r.timeline.Summary(ev.SessionID).HasSuccess {
			return domain.Result{
				Candidate:  c,
				Verdict:    domain.VerdictResolved,
				Reason:     domain.ReasonReusedSuccessfully,
				ResolvedBy: ev.SessionID,
			}, nil
		}
		skip[ev.SessionID] = struct{}{}
	}

	return domain.Result{Candidate: c, Verdict: domain.VerdictUnresolved}, nil
}

// Reconcile decides every candidate in order. A consistency violation aborts
// the whole run.
func (r *Reconciler) Reconcile(ctx context.Context, candidates []domain.Candidate) ([]domain.Result, error) {
	results := make([]domain.Result, 0, len(candidates))
	resolved := 0
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := r.Decide(c)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		if res.Verdict == domain.VerdictResolved {
			resolved++
			r.logger.Debug("candidate reused successfully", "card", pii.MaskKey(c.NaturalKey()), "session", c.SessionID, "resolved_by", res.ResolvedBy)
		}
		results = append(results, res)
	}

	r.logger.Info("reconciled candidates", "total", len(candidates), "resolved", resolved)
	return results, nil
}

// Unresolved returns the candidates of the unresolved results, in order.
func Unresolved(results []domain.Result) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(results))
	for _, res := range results {
		if res.Verdict == domain.VerdictUnresolved {
			out = append(out, res.Candidate)
		}
	}
	return out
}
