package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"

	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/pii"
	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
	"github.com/jsanchez-sales-hub/sht-4502/internal/pkg/config"
)

const (
	ctxCheckEvery   = 1024
	maxLoggedRawLen = 512
)

// SessionSet is a set of session ids.
type SessionSet map[string]struct{}

// Has reports whether id is in the set.
func (s SessionSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// EventPredicate selects events during a pass.
type EventPredicate func(domain.Event) bool

// InterestPredicate matches events whose message marks captured card data.
func InterestPredicate(rules config.Rules) EventPredicate {
	return func(ev domain.Event) bool {
		return rules.IsInterest(ev.Message)
	}
}

// SessionAggregator groups log events by session over one or two streaming passes.
type SessionAggregator struct {
	rules    config.Rules
	redactor *pii.Redactor
	logger   *slog.Logger
}

// NewSessionAggregator creates a SessionAggregator.
func NewSessionAggregator(rules config.Rules, redactor *pii.Redactor, logger *slog.Logger) *SessionAggregator {
	if redactor == nil {
		redactor = pii.NewRedactor(nil)
	}
	return &SessionAggregator{
		rules:    rules,
		redactor: redactor,
		logger:   logger.With("component", "aggregator"),
	}
}

// PassStats summarizes one pass over the log.
type PassStats struct {
	Lines       int
	Events      int
	ParseErrors int
}

// DeriveInterestSet returns the ids of every session with at least one event
// matching predicate. Only the ids are retained.
func (a *SessionAggregator) DeriveInterestSet(ctx context.Context, src domain.LogSource, predicate EventPredicate) (SessionSet, error) {
	set := make(SessionSet)
	stats, err := a.pass(ctx, src, func(ev domain.Event) {
		if ev.SessionID != "" && predicate(ev) {
			set[ev.SessionID] = struct{}{}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("interest pass: %w", err)
	}

	a.logger.Debug("derived interest set", "sessions", len(set), "events", stats.Events, "parse_errors", stats.ParseErrors)
	return set, nil
}

// CollectEvents retains the events of the sessions in interest, in log order.
// A nil interest set keeps every session.
func (a *SessionAggregator) CollectEvents(ctx context.Context, src domain.LogSource, interest SessionSet) (*Timeline, error) {
	var events []domain.Event
	stats, err := a.pass(ctx, src, func(ev domain.Event) {
		if ev.SessionID == "" {
			return
		}
		if interest != nil && !interest.Has(ev.SessionID) {
			return
		}
		events = append(events, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("collect pass: %w", err)
	}

	tl := NewTimeline(events, a.rules)
	a.logger.Debug("collected session events", "events", tl.Len(), "sessions", tl.SessionCount(), "parse_errors", stats.ParseErrors)
	return tl, nil
}

// pass streams the log once. Malformed lines are logged and skipped; any
// other stream failure aborts the pass.
func (a *SessionAggregator) pass(ctx context.Context, src domain.LogSource, fn func(domain.Event)) (PassStats, error) {
	var stats PassStats

	stream, err := src.Open(ctx)
	if err != nil {
		return stats, err
	}
	defer stream.Close()

	for {
		if stats.Lines%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}

		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		stats.Lines++

		var pe *domain.ParseError
		if errors.As(err, &pe) {
			stats.ParseErrors++
			a.logger.Warn("skipping malformed log line", "line", pe.Line, "error", pe.Err, "raw", a.maskRaw(pe.Raw))
			continue
		}
		if err != nil {
			if errors.Is(err, domain.ErrStreamTruncated) {
				return stats, err
			}
			return stats, fmt.Errorf("%w: %w", domain.ErrStreamTruncated, err)
		}

		stats.Events++
		fn(ev)
	}
}

// maskRaw redacts the whole line before shortening it, so a card number
// crossing the cut is still recognized.
func (a *SessionAggregator) maskRaw(raw string) string {
	raw = a.redactor.RedactLine(raw)
	if len(raw) <= maxLoggedRawLen {
		return raw
	}
	n := maxLoggedRawLen
	for n > 0 && !utf8.RuneStart(raw[n]) {
		n--
	}
	return raw[:n]
}

// SessionSummary is computed once per session when a Timeline is built.
type SessionSummary struct {
	// ReachedPayment is set when the session logged the terminal payment response.
	ReachedPayment bool
	HasSuccess     bool
	HasFailure     bool
	Outcome        domain.Outcome
}

// Timeline is the chronological list of retained events with per-session
// indexes. It is read-only after construction.
type Timeline struct {
	events    []domain.Event
	sessions  map[string][]int
	order     []string
	summaries map[string]SessionSummary
}

// NewTimeline indexes events, which must already be in log order.
func NewTimeline(events []domain.Event, rules config.Rules) *Timeline {
	tl := &Timeline{
		events:    events,
		sessions:  make(map[string][]int),
		summaries: make(map[string]SessionSummary),
	}

	for i, ev := range events {
		if ev.SessionID == "" {
			continue
		}
		if _, seen := tl.sessions[ev.SessionID]; !seen {
			tl.order = append(tl.order, ev.SessionID)
		}
		tl.sessions[ev.SessionID] = append(tl.sessions[ev.SessionID], i)

		s := tl.summaries[ev.SessionID]
		if ev.Message == rules.SuccessMessage {
			s.ReachedPayment = true
		}
		signal := terminalSignal(rules, ev)
		switch signal {
		case domain.OutcomeSucceeded:
			s.HasSuccess = true
		case domain.OutcomeFailed:
			s.HasFailure = true
		}
		if s.Outcome == domain.OutcomeUnknown {
			s.Outcome = signal
		}
		tl.summaries[ev.SessionID] = s
	}
	return tl
}

// terminalSignal classifies a single event. The payment response is a success
// only when its flag is true; an explicit false is a failure.
func terminalSignal(rules config.Rules, ev domain.Event) domain.Outcome {
	if ev.Message == rules.SuccessMessage {
		var ok bool
		if !ev.Field(rules.SuccessFlag, &ok) {
			return domain.OutcomeUnknown
		}
		if ok {
			return domain.OutcomeSucceeded
		}
		return domain.OutcomeFailed
	}
	if rules.IsFailure(ev.Message) {
		return domain.OutcomeFailed
	}
	return domain.OutcomeUnknown
}

// Len returns the number of retained events.
func (t *Timeline) Len() int {
	return len(t.events)
}

// At returns the i-th event.
func (t *Timeline) At(i int) domain.Event {
	return t.events[i]
}

// SessionCount returns the number of distinct sessions.
func (t *Timeline) SessionCount() int {
	return len(t.order)
}

// SessionIDs returns the sessions in order of first appearance.
func (t *Timeline) SessionIDs() []string {
	return append([]string(nil), t.order...)
}

// Session returns the events of one session in log order.
func (t *Timeline) Session(id string) []domain.Event {
	idx := t.sessions[id]
	out := make([]domain.Event, len(idx))
	for i, j := range idx {
		out[i] = t.events[j]
	}
	return out
}

// FirstIndex returns the position of the session's first event.
func (t *Timeline) FirstIndex(id string) (int, bool) {
	idx, ok := t.sessions[id]
	if !ok || len(idx) == 0 {
		return 0, false
	}
	return idx[0], true
}

// Summary returns the precomputed summary of a session.
func (t *Timeline) Summary(id string) SessionSummary {
	return t.summaries[id]
}
