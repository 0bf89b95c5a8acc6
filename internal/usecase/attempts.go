package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/pii"
	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
	"github.com/jsanchez-sales-hub/sht-4502/internal/pkg/config"
)

// AttemptsUseCase lists every processing attempt in the log, one per session.
type AttemptsUseCase struct {
	source     domain.LogSource
	rules      config.Rules
	aggregator *SessionAggregator
	logger     *slog.Logger
}

// NewAttemptsUseCase creates a new AttemptsUseCase.
func NewAttemptsUseCase(source domain.LogSource, rules config.Rules, redactor *pii.Redactor, logger *slog.Logger) *AttemptsUseCase {
	return &AttemptsUseCase{
		source:     source,
		rules:      rules,
		aggregator: NewSessionAggregator(rules, redactor, logger),
		logger:     logger.With("component", "attempts"),
	}
}

// Run reads the log once. Each attempt carries the time of the session's
// first event and the first order id the session logged. With interestOnly
// set, sessions that never logged card data are left out.
func (uc *AttemptsUseCase) Run(ctx context.Context, interestOnly bool) ([]domain.Attempt, error) {
	var (
		attempts   []domain.Attempt
		index      = make(map[string]int)
		interested = make(SessionSet)
	)

	_, err := uc.aggregator.pass(ctx, uc.source, func(ev domain.Event) {
		if ev.SessionID == "" {
			return
		}
		if uc.rules.IsInterest(ev.Message) {
			interested[ev.SessionID] = struct{}{}
		}
		orderID := orderIDOf(ev, uc.rules.OrderField)

		i, ok := index[ev.SessionID]
		if !ok {
			index[ev.SessionID] = len(attempts)
			attempts = append(attempts, domain.Attempt{SessionID: ev.SessionID, Timestamp: ev.Time, OrderID: orderID})
			return
		}
		if attempts[i].OrderID == "" {
			attempts[i].OrderID = orderID
		}
	})
	if err != nil {
		return nil, fmt.Errorf("attempts pass: %w", err)
	}

	if interestOnly {
		kept := attempts[:0]
		for _, a := range attempts {
			if interested.Has(a.SessionID) {
				kept = append(kept, a)
			}
		}
		attempts = kept
	}

	uc.logger.Info("collected payment attempts", "attempts", len(attempts), "sessions", len(index))
	return attempts, nil
}
