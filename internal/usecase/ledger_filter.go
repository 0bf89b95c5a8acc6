package usecase

import "github.com/jsanchez-sales-hub/sht-4502/internal/domain"

// LedgerFilter drops candidates whose correlation key appears in the ledger.
// Matching is exact after trimming. A nil ledger keeps everything.
func LedgerFilter(candidates []domain.Candidate, ledger domain.SettledSet) (kept, dropped []domain.Candidate) {
	if ledger == nil {
		return candidates, nil
	}
	kept = make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if ledger.Contains(c.CorrelationKey()) {
			dropped = append(dropped, c)
			continue
		}
		kept = append(kept, c)
	}
	return kept, dropped
}
