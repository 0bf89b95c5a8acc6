package domain

import (
	"strings"
	"time"
)

// SnapshotVariant names the payload layout a card snapshot was read from.
type SnapshotVariant string

const (
	VariantCardData            SnapshotVariant = "cardData"
	VariantAvailableStoredCard SnapshotVariant = "availableStoredCard"
)

// Snapshot is the card data carried by a single event.
type Snapshot struct {
	Variant        SnapshotVariant
	CardNumber     string
	ExpirationDate string
	CVV            string
	LastKnownIP    string
	Link           string
}

// Candidate is a card captured during a session that may never have been charged.
type Candidate struct {
	SessionID      string
	OrderID        string
	Timestamp      time.Time
	CardNumber     string
	ExpirationDate string
	CVV            string
	LastKnownIP    string
	Link           string
	Balance        string
	Review         string // Reason the candidate needs manual review; empty otherwise
}

// NaturalKey is the value that identifies the card across sessions.
func (c Candidate) NaturalKey() string {
	return c.CardNumber
}

// CorrelationKey is the external reference used against settlement ledgers.
func (c Candidate) CorrelationKey() string {
	return strings.TrimSpace(c.OrderID)
}

// Verdict is the reconciliation decision for a candidate.
type Verdict string

const (
	VerdictUnresolved Verdict = "unresolved"
	VerdictResolved   Verdict = "resolved"
)

// Resolution reasons.
const (
	ReasonReusedSuccessfully = "reused_successfully"
	ReasonSettledExternally  = "settled_externally"
)

// Result is a candidate annotated with its verdict.
type Result struct {
	Candidate Candidate
	Verdict   Verdict
	Reason    string
	// ResolvedBy is the session whose success resolved the candidate, if any.
	ResolvedBy string
}

// Outcome is the terminal disposition of a session.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// UnitState is the state of a candidate inside a verification batch.
type UnitState string

const (
	StatePending             UnitState = "pending"
	StateVerifiedUnresolved  UnitState = "verified_unresolved"
	StateVerifiedResolved    UnitState = "verified_resolved"
	StateSkippedByCheckpoint UnitState = "skipped_by_checkpoint"
	StateFlaggedForReview    UnitState = "flagged_for_review"
)

// Review reasons.
const (
	ReviewInvalidKey         = "invalid_key"
	ReviewVerificationFailed = "verification_failed"
)

// Checkpoint tells a batch run which candidates were already decided.
type Checkpoint struct {
	ProcessedUpTo int
	Excluded      map[string]struct{}
}

// NewCheckpoint returns an empty checkpoint, equivalent to a fresh run.
func NewCheckpoint() Checkpoint {
	return Checkpoint{Excluded: make(map[string]struct{})}
}

// IsExcluded reports whether key was already resolved by a previous run.
func (c Checkpoint) IsExcluded(key string) bool {
	_, ok := c.Excluded[key]
	return ok
}

// Merge folds a committed delta into the checkpoint.
func (c *Checkpoint) Merge(d CheckpointDelta) {
	if c.Excluded == nil {
		c.Excluded = make(map[string]struct{})
	}
	if d.ProcessedUpTo > c.ProcessedUpTo {
		c.ProcessedUpTo = d.ProcessedUpTo
	}
	for _, k := range d.Excluded {
		c.Excluded[k] = struct{}{}
	}
}

// CheckpointDelta is the progress made by one completed wave.
type CheckpointDelta struct {
	ProcessedUpTo int      `json:"processed_up_to"`
	Excluded      []string `json:"excluded,omitempty"`
}

// Attempt is one row of the payment attempts report.
type Attempt struct {
	SessionID string
	Timestamp time.Time
	OrderID   string
}
