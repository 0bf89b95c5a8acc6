package domain

import "context"

// EventStream is a forward-only sequence of parsed log events.
// Next returns *ParseError for a malformed line, io.EOF at the end of the
// stream, and any other error when the stream itself failed.
type EventStream interface {
	Next() (Event, error)
	Close() error
}

// LogSource opens a fresh stream over the same log, starting at offset zero.
// Every pass over the log opens its own stream.
type LogSource interface {
	Open(ctx context.Context) (EventStream, error)
}

// ExternalQuery performs a targeted search over the log and returns the
// matching lines, newline separated. A line matches when it contains any of
// the terms.
type ExternalQuery interface {
	Query(ctx context.Context, terms ...string) ([]byte, error)
}

// CheckpointStore persists batch progress so an interrupted run can resume.
type CheckpointStore interface {
	// Load returns the accumulated checkpoint, or an empty one if nothing was committed.
	Load(ctx context.Context) (Checkpoint, error)

	// Commit records the progress of one completed wave.
	Commit(ctx context.Context, delta CheckpointDelta) error

	// Reset discards all recorded progress.
	Reset(ctx context.Context) error
}

// CandidateSink receives the final candidate list of a run.
type CandidateSink interface {
	WriteCandidates(ctx context.Context, runID string, candidates []Candidate) error
}
