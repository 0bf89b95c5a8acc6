package domain

import "errors"

var (
	// ErrConsistency marks a violated invariant between passes over the same log.
	// It is never retried or masked.
	ErrConsistency = errors.New("consistency violation")

	// ErrOriginNotFound is returned when a candidate's origin session has no events.
	ErrOriginNotFound = errors.New("origin session not found")

	// ErrStreamTruncated is returned when a log pass stops before the end of the stream.
	ErrStreamTruncated = errors.New("log stream ended before EOF")

	// ErrInvalidKey marks a natural key that does not have the expected shape.
	ErrInvalidKey = errors.New("invalid natural key")

	// ErrQueryFailed wraps failures of an external search.
	ErrQueryFailed = errors.New("external query failed")
)
