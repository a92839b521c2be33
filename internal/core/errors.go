package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure so callers can decide
// between retry and skip.
type ErrorKind string

const (
	// KindInput marks a malformed message; recovered locally by
	// degrading to a low-confidence Medium result.
	KindInput ErrorKind = "input"
	// KindTransient marks a retryable inference failure such as a
	// timeout or connection reset.
	KindTransient ErrorKind = "transient"
	// KindMalformed marks model output that could not be parsed at all.
	KindMalformed ErrorKind = "malformed_response"
	// KindUnavailable marks an unreachable inference service.
	KindUnavailable ErrorKind = "unavailable"
	// KindTimeout marks a request that exceeded its queue or call budget.
	KindTimeout ErrorKind = "timeout"
	// KindCanceled marks an item skipped due to batch cancellation.
	KindCanceled ErrorKind = "canceled"
	// KindInternal marks everything else.
	KindInternal ErrorKind = "internal"
)

// Sentinel errors shared across repositories and adapters.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCorrupted is returned when a stored record cannot be read.
	// The pipeline treats it as a cache miss, never a hard failure.
	ErrCorrupted = errors.New("stored record corrupted")
)

// TriageError is a typed failure carrying enough context for the
// caller to decide retry vs skip.
type TriageError struct {
	Op        string
	MessageID string
	Kind      ErrorKind
	Err       error
}

func (e *TriageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (message %q): %v", e.Op, e.Kind, e.MessageID, e.Err)
	}
	return fmt.Sprintf("%s: %s (message %q)", e.Op, e.Kind, e.MessageID)
}

func (e *TriageError) Unwrap() error {
	return e.Err
}

// NewError builds a TriageError.
func NewError(op, messageID string, kind ErrorKind, err error) *TriageError {
	return &TriageError{Op: op, MessageID: messageID, Kind: kind, Err: err}
}

// KindOf extracts the error kind, defaulting to KindInternal for
// untyped errors.
func KindOf(err error) ErrorKind {
	var te *TriageError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the failure is worth a bounded retry
// inside the inference orchestrator.
func Retryable(err error) bool {
	return IsKind(err, KindTransient)
}
