package monitor

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why a fetch failed.
type FailureKind string

// Fetch failure kinds surfaced to the scheduler.
const (
	FailureTimeout          FailureKind = "timeout"
	FailureSession          FailureKind = "session_error"
	FailureContentTooShort  FailureKind = "content_too_short"
	FailureNoContainerFound FailureKind = "no_container_found"
	FailureUnexpected       FailureKind = "unexpected"
)

// Retryable reports whether another attempt may succeed.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTimeout, FailureSession, FailureContentTooShort:
		return true
	default:
		return false
	}
}

// FetchError is returned by fetch operations; Kind drives retry decisions and
// Detail is safe to show the operator.
type FetchError struct {
	Kind     FailureKind
	Detail   string
	Attempts int
	Err      error
}

// NewFetchError wraps err with a failure kind.
func NewFetchError(kind FailureKind, detail string, err error) *FetchError {
	return &FetchError{Kind: kind, Detail: detail, Err: err}
}

func (e *FetchError) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from err. Deadline errors map to
// FailureTimeout; anything unrecognised is FailureUnexpected.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureUnexpected
}
