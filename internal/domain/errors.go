package domain

import (
	"context"
	"errors"
	"fmt"
)

// Capability failure sentinels. Adapters wrap these into a CapabilityError
// so the engine can branch on error kind with errors.Is.
var (
	ErrTimeout          = errors.New("capability timeout")
	ErrNotFound         = errors.New("location not found")
	ErrProviderError    = errors.New("provider error")
	ErrModelUnavailable = errors.New("classification model unavailable")
	ErrMalformedOutput  = errors.New("malformed classifier output")
	ErrAuthRejected     = errors.New("authentication rejected")
	ErrBadRecipient     = errors.New("malformed recipient")
)

// ErrorClass splits capability failures into the two kinds the retry policy
// cares about: transient failures are retried under exponential backoff,
// terminal failures end the attempt immediately.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassTerminal
)

func (c ErrorClass) String() string {
	if c == ClassTerminal {
		return "terminal"
	}
	return "transient"
}

// CapabilityError wraps a failure from an external capability with its
// retry classification.
type CapabilityError struct {
	Capability string
	Class      ErrorClass
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: %s failure: %v", e.Capability, e.Class, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable capability failure.
func Transient(capability string, err error) error {
	return &CapabilityError{Capability: capability, Class: ClassTransient, Err: err}
}

// Terminal wraps err as a non-retryable capability failure.
func Terminal(capability string, err error) error {
	return &CapabilityError{Capability: capability, Class: ClassTerminal, Err: err}
}

// IsTerminal reports whether err is classified as non-retryable.
// Unclassified errors are treated as transient: retrying an unknown failure
// is safe because attempt budgets bound the damage, while skipping a retry
// on a recoverable failure loses an alert.
func IsTerminal(err error) bool {
	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		return capErr.Class == ClassTerminal
	}
	return false
}

// IsRetryable reports whether a retry attempt may be made for err.
// Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !IsTerminal(err)
}
