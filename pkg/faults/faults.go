// Package faults defines the user-visible error shape shared by all
// subsystems: a kind, a message, a retriability flag, and free-form context.
// Subsystems attach a kind at their boundary; the API layer maps kinds to
// HTTP statuses.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a fault for propagation and retry decisions.
type Kind string

// Fault kinds.
const (
	// KindPrecondition covers invalid input, wrong state, and unknown ids.
	// Surfaced to the caller; never retried.
	KindPrecondition Kind = "precondition"

	// KindSaturation covers capacity limits (queue full, session cap).
	// Surfaced; the caller is expected to back off and retry.
	KindSaturation Kind = "saturation"

	// KindAuthorization covers authentication failures, missing permissions,
	// and rate limiting. Surfaced and audit-logged.
	KindAuthorization Kind = "authorization"

	// KindNotFound covers absent agents, tasks, sessions, and appeals.
	KindNotFound Kind = "not_found"

	// KindTransientIO covers persistence and external call failures that are
	// safe to retry.
	KindTransientIO Kind = "transient_io"

	// KindPartialData covers missing or out-of-range fields that were
	// clamped or coerced rather than failed.
	KindPartialData Kind = "partial_data"

	// KindFatal covers invariant violations. The affected unit fails; the
	// process stays up.
	KindFatal Kind = "fatal"
)

// Fault is the typed error carried across subsystem boundaries.
type Fault struct {
	Kind      Kind
	Message   string
	Retriable bool
	Context   map[string]any
	cause     error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (f *Fault) Unwrap() error {
	return f.cause
}

// With attaches a context key/value pair and returns the fault for chaining.
func (f *Fault) With(key string, value any) *Fault {
	if f.Context == nil {
		f.Context = make(map[string]any)
	}
	f.Context[key] = value
	return f
}

// Wrap records err as the fault's cause and returns the fault for chaining.
func (f *Fault) Wrap(err error) *Fault {
	f.cause = err
	return f
}

// New creates a fault of the given kind.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retriable: kind == KindTransientIO || kind == KindSaturation,
	}
}

// Precondition creates a precondition fault (invalid input or wrong state).
func Precondition(format string, args ...any) *Fault {
	return New(KindPrecondition, format, args...)
}

// Saturation creates a saturation fault (capacity exceeded).
func Saturation(format string, args ...any) *Fault {
	return New(KindSaturation, format, args...)
}

// Authorization creates an authorization fault.
func Authorization(format string, args ...any) *Fault {
	return New(KindAuthorization, format, args...)
}

// NotFound creates a not-found fault.
func NotFound(format string, args ...any) *Fault {
	return New(KindNotFound, format, args...)
}

// TransientIO creates a retriable I/O fault.
func TransientIO(format string, args ...any) *Fault {
	return New(KindTransientIO, format, args...)
}

// PartialData creates a partial-data fault.
func PartialData(format string, args ...any) *Fault {
	return New(KindPartialData, format, args...)
}

// Fatal creates a fatal invariant-violation fault.
func Fatal(format string, args ...any) *Fault {
	return New(KindFatal, format, args...)
}

// KindOf returns the kind of err if it is (or wraps) a Fault, or an empty
// Kind otherwise.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// Is reports whether err is (or wraps) a Fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetriable reports whether the caller may safely retry the operation.
func IsRetriable(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Retriable
	}
	return false
}
