// Package reconcile implements the per-resource reconciliation state machine:
// it decides whether a resource must be created, updated, or skipped, polls
// for state convergence with bounded retries, and produces the exports a
// resource contributes to the rest of the run.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/deployql/deployql/pkg/executor"
	"github.com/deployql/deployql/pkg/queries"
)

// ErrorKind classifies a reconciliation failure.
type ErrorKind string

const (
	// ErrKindAnchorParse indicates malformed anchor marker syntax in the
	// resource's query text.
	ErrKindAnchorParse ErrorKind = "anchor_parse"

	// ErrKindRender indicates a template rendering failure, including a
	// reference to a variable absent from the resource's scope.
	ErrKindRender ErrorKind = "render"

	// ErrKindMissingAnchor indicates a standard-path resource lacking the
	// anchors required to reconcile it.
	ErrKindMissingAnchor ErrorKind = "missing_anchor"

	// ErrKindExecution indicates the external query engine returned an
	// error. Execution errors are never retried.
	ErrKindExecution ErrorKind = "execution"

	// ErrKindStateExhausted indicates the statecheck predicate was never
	// satisfied within the retry budget.
	ErrKindStateExhausted ErrorKind = "state_exhausted"
)

// Error is a classified reconciliation error with resource and anchor
// context for diagnosis.
type Error struct {
	// Kind is the failure classification.
	Kind ErrorKind

	// Resource is the resource being reconciled.
	Resource string

	// Anchor is the anchor kind being executed when the failure occurred.
	Anchor queries.Kind

	// Attempts is the number of verification attempts consumed, when
	// applicable.
	Attempts int

	// LastPayload is the last observed result set, attached on verification
	// exhaustion for diagnosis.
	LastPayload []executor.Row

	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s]", e.Kind)
	if e.Resource != "" {
		msg += fmt.Sprintf(" resource=%s", e.Resource)
	}
	if e.Anchor != "" {
		msg += fmt.Sprintf(" anchor=%s", e.Anchor)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithAnchor adds anchor context to the error.
func (e *Error) WithAnchor(kind queries.Kind) *Error {
	e.Anchor = kind
	return e
}

// newError builds a classified error for a resource.
func newError(kind ErrorKind, resource string, err error) *Error {
	return &Error{Kind: kind, Resource: resource, Err: err}
}

// kindOf extracts the classification from an error chain, or "".
func kindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsExecution reports whether err is an execution error.
func IsExecution(err error) bool { return kindOf(err) == ErrKindExecution }

// IsStateExhausted reports whether err is a verification exhaustion.
func IsStateExhausted(err error) bool { return kindOf(err) == ErrKindStateExhausted }

// IsMissingAnchor reports whether err is a missing-anchor configuration
// error.
func IsMissingAnchor(err error) bool { return kindOf(err) == ErrKindMissingAnchor }
