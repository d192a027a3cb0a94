package schemas

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by collaborators when the requested item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTerminationCeilingExceeded is returned when an attempt hits the global step ceiling.
	ErrTerminationCeilingExceeded = errors.New("termination ceiling exceeded")
	// ErrCancelled marks an attempt stopped by its caller.
	ErrCancelled = errors.New("attempt cancelled")
	// ErrCredentialsUnavailable is returned when payment data could not be resolved for a user.
	ErrCredentialsUnavailable = errors.New("payment credentials unavailable")
)

// retryable is implemented by failures that carry a retry classification.
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err is a failure the flow may retry.
func IsRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// AnalysisFailureKind classifies a failed analysis.
type AnalysisFailureKind string

const (
	AnalysisTimeout           AnalysisFailureKind = "Timeout"
	AnalysisUnparseable       AnalysisFailureKind = "Unparseable"
	AnalysisNoPlausibleAction AnalysisFailureKind = "NoPlausibleAction"
	AnalysisProviderError     AnalysisFailureKind = "ProviderError"
)

// AnalysisFailure is returned when the analyzer cannot produce a plan.
type AnalysisFailure struct {
	Kind AnalysisFailureKind
	Err  error
}

func (e *AnalysisFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("analysis failure (%s)", e.Kind)
	}
	return fmt.Sprintf("analysis failure (%s): %v", e.Kind, e.Err)
}

func (e *AnalysisFailure) Unwrap() error { return e.Err }

// Retryable is always true; no analysis failure is fatal on its own.
func (e *AnalysisFailure) Retryable() bool { return true }

// RejectionReason tags why a plan was rejected.
type RejectionReason string

const (
	RejectUnknownElement    RejectionReason = "UnknownElement"
	RejectDisabledElement   RejectionReason = "DisabledElement"
	RejectForbiddenField    RejectionReason = "ForbiddenField"
	RejectLoopDetected      RejectionReason = "LoopDetected"
	RejectUnknownActionKind RejectionReason = "UnknownActionKind"
)

// ValidationRejection is returned when a plan fails validation.
type ValidationRejection struct {
	Reason RejectionReason
	Target string
	Detail string
}

func (e *ValidationRejection) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("plan rejected (%s) for target %q", e.Reason, e.Target)
	}
	return fmt.Sprintf("plan rejected (%s) for target %q: %s", e.Reason, e.Target, e.Detail)
}

// Retryable is false only for LoopDetected.
func (e *ValidationRejection) Retryable() bool { return e.Reason != RejectLoopDetected }

// ExecutionFailureKind classifies a failed interaction.
type ExecutionFailureKind string

const (
	ExecNetworkError      ExecutionFailureKind = "NetworkError"
	ExecNavigationTimeout ExecutionFailureKind = "NavigationTimeout"
	ExecElementVanished   ExecutionFailureKind = "ElementVanished"
	ExecSessionExpired    ExecutionFailureKind = "SessionExpired"
	// ExecDuplicateTerminal is raised when a second purchase-confirming action
	// is requested after one already succeeded.
	ExecDuplicateTerminal ExecutionFailureKind = "DuplicateTerminal"
)

// ExecutionFailure is returned when an action or a fetch fails against the live page.
type ExecutionFailure struct {
	Kind   ExecutionFailureKind
	Target string
	Err    error
	// Dispatched is set when the interaction may already have reached the
	// page, so repeating it could act twice.
	Dispatched bool
}

func (e *ExecutionFailure) Error() string {
	msg := fmt.Sprintf("execution failure (%s)", e.Kind)
	if e.Target != "" {
		msg += fmt.Sprintf(" on %q", e.Target)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionFailure) Unwrap() error { return e.Err }

// IsDispatched reports whether err is an execution failure raised after the
// interaction may have reached the page.
func IsDispatched(err error) bool {
	var ef *ExecutionFailure
	return errors.As(err, &ef) && ef.Dispatched
}

// Retryable is false for expired sessions and duplicate terminal actions.
func (e *ExecutionFailure) Retryable() bool {
	return e.Kind != ExecSessionExpired && e.Kind != ExecDuplicateTerminal
}
