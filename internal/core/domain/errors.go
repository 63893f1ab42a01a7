package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Failure Taxonomy
// =============================================================================

// FailureClass categorizes a terminal failure for retry and remediation
// decisions.
type FailureClass string

const (
	// FailureValidation is malformed input, detected before any network cost.
	FailureValidation FailureClass = "validation"

	// FailureTransient covers network errors, timeouts, and sessions that are
	// not yet active. Worth a small bounded automatic retry.
	FailureTransient FailureClass = "transient"

	// FailurePermanent covers not-found and forbidden conditions. Never
	// retried.
	FailurePermanent FailureClass = "permanent"

	// FailureResourceExhaustion covers disk-space conditions. Surfaced
	// immediately, never retried.
	FailureResourceExhaustion FailureClass = "resource-exhaustion"

	// FailureUnknown is the default when no classifier matched.
	FailureUnknown FailureClass = "unknown"
)

// Retryable reports whether an automatic bounded retry is worthwhile for
// this class of failure.
func (c FailureClass) Retryable() bool {
	return c == FailureTransient
}

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// Certificate errors
	ErrNoValidCertificate = errors.New("no strategy produced a valid certificate")
	ErrCertificateExpired = errors.New("certificate is expired")

	// Registry errors
	ErrMalformedCredential  = errors.New("malformed registry credential")
	ErrAuthenticationFailed = errors.New("registry authentication failed")
	ErrTagNotFound          = errors.New("tag not found")

	// Image errors
	ErrAllPullsFailed = errors.New("every image pull failed")

	// Activation errors
	ErrPreflightFailed   = errors.New("activation preflight failed")
	ErrActivationAborted = errors.New("activation aborted by conflict decision")
	ErrBindingOverlap    = errors.New("services declare overlapping host bindings")
	ErrEngineUnreachable = errors.New("container engine is not reachable")
)

// =============================================================================
// StageError
// =============================================================================

// StageError is the terminal failure shape every pipeline stage surfaces:
// which stage failed, a best-guess classification, and at least one concrete
// remediation step.
type StageError struct {
	Stage       string
	Class       FailureClass
	Remediation string
	Err         error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed (%s)", e.Stage, e.Class)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a StageError with its remediation resolved from the
// class-keyed lookup table.
func NewStageError(stage string, class FailureClass, err error) *StageError {
	return &StageError{
		Stage:       stage,
		Class:       class,
		Remediation: RemediationFor(class),
		Err:         err,
	}
}

// RemediationFor returns one concrete remediation step for a failure class.
// The table is fixed; callers may append context-specific hints but every
// class always yields at least this step.
func RemediationFor(class FailureClass) string {
	switch class {
	case FailureValidation:
		return "check the input value against the documented format and correct it"
	case FailureTransient:
		return "verify network connectivity to the external endpoint and re-run; transient failures usually clear on retry"
	case FailurePermanent:
		return "confirm the resource name and that the credential grants access to it; retrying will not help"
	case FailureResourceExhaustion:
		return "free disk space (docker system prune, remove unused images) and re-run"
	default:
		return "inspect the captured output below and the engine logs for the underlying cause"
	}
}
