// Package apierrors defines the closed error-kind taxonomy shared by every
// core component: admission, placement, execution and the persistence
// ports all surface one of these kinds rather than ad hoc error strings,
// so callers can branch on kind with errors.As instead of string matching.
package apierrors

import "fmt"

// ValidationError reports contract-violating input: a blank name, an
// illegal status transition, a malformed resource string. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// NewValidation builds a ValidationError.
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports a missing entity by id. The orchestrator treats
// this as permanent.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// NewNotFound builds a NotFoundError.
func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError reports a duplicate name or id.
type ConflictError struct {
	Kind string
	ID   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.ID)
}

// NewConflict builds a ConflictError.
func NewConflict(kind, id string) error {
	return &ConflictError{Kind: kind, ID: id}
}

// QuotaExceededError reports a HARD-policy quota block. Retried only by a
// caller-supplied soft-retry wrapper, never inside the quota engine.
type QuotaExceededError struct {
	PoolID   string
	Resource string
	Limit    float64
	Attempt  float64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("pool %s: %s quota exceeded (limit=%.2f attempted=%.2f)",
		e.PoolID, e.Resource, e.Limit, e.Attempt)
}

// NewQuotaExceeded builds a QuotaExceededError.
func NewQuotaExceeded(poolID, resource string, limit, attempt float64) error {
	return &QuotaExceededError{PoolID: poolID, Resource: resource, Limit: limit, Attempt: attempt}
}

// ProvisioningReason classifies why a compute driver failed to provision
// or otherwise manage an instance.
type ProvisioningReason string

const (
	ProvisioningInvalidSpec        ProvisioningReason = "invalid_spec"
	ProvisioningImagePullFailure   ProvisioningReason = "image_pull_failure"
	ProvisioningResourceUnavailable ProvisioningReason = "resource_unavailable"
	ProvisioningFailed             ProvisioningReason = "provisioning_failed"
)

// ProvisioningError reports a compute-driver failure. Retried by the
// orchestrator's placement-failure handling until maxAttempts, then
// permanent.
type ProvisioningError struct {
	Reason ProvisioningReason
	Err    error
}

func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provisioning failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("provisioning failed (%s)", e.Reason)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Retryable reports whether the orchestrator should requeue the job that
// triggered this provisioning failure rather than marking it permanently
// FAILED.
func (e *ProvisioningError) Retryable() bool {
	return e.Reason == ProvisioningResourceUnavailable || e.Reason == ProvisioningFailed
}

// NewProvisioning builds a ProvisioningError.
func NewProvisioning(reason ProvisioningReason, err error) error {
	return &ProvisioningError{Reason: reason, Err: err}
}

// RepositoryReason classifies a persistence-port failure.
type RepositoryReason string

const (
	RepositoryOperationFailed RepositoryReason = "operation_failed"
	RepositoryNotFound        RepositoryReason = "not_found"
	RepositoryConflict        RepositoryReason = "conflict"
)

// RepositoryError wraps a failure from a JobRepository/QuotaRepository/
// etc. call. Logged by the caller, which decides whether to surface it.
type RepositoryError struct {
	Reason RepositoryReason
	Err    error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository error (%s): %v", e.Reason, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// NewRepository builds a RepositoryError.
func NewRepository(reason RepositoryReason, err error) error {
	return &RepositoryError{Reason: reason, Err: err}
}

// SystemError wraps an uncaught internal failure. Never leaked to a
// caller beyond a diagnostic id; logged in full server-side.
type SystemError struct {
	DiagnosticID string
	Err          error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("internal error (diagnostic id %s)", e.DiagnosticID)
}

func (e *SystemError) Unwrap() error { return e.Err }

// NewSystem builds a SystemError with a diagnostic id distinct from the
// underlying error so the underlying detail never has to be rendered to
// a user-facing surface.
func NewSystem(diagnosticID string, err error) error {
	return &SystemError{DiagnosticID: diagnosticID, Err: err}
}
