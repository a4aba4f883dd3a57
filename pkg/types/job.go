// Package types holds the data model shared by every core component:
// Job, QueuedJob, JobQueue, ResourcePool, WorkerTemplate, WorkerPool,
// Worker, ResourceQuota, ResourceUsage, QuotaViolation, ScalingPolicy,
// Execution and the artifact transport envelope, per §3 of the
// specification. Types here are plain records; transition functions
// that enforce the invariants live with their owning component
// (pkg/orchestrator, pkg/quota, pkg/autoscaler) rather than on the
// struct itself, mirroring the teacher's separation between
// pkg/types and the packages that mutate it.
package types

import "time"

// JobStatus is the lifecycle state of a Job. Transitions are
// constrained to the DAG in §4.9 and enforced by pkg/orchestrator.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobQueued    JobStatus = "QUEUED"
	JobScheduled JobStatus = "SCHEDULED"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// Priority is a job's declared priority band. Value is the numeric
// weight used as the base of effective priority (§4.9).
type Priority string

const (
	PriorityCritical   Priority = "CRITICAL"
	PriorityHigh       Priority = "HIGH"
	PriorityNormal     Priority = "NORMAL"
	PriorityLow        Priority = "LOW"
	PriorityBackground Priority = "BACKGROUND"
)

// priorityWeights maps each priority band to its numeric base weight.
var priorityWeights = map[Priority]float64{
	PriorityCritical:   1000,
	PriorityHigh:       800,
	PriorityNormal:     500,
	PriorityLow:        200,
	PriorityBackground: 100,
}

// Value returns the priority's numeric base weight, defaulting to the
// NORMAL weight for an unrecognized value rather than zero, so a
// malformed priority ranks like NORMAL work instead of below
// BACKGROUND work.
func (p Priority) Value() float64 {
	if v, ok := priorityWeights[p]; ok {
		return v
	}
	return priorityWeights[PriorityNormal]
}

// JobDefinition carries either a template reference or an inline spec,
// never both, never neither (§3 invariant).
type JobDefinition struct {
	// Template form.
	TemplateID        string
	TemplateVersion   string
	ParameterOverrides map[string]string

	// Inline form.
	InlineImage   string
	InlineCommand []string
	InlineEnv     []string
}

// IsTemplate reports whether this definition references a template.
func (d JobDefinition) IsTemplate() bool {
	return d.TemplateID != ""
}

// IsInline reports whether this definition carries an inline spec.
func (d JobDefinition) IsInline() bool {
	return d.InlineImage != "" || len(d.InlineCommand) > 0
}

// Valid enforces the "never both, never neither" invariant from §3.
func (d JobDefinition) Valid() bool {
	return d.IsTemplate() != d.IsInline()
}

// Job is a pipeline job submitted for execution.
type Job struct {
	ID          string
	Name        string `validate:"required"`
	Namespace   string `validate:"required"`
	Status      JobStatus
	Priority    Priority
	Definition  JobDefinition
	RetryCount  int `validate:"gte=0"`
	MaxRetries  int `validate:"gte=0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	CreatedBy   string

	// LatestExecutionID is a by-id back-reference only; Execution is
	// owned exclusively by the Execution Engine (§3 Ownership).
	LatestExecutionID string
}

// ResourceRequirements describes the compute shape a job or worker
// template needs. Storage is modeled as a plain string where "" means
// "no storage requested" (see DESIGN.md Open Question decisions) —
// there is no separate unset sentinel.
type ResourceRequirements struct {
	CPUMillicores int64
	MemoryBytes   int64
	Storage       string
	GPUCount      int
}

// jobTransitions enumerates the allowed Job status DAG from §4.9.
var jobTransitions = map[JobStatus]map[JobStatus]bool{
	JobPending:   {JobQueued: true},
	JobQueued:    {JobScheduled: true, JobCancelled: true},
	JobScheduled: {JobRunning: true, JobQueued: true, JobCancelled: true, JobFailed: true},
	JobRunning:   {JobCompleted: true, JobFailed: true, JobCancelled: true},
	JobCompleted: {},
	JobFailed:    {JobQueued: true}, // retry path
	JobCancelled: {},
}

// CanTransition reports whether moving from `from` to `to` is a legal
// edge in the Job status DAG (§4.9, §8 invariant 2). SCHEDULED→QUEUED
// models a requeue after a placement failure that is being retried.
func CanTransition(from, to JobStatus) bool {
	edges, ok := jobTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}
