package types

import "time"

// ExecutionState is the lifecycle state of an Execution, owned
// exclusively by the Execution Engine once the orchestrator hands off
// (§3 Ownership, §4.7).
type ExecutionState string

const (
	ExecutionPending   ExecutionState = "PENDING"
	ExecutionRunning   ExecutionState = "RUNNING"
	ExecutionSucceeded ExecutionState = "SUCCEEDED"
	ExecutionFailed    ExecutionState = "FAILED"
	ExecutionCancelled ExecutionState = "CANCELLED"
)

// Execution is one worker-side run of a Job.
type Execution struct {
	ID            string
	JobID         string
	WorkerID      string
	PoolID        string
	State         ExecutionState
	StartedAt     time.Time
	EndedAt       *time.Time
	ExitCode      *int
	FailureReason string
}

// EventKind enumerates the execution event variants from §3.
type EventKind string

const (
	EventStarted        EventKind = "STARTED"
	EventOutputReceived EventKind = "OUTPUT_RECEIVED"
	EventStatusChanged  EventKind = "STATUS_CHANGED"
	EventCompleted      EventKind = "COMPLETED"
	EventFailed         EventKind = "FAILED"
	EventCancelled      EventKind = "CANCELLED"
)

// ExecutionEvent is one event in an execution's totally-ordered stream
// (§5 ordering guarantees: total order by emitted timestamp, per
// subscriber).
type ExecutionEvent struct {
	ExecutionID string
	Kind        EventKind
	Timestamp   time.Time

	// OUTPUT_RECEIVED fields.
	Chunk    []byte
	IsStderr bool

	// STATUS_CHANGED fields.
	NewState ExecutionState

	// COMPLETED / FAILED fields.
	ExitCode      *int
	FailureReason string
}

// LogLine is one line of worker-side output, delivered distinctly from
// ExecutionEvent so subscribers can opt into events, logs, or both (C9).
type LogLine struct {
	ExecutionID string
	Timestamp   time.Time
	Stream      string // "stdout" | "stderr"
	Data        []byte
}
