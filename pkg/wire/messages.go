// Package wire implements the bidirectional worker<->orchestrator
// protocol from §6: the message envelopes exchanged over one
// long-lived streaming RPC session, plus a hand-rolled gRPC transport
// for them (see service.go, codec.go).
package wire

import "time"

// JobStatus is the wire vocabulary for execution status (§6). Mapping
// to the internal types.ExecutionState is bijective except RUNNING <->
// RUNNING.
type JobStatus string

const (
	StatusQueued    JobStatus = "QUEUED"
	StatusRunning   JobStatus = "RUNNING"
	StatusSuccess   JobStatus = "SUCCESS"
	StatusFailed    JobStatus = "FAILED"
	StatusCancelled JobStatus = "CANCELLED"
)

// ControlSignalType selects the control action a ControlSignal carries
// (§6).
type ControlSignalType string

const (
	ControlCancel  ControlSignalType = "CANCEL"
	ControlPause   ControlSignalType = "PAUSE"
	ControlResume  ControlSignalType = "RESUME"
)

// JobDefinition carries exactly one of an inline script, a command-line
// list, or a compiled-script blob with libraries (§6). The step DSL
// that would interpret InlineScript/CompiledScript is an explicit
// Non-goal (§1); the worker agent here only ever executes the
// command-line form directly.
type JobDefinition struct {
	JobID          string
	ExecutionID    string
	Image          string
	InlineScript   string
	CommandLine    []string
	CompiledScript []byte
	Libraries      []string
	Env            []string
	ArtifactIDs    []string
}

// JobRequest is Server->Worker: dispatch a job definition.
type JobRequest struct {
	Definition JobDefinition
}

// ControlSignal is Server->Worker: a lifecycle control action (§6).
type ControlSignal struct {
	ExecutionID string
	Type        ControlSignalType
}

// ArtifactChunk carries one chunk of an artifact transfer, flowing in
// either direction since artifacts move both ways during execution
// (§4.2, §6).
type ArtifactChunk struct {
	ArtifactID   string
	Sequence     int64
	Data         []byte
	IsLast       bool
	Compression  string // mirrors types.Compression; kept string here so wire stays independent of the domain package
	OriginalSize int64
}

// ArtifactAck acknowledges a completed (or cache-skipped) artifact
// transfer (§4.2).
type ArtifactAck struct {
	ArtifactID         string
	Success            bool
	CacheHit           bool
	CalculatedChecksum string
	CacheStatus        string
}

// ArtifactCacheQuery asks a worker whether it already holds the given
// artifact ids (§4.2).
type ArtifactCacheQuery struct {
	JobID       string
	ArtifactIDs []string
}

// ArtifactCacheResponse answers an ArtifactCacheQuery.
type ArtifactCacheResponse struct {
	ArtifactInfos []ArtifactInfo
}

// ArtifactInfo is one artifact's cache status, wire-shaped (mirrors
// types.ArtifactInfo without importing the domain package).
type ArtifactInfo struct {
	ArtifactID    string
	Cached        bool
	Checksum      string
	NeedsTransfer bool
	TotalSize     int64
}

// Heartbeat is Worker->Server: liveness plus current status (§6).
type Heartbeat struct {
	WorkerID string
	Status   string
	SentAt   time.Time
}

// StatusUpdate is the status-change half of a JobOutputAndStatus.
type StatusUpdate struct {
	ExecutionID   string
	Status        JobStatus
	ExitCode      *int32
	FailureReason string
}

// OutputChunk is the log-output half of a JobOutputAndStatus.
type OutputChunk struct {
	ExecutionID string
	Data        []byte
	IsStderr    bool
	Timestamp   time.Time
}

// JobOutputAndStatus is Worker->Server: either a status update or an
// output chunk, never both (§6).
type JobOutputAndStatus struct {
	StatusUpdate *StatusUpdate
	OutputChunk  *OutputChunk
}

// RegistrationRequest is Worker->Server: register a new worker and its
// declared capabilities (§6). It must be the first message a worker
// sends on a session.
type RegistrationRequest struct {
	WorkerID  string
	Name      string
	Languages []string
	Tools     []string
	Features  []string
}

// RegistrationAck is Server->Worker: registration outcome. It carries
// no session token; no message on the session stream does.
type RegistrationAck struct {
	Accepted bool
	Reason   string
}

// ClientMessage is one Worker->Server envelope. Exactly one field is
// non-nil per message: a plain tagged-union shape standing in for a
// protoc-generated oneof (see DESIGN.md).
type ClientMessage struct {
	Registration          *RegistrationRequest
	Heartbeat              *Heartbeat
	Output                 *JobOutputAndStatus
	ArtifactChunk          *ArtifactChunk
	ArtifactAck            *ArtifactAck
	ArtifactCacheResponse  *ArtifactCacheResponse
}

// ServerMessage is one Server->Worker envelope.
type ServerMessage struct {
	RegistrationAck    *RegistrationAck
	JobRequest         *JobRequest
	Control            *ControlSignal
	ArtifactChunk      *ArtifactChunk
	ArtifactCacheQuery *ArtifactCacheQuery
}
