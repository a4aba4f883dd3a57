package types

import "time"

// QueueType selects the discipline the processing loop uses to order a
// queue's ready entries (§4.9).
type QueueType string

const (
	QueueFIFO     QueueType = "FIFO"
	QueueLIFO     QueueType = "LIFO"
	QueuePriority QueueType = "PRIORITY"
)

// JobQueue is an administrative queue bound to one resource pool.
type JobQueue struct {
	ID               string
	Name             string
	ResourcePoolID   string
	QueueType        QueueType
	BasePriority     float64
	MaxConcurrentJobs *int
	MaxQueuedJobs     *int
	IsActive          bool
}

// QueuedJob wraps a Job with queue-scoped scheduling metadata.
type QueuedJob struct {
	Job *Job

	QueueID           string
	EffectivePriority float64
	QueuedAt          time.Time
	Deadline          *time.Time
	EstimatedDuration time.Duration
	Resources         ResourceRequirements
	RequiredLanguages []string
	RequiredTools     []string
	RequiredFeatures  []string
	UserID            string
	ProjectID         string
	Dependencies      []string
	Attempts          int
	MaxAttempts       int
}

// CanRetry reports whether this queued job has attempts remaining
// (§4.9 retry policy: `canRetry ≡ attempts < maxAttempts`).
func (q *QueuedJob) CanRetry() bool {
	return q.Attempts < q.MaxAttempts
}
