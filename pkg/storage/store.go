// Package storage defines the persistence ports §6 names
// (JobRepository, JobQueueRepository, QueuedJobRepository,
// QuotaRepository, UsageRepository, ViolationRepository,
// ResourcePoolRepository, ArtifactRepository) and a bbolt-backed
// implementation of all of them, following the teacher's
// pkg/storage/store.go (interface-per-entity) and pkg/storage/boltdb.go
// (bucket-per-entity, JSON-encoded values) shape.
package storage

import (
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
)

// JobRepository persists Job entities.
type JobRepository interface {
	CreateJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	UpdateJob(job *types.Job) error
	DeleteJob(id string) error
}

// JobQueueRepository persists JobQueue entities.
type JobQueueRepository interface {
	CreateQueue(q *types.JobQueue) error
	GetQueue(id string) (*types.JobQueue, error)
	ListQueues() ([]*types.JobQueue, error)
	UpdateQueue(q *types.JobQueue) error
	DeleteQueue(id string) error
}

// QueuedJobRepository persists QueuedJob entities, indexed by queue.
type QueuedJobRepository interface {
	CreateQueuedJob(q *types.QueuedJob) error
	GetQueuedJob(jobID string) (*types.QueuedJob, error)
	ListQueuedJobsByQueue(queueID string) ([]*types.QueuedJob, error)
	ListAllQueuedJobs() ([]*types.QueuedJob, error)
	UpdateQueuedJob(q *types.QueuedJob) error
	DeleteQueuedJob(jobID string) error
}

// QuotaRepository persists ResourceQuota entities.
type QuotaRepository interface {
	CreateQuota(q *types.ResourceQuota) error
	GetQuota(id string) (*types.ResourceQuota, error)
	GetQuotaByPool(poolID string) (*types.ResourceQuota, error)
	ListQuotas() ([]*types.ResourceQuota, error)
	UpdateQuota(q *types.ResourceQuota) error
	DeleteQuota(id string) error
}

// UsageRepository persists ResourceUsage rows, one per pool.
type UsageRepository interface {
	GetUsage(poolID string) (*types.ResourceUsage, error)
	SaveUsage(u *types.ResourceUsage) error
	ListUsage() ([]*types.ResourceUsage, error)
}

// ViolationRepository persists QuotaViolation entities.
type ViolationRepository interface {
	CreateViolation(v *types.QuotaViolation) error
	GetViolation(id string) (*types.QuotaViolation, error)
	ListViolationsByPool(poolID string) ([]*types.QuotaViolation, error)
	UpdateViolation(v *types.QuotaViolation) error
}

// ResourcePoolRepository persists ResourcePool entities.
type ResourcePoolRepository interface {
	CreatePool(p *types.ResourcePool) error
	GetPool(id string) (*types.ResourcePool, error)
	ListPools() ([]*types.ResourcePool, error)
	UpdatePool(p *types.ResourcePool) error
	DeletePool(id string) error
}

// ExecutionRepository persists Execution entities, owned exclusively
// by the Execution Engine once the orchestrator hands a job off (§3
// Ownership, §4.7).
type ExecutionRepository interface {
	CreateExecution(e *types.Execution) error
	GetExecution(id string) (*types.Execution, error)
	ListExecutionsByJob(jobID string) ([]*types.Execution, error)
	UpdateExecution(e *types.Execution) error
}

// WorkerPoolRepository persists WorkerPool entities: the scaling
// policy, template and worker set bound to a ResourcePool.
type WorkerPoolRepository interface {
	CreateWorkerPool(wp *types.WorkerPool) error
	GetWorkerPool(id string) (*types.WorkerPool, error)
	GetWorkerPoolByPool(poolID string) (*types.WorkerPool, error)
	ListWorkerPools() ([]*types.WorkerPool, error)
	UpdateWorkerPool(wp *types.WorkerPool) error
	DeleteWorkerPool(id string) error
}

// ArtifactRepository persists artifact cache metadata rows on the
// orchestrator side (the worker-side cache, §4.2, keeps its own
// file-backed index — see pkg/artifact).
type ArtifactRepository interface {
	PutArtifactInfo(info *types.ArtifactInfo) error
	GetArtifactInfo(artifactID string) (*types.ArtifactInfo, error)
	ListArtifactInfo() ([]*types.ArtifactInfo, error)
}

// Store aggregates every repository port into the single handle the
// orchestrator wires at startup, matching the teacher's single Store
// interface composing every entity's CRUD surface.
type Store interface {
	JobRepository
	JobQueueRepository
	QueuedJobRepository
	QuotaRepository
	UsageRepository
	ViolationRepository
	ResourcePoolRepository
	WorkerPoolRepository
	ExecutionRepository
	ArtifactRepository

	Close() error
}
