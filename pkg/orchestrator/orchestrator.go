package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/apierrors"
	"github.com/hodeiorg/hodei-pipelines/pkg/events"
	"github.com/hodeiorg/hodei-pipelines/pkg/execution"
	"github.com/hodeiorg/hodei-pipelines/pkg/ids"
	"github.com/hodeiorg/hodei-pipelines/pkg/listener"
	"github.com/hodeiorg/hodei-pipelines/pkg/log"
	"github.com/hodeiorg/hodei-pipelines/pkg/metrics"
	"github.com/hodeiorg/hodei-pipelines/pkg/scheduler"
	"github.com/hodeiorg/hodei-pipelines/pkg/storage"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrQueueFull is returned by Submit when the target queue's
// maxQueuedJobs limit is already reached (§4.9 step 2).
var ErrQueueFull = fmt.Errorf("queue is at its maxQueuedJobs limit")

// ErrAlreadyQueued is returned by Submit when jobId is already present
// in some queue (§4.9 step 3, §8 round-trip law).
var ErrAlreadyQueued = fmt.Errorf("job is already queued")

// ErrQueueInactive is returned by Submit when the target queue exists
// but IsActive is false.
var ErrQueueInactive = fmt.Errorf("queue is not active")

// DefaultProcessingSchedule is the cron "@every" expression for the
// processing loop tick (§4.9: "every 1 s").
const DefaultProcessingSchedule = "@every 1s"

// SubmitRequest carries everything a caller supplies to queue a job;
// Job itself is constructed by the caller (REST controllers / CLI are
// non-goals, §1) and must already satisfy its own invariants (§3).
type SubmitRequest struct {
	Job               *types.Job
	QueueID           string
	Resources         types.ResourceRequirements
	RequiredLanguages []string
	RequiredTools     []string
	RequiredFeatures  []string
	Deadline          *time.Time
	EstimatedDuration time.Duration
	UserID            string
	ProjectID         string
	Dependencies      []string
	MaxAttempts       int
}

// Orchestrator is the Job Orchestrator & Queue Engine (C10, §4.9):
// submission admission, the single processing loop, effective-priority
// ordering, scheduler/execution-engine hand-off and retry. Grounded on
// the teacher's pkg/scheduler.Scheduler run()/stopCh shape, with the
// start/stop guard generalized to the spec's explicit
// isProcessing.compareAndSet single-instance guard (§9 open question:
// not re-armed after a crash, see doc comment on Start).
type Orchestrator struct {
	jobs        storage.JobRepository
	queues      storage.JobQueueRepository
	queuedJobs  storage.QueuedJobRepository
	pools       storage.ResourcePoolRepository
	workerPools storage.WorkerPoolRepository

	scheduler *scheduler.Scheduler
	engine    *execution.Engine
	listeners *listener.Registry
	publisher events.Publisher

	cron     *cron.Cron
	schedule string

	isProcessing atomic.Bool

	mu      sync.Mutex // guards running
	running map[string]int // queueID -> count of jobs dispatched but not yet terminal

	logger zerolog.Logger
}

// New constructs an Orchestrator. The processing loop is not started
// until Start is called.
func New(
	jobs storage.JobRepository,
	queues storage.JobQueueRepository,
	queuedJobs storage.QueuedJobRepository,
	pools storage.ResourcePoolRepository,
	workerPools storage.WorkerPoolRepository,
	sched *scheduler.Scheduler,
	engine *execution.Engine,
	listeners *listener.Registry,
	publisher events.Publisher,
	schedule string,
) *Orchestrator {
	if schedule == "" {
		schedule = DefaultProcessingSchedule
	}
	return &Orchestrator{
		jobs:        jobs,
		queues:      queues,
		queuedJobs:  queuedJobs,
		pools:       pools,
		workerPools: workerPools,
		scheduler:   sched,
		engine:      engine,
		listeners:   listeners,
		publisher:   publisher,
		cron:        cron.New(),
		schedule:    schedule,
		running:     make(map[string]int),
		logger:      log.WithComponent("orchestrator"),
	}
}

// Submit implements §4.9's submission sequence: validate the queue,
// enforce maxQueuedJobs, reject a duplicate jobId, persist the Job as
// QUEUED plus its QueuedJob row, and ensure the processing loop is
// running.
func (o *Orchestrator) Submit(req SubmitRequest) (*types.QueuedJob, error) {
	if req.Job == nil {
		return nil, apierrors.NewValidation("job", "required")
	}
	if err := ids.Validate("jobId", req.Job.ID); err != nil {
		return nil, err
	}

	queue, err := o.queues.GetQueue(req.QueueID)
	if err != nil {
		return nil, apierrors.NewNotFound("queue", req.QueueID)
	}
	if !queue.IsActive {
		return nil, ErrQueueInactive
	}

	if existing, err := o.queuedJobs.GetQueuedJob(req.Job.ID); err == nil && existing != nil {
		return nil, ErrAlreadyQueued
	}

	if queue.MaxQueuedJobs != nil {
		all, err := o.queuedJobs.ListQueuedJobsByQueue(queue.ID)
		if err != nil {
			return nil, apierrors.NewRepository(apierrors.RepositoryOperationFailed, err)
		}
		count := 0
		for _, q := range all {
			if q.Job.Status == types.JobQueued {
				count++
			}
		}
		if count >= *queue.MaxQueuedJobs {
			return nil, ErrQueueFull
		}
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = req.Job.MaxRetries + 1
	}

	req.Job.Status = types.JobQueued
	req.Job.UpdatedAt = time.Now()
	if err := o.jobs.CreateJob(req.Job); err != nil {
		return nil, apierrors.NewRepository(apierrors.RepositoryOperationFailed, err)
	}

	qj := &types.QueuedJob{
		Job:               req.Job,
		QueueID:           queue.ID,
		QueuedAt:          time.Now(),
		Deadline:          req.Deadline,
		EstimatedDuration: req.EstimatedDuration,
		Resources:         req.Resources,
		RequiredLanguages: req.RequiredLanguages,
		RequiredTools:     req.RequiredTools,
		RequiredFeatures:  req.RequiredFeatures,
		UserID:            req.UserID,
		ProjectID:         req.ProjectID,
		Dependencies:      req.Dependencies,
		Attempts:          0,
		MaxAttempts:       maxAttempts,
	}
	qj.EffectivePriority = EffectivePriority(qj, qj.QueuedAt)
	if err := o.queuedJobs.CreateQueuedJob(qj); err != nil {
		return nil, apierrors.NewRepository(apierrors.RepositoryOperationFailed, err)
	}

	metrics.JobsQueued.WithLabelValues(queue.ID).Inc()
	o.publisher.Publish(events.Event{Kind: events.JobQueuedEvent, Timestamp: time.Now(), Message: req.Job.ID})

	if err := o.Start(context.Background()); err != nil {
		o.logger.Error().Err(err).Msg("failed to ensure processing loop is running after submit")
	}

	return qj, nil
}

// Start ensures the processing loop's single cron-scheduled goroutine
// is running, gated by isProcessing so a concurrent Submit never spins
// up a second loop (§4.9 step 5, §9's "single-instance guard" note).
//
// The guard is a plain atomic bool reset by Stop, not by a crash
// handler: per §9's open question, re-arming after a process crash
// needs a supervised watchdog external to this type, which this
// package does not provide.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.isProcessing.CompareAndSwap(false, true) {
		return nil
	}
	_, err := o.cron.AddFunc(o.schedule, func() {
		o.tick(ctx)
	})
	if err != nil {
		o.isProcessing.Store(false)
		return err
	}
	o.cron.Start()
	return nil
}

// Stop halts the processing loop and re-arms the single-instance guard.
func (o *Orchestrator) Stop() {
	<-o.cron.Stop().Done()
	o.isProcessing.Store(false)
}

// tick is one processing-loop cycle (§4.9): fetch ready jobs, group by
// queue, and for each queue dispatch up to availableSlots entries in
// queue-discipline order.
func (o *Orchestrator) tick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ProcessingCycleDuration)

	all, err := o.queuedJobs.ListAllQueuedJobs()
	if err != nil {
		o.logger.Error().Err(err).Msg("processing loop: failed to list queued jobs")
		return
	}

	now := time.Now()
	byQueue := make(map[string][]*types.QueuedJob)
	for _, qj := range all {
		if qj.Job.Status != types.JobQueued {
			continue
		}
		qj.EffectivePriority = EffectivePriority(qj, now)
		byQueue[qj.QueueID] = append(byQueue[qj.QueueID], qj)
	}

	for queueID, entries := range byQueue {
		queue, err := o.queues.GetQueue(queueID)
		if err != nil || !queue.IsActive {
			continue
		}

		ordered := orderByDiscipline(queue.QueueType, entries)

		availableSlots := len(ordered)
		if queue.MaxConcurrentJobs != nil {
			o.mu.Lock()
			running := o.running[queueID]
			o.mu.Unlock()
			availableSlots = *queue.MaxConcurrentJobs - running
		}
		if availableSlots <= 0 {
			continue
		}
		if availableSlots > len(ordered) {
			availableSlots = len(ordered)
		}

		for _, qj := range ordered[:availableSlots] {
			o.processJob(ctx, qj)
		}
	}
}

// orderByDiscipline sorts entries per §4.9's FIFO/LIFO/PRIORITY rules.
func orderByDiscipline(queueType types.QueueType, entries []*types.QueuedJob) []*types.QueuedJob {
	ordered := make([]*types.QueuedJob, len(entries))
	copy(ordered, entries)

	switch queueType {
	case types.QueueLIFO:
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].QueuedAt.Equal(ordered[j].QueuedAt) {
				return ordered[i].Job.ID < ordered[j].Job.ID
			}
			return ordered[i].QueuedAt.After(ordered[j].QueuedAt)
		})
	case types.QueuePriority:
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].EffectivePriority != ordered[j].EffectivePriority {
				return ordered[i].EffectivePriority > ordered[j].EffectivePriority
			}
			return ordered[i].QueuedAt.Before(ordered[j].QueuedAt)
		})
	default: // FIFO
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].QueuedAt.Before(ordered[j].QueuedAt)
		})
	}
	return ordered
}

// processJob implements §4.9's per-job processing: mark SCHEDULED, ask
// the scheduler for a placement, hand off to the execution engine on
// success, or apply the retry policy on failure.
func (o *Orchestrator) processJob(ctx context.Context, qj *types.QueuedJob) {
	job := qj.Job
	job.Status = types.JobScheduled
	job.UpdatedAt = time.Now()
	if err := o.jobs.UpdateJob(job); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job SCHEDULED")
		return
	}

	pool, err := o.scheduler.FindPlacement(scheduler.PlacementRequest{
		JobID:             job.ID,
		Resources:         qj.Resources,
		RequiredLanguages: qj.RequiredLanguages,
		RequiredTools:     qj.RequiredTools,
		RequiredFeatures:  qj.RequiredFeatures,
	})
	if err != nil {
		o.handlePlacementFailure(ctx, qj, err)
		return
	}

	workerPool, err := o.workerPools.GetWorkerPoolByPool(pool.ID)
	if err != nil {
		o.handlePlacementFailure(ctx, qj, fmt.Errorf("pool %s has no worker pool configured: %w", pool.ID, err))
		return
	}

	token := ids.New()
	exec, err := o.engine.StartExecution(ctx, job, qj, pool, workerPool, token)
	if err != nil {
		o.handlePlacementFailure(ctx, qj, err)
		return
	}

	job.Status = types.JobRunning
	job.UpdatedAt = time.Now()
	job.LatestExecutionID = exec.ID
	if err := o.jobs.UpdateJob(job); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job RUNNING after hand-off")
	}
	if err := o.queuedJobs.DeleteQueuedJob(job.ID); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to remove queued-job row after hand-off")
	}

	o.mu.Lock()
	o.running[qj.QueueID]++
	o.mu.Unlock()
	o.watchForCompletion(qj.QueueID, exec.ID)

	metrics.JobsQueued.WithLabelValues(qj.QueueID).Dec()
	o.publisher.Publish(events.Event{Kind: events.JobRunningEvent, Timestamp: time.Now(), Message: job.ID})

	o.logger.Info().Str("job_id", job.ID).Str("execution_id", exec.ID).Str("pool_id", pool.ID).Msg("job handed off to execution engine")
}

// watchForCompletion subscribes internally to execID's event stream
// solely to release queueID's concurrency slot on a terminal event.
// The orchestrator does not re-enter the job's lifecycle otherwise (§3
// Ownership, §4.7): this is bookkeeping for availableSlots, not control.
func (o *Orchestrator) watchForCompletion(queueID, execID string) {
	inbox, err := o.listeners.Register(listener.Subscription{
		SubscriberID:   "orchestrator",
		ExecutionID:    execID,
		DeliveryMethod: listener.PushStream,
		IncludeEvents:  true,
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("execution_id", execID).Msg("failed to watch execution for queue concurrency release")
		return
	}
	go func() {
		for msg := range inbox {
			if msg.Event == nil {
				continue
			}
			switch msg.Event.Kind {
			case types.EventCompleted, types.EventFailed, types.EventCancelled:
				o.mu.Lock()
				if o.running[queueID] > 0 {
					o.running[queueID]--
				}
				o.mu.Unlock()
				return
			}
		}
	}()
}

// handlePlacementFailure applies §4.9's retry policy: requeue with
// attempts+1 and a fresh queuedAt if the job can retry, otherwise mark
// it permanently FAILED (§7 ProvisioningError permanence after
// maxAttempts).
func (o *Orchestrator) handlePlacementFailure(ctx context.Context, qj *types.QueuedJob, cause error) {
	job := qj.Job
	qj.Attempts++

	if qj.CanRetry() && retryable(cause) {
		qj.QueuedAt = time.Now()
		qj.EffectivePriority = EffectivePriority(qj, qj.QueuedAt)
		job.Status = types.JobQueued
		job.UpdatedAt = time.Now()
		if err := o.jobs.UpdateJob(job); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to requeue job after placement failure")
		}
		if err := o.queuedJobs.UpdateQueuedJob(qj); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist queued-job retry state")
		}
		metrics.JobsRetried.Inc()
		o.logger.Warn().Err(cause).Str("job_id", job.ID).Int("attempts", qj.Attempts).Msg("placement failed, requeued for retry")
		return
	}

	now := time.Now()
	job.Status = types.JobFailed
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := o.jobs.UpdateJob(job); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job FAILED after exhausting retries")
	}
	if err := o.queuedJobs.DeleteQueuedJob(job.ID); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to remove queued-job row for failed job")
	}

	metrics.JobsQueued.WithLabelValues(qj.QueueID).Dec()
	metrics.JobsFailed.WithLabelValues(cause.Error()).Inc()
	o.publisher.Publish(events.Event{Kind: events.JobFailedEvent, Timestamp: now, Message: fmt.Sprintf("%s: %v", job.ID, cause)})
	o.logger.Error().Err(cause).Str("job_id", job.ID).Int("attempts", qj.Attempts).Msg("job failed permanently")
}

// retryable reports whether cause should be retried per §7: a
// ProvisioningError is retried only for its Retryable() reasons;
// scheduler.ErrNoCandidatePool (no pool fits, or every fitting pool's
// quota dry-run blocked) is also retried, since capacity may free up.
// Any other error kind (NotFound, Validation) is treated as permanent.
func retryable(cause error) bool {
	if pe, ok := cause.(*apierrors.ProvisioningError); ok {
		return pe.Retryable()
	}
	return cause == scheduler.ErrNoCandidatePool
}

// Cancel cancels a QUEUED job before it is ever scheduled (§4.9 status
// transitions: QUEUED -> CANCELLED), or forwards to the Execution
// Engine if it has already been handed off (RUNNING -> CANCELLED, §4.7).
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetJob(jobID)
	if err != nil {
		return apierrors.NewNotFound("job", jobID)
	}

	switch job.Status {
	case types.JobQueued, types.JobScheduled:
		if !types.CanTransition(job.Status, types.JobCancelled) {
			return apierrors.NewValidation("status", fmt.Sprintf("cannot cancel job in status %s", job.Status))
		}
		now := time.Now()
		job.Status = types.JobCancelled
		job.CompletedAt = &now
		job.UpdatedAt = now
		if err := o.jobs.UpdateJob(job); err != nil {
			return apierrors.NewRepository(apierrors.RepositoryOperationFailed, err)
		}
		_ = o.queuedJobs.DeleteQueuedJob(jobID)
		o.publisher.Publish(events.Event{Kind: events.JobCancelledEvent, Timestamp: now, Message: jobID})
		return nil
	case types.JobRunning:
		if job.LatestExecutionID == "" {
			return apierrors.NewValidation("execution", "running job has no latest execution id")
		}
		return o.engine.Cancel(ctx, job.LatestExecutionID, 30*time.Second)
	default:
		return apierrors.NewValidation("status", fmt.Sprintf("cannot cancel job in status %s", job.Status))
	}
}
