package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/apierrors"
	"github.com/hodeiorg/hodei-pipelines/pkg/artifact"
	"github.com/hodeiorg/hodei-pipelines/pkg/driver"
	"github.com/hodeiorg/hodei-pipelines/pkg/ids"
	"github.com/hodeiorg/hodei-pipelines/pkg/listener"
	"github.com/hodeiorg/hodei-pipelines/pkg/log"
	"github.com/hodeiorg/hodei-pipelines/pkg/metrics"
	"github.com/hodeiorg/hodei-pipelines/pkg/quota"
	"github.com/hodeiorg/hodei-pipelines/pkg/storage"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/hodeiorg/hodei-pipelines/pkg/wire"
	"github.com/rs/zerolog"
)

// waitTimeout bounds how long SendArtifact waits for a cache response
// or final ack before giving up on an unresponsive worker.
const waitTimeout = 2 * time.Minute

// dispatch is a job waiting for its provisioned worker to connect.
type dispatch struct {
	execution *types.Execution
	request   *wire.JobRequest
}

// activeExecution is the bookkeeping the Engine keeps for one
// in-flight execution, enough to release its quota reservation and
// tear down its instance on completion (§4.7).
type activeExecution struct {
	execution  *types.Execution
	workerID   string
	instanceID string
	poolID     string
	cpuCores   float64
	memoryGB   float64
	storageGB  float64
}

// Engine is the Execution Engine (C8): once StartExecution hands a job
// off, it owns that execution exclusively until a terminal state, per
// §3 Ownership. Grounded on the teacher's pkg/worker/health_monitor.go
// per-entity background bookkeeping and pkg/api/server.go's streaming
// handler shape for the event/log fan-out.
type Engine struct {
	executions storage.ExecutionRepository
	artifacts  storage.ArtifactRepository
	drv        driver.Driver
	quotaEngine *quota.Engine
	listeners  *listener.Registry
	hub        *Hub

	orchestratorHost string
	orchestratorPort int

	mu          sync.Mutex
	pending     map[string]*dispatch         // workerID -> not-yet-connected dispatch
	active      map[string]*activeExecution  // executionID -> live bookkeeping
	workerExec  map[string]string            // workerID -> executionID

	cacheWaiters map[string]chan *wire.ArtifactCacheResponse // workerID -> waiter
	ackWaiters   map[string]chan *wire.ArtifactAck           // workerID:artifactID -> waiter

	downloads map[string]*inboundDownload // workerID:artifactID -> in-progress upload from worker

	logger zerolog.Logger
}

// New constructs an Engine. SetHub must be called once the Hub exists,
// since Hub and Engine reference each other.
func New(executions storage.ExecutionRepository, artifacts storage.ArtifactRepository, drv driver.Driver, quotaEngine *quota.Engine, listeners *listener.Registry, orchestratorHost string, orchestratorPort int) *Engine {
	return &Engine{
		executions:       executions,
		artifacts:        artifacts,
		drv:              drv,
		quotaEngine:      quotaEngine,
		listeners:        listeners,
		orchestratorHost: orchestratorHost,
		orchestratorPort: orchestratorPort,
		pending:          make(map[string]*dispatch),
		active:           make(map[string]*activeExecution),
		workerExec:       make(map[string]string),
		cacheWaiters:     make(map[string]chan *wire.ArtifactCacheResponse),
		ackWaiters:       make(map[string]chan *wire.ArtifactAck),
		downloads:        make(map[string]*inboundDownload),
		logger:           log.WithComponent("execution.engine"),
	}
}

// SetHub wires the Hub this Engine dispatches jobs and artifacts
// through.
func (e *Engine) SetHub(h *Hub) {
	e.hub = h
}

// StartExecution provisions a fresh compute instance for job, persists
// the Execution row, and parks the job definition to be dispatched the
// moment the provisioned worker connects (§4.7). The orchestrator does
// not re-enter the job after this call returns.
func (e *Engine) StartExecution(ctx context.Context, job *types.Job, queuedJob *types.QueuedJob, pool *types.ResourcePool, workerPool *types.WorkerPool, orchestratorToken string) (*types.Execution, error) {
	workerID := ids.New()

	timer := metrics.NewTimer()
	instanceID, err := e.drv.Provision(ctx, driver.InstanceSpec{
		WorkerID:         workerID,
		PoolID:           pool.ID,
		Template:         workerPool.Template,
		OrchestratorHost: e.orchestratorHost,
		OrchestratorPort: e.orchestratorPort,
		AuthToken:        orchestratorToken,
	})
	timer.ObserveDuration(metrics.ProvisioningDuration)
	if err != nil {
		if pe, ok := err.(*apierrors.ProvisioningError); ok {
			metrics.ProvisioningFailures.WithLabelValues(string(pe.Reason)).Inc()
		}
		return nil, fmt.Errorf("provisioning worker for job %s: %w", job.ID, err)
	}

	exec := &types.Execution{
		ID:        ids.New(),
		JobID:     job.ID,
		WorkerID:  workerID,
		PoolID:    pool.ID,
		State:     types.ExecutionPending,
		StartedAt: time.Now(),
	}
	if err := e.executions.CreateExecution(exec); err != nil {
		_ = e.drv.Terminate(ctx, instanceID, 0)
		return nil, fmt.Errorf("persisting execution: %w", err)
	}

	cpuCores := float64(queuedJob.Resources.CPUMillicores) / 1000
	memoryGB := float64(queuedJob.Resources.MemoryBytes) / (1 << 30)
	var storageGB float64
	if queuedJob.Resources.Storage != "" {
		if bytes, err := ids.ParseMemoryBytes(queuedJob.Resources.Storage); err == nil {
			storageGB = float64(bytes) / (1 << 30)
		}
	}
	if err := e.quotaEngine.AddJob(pool.ID, cpuCores, memoryGB, storageGB); err != nil {
		e.logger.Warn().Err(err).Str("pool_id", pool.ID).Msg("quota usage accounting failed on execution start")
	}

	env := make([]string, 0, len(workerPool.Template.Env)+len(job.Definition.InlineEnv))
	env = append(env, workerPool.Template.Env...)
	env = append(env, job.Definition.InlineEnv...)

	req := &wire.JobRequest{Definition: wire.JobDefinition{
		JobID:       job.ID,
		ExecutionID: exec.ID,
		Image:       workerPool.Template.Image,
		CommandLine: commandLineFor(job),
		Env:         env,
		ArtifactIDs: queuedJob.Dependencies,
	}}

	e.mu.Lock()
	e.pending[workerID] = &dispatch{execution: exec, request: req}
	e.active[exec.ID] = &activeExecution{
		execution:  exec,
		workerID:   workerID,
		instanceID: instanceID,
		poolID:     pool.ID,
		cpuCores:   cpuCores,
		memoryGB:   memoryGB,
		storageGB:  storageGB,
	}
	e.workerExec[workerID] = exec.ID
	e.mu.Unlock()

	metrics.ExecutionsStarted.Inc()
	e.listeners.NotifyEvent(ctx, types.ExecutionEvent{ExecutionID: exec.ID, Kind: types.EventStarted, Timestamp: time.Now()})

	return exec, nil
}

// commandLineFor extracts the inline/template job definition into the
// command-line form the worker agent executes; the step DSL that would
// interpret a richer definition is an explicit Non-goal (§1).
func commandLineFor(job *types.Job) []string {
	return job.Definition.InlineCommand
}

// onWorkerConnected dispatches a parked job the moment its provisioned
// worker's session comes up.
func (e *Engine) onWorkerConnected(workerID string) {
	e.mu.Lock()
	d, ok := e.pending[workerID]
	if ok {
		delete(e.pending, workerID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	if err := e.hub.Send(workerID, &wire.ServerMessage{JobRequest: d.request}); err != nil {
		e.logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to dispatch job to newly connected worker")
	}
}

// handleClientMessage routes one inbound message from workerID's
// session to the right handler.
func (e *Engine) handleClientMessage(ctx context.Context, workerID string, msg *wire.ClientMessage) {
	switch {
	case msg.Heartbeat != nil:
		e.logger.Debug().Str("worker_id", workerID).Str("status", msg.Heartbeat.Status).Msg("heartbeat")
	case msg.Output != nil:
		e.handleOutput(ctx, workerID, msg.Output)
	case msg.ArtifactChunk != nil:
		e.handleInboundChunk(workerID, msg.ArtifactChunk)
	case msg.ArtifactAck != nil:
		e.deliverAck(workerID, msg.ArtifactAck)
	case msg.ArtifactCacheResponse != nil:
		e.deliverCacheResponse(workerID, msg.ArtifactCacheResponse)
	}
}

func (e *Engine) handleOutput(ctx context.Context, workerID string, out *wire.JobOutputAndStatus) {
	e.mu.Lock()
	execID, ok := e.workerExec[workerID]
	e.mu.Unlock()
	if !ok {
		return
	}

	if out.OutputChunk != nil {
		c := out.OutputChunk
		stream := "stdout"
		if c.IsStderr {
			stream = "stderr"
		}
		e.listeners.NotifyLog(ctx, types.LogLine{ExecutionID: execID, Timestamp: c.Timestamp, Stream: stream, Data: c.Data})
		e.listeners.NotifyEvent(ctx, types.ExecutionEvent{ExecutionID: execID, Kind: types.EventOutputReceived, Timestamp: c.Timestamp, Chunk: c.Data, IsStderr: c.IsStderr})
	}
	if out.StatusUpdate != nil {
		e.applyStatus(ctx, workerID, execID, out.StatusUpdate)
	}
}

// applyStatus maps a wire status update onto the execution's lifecycle
// (§6 bijective mapping) and, for a terminal state, releases the
// execution's quota reservation, tears down its instance and cleans up
// its subscriptions (§4.7).
func (e *Engine) applyStatus(ctx context.Context, workerID, execID string, update *wire.StatusUpdate) {
	e.mu.Lock()
	active, ok := e.active[execID]
	e.mu.Unlock()
	if !ok {
		return
	}

	now := time.Now()
	state, terminal := mapWireStatus(update.Status)
	active.execution.State = state
	if update.ExitCode != nil {
		v := int(*update.ExitCode)
		active.execution.ExitCode = &v
	}
	active.execution.FailureReason = update.FailureReason

	var eventKind types.EventKind
	switch state {
	case types.ExecutionSucceeded:
		eventKind = types.EventCompleted
	case types.ExecutionFailed:
		eventKind = types.EventFailed
		metrics.JobsFailed.WithLabelValues(update.FailureReason).Inc()
	case types.ExecutionCancelled:
		eventKind = types.EventCancelled
	default:
		eventKind = types.EventStatusChanged
	}

	if terminal {
		active.execution.EndedAt = &now
	}
	if err := e.executions.UpdateExecution(active.execution); err != nil {
		e.logger.Error().Err(err).Str("execution_id", execID).Msg("failed to persist execution status")
	}

	e.listeners.NotifyEvent(ctx, types.ExecutionEvent{
		ExecutionID:   execID,
		Kind:          eventKind,
		Timestamp:     now,
		NewState:      state,
		ExitCode:      active.execution.ExitCode,
		FailureReason: active.execution.FailureReason,
	})

	if !terminal {
		return
	}

	metrics.ExecutionDuration.Observe(now.Sub(active.execution.StartedAt).Seconds())
	if err := e.quotaEngine.RemoveJob(active.poolID, active.cpuCores, active.memoryGB, active.storageGB); err != nil {
		e.logger.Warn().Err(err).Str("pool_id", active.poolID).Msg("quota usage release failed on execution completion")
	}
	if err := e.drv.Terminate(ctx, active.instanceID, 30*time.Second); err != nil {
		e.logger.Warn().Err(err).Str("instance_id", active.instanceID).Msg("failed to terminate worker instance")
	}
	e.listeners.CleanupExecution(execID)

	e.mu.Lock()
	delete(e.active, execID)
	delete(e.workerExec, workerID)
	delete(e.cacheWaiters, workerID)
	e.mu.Unlock()
}

func mapWireStatus(s wire.JobStatus) (state types.ExecutionState, terminal bool) {
	switch s {
	case wire.StatusRunning:
		return types.ExecutionRunning, false
	case wire.StatusSuccess:
		return types.ExecutionSucceeded, true
	case wire.StatusFailed:
		return types.ExecutionFailed, true
	case wire.StatusCancelled:
		return types.ExecutionCancelled, true
	default:
		return types.ExecutionPending, false
	}
}

// Cancel signals the worker running execID to stop gracefully, then
// forcibly terminates its instance once grace elapses if it hasn't
// already reached a terminal state (§4.7).
func (e *Engine) Cancel(ctx context.Context, execID string, grace time.Duration) error {
	e.mu.Lock()
	active, ok := e.active[execID]
	e.mu.Unlock()
	if !ok {
		return apierrors.NewNotFound("execution", execID)
	}

	_ = e.hub.Send(active.workerID, &wire.ServerMessage{Control: &wire.ControlSignal{ExecutionID: execID, Type: wire.ControlCancel}})

	go func() {
		time.Sleep(grace)
		e.mu.Lock()
		still, stillActive := e.active[execID]
		e.mu.Unlock()
		if !stillActive {
			return
		}
		if err := e.drv.Terminate(ctx, still.instanceID, 0); err != nil {
			e.logger.Warn().Err(err).Str("execution_id", execID).Msg("failed to force-terminate cancelled execution")
		}
		now := time.Now()
		still.execution.State = types.ExecutionCancelled
		still.execution.EndedAt = &now
		_ = e.executions.UpdateExecution(still.execution)
		e.listeners.NotifyEvent(ctx, types.ExecutionEvent{ExecutionID: execID, Kind: types.EventCancelled, Timestamp: now, NewState: types.ExecutionCancelled})
		_ = e.quotaEngine.RemoveJob(still.poolID, still.cpuCores, still.memoryGB, still.storageGB)
		e.listeners.CleanupExecution(execID)

		e.mu.Lock()
		delete(e.active, execID)
		delete(e.workerExec, still.workerID)
		e.mu.Unlock()
	}()

	return nil
}

// --- Artifact transfer (C3), orchestrator side ---

// inboundDownload accumulates an artifact streaming from worker to
// orchestrator (produced output, e.g. test reports), mirroring the
// worker-side cache's accumulate-then-finalize shape (pkg/artifact.Cache).
type inboundDownload struct {
	mu          sync.Mutex
	chunks      map[int64][]byte
	compression types.Compression
	total       int64
}

func downloadKey(workerID, artifactID string) string { return workerID + ":" + artifactID }

func (e *Engine) handleInboundChunk(workerID string, chunk *wire.ArtifactChunk) {
	key := downloadKey(workerID, chunk.ArtifactID)

	e.mu.Lock()
	dl, ok := e.downloads[key]
	if !ok {
		dl = &inboundDownload{
			chunks:      make(map[int64][]byte),
			compression: types.Compression(chunk.Compression),
			total:       chunk.OriginalSize,
		}
		e.downloads[key] = dl
	}
	e.mu.Unlock()

	dl.mu.Lock()
	dl.chunks[chunk.Sequence] = chunk.Data
	isLast := chunk.IsLast
	var assembled []byte
	if isLast {
		assembled = assembleChunks(dl.chunks)
	}
	compression := dl.compression
	dl.mu.Unlock()

	if !isLast {
		return
	}

	e.mu.Lock()
	delete(e.downloads, key)
	e.mu.Unlock()

	decompressed, err := artifact.Decompress(assembled, compression)
	if err != nil {
		e.logger.Warn().Err(err).Str("artifact_id", chunk.ArtifactID).Str("worker_id", workerID).Msg("failed to decompress artifact uploaded by worker")
		return
	}

	sum := sha256.Sum256(decompressed)
	info := &types.ArtifactInfo{
		ArtifactID: chunk.ArtifactID,
		Cached:     true,
		Checksum:   hex.EncodeToString(sum[:]),
		TotalSize:  int64(len(decompressed)),
	}
	if err := e.artifacts.PutArtifactInfo(info); err != nil {
		e.logger.Error().Err(err).Str("artifact_id", chunk.ArtifactID).Msg("failed to persist uploaded artifact metadata")
	}
}

func assembleChunks(chunks map[int64][]byte) []byte {
	var seqs []int64
	for s := range chunks {
		seqs = append(seqs, s)
	}
	for i := 0; i < len(seqs); i++ {
		for j := i + 1; j < len(seqs); j++ {
			if seqs[j] < seqs[i] {
				seqs[i], seqs[j] = seqs[j], seqs[i]
			}
		}
	}
	var out []byte
	for _, s := range seqs {
		out = append(out, chunks[s]...)
	}
	return out
}

func (e *Engine) deliverAck(workerID string, ack *wire.ArtifactAck) {
	key := downloadKey(workerID, ack.ArtifactID)
	e.mu.Lock()
	ch, ok := e.ackWaiters[key]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

func (e *Engine) deliverCacheResponse(workerID string, resp *wire.ArtifactCacheResponse) {
	e.mu.Lock()
	ch, ok := e.cacheWaiters[workerID]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// SendArtifact transfers payload to workerID as artifactID, skipping
// the transfer entirely on a cache hit and aborting if the worker's
// final checksum disagrees with the sender's expected checksum (§4.2
// integrity invariant).
func (e *Engine) SendArtifact(ctx context.Context, workerID, artifactID string, payload []byte, compression types.Compression) error {
	sum := sha256.Sum256(payload)
	expected := hex.EncodeToString(sum[:])

	cacheCh := make(chan *wire.ArtifactCacheResponse, 1)
	e.mu.Lock()
	e.cacheWaiters[workerID] = cacheCh
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cacheWaiters, workerID)
		e.mu.Unlock()
	}()

	if err := e.hub.Send(workerID, &wire.ServerMessage{ArtifactCacheQuery: &wire.ArtifactCacheQuery{ArtifactIDs: []string{artifactID}}}); err != nil {
		return err
	}

	select {
	case resp := <-cacheCh:
		for _, info := range resp.ArtifactInfos {
			if info.ArtifactID == artifactID && info.Cached && info.Checksum == expected {
				metrics.ArtifactCacheHits.Inc()
				return nil
			}
		}
	case <-time.After(waitTimeout):
		return fmt.Errorf("timed out waiting for cache response from worker %s", workerID)
	case <-ctx.Done():
		return ctx.Err()
	}

	compressed, err := artifact.Compress(payload, compression)
	if err != nil {
		return fmt.Errorf("compressing artifact %s: %w", artifactID, err)
	}
	plan := artifact.Plan(artifactID, compressed, int64(len(payload)), compression, artifact.DefaultChunkSize)
	windows := artifact.Window(plan, artifact.DefaultWindowSize)

	ackKey := downloadKey(workerID, artifactID)
	ackCh := make(chan *wire.ArtifactAck, 1)
	e.mu.Lock()
	e.ackWaiters[ackKey] = ackCh
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.ackWaiters, ackKey)
		e.mu.Unlock()
	}()

	for _, window := range windows {
		for _, spec := range window {
			msg := &wire.ServerMessage{ArtifactChunk: &wire.ArtifactChunk{
				ArtifactID:   artifactID,
				Sequence:     spec.Sequence,
				Data:         spec.Data,
				IsLast:       spec.IsLast,
				Compression:  string(spec.Compression),
				OriginalSize: spec.OriginalSize,
			}}
			if err := e.hub.Send(workerID, msg); err != nil {
				return fmt.Errorf("sending chunk %d of artifact %s: %w", spec.Sequence, artifactID, err)
			}
			metrics.ArtifactChunksSent.Inc()
		}
	}

	select {
	case ack := <-ackCh:
		if !ack.Success || ack.CalculatedChecksum != expected {
			return fmt.Errorf("artifact %s checksum mismatch: expected %s got %s", artifactID, expected, ack.CalculatedChecksum)
		}
		metrics.ArtifactBytesTransferred.Add(float64(len(payload)))
		return nil
	case <-time.After(waitTimeout):
		return fmt.Errorf("timed out waiting for ack of artifact %s from worker %s", artifactID, workerID)
	case <-ctx.Done():
		return ctx.Err()
	}
}
