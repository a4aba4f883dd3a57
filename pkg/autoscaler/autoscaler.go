package autoscaler

import (
	"context"
	"math"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/driver"
	"github.com/hodeiorg/hodei-pipelines/pkg/log"
	"github.com/hodeiorg/hodei-pipelines/pkg/metrics"
	"github.com/hodeiorg/hodei-pipelines/pkg/storage"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/rs/zerolog"
)

// Snapshot is the queue/utilization state one decision cycle evaluates
// against a pool's ScalingPolicy.
type Snapshot struct {
	QueueLength         int
	AvgWaitTime         time.Duration
	WorkerUtilization   float64 // 0-1
	AvailableCPUMillicores int64
	AvailableMemoryBytes   int64
	AvailableNodes      int
}

// SnapshotSource supplies the queue/utilization data Decide needs for
// a pool; the orchestrator and resource monitor implement it against
// their own queue and utilization state.
type SnapshotSource interface {
	Snapshot(poolID string) (Snapshot, error)
}

// Autoscaler is the Worker Pool Autoscaler (C6).
type Autoscaler struct {
	pools     storage.WorkerPoolRepository
	drv       driver.Driver
	snapshots SnapshotSource

	logger zerolog.Logger
}

// New creates an Autoscaler.
func New(pools storage.WorkerPoolRepository, drv driver.Driver, snapshots SnapshotSource) *Autoscaler {
	return &Autoscaler{pools: pools, drv: drv, snapshots: snapshots, logger: log.WithComponent("autoscaler")}
}

// Tick runs one decision cycle for every worker pool (§4.5).
// cmd/hodei-orchestrator calls it every 30s; job submission does not
// trigger it.
func (a *Autoscaler) Tick(ctx context.Context, now time.Time) {
	pools, err := a.pools.ListWorkerPools()
	if err != nil {
		a.logger.Error().Err(err).Msg("autoscaler tick: failed to list worker pools")
		return
	}

	for _, pool := range pools {
		snap, err := a.snapshots.Snapshot(pool.PoolID)
		if err != nil {
			a.logger.Error().Err(err).Str("pool_id", pool.PoolID).Msg("failed to build snapshot")
			continue
		}

		action, err := a.Decide(ctx, pool, snap, now)
		if err != nil {
			a.logger.Error().Err(err).Str("pool_id", pool.PoolID).Msg("scale decision failed")
			continue
		}
		if action == nil {
			continue
		}

		pool.CurrentSize = action.ToSize
		pool.Scaling.LastScaleAction = action
		if err := a.pools.UpdateWorkerPool(pool); err != nil {
			a.logger.Error().Err(err).Str("pool_id", pool.PoolID).Msg("failed to persist scale action")
		}
	}
}

// ShouldScaleUp implements §4.5's shouldScaleUp gate.
func ShouldScaleUp(policy types.ScalingPolicy, currentSize int, snap Snapshot, now time.Time) bool {
	if !policy.Enabled {
		return false
	}
	if currentSize >= policy.MaxWorkers {
		return false
	}
	if inCooldown(policy.LastScaleAction, types.ScaleUp, policy.ScaleUpCooldown, now) {
		return false
	}

	thresholdMet := snap.QueueLength >= policy.ScaleUpThreshold
	if policy.WaitTimeThreshold > 0 {
		thresholdMet = thresholdMet || snap.AvgWaitTime >= policy.WaitTimeThreshold
	}
	if policy.UtilizationThreshold > 0 {
		thresholdMet = thresholdMet && snap.WorkerUtilization >= policy.UtilizationThreshold
	}
	return thresholdMet
}

// ShouldScaleDown implements §4.5's shouldScaleDown gate, symmetric
// with ShouldScaleUp.
func ShouldScaleDown(policy types.ScalingPolicy, currentSize int, snap Snapshot, now time.Time) bool {
	if !policy.Enabled {
		return false
	}
	if currentSize <= policy.MinWorkers {
		return false
	}
	if inCooldown(policy.LastScaleAction, types.ScaleDown, policy.ScaleDownCooldown, now) {
		return false
	}
	return snap.QueueLength <= policy.ScaleDownThreshold
}

func inCooldown(last *types.ScaleAction, direction types.ScaleDirection, cooldown time.Duration, now time.Time) bool {
	if last == nil || last.Direction != direction {
		return false
	}
	return now.Sub(last.Timestamp) < cooldown
}

// CalculateOptimal implements §4.5's three sizing formulas, clamped to
// [minWorkers, maxWorkers].
func CalculateOptimal(policy types.ScalingPolicy, currentSize int, snap Snapshot, workerCPUMillicores, workerMemoryBytes int64) int {
	var target int

	switch policy.Strategy {
	case types.StrategyReactive:
		target = reactiveTarget(policy, currentSize, snap)
	case types.StrategyResourceBased:
		target = resourceBasedTarget(policy, currentSize, snap, workerCPUMillicores, workerMemoryBytes)
	default: // PREDICTIVE
		target = predictiveTarget(policy, currentSize, snap)
	}

	return clamp(target, policy.MinWorkers, policy.MaxWorkers)
}

func reactiveTarget(policy types.ScalingPolicy, currentSize int, snap Snapshot) int {
	switch {
	case snap.QueueLength == 0:
		return policy.MinWorkers
	case snap.QueueLength <= 2:
		return currentSize
	case snap.AvgWaitTime > 2*time.Minute:
		return currentSize + 2
	case snap.AvgWaitTime > 30*time.Second:
		return currentSize + 1
	default:
		return currentSize
	}
}

func predictiveTarget(policy types.ScalingPolicy, currentSize int, snap Snapshot) int {
	waitSeconds := snap.AvgWaitTime.Seconds()
	delta := int(math.Floor(float64(snap.QueueLength)*0.5 + waitSeconds*0.1))
	target := currentSize + delta
	if target < policy.MinWorkers {
		target = policy.MinWorkers
	}
	return target
}

func resourceBasedTarget(policy types.ScalingPolicy, currentSize int, snap Snapshot, workerCPUMillicores, workerMemoryBytes int64) int {
	byQueue := int(math.Ceil(float64(snap.QueueLength) * 1.2))

	maxByResources := math.MaxInt32
	if workerCPUMillicores > 0 {
		maxByResources = min(maxByResources, int(snap.AvailableCPUMillicores/workerCPUMillicores))
	}
	if workerMemoryBytes > 0 {
		maxByResources = min(maxByResources, int(snap.AvailableMemoryBytes/workerMemoryBytes))
	}
	maxByResources = min(maxByResources, snap.AvailableNodes*5)

	target := min(byQueue, maxByResources)
	target = min(target, policy.MaxWorkers)
	return target
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Decide runs ShouldScaleUp/ShouldScaleDown and, if warranted,
// CalculateOptimal, materializing the result through the driver and
// recording a ScaleAction to start the next cooldown.
func (a *Autoscaler) Decide(ctx context.Context, pool *types.WorkerPool, snap Snapshot, now time.Time) (*types.ScaleAction, error) {
	policy := pool.Scaling
	currentSize := pool.CurrentSize

	var direction types.ScaleDirection
	var target int
	var terminateIDs []string

	switch {
	case ShouldScaleUp(policy, currentSize, snap, now):
		direction = types.ScaleUp
		target = CalculateOptimal(policy, currentSize, snap, pool.Template.Resources.CPUMillicores, pool.Template.Resources.MemoryBytes)
		if target <= currentSize {
			target = currentSize + 1
		}
	case ShouldScaleDown(policy, currentSize, snap, now):
		direction = types.ScaleDown
		target = CalculateOptimal(policy, currentSize, snap, pool.Template.Resources.CPUMillicores, pool.Template.Resources.MemoryBytes)
		if target >= currentSize {
			target = currentSize - 1
		}
		candidates := SelectScaleDownCandidates(pool.Workers, currentSize-target)
		terminateIDs = make([]string, len(candidates))
		for i, w := range candidates {
			terminateIDs[i] = w.InstanceID
		}
	default:
		return nil, nil
	}

	result, err := a.drv.ScaleTo(ctx, pool.PoolID, target, pool.Template, terminateIDs)
	if err != nil {
		return nil, err
	}

	action := &types.ScaleAction{
		Direction: direction,
		FromSize:  currentSize,
		ToSize:    result.Actual,
		Timestamp: now,
	}

	metrics.ScaleActions.WithLabelValues(pool.PoolID, string(direction)).Inc()
	metrics.WorkerPoolSize.WithLabelValues(pool.PoolID).Set(float64(result.Actual))

	if len(result.Failed) > 0 {
		a.logger.Warn().Int("failed_count", len(result.Failed)).Str("pool_id", pool.PoolID).
			Msg("scaleTo completed with partial failures")
	}

	return action, nil
}

// SelectScaleDownCandidates picks the first n currently READY workers,
// never BUSY, per §4.5.
func SelectScaleDownCandidates(workers []*types.Worker, n int) []*types.Worker {
	var candidates []*types.Worker
	for _, w := range workers {
		if len(candidates) >= n {
			break
		}
		if w.Status == types.WorkerReady {
			candidates = append(candidates, w)
		}
	}
	return candidates
}
