package scheduler

import (
	"fmt"
	"sort"

	"github.com/hodeiorg/hodei-pipelines/pkg/log"
	"github.com/hodeiorg/hodei-pipelines/pkg/metrics"
	"github.com/hodeiorg/hodei-pipelines/pkg/quota"
	"github.com/hodeiorg/hodei-pipelines/pkg/storage"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/rs/zerolog"
)

// PlacementRequest is what findPlacement needs to evaluate candidate
// pools: the job's declared resource shape, required capabilities and
// any label selector from its scheduling hints.
type PlacementRequest struct {
	JobID                string
	Resources            types.ResourceRequirements
	RequiredLanguages    []string
	RequiredTools        []string
	RequiredFeatures     []string
	NodeSelector         map[string]string
}

// ErrNoCandidatePool is returned when no active pool satisfies a
// placement request.
var ErrNoCandidatePool = fmt.Errorf("no resource pool satisfies the placement request")

// UtilizationSource supplies a pool's current CPU usage for the
// ranking step; pkg/monitor is the production implementation.
type UtilizationSource interface {
	UsedCPUMillicores(poolID string) int64
}

// Scheduler implements findPlacement (C7, §4.6).
type Scheduler struct {
	pools       storage.ResourcePoolRepository
	workerPools storage.WorkerPoolRepository
	quotaEngine *quota.Engine
	utilization UtilizationSource

	logger zerolog.Logger
}

// New creates a Scheduler.
func New(pools storage.ResourcePoolRepository, workerPools storage.WorkerPoolRepository, quotaEngine *quota.Engine, utilization UtilizationSource) *Scheduler {
	return &Scheduler{pools: pools, workerPools: workerPools, quotaEngine: quotaEngine, utilization: utilization, logger: log.WithComponent("scheduler")}
}

type candidate struct {
	pool               *types.ResourcePool
	utilizationAfter   float64
	freeCapacityAfter  int64
	costWeight         float64
}

// FindPlacement implements §4.6: filter active pools to those
// satisfying capability/label/resource match and a dry-run quota
// check, then rank by (1) smallest projected utilization, (2) highest
// free capacity, (3) lowest cost weight, (4) lexicographic pool id.
func (s *Scheduler) FindPlacement(req PlacementRequest) (*types.ResourcePool, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	pools, err := s.pools.ListPools()
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, pool := range pools {
		if pool.Status != types.PoolActive {
			continue
		}

		wp, err := s.workerPools.GetWorkerPoolByPool(pool.ID)
		if err != nil {
			continue // pool has no worker pool configured yet: not schedulable
		}

		if !capabilitiesSatisfy(wp.Template.Capabilities, req) {
			continue
		}
		if !labelsMatch(wp.Template.Labels, req.NodeSelector) {
			continue
		}
		if !resourcesFit(pool.Capacity, req.Resources) {
			continue
		}

		if s.quotaEngine != nil {
			result, err := s.quotaEngine.DryRunCheck(pool.ID, quota.Request{
				CPUCores:  float64(req.Resources.CPUMillicores) / 1000.0,
				MemoryGB:  float64(req.Resources.MemoryBytes) / (1 << 30),
				Jobs:      1,
			})
			if err != nil {
				s.logger.Error().Err(err).Str("pool_id", pool.ID).Msg("dry-run quota check failed")
				continue
			}
			if result.Decision == quota.Block {
				continue
			}
		}

		var usedCPU int64
		if s.utilization != nil {
			usedCPU = s.utilization.UsedCPUMillicores(pool.ID)
		}

		candidates = append(candidates, candidate{
			pool:              pool,
			utilizationAfter:  projectedUtilization(pool.Capacity, usedCPU, req.Resources),
			freeCapacityAfter: freeCapacity(pool.Capacity, usedCPU, req.Resources),
			costWeight:        poolCostWeight(wp.Template),
		})
	}

	if len(candidates) == 0 {
		return nil, ErrNoCandidatePool
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.utilizationAfter != b.utilizationAfter {
			return a.utilizationAfter < b.utilizationAfter
		}
		if a.freeCapacityAfter != b.freeCapacityAfter {
			return a.freeCapacityAfter > b.freeCapacityAfter
		}
		if a.costWeight != b.costWeight {
			return a.costWeight < b.costWeight
		}
		return a.pool.ID < b.pool.ID
	})

	metrics.JobsScheduled.Inc()
	return candidates[0].pool, nil
}

func capabilitiesSatisfy(have types.Capabilities, req PlacementRequest) bool {
	return containsAll(have.Languages, req.RequiredLanguages) &&
		containsAll(have.Tools, req.RequiredTools) &&
		containsAll(have.Features, req.RequiredFeatures)
}

func containsAll(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

func labelsMatch(have, selector map[string]string) bool {
	for k, v := range selector {
		if have[k] != v {
			return false
		}
	}
	return true
}

func resourcesFit(capacity types.Capacity, req types.ResourceRequirements) bool {
	if req.CPUMillicores > 0 && req.CPUMillicores > capacity.TotalCPUMillicores {
		return false
	}
	if req.MemoryBytes > 0 && req.MemoryBytes > capacity.TotalMemoryBytes {
		return false
	}
	return true
}

func projectedUtilization(capacity types.Capacity, usedCPU int64, req types.ResourceRequirements) float64 {
	if capacity.TotalCPUMillicores == 0 {
		return 0
	}
	projected := usedCPU + req.CPUMillicores
	return float64(projected) / float64(capacity.TotalCPUMillicores)
}

func freeCapacity(capacity types.Capacity, usedCPU int64, req types.ResourceRequirements) int64 {
	return capacity.TotalCPUMillicores - usedCPU - req.CPUMillicores
}

func poolCostWeight(template types.WorkerTemplate) float64 {
	for _, tier := range types.StandardInstanceTypes() {
		if tier.CPUMillicores == template.Resources.CPUMillicores {
			return tier.CostWeight
		}
	}
	return 1.0
}
