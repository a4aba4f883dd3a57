package quota

import (
	"fmt"
	"sync"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/apierrors"
	"github.com/hodeiorg/hodei-pipelines/pkg/ids"
	"github.com/hodeiorg/hodei-pipelines/pkg/log"
	"github.com/hodeiorg/hodei-pipelines/pkg/metrics"
	"github.com/hodeiorg/hodei-pipelines/pkg/storage"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/rs/zerolog"
)

// Decision is the admission outcome check() returns.
type Decision string

const (
	Allow             Decision = "ALLOW"
	AllowWithWarning  Decision = "ALLOW_WITH_WARNING"
	Block             Decision = "BLOCK"
)

// Request is the projected resource delta an admission check evaluates
// against a pool's current usage.
type Request struct {
	CPUCores  float64
	MemoryGB  float64
	StorageGB float64
	Jobs      int
	Workers   int
}

// Result is the outcome of a Check call: the decision plus any
// warnings/violations it recorded.
type Result struct {
	Decision   Decision
	Warnings   []string
	Violations []*types.QuotaViolation
}

// Engine is the Quota Engine (C5).
type Engine struct {
	quotas     storage.QuotaRepository
	usage      storage.UsageRepository
	violations storage.ViolationRepository

	mu     sync.Mutex // serializes usage read-modify-write per process
	logger zerolog.Logger
}

// New creates an Engine.
func New(quotas storage.QuotaRepository, usage storage.UsageRepository, violations storage.ViolationRepository) *Engine {
	return &Engine{
		quotas:     quotas,
		usage:      usage,
		violations: violations,
		logger:     log.WithComponent("quota"),
	}
}

type projected struct {
	resource  string
	attempted float64
	limit     float64
}

// Check implements §4.4's admission decision. context is free-form
// metadata attached to any violation this call records (e.g. job id,
// submitted by).
func (e *Engine) Check(poolID string, req Request, context map[string]string) (Result, error) {
	return e.check(poolID, req, context, false)
}

// DryRunCheck evaluates the same decision as Check without persisting
// any violation, for the scheduler's placement-candidate filtering
// (§4.6) where a rejected pool must not leave an audit trail.
func (e *Engine) DryRunCheck(poolID string, req Request) (Result, error) {
	return e.check(poolID, req, nil, true)
}

func (e *Engine) check(poolID string, req Request, context map[string]string, dryRun bool) (Result, error) {
	quotaCfg, err := e.quotas.GetQuotaByPool(poolID)
	if err != nil {
		if _, ok := err.(*apierrors.NotFoundError); ok {
			return Result{Decision: Allow}, nil
		}
		return Result{}, err
	}
	if !quotaCfg.Enabled {
		return Result{Decision: Allow}, nil
	}

	usage, err := e.usage.GetUsage(poolID)
	if err != nil {
		return Result{}, err
	}

	projections := []projected{
		{"cpu", usage.UsedCPUCores + req.CPUCores, quotaCfg.Limits.MaxCPUCores},
		{"memory", usage.UsedMemoryGB + req.MemoryGB, quotaCfg.Limits.MaxMemoryGB},
		{"storage", usage.UsedStorageGB + req.StorageGB, quotaCfg.Limits.MaxStorageGB},
		{"concurrentJobs", float64(usage.ActiveJobs + req.Jobs), float64(quotaCfg.Limits.MaxConcurrentJobs)},
		{"concurrentWorkers", float64(usage.ActiveWorkers + req.Workers), float64(quotaCfg.Limits.MaxConcurrentWorkers)},
	}

	var violatedResources []projected
	var warnings []string

	for _, p := range projections {
		if p.limit <= 0 {
			continue // unset limit: resource is unbounded
		}
		if p.attempted > p.limit {
			violatedResources = append(violatedResources, p)
			continue
		}
		threshold, ok := quotaCfg.AlertThresholds[p.resource]
		if ok && p.limit > 0 && (p.attempted/p.limit)*100 >= threshold {
			warnings = append(warnings, fmt.Sprintf("%s projected at %.1f%% of limit", p.resource, (p.attempted/p.limit)*100))
		}
	}

	result := Result{Warnings: warnings}

	switch {
	case len(violatedResources) > 0 && quotaCfg.Policy == types.PolicyHard:
		result.Decision = Block
		for _, v := range violatedResources {
			if dryRun {
				continue
			}
			violation := e.recordViolation(quotaCfg, v, types.ActionBlocked, context)
			result.Violations = append(result.Violations, violation)
		}
		metrics.QuotaChecks.WithLabelValues(poolID, string(Block)).Inc()
	case len(violatedResources) > 0 && quotaCfg.Policy == types.PolicySoft:
		result.Decision = AllowWithWarning
		for _, v := range violatedResources {
			if dryRun {
				continue
			}
			violation := e.recordViolation(quotaCfg, v, types.ActionAllowedWithWarning, context)
			result.Violations = append(result.Violations, violation)
		}
		metrics.QuotaChecks.WithLabelValues(poolID, string(AllowWithWarning)).Inc()
	case len(violatedResources) > 0: // ADVISORY: surface but never block
		result.Decision = Allow
		for _, v := range violatedResources {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s exceeds limit (advisory)", v.resource))
		}
		metrics.QuotaChecks.WithLabelValues(poolID, string(Allow)).Inc()
	case len(warnings) > 0:
		result.Decision = AllowWithWarning
		metrics.QuotaChecks.WithLabelValues(poolID, string(AllowWithWarning)).Inc()
	default:
		result.Decision = Allow
		metrics.QuotaChecks.WithLabelValues(poolID, string(Allow)).Inc()
	}

	return result, nil
}

func (e *Engine) recordViolation(quotaCfg *types.ResourceQuota, p projected, action types.ViolationAction, context map[string]string) *types.QuotaViolation {
	excessRatio := 0.0
	if p.limit > 0 {
		excessRatio = p.attempted/p.limit - 1
	}

	violation := &types.QuotaViolation{
		ID:        ids.New(),
		PoolID:    quotaCfg.PoolID,
		QuotaID:   quotaCfg.ID,
		Resource:  p.resource,
		Limit:     p.limit,
		Attempted: p.attempted,
		Severity:  types.SeverityForExcess(excessRatio),
		Action:    action,
		Context:   context,
		Timestamp: time.Now(),
	}

	if err := e.violations.CreateViolation(violation); err != nil {
		e.logger.Error().Err(err).Str("pool_id", quotaCfg.PoolID).Msg("failed to persist quota violation")
	}
	metrics.QuotaViolations.WithLabelValues(quotaCfg.PoolID, string(violation.Severity)).Inc()

	return violation
}

// Resolve implements the violation lifecycle's resolve(id, resolvedBy).
func (e *Engine) Resolve(violationID, resolvedBy string) error {
	violation, err := e.violations.GetViolation(violationID)
	if err != nil {
		return err
	}
	now := time.Now()
	violation.Resolved = true
	violation.ResolvedBy = resolvedBy
	violation.ResolvedAt = &now
	return e.violations.UpdateViolation(violation)
}

func (e *Engine) mutateUsage(poolID string, fn func(u *types.ResourceUsage)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	usage, err := e.usage.GetUsage(poolID)
	if err != nil {
		return err
	}
	fn(usage)
	return e.usage.SaveUsage(usage)
}

// AddJob applies a job's resource footprint to a pool's usage row.
func (e *Engine) AddJob(poolID string, cpuCores, memoryGB, storageGB float64) error {
	return e.mutateUsage(poolID, func(u *types.ResourceUsage) {
		u.UsedCPUCores += cpuCores
		u.UsedMemoryGB += memoryGB
		u.UsedStorageGB += storageGB
		u.ActiveJobs++
	})
}

// RemoveJob reverses AddJob, clamping at zero.
func (e *Engine) RemoveJob(poolID string, cpuCores, memoryGB, storageGB float64) error {
	return e.mutateUsage(poolID, func(u *types.ResourceUsage) {
		u.UsedCPUCores = clampNonNegative(u.UsedCPUCores - cpuCores)
		u.UsedMemoryGB = clampNonNegative(u.UsedMemoryGB - memoryGB)
		u.UsedStorageGB = clampNonNegative(u.UsedStorageGB - storageGB)
		u.ActiveJobs = clampNonNegativeInt(u.ActiveJobs - 1)
	})
}

// AddWorker increments a pool's active worker count.
func (e *Engine) AddWorker(poolID string) error {
	return e.mutateUsage(poolID, func(u *types.ResourceUsage) {
		u.ActiveWorkers++
	})
}

// RemoveWorker decrements a pool's active worker count, clamping at zero.
func (e *Engine) RemoveWorker(poolID string) error {
	return e.mutateUsage(poolID, func(u *types.ResourceUsage) {
		u.ActiveWorkers = clampNonNegativeInt(u.ActiveWorkers - 1)
	})
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampNonNegativeInt(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
