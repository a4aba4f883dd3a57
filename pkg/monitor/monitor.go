package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/driver"
	"github.com/hodeiorg/hodei-pipelines/pkg/events"
	"github.com/hodeiorg/hodei-pipelines/pkg/log"
	"github.com/hodeiorg/hodei-pipelines/pkg/metrics"
	"github.com/hodeiorg/hodei-pipelines/pkg/storage"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultInterval is the sampling period per §4.3's "default 15-30s".
const DefaultInterval = 20 * time.Second

// DefaultCacheExpiration bounds how long a per-container sample is
// reused before the monitor re-queries the driver for it.
const DefaultCacheExpiration = 10 * time.Second

// JobCounts is the subset of queue state the monitor needs to fill out
// RunningJobs/QueuedJobs on a utilization sample; the orchestrator
// implements it against its own repositories.
type JobCounts interface {
	CountRunningJobs(poolID string) (int, error)
	CountQueuedJobs(poolID string) (int, error)
}

// Monitor is the Resource Monitor (C4): a cron-driven loop that
// samples every pool's utilization through a Driver and publishes it.
type Monitor struct {
	pools     storage.ResourcePoolRepository
	drv       driver.Driver
	jobCounts JobCounts
	publisher events.Publisher

	cache      *statsCache
	cron       *cron.Cron
	schedule   string
	logger     zerolog.Logger

	mu     sync.RWMutex
	latest map[string]types.ResourcePoolUtilization
}

// New creates a Monitor sampling at the given cron schedule (e.g.
// "@every 20s"). cacheExpiration caps per-container re-sampling.
func New(pools storage.ResourcePoolRepository, drv driver.Driver, jobCounts JobCounts, publisher events.Publisher, schedule string, cacheExpiration time.Duration) *Monitor {
	if schedule == "" {
		schedule = "@every 20s"
	}
	if cacheExpiration <= 0 {
		cacheExpiration = DefaultCacheExpiration
	}

	return &Monitor{
		pools:     pools,
		drv:       drv,
		jobCounts: jobCounts,
		publisher: publisher,
		cache:     newStatsCache(cacheExpiration),
		cron:      cron.New(),
		schedule:  schedule,
		logger:    log.WithComponent("monitor"),
		latest:    make(map[string]types.ResourcePoolUtilization),
	}
}

// Start begins the sampling loop.
func (m *Monitor) Start(ctx context.Context) error {
	_, err := m.cron.AddFunc(m.schedule, func() {
		if err := m.sampleAll(ctx); err != nil {
			m.logger.Error().Err(err).Msg("sampling cycle failed")
		}
	})
	if err != nil {
		return err
	}
	m.cron.Start()
	m.logger.Info().Str("schedule", m.schedule).Msg("resource monitor started")
	return nil
}

// Stop halts the sampling loop.
func (m *Monitor) Stop() {
	<-m.cron.Stop().Done()
}

// Sample returns the given pool's most recent utilization sample, per
// §4.3's pull-query path. Falls through to a live sample if none is
// cached yet.
func (m *Monitor) Sample(ctx context.Context, poolID string) (types.ResourcePoolUtilization, error) {
	m.mu.RLock()
	cached, ok := m.latest[poolID]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}
	return m.sample(ctx, poolID)
}

// UsedCPUMillicores implements scheduler.UtilizationSource against the
// monitor's cached samples, defaulting to 0 when no sample exists yet
// rather than forcing a live driver round trip on the admission path.
func (m *Monitor) UsedCPUMillicores(poolID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest[poolID].UsedCPUMillicores
}

func (m *Monitor) sampleAll(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MonitorCycleDuration)

	pools, err := m.pools.ListPools()
	if err != nil {
		return err
	}

	for _, pool := range pools {
		util, err := m.sample(ctx, pool.ID)
		if err != nil {
			m.logger.Error().Err(err).Str("pool_id", pool.ID).Msg("failed to sample pool")
			continue
		}
		m.mu.Lock()
		m.latest[pool.ID] = util
		m.mu.Unlock()
	}
	return nil
}

func (m *Monitor) sample(ctx context.Context, poolID string) (types.ResourcePoolUtilization, error) {
	instances, err := m.drv.List(ctx, poolID)
	if err != nil {
		return types.ResourcePoolUtilization{}, err
	}

	util := types.ResourcePoolUtilization{PoolID: poolID, Timestamp: time.Now()}
	now := time.Now()

	statsProvider, canSampleStats := m.drv.(StatsProvider)

	for _, instance := range instances {
		var stats ContainerStats
		if cached, ok := m.cache.get(instance.ID, now); ok {
			stats = cached
		} else if canSampleStats {
			sampled, err := statsProvider.Stats(ctx, instance.ID)
			if err != nil {
				continue
			}
			stats = sampled
			m.cache.put(instance.ID, stats, now)
		} else {
			continue
		}

		util.UsedCPUMillicores += int64(stats.CPUPercent * 10)
		util.UsedMemoryBytes += stats.MemoryUsedBytes
		util.TotalMemoryBytes += stats.MemoryLimitBytes
		util.UsedDiskBytes += stats.DiskUsedBytes
		util.NetworkRxBytes += stats.NetworkRxBytes
		util.NetworkTxBytes += stats.NetworkTxBytes
	}

	if m.jobCounts != nil {
		if running, err := m.jobCounts.CountRunningJobs(poolID); err == nil {
			util.RunningJobs = running
		}
		if queued, err := m.jobCounts.CountQueuedJobs(poolID); err == nil {
			util.QueuedJobs = queued
		}
	}

	return util, nil
}
