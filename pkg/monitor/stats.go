package monitor

import (
	"context"
	"time"
)

// ContainerStats is one instance's point-in-time resource sample, as
// §4.3 requires: CPU computed from cgroup deltas, memory as
// used/limit, disk from image+writable-layer size, network counters.
type ContainerStats struct {
	CPUPercent      float64
	MemoryUsedBytes int64
	MemoryLimitBytes int64
	DiskUsedBytes   int64
	NetworkRxBytes  int64
	NetworkTxBytes  int64
}

// StatsProvider is an optional capability a Driver can implement to
// expose per-instance resource stats. Instances of a driver that
// doesn't implement it contribute nothing to a pool's sample; no
// estimate from the template resources is made.
type StatsProvider interface {
	Stats(ctx context.Context, instanceID string) (ContainerStats, error)
}

type cacheEntry struct {
	stats     ContainerStats
	expiresAt time.Time
}

// statsCache caches per-container stats for cacheExpiration to cap API
// fan-out against the driver, per §4.3.
type statsCache struct {
	expiration time.Duration
	entries    map[string]cacheEntry
}

func newStatsCache(expiration time.Duration) *statsCache {
	return &statsCache{expiration: expiration, entries: make(map[string]cacheEntry)}
}

func (c *statsCache) get(instanceID string, now time.Time) (ContainerStats, bool) {
	entry, ok := c.entries[instanceID]
	if !ok || now.After(entry.expiresAt) {
		return ContainerStats{}, false
	}
	return entry.stats, true
}

func (c *statsCache) put(instanceID string, stats ContainerStats, now time.Time) {
	c.entries[instanceID] = cacheEntry{stats: stats, expiresAt: now.Add(c.expiration)}
}
