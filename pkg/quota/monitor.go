package quota

import (
	"context"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/events"
	"github.com/hodeiorg/hodei-pipelines/pkg/ids"
	"github.com/hodeiorg/hodei-pipelines/pkg/metrics"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/robfig/cron/v3"
)

// MonitorLoop is the quota engine's background scanner (§4.4): checks
// every enabled quota against its pool's current (not projected) usage
// at a fixed schedule, publishing ResourceAlert on threshold crossings
// and a NOTIFICATION_SENT QuotaViolation on actual exceedances.
type MonitorLoop struct {
	engine    *Engine
	publisher events.Publisher
	cron      *cron.Cron
	schedule  string
}

// NewMonitorLoop creates a MonitorLoop on the given cron schedule (e.g.
// "@every 30s").
func NewMonitorLoop(engine *Engine, publisher events.Publisher, schedule string) *MonitorLoop {
	if schedule == "" {
		schedule = "@every 30s"
	}
	return &MonitorLoop{engine: engine, publisher: publisher, cron: cron.New(), schedule: schedule}
}

// Start begins the scan loop.
func (m *MonitorLoop) Start(ctx context.Context) error {
	_, err := m.cron.AddFunc(m.schedule, func() {
		m.scan(ctx)
	})
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// Stop cancels all scheduled tasks and halts the loop. Per §4.4,
// shutdown also closes the alert and violation broadcast streams —
// those are the caller's events.Broker, stopped separately so the
// monitor loop doesn't own the broker's lifecycle.
func (m *MonitorLoop) Stop() {
	<-m.cron.Stop().Done()
}

func (m *MonitorLoop) scan(ctx context.Context) {
	quotas, err := m.engine.quotas.ListQuotas()
	if err != nil {
		m.engine.logger.Error().Err(err).Msg("quota scan: failed to list quotas")
		return
	}

	for _, q := range quotas {
		if !q.Enabled {
			continue
		}
		m.scanQuota(q)
	}
}

func (m *MonitorLoop) scanQuota(q *types.ResourceQuota) {
	usage, err := m.engine.usage.GetUsage(q.PoolID)
	if err != nil {
		return
	}

	checks := []projected{
		{"cpu", usage.UsedCPUCores, q.Limits.MaxCPUCores},
		{"memory", usage.UsedMemoryGB, q.Limits.MaxMemoryGB},
		{"storage", usage.UsedStorageGB, q.Limits.MaxStorageGB},
		{"concurrentJobs", float64(usage.ActiveJobs), float64(q.Limits.MaxConcurrentJobs)},
		{"concurrentWorkers", float64(usage.ActiveWorkers), float64(q.Limits.MaxConcurrentWorkers)},
	}

	for _, c := range checks {
		if c.limit <= 0 {
			continue
		}
		metrics.ResourceUsagePct.WithLabelValues(q.PoolID, c.resource).Set(c.attempted / c.limit)

		if c.attempted > c.limit {
			m.publishViolation(q, c)
			continue
		}
		threshold, ok := q.AlertThresholds[c.resource]
		if ok && (c.attempted/c.limit)*100 >= threshold {
			m.publishAlert(q, c, threshold)
		}
	}
}

func (m *MonitorLoop) publishAlert(q *types.ResourceQuota, c projected, threshold float64) {
	alert := types.ResourceAlert{
		PoolID:    q.PoolID,
		Resource:  c.resource,
		Used:      c.attempted,
		Limit:     c.limit,
		Threshold: threshold,
		Timestamp: time.Now(),
	}
	if m.publisher != nil {
		m.publisher.Publish(events.Event{
			Kind:      events.QuotaViolatedEvent,
			Timestamp: alert.Timestamp,
			Message:   "resource alert threshold crossed",
			Metadata: map[string]string{
				"pool_id":  alert.PoolID,
				"resource": alert.Resource,
			},
		})
	}
}

func (m *MonitorLoop) publishViolation(q *types.ResourceQuota, c projected) {
	excessRatio := c.attempted/c.limit - 1
	violation := &types.QuotaViolation{
		ID:        ids.New(),
		PoolID:    q.PoolID,
		QuotaID:   q.ID,
		Resource:  c.resource,
		Limit:     c.limit,
		Attempted: c.attempted,
		Severity:  types.SeverityForExcess(excessRatio),
		Action:    types.ActionNotificationSent,
		Timestamp: time.Now(),
	}
	if err := m.engine.violations.CreateViolation(violation); err != nil {
		m.engine.logger.Error().Err(err).Msg("quota scan: failed to persist violation")
		return
	}
	metrics.QuotaViolations.WithLabelValues(q.PoolID, string(violation.Severity)).Inc()

	if m.publisher != nil {
		m.publisher.Publish(events.Event{
			Kind:      events.QuotaViolatedEvent,
			Timestamp: violation.Timestamp,
			Message:   "quota exceeded",
			Metadata: map[string]string{
				"pool_id":  q.PoolID,
				"resource": c.resource,
			},
		})
	}
}
