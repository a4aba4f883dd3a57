// Package metrics exposes the process's Prometheus collectors. The
// scheduler, processing loop and resource monitor time themselves
// through the Timer helper; the quota monitor and autoscaler tick are
// not timed. The package follows the
// teacher's pkg/metrics shape exactly: package-level collector vars
// registered once in init().
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Orchestrator / queue metrics
	JobsQueued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "hodei_jobs_queued", Help: "Jobs currently queued, by queue id"},
		[]string{"queue_id"},
	)
	JobsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hodei_jobs_scheduled_total", Help: "Total jobs successfully placed"},
	)
	JobsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hodei_jobs_failed_total", Help: "Total jobs that ended FAILED, by reason"},
		[]string{"reason"},
	)
	JobsRetried = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hodei_jobs_retried_total", Help: "Total job retry requeues"},
	)
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "hodei_scheduling_latency_seconds", Help: "Time to find a placement", Buckets: prometheus.DefBuckets},
	)
	ProcessingCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "hodei_processing_cycle_duration_seconds", Help: "Orchestrator processing loop cycle duration", Buckets: prometheus.DefBuckets},
	)
	MonitorCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "hodei_monitor_cycle_duration_seconds", Help: "Resource monitor sampling cycle duration", Buckets: prometheus.DefBuckets},
	)

	// Quota metrics
	QuotaChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hodei_quota_checks_total", Help: "Quota admission checks by decision"},
		[]string{"pool_id", "decision"},
	)
	QuotaViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hodei_quota_violations_total", Help: "Quota violations recorded by severity"},
		[]string{"pool_id", "severity"},
	)
	ResourceUsagePct = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "hodei_resource_usage_ratio", Help: "Used/limit ratio per pool and resource"},
		[]string{"pool_id", "resource"},
	)

	// Autoscaler metrics
	ScaleActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hodei_scale_actions_total", Help: "Scale actions taken, by direction"},
		[]string{"pool_id", "direction"},
	)
	WorkerPoolSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "hodei_worker_pool_size", Help: "Current worker count per pool"},
		[]string{"pool_id"},
	)

	// Execution / driver metrics
	ExecutionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hodei_executions_started_total", Help: "Total executions started"},
	)
	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "hodei_execution_duration_seconds", Help: "Execution wall-clock duration", Buckets: prometheus.DefBuckets},
	)
	ProvisioningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "hodei_provisioning_duration_seconds", Help: "Compute instance provisioning duration", Buckets: prometheus.DefBuckets},
	)
	ProvisioningFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hodei_provisioning_failures_total", Help: "Provisioning failures by reason"},
		[]string{"reason"},
	)

	// Artifact transfer metrics
	ArtifactChunksSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hodei_artifact_chunks_sent_total", Help: "Total artifact chunks transmitted"},
	)
	ArtifactCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hodei_artifact_cache_hits_total", Help: "Total artifact transfers skipped via cache hit"},
	)
	ArtifactBytesTransferred = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "hodei_artifact_bytes_transferred_total", Help: "Total decompressed artifact bytes transferred"},
	)
)

func init() {
	prometheus.MustRegister(
		JobsQueued, JobsScheduled, JobsFailed, JobsRetried,
		SchedulingLatency, ProcessingCycleDuration, MonitorCycleDuration,
		QuotaChecks, QuotaViolations, ResourceUsagePct,
		ScaleActions, WorkerPoolSize,
		ExecutionsStarted, ExecutionDuration,
		ProvisioningDuration, ProvisioningFailures,
		ArtifactChunksSent, ArtifactCacheHits, ArtifactBytesTransferred,
	)
}

// Handler returns the Prometheus HTTP scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and feeding the
// elapsed duration to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a plain histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
