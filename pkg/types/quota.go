package types

import "time"

// QuotaPolicy selects how the quota engine enforces a breach (§4.4).
type QuotaPolicy string

const (
	PolicyHard     QuotaPolicy = "HARD"
	PolicySoft     QuotaPolicy = "SOFT"
	PolicyAdvisory QuotaPolicy = "ADVISORY"
)

// QuotaLimits is the set of per-pool ceilings a ResourceQuota enforces.
type QuotaLimits struct {
	MaxCPUCores           float64
	MaxMemoryGB           float64
	MaxStorageGB          float64
	MaxConcurrentJobs     int
	MaxConcurrentWorkers  int
	Custom                map[string]float64
}

// ResourceQuota is a pool's enforcement configuration. AlertThresholds
// is keyed by resource name ("cpu", "memory", "storage",
// "concurrentJobs", "concurrentWorkers") per the SPEC_FULL.md
// supplemented-features decision to carry a per-resource map rather
// than one global percentage.
type ResourceQuota struct {
	ID              string
	PoolID          string
	Limits          QuotaLimits
	Policy          QuotaPolicy
	Enabled         bool
	AlertThresholds map[string]float64 // percentage, 0-100
}

// ResourceUsage is a pool's current consumption. Mutated only through
// the monotone AddJob/RemoveJob/AddWorker/RemoveWorker operations in
// pkg/quota, never written directly.
type ResourceUsage struct {
	PoolID         string
	UsedCPUCores   float64
	UsedMemoryGB   float64
	UsedStorageGB  float64
	ActiveJobs     int
	ActiveWorkers  int
}

// ViolationSeverity classifies how far a request exceeded its limit
// (§4.4 severity thresholds).
type ViolationSeverity string

const (
	SeverityLow      ViolationSeverity = "LOW"
	SeverityMedium   ViolationSeverity = "MEDIUM"
	SeverityHigh     ViolationSeverity = "HIGH"
	SeverityCritical ViolationSeverity = "CRITICAL"
)

// ViolationAction is the enforcement action the quota engine took.
type ViolationAction string

const (
	ActionBlocked             ViolationAction = "BLOCKED"
	ActionAllowedWithWarning   ViolationAction = "ALLOWED_WITH_WARNING"
	ActionNotificationSent     ViolationAction = "NOTIFICATION_SENT"
)

// QuotaViolation is a recorded breach of a pool's quota.
type QuotaViolation struct {
	ID         string
	PoolID     string
	QuotaID    string
	Resource   string
	Limit      float64
	Attempted  float64
	Current    float64
	Severity   ViolationSeverity
	Action     ViolationAction
	Context    map[string]string
	Timestamp  time.Time
	Resolved   bool
	ResolvedBy string
	ResolvedAt *time.Time
}

// SeverityForExcess classifies an excess ratio (attempted/limit - 1)
// into a ViolationSeverity per §4.4's thresholds: >=50% excess is
// CRITICAL, >=25% HIGH, >=10% MEDIUM, else LOW.
func SeverityForExcess(excessRatio float64) ViolationSeverity {
	switch {
	case excessRatio >= 0.50:
		return SeverityCritical
	case excessRatio >= 0.25:
		return SeverityHigh
	case excessRatio >= 0.10:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ResourceAlert is published by the quota monitoring loop when a
// resource crosses its alert threshold without yet exceeding its limit.
type ResourceAlert struct {
	PoolID    string
	Resource  string
	Used      float64
	Limit     float64
	Threshold float64
	Timestamp time.Time
}
