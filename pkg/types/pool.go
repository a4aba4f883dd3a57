package types

import "time"

// PoolStatus is the lifecycle state of a ResourcePool.
type PoolStatus string

const (
	PoolActive      PoolStatus = "ACTIVE"
	PoolDraining    PoolStatus = "DRAINING"
	PoolTerminating PoolStatus = "TERMINATING"
	PoolError       PoolStatus = "ERROR"
)

// Capacity tracks a pool's total and available compute capacity.
type Capacity struct {
	TotalCPUMillicores int64
	TotalMemoryBytes   int64
	TotalDiskBytes     int64
	AvailableCount     int
}

// ResourcePool is an administrative grouping of compute instances
// sharing capacity, quota and scaling policy (glossary: Pool).
type ResourcePool struct {
	ID           string
	Name         string // DNS-1123, <= 63 chars
	ProviderType string
	DisplayName  string
	Description  string
	Labels       map[string]string
	Annotations  map[string]string
	QuotaID      string
	Capacity     Capacity
	Status       PoolStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Capabilities describes what a worker template (and therefore the
// workers it spawns) can run.
type Capabilities struct {
	Languages []string
	Tools     []string
	Features  []string
}

// SchedulingHints carries node-placement hints for the compute driver.
type SchedulingHints struct {
	NodeSelector map[string]string
	Tolerations  []string
	Affinity     map[string]string
}

// SecurityContext carries the driver-level security configuration for a
// provisioned instance.
type SecurityContext struct {
	RunAsUser  *int64
	Privileged bool
	ReadOnlyRootFilesystem bool
}

// Probe describes a liveness/readiness check a provisioned instance
// must pass.
type Probe struct {
	Type            string // "http", "tcp", "exec"
	Endpoint        string
	Command         []string
	InitialDelay    time.Duration
	Period          time.Duration
	FailureThreshold int
}

// WorkerTemplate is the blueprint the scheduler and driver use to
// provision a worker. Resource strings follow §3's canonical grammar
// ("<n>m" millicores, "<n>" whole cores, Ki|Mi|Gi|Ti memory).
type WorkerTemplate struct {
	Image        string
	Resources    ResourceRequirements
	Capabilities Capabilities
	Labels       map[string]string
	Env          []string
	Scheduling   SchedulingHints
	Security     SecurityContext
	Volumes      []VolumeMount
	Probes       []Probe
}

// VolumeMount defines a volume mount point for a worker.
type VolumeMount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// WorkerPoolStatus is the lifecycle state of a WorkerPool.
type WorkerPoolStatus string

const (
	WorkerPoolInactive   WorkerPoolStatus = "INACTIVE"
	WorkerPoolActive     WorkerPoolStatus = "ACTIVE"
	WorkerPoolScalingUp   WorkerPoolStatus = "SCALING_UP"
	WorkerPoolScalingDown WorkerPoolStatus = "SCALING_DOWN"
	WorkerPoolError      WorkerPoolStatus = "ERROR"
)

// WorkerPool binds a ResourcePool to a WorkerTemplate, a ScalingPolicy
// and the workers currently provisioned for it.
type WorkerPool struct {
	ID          string
	Name        string
	PoolID      string
	Template    WorkerTemplate
	CurrentSize int
	DesiredSize int
	MaxSize     int
	Scaling     ScalingPolicy
	Workers     []*Worker
	Status      WorkerPoolStatus
}
