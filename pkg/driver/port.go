package driver

import (
	"context"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/types"
)

// InstanceState is the compute driver's own status vocabulary — distinct
// from types.WorkerStatus, which is the domain-level lifecycle the
// autoscaler and execution engine reason about. inspect() returns this;
// callers fold it into a Worker's status.
type InstanceState string

const (
	InstanceProvisioning InstanceState = "PROVISIONING"
	InstanceRunning      InstanceState = "RUNNING"
	InstanceStopped      InstanceState = "STOPPED"
	InstanceFailed       InstanceState = "FAILED"
	InstanceTerminated   InstanceState = "TERMINATED"
)

// InstanceSpec is what provision() needs to create a compute instance
// from a WorkerTemplate plus the orchestrator-issued identity it must
// carry, per §4.1's idempotent-under-workerId-label requirement.
type InstanceSpec struct {
	WorkerID           string
	PoolID             string
	Template           types.WorkerTemplate
	OrchestratorHost   string
	OrchestratorPort   int
	AuthToken          string
}

// Instance is a provisioned compute instance as the driver sees it.
type Instance struct {
	ID       string
	PoolID   string
	WorkerID string
	State    InstanceState
	Image    string
	Labels   map[string]string
}

// ScaleResult is the outcome of a scaleTo call: partial failures
// accumulate rather than abort the whole operation (§4.1).
type ScaleResult struct {
	Requested   int
	Actual      int
	Provisioned []string
	Failed      []ScaleFailure
}

// ScaleFailure records one instance that failed to provision or
// terminate during a scaleTo call.
type ScaleFailure struct {
	InstanceID string // empty if the failure was during provision
	Err        error
}

// HealthStatus is the result of a healthCheck() call against the
// daemon.
type HealthStatus struct {
	Reachable     bool
	DaemonVersion string
	InstanceCount int
	TotalMemoryBytes int64
	Error         error
}

// Driver is the Compute Driver port (§4.1). Every operation accepts an
// ambient context carrying the caller's deadline.
type Driver interface {
	// Provision creates an instance from spec, idempotent under
	// spec.WorkerID: a second provision call with the same WorkerID for
	// a still-live instance returns the existing instance id rather
	// than creating a duplicate.
	Provision(ctx context.Context, spec InstanceSpec) (instanceID string, err error)

	// Terminate gracefully stops then forcibly removes an instance,
	// cleaning up its volumes. Tolerates "already gone".
	Terminate(ctx context.Context, instanceID string, grace time.Duration) error

	// Inspect returns an instance's current state.
	Inspect(ctx context.Context, instanceID string) (InstanceState, error)

	// List returns every instance belonging to poolID.
	List(ctx context.Context, poolID string) ([]Instance, error)

	// ListAll returns every instance the driver knows about.
	ListAll(ctx context.Context) ([]Instance, error)

	// ScaleTo iteratively provisions or terminates instances for
	// poolID until it holds target instances, accumulating partial
	// failures rather than aborting. When scaling down, terminateIDs
	// names the specific instances to remove (the caller's chosen
	// READY candidates per §4.5 — never BUSY); ScaleTo terminates at
	// most len(current)-target of them and never substitutes instances
	// of its own choosing.
	ScaleTo(ctx context.Context, poolID string, target int, template types.WorkerTemplate, terminateIDs []string) (ScaleResult, error)

	// AvailableInstanceTypes returns the fixed capacity tiers this
	// driver can provision for poolID.
	AvailableInstanceTypes(ctx context.Context, poolID string) ([]types.InstanceType, error)

	// HealthCheck pings the daemon and reports its version and counts.
	HealthCheck(ctx context.Context) HealthStatus
}
