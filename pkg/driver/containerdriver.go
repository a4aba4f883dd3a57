package driver

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/hodeiorg/hodei-pipelines/pkg/apierrors"
	"github.com/hodeiorg/hodei-pipelines/pkg/ids"
	"github.com/hodeiorg/hodei-pipelines/pkg/log"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
)

// DefaultNamespace is the containerd namespace Hodei provisions into.
const DefaultNamespace = "hodei"

// DefaultSocketPath mirrors §6: the container-daemon endpoint defaults
// to the Docker-compatible unix socket; against a containerd-fronting
// shim this is the effective rendezvous point for local development.
const DefaultSocketPath = "unix:///var/run/docker.sock"

const (
	labelPoolID   = "hodei.pool-id"
	labelWorkerID = "hodei.worker-id"
)

// ContainerDaemonDriver is the reference Driver implementation, adapted
// from the teacher's pkg/runtime.ContainerdRuntime: same namespace
// scoping, same CPU-shares/quota conversion, same graceful
// SIGTERM-then-SIGKILL stop, generalized behind the Driver port and the
// spec's idempotent-provision / scaleTo / instance-type / healthCheck
// surface it didn't need.
type ContainerDaemonDriver struct {
	client    *containerd.Client
	namespace string
	socket    string

	mu     sync.Mutex
	logger zerolog.Logger
}

// NewContainerDaemonDriver connects to the container daemon at
// socketPath (DefaultSocketPath if empty).
func NewContainerDaemonDriver(socketPath string) (*ContainerDaemonDriver, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, apierrors.NewProvisioning(apierrors.ProvisioningFailed, err)
	}

	return &ContainerDaemonDriver{
		client:    client,
		namespace: DefaultNamespace,
		socket:    socketPath,
		logger:    log.WithComponent("driver"),
	}, nil
}

// Close releases the daemon connection.
func (d *ContainerDaemonDriver) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

func (d *ContainerDaemonDriver) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, d.namespace)
}

// ensureImage implements §4.1's ensure-image policy: query local images
// first, pull and block only if absent. Pull failures are reported as
// ProvisioningError{ImagePullFailure} with no retry inside the driver.
func (d *ContainerDaemonDriver) ensureImage(ctx context.Context, ref string) (containerd.Image, error) {
	if img, err := d.client.GetImage(ctx, ref); err == nil {
		return img, nil
	}

	img, err := d.client.Pull(ctx, ref, containerd.WithPullUnpack)
	if err != nil {
		return nil, apierrors.NewProvisioning(apierrors.ProvisioningImagePullFailure,
			fmt.Errorf("pulling %s: %w", ref, err))
	}
	return img, nil
}

// Provision implements Driver.Provision. Idempotent under
// spec.WorkerID: an existing, still-live container carrying the same
// worker-id label is returned rather than duplicated.
func (d *ContainerDaemonDriver) Provision(ctx context.Context, spec InstanceSpec) (string, error) {
	ctx = d.ctx(ctx)
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.findByWorkerID(ctx, spec.WorkerID); ok {
		return existing, nil
	}

	if spec.Template.Image == "" {
		return "", apierrors.NewProvisioning(apierrors.ProvisioningInvalidSpec,
			fmt.Errorf("worker template carries no image"))
	}

	image, err := d.ensureImage(ctx, spec.Template.Image)
	if err != nil {
		return "", err
	}

	env := append([]string{}, spec.Template.Env...)
	env = append(env,
		fmt.Sprintf("HODEI_ORCHESTRATOR_HOST=%s", spec.OrchestratorHost),
		fmt.Sprintf("HODEI_ORCHESTRATOR_PORT=%d", spec.OrchestratorPort),
		fmt.Sprintf("WORKER_ID=%s", spec.WorkerID),
		fmt.Sprintf("WORKER_LABELS=%s", encodeLabels(spec.Template.Labels)),
	)

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}

	res := spec.Template.Resources
	if res.CPUMillicores > 0 {
		cores := float64(res.CPUMillicores) / 1000.0
		shares := uint64(cores * 1024)
		quota := int64(cores * 100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, uint64(100000)))
	}
	if res.MemoryBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(res.MemoryBytes)))
	}

	instanceID := ids.New()
	labels := map[string]string{
		labelPoolID:   spec.PoolID,
		labelWorkerID: spec.WorkerID,
	}

	container, err := d.client.NewContainer(
		ctx,
		instanceID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(instanceID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(labels),
	)
	if err != nil {
		return "", apierrors.NewProvisioning(apierrors.ProvisioningFailed, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return "", apierrors.NewProvisioning(apierrors.ProvisioningFailed, err)
	}
	if err := task.Start(ctx); err != nil {
		return "", apierrors.NewProvisioning(apierrors.ProvisioningFailed, err)
	}

	d.logger.Info().Str("instance_id", container.ID()).Str("pool_id", spec.PoolID).
		Str("worker_id", spec.WorkerID).Msg("provisioned compute instance")

	return container.ID(), nil
}

func (d *ContainerDaemonDriver) findByWorkerID(ctx context.Context, workerID string) (string, bool) {
	containers, err := d.client.Containers(ctx)
	if err != nil {
		return "", false
	}
	for _, c := range containers {
		labels, err := c.Labels(ctx)
		if err != nil {
			continue
		}
		if labels[labelWorkerID] != workerID {
			continue
		}
		if state, err := d.inspectContainer(ctx, c); err == nil &&
			(state == InstanceRunning || state == InstanceProvisioning) {
			return c.ID(), true
		}
	}
	return "", false
}

// Terminate implements Driver.Terminate: SIGTERM, wait up to grace,
// then SIGKILL, then delete with snapshot cleanup. Tolerates an
// instance that is already gone.
func (d *ContainerDaemonDriver) Terminate(ctx context.Context, instanceID string, grace time.Duration) error {
	ctx = d.ctx(ctx)

	container, err := d.client.LoadContainer(ctx, instanceID)
	if err != nil {
		return nil // already gone
	}

	task, err := container.Task(ctx, nil)
	if err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, grace)
		defer cancel()

		if err := task.Kill(stopCtx, syscall.SIGTERM); err == nil {
			statusC, waitErr := task.Wait(stopCtx)
			if waitErr == nil {
				select {
				case <-statusC:
				case <-stopCtx.Done():
					_ = task.Kill(ctx, syscall.SIGKILL)
				}
			}
		}
		_, _ = task.Delete(ctx)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return apierrors.NewProvisioning(apierrors.ProvisioningFailed, err)
	}
	return nil
}

// Inspect implements Driver.Inspect per §4.1's status mapping table.
func (d *ContainerDaemonDriver) Inspect(ctx context.Context, instanceID string) (InstanceState, error) {
	ctx = d.ctx(ctx)
	container, err := d.client.LoadContainer(ctx, instanceID)
	if err != nil {
		return InstanceTerminated, apierrors.NewNotFound("instance", instanceID)
	}
	return d.inspectContainer(ctx, container)
}

func (d *ContainerDaemonDriver) inspectContainer(ctx context.Context, container containerd.Container) (InstanceState, error) {
	task, err := container.Task(ctx, nil)
	if err != nil {
		return InstanceProvisioning, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return InstanceFailed, apierrors.NewProvisioning(apierrors.ProvisioningFailed, err)
	}

	switch status.Status {
	case containerd.Running:
		return InstanceRunning, nil
	case containerd.Paused:
		return InstanceStopped, nil
	case containerd.Pausing:
		return InstanceProvisioning, nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return InstanceTerminated, nil
		}
		return InstanceFailed, nil
	default:
		return InstanceProvisioning, nil
	}
}

// List implements Driver.List.
func (d *ContainerDaemonDriver) List(ctx context.Context, poolID string) ([]Instance, error) {
	all, err := d.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []Instance
	for _, inst := range all {
		if inst.PoolID == poolID {
			out = append(out, inst)
		}
	}
	return out, nil
}

// ListAll implements Driver.ListAll.
func (d *ContainerDaemonDriver) ListAll(ctx context.Context) ([]Instance, error) {
	ctx = d.ctx(ctx)
	containers, err := d.client.Containers(ctx)
	if err != nil {
		return nil, apierrors.NewProvisioning(apierrors.ProvisioningFailed, err)
	}

	out := make([]Instance, 0, len(containers))
	for _, c := range containers {
		labels, _ := c.Labels(ctx)
		state, _ := d.inspectContainer(ctx, c)
		info, _ := c.Info(ctx)
		out = append(out, Instance{
			ID:       c.ID(),
			PoolID:   labels[labelPoolID],
			WorkerID: labels[labelWorkerID],
			State:    state,
			Image:    info.Image,
			Labels:   labels,
		})
	}
	return out, nil
}

// ScaleTo implements Driver.ScaleTo: partial failures accumulate rather
// than abort (§4.1). Scale-down only ever terminates instances named in
// terminateIDs — the caller's READY-worker selection (§4.5) — never an
// arbitrary member of current.
func (d *ContainerDaemonDriver) ScaleTo(ctx context.Context, poolID string, target int, template types.WorkerTemplate, terminateIDs []string) (ScaleResult, error) {
	current, err := d.List(ctx, poolID)
	if err != nil {
		return ScaleResult{Requested: target}, err
	}

	result := ScaleResult{Requested: target, Actual: len(current)}

	if len(current) < target {
		for i := len(current); i < target; i++ {
			spec := InstanceSpec{
				WorkerID: ids.New(),
				PoolID:   poolID,
				Template: template,
			}
			instanceID, err := d.Provision(ctx, spec)
			if err != nil {
				result.Failed = append(result.Failed, ScaleFailure{Err: err})
				continue
			}
			result.Provisioned = append(result.Provisioned, instanceID)
			result.Actual++
		}
		return result, nil
	}

	if len(current) > target {
		excess := len(current) - target
		toTerminate := terminateIDs
		if len(toTerminate) > excess {
			toTerminate = toTerminate[:excess]
		}
		for _, instanceID := range toTerminate {
			if err := d.Terminate(ctx, instanceID, 30*time.Second); err != nil {
				result.Failed = append(result.Failed, ScaleFailure{InstanceID: instanceID, Err: err})
				continue
			}
			result.Actual--
		}
	}

	return result, nil
}

// AvailableInstanceTypes implements Driver.AvailableInstanceTypes: the
// fixed tiers from §4.1, plus a CUSTOM entry sized to the request.
func (d *ContainerDaemonDriver) AvailableInstanceTypes(ctx context.Context, poolID string) ([]types.InstanceType, error) {
	out := types.StandardInstanceTypes()
	out = append(out, types.InstanceType{Name: "CUSTOM", CostWeight: 1.0})
	return out, nil
}

// HealthCheck implements Driver.HealthCheck.
func (d *ContainerDaemonDriver) HealthCheck(ctx context.Context) HealthStatus {
	ctx = d.ctx(ctx)

	version, err := d.client.Version(ctx)
	if err != nil {
		return HealthStatus{Reachable: false, Error: err}
	}

	containers, err := d.client.Containers(ctx)
	if err != nil {
		return HealthStatus{Reachable: true, DaemonVersion: version.Version, Error: err}
	}

	var totalMemory int64
	if vm, err := mem.VirtualMemory(); err == nil {
		totalMemory = int64(vm.Total)
	}

	return HealthStatus{
		Reachable:        true,
		DaemonVersion:    version.Version,
		InstanceCount:    len(containers),
		TotalMemoryBytes: totalMemory,
	}
}

func encodeLabels(labels map[string]string) string {
	out := ""
	for k, v := range labels {
		if out != "" {
			out += ","
		}
		out += k + "=" + v
	}
	return out
}
