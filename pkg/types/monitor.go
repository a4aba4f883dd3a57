package types

import "time"

// ResourcePoolUtilization is one sample of a pool's aggregate resource
// usage, produced by the resource monitor (§4.3) both on a pull query
// and on its broadcast stream.
type ResourcePoolUtilization struct {
	PoolID           string
	TotalCPUMillicores int64
	UsedCPUMillicores  int64
	TotalMemoryBytes   int64
	UsedMemoryBytes    int64
	TotalDiskBytes     int64
	UsedDiskBytes      int64
	NetworkRxBytes     int64
	NetworkTxBytes     int64
	RunningJobs        int
	QueuedJobs         int
	Timestamp          time.Time
}

// UtilizationRatio returns the CPU and memory fractions used, each in
// [0, 1]; callers (autoscaler, scheduler ranking) treat a zero total as
// 0 utilization rather than dividing by zero.
func (u ResourcePoolUtilization) UtilizationRatio() (cpu, memory float64) {
	if u.TotalCPUMillicores > 0 {
		cpu = float64(u.UsedCPUMillicores) / float64(u.TotalCPUMillicores)
	}
	if u.TotalMemoryBytes > 0 {
		memory = float64(u.UsedMemoryBytes) / float64(u.TotalMemoryBytes)
	}
	return cpu, memory
}
