package quota

import (
	"testing"

	"github.com/hodeiorg/hodei-pipelines/pkg/storage"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, store, store), store
}

func TestCheckAllowsWhenNoQuotaConfigured(t *testing.T) {
	engine, _ := newTestEngine(t)

	result, err := engine.Check("pool-without-quota", Request{CPUCores: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, Allow, result.Decision)
}

func TestCheckBlocksUnderHardPolicy(t *testing.T) {
	engine, store := newTestEngine(t)

	require.NoError(t, store.CreateQuota(&types.ResourceQuota{
		ID:      "quota-1",
		PoolID:  "pool-1",
		Policy:  types.PolicyHard,
		Enabled: true,
		Limits:  types.QuotaLimits{MaxCPUCores: 4},
	}))
	require.NoError(t, store.SaveUsage(&types.ResourceUsage{PoolID: "pool-1", UsedCPUCores: 3.5}))

	result, err := engine.Check("pool-1", Request{CPUCores: 1}, map[string]string{"job_id": "job-1"})
	require.NoError(t, err)
	assert.Equal(t, Block, result.Decision)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, types.ActionBlocked, result.Violations[0].Action)
}

func TestCheckAllowsWithWarningUnderSoftPolicy(t *testing.T) {
	engine, store := newTestEngine(t)

	require.NoError(t, store.CreateQuota(&types.ResourceQuota{
		ID:      "quota-2",
		PoolID:  "pool-2",
		Policy:  types.PolicySoft,
		Enabled: true,
		Limits:  types.QuotaLimits{MaxCPUCores: 4},
	}))
	require.NoError(t, store.SaveUsage(&types.ResourceUsage{PoolID: "pool-2", UsedCPUCores: 3.5}))

	result, err := engine.Check("pool-2", Request{CPUCores: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, AllowWithWarning, result.Decision)
}

func TestCheckAdvisoryNeverBlocks(t *testing.T) {
	engine, store := newTestEngine(t)

	require.NoError(t, store.CreateQuota(&types.ResourceQuota{
		ID:      "quota-3",
		PoolID:  "pool-3",
		Policy:  types.PolicyAdvisory,
		Enabled: true,
		Limits:  types.QuotaLimits{MaxCPUCores: 4},
	}))
	require.NoError(t, store.SaveUsage(&types.ResourceUsage{PoolID: "pool-3", UsedCPUCores: 10}))

	result, err := engine.Check("pool-3", Request{CPUCores: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, Allow, result.Decision)
	assert.NotEmpty(t, result.Warnings)
}

func TestAddJobThenRemoveJobReturnsToBaseline(t *testing.T) {
	engine, store := newTestEngine(t)
	require.NoError(t, store.SaveUsage(&types.ResourceUsage{PoolID: "pool-4"}))

	require.NoError(t, engine.AddJob("pool-4", 2, 4, 10))
	usage, err := store.GetUsage("pool-4")
	require.NoError(t, err)
	assert.Equal(t, 1, usage.ActiveJobs)
	assert.Equal(t, 2.0, usage.UsedCPUCores)

	require.NoError(t, engine.RemoveJob("pool-4", 2, 4, 10))
	usage, err = store.GetUsage("pool-4")
	require.NoError(t, err)
	assert.Equal(t, 0, usage.ActiveJobs)
	assert.Equal(t, 0.0, usage.UsedCPUCores)
}

func TestRemoveJobClampsAtZero(t *testing.T) {
	engine, store := newTestEngine(t)
	require.NoError(t, store.SaveUsage(&types.ResourceUsage{PoolID: "pool-5"}))

	require.NoError(t, engine.RemoveJob("pool-5", 5, 5, 5))
	usage, err := store.GetUsage("pool-5")
	require.NoError(t, err)
	assert.Equal(t, 0.0, usage.UsedCPUCores)
	assert.Equal(t, 0, usage.ActiveJobs)
}
