package scheduler

import (
	"testing"

	"github.com/hodeiorg/hodei-pipelines/pkg/storage"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSchedulerStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedPool(t *testing.T, store *storage.BoltStore, id string, totalCPU int64, languages []string) {
	t.Helper()
	require.NoError(t, store.CreatePool(&types.ResourcePool{
		ID:     id,
		Name:   id,
		Status: types.PoolActive,
		Capacity: types.Capacity{
			TotalCPUMillicores: totalCPU,
			TotalMemoryBytes:   8 << 30,
		},
	}))
	require.NoError(t, store.CreateWorkerPool(&types.WorkerPool{
		ID:     id + "-wp",
		PoolID: id,
		Template: types.WorkerTemplate{
			Capabilities: types.Capabilities{Languages: languages},
			Resources:    types.ResourceRequirements{CPUMillicores: 1000},
		},
	}))
}

func TestFindPlacementFiltersByCapability(t *testing.T) {
	store := newTestSchedulerStore(t)
	seedPool(t, store, "pool-go", 4000, []string{"go"})
	seedPool(t, store, "pool-python", 4000, []string{"python"})

	s := New(store, store, nil, nil)

	pool, err := s.FindPlacement(PlacementRequest{
		RequiredLanguages: []string{"python"},
		Resources:         types.ResourceRequirements{CPUMillicores: 500},
	})
	require.NoError(t, err)
	assert.Equal(t, "pool-python", pool.ID)
}

func TestFindPlacementRejectsOversizedRequest(t *testing.T) {
	store := newTestSchedulerStore(t)
	seedPool(t, store, "pool-small", 500, nil)

	s := New(store, store, nil, nil)

	_, err := s.FindPlacement(PlacementRequest{
		Resources: types.ResourceRequirements{CPUMillicores: 1000},
	})
	assert.ErrorIs(t, err, ErrNoCandidatePool)
}

func TestFindPlacementPrefersLowerUtilization(t *testing.T) {
	store := newTestSchedulerStore(t)
	seedPool(t, store, "pool-busy", 4000, nil)
	seedPool(t, store, "pool-idle", 4000, nil)

	s := New(store, store, nil, constantUtilization{"pool-busy": 3000, "pool-idle": 0})

	pool, err := s.FindPlacement(PlacementRequest{
		Resources: types.ResourceRequirements{CPUMillicores: 500},
	})
	require.NoError(t, err)
	assert.Equal(t, "pool-idle", pool.ID)
}

type constantUtilization map[string]int64

func (c constantUtilization) UsedCPUMillicores(poolID string) int64 { return c[poolID] }
