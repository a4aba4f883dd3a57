package autoscaler

import (
	"testing"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestShouldScaleUpRespectsCooldown(t *testing.T) {
	now := time.Now()
	policy := types.ScalingPolicy{
		Enabled:          true,
		MaxWorkers:       10,
		ScaleUpThreshold: 5,
		ScaleUpCooldown:  time.Minute,
		LastScaleAction: &types.ScaleAction{
			Direction: types.ScaleUp,
			Timestamp: now.Add(-10 * time.Second),
		},
	}

	got := ShouldScaleUp(policy, 3, Snapshot{QueueLength: 10}, now)
	assert.False(t, got, "still within cooldown window")
}

func TestShouldScaleUpMeetsThreshold(t *testing.T) {
	now := time.Now()
	policy := types.ScalingPolicy{
		Enabled:          true,
		MaxWorkers:       10,
		ScaleUpThreshold: 5,
	}

	assert.True(t, ShouldScaleUp(policy, 3, Snapshot{QueueLength: 5}, now))
	assert.False(t, ShouldScaleUp(policy, 3, Snapshot{QueueLength: 4}, now))
}

func TestShouldScaleUpBlockedAtMaxWorkers(t *testing.T) {
	now := time.Now()
	policy := types.ScalingPolicy{Enabled: true, MaxWorkers: 5, ScaleUpThreshold: 1}
	assert.False(t, ShouldScaleUp(policy, 5, Snapshot{QueueLength: 100}, now))
}

func TestShouldScaleDownRespectsMinWorkers(t *testing.T) {
	now := time.Now()
	policy := types.ScalingPolicy{Enabled: true, MinWorkers: 2, ScaleDownThreshold: 1}
	assert.False(t, ShouldScaleDown(policy, 2, Snapshot{QueueLength: 0}, now))
	assert.True(t, ShouldScaleDown(policy, 3, Snapshot{QueueLength: 0}, now))
}

func TestCalculateOptimalReactive(t *testing.T) {
	policy := types.ScalingPolicy{Strategy: types.StrategyReactive, MinWorkers: 1, MaxWorkers: 20}

	tests := []struct {
		name    string
		current int
		snap    Snapshot
		want    int
	}{
		{"empty queue drops to min", 5, Snapshot{QueueLength: 0}, 1},
		{"small queue holds steady", 5, Snapshot{QueueLength: 2}, 5},
		{"long wait adds two", 5, Snapshot{QueueLength: 10, AvgWaitTime: 3 * time.Minute}, 7},
		{"moderate wait adds one", 5, Snapshot{QueueLength: 10, AvgWaitTime: 45 * time.Second}, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateOptimal(policy, tt.current, tt.snap, 0, 0)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateOptimalPredictive(t *testing.T) {
	policy := types.ScalingPolicy{Strategy: types.StrategyPredictive, MinWorkers: 1, MaxWorkers: 50}

	got := CalculateOptimal(policy, 10, Snapshot{QueueLength: 10, AvgWaitTime: 20 * time.Second}, 0, 0)
	// floor(10*0.5 + 20*0.1) = floor(5 + 2) = 7, current(10) + 7 = 17
	assert.Equal(t, 17, got)
}

func TestCalculateOptimalResourceBased(t *testing.T) {
	policy := types.ScalingPolicy{Strategy: types.StrategyResourceBased, MinWorkers: 1, MaxWorkers: 50}

	snap := Snapshot{
		QueueLength:            10,
		AvailableCPUMillicores: 8000,
		AvailableMemoryBytes:   16 << 30,
		AvailableNodes:         3,
	}
	// byQueue = ceil(10*1.2) = 12; maxByResources = min(8000/1000=8, 16Gi/2Gi=8, 3*5=15) = 8
	got := CalculateOptimal(policy, 2, snap, 1000, 2<<30)
	assert.Equal(t, 8, got)
}

func TestSelectScaleDownCandidatesSkipsBusy(t *testing.T) {
	workers := []*types.Worker{
		{ID: "w1", Status: types.WorkerBusy},
		{ID: "w2", Status: types.WorkerReady},
		{ID: "w3", Status: types.WorkerReady},
	}

	got := SelectScaleDownCandidates(workers, 2)
	assert.Len(t, got, 2)
	assert.Equal(t, "w2", got[0].ID)
	assert.Equal(t, "w3", got[1].ID)
}
