package orchestrator

import (
	"testing"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/stretchr/testify/assert"
)

func queuedJobAt(priority types.Priority, queuedAt time.Time) *types.QueuedJob {
	return &types.QueuedJob{
		Job:      &types.Job{Priority: priority},
		QueuedAt: queuedAt,
	}
}

// TestEffectivePriorityHigherBaseBeatsAging mirrors spec.md §8 scenario 4:
// a NORMAL job queued two hours ago (500+12) still ranks below a HIGH
// job queued one hour ago (800+6); aging alone does not close the gap.
// The NORMAL job only wins once its own deadline has passed, see
// TestEffectivePriorityDeadlinePassedWins.
func TestEffectivePriorityHigherBaseBeatsAging(t *testing.T) {
	t0 := time.Now().Add(-2 * time.Hour)
	now := t0.Add(2 * time.Hour)

	j1 := queuedJobAt(types.PriorityNormal, t0)
	j2 := queuedJobAt(types.PriorityHigh, t0.Add(time.Hour))

	p1 := EffectivePriority(j1, now)
	p2 := EffectivePriority(j2, now)

	assert.InDelta(t, 512.0, p1, 0.01)
	assert.InDelta(t, 806.0, p2, 0.01)
	assert.Greater(t, p2, p1)
}

func TestEffectivePriorityDeadlinePassedWins(t *testing.T) {
	t0 := time.Now().Add(-2 * time.Hour)
	now := t0.Add(2 * time.Hour)
	passed := t0.Add(time.Minute)

	j1 := queuedJobAt(types.PriorityNormal, t0)
	j1.Deadline = &passed

	assert.InDelta(t, 1012.0, EffectivePriority(j1, now), 0.01)
}

func TestEffectivePriorityMonotoneNonDecreasingInWaitTime(t *testing.T) {
	t0 := time.Now()
	qj := queuedJobAt(types.PriorityLow, t0)

	earlier := EffectivePriority(qj, t0.Add(time.Minute))
	later := EffectivePriority(qj, t0.Add(10*time.Minute))

	assert.GreaterOrEqual(t, later, earlier)
}

func TestEffectivePriorityAgingCapsAt100(t *testing.T) {
	t0 := time.Now().Add(-48 * time.Hour)
	qj := queuedJobAt(types.PriorityBackground, t0)

	assert.InDelta(t, 200.0, EffectivePriority(qj, t0.Add(48*time.Hour)), 0.01)
}

func TestEffectivePriorityNeverWaitsNegative(t *testing.T) {
	// A queuedAt slightly in the future (clock skew) must not produce a
	// negative aging bonus.
	qj := queuedJobAt(types.PriorityNormal, time.Now().Add(time.Minute))
	assert.InDelta(t, 500.0, EffectivePriority(qj, time.Now()), 1.0)
}
