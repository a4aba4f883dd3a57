package orchestrator

import (
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/types"
)

// agingCapPerMinute is the per-minute aging bonus rate from §4.9,
// clamped at 100.
const agingCapPerMinute = 0.1

// deadlinePassedBonus and deadlineCloseBonus implement the deadline
// term of the effective-priority formula (§4.9).
const (
	deadlinePassedBonus = 500.0
	deadlineCloseBonus  = 200.0
	agingCap            = 100.0
)

// EffectivePriority computes §4.9's effective priority for q as of now:
//
//	base = priority.value
//	agingBonus = min(100.0, waitMinutes * 0.1)
//	deadlineBonus = (deadline passed) ? +500 :
//	                (remaining < 2*estimatedDuration) ? +200 : 0
//	effectivePriority = base + agingBonus + deadlineBonus
//
// Monotone non-decreasing in wait time for a fixed job (§8 invariant 3):
// both the aging term and the deadline term only increase as now
// advances past queuedAt.
func EffectivePriority(q *types.QueuedJob, now time.Time) float64 {
	base := q.Job.Priority.Value()

	waitMinutes := now.Sub(q.QueuedAt).Minutes()
	if waitMinutes < 0 {
		waitMinutes = 0
	}
	agingBonus := waitMinutes * agingCapPerMinute
	if agingBonus > agingCap {
		agingBonus = agingCap
	}

	var deadlineBonus float64
	if q.Deadline != nil {
		remaining := q.Deadline.Sub(now)
		switch {
		case remaining <= 0:
			deadlineBonus = deadlinePassedBonus
		case remaining < 2*q.EstimatedDuration:
			deadlineBonus = deadlineCloseBonus
		}
	}

	return base + agingBonus + deadlineBonus
}
