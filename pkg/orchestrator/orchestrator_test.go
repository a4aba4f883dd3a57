package orchestrator

import (
	"testing"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/events"
	"github.com/hodeiorg/hodei-pipelines/pkg/execution"
	"github.com/hodeiorg/hodei-pipelines/pkg/listener"
	"github.com/hodeiorg/hodei-pipelines/pkg/scheduler"
	"github.com/hodeiorg/hodei-pipelines/pkg/storage"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sched := scheduler.New(store, store, nil, nil)
	listeners := listener.New()
	engine := execution.New(store, store, nil, nil, listeners, "localhost", 7654)
	engine.SetHub(execution.NewHub(engine))

	o := New(store, store, store, store, store, sched, engine, listeners, events.NewBroker(), "@every 1h")
	return o, store
}

func seedQueue(t *testing.T, store *storage.BoltStore, id string, queueType types.QueueType, maxQueued *int) {
	t.Helper()
	require.NoError(t, store.CreateQueue(&types.JobQueue{
		ID:            id,
		Name:          id,
		QueueType:     queueType,
		IsActive:      true,
		MaxQueuedJobs: maxQueued,
	}))
}

func testJob(id string) *types.Job {
	return &types.Job{
		ID:         id,
		Name:       id,
		Namespace:  "default",
		Status:     types.JobPending,
		Priority:   types.PriorityNormal,
		Definition: types.JobDefinition{InlineImage: "alpine", InlineCommand: []string{"true"}},
		MaxRetries: 2,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

func TestSubmitRejectsMissingQueue(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, err := o.Submit(SubmitRequest{Job: testJob("j1"), QueueID: "nope"})
	assert.Error(t, err)
}

func TestSubmitRejectsInactiveQueue(t *testing.T) {
	o, store := newTestOrchestrator(t)
	require.NoError(t, store.CreateQueue(&types.JobQueue{ID: "q1", Name: "q1", IsActive: false}))

	_, err := o.Submit(SubmitRequest{Job: testJob("j1"), QueueID: "q1"})
	assert.ErrorIs(t, err, ErrQueueInactive)
}

func TestSubmitTwiceFailsWithAlreadyQueued(t *testing.T) {
	o, store := newTestOrchestrator(t)
	seedQueue(t, store, "q1", types.QueueFIFO, nil)

	_, err := o.Submit(SubmitRequest{Job: testJob("dup"), QueueID: "q1"})
	require.NoError(t, err)

	_, err = o.Submit(SubmitRequest{Job: testJob("dup"), QueueID: "q1"})
	assert.ErrorIs(t, err, ErrAlreadyQueued)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	o, store := newTestOrchestrator(t)
	limit := 1
	seedQueue(t, store, "q1", types.QueueFIFO, &limit)

	_, err := o.Submit(SubmitRequest{Job: testJob("a"), QueueID: "q1"})
	require.NoError(t, err)

	_, err = o.Submit(SubmitRequest{Job: testJob("b"), QueueID: "q1"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestSubmitPersistsJobAsQueued(t *testing.T) {
	o, store := newTestOrchestrator(t)
	seedQueue(t, store, "q1", types.QueueFIFO, nil)

	qj, err := o.Submit(SubmitRequest{Job: testJob("j1"), QueueID: "q1"})
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, qj.Job.Status)

	persisted, err := store.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, persisted.Status)

	o.Stop()
}

func TestOrderByDisciplineFIFO(t *testing.T) {
	t0 := time.Now()
	a := queuedJobAt(types.PriorityNormal, t0)
	a.Job.ID = "a"
	b := queuedJobAt(types.PriorityNormal, t0.Add(time.Second))
	b.Job.ID = "b"

	ordered := orderByDiscipline(types.QueueFIFO, []*types.QueuedJob{b, a})
	assert.Equal(t, []string{"a", "b"}, []string{ordered[0].Job.ID, ordered[1].Job.ID})
}

func TestOrderByDisciplineLIFO(t *testing.T) {
	t0 := time.Now()
	a := queuedJobAt(types.PriorityNormal, t0)
	a.Job.ID = "a"
	b := queuedJobAt(types.PriorityNormal, t0.Add(time.Second))
	b.Job.ID = "b"

	ordered := orderByDiscipline(types.QueueLIFO, []*types.QueuedJob{a, b})
	assert.Equal(t, []string{"b", "a"}, []string{ordered[0].Job.ID, ordered[1].Job.ID})
}

func TestOrderByDisciplineLIFOTieBreaksByLexicographicID(t *testing.T) {
	t0 := time.Now()
	a := queuedJobAt(types.PriorityNormal, t0)
	a.Job.ID = "a"
	b := queuedJobAt(types.PriorityNormal, t0)
	b.Job.ID = "b"

	ordered := orderByDiscipline(types.QueueLIFO, []*types.QueuedJob{b, a})
	assert.Equal(t, "a", ordered[0].Job.ID)
}

func TestOrderByDisciplinePriorityPicksHighestEffectivePriority(t *testing.T) {
	now := time.Now()
	low := &types.QueuedJob{Job: &types.Job{ID: "low"}, QueuedAt: now, EffectivePriority: 100}
	high := &types.QueuedJob{Job: &types.Job{ID: "high"}, QueuedAt: now, EffectivePriority: 900}

	ordered := orderByDiscipline(types.QueuePriority, []*types.QueuedJob{low, high})
	assert.Equal(t, "high", ordered[0].Job.ID)
}

func TestOrderByDisciplinePriorityTieBreaksByEarlierQueuedAt(t *testing.T) {
	t0 := time.Now()
	earlier := &types.QueuedJob{Job: &types.Job{ID: "earlier"}, QueuedAt: t0, EffectivePriority: 500}
	later := &types.QueuedJob{Job: &types.Job{ID: "later"}, QueuedAt: t0.Add(time.Minute), EffectivePriority: 500}

	ordered := orderByDiscipline(types.QueuePriority, []*types.QueuedJob{later, earlier})
	assert.Equal(t, "earlier", ordered[0].Job.ID)
}

func TestCancelQueuedJob(t *testing.T) {
	o, store := newTestOrchestrator(t)
	seedQueue(t, store, "q1", types.QueueFIFO, nil)

	_, err := o.Submit(SubmitRequest{Job: testJob("j1"), QueueID: "q1"})
	require.NoError(t, err)
	o.Stop()

	require.NoError(t, o.Cancel(nil, "j1"))

	job, err := store.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, types.JobCancelled, job.Status)

	_, err = store.GetQueuedJob("j1")
	assert.Error(t, err)
}

func TestCancelCompletedJobRejected(t *testing.T) {
	o, store := newTestOrchestrator(t)
	j := testJob("done")
	j.Status = types.JobCompleted
	require.NoError(t, store.CreateJob(j))

	err := o.Cancel(nil, "done")
	assert.Error(t, err)
}
