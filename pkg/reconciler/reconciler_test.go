package reconciler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torc-hpc/torc/pkg/engine"
	"github.com/torc-hpc/torc/pkg/metrics"
	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/types"
)

func newTestReconciler(t *testing.T, cfg Config) (*Reconciler, *storage.BoltStore, *engine.Engine) {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "torc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	eng := engine.New(store, nil)
	return New(store, eng, cfg), store, eng
}

// seedClaimedJob stands up a one-job workflow whose job has been claimed
// by an attached node, the state a worker crash leaves behind. When
// schedulerID is set a pending allocation is registered first so the
// attach activates it.
func seedClaimedJob(t *testing.T, store storage.Store, eng *engine.Engine, schedulerID string) (*types.Workflow, *types.Job, *types.ComputeNode) {
	t.Helper()
	wf := &types.Workflow{Name: "sim", User: "tester"}
	require.NoError(t, store.CreateWorkflow(wf))
	j := &types.Job{
		WorkflowID: wf.ID,
		Name:       "step",
		Command:    "run.sh",
		Status:     types.JobStatusUninitialized,
	}
	require.NoError(t, store.CreateJob(j))
	_, err := eng.InitializeJobs(wf.ID)
	require.NoError(t, err)

	if schedulerID != "" {
		alloc := &types.ScheduledComputeNode{
			WorkflowID:        wf.ID,
			SchedulerConfigID: 1,
			SchedulerID:       schedulerID,
			SchedulerType:     types.SchedulerTypeSlurm,
			Status:            types.AllocationStatusPending,
		}
		require.NoError(t, store.CreateScheduledComputeNode(alloc))
	}

	n := &types.ComputeNode{
		WorkflowID:  wf.ID,
		Hostname:    "node-1",
		Resources:   types.ComputeNodesResources{NumCPUs: 8, MemoryGB: 32},
		SchedulerID: schedulerID,
	}
	require.NoError(t, eng.AttachComputeNode(n))

	resp, err := eng.ClaimJobs(wf.ID, &types.ClaimJobsRequest{
		Resources:     n.Resources,
		ComputeNodeID: n.ID,
	})
	require.NoError(t, err)
	require.Len(t, resp.Jobs, 1)
	return wf, resp.Jobs[0], n
}

func rewindHeartbeat(t *testing.T, store storage.Store, workflowID, nodeID int64, age time.Duration) {
	t.Helper()
	n, err := store.GetComputeNode(workflowID, nodeID)
	require.NoError(t, err)
	n.LastHeartbeat = time.Now().UTC().Add(-age)
	require.NoError(t, store.UpdateComputeNode(n))
}

func TestReconcileMarksDeadNodes(t *testing.T) {
	r, store, eng := newTestReconciler(t, Config{NodeTimeout: time.Minute})
	wf, j, n := seedClaimedJob(t, store, eng, "slurm-42")

	rewindHeartbeat(t, store, wf.ID, n.ID, time.Hour)
	r.Reconcile()

	got, err := store.GetComputeNode(wf.ID, n.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	job, err := store.GetJob(wf.ID, j.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPendingFailed, job.Status)

	allocs, err := store.ListScheduledComputeNodes(wf.ID)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, types.AllocationStatusComplete, allocs[0].Status)

	// With its only job settled as pending_failed the run has nothing
	// left to execute, so the workflow closes out too.
	w, err := store.GetWorkflow(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusCompleted, w.Status)

	evs, err := store.ListEvents(wf.ID, types.EventCategoryComputeNode, 0, 0)
	require.NoError(t, err)
	var dead bool
	for _, ev := range evs {
		if ev.Type == types.EventComputeNodeDead {
			dead = true
		}
	}
	assert.True(t, dead, "expected a compute_node.dead event")
}

func TestReconcileKeepsFreshNodes(t *testing.T) {
	r, store, eng := newTestReconciler(t, Config{NodeTimeout: time.Minute})
	wf, j, n := seedClaimedJob(t, store, eng, "")

	r.Reconcile()

	got, err := store.GetComputeNode(wf.ID, n.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	job, err := store.GetJob(wf.ID, j.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusSubmitted, job.Status)
}

func TestReconcileHonorsLateHeartbeat(t *testing.T) {
	r, store, eng := newTestReconciler(t, Config{NodeTimeout: time.Minute})
	wf, _, n := seedClaimedJob(t, store, eng, "")

	// Stale, then a heartbeat lands before the pass runs.
	rewindHeartbeat(t, store, wf.ID, n.ID, time.Hour)
	_, err := eng.ComputeNodeHeartbeat(wf.ID, n.ID)
	require.NoError(t, err)

	r.Reconcile()

	got, err := store.GetComputeNode(wf.ID, n.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestReconcileSweepsSettledWorkflows(t *testing.T) {
	r, store, eng := newTestReconciler(t, Config{NodeTimeout: time.Hour})
	wf, j, _ := seedClaimedJob(t, store, eng, "")

	// Settle the job behind the engine's back, leaving the workflow
	// stuck in running with no completion event.
	job, err := store.GetJob(wf.ID, j.ID)
	require.NoError(t, err)
	job.Status = types.JobStatusCompleted
	require.NoError(t, store.UpdateJob(job))

	r.Reconcile()

	w, err := store.GetWorkflow(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusCompleted, w.Status)

	evs, err := store.ListEvents(wf.ID, types.EventCategoryWorkflow, 0, 0)
	require.NoError(t, err)
	var completed bool
	for _, ev := range evs {
		if ev.Type == types.EventWorkflowCompleted {
			completed = true
		}
	}
	assert.True(t, completed, "expected a workflow.completed event")
}

func TestReconcileRefreshesGauges(t *testing.T) {
	r, store, eng := newTestReconciler(t, Config{NodeTimeout: time.Hour})
	seedClaimedJob(t, store, eng, "")

	r.Reconcile()

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JobsTotal.WithLabelValues(string(types.JobStatusSubmitted))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WorkflowsTotal.WithLabelValues(string(types.WorkflowStatusRunning))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ComputeNodesActive))
}

func TestReconcileEmptyStore(t *testing.T) {
	r, _, _ := newTestReconciler(t, Config{})
	r.Reconcile()
	r.Reconcile()

	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ComputeNodesActive))
}

func TestStartStop(t *testing.T) {
	r, store, eng := newTestReconciler(t, Config{Interval: 10 * time.Millisecond, NodeTimeout: time.Minute})
	wf, j, n := seedClaimedJob(t, store, eng, "")
	rewindHeartbeat(t, store, wf.ID, n.ID, time.Hour)

	r.Start()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(wf.ID, j.ID)
		require.NoError(t, err)
		if job.Status == types.JobStatusPendingFailed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()

	job, err := store.GetJob(wf.ID, j.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPendingFailed, job.Status)
}

// panicStore satisfies storage.Store through the embedded interface and
// blows up on the first call a cycle makes.
type panicStore struct {
	storage.Store
}

func (panicStore) ListActiveComputeNodes() ([]*types.ComputeNode, error) {
	panic("poisoned bucket")
}

func TestSafeReconcileAbsorbsPanic(t *testing.T) {
	r := New(panicStore{}, nil, Config{Interval: time.Millisecond, NodeTimeout: time.Minute})
	assert.False(t, r.safeReconcile())
}

func TestRunSurvivesPanickedCycles(t *testing.T) {
	before := testutil.ToFloat64(metrics.ReconciliationCyclesTotal)
	r := New(panicStore{}, nil, Config{Interval: time.Millisecond, NodeTimeout: time.Minute})
	r.Start()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(metrics.ReconciliationCyclesTotal) >= before+2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()

	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.ReconciliationCyclesTotal), before+2)
}
