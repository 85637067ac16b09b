package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/types"
)

func addRequirements(t *testing.T, store storage.Store, wf *types.Workflow, name string, cpus int, memory string) *types.ResourceRequirements {
	t.Helper()
	rr := &types.ResourceRequirements{
		WorkflowID: wf.ID,
		Name:       name,
		NumCPUs:    cpus,
		Memory:     memory,
	}
	require.NoError(t, store.CreateResourceRequirements(rr))
	return rr
}

func withRequirements(rr *types.ResourceRequirements) func(*types.Job) {
	return func(j *types.Job) { j.ResourceRequirementsID = rr.ID }
}

func TestClaimGreedyWithinBudget(t *testing.T) {
	e, store, wf := newTestEngine(t)
	small := addRequirements(t, store, wf, "small", 1, "1g")
	for _, name := range []string{"a", "b", "c"} {
		addJob(t, store, wf, name, withRequirements(small))
	}
	_, err := e.InitializeJobs(wf.ID)
	require.NoError(t, err)

	resp, err := e.ClaimJobs(wf.ID, &types.ClaimJobsRequest{
		Resources: types.ComputeNodesResources{NumCPUs: 2, MemoryGB: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.RunID)
	require.Len(t, resp.Jobs, 2, "two 1cpu/1g jobs fill a 2cpu/2g budget")
	for _, j := range resp.Jobs {
		assert.Equal(t, types.JobStatusSubmitted, j.Status)
		assert.Equal(t, int64(1), j.AttemptID)
	}

	// One ready job remains for the next claimant.
	resp, err = e.ClaimJobs(wf.ID, &types.ClaimJobsRequest{
		Resources: types.ComputeNodesResources{NumCPUs: 2, MemoryGB: 2},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Jobs, 1)
}

func TestClaimZeroResourcesReturnsNothing(t *testing.T) {
	e, store, wf := newTestEngine(t)
	a := addJob(t, store, wf, "a")
	_, err := e.InitializeJobs(wf.ID)
	require.NoError(t, err)

	resp, err := e.ClaimJobs(wf.ID, &types.ClaimJobsRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Jobs)
	assert.Equal(t, types.JobStatusReady, getJob(t, store, wf, a.ID).Status)
}

func TestClaimSequentialClaimsAreDisjoint(t *testing.T) {
	e, store, wf := newTestEngine(t)
	for _, name := range []string{"a", "b", "c", "d"} {
		addJob(t, store, wf, name)
	}
	_, err := e.InitializeJobs(wf.ID)
	require.NoError(t, err)

	seen := make(map[int64]bool)
	for {
		resp, err := e.ClaimJobs(wf.ID, &types.ClaimJobsRequest{
			Resources: types.ComputeNodesResources{NumCPUs: 1},
			MaxJobs:   1,
		})
		require.NoError(t, err)
		if len(resp.Jobs) == 0 {
			break
		}
		for _, j := range resp.Jobs {
			assert.False(t, seen[j.ID], "job %d claimed twice", j.ID)
			seen[j.ID] = true
		}
	}
	assert.Len(t, seen, 4)
}

func TestClaimPriorityOrder(t *testing.T) {
	e, store, wf := newTestEngine(t)
	low := addJob(t, store, wf, "low")
	high := addJob(t, store, wf, "high", func(j *types.Job) { j.Priority = 10 })
	mid := addJob(t, store, wf, "mid", func(j *types.Job) { j.Priority = 5 })
	mid2 := addJob(t, store, wf, "mid2", func(j *types.Job) { j.Priority = 5 })
	_, err := e.InitializeJobs(wf.ID)
	require.NoError(t, err)

	resp, err := e.ClaimJobs(wf.ID, &types.ClaimJobsRequest{
		Resources: types.ComputeNodesResources{NumCPUs: 16},
	})
	require.NoError(t, err)
	require.Len(t, resp.Jobs, 4)
	assert.Equal(t, high.ID, resp.Jobs[0].ID)
	assert.Equal(t, mid.ID, resp.Jobs[1].ID, "equal priority breaks ties by id")
	assert.Equal(t, mid2.ID, resp.Jobs[2].ID)
	assert.Equal(t, low.ID, resp.Jobs[3].ID)
}

func TestClaimMaxJobs(t *testing.T) {
	e, store, wf := newTestEngine(t)
	for _, name := range []string{"a", "b", "c"} {
		addJob(t, store, wf, name)
	}
	_, err := e.InitializeJobs(wf.ID)
	require.NoError(t, err)

	resp, err := e.ClaimJobs(wf.ID, &types.ClaimJobsRequest{
		Resources: types.ComputeNodesResources{NumCPUs: 16},
		MaxJobs:   2,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Jobs, 2)
}

func TestClaimSkipsTooLargeJobs(t *testing.T) {
	e, store, wf := newTestEngine(t)
	huge := addRequirements(t, store, wf, "huge", 32, "200g")
	small := addRequirements(t, store, wf, "small", 1, "1g")
	big := addJob(t, store, wf, "big", withRequirements(huge), func(j *types.Job) { j.Priority = 10 })
	little := addJob(t, store, wf, "little", withRequirements(small))
	_, err := e.InitializeJobs(wf.ID)
	require.NoError(t, err)

	resp, err := e.ClaimJobs(wf.ID, &types.ClaimJobsRequest{
		Resources: types.ComputeNodesResources{NumCPUs: 4, MemoryGB: 8},
	})
	require.NoError(t, err)
	require.Len(t, resp.Jobs, 1, "the oversized high-priority job is skipped, not fatal")
	assert.Equal(t, little.ID, resp.Jobs[0].ID)
	assert.Equal(t, types.JobStatusReady, getJob(t, store, wf, big.ID).Status)
}

func TestClaimDefaultsToOneCPU(t *testing.T) {
	e, store, wf := newTestEngine(t)
	addJob(t, store, wf, "bare") // no requirements record
	_, err := e.InitializeJobs(wf.ID)
	require.NoError(t, err)

	resp, err := e.ClaimJobs(wf.ID, &types.ClaimJobsRequest{
		Resources: types.ComputeNodesResources{MemoryGB: 64},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Jobs, "a job with no requirements still needs a cpu")

	resp, err = e.ClaimJobs(wf.ID, &types.ClaimJobsRequest{
		Resources: types.ComputeNodesResources{NumCPUs: 1},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Jobs, 1)
}

func TestClaimSchedulerPinning(t *testing.T) {
	e, store, wf := newTestEngine(t)
	pinned := addJob(t, store, wf, "pinned", func(j *types.Job) { j.SchedulerID = 2 })
	free := addJob(t, store, wf, "free")
	_, err := e.InitializeJobs(wf.ID)
	require.NoError(t, err)

	resp, err := e.ClaimJobs(wf.ID, &types.ClaimJobsRequest{
		Resources:   types.ComputeNodesResources{NumCPUs: 16},
		SchedulerID: 1,
	})
	require.NoError(t, err)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, free.ID, resp.Jobs[0].ID)
	assert.Equal(t, int64(1), resp.Jobs[0].SchedulerID, "unpinned job is stamped with the claimant's scheduler")

	resp, err = e.ClaimJobs(wf.ID, &types.ClaimJobsRequest{
		Resources:   types.ComputeNodesResources{NumCPUs: 16},
		SchedulerID: 2,
	})
	require.NoError(t, err)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, pinned.ID, resp.Jobs[0].ID)
}

func TestClaimStampsComputeNode(t *testing.T) {
	e, store, wf := newTestEngine(t)
	a := addJob(t, store, wf, "a")
	_, err := e.InitializeJobs(wf.ID)
	require.NoError(t, err)

	resp, err := e.ClaimJobs(wf.ID, &types.ClaimJobsRequest{
		Resources:     types.ComputeNodesResources{NumCPUs: 1},
		ComputeNodeID: 77,
	})
	require.NoError(t, err)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, int64(77), getJob(t, store, wf, a.ID).ComputeNodeID)
}

func TestClaimAttemptIDsAreMonotonic(t *testing.T) {
	e, store, wf := newTestEngine(t)
	a := addJob(t, store, wf, "a")

	for attempt := int64(1); attempt <= 3; attempt++ {
		_, err := e.InitializeJobs(wf.ID)
		require.NoError(t, err)
		resp, err := e.ClaimJobs(wf.ID, &types.ClaimJobsRequest{
			Resources: types.ComputeNodesResources{NumCPUs: 1},
		})
		require.NoError(t, err)
		require.Len(t, resp.Jobs, 1)
		assert.Equal(t, attempt, resp.Jobs[0].AttemptID)
		completeOK(t, e, a.ID)
		_, err = e.ResetJobStatus(wf.ID, false)
		require.NoError(t, err)
	}
}
