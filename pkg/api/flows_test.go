package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torc-hpc/torc/pkg/export"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

var ampleResources = types.ComputeNodesResources{NumCPUs: 8, MemoryGB: 32, NumGPUs: 2, NumNodes: 2}

func (c *client) createWorkflow(t *testing.T, name string) *types.Workflow {
	t.Helper()
	var w types.Workflow
	status, body := c.do(http.MethodPost, "/workflows", map[string]string{"name": name}, &w)
	require.Equal(t, http.StatusCreated, status, "body: %s", body)
	return &w
}

func (c *client) createJob(t *testing.T, workflowID int64, req createJobRequest) *types.Job {
	t.Helper()
	var j types.Job
	status, body := c.do(http.MethodPost, fmt.Sprintf("/workflows/%d/jobs", workflowID), req, &j)
	require.Equal(t, http.StatusCreated, status, "body: %s", body)
	return &j
}

func (c *client) claim(t *testing.T, workflowID int64, req types.ClaimJobsRequest) *types.ClaimJobsResponse {
	t.Helper()
	var resp types.ClaimJobsResponse
	status, body := c.do(http.MethodPost, fmt.Sprintf("/workflows/%d/jobs/claim_by_resources", workflowID), req, &resp)
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	return &resp
}

func (c *client) complete(t *testing.T, jobID int64, status types.JobStatus, rc int) {
	t.Helper()
	req := types.CompleteJobRequest{Status: status, ReturnCode: rc}
	code, body := c.do(http.MethodPost, fmt.Sprintf("/jobs/%d/complete", jobID), req, nil)
	require.Equal(t, http.StatusOK, code, "body: %s", body)
}

func (c *client) jobStatus(t *testing.T, workflowID, jobID int64) types.JobStatus {
	t.Helper()
	var j types.Job
	status, _ := c.do(http.MethodGet, fmt.Sprintf("/workflows/%d/jobs/%d", workflowID, jobID), nil, &j)
	require.Equal(t, http.StatusOK, status)
	return j.Status
}

// TestWorkflowLifecycle drives a diamond DAG end to end over HTTP:
// create, initialize, claim, complete, and observe workflow completion.
func TestWorkflowLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := newClient(t, srv)

	w := c.createWorkflow(t, "diamond")
	a := c.createJob(t, w.ID, createJobRequest{Name: "a", Command: "gen.sh"})
	b := c.createJob(t, w.ID, createJobRequest{Name: "b", Command: "left.sh", DependsOnJobIDs: []int64{a.ID}})
	d := c.createJob(t, w.ID, createJobRequest{Name: "c", Command: "right.sh", DependsOnJobIDs: []int64{a.ID}})
	e := c.createJob(t, w.ID, createJobRequest{Name: "d", Command: "join.sh", DependsOnJobIDs: []int64{b.ID, d.ID}})

	var initRes types.InitializeResult
	status, body := c.do(http.MethodPost, fmt.Sprintf("/workflows/%d/initialize", w.ID), nil, &initRes)
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	assert.Equal(t, int64(1), initRes.RunID)
	assert.Equal(t, 4, initRes.TotalJobs)
	assert.Equal(t, 1, initRes.ReadyJobs)
	assert.Equal(t, 3, initRes.BlockedJobs)

	// Round 1: only the root is claimable.
	resp := c.claim(t, w.ID, types.ClaimJobsRequest{Resources: ampleResources})
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, a.ID, resp.Jobs[0].ID)
	assert.Equal(t, types.JobStatusSubmitted, resp.Jobs[0].Status)
	assert.Equal(t, int64(1), resp.Jobs[0].AttemptID)

	c.complete(t, a.ID, types.JobStatusCompleted, 0)
	assert.Equal(t, types.JobStatusReady, c.jobStatus(t, w.ID, b.ID))
	assert.Equal(t, types.JobStatusReady, c.jobStatus(t, w.ID, d.ID))
	assert.Equal(t, types.JobStatusBlocked, c.jobStatus(t, w.ID, e.ID))

	// Round 2: both middle jobs fit at once.
	resp = c.claim(t, w.ID, types.ClaimJobsRequest{Resources: ampleResources})
	require.Len(t, resp.Jobs, 2)
	c.complete(t, b.ID, types.JobStatusCompleted, 0)
	c.complete(t, d.ID, types.JobStatusCompleted, 0)

	// Round 3: the join.
	resp = c.claim(t, w.ID, types.ClaimJobsRequest{Resources: ampleResources})
	require.Len(t, resp.Jobs, 1)
	require.Equal(t, e.ID, resp.Jobs[0].ID)
	c.complete(t, e.ID, types.JobStatusCompleted, 0)

	var final types.Workflow
	status, _ = c.do(http.MethodGet, fmt.Sprintf("/workflows/%d", w.ID), nil, &final)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, types.WorkflowStatusCompleted, final.Status)

	// The audit trail recorded the run.
	var evs []*types.Event
	status, _ = c.do(http.MethodGet, fmt.Sprintf("/workflows/%d/events", w.ID), nil, &evs)
	require.Equal(t, http.StatusOK, status)
	kinds := make(map[types.EventType]int)
	for _, ev := range evs {
		kinds[ev.Type]++
	}
	assert.Equal(t, 1, kinds[types.EventWorkflowStarted])
	assert.Equal(t, 1, kinds[types.EventWorkflowCompleted])
	assert.Equal(t, 4, kinds[types.EventJobCompleted])

	var results []*types.Result
	status, _ = c.do(http.MethodGet, fmt.Sprintf("/workflows/%d/results", w.ID), nil, &results)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, results, 4)

	var jobResults []*types.Result
	status, _ = c.do(http.MethodGet, fmt.Sprintf("/workflows/%d/jobs/%d/results", w.ID, a.ID), nil, &jobResults)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, jobResults, 1)
	assert.Equal(t, int64(1), jobResults[0].RunID)
}

func TestClaimLongPollTimesOutEmpty(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := newClient(t, srv)

	w := c.createWorkflow(t, "sequential")
	a := c.createJob(t, w.ID, createJobRequest{Name: "a", Command: "one.sh"})
	c.createJob(t, w.ID, createJobRequest{Name: "b", Command: "two.sh", DependsOnJobIDs: []int64{a.ID}})

	status, _ := c.do(http.MethodPost, fmt.Sprintf("/workflows/%d/initialize", w.ID), nil, nil)
	require.Equal(t, http.StatusOK, status)

	resp := c.claim(t, w.ID, types.ClaimJobsRequest{Resources: ampleResources})
	require.Len(t, resp.Jobs, 1)

	// Nothing else is ready; the claim parks until the wait timeout and
	// then reports empty rather than erroring.
	start := time.Now()
	resp = c.claim(t, w.ID, types.ClaimJobsRequest{Resources: ampleResources})
	assert.Empty(t, resp.Jobs)
	assert.GreaterOrEqual(t, time.Since(start), testWaitTimeout)
}

func TestClaimWokenByCompletion(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := newClient(t, srv)

	w := c.createWorkflow(t, "wake")
	a := c.createJob(t, w.ID, createJobRequest{Name: "a", Command: "one.sh"})
	b := c.createJob(t, w.ID, createJobRequest{Name: "b", Command: "two.sh", DependsOnJobIDs: []int64{a.ID}})

	status, _ := c.do(http.MethodPost, fmt.Sprintf("/workflows/%d/initialize", w.ID), nil, nil)
	require.Equal(t, http.StatusOK, status)
	resp := c.claim(t, w.ID, types.ClaimJobsRequest{Resources: ampleResources})
	require.Len(t, resp.Jobs, 1)

	claimed := make(chan *types.ClaimJobsResponse, 1)
	go func() {
		var r types.ClaimJobsResponse
		code, _ := c.do(http.MethodPost, fmt.Sprintf("/workflows/%d/jobs/claim_by_resources", w.ID), types.ClaimJobsRequest{Resources: ampleResources}, &r)
		if code == http.StatusOK {
			claimed <- &r
		}
		close(claimed)
	}()

	// Give the long-poll a moment to park, then free the dependency.
	time.Sleep(20 * time.Millisecond)
	c.complete(t, a.ID, types.JobStatusCompleted, 0)

	select {
	case r := <-claimed:
		require.NotNil(t, r)
		require.Len(t, r.Jobs, 1)
		assert.Equal(t, b.ID, r.Jobs[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("claim was not woken by the completion")
	}
}

func TestFailureCascadeOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := newClient(t, srv)

	w := c.createWorkflow(t, "cascade")
	a := c.createJob(t, w.ID, createJobRequest{Name: "a", Command: "one.sh"})
	b := c.createJob(t, w.ID, createJobRequest{
		Name: "b", Command: "two.sh",
		DependsOnJobIDs:            []int64{a.ID},
		CancelOnBlockingJobFailure: true,
	})

	status, _ := c.do(http.MethodPost, fmt.Sprintf("/workflows/%d/initialize", w.ID), nil, nil)
	require.Equal(t, http.StatusOK, status)
	resp := c.claim(t, w.ID, types.ClaimJobsRequest{Resources: ampleResources})
	require.Len(t, resp.Jobs, 1)

	c.complete(t, a.ID, types.JobStatusCanceled, 0)
	assert.Equal(t, types.JobStatusCanceled, c.jobStatus(t, w.ID, b.ID))

	// failed_only reset returns both to the pre-initialize state.
	var reset types.ResetResult
	status, _ = c.do(http.MethodPost, fmt.Sprintf("/workflows/%d/reset?failed_only=true", w.ID), nil, &reset)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, reset.ResetJobs)
	assert.Equal(t, types.JobStatusUninitialized, c.jobStatus(t, w.ID, a.ID))
	assert.Equal(t, types.JobStatusUninitialized, c.jobStatus(t, w.ID, b.ID))
}

func TestPerJobResetReversal(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := newClient(t, srv)

	w := c.createWorkflow(t, "reversal")
	a := c.createJob(t, w.ID, createJobRequest{Name: "a", Command: "one.sh"})
	b := c.createJob(t, w.ID, createJobRequest{Name: "b", Command: "two.sh", DependsOnJobIDs: []int64{a.ID}})

	status, _ := c.do(http.MethodPost, fmt.Sprintf("/workflows/%d/initialize", w.ID), nil, nil)
	require.Equal(t, http.StatusOK, status)
	c.claim(t, w.ID, types.ClaimJobsRequest{Resources: ampleResources})
	c.complete(t, a.ID, types.JobStatusCompleted, 0)
	c.claim(t, w.ID, types.ClaimJobsRequest{Resources: ampleResources})
	c.complete(t, b.ID, types.JobStatusCompleted, 0)

	// Resetting the root must sweep its completed dependent.
	var reset types.ResetResult
	status, body := c.do(http.MethodPost, fmt.Sprintf("/workflows/%d/jobs/%d/reset", w.ID, a.ID), nil, &reset)
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	assert.Equal(t, 2, reset.ResetJobs)
	assert.Equal(t, types.JobStatusUninitialized, c.jobStatus(t, w.ID, b.ID))
}

func TestJobDeleteGuards(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := newClient(t, srv)

	w := c.createWorkflow(t, "guards")
	a := c.createJob(t, w.ID, createJobRequest{Name: "a", Command: "one.sh"})
	b := c.createJob(t, w.ID, createJobRequest{Name: "b", Command: "two.sh", DependsOnJobIDs: []int64{a.ID}})

	// A depended-on job cannot be deleted.
	status, body := c.do(http.MethodDelete, fmt.Sprintf("/workflows/%d/jobs/%d", w.ID, a.ID), nil, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, torcerr.CodeConflict, c.errCode(t, body))

	// The leaf can, while uninitialized.
	status, _ = c.do(http.MethodDelete, fmt.Sprintf("/workflows/%d/jobs/%d", w.ID, b.ID), nil, nil)
	assert.Equal(t, http.StatusNoContent, status)

	// Once initialized, deletion is refused.
	status, _ = c.do(http.MethodPost, fmt.Sprintf("/workflows/%d/initialize", w.ID), nil, nil)
	require.Equal(t, http.StatusOK, status)
	status, body = c.do(http.MethodDelete, fmt.Sprintf("/workflows/%d/jobs/%d", w.ID, a.ID), nil, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, torcerr.CodeInvalidState, c.errCode(t, body))
}

func TestEntityCRUDAndGuards(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := newClient(t, srv)
	w := c.createWorkflow(t, "entities")
	base := fmt.Sprintf("/workflows/%d", w.ID)

	var f types.File
	status, _ := c.do(http.MethodPost, base+"/files", map[string]string{"name": "mesh", "path": "/scratch/mesh.h5"}, &f)
	require.Equal(t, http.StatusCreated, status)

	var got types.File
	status, _ = c.do(http.MethodGet, fmt.Sprintf("%s/files/%d", base, f.ID), nil, &got)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "mesh", got.Name)

	// Duplicate path is a conflict.
	status, body := c.do(http.MethodPost, base+"/files", map[string]string{"name": "other", "path": "/scratch/mesh.h5"}, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, torcerr.CodeConflict, c.errCode(t, body))

	// A file referenced by a job cannot be deleted.
	c.createJob(t, w.ID, createJobRequest{Name: "consumer", Command: "use.sh", InputFileIDs: []int64{f.ID}})
	status, body = c.do(http.MethodDelete, fmt.Sprintf("%s/files/%d", base, f.ID), nil, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, torcerr.CodeConflict, c.errCode(t, body))

	// Invalid memory strings are rejected at create time.
	status, body = c.do(http.MethodPost, base+"/resource_requirements", map[string]interface{}{"name": "bad", "memory": "10zz"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, torcerr.CodeInvalidInput, c.errCode(t, body))

	var rr types.ResourceRequirements
	status, _ = c.do(http.MethodPost, base+"/resource_requirements", map[string]interface{}{"name": "big", "num_cpus": 4, "memory": "8g"}, &rr)
	require.Equal(t, http.StatusCreated, status)

	var ud types.UserData
	status, _ = c.do(http.MethodPost, base+"/user_data", map[string]interface{}{"name": "params", "data": map[string]int{"n": 3}}, &ud)
	require.Equal(t, http.StatusCreated, status)

	var slurm types.SlurmScheduler
	status, _ = c.do(http.MethodPost, base+"/slurm_schedulers", map[string]string{"name": "hpc", "account": "proj"}, &slurm)
	require.Equal(t, http.StatusCreated, status)
	var local types.LocalScheduler
	status, _ = c.do(http.MethodPost, base+"/local_schedulers", map[string]interface{}{"name": "laptop", "max_parallel_jobs": 2}, &local)
	require.Equal(t, http.StatusCreated, status)
	// Shared id space across scheduler types.
	assert.NotEqual(t, slurm.ID, local.ID)

	var action types.WorkflowAction
	status, _ = c.do(http.MethodPost, base+"/workflow_actions", map[string]interface{}{"name": "notify", "trigger": "on_workflow_complete"}, &action)
	require.Equal(t, http.StatusCreated, status)
	status, body = c.do(http.MethodPost, base+"/workflow_actions", map[string]interface{}{"name": "bad", "trigger": "on_tuesday"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, torcerr.CodeInvalidInput, c.errCode(t, body))

	// Unreferenced entities delete cleanly.
	var f2 types.File
	status, _ = c.do(http.MethodPost, base+"/files", map[string]string{"name": "spare", "path": "/scratch/spare"}, &f2)
	require.Equal(t, http.StatusCreated, status)
	status, _ = c.do(http.MethodDelete, fmt.Sprintf("%s/files/%d", base, f2.ID), nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestMissingFilesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := newClient(t, srv)
	w := c.createWorkflow(t, "artifacts")
	base := fmt.Sprintf("/workflows/%d", w.ID)

	var input, output types.File
	status, _ := c.do(http.MethodPost, base+"/files", map[string]string{"name": "raw", "path": "/data/raw.csv"}, &input)
	require.Equal(t, http.StatusCreated, status)
	status, _ = c.do(http.MethodPost, base+"/files", map[string]string{"name": "clean", "path": "/data/clean.csv"}, &output)
	require.Equal(t, http.StatusCreated, status)

	c.createJob(t, w.ID, createJobRequest{
		Name: "clean", Command: "clean.sh",
		InputFileIDs:  []int64{input.ID},
		OutputFileIDs: []int64{output.ID},
	})

	// Only the user-supplied input is required to exist up front.
	var required []*types.File
	status, _ = c.do(http.MethodGet, base+"/missing_files", nil, &required)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, required, 1)
	assert.Equal(t, input.ID, required[0].ID)
}

func TestComputeNodesOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := newClient(t, srv)
	w := c.createWorkflow(t, "nodes")

	// Driver records a pending allocation under external id slurm-777.
	var alloc types.ScheduledComputeNode
	status, body := c.do(http.MethodPost, "/scheduled_compute_nodes", map[string]interface{}{
		"workflow_id":    w.ID,
		"scheduler_id":   "slurm-777",
		"scheduler_type": "slurm",
	}, &alloc)
	require.Equal(t, http.StatusCreated, status, "body: %s", body)
	assert.Equal(t, types.AllocationStatusPending, alloc.Status)

	// Worker from that allocation attaches; the allocation goes active.
	var node types.ComputeNode
	status, body = c.do(http.MethodPost, fmt.Sprintf("/workflows/%d/compute_nodes", w.ID), map[string]interface{}{
		"hostname":     "node0042",
		"resources":    ampleResources,
		"scheduler_id": "slurm-777",
	}, &node)
	require.Equal(t, http.StatusCreated, status, "body: %s", body)
	assert.True(t, node.IsActive)

	status, _ = c.do(http.MethodGet, fmt.Sprintf("/scheduled_compute_nodes/%d", alloc.ID), nil, &alloc)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, types.AllocationStatusActive, alloc.Status)

	// Heartbeats advance the liveness clock.
	before := node.LastHeartbeat
	time.Sleep(5 * time.Millisecond)
	status, _ = c.do(http.MethodPost, fmt.Sprintf("/compute_nodes/%d/heartbeat", node.ID), nil, &node)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, node.LastHeartbeat.After(before))

	// Detach: node goes inactive and the drained allocation completes.
	status, _ = c.do(http.MethodPost, fmt.Sprintf("/compute_nodes/%d/deactivate", node.ID), nil, &node)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, node.IsActive)

	status, _ = c.do(http.MethodGet, fmt.Sprintf("/scheduled_compute_nodes/%d", alloc.ID), nil, &alloc)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, types.AllocationStatusComplete, alloc.Status)

	// Terminal transitions are idempotent.
	status, _ = c.do(http.MethodPut, fmt.Sprintf("/scheduled_compute_nodes/%d/status", alloc.ID), map[string]string{"status": "complete"}, &alloc)
	assert.Equal(t, http.StatusOK, status)

	var nodes []*types.ComputeNode
	status, _ = c.do(http.MethodGet, fmt.Sprintf("/workflows/%d/compute_nodes", w.ID), nil, &nodes)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, nodes, 1)

	var allocs []*types.ScheduledComputeNode
	status, _ = c.do(http.MethodGet, fmt.Sprintf("/workflows/%d/scheduled_compute_nodes?active_only=true", w.ID), nil, &allocs)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, allocs)
}

func TestExportImportOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := newClient(t, srv)
	w := c.createWorkflow(t, "portable")
	a := c.createJob(t, w.ID, createJobRequest{Name: "a", Command: "one.sh"})
	c.createJob(t, w.ID, createJobRequest{Name: "b", Command: "two.sh", DependsOnJobIDs: []int64{a.ID}})

	var doc export.Document
	status, body := c.do(http.MethodGet, fmt.Sprintf("/workflows/%d/export", w.ID), nil, &doc)
	require.Equal(t, http.StatusOK, status, "body: %s", body)
	require.Equal(t, export.Version, doc.ExportVersion)
	require.Len(t, doc.Jobs, 2)

	var imported types.Workflow
	status, body = c.do(http.MethodPost, "/workflows/import", doc, &imported)
	require.Equal(t, http.StatusCreated, status, "body: %s", body)
	assert.NotEqual(t, w.ID, imported.ID)

	var jobs []*types.Job
	status, _ = c.do(http.MethodGet, fmt.Sprintf("/workflows/%d/jobs", imported.ID), nil, &jobs)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, jobs, 2)

	// Unknown versions are refused.
	var raw map[string]json.RawMessage
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["export_version"] = json.RawMessage(`"9.9"`)
	status, body = c.do(http.MethodPost, "/workflows/import", raw, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, torcerr.CodeInvalidInput, c.errCode(t, body))
}

func TestWorkflowDeleteCascades(t *testing.T) {
	srv, store := newTestServer(t, nil)
	c := newClient(t, srv)
	w := c.createWorkflow(t, "doomed")
	j := c.createJob(t, w.ID, createJobRequest{Name: "a", Command: "one.sh"})

	status, _ := c.do(http.MethodDelete, fmt.Sprintf("/workflows/%d", w.ID), nil, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = c.do(http.MethodGet, fmt.Sprintf("/workflows/%d", w.ID), nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// The global job index entry is gone too.
	_, err := store.FindJob(j.ID)
	assert.True(t, torcerr.Is(err, torcerr.CodeNotFound))
}
