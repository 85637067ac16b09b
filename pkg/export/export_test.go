package export

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "torc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedWorkflow builds a small but fully cross-referenced workflow:
// prep -> simulate -> report, with a file edge prep->simulate, user
// data on report, requirements on simulate, and a scheduler pin.
func seedWorkflow(t *testing.T, store storage.Store) *types.Workflow {
	t.Helper()

	w := &types.Workflow{Name: "demo", User: "alice", Description: "round trip"}
	require.NoError(t, store.CreateWorkflow(w))

	intermediate := &types.File{WorkflowID: w.ID, Name: "mesh", Path: "/scratch/mesh.h5"}
	require.NoError(t, store.CreateFile(intermediate))

	params := &types.UserData{WorkflowID: w.ID, Name: "params", Data: json.RawMessage(`{"n":4}`)}
	require.NoError(t, store.CreateUserData(params))

	rr := &types.ResourceRequirements{WorkflowID: w.ID, Name: "big", NumCPUs: 8, Memory: "16g"}
	require.NoError(t, store.CreateResourceRequirements(rr))

	slurm := &types.SlurmScheduler{WorkflowID: w.ID, Name: "hpc", Account: "proj1", Partition: "gpu"}
	require.NoError(t, store.CreateSlurmScheduler(slurm))
	local := &types.LocalScheduler{WorkflowID: w.ID, Name: "laptop", MaxParallelJobs: 2}
	require.NoError(t, store.CreateLocalScheduler(local))

	prep := &types.Job{WorkflowID: w.ID, Name: "prep", Command: "prep.sh", OutputFileIDs: []int64{intermediate.ID}}
	require.NoError(t, store.CreateJob(prep))

	simulate := &types.Job{
		WorkflowID:             w.ID,
		Name:                   "simulate",
		Command:                "sim.sh",
		InputFileIDs:           []int64{intermediate.ID},
		ResourceRequirementsID: rr.ID,
		SchedulerID:            slurm.ID,
	}
	require.NoError(t, store.CreateJob(simulate))

	report := &types.Job{
		WorkflowID:       w.ID,
		Name:             "report",
		Command:          "report.sh",
		DependsOnJobIDs:  []int64{simulate.ID},
		InputUserDataIDs: []int64{params.ID},
	}
	require.NoError(t, store.CreateJob(report))

	action := &types.WorkflowAction{
		WorkflowID: w.ID,
		Trigger:    types.TriggerOnWorkflowComplete,
		Name:       "notify",
		Payload:    json.RawMessage(`{"channel":"#hpc"}`),
	}
	require.NoError(t, store.CreateWorkflowAction(action))

	return w
}

func jobByName(t *testing.T, jobs []*types.Job, name string) *types.Job {
	t.Helper()
	for _, j := range jobs {
		if j.Name == name {
			return j
		}
	}
	t.Fatalf("job %q not found", name)
	return nil
}

func TestExportSnapshot(t *testing.T) {
	store := newTestStore(t)
	w := seedWorkflow(t, store)

	doc, err := Export(store, w.ID, Options{})
	require.NoError(t, err)

	assert.Equal(t, "1.0", doc.ExportVersion)
	assert.False(t, doc.ExportedAt.IsZero())
	assert.Equal(t, w.ID, doc.Workflow.ID)
	assert.Len(t, doc.Files, 1)
	assert.Len(t, doc.UserData, 1)
	assert.Len(t, doc.ResourceRequirements, 1)
	assert.Len(t, doc.SlurmSchedulers, 1)
	assert.Len(t, doc.LocalSchedulers, 1)
	assert.Len(t, doc.Jobs, 3)
	assert.Len(t, doc.WorkflowActions, 1)
	assert.Nil(t, doc.Results)
	assert.Nil(t, doc.Events)
}

func TestExportIncludesHistoryOnRequest(t *testing.T) {
	store := newTestStore(t)
	w := seedWorkflow(t, store)
	jobs, err := store.ListJobs(w.ID)
	require.NoError(t, err)

	require.NoError(t, store.CreateResult(&types.Result{
		WorkflowID: w.ID, JobID: jobs[0].ID, RunID: 1, AttemptID: 1,
		Status: types.JobStatusCompleted,
	}))
	require.NoError(t, store.CreateEvent(&types.Event{
		WorkflowID: w.ID, Category: types.EventCategoryWorkflow, Type: types.EventWorkflowStarted,
	}))

	doc, err := Export(store, w.ID, Options{IncludeResults: true, IncludeEvents: true})
	require.NoError(t, err)
	assert.Len(t, doc.Results, 1)
	assert.Len(t, doc.Events, 1)
}

func TestExportUnknownWorkflow(t *testing.T) {
	store := newTestStore(t)
	_, err := Export(store, 12345, Options{})
	assert.True(t, torcerr.Is(err, torcerr.CodeNotFound))
}

func TestImportRoundTrip(t *testing.T) {
	store := newTestStore(t)
	w := seedWorkflow(t, store)

	doc, err := Export(store, w.ID, Options{})
	require.NoError(t, err)

	imported, err := Import(store, doc, "bob")
	require.NoError(t, err)
	require.NotEqual(t, w.ID, imported.ID)
	assert.Equal(t, "demo", imported.Name)
	assert.Equal(t, "bob", imported.User)
	assert.Equal(t, types.WorkflowStatusCreated, imported.Status)
	assert.Equal(t, int64(0), imported.RunID)

	jobs, err := store.ListJobs(imported.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	files, err := store.ListFiles(imported.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.NotEqual(t, doc.Files[0].ID, files[0].ID)
	assert.Equal(t, "mesh", files[0].Name)

	prep := jobByName(t, jobs, "prep")
	simulate := jobByName(t, jobs, "simulate")
	report := jobByName(t, jobs, "report")

	// Every cross-reference points at the new IDs.
	assert.Equal(t, []int64{files[0].ID}, prep.OutputFileIDs)
	assert.Equal(t, []int64{files[0].ID}, simulate.InputFileIDs)
	assert.Equal(t, []int64{simulate.ID}, report.DependsOnJobIDs)

	reqs, err := store.ListResourceRequirements(imported.ID)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, reqs[0].ID, simulate.ResourceRequirementsID)

	slurms, err := store.ListSlurmSchedulers(imported.ID)
	require.NoError(t, err)
	require.Len(t, slurms, 1)
	assert.Equal(t, slurms[0].ID, simulate.SchedulerID)

	uds, err := store.ListUserData(imported.ID)
	require.NoError(t, err)
	require.Len(t, uds, 1)
	assert.Equal(t, []int64{uds[0].ID}, report.InputUserDataIDs)

	actions, err := store.ListWorkflowActions(imported.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, types.TriggerOnWorkflowComplete, actions[0].Trigger)

	for _, j := range jobs {
		assert.Equal(t, types.JobStatusUninitialized, j.Status)
		assert.Zero(t, j.AttemptID)
		assert.Zero(t, j.ComputeNodeID)
	}
}

func TestImportResetsRuntimeState(t *testing.T) {
	store := newTestStore(t)
	w := seedWorkflow(t, store)

	// Simulate a workflow mid-run: claimed job with runtime fields set,
	// one disabled job.
	jobs, err := store.ListJobs(w.ID)
	require.NoError(t, err)
	running := jobByName(t, jobs, "prep")
	running.Status = types.JobStatusRunning
	running.AttemptID = 3
	running.ComputeNodeID = 42
	require.NoError(t, store.UpdateJob(running))
	disabled := jobByName(t, jobs, "report")
	disabled.Status = types.JobStatusDisabled
	require.NoError(t, store.UpdateJob(disabled))

	doc, err := Export(store, w.ID, Options{})
	require.NoError(t, err)
	imported, err := Import(store, doc, "")
	require.NoError(t, err)
	assert.Equal(t, "alice", imported.User) // falls back to the document's owner

	newJobs, err := store.ListJobs(imported.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusUninitialized, jobByName(t, newJobs, "prep").Status)
	assert.Zero(t, jobByName(t, newJobs, "prep").AttemptID)
	assert.Equal(t, types.JobStatusDisabled, jobByName(t, newJobs, "report").Status)
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	store := newTestStore(t)
	doc := &Document{ExportVersion: "2.0", Workflow: &types.Workflow{Name: "x"}}
	_, err := Import(store, doc, "alice")
	require.Error(t, err)
	assert.True(t, torcerr.Is(err, torcerr.CodeInvalidInput))
	assert.Contains(t, err.Error(), "2.0")
}

func TestImportRejectsMissingWorkflow(t *testing.T) {
	store := newTestStore(t)
	_, err := Import(store, &Document{ExportVersion: Version}, "alice")
	assert.True(t, torcerr.Is(err, torcerr.CodeInvalidInput))
}

func TestImportDanglingReferenceIsAtomic(t *testing.T) {
	store := newTestStore(t)
	doc := &Document{
		ExportVersion: Version,
		Workflow:      &types.Workflow{Name: "broken"},
		Jobs: []*types.Job{
			{ID: 1, Name: "a", Command: "a.sh", InputFileIDs: []int64{99}},
		},
	}
	_, err := Import(store, doc, "alice")
	require.Error(t, err)
	assert.True(t, torcerr.Is(err, torcerr.CodeInvalidDag))

	// Nothing from the failed import may be visible.
	workflows, err := store.ListWorkflows()
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestImportDanglingDependency(t *testing.T) {
	store := newTestStore(t)
	doc := &Document{
		ExportVersion: Version,
		Workflow:      &types.Workflow{Name: "broken"},
		Jobs: []*types.Job{
			{ID: 1, Name: "a", Command: "a.sh", DependsOnJobIDs: []int64{7}},
		},
	}
	_, err := Import(store, doc, "alice")
	assert.True(t, torcerr.Is(err, torcerr.CodeInvalidDag))
}

// shape captures the dependency structure of a workflow by name, which
// is the part of a workflow that must survive export/import unchanged.
func shape(t *testing.T, store storage.Store, workflowID int64) map[string][]string {
	t.Helper()
	jobs, err := store.ListJobs(workflowID)
	require.NoError(t, err)
	byID := make(map[int64]string, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j.Name
	}
	out := make(map[string][]string, len(jobs))
	for _, j := range jobs {
		deps := make([]string, 0, len(j.DependsOnJobIDs))
		for _, dep := range j.DependsOnJobIDs {
			deps = append(deps, byID[dep])
		}
		sort.Strings(deps)
		out[j.Name] = deps
	}
	return out
}

func TestImportPreservesShape(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	// edges[i] is a bitmask of dependencies of job i on jobs j < i, so
	// every generated graph is acyclic by construction.
	properties.Property("export/import preserves the dependency structure", prop.ForAll(
		func(n int, edges []int) bool {
			w := &types.Workflow{Name: "gen", User: "alice"}
			if err := store.CreateWorkflow(w); err != nil {
				return false
			}
			ids := make([]int64, n)
			for i := 0; i < n; i++ {
				j := &types.Job{WorkflowID: w.ID, Name: fmt.Sprintf("job-%d", i), Command: "true"}
				for bit := 0; bit < i; bit++ {
					if i-1 < len(edges) && edges[i-1]&(1<<bit) != 0 {
						j.DependsOnJobIDs = append(j.DependsOnJobIDs, ids[bit])
					}
				}
				if err := store.CreateJob(j); err != nil {
					return false
				}
				ids[i] = j.ID
			}

			doc, err := Export(store, w.ID, Options{})
			if err != nil {
				return false
			}
			imported, err := Import(store, doc, "alice")
			if err != nil {
				return false
			}
			before := shape(t, store, w.ID)
			after := shape(t, store, imported.ID)
			if len(before) != len(after) {
				return false
			}
			for name, deps := range before {
				got, ok := after[name]
				if !ok || len(got) != len(deps) {
					return false
				}
				for i := range deps {
					if deps[i] != got[i] {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.SliceOfN(7, gen.IntRange(0, 127)),
	))

	properties.TestingRun(t)
}
