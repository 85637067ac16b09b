// Package artifacts answers audit queries about the files and user data
// a workflow's jobs exchange. The engine never touches the filesystem;
// it reports which artifacts ought to exist and an external checker
// verifies them.
package artifacts

import (
	"sort"

	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

// Resolver computes artifact expectations from recorded state.
type Resolver struct {
	store storage.Store
}

func New(store storage.Store) *Resolver {
	return &Resolver{store: store}
}

// ListRequiredExistingFiles returns the files that should exist on disk
// right now: inputs no job produces, which the user must supply before
// the run, and outputs of jobs that already completed successfully.
// Outputs of jobs that have not run yet are not expected to exist.
func (r *Resolver) ListRequiredExistingFiles(workflowID int64) ([]*types.File, error) {
	var out []*types.File
	err := r.store.View(func(tx *storage.Tx) error {
		if _, err := tx.Workflow(workflowID); err != nil {
			return err
		}
		jobs, err := tx.ListJobs(workflowID)
		if err != nil {
			return err
		}
		files, err := tx.ListFiles(workflowID)
		if err != nil {
			return err
		}
		required, err := requiredIDs(tx, jobs,
			func(j *types.Job) []int64 { return j.InputFileIDs },
			func(j *types.Job) []int64 { return j.OutputFileIDs })
		if err != nil {
			return err
		}
		for _, f := range files {
			if required[f.ID] {
				out = append(out, f)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// ListRequiredExistingUserData is the user-data analog of
// ListRequiredExistingFiles: records that should be populated, either
// by the user before the run or by a job that completed successfully.
func (r *Resolver) ListRequiredExistingUserData(workflowID int64) ([]*types.UserData, error) {
	var out []*types.UserData
	err := r.store.View(func(tx *storage.Tx) error {
		if _, err := tx.Workflow(workflowID); err != nil {
			return err
		}
		jobs, err := tx.ListJobs(workflowID)
		if err != nil {
			return err
		}
		userData, err := tx.ListUserData(workflowID)
		if err != nil {
			return err
		}
		required, err := requiredIDs(tx, jobs,
			func(j *types.Job) []int64 { return j.InputUserDataIDs },
			func(j *types.Job) []int64 { return j.OutputUserDataIDs })
		if err != nil {
			return err
		}
		for _, u := range userData {
			if required[u.ID] {
				out = append(out, u)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// requiredIDs applies the two expectation rules to one artifact kind:
// consumed but never produced, or produced by a job whose latest
// attempt succeeded.
func requiredIDs(tx *storage.Tx, jobs []*types.Job, inputs, outputs func(*types.Job) []int64) (map[int64]bool, error) {
	produced := make(map[int64][]*types.Job)
	consumed := make(map[int64]bool)
	for _, j := range jobs {
		for _, id := range outputs(j) {
			produced[id] = append(produced[id], j)
		}
		for _, id := range inputs(j) {
			consumed[id] = true
		}
	}

	required := make(map[int64]bool)
	for id := range consumed {
		if len(produced[id]) == 0 {
			required[id] = true
		}
	}
	for id, producers := range produced {
		for _, j := range producers {
			if j.Status != types.JobStatusCompleted {
				continue
			}
			r, err := tx.LatestResult(j.WorkflowID, j.ID)
			if err != nil {
				if torcerr.Is(err, torcerr.CodeNotFound) {
					continue
				}
				return nil, err
			}
			if r.Succeeded() {
				required[id] = true
				break
			}
		}
	}
	return required, nil
}
