package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

// ResetJobStatus returns jobs to Uninitialized so the next initialize
// re-runs them. With failedOnly, only failed jobs are selected:
// pending_failed, canceled, terminated, and completed jobs whose latest
// result did not succeed. Without it, every job that left
// Uninitialized is selected, except disabled jobs, which stay pinned.
//
// Every reset reverses completions downstream: a Completed job whose
// transitive ancestor is being re-run can no longer be trusted, so it
// is reset too, even though it succeeded.
func (e *Engine) ResetJobStatus(workflowID int64, failedOnly bool) (*types.ResetResult, error) {
	var (
		res types.ResetResult
		evs []*types.Event
	)
	err := e.store.Update(func(tx *storage.Tx) error {
		evs = nil
		wf, err := tx.Workflow(workflowID)
		if err != nil {
			return err
		}
		jobs, err := tx.ListJobs(workflowID)
		if err != nil {
			return err
		}
		var seeds []*types.Job
		for _, j := range jobs {
			pick, err := e.resetSeed(tx, j, failedOnly)
			if err != nil {
				return err
			}
			if pick {
				seeds = append(seeds, j)
			}
		}
		n, evl, err := e.resetJobs(tx, wf, jobs, seeds, failedOnly)
		if err != nil {
			return err
		}
		res.ResetJobs = n
		if evl != nil {
			evs = evl.evs
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(evs)
	if res.ResetJobs > 0 {
		e.logger.Info().
			Int64("workflow_id", workflowID).
			Bool("failed_only", failedOnly).
			Int("reset_jobs", res.ResetJobs).
			Msg("Jobs reset")
	}
	return &res, nil
}

// ResetJob resets a single job and reverses completions downstream of
// it. Resetting a job that never left Uninitialized, or a disabled job,
// changes nothing.
func (e *Engine) ResetJob(workflowID, jobID int64) (*types.ResetResult, error) {
	var (
		res types.ResetResult
		evs []*types.Event
	)
	err := e.store.Update(func(tx *storage.Tx) error {
		evs = nil
		wf, err := tx.Workflow(workflowID)
		if err != nil {
			return err
		}
		j, err := tx.Job(workflowID, jobID)
		if err != nil {
			return err
		}
		if j.Status == types.JobStatusUninitialized || j.Status == types.JobStatusDisabled {
			return nil
		}
		jobs, err := tx.ListJobs(workflowID)
		if err != nil {
			return err
		}
		n, evl, err := e.resetJobs(tx, wf, jobs, []*types.Job{j}, false)
		if err != nil {
			return err
		}
		res.ResetJobs = n
		if evl != nil {
			evs = evl.evs
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(evs)
	return &res, nil
}

// resetSeed decides whether a job belongs to the reset selection.
func (e *Engine) resetSeed(tx *storage.Tx, j *types.Job, failedOnly bool) (bool, error) {
	switch j.Status {
	case types.JobStatusUninitialized, types.JobStatusDisabled:
		return false, nil
	}
	if !failedOnly {
		return true, nil
	}
	switch j.Status {
	case types.JobStatusPendingFailed, types.JobStatusCanceled, types.JobStatusTerminated:
		return true, nil
	case types.JobStatusCompleted:
		r, err := tx.LatestResult(j.WorkflowID, j.ID)
		if err != nil {
			if torcerr.Is(err, torcerr.CodeNotFound) {
				return true, nil
			}
			return false, err
		}
		return !r.Succeeded(), nil
	default:
		return false, nil
	}
}

// resetJobs flips the seeds and every transitively-downstream Completed
// job back to Uninitialized. The traversal crosses jobs in any state so
// a completed job cannot hide behind a blocked intermediate; it is also
// indifferent to cycles in a graph a later initialize would reject.
func (e *Engine) resetJobs(tx *storage.Tx, wf *types.Workflow, jobs, seeds []*types.Job, failedOnly bool) (int, *txEvents, error) {
	if len(seeds) == 0 {
		return 0, nil, nil
	}
	files, err := tx.ListFiles(wf.ID)
	if err != nil {
		return 0, nil, err
	}
	userData, err := tx.ListUserData(wf.ID)
	if err != nil {
		return 0, nil, err
	}
	g, err := buildGraph(jobs, files, userData)
	if err != nil {
		return 0, nil, err
	}
	byID := make(map[int64]*types.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}

	reset := make(map[int64]bool, len(seeds))
	queue := make([]int64, 0, len(seeds))
	for _, s := range seeds {
		reset[s.ID] = true
		queue = append(queue, s.ID)
	}
	seen := make(map[int64]bool, len(seeds))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, depID := range g.dependents[id] {
			if !seen[depID] {
				queue = append(queue, depID)
			}
			if byID[depID].Status == types.JobStatusCompleted {
				reset[depID] = true
			}
		}
	}

	now := time.Now().UTC()
	for id := range reset {
		j := byID[id]
		j.Status = types.JobStatusUninitialized
		j.ComputeNodeID = 0
		j.UpdatedAt = now
		if err := tx.PutJob(j); err != nil {
			return 0, nil, err
		}
	}

	wf.Status = types.WorkflowStatusCreated
	wf.UpdatedAt = now
	if err := tx.PutWorkflow(wf); err != nil {
		return 0, nil, err
	}

	evl := &txEvents{tx: tx}
	msg := fmt.Sprintf("workflow %q reset %d jobs", wf.Name, len(reset))
	data := map[string]string{
		"reset_jobs":  strconv.Itoa(len(reset)),
		"failed_only": strconv.FormatBool(failedOnly),
	}
	if err := evl.add(workflowEvent(wf, types.EventWorkflowReset, msg, data)); err != nil {
		return 0, nil, err
	}
	return len(reset), evl, nil
}
