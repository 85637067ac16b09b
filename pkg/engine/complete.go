package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/torc-hpc/torc/pkg/metrics"
	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

// StartJob records that a compute node began executing a claimed job.
func (e *Engine) StartJob(jobID int64) (*types.Job, error) {
	var (
		job *types.Job
		evs []*types.Event
	)
	err := e.store.Update(func(tx *storage.Tx) error {
		evs = nil
		j, err := tx.FindJob(jobID)
		if err != nil {
			return err
		}
		if j.Status != types.JobStatusSubmitted {
			return torcerr.InvalidState("job %q is %s, not submitted", j.Name, j.Status)
		}
		j.Status = types.JobStatusRunning
		j.UpdatedAt = time.Now().UTC()
		if err := tx.PutJob(j); err != nil {
			return err
		}
		evl := &txEvents{tx: tx}
		msg := fmt.Sprintf("job %q started", j.Name)
		if err := evl.add(jobEvent(j, types.EventJobStarted, msg, nil)); err != nil {
			return err
		}
		job = j
		evs = evl.evs
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(evs)
	return job, nil
}

// CompleteJob records the terminal status of one execution attempt. The
// result is keyed by (job, run, attempt): a retransmitted completion is
// a Conflict, and a completion for a job the engine no longer considers
// active is an InvalidState. On success the job's dependents are
// re-evaluated; on failure the cancellation cascade runs. Either way
// the workflow is checked for completion, all inside one transaction.
func (e *Engine) CompleteJob(jobID int64, req *types.CompleteJobRequest) (*types.Result, error) {
	if !req.Status.ValidResultStatus() {
		return nil, torcerr.InvalidInput("%q is not a terminal job status", req.Status)
	}
	var (
		result     *types.Result
		evs        []*types.Event
		workflowID int64
		wake       bool
	)
	err := e.store.Update(func(tx *storage.Tx) error {
		evs = nil
		wake = false
		j, err := tx.FindJob(jobID)
		if err != nil {
			return err
		}
		workflowID = j.WorkflowID
		wf, err := tx.Workflow(j.WorkflowID)
		if err != nil {
			return err
		}
		// Duplicate detection comes before the status check so a
		// retransmission of an already-applied completion reads as
		// Conflict, not InvalidState.
		dup, err := tx.HasResult(wf.ID, j.ID, wf.RunID, j.AttemptID)
		if err != nil {
			return err
		}
		if dup {
			return torcerr.Conflict("job %q already completed run %d attempt %d",
				j.Name, wf.RunID, j.AttemptID)
		}
		if !j.Status.IsActive() {
			return torcerr.InvalidState("job %q is %s, not submitted or running", j.Name, j.Status)
		}

		now := req.CompletionTime
		if now.IsZero() {
			now = time.Now().UTC()
		}
		nodeID := req.ComputeNodeID
		if nodeID == 0 {
			nodeID = j.ComputeNodeID
		}
		r := &types.Result{
			WorkflowID:      wf.ID,
			JobID:           j.ID,
			RunID:           wf.RunID,
			AttemptID:       j.AttemptID,
			ComputeNodeID:   nodeID,
			Status:          req.Status,
			ReturnCode:      req.ReturnCode,
			ExecTimeMinutes: req.ExecTimeMinutes,
			CompletionTime:  now,
		}
		if err := tx.PutResult(r); err != nil {
			return err
		}
		j.Status = req.Status
		j.UpdatedAt = now
		if err := tx.PutJob(j); err != nil {
			return err
		}

		evl := &txEvents{tx: tx}
		data := map[string]string{
			"run_id":      strconv.FormatInt(wf.RunID, 10),
			"attempt_id":  strconv.FormatInt(j.AttemptID, 10),
			"return_code": strconv.Itoa(req.ReturnCode),
		}
		msg := fmt.Sprintf("job %q finished %s (rc=%d)", j.Name, req.Status, req.ReturnCode)
		if err := evl.add(jobEvent(j, completionEventType(req.Status), msg, data)); err != nil {
			return err
		}

		jobs, err := tx.ListJobs(wf.ID)
		if err != nil {
			return err
		}
		files, err := tx.ListFiles(wf.ID)
		if err != nil {
			return err
		}
		userData, err := tx.ListUserData(wf.ID)
		if err != nil {
			return err
		}
		g, err := buildGraph(jobs, files, userData)
		if err != nil {
			return err
		}
		byID := make(map[int64]*types.Job, len(jobs))
		for _, job := range jobs {
			byID[job.ID] = job
		}
		byID[j.ID] = j

		if r.Succeeded() {
			ready, err := e.unblockDependents(tx, g, byID, j, now)
			if err != nil {
				return err
			}
			wake = ready > 0
		} else if req.Status != types.JobStatusPendingFailed {
			// pending_failed means the attempt was lost, not that the
			// job failed; dependents keep waiting for the retry.
			if _, err := e.cascadeCancel(tx, g, byID, j, evl, now); err != nil {
				return err
			}
		}

		if _, err := e.maybeCompleteWorkflow(tx, evl, wf, now); err != nil {
			return err
		}
		result = r
		evs = evl.evs
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.JobsCompletedTotal.WithLabelValues(string(req.Status)).Inc()
	e.publish(evs)
	if wake {
		e.wake(workflowID)
	}
	e.logger.Info().
		Int64("workflow_id", workflowID).
		Int64("job_id", jobID).
		Str("status", string(req.Status)).
		Int("return_code", req.ReturnCode).
		Msg("Job completed")
	return result, nil
}

// SweepWorkflowCompletion re-evaluates one workflow's completion
// predicate outside the completion path. The reconciler uses it to
// settle runs whose last live job left through a node death.
func (e *Engine) SweepWorkflowCompletion(workflowID int64) (bool, error) {
	var (
		completed bool
		evs       []*types.Event
	)
	err := e.store.Update(func(tx *storage.Tx) error {
		evs = nil
		completed = false
		wf, err := tx.Workflow(workflowID)
		if err != nil {
			return err
		}
		evl := &txEvents{tx: tx}
		done, err := e.maybeCompleteWorkflow(tx, evl, wf, time.Now().UTC())
		if err != nil {
			return err
		}
		completed = done
		evs = evl.evs
		return nil
	})
	if err != nil {
		return false, err
	}
	e.publish(evs)
	return completed, nil
}

func completionEventType(s types.JobStatus) types.EventType {
	switch s {
	case types.JobStatusCanceled:
		return types.EventJobCanceled
	case types.JobStatusTerminated:
		return types.EventJobTerminated
	case types.JobStatusPendingFailed:
		return types.EventJobPendingFailed
	default:
		return types.EventJobCompleted
	}
}
