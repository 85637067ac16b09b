package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/torc-hpc/torc/pkg/metrics"
	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/types"
)

// InitializeJobs starts (or extends) a run. It validates the dependency
// graph, derives File.IsOutput, and flips every Uninitialized job to
// Ready or Blocked depending on whether its dependencies are already
// satisfied. Each non-empty pass increments the workflow run_id, so
// results from different passes never collide.
//
// Initializing a workflow with no jobs changes nothing: no run_id bump,
// no event.
func (e *Engine) InitializeJobs(workflowID int64) (*types.InitializeResult, error) {
	var (
		res types.InitializeResult
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
		res = types.InitializeResult{RunID: wf.RunID, TotalJobs: len(jobs)}
		if len(jobs) == 0 {
			return nil
		}
		files, err := tx.ListFiles(workflowID)
		if err != nil {
			return err
		}
		userData, err := tx.ListUserData(workflowID)
		if err != nil {
			return err
		}
		g, err := buildGraph(jobs, files, userData)
		if err != nil {
			return err
		}
		// Jobs that already ran (or can never run) are out of the
		// cycle check: an edge into a completed job cannot deadlock
		// the run.
		err = detectCycles(g, jobs, func(j *types.Job) bool {
			switch j.Status {
			case types.JobStatusUninitialized, types.JobStatusBlocked, types.JobStatusReady:
				return true
			}
			return false
		})
		if err != nil {
			return err
		}

		now := time.Now().UTC()

		for _, f := range files {
			isOutput := len(g.fileProducers[f.ID]) > 0
			if f.IsOutput != isOutput {
				f.IsOutput = isOutput
				if err := tx.PutFile(f); err != nil {
					return err
				}
			}
		}

		byID := make(map[int64]*types.Job, len(jobs))
		for _, j := range jobs {
			byID[j.ID] = j
		}
		for _, j := range jobs {
			if j.Status != types.JobStatusUninitialized {
				continue
			}
			ok, err := e.allDepsSatisfied(tx, g, byID, j)
			if err != nil {
				return err
			}
			if ok {
				j.Status = types.JobStatusReady
			} else {
				j.Status = types.JobStatusBlocked
			}
			j.UpdatedAt = now
			if err := tx.PutJob(j); err != nil {
				return err
			}
		}
		for _, j := range jobs {
			switch j.Status {
			case types.JobStatusReady:
				res.ReadyJobs++
			case types.JobStatusBlocked:
				res.BlockedJobs++
			}
		}

		wf.RunID++
		wf.Status = types.WorkflowStatusRunning
		wf.UpdatedAt = now
		if err := tx.PutWorkflow(wf); err != nil {
			return err
		}
		res.RunID = wf.RunID

		evl := &txEvents{tx: tx}
		msg := fmt.Sprintf("workflow %q started run %d: %d ready, %d blocked",
			wf.Name, wf.RunID, res.ReadyJobs, res.BlockedJobs)
		data := map[string]string{
			"run_id":       strconv.FormatInt(wf.RunID, 10),
			"ready_jobs":   strconv.Itoa(res.ReadyJobs),
			"blocked_jobs": strconv.Itoa(res.BlockedJobs),
		}
		if err := evl.add(workflowEvent(wf, types.EventWorkflowStarted, msg, data)); err != nil {
			return err
		}
		if err := e.triggerActions(tx, evl, wf, types.TriggerOnWorkflowStart); err != nil {
			return err
		}
		evs = evl.evs
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(evs) > 0 {
		metrics.WorkflowInitializations.Inc()
		e.publish(evs)
		e.wake(workflowID)
		e.logger.Info().
			Int64("workflow_id", workflowID).
			Int64("run_id", res.RunID).
			Int("ready", res.ReadyJobs).
			Int("blocked", res.BlockedJobs).
			Msg("Workflow initialized")
	}
	return &res, nil
}
