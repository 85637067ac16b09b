package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/torc-hpc/torc/pkg/metrics"
	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

// jobNeeds is a job's resource demand in the same units the claimant
// offers. A job with no requirements record still needs one CPU, so a
// zero-resource claim can never take it.
type jobNeeds struct {
	cpus  int
	memGB float64
	gpus  int
	nodes int
}

type resourcePool struct {
	cpus  int
	memGB float64
	gpus  int
	nodes int
}

func (p *resourcePool) fits(n jobNeeds) bool {
	return n.cpus <= p.cpus && n.memGB <= p.memGB && n.gpus <= p.gpus && n.nodes <= p.nodes
}

func (p *resourcePool) take(n jobNeeds) {
	p.cpus -= n.cpus
	p.memGB -= n.memGB
	p.gpus -= n.gpus
	p.nodes -= n.nodes
}

// ClaimJobs atomically hands out ready jobs that fit within the offered
// resources. Selection is greedy over jobs ordered by priority
// descending then id ascending; a job too large for what remains is
// skipped, never failed. Claimed jobs move to submitted with a bumped
// attempt_id, so a claim can never be observed half-applied.
func (e *Engine) ClaimJobs(workflowID int64, req *types.ClaimJobsRequest) (*types.ClaimJobsResponse, error) {
	resp := &types.ClaimJobsResponse{Jobs: []*types.Job{}}
	var evs []*types.Event
	err := e.store.Update(func(tx *storage.Tx) error {
		evs = nil
		resp.Jobs = resp.Jobs[:0]
		wf, err := tx.Workflow(workflowID)
		if err != nil {
			return err
		}
		resp.RunID = wf.RunID
		if req.Resources.IsZero() {
			return nil
		}

		ready, err := tx.ListJobsByStatus(workflowID, types.JobStatusReady)
		if err != nil {
			return err
		}
		// The status index scans in id order; higher priority wins
		// first and the stable sort keeps id order within a priority.
		sort.SliceStable(ready, func(a, b int) bool {
			return ready[a].Priority > ready[b].Priority
		})

		pool := resourcePool{
			cpus:  req.Resources.NumCPUs,
			memGB: req.Resources.MemoryGB,
			gpus:  req.Resources.NumGPUs,
			nodes: req.Resources.NumNodes,
		}
		now := time.Now().UTC()
		reqCache := make(map[int64]jobNeeds)

		for _, j := range ready {
			if req.MaxJobs > 0 && len(resp.Jobs) >= req.MaxJobs {
				break
			}
			// Pinned jobs only go to a claimant driving that
			// scheduler; unpinned jobs go to anyone.
			if j.SchedulerID != 0 && j.SchedulerID != req.SchedulerID {
				continue
			}
			needs, err := e.jobNeeds(tx, j, reqCache)
			if err != nil {
				return err
			}
			if !pool.fits(needs) {
				continue
			}
			pool.take(needs)

			j.Status = types.JobStatusSubmitted
			j.AttemptID++
			j.ComputeNodeID = req.ComputeNodeID
			if j.SchedulerID == 0 && req.SchedulerID != 0 {
				j.SchedulerID = req.SchedulerID
			}
			j.UpdatedAt = now
			if err := tx.PutJob(j); err != nil {
				return err
			}
			resp.Jobs = append(resp.Jobs, j)
		}

		if len(resp.Jobs) == 0 {
			return nil
		}
		ids := make([]string, len(resp.Jobs))
		for i, j := range resp.Jobs {
			ids[i] = strconv.FormatInt(j.ID, 10)
		}
		evl := &txEvents{tx: tx}
		msg := fmt.Sprintf("claimed %d jobs for run %d", len(resp.Jobs), wf.RunID)
		data := map[string]string{
			"run_id":    strconv.FormatInt(wf.RunID, 10),
			"job_count": strconv.Itoa(len(resp.Jobs)),
			"job_ids":   strings.Join(ids, ","),
		}
		if req.ComputeNodeID != 0 {
			data["compute_node_id"] = strconv.FormatInt(req.ComputeNodeID, 10)
		}
		ev := &types.Event{
			WorkflowID: wf.ID,
			Timestamp:  now,
			Category:   types.EventCategoryJob,
			Type:       types.EventJobsClaimed,
			Message:    msg,
			Data:       data,
		}
		if err := evl.add(ev); err != nil {
			return err
		}
		evs = evl.evs
		return nil
	})
	if err != nil {
		metrics.ClaimRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(resp.Jobs) > 0 {
		metrics.ClaimRequestsTotal.WithLabelValues("claimed").Inc()
		metrics.JobsClaimedTotal.Add(float64(len(resp.Jobs)))
		e.publish(evs)
		e.logger.Debug().
			Int64("workflow_id", workflowID).
			Int("jobs", len(resp.Jobs)).
			Int64("compute_node_id", req.ComputeNodeID).
			Msg("Jobs claimed")
	} else {
		metrics.ClaimRequestsTotal.WithLabelValues("empty").Inc()
	}
	return resp, nil
}

// jobNeeds resolves a job's demand through its requirements record.
// Requirements are parsed on every claim rather than cached at rest, so
// the cache lives only for the duration of one transaction.
func (e *Engine) jobNeeds(tx *storage.Tx, j *types.Job, cache map[int64]jobNeeds) (jobNeeds, error) {
	if j.ResourceRequirementsID == 0 {
		return jobNeeds{cpus: 1}, nil
	}
	if n, ok := cache[j.ResourceRequirementsID]; ok {
		return n, nil
	}
	rr, err := tx.ResourceRequirements(j.WorkflowID, j.ResourceRequirementsID)
	if err != nil {
		return jobNeeds{}, err
	}
	memGB, err := rr.MemoryGB()
	if err != nil {
		return jobNeeds{}, torcerr.Wrap(err, torcerr.CodeInvalidInput,
			"resource requirements %q has unparseable memory", rr.Name)
	}
	n := jobNeeds{cpus: rr.NumCPUs, memGB: memGB, gpus: rr.NumGPUs, nodes: rr.NumNodes}
	cache[j.ResourceRequirementsID] = n
	return n, nil
}
