package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/torc-hpc/torc/pkg/metrics"
	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/tracker"
	"github.com/torc-hpc/torc/pkg/types"
)

// AttachComputeNode registers a worker with a workflow. A node carrying
// an external scheduler id activates the matching pending allocation in
// the same transaction.
func (e *Engine) AttachComputeNode(n *types.ComputeNode) error {
	var evs []*types.Event
	err := e.store.Update(func(tx *storage.Tx) error {
		evs = nil
		if _, err := tx.Workflow(n.WorkflowID); err != nil {
			return err
		}
		now := time.Now().UTC()
		n.IsActive = true
		n.LastHeartbeat = now
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		if err := tx.PutComputeNode(n); err != nil {
			return err
		}
		evl := &txEvents{tx: tx}
		msg := fmt.Sprintf("compute node %q attached", n.Hostname)
		if err := evl.add(nodeEvent(n, types.EventComputeNodeRegistered, msg)); err != nil {
			return err
		}
		if n.SchedulerID != "" {
			ev, err := tracker.ActivateForScheduler(tx, n.WorkflowID, n.SchedulerID)
			if err != nil {
				return err
			}
			if ev != nil {
				evl.evs = append(evl.evs, ev)
			}
		}
		evs = evl.evs
		return nil
	})
	if err != nil {
		return err
	}
	e.publish(evs)
	e.logger.Info().
		Int64("workflow_id", n.WorkflowID).
		Int64("compute_node_id", n.ID).
		Str("hostname", n.Hostname).
		Msg("Compute node attached")
	return nil
}

// ComputeNodeHeartbeat refreshes a node's liveness stamp. A node the
// reconciler already declared dead must re-attach instead.
func (e *Engine) ComputeNodeHeartbeat(workflowID, nodeID int64) (*types.ComputeNode, error) {
	var node *types.ComputeNode
	err := e.store.Update(func(tx *storage.Tx) error {
		n, err := tx.ComputeNode(workflowID, nodeID)
		if err != nil {
			return err
		}
		if !n.IsActive {
			return torcerr.InvalidState("compute node %d is not active", nodeID)
		}
		n.LastHeartbeat = time.Now().UTC()
		if err := tx.PutComputeNode(n); err != nil {
			return err
		}
		node = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// DeactivateComputeNode is the graceful detach path. Jobs the node
// still holds are returned as pending_failed, and the node's batch
// allocation completes once no other active node references it.
func (e *Engine) DeactivateComputeNode(workflowID, nodeID int64) (*types.ComputeNode, error) {
	var (
		node *types.ComputeNode
		evs  []*types.Event
	)
	err := e.store.Update(func(tx *storage.Tx) error {
		evs = nil
		n, err := tx.ComputeNode(workflowID, nodeID)
		if err != nil {
			return err
		}
		if !n.IsActive {
			node = n
			return nil
		}
		now := time.Now().UTC()
		evl := &txEvents{tx: tx}
		n.IsActive = false
		if err := tx.PutComputeNode(n); err != nil {
			return err
		}
		msg := fmt.Sprintf("compute node %q detached", n.Hostname)
		if err := evl.add(nodeEvent(n, types.EventComputeNodeDeactivated, msg)); err != nil {
			return err
		}
		if err := e.releaseNodeJobs(tx, evl, n, now); err != nil {
			return err
		}
		node = n
		evs = evl.evs
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(evs)
	return node, nil
}

// MarkComputeNodeDeadIfStale declares a node dead when its last
// heartbeat is older than timeout. The staleness check runs inside the
// transaction so a heartbeat that landed after the caller's scan wins.
func (e *Engine) MarkComputeNodeDeadIfStale(workflowID, nodeID int64, timeout time.Duration) (bool, error) {
	var (
		marked bool
		evs    []*types.Event
	)
	err := e.store.Update(func(tx *storage.Tx) error {
		evs = nil
		marked = false
		n, err := tx.ComputeNode(workflowID, nodeID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if !n.IsActive || now.Sub(n.LastHeartbeat) <= timeout {
			return nil
		}
		evl := &txEvents{tx: tx}
		n.IsActive = false
		if err := tx.PutComputeNode(n); err != nil {
			return err
		}
		msg := fmt.Sprintf("compute node %q declared dead after %s without a heartbeat",
			n.Hostname, now.Sub(n.LastHeartbeat).Round(time.Second))
		if err := evl.add(nodeEvent(n, types.EventComputeNodeDead, msg)); err != nil {
			return err
		}
		if err := e.releaseNodeJobs(tx, evl, n, now); err != nil {
			return err
		}
		marked = true
		evs = evl.evs
		return nil
	})
	if err != nil {
		return false, err
	}
	if marked {
		metrics.DeadComputeNodesTotal.Inc()
		e.publish(evs)
		e.logger.Warn().
			Int64("workflow_id", workflowID).
			Int64("compute_node_id", nodeID).
			Msg("Compute node declared dead")
	}
	return marked, nil
}

// releaseNodeJobs flips the node's submitted and running jobs to
// pending_failed and settles the node's allocation. No synthetic result
// is recorded: the attempts' outcomes are unknown, and results are
// reserved for what a node actually reported.
func (e *Engine) releaseNodeJobs(tx *storage.Tx, evl *txEvents, n *types.ComputeNode, now time.Time) error {
	jobs, err := tx.ListJobs(n.WorkflowID)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.ComputeNodeID != n.ID || !j.Status.IsActive() {
			continue
		}
		j.Status = types.JobStatusPendingFailed
		j.UpdatedAt = now
		if err := tx.PutJob(j); err != nil {
			return err
		}
		msg := fmt.Sprintf("job %q lost with compute node %q", j.Name, n.Hostname)
		data := map[string]string{"compute_node_id": strconv.FormatInt(n.ID, 10)}
		if err := evl.add(jobEvent(j, types.EventJobPendingFailed, msg, data)); err != nil {
			return err
		}
	}

	if n.SchedulerID != "" {
		ev, err := tracker.CompleteIfDrained(tx, n.WorkflowID, n.SchedulerID)
		if err != nil {
			return err
		}
		if ev != nil {
			evl.evs = append(evl.evs, ev)
		}
	}

	wf, err := tx.Workflow(n.WorkflowID)
	if err != nil {
		return err
	}
	_, err = e.maybeCompleteWorkflow(tx, evl, wf, now)
	return err
}
