// Package tracker records the lifecycle of scheduled compute node
// allocations. An external driver submits batch allocations (Slurm jobs,
// local worker pools) and registers each one here as pending; when a
// worker attaches the allocation turns active, and when the last worker
// detaches (or the driver reports it done) it turns complete.
//
// The tracker never talks to a batch system. It is a shadow ledger the
// drivers and the reconciler consult to decide whether more allocations
// are needed.
package tracker

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/torc-hpc/torc/pkg/events"
	"github.com/torc-hpc/torc/pkg/log"
	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

// allocationRank orders statuses so transitions only move forward.
var allocationRank = map[types.AllocationStatus]int{
	types.AllocationStatusPending:  0,
	types.AllocationStatusActive:   1,
	types.AllocationStatusComplete: 2,
}

// Tracker manages scheduled compute node records.
type Tracker struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger
}

// New creates a Tracker backed by the given store.
func New(store storage.Store, broker *events.Broker) *Tracker {
	return &Tracker{
		store:  store,
		broker: broker,
		logger: log.WithComponent("tracker"),
	}
}

// Create registers a pending allocation.
func (t *Tracker) Create(n *types.ScheduledComputeNode) error {
	switch n.SchedulerType {
	case types.SchedulerTypeSlurm, types.SchedulerTypeLocal:
	default:
		return torcerr.InvalidInput("unknown scheduler type: %q", n.SchedulerType)
	}
	if err := t.store.CreateScheduledComputeNode(n); err != nil {
		return err
	}
	t.logger.Debug().
		Int64("scheduled_compute_node_id", n.ID).
		Str("scheduler_id", n.SchedulerID).
		Msg("Allocation registered")
	return nil
}

// Get returns one allocation by id.
func (t *Tracker) Get(id int64) (*types.ScheduledComputeNode, error) {
	return t.store.FindScheduledComputeNode(id)
}

// List returns a workflow's allocations, optionally only those still
// pending or active.
func (t *Tracker) List(workflowID int64, activeOnly bool) ([]*types.ScheduledComputeNode, error) {
	nodes, err := t.store.ListScheduledComputeNodes(workflowID)
	if err != nil {
		return nil, err
	}
	if !activeOnly {
		return nodes, nil
	}
	var out []*types.ScheduledComputeNode
	for _, n := range nodes {
		if n.Status != types.AllocationStatusComplete {
			out = append(out, n)
		}
	}
	return out, nil
}

// SetStatus moves an allocation forward through pending, active,
// complete. Reporting the current status again is accepted silently;
// moving backwards is InvalidState.
func (t *Tracker) SetStatus(id int64, status types.AllocationStatus) (*types.ScheduledComputeNode, error) {
	if _, ok := allocationRank[status]; !ok {
		return nil, torcerr.InvalidInput("unknown allocation status: %q", status)
	}
	var n *types.ScheduledComputeNode
	var ev *types.Event
	err := t.store.Update(func(tx *storage.Tx) error {
		var err error
		n, err = tx.FindScheduledComputeNode(id)
		if err != nil {
			return err
		}
		if n.Status == status {
			return nil
		}
		if allocationRank[status] < allocationRank[n.Status] {
			return torcerr.InvalidState("allocation %d is %s, cannot move back to %s", id, n.Status, status)
		}
		prev := n.Status
		n.Status = status
		n.UpdatedAt = time.Now().UTC()
		if err := tx.PutScheduledComputeNode(n); err != nil {
			return err
		}
		ev = allocationEvent(n, prev)
		return tx.PutEvent(ev)
	})
	if err != nil {
		return nil, err
	}
	if ev != nil && t.broker != nil {
		t.broker.Publish(ev)
	}
	return n, nil
}

// HasPendingOrActive reports whether the workflow still has allocations
// that have not completed. Drivers use this to decide whether submitting
// more capacity is worthwhile.
func (t *Tracker) HasPendingOrActive(workflowID int64) (bool, error) {
	nodes, err := t.store.ListScheduledComputeNodes(workflowID)
	if err != nil {
		return false, err
	}
	for _, n := range nodes {
		if n.Status != types.AllocationStatusComplete {
			return true, nil
		}
	}
	return false, nil
}

// ActivateForScheduler marks the pending allocation carrying the given
// external scheduler id as active. Called when a worker from that
// allocation attaches. Returns the persisted event, or nil when no
// allocation matched.
func ActivateForScheduler(tx *storage.Tx, workflowID int64, schedulerID string) (*types.Event, error) {
	if schedulerID == "" {
		return nil, nil
	}
	nodes, err := tx.ListScheduledComputeNodes(workflowID)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.SchedulerID != schedulerID || n.Status != types.AllocationStatusPending {
			continue
		}
		prev := n.Status
		n.Status = types.AllocationStatusActive
		n.UpdatedAt = time.Now().UTC()
		if err := tx.PutScheduledComputeNode(n); err != nil {
			return nil, err
		}
		ev := allocationEvent(n, prev)
		if err := tx.PutEvent(ev); err != nil {
			return nil, err
		}
		return ev, nil
	}
	return nil, nil
}

// CompleteIfDrained marks the allocation carrying the given external
// scheduler id as complete once no active compute node references it.
// Called when a worker detaches or is declared dead.
func CompleteIfDrained(tx *storage.Tx, workflowID int64, schedulerID string) (*types.Event, error) {
	if schedulerID == "" {
		return nil, nil
	}
	workers, err := tx.ListComputeNodes(workflowID)
	if err != nil {
		return nil, err
	}
	for _, w := range workers {
		if w.IsActive && w.SchedulerID == schedulerID {
			return nil, nil
		}
	}
	nodes, err := tx.ListScheduledComputeNodes(workflowID)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.SchedulerID != schedulerID || n.Status == types.AllocationStatusComplete {
			continue
		}
		prev := n.Status
		n.Status = types.AllocationStatusComplete
		n.UpdatedAt = time.Now().UTC()
		if err := tx.PutScheduledComputeNode(n); err != nil {
			return nil, err
		}
		ev := allocationEvent(n, prev)
		if err := tx.PutEvent(ev); err != nil {
			return nil, err
		}
		return ev, nil
	}
	return nil, nil
}

func allocationEvent(n *types.ScheduledComputeNode, prev types.AllocationStatus) *types.Event {
	return &types.Event{
		WorkflowID: n.WorkflowID,
		Category:   types.EventCategoryScheduler,
		Type:       types.EventAllocationStatusChanged,
		Message:    fmt.Sprintf("allocation %d moved from %s to %s", n.ID, prev, n.Status),
		Data: map[string]string{
			"scheduled_compute_node_id": strconv.FormatInt(n.ID, 10),
			"scheduler_id":              n.SchedulerID,
			"from":                      string(prev),
			"to":                        string(n.Status),
		},
	}
}
