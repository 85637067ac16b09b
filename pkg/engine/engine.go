package engine

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

// Notifier is woken whenever an engine operation makes jobs ready, so
// parked claim requests can retry without polling. The claim
// coordinator implements it.
type Notifier interface {
	Wake(workflowID int64)
}

// Engine drives the workflow state machine. Every operation runs inside
// one store transaction; events recorded during the transaction are
// broadcast only after it commits.
type Engine struct {
	store    storage.Store
	broker   *events.Broker
	notifier Notifier
	logger   zerolog.Logger
}

// New creates an Engine on top of the given store.
func New(store storage.Store, broker *events.Broker) *Engine {
	return &Engine{
		store:  store,
		broker: broker,
		logger: log.WithComponent("engine"),
	}
}

// SetNotifier wires in the claim coordinator's wakeup path. The
// coordinator is constructed after the engine, so this cannot happen in
// New.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

func (e *Engine) wake(workflowID int64) {
	if e.notifier != nil {
		e.notifier.Wake(workflowID)
	}
}

func (e *Engine) publish(evs []*types.Event) {
	if e.broker == nil {
		return
	}
	for _, ev := range evs {
		e.broker.Publish(ev)
	}
}

// txEvents accumulates events persisted inside a transaction so they can
// be broadcast after the transaction commits. Events written to the
// store by a rolled-back transaction vanish with it.
type txEvents struct {
	tx  *storage.Tx
	evs []*types.Event
}

func (l *txEvents) add(e *types.Event) error {
	if err := l.tx.PutEvent(e); err != nil {
		return err
	}
	l.evs = append(l.evs, e)
	return nil
}

// depSatisfied reports whether a producing job gates its consumers open:
// it completed with return code zero, or it is disabled and never runs.
func (e *Engine) depSatisfied(tx *storage.Tx, dep *types.Job) (bool, error) {
	switch dep.Status {
	case types.JobStatusDisabled:
		return true, nil
	case types.JobStatusCompleted:
		r, err := tx.LatestResult(dep.WorkflowID, dep.ID)
		if err != nil {
			if torcerr.Is(err, torcerr.CodeNotFound) {
				return false, nil
			}
			return false, err
		}
		return r.Succeeded(), nil
	default:
		return false, nil
	}
}

func (e *Engine) allDepsSatisfied(tx *storage.Tx, g *depGraph, byID map[int64]*types.Job, j *types.Job) (bool, error) {
	for _, depID := range g.dependsOn[j.ID] {
		dep, ok := byID[depID]
		if !ok {
			return false, torcerr.Internal("job %d depends on unknown job %d", j.ID, depID)
		}
		satisfied, err := e.depSatisfied(tx, dep)
		if err != nil || !satisfied {
			return false, err
		}
	}
	return true, nil
}

// unblockDependents promotes blocked consumers of a just-satisfied job
// whose remaining dependencies are also satisfied. Returns how many jobs
// became ready.
func (e *Engine) unblockDependents(tx *storage.Tx, g *depGraph, byID map[int64]*types.Job, j *types.Job, now time.Time) (int, error) {
	ready := 0
	for _, depID := range g.dependents[j.ID] {
		d := byID[depID]
		if d == nil || d.Status != types.JobStatusBlocked {
			continue
		}
		satisfied, err := e.allDepsSatisfied(tx, g, byID, d)
		if err != nil {
			return ready, err
		}
		if !satisfied {
			continue
		}
		d.Status = types.JobStatusReady
		d.UpdatedAt = now
		if err := tx.PutJob(d); err != nil {
			return ready, err
		}
		ready++
	}
	return ready, nil
}

// cascadeCancel cancels opt-in dependents of a failed job transitively.
// A canceled job is itself a failure, so the walk continues through each
// job it cancels. Dependents without the cancel flag are left as they
// are and simply never unblock this run.
func (e *Engine) cascadeCancel(tx *storage.Tx, g *depGraph, byID map[int64]*types.Job, failed *types.Job, evl *txEvents, now time.Time) (int, error) {
	canceled := 0
	queue := []int64{failed.ID}
	seen := map[int64]bool{failed.ID: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, depID := range g.dependents[id] {
			if seen[depID] {
				continue
			}
			d := byID[depID]
			if d == nil || !d.CancelOnBlockingJobFailure {
				continue
			}
			switch d.Status {
			case types.JobStatusUninitialized, types.JobStatusBlocked, types.JobStatusReady:
			default:
				continue
			}
			seen[depID] = true
			d.Status = types.JobStatusCanceled
			d.UpdatedAt = now
			if err := tx.PutJob(d); err != nil {
				return canceled, err
			}
			msg := fmt.Sprintf("job %q canceled: upstream job %q failed", d.Name, failed.Name)
			if err := evl.add(jobEvent(d, types.EventJobCanceled, msg, nil)); err != nil {
				return canceled, err
			}
			canceled++
			queue = append(queue, depID)
		}
	}
	return canceled, nil
}

// maybeCompleteWorkflow marks the workflow completed when no job can
// still run. The running->completed transition fires at most once per
// run; initialize re-arms it.
func (e *Engine) maybeCompleteWorkflow(tx *storage.Tx, evl *txEvents, wf *types.Workflow, now time.Time) (bool, error) {
	if wf.Status != types.WorkflowStatusRunning {
		return false, nil
	}
	for _, status := range []types.JobStatus{
		types.JobStatusReady,
		types.JobStatusBlocked,
		types.JobStatusSubmitted,
		types.JobStatusRunning,
	} {
		n, err := tx.CountJobsByStatus(wf.ID, status)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
	}
	wf.Status = types.WorkflowStatusCompleted
	wf.UpdatedAt = now
	if err := tx.PutWorkflow(wf); err != nil {
		return false, err
	}
	msg := fmt.Sprintf("workflow %q completed run %d", wf.Name, wf.RunID)
	data := map[string]string{"run_id": strconv.FormatInt(wf.RunID, 10)}
	if err := evl.add(workflowEvent(wf, types.EventWorkflowCompleted, msg, data)); err != nil {
		return false, err
	}
	if err := e.triggerActions(tx, evl, wf, types.TriggerOnWorkflowComplete); err != nil {
		return false, err
	}
	e.logger.Info().Int64("workflow_id", wf.ID).Int64("run_id", wf.RunID).Msg("Workflow completed")
	return true, nil
}

// triggerActions records an action event for every hook registered on
// the given trigger. External drivers subscribe to the event stream and
// carry the payloads out; the engine only records intent.
func (e *Engine) triggerActions(tx *storage.Tx, evl *txEvents, wf *types.Workflow, trigger types.ActionTrigger) error {
	actions, err := tx.ListWorkflowActions(wf.ID)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if a.Trigger != trigger {
			continue
		}
		ev := &types.Event{
			WorkflowID: wf.ID,
			Category:   types.EventCategoryAction,
			Type:       types.EventActionTriggered,
			Message:    fmt.Sprintf("action %q triggered by %s", a.Name, trigger),
			Data: map[string]string{
				"action_id": strconv.FormatInt(a.ID, 10),
				"action":    a.Name,
				"trigger":   string(trigger),
			},
		}
		if len(a.Payload) > 0 {
			ev.Data["payload"] = string(a.Payload)
		}
		if err := evl.add(ev); err != nil {
			return err
		}
	}
	return nil
}

func workflowEvent(wf *types.Workflow, typ types.EventType, msg string, data map[string]string) *types.Event {
	return &types.Event{
		WorkflowID: wf.ID,
		Category:   types.EventCategoryWorkflow,
		Type:       typ,
		Message:    msg,
		Data:       data,
	}
}

func jobEvent(j *types.Job, typ types.EventType, msg string, data map[string]string) *types.Event {
	if data == nil {
		data = map[string]string{}
	}
	data["job_id"] = strconv.FormatInt(j.ID, 10)
	data["job_name"] = j.Name
	return &types.Event{
		WorkflowID: j.WorkflowID,
		Category:   types.EventCategoryJob,
		Type:       typ,
		Message:    msg,
		Data:       data,
	}
}

func nodeEvent(n *types.ComputeNode, typ types.EventType, msg string) *types.Event {
	return &types.Event{
		WorkflowID: n.WorkflowID,
		Category:   types.EventCategoryComputeNode,
		Type:       typ,
		Message:    msg,
		Data: map[string]string{
			"compute_node_id": strconv.FormatInt(n.ID, 10),
			"hostname":        n.Hostname,
		},
	}
}
