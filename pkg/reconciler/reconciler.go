package reconciler

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/torc-hpc/torc/pkg/engine"
	"github.com/torc-hpc/torc/pkg/log"
	"github.com/torc-hpc/torc/pkg/metrics"
	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/types"
)

// Config holds the reconciler's timing knobs.
type Config struct {
	// Interval between cycles.
	Interval time.Duration

	// NodeTimeout is how long a compute node may go silent before it
	// is declared dead and its jobs are released.
	NodeTimeout time.Duration
}

// Reconciler is the background safety net. Compute nodes that stop
// heartbeating are declared dead, workflows whose last job left through
// a node death are settled, and state gauges are refreshed. Every step
// is idempotent: a cycle that observes nothing amiss changes nothing.
type Reconciler struct {
	store  storage.Store
	engine *engine.Engine
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a reconciler. Zero config fields fall back to one-minute
// cycles and a three-minute node timeout.
func New(store storage.Store, eng *engine.Engine, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = 3 * time.Minute
	}
	return &Reconciler{
		store:  store,
		engine: eng,
		cfg:    cfg,
		logger: log.WithComponent("reconciler"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	metrics.RegisterComponent("reconciler", true, "")
	r.logger.Info().
		Dur("interval", r.cfg.Interval).
		Dur("node_timeout", r.cfg.NodeTimeout).
		Msg("Reconciler started")
	go r.run()
}

// Stop halts the loop and waits for an in-flight cycle to finish, so
// the store can be closed safely afterwards.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// run drives cycles at the configured interval. A panicked cycle does
// not kill the loop: the following passes are delayed with exponential
// backoff until one completes normally.
func (r *Reconciler) run() {
	defer close(r.doneCh)

	delay := r.cfg.Interval
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			if r.safeReconcile() {
				delay = r.cfg.Interval
			} else {
				delay *= 2
				if delay > 16*r.cfg.Interval {
					delay = 16 * r.cfg.Interval
				}
			}
			timer.Reset(delay)
		case <-r.stopCh:
			return
		}
	}
}

// safeReconcile runs one cycle, converting a panic into a logged error.
// It reports whether the cycle finished without panicking.
func (r *Reconciler) safeReconcile() (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error().
				Interface("panic", v).
				Str("stack", string(debug.Stack())).
				Msg("Reconcile cycle panicked")
			metrics.UpdateComponent("reconciler", false, fmt.Sprintf("panic: %v", v))
		}
	}()
	r.Reconcile()
	return true
}

// Reconcile performs one cycle. It is exported so operators and tests
// can force a pass without waiting out the interval.
func (r *Reconciler) Reconcile() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	healthy := true
	if err := r.reconcileComputeNodes(); err != nil {
		healthy = false
		r.logger.Error().Err(err).Msg("Compute node reconciliation failed")
		metrics.UpdateComponent("reconciler", false, err.Error())
	}
	if err := r.sweepWorkflows(); err != nil {
		healthy = false
		r.logger.Error().Err(err).Msg("Workflow completion sweep failed")
		metrics.UpdateComponent("reconciler", false, err.Error())
	}
	if err := r.refreshGauges(); err != nil {
		r.logger.Warn().Err(err).Msg("Gauge refresh failed")
	}
	if healthy {
		metrics.UpdateComponent("reconciler", true, "")
	}
}

// reconcileComputeNodes scans active nodes for stale heartbeats. The
// staleness check re-runs inside the engine's transaction, so a
// heartbeat that lands after this scan wins and the node survives.
func (r *Reconciler) reconcileComputeNodes() error {
	nodes, err := r.store.ListActiveComputeNodes()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, n := range nodes {
		if now.Sub(n.LastHeartbeat) <= r.cfg.NodeTimeout {
			continue
		}
		marked, err := r.engine.MarkComputeNodeDeadIfStale(n.WorkflowID, n.ID, r.cfg.NodeTimeout)
		if err != nil {
			r.logger.Error().Err(err).
				Int64("workflow_id", n.WorkflowID).
				Int64("compute_node_id", n.ID).
				Msg("Failed to mark compute node dead")
			continue
		}
		if marked {
			r.logger.Warn().
				Int64("workflow_id", n.WorkflowID).
				Int64("compute_node_id", n.ID).
				Str("hostname", n.Hostname).
				Msg("Compute node declared dead")
		}
	}
	return nil
}

// sweepWorkflows settles completion for running workflows. Normally
// CompleteJob handles this; the sweep catches runs whose final jobs
// left through a node death or a crash between operations.
func (r *Reconciler) sweepWorkflows() error {
	workflows, err := r.store.ListWorkflows()
	if err != nil {
		return err
	}
	for _, w := range workflows {
		if w.Status != types.WorkflowStatusRunning {
			continue
		}
		completed, err := r.engine.SweepWorkflowCompletion(w.ID)
		if err != nil {
			r.logger.Error().Err(err).
				Int64("workflow_id", w.ID).
				Msg("Completion sweep failed")
			continue
		}
		if completed {
			r.logger.Info().
				Int64("workflow_id", w.ID).
				Str("name", w.Name).
				Msg("Workflow settled as completed")
		}
	}
	return nil
}

// refreshGauges recounts workflows, jobs, allocations, and active nodes
// so the gauges track stored state rather than incremental guesses.
func (r *Reconciler) refreshGauges() error {
	workflows, err := r.store.ListWorkflows()
	if err != nil {
		return err
	}
	wfCounts := make(map[types.WorkflowStatus]int)
	jobCounts := make(map[types.JobStatus]int)
	allocCounts := make(map[types.AllocationStatus]int)
	for _, w := range workflows {
		wfCounts[w.Status]++
		jobs, err := r.store.ListJobs(w.ID)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			jobCounts[j.Status]++
		}
		allocs, err := r.store.ListScheduledComputeNodes(w.ID)
		if err != nil {
			return err
		}
		for _, a := range allocs {
			allocCounts[a.Status]++
		}
	}

	metrics.WorkflowsTotal.Reset()
	for s, n := range wfCounts {
		metrics.WorkflowsTotal.WithLabelValues(string(s)).Set(float64(n))
	}
	metrics.JobsTotal.Reset()
	for s, n := range jobCounts {
		metrics.JobsTotal.WithLabelValues(string(s)).Set(float64(n))
	}
	metrics.AllocationsTotal.Reset()
	for s, n := range allocCounts {
		metrics.AllocationsTotal.WithLabelValues(string(s)).Set(float64(n))
	}

	active, err := r.store.ListActiveComputeNodes()
	if err != nil {
		return err
	}
	metrics.ComputeNodesActive.Set(float64(len(active)))
	return nil
}
