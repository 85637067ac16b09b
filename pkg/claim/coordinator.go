// Package claim serializes job-claim traffic per workflow and parks
// claimants when nothing is ready, so compute nodes long-poll instead
// of hammering the store.
package claim

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/torc-hpc/torc/pkg/engine"
	"github.com/torc-hpc/torc/pkg/log"
	"github.com/torc-hpc/torc/pkg/metrics"
	"github.com/torc-hpc/torc/pkg/types"
)

// DefaultWaitTimeout bounds how long a claimant is parked before an
// empty response is returned.
const DefaultWaitTimeout = 10 * time.Second

// Coordinator fronts engine.ClaimJobs. Claims for one workflow take
// turns; claims for different workflows proceed in parallel. It
// implements engine.Notifier so completions and initializations wake
// parked claimants immediately.
type Coordinator struct {
	engine      *engine.Engine
	waitTimeout time.Duration
	logger      zerolog.Logger

	mu     sync.Mutex
	queues map[int64]*queue
}

type queue struct {
	slot chan struct{} // capacity 1: whoever holds it runs the claim

	mu      sync.Mutex
	waiters []chan struct{}
}

// New builds a Coordinator and registers it as the engine's notifier.
func New(e *engine.Engine, waitTimeout time.Duration) *Coordinator {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	c := &Coordinator{
		engine:      e,
		waitTimeout: waitTimeout,
		logger:      log.WithComponent("claim"),
		queues:      make(map[int64]*queue),
	}
	e.SetNotifier(c)
	return c
}

func (c *Coordinator) queue(workflowID int64) *queue {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[workflowID]
	if !ok {
		q = &queue{slot: make(chan struct{}, 1)}
		c.queues[workflowID] = q
	}
	return q
}

// Forget drops the queue for a deleted workflow. Claimants parked on it
// simply time out.
func (c *Coordinator) Forget(workflowID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.queues, workflowID)
}

// Wake releases every claimant parked on the workflow. It is called by
// the engine after a commit that made jobs ready.
func (c *Coordinator) Wake(workflowID int64) {
	c.mu.Lock()
	q, ok := c.queues[workflowID]
	c.mu.Unlock()
	if !ok {
		return
	}
	q.mu.Lock()
	for _, w := range q.waiters {
		close(w)
	}
	q.waiters = nil
	q.mu.Unlock()
}

func (q *queue) register() chan struct{} {
	w := make(chan struct{})
	q.mu.Lock()
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()
	return w
}

func (q *queue) unregister(w chan struct{}) {
	q.mu.Lock()
	for i, cur := range q.waiters {
		if cur == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
}

// Claim runs one claim attempt, parking the caller for up to the wait
// timeout when nothing is ready. A request offering zero resources
// returns immediately: it can never match a job, so there is nothing to
// wait for. Cancelling ctx abandons the request without touching state.
func (c *Coordinator) Claim(ctx context.Context, workflowID int64, req *types.ClaimJobsRequest) (*types.ClaimJobsResponse, error) {
	q := c.queue(workflowID)
	deadline := time.NewTimer(c.waitTimeout)
	defer deadline.Stop()
	start := time.Now()

	for {
		// Register before claiming so a wake that lands between the
		// empty claim and the park below is not lost.
		w := q.register()

		resp, err := c.claimOnce(ctx, q, workflowID, req)
		if err != nil {
			q.unregister(w)
			return nil, err
		}
		if len(resp.Jobs) > 0 || req.Resources.IsZero() {
			q.unregister(w)
			metrics.ClaimWaitDuration.Observe(time.Since(start).Seconds())
			return resp, nil
		}

		select {
		case <-w:
			continue
		case <-deadline.C:
			q.unregister(w)
			metrics.ClaimWaitDuration.Observe(time.Since(start).Seconds())
			return resp, nil
		case <-ctx.Done():
			q.unregister(w)
			return nil, ctx.Err()
		}
	}
}

// claimOnce takes the workflow's turn, runs the claim, and releases the
// turn. The slot is held only for the duration of the engine call so a
// parked claimant never starves the queue.
func (c *Coordinator) claimOnce(ctx context.Context, q *queue, workflowID int64, req *types.ClaimJobsRequest) (*types.ClaimJobsResponse, error) {
	select {
	case q.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-q.slot }()
	return c.engine.ClaimJobs(workflowID, req)
}
