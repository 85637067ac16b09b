/*
Package reconciler is the background safety net for workflow state.

Workers are expected to report what happened to the jobs they claimed.
When a worker cannot report, because its process crashed or its batch
allocation was revoked, the jobs it held would stay submitted forever
and the workflow would never settle. The reconciler closes that gap: it
periodically scans stored state and repairs what the normal request
paths could not.

# Architecture

The reconciler runs one goroutine on a fixed interval. A panicked
cycle is logged and the loop backs off exponentially until a pass
completes normally. Every cycle performs three passes over the store:

	┌─────────────────────────────────────────────────────┐
	│                Reconciliation Cycle                 │
	└──────┬───────────────────┬──────────────────┬───────┘
	       │                   │                  │
	       ▼                   ▼                  ▼
	┌──────────────┐   ┌───────────────┐   ┌────────────┐
	│ Dead node    │   │ Completion    │   │ Gauge      │
	│ detection    │   │ sweep         │   │ refresh    │
	└──────┬───────┘   └───────┬───────┘   └────────────┘
	       │                   │
	       ▼                   ▼
	  Release jobs        Settle running
	  as pending_failed   workflows with
	  and settle the      no live jobs
	  node's allocation

# Dead Node Detection

Attached compute nodes heartbeat while they work. A node whose last
heartbeat is older than the configured timeout is declared dead:

	Last heartbeat: 10:30:00
	Cycle runs at:  10:33:45   (timeout 3m, 3m45s elapsed)
	Node declared dead

Declaring a node dead deactivates it, flips every submitted or running
job it held to pending_failed, and completes the node's batch
allocation once no other active node references it. No result rows are
written for the lost attempts: results record only what a worker
actually reported.

The staleness check runs twice. This loop scans outside any
transaction to find candidates cheaply, then the engine re-checks the
heartbeat inside the update transaction. A heartbeat that lands between
the two checks wins and the node survives.

# Completion Sweep

A workflow completes when its last job reaches a terminal status. The
normal carrier of that transition is the job completion path, but a
workflow whose final jobs were released by a node death has no
completion request to ride on. The sweep revisits every running
workflow and settles the ones with no ready, blocked, submitted, or
running jobs left.

# Gauge Refresh

Workflow, job, and allocation status gauges are recounted from the
store each cycle rather than maintained incrementally, so a missed
increment can skew them for at most one interval.

Every pass is idempotent. A cycle that observes a healthy system
changes nothing, and two reconcilers pointed at the same store would
not fight.

# Usage

	r := reconciler.New(store, eng, reconciler.Config{
		Interval:    time.Minute,
		NodeTimeout: 3 * time.Minute,
	})
	r.Start()
	defer r.Stop()

Stop waits for an in-flight cycle to finish, so it is safe to close
the store once it returns. Reconcile is exported for operators and
tests that want to force a pass without waiting out the interval.

# See Also

  - pkg/engine: owns the dead-node and completion transitions
  - pkg/tracker: the allocation ledger the node transitions update
  - pkg/metrics: the gauges and cycle counters refreshed here
*/
package reconciler
