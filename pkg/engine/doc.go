/*
Package engine drives the workflow and job state machines.

Everything stateful in torc funnels through here: initialization,
claiming, completion, resets, and compute node lifecycle. Each
operation runs inside a single store transaction, so concurrent
requests observe either all of a transition or none of it, and the
events describing a transition are broadcast only after it commits.

# Job Lifecycle

	uninitialized ─initialize─▶ ready ─claim─▶ submitted ─start─▶ running
	      │                       ▲                │                 │
	      ▼                       │ deps done      └───────┬─────────┘
	   disabled                 blocked                    │ complete
	                                                       ▼
	                               completed / canceled / terminated
	                               (node death: pending_failed)

Initialization validates the dependency graph (unknown references and
cycles are InvalidDag), derives file and user-data edges from producer
and consumer declarations, and seeds every enabled job as ready or
blocked. Claiming hands ready jobs whose resource requirements fit the
offered capacity to a compute node. Completion records the result,
unblocks dependents on success, cascades cancellation to dependents
that requested it, and settles the workflow when the last job goes
terminal. There is no failed status: a failure is a completed job
whose result carries a nonzero return code.

A dependency is satisfied only by a completed job whose latest result
has return code zero, or by a disabled job. Everything else keeps the
consumer blocked.

# Resets

Resetting rewinds jobs to uninitialized for another initialize pass.
The failed-only form seeds from failures, cancellations, terminations,
lost attempts, and completed jobs whose latest result did not succeed.
Any reset sweeps downstream: a completed consumer above a reset
producer is rewound too, since its inputs are about to be rewritten.

# Compute Nodes

Nodes attach to a workflow, heartbeat while they work, and detach when
done. A node that stops heartbeating is declared dead on the
reconciler's evidence, re-checked inside the transaction so a racing
heartbeat wins. Either exit path releases the node's unfinished jobs
as pending_failed without writing synthetic results and completes the
node's batch allocation once drained.

The engine publishes to the event broker and pokes the claim
coordinator's Notifier when new work becomes ready, but it never
blocks on either.
*/
package engine
