/*
Package types defines the core data structures shared by every torc
component: workflows, jobs, files, user data, schedulers, compute nodes,
results, and events, together with the wire types exchanged over the
HTTP API.

# Core Types

Workflow is the unit of ownership. Everything else hangs off a workflow
by WorkflowID and is deleted with it.

Job is the unit of execution: a shell command with explicit dependencies
(DependsOnJobIDs) and implicit ones derived from artifacts. If job A
lists file F as an output and job B lists F as an input, B depends on A
even when neither names the other.

Result is the append-only record of one execution attempt, keyed by
(job_id, run_id, attempt_id). RunID advances when a workflow is
initialized; AttemptID advances each time the job is claimed. Completed
results with ReturnCode 0 are the only ones that count as success.

ScheduledComputeNode shadows a batch allocation submitted by an external
driver (Slurm today). ComputeNode records a worker process that attached
to the workflow, possibly from inside such an allocation.

# Job State Machine

	uninitialized -> blocked | ready | canceled   (initialization)
	blocked       -> ready  | canceled            (dependencies resolve or fail)
	ready         -> submitted                    (claimed by a compute node)
	submitted     -> running | terminal           (worker progress)
	running       -> completed | pending_failed | canceled | terminated

Terminal statuses are completed, pending_failed, canceled, and
terminated. Disabled jobs are ignored by initialization and claiming and
are treated as satisfied dependencies.

# Quantities

Resource quantities stay human-readable at rest and are parsed on
demand: ParseMemory handles binary suffixes ("20g"), and
ParseISO8601Duration handles durations ("P0DT4H"). Calendar units are
rejected because they have no fixed length.

# Design Patterns

All entities use int64 IDs assigned by the store and snake_case JSON
tags; the same struct is the storage format and the wire format. Enums
are typed strings so they read well in logs, exports, and bbolt dumps.
*/
package types
