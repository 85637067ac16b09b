/*
Package storage provides BoltDB-backed state persistence for torc's
workflow data.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for workflows, jobs,
files, user data, schedulers, compute nodes, results, events, and
actions. All data is serialized as JSON; keys are big-endian int64 ids
so cursor scans return entities in id order.

# Architecture

torc uses BoltDB (bbolt) for embedded, transactional storage with zero
external dependencies:

	┌──────────────────── BOLTDB STORAGE ───────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐           │
	│  │            BoltStore                        │           │
	│  │  - File: <database.path> (torc.db)          │           │
	│  │  - Format: B+tree with MVCC                 │           │
	│  │  - Transactions: ACID with fsync            │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │              Bucket Structure               │           │
	│  │  meta              schema_version           │           │
	│  │  sequences         per-type id counters     │           │
	│  │  workflows         id → Workflow            │           │
	│  │  jobs/<wf>         id → Job                 │           │
	│  │  job_status_index/<wf>  status‖id → nil     │           │
	│  │  job_index         job id → workflow id     │           │
	│  │  files/<wf>        id → File                │           │
	│  │  user_data/<wf>    id → UserData            │           │
	│  │  resource_requirements/<wf>                 │           │
	│  │  slurm_schedulers/<wf>, local_schedulers/<wf>│          │
	│  │  scheduled_compute_nodes/<wf> (+ index)     │           │
	│  │  compute_nodes/<wf>           (+ index)     │           │
	│  │  results/<wf>      id → Result              │           │
	│  │  results_by_job/<wf>  job‖run‖attempt → id  │           │
	│  │  events/<wf>       id → Event               │           │
	│  │  actions/<wf>      id → WorkflowAction      │           │
	│  │  names/<wf>        kind‖name → entity id    │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │        Transaction Management               │           │
	│  │  - Read: Store.View() - concurrent reads    │           │
	│  │  - Write: Store.Update() - one writer       │           │
	│  │  - Rollback: automatic on error             │           │
	│  │  - Commit: automatic on success + fsync     │           │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements Store using BoltDB
  - Single database file per server
  - Automatic bucket creation on open
  - Refuses to open databases with an unknown schema version

Tx:
  - Typed accessors over one BoltDB transaction
  - Engine operations (initialize, claim, complete, reset) run all
    their reads and writes inside a single Tx, so a transition over
    many jobs commits or rolls back as a unit
  - PutJob keeps job_status_index and job_index in step with the record

Indexes:
  - job_status_index: one status byte followed by the big-endian job
    id. A prefix scan yields all ready jobs in ascending id order
    without touching other statuses.
  - job_index, compute_node_index, scheduled_compute_node_index: global
    id → workflow id, for API routes that address an entity by id alone
  - results_by_job: (job, run, attempt) → result id, for at-most-once
    completion checks and latest-result lookups

Sequences:
  - Per-type counters in the sequences bucket
  - Ids are unique across workflows, so global routes are unambiguous
  - Slurm and local schedulers share one sequence

# Transaction Model

BoltDB permits exactly one writer at a time. Every engine operation is
one Update, which makes torc's concurrency story simple: two claims,
two completions, or a claim racing a reset serialize at the storage
layer and each sees the other's committed state or none of it.

Read transactions (View) run concurrently against a consistent
snapshot and never block the writer.

# Usage

Opening a store:

	store, err := storage.NewBoltStore("/var/lib/torc/torc.db")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

CRUD operations:

	wf := &types.Workflow{Name: "diamond", User: "jdoe"}
	err := store.CreateWorkflow(wf)   // assigns wf.ID

	jobs, err := store.ListJobsByStatus(wf.ID, types.JobStatusReady)

Multi-entity transitions:

	err := store.Update(func(tx *storage.Tx) error {
		job, err := tx.Job(workflowID, jobID)
		if err != nil {
			return err
		}
		job.Status = types.JobStatusSubmitted
		return tx.PutJob(job)
	})

# Design Patterns

Caller-managed timestamps:
  - Create methods stamp CreatedAt/UpdatedAt
  - Tx.Put* methods write exactly what they are given, so the engine
    controls UpdatedAt on state transitions and imports preserve
    original timestamps

Id assignment on first put:
  - Put* assigns the next sequence id when the entity's ID is zero
  - Puts with a nonzero id update in place; ids are never reused

Cascade delete:
  - DeleteWorkflow removes the workflow record, every per-workflow
    sub-bucket, and the global index entries pointing into them

Name uniqueness:
  - Job names, file names and paths, user data names, resource
    requirements names, and scheduler names (per type) are unique
    within a workflow, enforced through the names index inside the
    same transaction as the write. Violations return torcerr.Conflict

Error classification:
  - Missing entities return torcerr.NotFound so the API layer maps
    them to 404 without string matching

# Integration Points

This package integrates with:

  - pkg/engine: all state transitions run inside Store.Update
  - pkg/artifacts: input-file resolution reads via Store.View
  - pkg/tracker: allocation lifecycle updates
  - pkg/reconciler: dead-node and allocation sweeps
  - pkg/api: CRUD endpoints
  - pkg/types: all entity definitions

# See Also

  - pkg/engine for the state machine built on these primitives
  - pkg/types for all entity definitions
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
