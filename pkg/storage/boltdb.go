package storage

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/torc-hpc/torc/pkg/types"
)

var (
	// Bucket names. Entity buckets hold one sub-bucket per workflow so
	// deleting a workflow is a handful of DeleteBucket calls.
	bucketMeta               = []byte("meta")
	bucketSequences          = []byte("sequences")
	bucketWorkflows          = []byte("workflows")
	bucketJobs               = []byte("jobs")
	bucketJobStatusIndex     = []byte("job_status_index")
	bucketJobIndex           = []byte("job_index")
	bucketResourceReqs       = []byte("resource_requirements")
	bucketFiles              = []byte("files")
	bucketUserData           = []byte("user_data")
	bucketSlurmSchedulers    = []byte("slurm_schedulers")
	bucketLocalSchedulers    = []byte("local_schedulers")
	bucketScheduledNodes     = []byte("scheduled_compute_nodes")
	bucketScheduledNodeIndex = []byte("scheduled_compute_node_index")
	bucketComputeNodes       = []byte("compute_nodes")
	bucketComputeNodeIndex   = []byte("compute_node_index")
	bucketResults            = []byte("results")
	bucketResultsByJob       = []byte("results_by_job")
	bucketEvents             = []byte("events")
	bucketActions            = []byte("actions")
	bucketNames              = []byte("names")
)

// Sequence names for id allocation. Slurm and local schedulers draw
// from one sequence so Job.SchedulerID is unambiguous.
const (
	seqWorkflows      = "workflows"
	seqJobs           = "jobs"
	seqResourceReqs   = "resource_requirements"
	seqFiles          = "files"
	seqUserData       = "user_data"
	seqSchedulers     = "schedulers"
	seqScheduledNodes = "scheduled_compute_nodes"
	seqComputeNodes   = "compute_nodes"
	seqResults        = "results"
	seqEvents         = "events"
	seqActions        = "actions"
)

var keySchemaVersion = []byte("schema_version")

// schemaVersion changes when the bucket layout changes in a way old
// binaries cannot read. Opening a database with a different version
// fails rather than corrupting it.
const schemaVersion = "1"

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the database file at dbPath
func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets and verify the schema version
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketMeta,
			bucketSequences,
			bucketWorkflows,
			bucketJobs,
			bucketJobStatusIndex,
			bucketJobIndex,
			bucketResourceReqs,
			bucketFiles,
			bucketUserData,
			bucketSlurmSchedulers,
			bucketLocalSchedulers,
			bucketScheduledNodes,
			bucketScheduledNodeIndex,
			bucketComputeNodes,
			bucketComputeNodeIndex,
			bucketResults,
			bucketResultsByJob,
			bucketEvents,
			bucketActions,
			bucketNames,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		meta := tx.Bucket(bucketMeta)
		current := meta.Get(keySchemaVersion)
		if current == nil {
			return meta.Put(keySchemaVersion, []byte(schemaVersion))
		}
		if string(current) != schemaVersion {
			return fmt.Errorf("unsupported database schema version %s (this build reads version %s)", current, schemaVersion)
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// View runs fn in a read-only transaction
func (s *BoltStore) View(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
}

// Update runs fn in a writable transaction
func (s *BoltStore) Update(fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
}

// --- Workflow Operations ---

func (s *BoltStore) CreateWorkflow(w *types.Workflow) error {
	return s.Update(func(tx *Tx) error {
		now := time.Now().UTC()
		if w.CreatedAt.IsZero() {
			w.CreatedAt = now
		}
		w.UpdatedAt = now
		if w.Status == "" {
			w.Status = types.WorkflowStatusCreated
		}
		return tx.PutWorkflow(w)
	})
}

func (s *BoltStore) GetWorkflow(id int64) (*types.Workflow, error) {
	var w *types.Workflow
	err := s.View(func(tx *Tx) error {
		var err error
		w, err = tx.Workflow(id)
		return err
	})
	return w, err
}

func (s *BoltStore) UpdateWorkflow(w *types.Workflow) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.Workflow(w.ID); err != nil {
			return err
		}
		w.UpdatedAt = time.Now().UTC()
		return tx.PutWorkflow(w)
	})
}

func (s *BoltStore) DeleteWorkflow(id int64) error {
	return s.Update(func(tx *Tx) error {
		return tx.deleteWorkflow(id)
	})
}

func (s *BoltStore) ListWorkflows() ([]*types.Workflow, error) {
	var workflows []*types.Workflow
	err := s.View(func(tx *Tx) error {
		var err error
		workflows, err = tx.ListWorkflows()
		return err
	})
	return workflows, err
}

// --- Job Operations ---

func (s *BoltStore) CreateJob(j *types.Job) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.Workflow(j.WorkflowID); err != nil {
			return err
		}
		now := time.Now().UTC()
		if j.CreatedAt.IsZero() {
			j.CreatedAt = now
		}
		j.UpdatedAt = now
		if j.Status == "" {
			j.Status = types.JobStatusUninitialized
		}
		return tx.PutJob(j)
	})
}

func (s *BoltStore) GetJob(workflowID, jobID int64) (*types.Job, error) {
	var j *types.Job
	err := s.View(func(tx *Tx) error {
		var err error
		j, err = tx.Job(workflowID, jobID)
		return err
	})
	return j, err
}

// FindJob resolves a job by id alone, without knowing its workflow
func (s *BoltStore) FindJob(jobID int64) (*types.Job, error) {
	var j *types.Job
	err := s.View(func(tx *Tx) error {
		var err error
		j, err = tx.FindJob(jobID)
		return err
	})
	return j, err
}

func (s *BoltStore) UpdateJob(j *types.Job) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.Job(j.WorkflowID, j.ID); err != nil {
			return err
		}
		j.UpdatedAt = time.Now().UTC()
		return tx.PutJob(j)
	})
}

func (s *BoltStore) ListJobs(workflowID int64) ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.View(func(tx *Tx) error {
		var err error
		jobs, err = tx.ListJobs(workflowID)
		return err
	})
	return jobs, err
}

func (s *BoltStore) ListJobsByStatus(workflowID int64, status types.JobStatus) ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.View(func(tx *Tx) error {
		var err error
		jobs, err = tx.ListJobsByStatus(workflowID, status)
		return err
	})
	return jobs, err
}

// --- Resource Requirements Operations ---

func (s *BoltStore) CreateResourceRequirements(rr *types.ResourceRequirements) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.Workflow(rr.WorkflowID); err != nil {
			return err
		}
		return tx.PutResourceRequirements(rr)
	})
}

func (s *BoltStore) GetResourceRequirements(workflowID, id int64) (*types.ResourceRequirements, error) {
	var rr *types.ResourceRequirements
	err := s.View(func(tx *Tx) error {
		var err error
		rr, err = tx.ResourceRequirements(workflowID, id)
		return err
	})
	return rr, err
}

func (s *BoltStore) ListResourceRequirements(workflowID int64) ([]*types.ResourceRequirements, error) {
	var reqs []*types.ResourceRequirements
	err := s.View(func(tx *Tx) error {
		var err error
		reqs, err = tx.ListResourceRequirements(workflowID)
		return err
	})
	return reqs, err
}

// --- File Operations ---

func (s *BoltStore) CreateFile(f *types.File) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.Workflow(f.WorkflowID); err != nil {
			return err
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now().UTC()
		}
		return tx.PutFile(f)
	})
}

func (s *BoltStore) GetFile(workflowID, id int64) (*types.File, error) {
	var f *types.File
	err := s.View(func(tx *Tx) error {
		var err error
		f, err = tx.File(workflowID, id)
		return err
	})
	return f, err
}

func (s *BoltStore) UpdateFile(f *types.File) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.File(f.WorkflowID, f.ID); err != nil {
			return err
		}
		return tx.PutFile(f)
	})
}

func (s *BoltStore) ListFiles(workflowID int64) ([]*types.File, error) {
	var files []*types.File
	err := s.View(func(tx *Tx) error {
		var err error
		files, err = tx.ListFiles(workflowID)
		return err
	})
	return files, err
}

// --- User Data Operations ---

func (s *BoltStore) CreateUserData(u *types.UserData) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.Workflow(u.WorkflowID); err != nil {
			return err
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now().UTC()
		}
		return tx.PutUserData(u)
	})
}

func (s *BoltStore) GetUserData(workflowID, id int64) (*types.UserData, error) {
	var u *types.UserData
	err := s.View(func(tx *Tx) error {
		var err error
		u, err = tx.UserData(workflowID, id)
		return err
	})
	return u, err
}

func (s *BoltStore) UpdateUserData(u *types.UserData) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.UserData(u.WorkflowID, u.ID); err != nil {
			return err
		}
		return tx.PutUserData(u)
	})
}

func (s *BoltStore) ListUserData(workflowID int64) ([]*types.UserData, error) {
	var items []*types.UserData
	err := s.View(func(tx *Tx) error {
		var err error
		items, err = tx.ListUserData(workflowID)
		return err
	})
	return items, err
}

// --- Scheduler Operations ---

func (s *BoltStore) CreateSlurmScheduler(sched *types.SlurmScheduler) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.Workflow(sched.WorkflowID); err != nil {
			return err
		}
		return tx.PutSlurmScheduler(sched)
	})
}

func (s *BoltStore) GetSlurmScheduler(workflowID, id int64) (*types.SlurmScheduler, error) {
	var sched *types.SlurmScheduler
	err := s.View(func(tx *Tx) error {
		var err error
		sched, err = tx.SlurmScheduler(workflowID, id)
		return err
	})
	return sched, err
}

func (s *BoltStore) ListSlurmSchedulers(workflowID int64) ([]*types.SlurmScheduler, error) {
	var scheds []*types.SlurmScheduler
	err := s.View(func(tx *Tx) error {
		var err error
		scheds, err = tx.ListSlurmSchedulers(workflowID)
		return err
	})
	return scheds, err
}

func (s *BoltStore) CreateLocalScheduler(sched *types.LocalScheduler) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.Workflow(sched.WorkflowID); err != nil {
			return err
		}
		return tx.PutLocalScheduler(sched)
	})
}

func (s *BoltStore) GetLocalScheduler(workflowID, id int64) (*types.LocalScheduler, error) {
	var sched *types.LocalScheduler
	err := s.View(func(tx *Tx) error {
		var err error
		sched, err = tx.LocalScheduler(workflowID, id)
		return err
	})
	return sched, err
}

func (s *BoltStore) ListLocalSchedulers(workflowID int64) ([]*types.LocalScheduler, error) {
	var scheds []*types.LocalScheduler
	err := s.View(func(tx *Tx) error {
		var err error
		scheds, err = tx.ListLocalSchedulers(workflowID)
		return err
	})
	return scheds, err
}

// --- Scheduled Compute Node Operations ---

func (s *BoltStore) CreateScheduledComputeNode(n *types.ScheduledComputeNode) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.Workflow(n.WorkflowID); err != nil {
			return err
		}
		now := time.Now().UTC()
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		n.UpdatedAt = now
		if n.Status == "" {
			n.Status = types.AllocationStatusPending
		}
		return tx.PutScheduledComputeNode(n)
	})
}

func (s *BoltStore) GetScheduledComputeNode(workflowID, id int64) (*types.ScheduledComputeNode, error) {
	var n *types.ScheduledComputeNode
	err := s.View(func(tx *Tx) error {
		var err error
		n, err = tx.ScheduledComputeNode(workflowID, id)
		return err
	})
	return n, err
}

func (s *BoltStore) FindScheduledComputeNode(id int64) (*types.ScheduledComputeNode, error) {
	var n *types.ScheduledComputeNode
	err := s.View(func(tx *Tx) error {
		var err error
		n, err = tx.FindScheduledComputeNode(id)
		return err
	})
	return n, err
}

func (s *BoltStore) UpdateScheduledComputeNode(n *types.ScheduledComputeNode) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.ScheduledComputeNode(n.WorkflowID, n.ID); err != nil {
			return err
		}
		n.UpdatedAt = time.Now().UTC()
		return tx.PutScheduledComputeNode(n)
	})
}

func (s *BoltStore) ListScheduledComputeNodes(workflowID int64) ([]*types.ScheduledComputeNode, error) {
	var nodes []*types.ScheduledComputeNode
	err := s.View(func(tx *Tx) error {
		var err error
		nodes, err = tx.ListScheduledComputeNodes(workflowID)
		return err
	})
	return nodes, err
}

// --- Compute Node Operations ---

func (s *BoltStore) CreateComputeNode(n *types.ComputeNode) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.Workflow(n.WorkflowID); err != nil {
			return err
		}
		now := time.Now().UTC()
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		if n.LastHeartbeat.IsZero() {
			n.LastHeartbeat = now
		}
		return tx.PutComputeNode(n)
	})
}

func (s *BoltStore) GetComputeNode(workflowID, id int64) (*types.ComputeNode, error) {
	var n *types.ComputeNode
	err := s.View(func(tx *Tx) error {
		var err error
		n, err = tx.ComputeNode(workflowID, id)
		return err
	})
	return n, err
}

func (s *BoltStore) FindComputeNode(id int64) (*types.ComputeNode, error) {
	var n *types.ComputeNode
	err := s.View(func(tx *Tx) error {
		var err error
		n, err = tx.FindComputeNode(id)
		return err
	})
	return n, err
}

func (s *BoltStore) UpdateComputeNode(n *types.ComputeNode) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.ComputeNode(n.WorkflowID, n.ID); err != nil {
			return err
		}
		return tx.PutComputeNode(n)
	})
}

func (s *BoltStore) ListComputeNodes(workflowID int64) ([]*types.ComputeNode, error) {
	var nodes []*types.ComputeNode
	err := s.View(func(tx *Tx) error {
		var err error
		nodes, err = tx.ListComputeNodes(workflowID)
		return err
	})
	return nodes, err
}

// ListActiveComputeNodes returns attached nodes across all workflows,
// used by the reconciler's dead-node sweep.
func (s *BoltStore) ListActiveComputeNodes() ([]*types.ComputeNode, error) {
	var nodes []*types.ComputeNode
	err := s.View(func(tx *Tx) error {
		workflows, err := tx.ListWorkflows()
		if err != nil {
			return err
		}
		for _, wf := range workflows {
			wfNodes, err := tx.ListComputeNodes(wf.ID)
			if err != nil {
				return err
			}
			for _, n := range wfNodes {
				if n.IsActive {
					nodes = append(nodes, n)
				}
			}
		}
		return nil
	})
	return nodes, err
}

// --- Result Operations ---

func (s *BoltStore) CreateResult(r *types.Result) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.Workflow(r.WorkflowID); err != nil {
			return err
		}
		if r.CompletionTime.IsZero() {
			r.CompletionTime = time.Now().UTC()
		}
		return tx.PutResult(r)
	})
}

func (s *BoltStore) ListResults(workflowID int64) ([]*types.Result, error) {
	var results []*types.Result
	err := s.View(func(tx *Tx) error {
		var err error
		results, err = tx.ListResults(workflowID)
		return err
	})
	return results, err
}

func (s *BoltStore) ListResultsByJob(workflowID, jobID int64) ([]*types.Result, error) {
	var results []*types.Result
	err := s.View(func(tx *Tx) error {
		var err error
		results, err = tx.ListResultsByJob(workflowID, jobID)
		return err
	})
	return results, err
}

func (s *BoltStore) LatestResult(workflowID, jobID int64) (*types.Result, error) {
	var r *types.Result
	err := s.View(func(tx *Tx) error {
		var err error
		r, err = tx.LatestResult(workflowID, jobID)
		return err
	})
	return r, err
}

// --- Event Operations ---

func (s *BoltStore) CreateEvent(e *types.Event) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.Workflow(e.WorkflowID); err != nil {
			return err
		}
		return tx.PutEvent(e)
	})
}

func (s *BoltStore) ListEvents(workflowID int64, category types.EventCategory, after int64, limit int) ([]*types.Event, error) {
	var events []*types.Event
	err := s.View(func(tx *Tx) error {
		var err error
		events, err = tx.ListEvents(workflowID, category, after, limit)
		return err
	})
	return events, err
}

// --- Workflow Action Operations ---

func (s *BoltStore) CreateWorkflowAction(a *types.WorkflowAction) error {
	return s.Update(func(tx *Tx) error {
		if _, err := tx.Workflow(a.WorkflowID); err != nil {
			return err
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		return tx.PutWorkflowAction(a)
	})
}

func (s *BoltStore) ListWorkflowActions(workflowID int64) ([]*types.WorkflowAction, error) {
	var actions []*types.WorkflowAction
	err := s.View(func(tx *Tx) error {
		var err error
		actions, err = tx.ListWorkflowActions(workflowID)
		return err
	})
	return actions, err
}
