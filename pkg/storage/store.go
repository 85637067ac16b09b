package storage

import "github.com/torc-hpc/torc/pkg/types"

// Store defines the persistence interface for torc state
type Store interface {
	// Workflow operations
	CreateWorkflow(w *types.Workflow) error
	GetWorkflow(id int64) (*types.Workflow, error)
	UpdateWorkflow(w *types.Workflow) error
	DeleteWorkflow(id int64) error
	ListWorkflows() ([]*types.Workflow, error)

	// Job operations
	CreateJob(j *types.Job) error
	GetJob(workflowID, jobID int64) (*types.Job, error)
	FindJob(jobID int64) (*types.Job, error)
	UpdateJob(j *types.Job) error
	ListJobs(workflowID int64) ([]*types.Job, error)
	ListJobsByStatus(workflowID int64, status types.JobStatus) ([]*types.Job, error)

	// Resource requirements operations
	CreateResourceRequirements(rr *types.ResourceRequirements) error
	GetResourceRequirements(workflowID, id int64) (*types.ResourceRequirements, error)
	ListResourceRequirements(workflowID int64) ([]*types.ResourceRequirements, error)

	// File operations
	CreateFile(f *types.File) error
	GetFile(workflowID, id int64) (*types.File, error)
	UpdateFile(f *types.File) error
	ListFiles(workflowID int64) ([]*types.File, error)

	// User data operations
	CreateUserData(u *types.UserData) error
	GetUserData(workflowID, id int64) (*types.UserData, error)
	UpdateUserData(u *types.UserData) error
	ListUserData(workflowID int64) ([]*types.UserData, error)

	// Scheduler operations. Slurm and local schedulers share one id
	// space so Job.SchedulerID is unambiguous.
	CreateSlurmScheduler(s *types.SlurmScheduler) error
	GetSlurmScheduler(workflowID, id int64) (*types.SlurmScheduler, error)
	ListSlurmSchedulers(workflowID int64) ([]*types.SlurmScheduler, error)
	CreateLocalScheduler(s *types.LocalScheduler) error
	GetLocalScheduler(workflowID, id int64) (*types.LocalScheduler, error)
	ListLocalSchedulers(workflowID int64) ([]*types.LocalScheduler, error)

	// Scheduled compute node operations
	CreateScheduledComputeNode(n *types.ScheduledComputeNode) error
	GetScheduledComputeNode(workflowID, id int64) (*types.ScheduledComputeNode, error)
	FindScheduledComputeNode(id int64) (*types.ScheduledComputeNode, error)
	UpdateScheduledComputeNode(n *types.ScheduledComputeNode) error
	ListScheduledComputeNodes(workflowID int64) ([]*types.ScheduledComputeNode, error)

	// Compute node operations
	CreateComputeNode(n *types.ComputeNode) error
	GetComputeNode(workflowID, id int64) (*types.ComputeNode, error)
	FindComputeNode(id int64) (*types.ComputeNode, error)
	UpdateComputeNode(n *types.ComputeNode) error
	ListComputeNodes(workflowID int64) ([]*types.ComputeNode, error)
	ListActiveComputeNodes() ([]*types.ComputeNode, error)

	// Result operations (append-only)
	CreateResult(r *types.Result) error
	ListResults(workflowID int64) ([]*types.Result, error)
	ListResultsByJob(workflowID, jobID int64) ([]*types.Result, error)
	LatestResult(workflowID, jobID int64) (*types.Result, error)

	// Event operations (append-only)
	CreateEvent(e *types.Event) error
	ListEvents(workflowID int64, category types.EventCategory, after int64, limit int) ([]*types.Event, error)

	// Workflow action operations
	CreateWorkflowAction(a *types.WorkflowAction) error
	ListWorkflowActions(workflowID int64) ([]*types.WorkflowAction, error)

	// View runs fn in a read-only transaction.
	View(fn func(tx *Tx) error) error

	// Update runs fn in a writable transaction. The backend permits one
	// writer at a time, so everything fn reads and writes is
	// serializable with every other Update.
	Update(fn func(tx *Tx) error) error

	Close() error
}
