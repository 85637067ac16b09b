package types

import (
	"encoding/json"
	"time"
)

// Workflow is the top-level container: a DAG of jobs plus the files,
// user data, schedulers, and actions that support them.
type Workflow struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	User        string         `json:"user"`
	Description string         `json:"description,omitempty"`
	Status      WorkflowStatus `json:"status"`
	IsArchived  bool           `json:"is_archived"`
	RunID       int64          `json:"run_id"` // incremented on each initialize
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// WorkflowStatus represents the coarse state of a workflow
type WorkflowStatus string

const (
	// WorkflowStatusCreated means the workflow exists but has not been
	// initialized for the current run.
	WorkflowStatusCreated WorkflowStatus = "created"

	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
)

// Job is a single shell command executed once per successful run.
// Dependencies are expressed explicitly (DependsOnJobIDs) or implicitly
// through artifacts: a job that consumes a file another job produces
// depends on the producer.
type Job struct {
	ID                     int64     `json:"id"`
	WorkflowID             int64     `json:"workflow_id"`
	Name                   string    `json:"name"`
	Command                string    `json:"command"`
	Status                 JobStatus `json:"status"`
	Priority               int       `json:"priority,omitempty"`
	AttemptID              int64     `json:"attempt_id"` // bumped on each claim
	ResourceRequirementsID int64     `json:"resource_requirements_id,omitempty"`
	SchedulerID            int64     `json:"scheduler_id,omitempty"`
	ComputeNodeID          int64     `json:"compute_node_id,omitempty"` // stamped at claim

	DependsOnJobIDs   []int64 `json:"depends_on_job_ids,omitempty"`
	InputFileIDs      []int64 `json:"input_file_ids,omitempty"`
	OutputFileIDs     []int64 `json:"output_file_ids,omitempty"`
	InputUserDataIDs  []int64 `json:"input_user_data_ids,omitempty"`
	OutputUserDataIDs []int64 `json:"output_user_data_ids,omitempty"`

	CancelOnBlockingJobFailure bool `json:"cancel_on_blocking_job_failure"`
	SupportsTermination        bool `json:"supports_termination"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobStatus is the driving enum of the state engine.
type JobStatus string

const (
	JobStatusUninitialized JobStatus = "uninitialized"
	JobStatusBlocked       JobStatus = "blocked"
	JobStatusReady         JobStatus = "ready"
	JobStatusSubmitted     JobStatus = "submitted"
	JobStatusRunning       JobStatus = "running"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusPendingFailed JobStatus = "pending_failed"
	JobStatusCanceled      JobStatus = "canceled"
	JobStatusTerminated    JobStatus = "terminated"
	JobStatusDisabled      JobStatus = "disabled"
)

// IsTerminal reports whether the status ends an attempt. Disabled is not
// terminal: a disabled job never started.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPendingFailed, JobStatusCanceled, JobStatusTerminated:
		return true
	}
	return false
}

// IsActive reports whether the job is bound to a compute node.
func (s JobStatus) IsActive() bool {
	return s == JobStatusSubmitted || s == JobStatusRunning
}

// ValidResultStatus reports whether a compute node may declare this
// status when completing a job.
func (s JobStatus) ValidResultStatus() bool {
	return s.IsTerminal()
}

// ResourceRequirements describes what a job needs to run. Memory is a
// human-readable quantity ("20g"); Runtime is an ISO 8601 duration
// ("P0DT4H"). Both are parsed on demand, never at rest.
type ResourceRequirements struct {
	ID         int64  `json:"id"`
	WorkflowID int64  `json:"workflow_id"`
	Name       string `json:"name"`
	NumCPUs    int    `json:"num_cpus"`
	NumGPUs    int    `json:"num_gpus"`
	NumNodes   int    `json:"num_nodes"`
	Memory     string `json:"memory,omitempty"`
	Runtime    string `json:"runtime,omitempty"`
}

// MemoryGB returns the memory requirement in gigabytes.
func (r *ResourceRequirements) MemoryGB() (float64, error) {
	if r.Memory == "" {
		return 0, nil
	}
	b, err := ParseMemory(r.Memory)
	if err != nil {
		return 0, err
	}
	return float64(b) / float64(1<<30), nil
}

// RuntimeDuration returns the parsed runtime limit, or zero when unset.
func (r *ResourceRequirements) RuntimeDuration() (time.Duration, error) {
	if r.Runtime == "" {
		return 0, nil
	}
	return ParseISO8601Duration(r.Runtime)
}

// File is a path-addressed artifact. IsOutput is derived during
// initialization: true iff some job lists the file as an output.
type File struct {
	ID         int64     `json:"id"`
	WorkflowID int64     `json:"workflow_id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	IsOutput   bool      `json:"is_output"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserData is an opaque JSON blob passed between jobs in-store.
type UserData struct {
	ID         int64           `json:"id"`
	WorkflowID int64           `json:"workflow_id"`
	Name       string          `json:"name"`
	Data       json.RawMessage `json:"data,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SchedulerType distinguishes scheduler configurations and the
// allocations they produce.
type SchedulerType string

const (
	SchedulerTypeSlurm SchedulerType = "slurm"
	SchedulerTypeLocal SchedulerType = "local"
)

// SlurmScheduler holds the submission parameters an external Slurm
// driver needs. The engine itself never interprets these fields.
type SlurmScheduler struct {
	ID         int64  `json:"id"`
	WorkflowID int64  `json:"workflow_id"`
	Name       string `json:"name"`
	Account    string `json:"account,omitempty"`
	Partition  string `json:"partition,omitempty"`
	QOS        string `json:"qos,omitempty"`
	Walltime   string `json:"walltime,omitempty"`
	Nodes      int    `json:"nodes,omitempty"`
	Mem        string `json:"mem,omitempty"`
	Gres       string `json:"gres,omitempty"`
	Tmp        string `json:"tmp,omitempty"`
	ExtraArgs  string `json:"extra_args,omitempty"`
}

// LocalScheduler describes worker processes launched on the submitting
// host.
type LocalScheduler struct {
	ID              int64  `json:"id"`
	WorkflowID      int64  `json:"workflow_id"`
	Name            string `json:"name"`
	MaxParallelJobs int    `json:"max_parallel_jobs,omitempty"`
}

// ScheduledComputeNode is the shadow record of a batch allocation an
// external driver has submitted. SchedulerID is the external batch id
// (for Slurm, the Slurm job id); SchedulerConfigID references the
// SlurmScheduler or LocalScheduler row that produced it.
type ScheduledComputeNode struct {
	ID                int64            `json:"id"`
	WorkflowID        int64            `json:"workflow_id"`
	SchedulerConfigID int64            `json:"scheduler_config_id"`
	SchedulerID       string           `json:"scheduler_id"`
	SchedulerType     SchedulerType    `json:"scheduler_type"`
	Status            AllocationStatus `json:"status"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// AllocationStatus is the lifecycle of a scheduled allocation.
type AllocationStatus string

const (
	AllocationStatusPending  AllocationStatus = "pending"
	AllocationStatusActive   AllocationStatus = "active"
	AllocationStatusComplete AllocationStatus = "complete"
)

// ComputeNode is created when a worker attaches to a workflow. A node
// launched inside a batch allocation carries the allocation's external
// scheduler id so the two lifecycles can be tied together.
type ComputeNode struct {
	ID            int64                 `json:"id"`
	WorkflowID    int64                 `json:"workflow_id"`
	Hostname      string                `json:"hostname"`
	Resources     ComputeNodesResources `json:"resources"`
	SchedulerID   string                `json:"scheduler_id,omitempty"`
	IsActive      bool                  `json:"is_active"`
	LastHeartbeat time.Time             `json:"last_heartbeat"`
	CreatedAt     time.Time             `json:"created_at"`
}

// ComputeNodesResources is the available-resource descriptor a claimant
// presents and the budget the claim algorithm spends.
type ComputeNodesResources struct {
	NumCPUs  int     `json:"num_cpus"`
	MemoryGB float64 `json:"memory_gb"`
	NumGPUs  int     `json:"num_gpus"`
	NumNodes int     `json:"num_nodes"`
}

// IsZero reports whether no resources are on offer.
func (r ComputeNodesResources) IsZero() bool {
	return r.NumCPUs == 0 && r.MemoryGB == 0 && r.NumGPUs == 0 && r.NumNodes == 0
}

// Result records one execution attempt of a job. Results are append-only
// and unique per (job_id, run_id, attempt_id).
type Result struct {
	ID              int64     `json:"id"`
	WorkflowID      int64     `json:"workflow_id"`
	JobID           int64     `json:"job_id"`
	RunID           int64     `json:"run_id"`
	AttemptID       int64     `json:"attempt_id"`
	ComputeNodeID   int64     `json:"compute_node_id,omitempty"`
	Status          JobStatus `json:"status"`
	ReturnCode      int       `json:"return_code"`
	ExecTimeMinutes float64   `json:"exec_time_minutes"`
	CompletionTime  time.Time `json:"completion_time"`
}

// Succeeded reports whether the attempt completed cleanly.
func (r *Result) Succeeded() bool {
	return r.Status == JobStatusCompleted && r.ReturnCode == 0
}

// Event is an append-only audit record.
type Event struct {
	ID         int64             `json:"id"`
	WorkflowID int64             `json:"workflow_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Category   EventCategory     `json:"category"`
	Type       EventType         `json:"type"`
	Message    string            `json:"message,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

// EventCategory groups events for filtered audit queries.
type EventCategory string

const (
	EventCategoryWorkflow    EventCategory = "workflow"
	EventCategoryJob         EventCategory = "job"
	EventCategoryComputeNode EventCategory = "compute_node"
	EventCategoryScheduler   EventCategory = "scheduler"
	EventCategoryAction      EventCategory = "action"
)

// EventType identifies what happened.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowReset     EventType = "workflow.reset"

	EventJobsClaimed      EventType = "jobs.claimed"
	EventJobStarted       EventType = "job.started"
	EventJobCompleted     EventType = "job.completed"
	EventJobCanceled      EventType = "job.canceled"
	EventJobPendingFailed EventType = "job.pending_failed"
	EventJobTerminated    EventType = "job.terminated"

	EventComputeNodeRegistered   EventType = "compute_node.registered"
	EventComputeNodeDeactivated  EventType = "compute_node.deactivated"
	EventComputeNodeDead         EventType = "compute_node.dead"
	EventAllocationStatusChanged EventType = "allocation.status_changed"

	EventActionTriggered EventType = "action.triggered"
)

// ActionTrigger names the lifecycle points a WorkflowAction can hook.
type ActionTrigger string

const (
	TriggerOnWorkflowStart    ActionTrigger = "on_workflow_start"
	TriggerOnWorkflowComplete ActionTrigger = "on_workflow_complete"
)

// WorkflowAction is a declarative hook. Invoking an action means
// emitting an action event carrying the payload; external drivers
// subscribe and react. The engine records intent, nothing more.
type WorkflowAction struct {
	ID         int64           `json:"id"`
	WorkflowID int64           `json:"workflow_id"`
	Trigger    ActionTrigger   `json:"trigger"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ClaimJobsRequest asks for up to MaxJobs ready jobs that fit within
// Resources. MaxJobs <= 0 means no limit. SchedulerID, when set,
// restricts eligibility to jobs pinned to that scheduler or unpinned.
type ClaimJobsRequest struct {
	Resources     ComputeNodesResources `json:"resources"`
	MaxJobs       int                   `json:"max_jobs,omitempty"`
	SchedulerID   int64                 `json:"scheduler_id,omitempty"`
	ComputeNodeID int64                 `json:"compute_node_id,omitempty"`
}

// ClaimJobsResponse returns the claimed jobs and the run they belong to.
type ClaimJobsResponse struct {
	RunID int64  `json:"run_id"`
	Jobs  []*Job `json:"jobs"`
}

// CompleteJobRequest is the payload a compute node posts when a job
// finishes (or fails, or is killed).
type CompleteJobRequest struct {
	Status          JobStatus `json:"status"`
	ReturnCode      int       `json:"return_code"`
	ExecTimeMinutes float64   `json:"exec_time_minutes,omitempty"`
	ComputeNodeID   int64     `json:"compute_node_id,omitempty"`
	CompletionTime  time.Time `json:"completion_time,omitempty"`
}

// InitializeResult summarizes one initialize pass.
type InitializeResult struct {
	RunID       int64 `json:"run_id"`
	TotalJobs   int   `json:"total_jobs"`
	ReadyJobs   int   `json:"ready_jobs"`
	BlockedJobs int   `json:"blocked_jobs"`
}

// ResetResult summarizes a reset, including jobs swept up by
// completion-reversal.
type ResetResult struct {
	ResetJobs int `json:"reset_jobs"`
}
