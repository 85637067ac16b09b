package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/torc-hpc/torc/pkg/export"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

// Client is a typed wrapper over the torc HTTP API. All methods take a
// context; the client imposes no timeout of its own, so a caller that
// wants one bounds the context. ClaimJobs in particular long-polls up
// to the server's wait timeout and needs a context that outlives it.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// New creates an unauthenticated client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// NewWithBasicAuth creates a client that presents Basic credentials on
// every request.
func NewWithBasicAuth(baseURL, username, password string) *Client {
	c := New(baseURL)
	c.username = username
	c.password = password
	return c
}

// retryAttempts bounds how often a request is repeated when the server
// reports a retryable conflict. Waits double from retryBaseDelay.
const (
	retryAttempts  = 3
	retryBaseDelay = 100 * time.Millisecond
)

// do sends one JSON request and decodes the response into out. Error
// responses are decoded back into their typed form, so callers can
// dispatch on torcerr codes exactly as server-side code does. Requests
// rejected as retryable_conflict are retried with exponential backoff.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var data []byte
	if in != nil {
		var err error
		data, err = json.Marshal(in)
		if err != nil {
			return torcerr.Wrap(err, torcerr.CodeInternal, "encode %s %s request", method, path)
		}
	}

	delay := retryBaseDelay
	for attempt := 0; ; attempt++ {
		err := c.doOnce(ctx, method, path, data, out)
		if err == nil || !torcerr.Is(err, torcerr.CodeRetryableConflict) || attempt >= retryAttempts {
			return err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
}

func (c *Client) doOnce(ctx context.Context, method, path string, data []byte, out interface{}) error {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return torcerr.Wrap(err, torcerr.CodeInternal, "build %s %s request", method, path)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return torcerr.Wrap(err, torcerr.CodeInternal, "%s %s", method, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(method, path, resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return torcerr.Wrap(err, torcerr.CodeInternal, "decode %s %s response", method, path)
		}
	}
	return nil
}

func decodeError(method, path string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var e struct {
		Code    torcerr.Code `json:"code"`
		Message string       `json:"message"`
	}
	if err := json.Unmarshal(data, &e); err == nil && e.Code != "" {
		return &torcerr.Error{Code: e.Code, Message: e.Message}
	}
	return torcerr.Internal("%s %s: unexpected status %d", method, path, resp.StatusCode)
}

// --- Workflows ---

// CreateWorkflow creates a workflow owned by the authenticated user.
func (c *Client) CreateWorkflow(ctx context.Context, name, description string) (*types.Workflow, error) {
	req := map[string]string{"name": name, "description": description}
	var w types.Workflow
	if err := c.do(ctx, http.MethodPost, "/workflows", req, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkflows returns the caller's workflows, or everyone's with
// showAllUsers.
func (c *Client) ListWorkflows(ctx context.Context, showAllUsers bool) ([]*types.Workflow, error) {
	path := "/workflows"
	if showAllUsers {
		path += "?show_all_users=true"
	}
	var out []*types.Workflow
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetWorkflow(ctx context.Context, id int64) (*types.Workflow, error) {
	var w types.Workflow
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d", id), nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *Client) DeleteWorkflow(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/workflows/%d", id), nil, nil)
}

// InitializeWorkflow validates the DAG, assigns a new run id, and seeds
// job statuses.
func (c *Client) InitializeWorkflow(ctx context.Context, id int64) (*types.InitializeResult, error) {
	var res types.InitializeResult
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workflows/%d/initialize", id), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ResetWorkflow returns jobs to the uninitialized state, all of them or
// only the failed ones.
func (c *Client) ResetWorkflow(ctx context.Context, id int64, failedOnly bool) (*types.ResetResult, error) {
	path := fmt.Sprintf("/workflows/%d/reset", id)
	if failedOnly {
		path += "?failed_only=true"
	}
	var res types.ResetResult
	if err := c.do(ctx, http.MethodPost, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ExportWorkflow downloads a workflow as a portable document.
func (c *Client) ExportWorkflow(ctx context.Context, id int64, includeResults, includeEvents bool) (*export.Document, error) {
	q := url.Values{}
	if includeResults {
		q.Set("include_results", "true")
	}
	if includeEvents {
		q.Set("include_events", "true")
	}
	path := fmt.Sprintf("/workflows/%d/export", id)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var doc export.Document
	if err := c.do(ctx, http.MethodGet, path, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ImportWorkflow uploads an export document and returns the fresh
// workflow built from it.
func (c *Client) ImportWorkflow(ctx context.Context, doc *export.Document) (*types.Workflow, error) {
	var w types.Workflow
	if err := c.do(ctx, http.MethodPost, "/workflows/import", doc, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// ListEvents returns a workflow's audit trail. Category filters when
// set; after resumes past an event id; limit caps the page size.
func (c *Client) ListEvents(ctx context.Context, workflowID int64, category types.EventCategory, after int64, limit int) ([]*types.Event, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", string(category))
	}
	if after > 0 {
		q.Set("after", strconv.FormatInt(after, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := fmt.Sprintf("/workflows/%d/events", workflowID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []*types.Event
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchEvents follows a workflow's live event stream, invoking fn for
// each event until the context is canceled, the server closes the
// stream, or fn returns an error. Only events published after the
// stream opens are delivered; fetch history with ListEvents first.
func (c *Client) WatchEvents(ctx context.Context, workflowID int64, category types.EventCategory, fn func(*types.Event) error) error {
	path := fmt.Sprintf("/workflows/%d/events/stream", workflowID)
	if category != "" {
		path += "?category=" + url.QueryEscape(string(category))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return torcerr.Wrap(err, torcerr.CodeInternal, "build watch request")
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return torcerr.Wrap(err, torcerr.CodeInternal, "GET %s", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(http.MethodGet, path, resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 16<<10), 1<<20)
	var data []byte
	for scanner.Scan() {
		line := scanner.Bytes()
		switch {
		case len(bytes.TrimSpace(line)) == 0:
			if len(data) == 0 {
				continue
			}
			var ev types.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				return torcerr.Wrap(err, torcerr.CodeInternal, "decode streamed event")
			}
			data = data[:0]
			if err := fn(&ev); err != nil {
				return err
			}
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, bytes.TrimPrefix(line, []byte("data:"))...)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return torcerr.Wrap(err, torcerr.CodeInternal, "read event stream")
	}
	return nil
}

func (c *Client) ListResults(ctx context.Context, workflowID int64) ([]*types.Result, error) {
	var out []*types.Result
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/results", workflowID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMissingFiles returns the files that must exist on shared storage
// right now. The server never stats them; the caller checks.
func (c *Client) ListMissingFiles(ctx context.Context, workflowID int64) ([]*types.File, error) {
	var out []*types.File
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/missing_files", workflowID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListMissingUserData(ctx context.Context, workflowID int64) ([]*types.UserData, error) {
	var out []*types.UserData
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/missing_user_data", workflowID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Jobs ---

// JobSpec describes a job to create.
type JobSpec struct {
	Name                       string  `json:"name"`
	Command                    string  `json:"command"`
	Priority                   int     `json:"priority,omitempty"`
	DependsOnJobIDs            []int64 `json:"depends_on_job_ids,omitempty"`
	InputFileIDs               []int64 `json:"input_file_ids,omitempty"`
	OutputFileIDs              []int64 `json:"output_file_ids,omitempty"`
	InputUserDataIDs           []int64 `json:"input_user_data_ids,omitempty"`
	OutputUserDataIDs          []int64 `json:"output_user_data_ids,omitempty"`
	ResourceRequirementsID     int64   `json:"resource_requirements_id,omitempty"`
	SchedulerID                int64   `json:"scheduler_id,omitempty"`
	CancelOnBlockingJobFailure bool    `json:"cancel_on_blocking_job_failure,omitempty"`
	SupportsTermination        bool    `json:"supports_termination,omitempty"`
}

func (c *Client) CreateJob(ctx context.Context, workflowID int64, spec *JobSpec) (*types.Job, error) {
	var j types.Job
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workflows/%d/jobs", workflowID), spec, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobs returns a workflow's jobs, filtered by status when given.
func (c *Client) ListJobs(ctx context.Context, workflowID int64, status types.JobStatus) ([]*types.Job, error) {
	path := fmt.Sprintf("/workflows/%d/jobs", workflowID)
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out []*types.Job
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetJob(ctx context.Context, workflowID, jobID int64) (*types.Job, error) {
	var j types.Job
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/jobs/%d", workflowID, jobID), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *Client) DeleteJob(ctx context.Context, workflowID, jobID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/workflows/%d/jobs/%d", workflowID, jobID), nil, nil)
}

// ResetJob resets one job and reverses completions downstream of it.
func (c *Client) ResetJob(ctx context.Context, workflowID, jobID int64) (*types.ResetResult, error) {
	var res types.ResetResult
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workflows/%d/jobs/%d/reset", workflowID, jobID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ListJobResults(ctx context.Context, workflowID, jobID int64) ([]*types.Result, error) {
	var out []*types.Result
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/jobs/%d/results", workflowID, jobID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimJobs asks for ready jobs that fit the offered resources. The
// server holds the request open until jobs become claimable or its wait
// timeout passes, so the context deadline must allow for the poll.
func (c *Client) ClaimJobs(ctx context.Context, workflowID int64, req *types.ClaimJobsRequest) (*types.ClaimJobsResponse, error) {
	var resp types.ClaimJobsResponse
	path := fmt.Sprintf("/workflows/%d/jobs/claim_by_resources", workflowID)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartJob marks a claimed job running.
func (c *Client) StartJob(ctx context.Context, jobID int64) (*types.Job, error) {
	var j types.Job
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/jobs/%d/start", jobID), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// CompleteJob reports a job's terminal status and records its result.
func (c *Client) CompleteJob(ctx context.Context, jobID int64, req *types.CompleteJobRequest) (*types.Result, error) {
	var r types.Result
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/jobs/%d/complete", jobID), req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- Files ---

func (c *Client) CreateFile(ctx context.Context, workflowID int64, name, path string) (*types.File, error) {
	req := map[string]string{"name": name, "path": path}
	var f types.File
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workflows/%d/files", workflowID), req, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) ListFiles(ctx context.Context, workflowID int64) ([]*types.File, error) {
	var out []*types.File
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/files", workflowID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetFile(ctx context.Context, workflowID, fileID int64) (*types.File, error) {
	var f types.File
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/files/%d", workflowID, fileID), nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) DeleteFile(ctx context.Context, workflowID, fileID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/workflows/%d/files/%d", workflowID, fileID), nil, nil)
}

// --- User data ---

func (c *Client) CreateUserData(ctx context.Context, workflowID int64, name string, data json.RawMessage) (*types.UserData, error) {
	req := types.UserData{Name: name, Data: data}
	var u types.UserData
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workflows/%d/user_data", workflowID), &req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) ListUserData(ctx context.Context, workflowID int64) ([]*types.UserData, error) {
	var out []*types.UserData
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/user_data", workflowID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetUserData(ctx context.Context, workflowID, id int64) (*types.UserData, error) {
	var u types.UserData
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/user_data/%d", workflowID, id), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) DeleteUserData(ctx context.Context, workflowID, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/workflows/%d/user_data/%d", workflowID, id), nil, nil)
}

// --- Resource requirements ---

func (c *Client) CreateResourceRequirements(ctx context.Context, workflowID int64, rr *types.ResourceRequirements) (*types.ResourceRequirements, error) {
	var out types.ResourceRequirements
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workflows/%d/resource_requirements", workflowID), rr, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListResourceRequirements(ctx context.Context, workflowID int64) ([]*types.ResourceRequirements, error) {
	var out []*types.ResourceRequirements
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/resource_requirements", workflowID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetResourceRequirements(ctx context.Context, workflowID, id int64) (*types.ResourceRequirements, error) {
	var rr types.ResourceRequirements
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/resource_requirements/%d", workflowID, id), nil, &rr); err != nil {
		return nil, err
	}
	return &rr, nil
}

func (c *Client) DeleteResourceRequirements(ctx context.Context, workflowID, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/workflows/%d/resource_requirements/%d", workflowID, id), nil, nil)
}

// --- Schedulers ---

func (c *Client) CreateSlurmScheduler(ctx context.Context, workflowID int64, s *types.SlurmScheduler) (*types.SlurmScheduler, error) {
	var out types.SlurmScheduler
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workflows/%d/slurm_schedulers", workflowID), s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListSlurmSchedulers(ctx context.Context, workflowID int64) ([]*types.SlurmScheduler, error) {
	var out []*types.SlurmScheduler
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/slurm_schedulers", workflowID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteSlurmScheduler(ctx context.Context, workflowID, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/workflows/%d/slurm_schedulers/%d", workflowID, id), nil, nil)
}

func (c *Client) CreateLocalScheduler(ctx context.Context, workflowID int64, s *types.LocalScheduler) (*types.LocalScheduler, error) {
	var out types.LocalScheduler
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workflows/%d/local_schedulers", workflowID), s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListLocalSchedulers(ctx context.Context, workflowID int64) ([]*types.LocalScheduler, error) {
	var out []*types.LocalScheduler
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/local_schedulers", workflowID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteLocalScheduler(ctx context.Context, workflowID, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/workflows/%d/local_schedulers/%d", workflowID, id), nil, nil)
}

// --- Workflow actions ---

func (c *Client) CreateWorkflowAction(ctx context.Context, workflowID int64, a *types.WorkflowAction) (*types.WorkflowAction, error) {
	var out types.WorkflowAction
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workflows/%d/workflow_actions", workflowID), a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListWorkflowActions(ctx context.Context, workflowID int64) ([]*types.WorkflowAction, error) {
	var out []*types.WorkflowAction
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/workflow_actions", workflowID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteWorkflowAction(ctx context.Context, workflowID, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/workflows/%d/workflow_actions/%d", workflowID, id), nil, nil)
}

// --- Compute nodes ---

// AttachComputeNode registers this process as a worker on a workflow.
// schedulerID ties the node to the batch allocation that launched it
// and may be empty for ad hoc workers.
func (c *Client) AttachComputeNode(ctx context.Context, workflowID int64, hostname string, res types.ComputeNodesResources, schedulerID string) (*types.ComputeNode, error) {
	req := map[string]interface{}{
		"hostname":     hostname,
		"resources":    res,
		"scheduler_id": schedulerID,
	}
	var n types.ComputeNode
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workflows/%d/compute_nodes", workflowID), req, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) ListComputeNodes(ctx context.Context, workflowID int64) ([]*types.ComputeNode, error) {
	var out []*types.ComputeNode
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workflows/%d/compute_nodes", workflowID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HeartbeatComputeNode refreshes the node's liveness stamp. Workers
// call it on an interval well under the server's node timeout.
func (c *Client) HeartbeatComputeNode(ctx context.Context, nodeID int64) (*types.ComputeNode, error) {
	var n types.ComputeNode
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/compute_nodes/%d/heartbeat", nodeID), nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// DeactivateComputeNode is the graceful detach a worker performs on
// shutdown.
func (c *Client) DeactivateComputeNode(ctx context.Context, nodeID int64) (*types.ComputeNode, error) {
	var n types.ComputeNode
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/compute_nodes/%d/deactivate", nodeID), nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// --- Scheduled compute nodes ---

// CreateScheduledComputeNode records a batch allocation the caller just
// submitted, keyed by the external scheduler id.
func (c *Client) CreateScheduledComputeNode(ctx context.Context, workflowID, schedulerConfigID int64, schedulerID string, schedulerType types.SchedulerType) (*types.ScheduledComputeNode, error) {
	req := map[string]interface{}{
		"workflow_id":         workflowID,
		"scheduler_config_id": schedulerConfigID,
		"scheduler_id":        schedulerID,
		"scheduler_type":      schedulerType,
	}
	var n types.ScheduledComputeNode
	if err := c.do(ctx, http.MethodPost, "/scheduled_compute_nodes", req, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) GetScheduledComputeNode(ctx context.Context, id int64) (*types.ScheduledComputeNode, error) {
	var n types.ScheduledComputeNode
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/scheduled_compute_nodes/%d", id), nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) SetScheduledComputeNodeStatus(ctx context.Context, id int64, status types.AllocationStatus) (*types.ScheduledComputeNode, error) {
	req := map[string]string{"status": string(status)}
	var n types.ScheduledComputeNode
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/scheduled_compute_nodes/%d/status", id), req, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (c *Client) ListScheduledComputeNodes(ctx context.Context, workflowID int64, activeOnly bool) ([]*types.ScheduledComputeNode, error) {
	path := fmt.Sprintf("/workflows/%d/scheduled_compute_nodes", workflowID)
	if activeOnly {
		path += "?active_only=true"
	}
	var out []*types.ScheduledComputeNode
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Health ---

// Health reports whether the server considers itself healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
