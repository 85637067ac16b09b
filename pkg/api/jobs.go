package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

type createJobRequest struct {
	Name                       string  `json:"name"`
	Command                    string  `json:"command"`
	Priority                   int     `json:"priority"`
	DependsOnJobIDs            []int64 `json:"depends_on_job_ids"`
	InputFileIDs               []int64 `json:"input_file_ids"`
	OutputFileIDs              []int64 `json:"output_file_ids"`
	InputUserDataIDs           []int64 `json:"input_user_data_ids"`
	OutputUserDataIDs          []int64 `json:"output_user_data_ids"`
	ResourceRequirementsID     int64   `json:"resource_requirements_id"`
	SchedulerID                int64   `json:"scheduler_id"`
	CancelOnBlockingJobFailure bool    `json:"cancel_on_blocking_job_failure"`
	SupportsTermination        bool    `json:"supports_termination"`
}

func (s *Server) createJob(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req createJobRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Name == "" {
		abortError(c, torcerr.InvalidInput("job name is required"))
		return
	}
	if req.Command == "" {
		abortError(c, torcerr.InvalidInput("job command is required"))
		return
	}
	j := &types.Job{
		WorkflowID:                 workflowID,
		Name:                       req.Name,
		Command:                    req.Command,
		Priority:                   req.Priority,
		DependsOnJobIDs:            req.DependsOnJobIDs,
		InputFileIDs:               req.InputFileIDs,
		OutputFileIDs:              req.OutputFileIDs,
		InputUserDataIDs:           req.InputUserDataIDs,
		OutputUserDataIDs:          req.OutputUserDataIDs,
		ResourceRequirementsID:     req.ResourceRequirementsID,
		SchedulerID:                req.SchedulerID,
		CancelOnBlockingJobFailure: req.CancelOnBlockingJobFailure,
		SupportsTermination:        req.SupportsTermination,
	}
	if err := s.deps.Store.CreateJob(j); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, j)
}

func (s *Server) listJobs(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok || !s.requireWorkflow(c, workflowID) {
		return
	}
	var (
		jobs []*types.Job
		err  error
	)
	if status := c.Query("status"); status != "" {
		jobs, err = s.deps.Store.ListJobsByStatus(workflowID, types.JobStatus(status))
	} else {
		jobs, err = s.deps.Store.ListJobs(workflowID)
	}
	if err != nil {
		abortError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*types.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (s *Server) getJob(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	jobID, ok := pathID(c, "jobID")
	if !ok {
		return
	}
	j, err := s.deps.Store.GetJob(workflowID, jobID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

// deleteJob removes a job that has not entered the state machine.
// Anything past Uninitialized/Disabled has history (results, status
// index entries, dependents counting on its completion) and must be
// reset or disabled instead.
func (s *Server) deleteJob(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	jobID, ok := pathID(c, "jobID")
	if !ok {
		return
	}
	err := s.deps.Store.Update(func(tx *storage.Tx) error {
		j, err := tx.Job(workflowID, jobID)
		if err != nil {
			return err
		}
		if j.Status != types.JobStatusUninitialized && j.Status != types.JobStatusDisabled {
			return torcerr.InvalidState("cannot delete job %d in status %s", jobID, j.Status)
		}
		jobs, err := tx.ListJobs(workflowID)
		if err != nil {
			return err
		}
		for _, other := range jobs {
			for _, dep := range other.DependsOnJobIDs {
				if dep == jobID {
					return torcerr.Conflict("job %q depends on job %d", other.Name, jobID)
				}
			}
		}
		return tx.DeleteJob(workflowID, jobID)
	})
	if err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) resetJob(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	jobID, ok := pathID(c, "jobID")
	if !ok {
		return
	}
	res, err := s.deps.Engine.ResetJob(workflowID, jobID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listJobResults(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	jobID, ok := pathID(c, "jobID")
	if !ok {
		return
	}
	if _, err := s.deps.Store.GetJob(workflowID, jobID); err != nil {
		abortError(c, err)
		return
	}
	results, err := s.deps.Store.ListResultsByJob(workflowID, jobID)
	if err != nil {
		abortError(c, err)
		return
	}
	if results == nil {
		results = []*types.Result{}
	}
	c.JSON(http.StatusOK, results)
}

// startJob flips a claimed job to Running. Global route: the worker
// only holds the job ID it was handed at claim time.
func (s *Server) startJob(c *gin.Context) {
	jobID, ok := pathID(c, "id")
	if !ok {
		return
	}
	j, err := s.deps.Engine.StartJob(jobID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Server) completeJob(c *gin.Context) {
	jobID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req types.CompleteJobRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := s.deps.Engine.CompleteJob(jobID, &req)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
