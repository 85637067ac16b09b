package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

type attachComputeNodeRequest struct {
	Hostname    string                      `json:"hostname"`
	Resources   types.ComputeNodesResources `json:"resources"`
	SchedulerID string                      `json:"scheduler_id"`
}

// attachComputeNode registers a worker with a workflow. A worker
// launched inside a batch allocation reports the allocation's external
// scheduler id, which flips the matching pending allocation to active.
func (s *Server) attachComputeNode(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req attachComputeNodeRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Hostname == "" {
		abortError(c, torcerr.InvalidInput("compute node hostname is required"))
		return
	}
	n := &types.ComputeNode{
		WorkflowID:  workflowID,
		Hostname:    req.Hostname,
		Resources:   req.Resources,
		SchedulerID: req.SchedulerID,
	}
	if err := s.deps.Engine.AttachComputeNode(n); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (s *Server) listComputeNodes(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok || !s.requireWorkflow(c, workflowID) {
		return
	}
	nodes, err := s.deps.Store.ListComputeNodes(workflowID)
	if err != nil {
		abortError(c, err)
		return
	}
	if nodes == nil {
		nodes = []*types.ComputeNode{}
	}
	c.JSON(http.StatusOK, nodes)
}

func (s *Server) heartbeatComputeNode(c *gin.Context) {
	nodeID, ok := pathID(c, "id")
	if !ok {
		return
	}
	n, err := s.deps.Store.FindComputeNode(nodeID)
	if err != nil {
		abortError(c, err)
		return
	}
	n, err = s.deps.Engine.ComputeNodeHeartbeat(n.WorkflowID, nodeID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (s *Server) deactivateComputeNode(c *gin.Context) {
	nodeID, ok := pathID(c, "id")
	if !ok {
		return
	}
	n, err := s.deps.Store.FindComputeNode(nodeID)
	if err != nil {
		abortError(c, err)
		return
	}
	n, err = s.deps.Engine.DeactivateComputeNode(n.WorkflowID, nodeID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

type createScheduledNodeRequest struct {
	WorkflowID        int64               `json:"workflow_id"`
	SchedulerConfigID int64               `json:"scheduler_config_id"`
	SchedulerID       string              `json:"scheduler_id"`
	SchedulerType     types.SchedulerType `json:"scheduler_type"`
}

func (s *Server) createScheduledComputeNode(c *gin.Context) {
	var req createScheduledNodeRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.WorkflowID <= 0 {
		abortError(c, torcerr.InvalidInput("workflow_id is required"))
		return
	}
	n := &types.ScheduledComputeNode{
		WorkflowID:        req.WorkflowID,
		SchedulerConfigID: req.SchedulerConfigID,
		SchedulerID:       req.SchedulerID,
		SchedulerType:     req.SchedulerType,
	}
	if err := s.deps.Tracker.Create(n); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (s *Server) getScheduledComputeNode(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	n, err := s.deps.Tracker.Get(id)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

type setAllocationStatusRequest struct {
	Status types.AllocationStatus `json:"status"`
}

func (s *Server) setScheduledComputeNodeStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req setAllocationStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	n, err := s.deps.Tracker.SetStatus(id, req.Status)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (s *Server) listScheduledComputeNodes(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok || !s.requireWorkflow(c, workflowID) {
		return
	}
	activeOnly, ok := boolQuery(c, "active_only")
	if !ok {
		return
	}
	nodes, err := s.deps.Tracker.List(workflowID, activeOnly)
	if err != nil {
		abortError(c, err)
		return
	}
	if nodes == nil {
		nodes = []*types.ScheduledComputeNode{}
	}
	c.JSON(http.StatusOK, nodes)
}
