package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/torc-hpc/torc/pkg/export"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

// requireWorkflow turns reads against a nonexistent workflow into 404s
// instead of empty lists.
func (s *Server) requireWorkflow(c *gin.Context, id int64) bool {
	if _, err := s.deps.Store.GetWorkflow(id); err != nil {
		abortError(c, err)
		return false
	}
	return true
}

type createWorkflowRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) createWorkflow(c *gin.Context) {
	var req createWorkflowRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Name == "" {
		abortError(c, torcerr.InvalidInput("workflow name is required"))
		return
	}
	w := &types.Workflow{
		Name:        req.Name,
		Description: req.Description,
		User:        currentUser(c),
	}
	if err := s.deps.Store.CreateWorkflow(w); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (s *Server) listWorkflows(c *gin.Context) {
	showAll, ok := boolQuery(c, "show_all_users")
	if !ok {
		return
	}
	all, err := s.deps.Store.ListWorkflows()
	if err != nil {
		abortError(c, err)
		return
	}
	if showAll {
		c.JSON(http.StatusOK, all)
		return
	}
	user := currentUser(c)
	mine := make([]*types.Workflow, 0, len(all))
	for _, w := range all {
		if w.User == user {
			mine = append(mine, w)
		}
	}
	c.JSON(http.StatusOK, mine)
}

func (s *Server) getWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	w, err := s.deps.Store.GetWorkflow(id)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) deleteWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteWorkflow(id); err != nil {
		abortError(c, err)
		return
	}
	// Drop the claim queue so parked long-polls fail fast instead of
	// waiting out their timeout against a vanished workflow.
	s.deps.Claims.Forget(id)
	c.Status(http.StatusNoContent)
}

func (s *Server) initializeWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := s.deps.Engine.InitializeJobs(id)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) resetWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	failedOnly, ok := boolQuery(c, "failed_only")
	if !ok {
		return
	}
	res, err := s.deps.Engine.ResetJobStatus(id, failedOnly)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) claimJobs(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req types.ClaimJobsRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := s.deps.Claims.Claim(c.Request.Context(), id, &req)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) exportWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	includeResults, ok := boolQuery(c, "include_results")
	if !ok {
		return
	}
	includeEvents, ok := boolQuery(c, "include_events")
	if !ok {
		return
	}
	doc, err := export.Export(s.deps.Store, id, export.Options{
		IncludeResults: includeResults,
		IncludeEvents:  includeEvents,
	})
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) importWorkflow(c *gin.Context) {
	var doc export.Document
	if !bindJSON(c, &doc) {
		return
	}
	w, err := export.Import(s.deps.Store, &doc, currentUser(c))
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (s *Server) listEvents(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !s.requireWorkflow(c, id) {
		return
	}
	var after int64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			abortError(c, torcerr.InvalidInput("invalid after %q", raw))
			return
		}
		after = v
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			abortError(c, torcerr.InvalidInput("invalid limit %q", raw))
			return
		}
		limit = v
	}
	events, err := s.deps.Store.ListEvents(id, types.EventCategory(c.Query("category")), after, limit)
	if err != nil {
		abortError(c, err)
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	c.JSON(http.StatusOK, events)
}

// streamEvents pushes a workflow's live events as server-sent events.
// Only events published after the stream opens are delivered; history
// is served by the events list with an after cursor.
func (s *Server) streamEvents(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !s.requireWorkflow(c, id) {
		return
	}
	if s.deps.Broker == nil {
		abortError(c, torcerr.InvalidState("event streaming is not enabled"))
		return
	}
	category := types.EventCategory(c.Query("category"))

	sub := s.deps.Broker.Subscribe()
	defer s.deps.Broker.Unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, open := <-sub:
			if !open {
				return false
			}
			if ev.WorkflowID != id || (category != "" && ev.Category != category) {
				return true
			}
			c.SSEvent("event", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) listResults(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !s.requireWorkflow(c, id) {
		return
	}
	results, err := s.deps.Store.ListResults(id)
	if err != nil {
		abortError(c, err)
		return
	}
	if results == nil {
		results = []*types.Result{}
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) listMissingFiles(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !s.requireWorkflow(c, id) {
		return
	}
	files, err := s.deps.Resolver.ListRequiredExistingFiles(id)
	if err != nil {
		abortError(c, err)
		return
	}
	if files == nil {
		files = []*types.File{}
	}
	c.JSON(http.StatusOK, files)
}

func (s *Server) listMissingUserData(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !s.requireWorkflow(c, id) {
		return
	}
	data, err := s.deps.Resolver.ListRequiredExistingUserData(id)
	if err != nil {
		abortError(c, err)
		return
	}
	if data == nil {
		data = []*types.UserData{}
	}
	c.JSON(http.StatusOK, data)
}
