package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

// jobReference rejects deleting an entity some job still points at.
func jobReference(tx *storage.Tx, workflowID, id int64, kind string, refs func(*types.Job) []int64) error {
	jobs, err := tx.ListJobs(workflowID)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		for _, ref := range refs(j) {
			if ref == id {
				return torcerr.Conflict("job %q references %s %d", j.Name, kind, id)
			}
		}
	}
	return nil
}

// --- Files ---

func (s *Server) createFile(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var f types.File
	if !bindJSON(c, &f) {
		return
	}
	if f.Name == "" || f.Path == "" {
		abortError(c, torcerr.InvalidInput("file name and path are required"))
		return
	}
	f.ID = 0
	f.WorkflowID = workflowID
	f.IsOutput = false // derived at initialize
	if err := s.deps.Store.CreateFile(&f); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, &f)
}

func (s *Server) listFiles(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok || !s.requireWorkflow(c, workflowID) {
		return
	}
	files, err := s.deps.Store.ListFiles(workflowID)
	if err != nil {
		abortError(c, err)
		return
	}
	if files == nil {
		files = []*types.File{}
	}
	c.JSON(http.StatusOK, files)
}

func (s *Server) getFile(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entityID, ok := pathID(c, "entityID")
	if !ok {
		return
	}
	f, err := s.deps.Store.GetFile(workflowID, entityID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) deleteFile(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entityID, ok := pathID(c, "entityID")
	if !ok {
		return
	}
	err := s.deps.Store.Update(func(tx *storage.Tx) error {
		if err := jobReference(tx, workflowID, entityID, "file", func(j *types.Job) []int64 {
			return append(append([]int64{}, j.InputFileIDs...), j.OutputFileIDs...)
		}); err != nil {
			return err
		}
		return tx.DeleteFile(workflowID, entityID)
	})
	if err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- User data ---

func (s *Server) createUserData(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var u types.UserData
	if !bindJSON(c, &u) {
		return
	}
	if u.Name == "" {
		abortError(c, torcerr.InvalidInput("user_data name is required"))
		return
	}
	u.ID = 0
	u.WorkflowID = workflowID
	if err := s.deps.Store.CreateUserData(&u); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, &u)
}

func (s *Server) listUserData(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok || !s.requireWorkflow(c, workflowID) {
		return
	}
	data, err := s.deps.Store.ListUserData(workflowID)
	if err != nil {
		abortError(c, err)
		return
	}
	if data == nil {
		data = []*types.UserData{}
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) getUserData(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entityID, ok := pathID(c, "entityID")
	if !ok {
		return
	}
	u, err := s.deps.Store.GetUserData(workflowID, entityID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) deleteUserData(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entityID, ok := pathID(c, "entityID")
	if !ok {
		return
	}
	err := s.deps.Store.Update(func(tx *storage.Tx) error {
		if err := jobReference(tx, workflowID, entityID, "user_data", func(j *types.Job) []int64 {
			return append(append([]int64{}, j.InputUserDataIDs...), j.OutputUserDataIDs...)
		}); err != nil {
			return err
		}
		return tx.DeleteUserData(workflowID, entityID)
	})
	if err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Resource requirements ---

func (s *Server) createResourceRequirements(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var rr types.ResourceRequirements
	if !bindJSON(c, &rr) {
		return
	}
	if rr.Name == "" {
		abortError(c, torcerr.InvalidInput("resource_requirements name is required"))
		return
	}
	if rr.Memory != "" {
		if _, err := types.ParseMemory(rr.Memory); err != nil {
			abortError(c, torcerr.InvalidInput("invalid memory %q: %v", rr.Memory, err))
			return
		}
	}
	if rr.Runtime != "" {
		if _, err := types.ParseISO8601Duration(rr.Runtime); err != nil {
			abortError(c, torcerr.InvalidInput("invalid runtime %q: %v", rr.Runtime, err))
			return
		}
	}
	rr.ID = 0
	rr.WorkflowID = workflowID
	if err := s.deps.Store.CreateResourceRequirements(&rr); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, &rr)
}

func (s *Server) listResourceRequirements(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok || !s.requireWorkflow(c, workflowID) {
		return
	}
	reqs, err := s.deps.Store.ListResourceRequirements(workflowID)
	if err != nil {
		abortError(c, err)
		return
	}
	if reqs == nil {
		reqs = []*types.ResourceRequirements{}
	}
	c.JSON(http.StatusOK, reqs)
}

func (s *Server) getResourceRequirements(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entityID, ok := pathID(c, "entityID")
	if !ok {
		return
	}
	rr, err := s.deps.Store.GetResourceRequirements(workflowID, entityID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, rr)
}

func (s *Server) deleteResourceRequirements(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entityID, ok := pathID(c, "entityID")
	if !ok {
		return
	}
	err := s.deps.Store.Update(func(tx *storage.Tx) error {
		if err := jobReference(tx, workflowID, entityID, "resource_requirements", func(j *types.Job) []int64 {
			if j.ResourceRequirementsID == 0 {
				return nil
			}
			return []int64{j.ResourceRequirementsID}
		}); err != nil {
			return err
		}
		return tx.DeleteResourceRequirements(workflowID, entityID)
	})
	if err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Schedulers ---

func schedulerRefs(j *types.Job) []int64 {
	if j.SchedulerID == 0 {
		return nil
	}
	return []int64{j.SchedulerID}
}

func (s *Server) createSlurmScheduler(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var sched types.SlurmScheduler
	if !bindJSON(c, &sched) {
		return
	}
	if sched.Name == "" {
		abortError(c, torcerr.InvalidInput("scheduler name is required"))
		return
	}
	sched.ID = 0
	sched.WorkflowID = workflowID
	if err := s.deps.Store.CreateSlurmScheduler(&sched); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, &sched)
}

func (s *Server) listSlurmSchedulers(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok || !s.requireWorkflow(c, workflowID) {
		return
	}
	scheds, err := s.deps.Store.ListSlurmSchedulers(workflowID)
	if err != nil {
		abortError(c, err)
		return
	}
	if scheds == nil {
		scheds = []*types.SlurmScheduler{}
	}
	c.JSON(http.StatusOK, scheds)
}

func (s *Server) getSlurmScheduler(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entityID, ok := pathID(c, "entityID")
	if !ok {
		return
	}
	sched, err := s.deps.Store.GetSlurmScheduler(workflowID, entityID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) deleteSlurmScheduler(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entityID, ok := pathID(c, "entityID")
	if !ok {
		return
	}
	err := s.deps.Store.Update(func(tx *storage.Tx) error {
		if err := jobReference(tx, workflowID, entityID, "scheduler", schedulerRefs); err != nil {
			return err
		}
		return tx.DeleteSlurmScheduler(workflowID, entityID)
	})
	if err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) createLocalScheduler(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var sched types.LocalScheduler
	if !bindJSON(c, &sched) {
		return
	}
	if sched.Name == "" {
		abortError(c, torcerr.InvalidInput("scheduler name is required"))
		return
	}
	sched.ID = 0
	sched.WorkflowID = workflowID
	if err := s.deps.Store.CreateLocalScheduler(&sched); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, &sched)
}

func (s *Server) listLocalSchedulers(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok || !s.requireWorkflow(c, workflowID) {
		return
	}
	scheds, err := s.deps.Store.ListLocalSchedulers(workflowID)
	if err != nil {
		abortError(c, err)
		return
	}
	if scheds == nil {
		scheds = []*types.LocalScheduler{}
	}
	c.JSON(http.StatusOK, scheds)
}

func (s *Server) getLocalScheduler(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entityID, ok := pathID(c, "entityID")
	if !ok {
		return
	}
	sched, err := s.deps.Store.GetLocalScheduler(workflowID, entityID)
	if err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) deleteLocalScheduler(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entityID, ok := pathID(c, "entityID")
	if !ok {
		return
	}
	err := s.deps.Store.Update(func(tx *storage.Tx) error {
		if err := jobReference(tx, workflowID, entityID, "scheduler", schedulerRefs); err != nil {
			return err
		}
		return tx.DeleteLocalScheduler(workflowID, entityID)
	})
	if err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Workflow actions ---

func (s *Server) createWorkflowAction(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var a types.WorkflowAction
	if !bindJSON(c, &a) {
		return
	}
	if a.Name == "" {
		abortError(c, torcerr.InvalidInput("workflow action name is required"))
		return
	}
	switch a.Trigger {
	case types.TriggerOnWorkflowStart, types.TriggerOnWorkflowComplete:
	default:
		abortError(c, torcerr.InvalidInput("unknown trigger %q", a.Trigger))
		return
	}
	a.ID = 0
	a.WorkflowID = workflowID
	if err := s.deps.Store.CreateWorkflowAction(&a); err != nil {
		abortError(c, err)
		return
	}
	c.JSON(http.StatusCreated, &a)
}

func (s *Server) listWorkflowActions(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok || !s.requireWorkflow(c, workflowID) {
		return
	}
	actions, err := s.deps.Store.ListWorkflowActions(workflowID)
	if err != nil {
		abortError(c, err)
		return
	}
	if actions == nil {
		actions = []*types.WorkflowAction{}
	}
	c.JSON(http.StatusOK, actions)
}

func (s *Server) deleteWorkflowAction(c *gin.Context) {
	workflowID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entityID, ok := pathID(c, "entityID")
	if !ok {
		return
	}
	err := s.deps.Store.Update(func(tx *storage.Tx) error {
		return tx.DeleteWorkflowAction(workflowID, entityID)
	})
	if err != nil {
		abortError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
