// Package export implements the self-describing workflow export format
// and its inverse, import with ID remapping.
//
// A Document is a complete, standalone description of one workflow: the
// workflow record plus every dependent entity, tagged with the format
// version that produced it. Exports are taken inside a single read
// transaction so the document is a consistent snapshot even while
// compute nodes are claiming and completing jobs.
//
// Import creates a brand-new workflow from a Document. Server-assigned
// IDs are never trusted across stores, so every entity gets a fresh ID
// and every cross-reference field (depends_on_job_ids, input/output
// artifact IDs, resource_requirements_id, scheduler_id) is rewritten
// bottom-up: artifacts, requirements, and schedulers first, then jobs,
// then job-to-job edges once all job IDs are known. The whole import
// runs in one write transaction; a document that fails validation
// halfway leaves nothing behind.
package export

import (
	"time"

	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

// Version is the only export format version this build reads or writes.
const Version = "1.0"

// Document is the export format: one workflow and everything it owns.
// Results and Events are historical records; they are included on
// request and never imported.
type Document struct {
	ExportVersion        string                        `json:"export_version"`
	ExportedAt           time.Time                     `json:"exported_at"`
	Workflow             *types.Workflow               `json:"workflow"`
	Files                []*types.File                 `json:"files,omitempty"`
	UserData             []*types.UserData             `json:"user_data,omitempty"`
	ResourceRequirements []*types.ResourceRequirements `json:"resource_requirements,omitempty"`
	SlurmSchedulers      []*types.SlurmScheduler       `json:"slurm_schedulers,omitempty"`
	LocalSchedulers      []*types.LocalScheduler       `json:"local_schedulers,omitempty"`
	Jobs                 []*types.Job                  `json:"jobs,omitempty"`
	WorkflowActions      []*types.WorkflowAction       `json:"workflow_actions,omitempty"`
	Results              []*types.Result               `json:"results,omitempty"`
	Events               []*types.Event                `json:"events,omitempty"`
}

// Options selects the optional history sections.
type Options struct {
	IncludeResults bool
	IncludeEvents  bool
}

// Export snapshots a workflow into a Document.
func Export(store storage.Store, workflowID int64, opts Options) (*Document, error) {
	doc := &Document{
		ExportVersion: Version,
		ExportedAt:    time.Now().UTC(),
	}
	err := store.View(func(tx *storage.Tx) error {
		w, err := tx.Workflow(workflowID)
		if err != nil {
			return err
		}
		doc.Workflow = w

		if doc.Files, err = tx.ListFiles(workflowID); err != nil {
			return err
		}
		if doc.UserData, err = tx.ListUserData(workflowID); err != nil {
			return err
		}
		if doc.ResourceRequirements, err = tx.ListResourceRequirements(workflowID); err != nil {
			return err
		}
		if doc.SlurmSchedulers, err = tx.ListSlurmSchedulers(workflowID); err != nil {
			return err
		}
		if doc.LocalSchedulers, err = tx.ListLocalSchedulers(workflowID); err != nil {
			return err
		}
		if doc.Jobs, err = tx.ListJobs(workflowID); err != nil {
			return err
		}
		if doc.WorkflowActions, err = tx.ListWorkflowActions(workflowID); err != nil {
			return err
		}
		if opts.IncludeResults {
			if doc.Results, err = tx.ListResults(workflowID); err != nil {
				return err
			}
		}
		if opts.IncludeEvents {
			if doc.Events, err = tx.ListEvents(workflowID, "", 0, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Import creates a new workflow from a Document, remapping every ID.
// The caller's identity becomes the owner; the document's recorded user
// is kept only when user is empty. The new workflow starts in Created
// with run 0 and every job Uninitialized, regardless of the state the
// source workflow was exported in.
func Import(store storage.Store, doc *Document, user string) (*types.Workflow, error) {
	if doc == nil || doc.Workflow == nil {
		return nil, torcerr.InvalidInput("export document has no workflow record")
	}
	if doc.ExportVersion != Version {
		return nil, torcerr.InvalidInput("unsupported export version %q (this build reads %s)", doc.ExportVersion, Version)
	}
	if user == "" {
		user = doc.Workflow.User
	}

	now := time.Now().UTC()
	w := &types.Workflow{
		Name:        doc.Workflow.Name,
		User:        user,
		Description: doc.Workflow.Description,
		Status:      types.WorkflowStatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := store.Update(func(tx *storage.Tx) error {
		if err := tx.PutWorkflow(w); err != nil {
			return err
		}

		fileIDs := make(map[int64]int64, len(doc.Files))
		for _, src := range doc.Files {
			f := *src
			f.ID = 0
			f.WorkflowID = w.ID
			f.CreatedAt = now
			if err := tx.PutFile(&f); err != nil {
				return err
			}
			fileIDs[src.ID] = f.ID
		}

		userDataIDs := make(map[int64]int64, len(doc.UserData))
		for _, src := range doc.UserData {
			u := *src
			u.ID = 0
			u.WorkflowID = w.ID
			u.CreatedAt = now
			if err := tx.PutUserData(&u); err != nil {
				return err
			}
			userDataIDs[src.ID] = u.ID
		}

		reqIDs := make(map[int64]int64, len(doc.ResourceRequirements))
		for _, src := range doc.ResourceRequirements {
			rr := *src
			rr.ID = 0
			rr.WorkflowID = w.ID
			if err := tx.PutResourceRequirements(&rr); err != nil {
				return err
			}
			reqIDs[src.ID] = rr.ID
		}

		// Slurm and local schedulers share one ID space, so one map
		// serves both.
		schedIDs := make(map[int64]int64, len(doc.SlurmSchedulers)+len(doc.LocalSchedulers))
		for _, src := range doc.SlurmSchedulers {
			s := *src
			s.ID = 0
			s.WorkflowID = w.ID
			if err := tx.PutSlurmScheduler(&s); err != nil {
				return err
			}
			schedIDs[src.ID] = s.ID
		}
		for _, src := range doc.LocalSchedulers {
			s := *src
			s.ID = 0
			s.WorkflowID = w.ID
			if err := tx.PutLocalScheduler(&s); err != nil {
				return err
			}
			schedIDs[src.ID] = s.ID
		}

		// Jobs in two passes: create them all to learn their new IDs,
		// then rewrite the job-to-job edges.
		jobIDs := make(map[int64]int64, len(doc.Jobs))
		imported := make([]*types.Job, 0, len(doc.Jobs))
		for _, src := range doc.Jobs {
			j := *src
			j.ID = 0
			j.WorkflowID = w.ID
			j.Status = types.JobStatusUninitialized
			if src.Status == types.JobStatusDisabled {
				j.Status = types.JobStatusDisabled
			}
			j.AttemptID = 0
			j.ComputeNodeID = 0
			j.CreatedAt = now
			j.UpdatedAt = now

			var err error
			if j.InputFileIDs, err = remapAll(src.InputFileIDs, fileIDs, "file"); err != nil {
				return err
			}
			if j.OutputFileIDs, err = remapAll(src.OutputFileIDs, fileIDs, "file"); err != nil {
				return err
			}
			if j.InputUserDataIDs, err = remapAll(src.InputUserDataIDs, userDataIDs, "user_data"); err != nil {
				return err
			}
			if j.OutputUserDataIDs, err = remapAll(src.OutputUserDataIDs, userDataIDs, "user_data"); err != nil {
				return err
			}
			if j.ResourceRequirementsID, err = remap(src.ResourceRequirementsID, reqIDs, "resource_requirements"); err != nil {
				return err
			}
			if j.SchedulerID, err = remap(src.SchedulerID, schedIDs, "scheduler"); err != nil {
				return err
			}
			j.DependsOnJobIDs = nil

			if err := tx.PutJob(&j); err != nil {
				return err
			}
			jobIDs[src.ID] = j.ID
			imported = append(imported, &j)
		}
		for i, src := range doc.Jobs {
			if len(src.DependsOnJobIDs) == 0 {
				continue
			}
			deps, err := remapAll(src.DependsOnJobIDs, jobIDs, "job")
			if err != nil {
				return err
			}
			imported[i].DependsOnJobIDs = deps
			if err := tx.PutJob(imported[i]); err != nil {
				return err
			}
		}

		for _, src := range doc.WorkflowActions {
			a := *src
			a.ID = 0
			a.WorkflowID = w.ID
			a.CreatedAt = now
			if err := tx.PutWorkflowAction(&a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// remap translates one optional cross-reference. Zero means unset.
func remap(id int64, ids map[int64]int64, kind string) (int64, error) {
	if id == 0 {
		return 0, nil
	}
	mapped, ok := ids[id]
	if !ok {
		return 0, torcerr.InvalidDag("export document references %s %d which it does not contain", kind, id)
	}
	return mapped, nil
}

func remapAll(ids []int64, mapping map[int64]int64, kind string) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]int64, len(ids))
	for i, id := range ids {
		mapped, ok := mapping[id]
		if !ok {
			return nil, torcerr.InvalidDag("export document references %s %d which it does not contain", kind, id)
		}
		out[i] = mapped
	}
	return out, nil
}
