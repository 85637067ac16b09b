package storage

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

// Tx wraps a BoltDB transaction with typed accessors. Engine operations
// run entirely inside one Tx so multi-entity transitions commit or roll
// back as a unit.
type Tx struct {
	btx *bolt.Tx
}

// jobStatusBytes orders statuses in the index. Values are persisted;
// append new statuses, never renumber.
var jobStatusBytes = map[types.JobStatus]byte{
	types.JobStatusUninitialized: 1,
	types.JobStatusBlocked:       2,
	types.JobStatusReady:         3,
	types.JobStatusSubmitted:     4,
	types.JobStatusRunning:       5,
	types.JobStatusCompleted:     6,
	types.JobStatusPendingFailed: 7,
	types.JobStatusCanceled:      8,
	types.JobStatusTerminated:    9,
	types.JobStatusDisabled:      10,
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// statusKey builds a job_status_index key: one status byte followed by
// the big-endian job id, so a prefix scan yields ids in ascending order.
func statusKey(status types.JobStatus, jobID int64) []byte {
	key := make([]byte, 9)
	key[0] = jobStatusBytes[status]
	binary.BigEndian.PutUint64(key[1:], uint64(jobID))
	return key
}

// resultJobKey builds a results_by_job key: job id, run id, attempt id,
// all big-endian, so results for one job sort by (run, attempt).
func resultJobKey(jobID, runID, attemptID int64) []byte {
	key := make([]byte, 24)
	binary.BigEndian.PutUint64(key[0:8], uint64(jobID))
	binary.BigEndian.PutUint64(key[8:16], uint64(runID))
	binary.BigEndian.PutUint64(key[16:24], uint64(attemptID))
	return key
}

func (t *Tx) nextID(kind string) (int64, error) {
	b := t.btx.Bucket(bucketSequences)
	var next int64 = 1
	if cur := b.Get([]byte(kind)); cur != nil {
		next = btoi(cur) + 1
	}
	if err := b.Put([]byte(kind), itob(next)); err != nil {
		return 0, err
	}
	return next, nil
}

// sub returns the per-workflow sub-bucket, or nil if it was never
// created.
func (t *Tx) sub(top []byte, workflowID int64) *bolt.Bucket {
	return t.btx.Bucket(top).Bucket(itob(workflowID))
}

func (t *Tx) ensureSub(top []byte, workflowID int64) (*bolt.Bucket, error) {
	return t.btx.Bucket(top).CreateBucketIfNotExists(itob(workflowID))
}

// Name uniqueness kinds. The kind doubles as the index key prefix and
// as the noun in the conflict message.
const (
	nameKindJob            = "job name"
	nameKindFile           = "file name"
	nameKindFilePath       = "file path"
	nameKindUserData       = "user data name"
	nameKindResourceReqs   = "resource requirements name"
	nameKindSlurmScheduler = "slurm scheduler name"
	nameKindLocalScheduler = "local scheduler name"
)

func nameKey(kind, name string) []byte {
	key := make([]byte, 0, len(kind)+1+len(name))
	key = append(key, kind...)
	key = append(key, 0)
	return append(key, name...)
}

// claimName records that an entity owns a name within its workflow.
// Claiming a name held by a different entity of the same kind is a
// conflict; re-claiming your own name is a no-op. Empty names are not
// tracked.
func (t *Tx) claimName(workflowID int64, kind, name string, id int64) error {
	if name == "" {
		return nil
	}
	b, err := t.ensureSub(bucketNames, workflowID)
	if err != nil {
		return err
	}
	key := nameKey(kind, name)
	if cur := b.Get(key); cur != nil && btoi(cur) != id {
		return torcerr.Conflict("duplicate %s: %q", kind, name)
	}
	return b.Put(key, itob(id))
}

// releaseName frees a name claim, but only if the entity still owns it.
func (t *Tx) releaseName(workflowID int64, kind, name string, id int64) error {
	if name == "" {
		return nil
	}
	b := t.sub(bucketNames, workflowID)
	if b == nil {
		return nil
	}
	key := nameKey(kind, name)
	if cur := b.Get(key); cur != nil && btoi(cur) == id {
		return b.Delete(key)
	}
	return nil
}

// --- Workflow Accessors ---

func (t *Tx) Workflow(id int64) (*types.Workflow, error) {
	data := t.btx.Bucket(bucketWorkflows).Get(itob(id))
	if data == nil {
		return nil, torcerr.NotFound("workflow not found: %d", id)
	}
	var w types.Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (t *Tx) PutWorkflow(w *types.Workflow) error {
	if w.ID == 0 {
		id, err := t.nextID(seqWorkflows)
		if err != nil {
			return err
		}
		w.ID = id
	}
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return t.btx.Bucket(bucketWorkflows).Put(itob(w.ID), data)
}

func (t *Tx) ListWorkflows() ([]*types.Workflow, error) {
	var workflows []*types.Workflow
	err := t.btx.Bucket(bucketWorkflows).ForEach(func(k, v []byte) error {
		var w types.Workflow
		if err := json.Unmarshal(v, &w); err != nil {
			return err
		}
		workflows = append(workflows, &w)
		return nil
	})
	return workflows, err
}

// --- Job Accessors ---

func (t *Tx) Job(workflowID, jobID int64) (*types.Job, error) {
	b := t.sub(bucketJobs, workflowID)
	if b == nil {
		return nil, torcerr.NotFound("job not found: %d", jobID)
	}
	data := b.Get(itob(jobID))
	if data == nil {
		return nil, torcerr.NotFound("job not found: %d", jobID)
	}
	var j types.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// FindJob resolves a job by id alone via the global index.
func (t *Tx) FindJob(jobID int64) (*types.Job, error) {
	wf := t.btx.Bucket(bucketJobIndex).Get(itob(jobID))
	if wf == nil {
		return nil, torcerr.NotFound("job not found: %d", jobID)
	}
	return t.Job(btoi(wf), jobID)
}

// PutJob writes the job and keeps the status index and global index in
// step with the record.
func (t *Tx) PutJob(j *types.Job) error {
	if j.ID == 0 {
		id, err := t.nextID(seqJobs)
		if err != nil {
			return err
		}
		j.ID = id
	}
	jobs, err := t.ensureSub(bucketJobs, j.WorkflowID)
	if err != nil {
		return err
	}
	idx, err := t.ensureSub(bucketJobStatusIndex, j.WorkflowID)
	if err != nil {
		return err
	}

	if old := jobs.Get(itob(j.ID)); old != nil {
		var prev types.Job
		if err := json.Unmarshal(old, &prev); err != nil {
			return err
		}
		if prev.Status != j.Status {
			if err := idx.Delete(statusKey(prev.Status, j.ID)); err != nil {
				return err
			}
		}
		if prev.Name != j.Name {
			if err := t.releaseName(j.WorkflowID, nameKindJob, prev.Name, j.ID); err != nil {
				return err
			}
		}
	}
	if err := t.claimName(j.WorkflowID, nameKindJob, j.Name, j.ID); err != nil {
		return err
	}

	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	if err := jobs.Put(itob(j.ID), data); err != nil {
		return err
	}
	if err := idx.Put(statusKey(j.Status, j.ID), nil); err != nil {
		return err
	}
	return t.btx.Bucket(bucketJobIndex).Put(itob(j.ID), itob(j.WorkflowID))
}

// CountJobsByStatus counts index entries without decoding job records.
func (t *Tx) CountJobsByStatus(workflowID int64, status types.JobStatus) (int, error) {
	idx := t.sub(bucketJobStatusIndex, workflowID)
	if idx == nil {
		return 0, nil
	}
	prefix := jobStatusBytes[status]
	count := 0
	c := idx.Cursor()
	for k, _ := c.Seek([]byte{prefix}); k != nil && k[0] == prefix; k, _ = c.Next() {
		count++
	}
	return count, nil
}

// DeleteJob removes the job record and its index entries. Callers are
// responsible for checking that nothing still depends on the job.
func (t *Tx) DeleteJob(workflowID, jobID int64) error {
	j, err := t.Job(workflowID, jobID)
	if err != nil {
		return err
	}
	if idx := t.sub(bucketJobStatusIndex, workflowID); idx != nil {
		if err := idx.Delete(statusKey(j.Status, jobID)); err != nil {
			return err
		}
	}
	if err := t.releaseName(workflowID, nameKindJob, j.Name, jobID); err != nil {
		return err
	}
	if err := t.btx.Bucket(bucketJobIndex).Delete(itob(jobID)); err != nil {
		return err
	}
	return t.sub(bucketJobs, workflowID).Delete(itob(jobID))
}

func (t *Tx) ListJobs(workflowID int64) ([]*types.Job, error) {
	b := t.sub(bucketJobs, workflowID)
	if b == nil {
		return nil, nil
	}
	var jobs []*types.Job
	err := b.ForEach(func(k, v []byte) error {
		var j types.Job
		if err := json.Unmarshal(v, &j); err != nil {
			return err
		}
		jobs = append(jobs, &j)
		return nil
	})
	return jobs, err
}

// ListJobsByStatus returns jobs in ascending id order via the status
// index.
func (t *Tx) ListJobsByStatus(workflowID int64, status types.JobStatus) ([]*types.Job, error) {
	idx := t.sub(bucketJobStatusIndex, workflowID)
	if idx == nil {
		return nil, nil
	}
	jobs := t.sub(bucketJobs, workflowID)
	prefix := jobStatusBytes[status]
	var out []*types.Job
	c := idx.Cursor()
	for k, _ := c.Seek([]byte{prefix}); k != nil && k[0] == prefix; k, _ = c.Next() {
		data := jobs.Get(k[1:])
		if data == nil {
			continue
		}
		var j types.Job
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	return out, nil
}

// --- Resource Requirements Accessors ---

func (t *Tx) ResourceRequirements(workflowID, id int64) (*types.ResourceRequirements, error) {
	b := t.sub(bucketResourceReqs, workflowID)
	if b == nil {
		return nil, torcerr.NotFound("resource requirements not found: %d", id)
	}
	data := b.Get(itob(id))
	if data == nil {
		return nil, torcerr.NotFound("resource requirements not found: %d", id)
	}
	var rr types.ResourceRequirements
	if err := json.Unmarshal(data, &rr); err != nil {
		return nil, err
	}
	return &rr, nil
}

func (t *Tx) PutResourceRequirements(rr *types.ResourceRequirements) error {
	if rr.ID == 0 {
		id, err := t.nextID(seqResourceReqs)
		if err != nil {
			return err
		}
		rr.ID = id
	}
	b, err := t.ensureSub(bucketResourceReqs, rr.WorkflowID)
	if err != nil {
		return err
	}
	if old := b.Get(itob(rr.ID)); old != nil {
		var prev types.ResourceRequirements
		if err := json.Unmarshal(old, &prev); err != nil {
			return err
		}
		if prev.Name != rr.Name {
			if err := t.releaseName(rr.WorkflowID, nameKindResourceReqs, prev.Name, rr.ID); err != nil {
				return err
			}
		}
	}
	if err := t.claimName(rr.WorkflowID, nameKindResourceReqs, rr.Name, rr.ID); err != nil {
		return err
	}
	data, err := json.Marshal(rr)
	if err != nil {
		return err
	}
	return b.Put(itob(rr.ID), data)
}

func (t *Tx) DeleteResourceRequirements(workflowID, id int64) error {
	rr, err := t.ResourceRequirements(workflowID, id)
	if err != nil {
		return err
	}
	if err := t.releaseName(workflowID, nameKindResourceReqs, rr.Name, id); err != nil {
		return err
	}
	return t.sub(bucketResourceReqs, workflowID).Delete(itob(id))
}

func (t *Tx) ListResourceRequirements(workflowID int64) ([]*types.ResourceRequirements, error) {
	b := t.sub(bucketResourceReqs, workflowID)
	if b == nil {
		return nil, nil
	}
	var reqs []*types.ResourceRequirements
	err := b.ForEach(func(k, v []byte) error {
		var rr types.ResourceRequirements
		if err := json.Unmarshal(v, &rr); err != nil {
			return err
		}
		reqs = append(reqs, &rr)
		return nil
	})
	return reqs, err
}

// --- File Accessors ---

func (t *Tx) File(workflowID, id int64) (*types.File, error) {
	b := t.sub(bucketFiles, workflowID)
	if b == nil {
		return nil, torcerr.NotFound("file not found: %d", id)
	}
	data := b.Get(itob(id))
	if data == nil {
		return nil, torcerr.NotFound("file not found: %d", id)
	}
	var f types.File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (t *Tx) PutFile(f *types.File) error {
	if f.ID == 0 {
		id, err := t.nextID(seqFiles)
		if err != nil {
			return err
		}
		f.ID = id
	}
	b, err := t.ensureSub(bucketFiles, f.WorkflowID)
	if err != nil {
		return err
	}
	if old := b.Get(itob(f.ID)); old != nil {
		var prev types.File
		if err := json.Unmarshal(old, &prev); err != nil {
			return err
		}
		if prev.Name != f.Name {
			if err := t.releaseName(f.WorkflowID, nameKindFile, prev.Name, f.ID); err != nil {
				return err
			}
		}
		if prev.Path != f.Path {
			if err := t.releaseName(f.WorkflowID, nameKindFilePath, prev.Path, f.ID); err != nil {
				return err
			}
		}
	}
	if err := t.claimName(f.WorkflowID, nameKindFile, f.Name, f.ID); err != nil {
		return err
	}
	if err := t.claimName(f.WorkflowID, nameKindFilePath, f.Path, f.ID); err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return b.Put(itob(f.ID), data)
}

func (t *Tx) DeleteFile(workflowID, id int64) error {
	f, err := t.File(workflowID, id)
	if err != nil {
		return err
	}
	if err := t.releaseName(workflowID, nameKindFile, f.Name, id); err != nil {
		return err
	}
	if err := t.releaseName(workflowID, nameKindFilePath, f.Path, id); err != nil {
		return err
	}
	return t.sub(bucketFiles, workflowID).Delete(itob(id))
}

func (t *Tx) ListFiles(workflowID int64) ([]*types.File, error) {
	b := t.sub(bucketFiles, workflowID)
	if b == nil {
		return nil, nil
	}
	var files []*types.File
	err := b.ForEach(func(k, v []byte) error {
		var f types.File
		if err := json.Unmarshal(v, &f); err != nil {
			return err
		}
		files = append(files, &f)
		return nil
	})
	return files, err
}

// --- User Data Accessors ---

func (t *Tx) UserData(workflowID, id int64) (*types.UserData, error) {
	b := t.sub(bucketUserData, workflowID)
	if b == nil {
		return nil, torcerr.NotFound("user data not found: %d", id)
	}
	data := b.Get(itob(id))
	if data == nil {
		return nil, torcerr.NotFound("user data not found: %d", id)
	}
	var u types.UserData
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *Tx) PutUserData(u *types.UserData) error {
	if u.ID == 0 {
		id, err := t.nextID(seqUserData)
		if err != nil {
			return err
		}
		u.ID = id
	}
	b, err := t.ensureSub(bucketUserData, u.WorkflowID)
	if err != nil {
		return err
	}
	if old := b.Get(itob(u.ID)); old != nil {
		var prev types.UserData
		if err := json.Unmarshal(old, &prev); err != nil {
			return err
		}
		if prev.Name != u.Name {
			if err := t.releaseName(u.WorkflowID, nameKindUserData, prev.Name, u.ID); err != nil {
				return err
			}
		}
	}
	if err := t.claimName(u.WorkflowID, nameKindUserData, u.Name, u.ID); err != nil {
		return err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return b.Put(itob(u.ID), data)
}

func (t *Tx) DeleteUserData(workflowID, id int64) error {
	u, err := t.UserData(workflowID, id)
	if err != nil {
		return err
	}
	if err := t.releaseName(workflowID, nameKindUserData, u.Name, id); err != nil {
		return err
	}
	return t.sub(bucketUserData, workflowID).Delete(itob(id))
}

func (t *Tx) ListUserData(workflowID int64) ([]*types.UserData, error) {
	b := t.sub(bucketUserData, workflowID)
	if b == nil {
		return nil, nil
	}
	var items []*types.UserData
	err := b.ForEach(func(k, v []byte) error {
		var u types.UserData
		if err := json.Unmarshal(v, &u); err != nil {
			return err
		}
		items = append(items, &u)
		return nil
	})
	return items, err
}

// --- Scheduler Accessors ---

func (t *Tx) SlurmScheduler(workflowID, id int64) (*types.SlurmScheduler, error) {
	b := t.sub(bucketSlurmSchedulers, workflowID)
	if b == nil {
		return nil, torcerr.NotFound("slurm scheduler not found: %d", id)
	}
	data := b.Get(itob(id))
	if data == nil {
		return nil, torcerr.NotFound("slurm scheduler not found: %d", id)
	}
	var sched types.SlurmScheduler
	if err := json.Unmarshal(data, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (t *Tx) PutSlurmScheduler(sched *types.SlurmScheduler) error {
	if sched.ID == 0 {
		id, err := t.nextID(seqSchedulers)
		if err != nil {
			return err
		}
		sched.ID = id
	}
	b, err := t.ensureSub(bucketSlurmSchedulers, sched.WorkflowID)
	if err != nil {
		return err
	}
	if old := b.Get(itob(sched.ID)); old != nil {
		var prev types.SlurmScheduler
		if err := json.Unmarshal(old, &prev); err != nil {
			return err
		}
		if prev.Name != sched.Name {
			if err := t.releaseName(sched.WorkflowID, nameKindSlurmScheduler, prev.Name, sched.ID); err != nil {
				return err
			}
		}
	}
	if err := t.claimName(sched.WorkflowID, nameKindSlurmScheduler, sched.Name, sched.ID); err != nil {
		return err
	}
	data, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	return b.Put(itob(sched.ID), data)
}

func (t *Tx) DeleteSlurmScheduler(workflowID, id int64) error {
	sched, err := t.SlurmScheduler(workflowID, id)
	if err != nil {
		return err
	}
	if err := t.releaseName(workflowID, nameKindSlurmScheduler, sched.Name, id); err != nil {
		return err
	}
	return t.sub(bucketSlurmSchedulers, workflowID).Delete(itob(id))
}

func (t *Tx) ListSlurmSchedulers(workflowID int64) ([]*types.SlurmScheduler, error) {
	b := t.sub(bucketSlurmSchedulers, workflowID)
	if b == nil {
		return nil, nil
	}
	var scheds []*types.SlurmScheduler
	err := b.ForEach(func(k, v []byte) error {
		var sched types.SlurmScheduler
		if err := json.Unmarshal(v, &sched); err != nil {
			return err
		}
		scheds = append(scheds, &sched)
		return nil
	})
	return scheds, err
}

func (t *Tx) LocalScheduler(workflowID, id int64) (*types.LocalScheduler, error) {
	b := t.sub(bucketLocalSchedulers, workflowID)
	if b == nil {
		return nil, torcerr.NotFound("local scheduler not found: %d", id)
	}
	data := b.Get(itob(id))
	if data == nil {
		return nil, torcerr.NotFound("local scheduler not found: %d", id)
	}
	var sched types.LocalScheduler
	if err := json.Unmarshal(data, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (t *Tx) PutLocalScheduler(sched *types.LocalScheduler) error {
	if sched.ID == 0 {
		id, err := t.nextID(seqSchedulers)
		if err != nil {
			return err
		}
		sched.ID = id
	}
	b, err := t.ensureSub(bucketLocalSchedulers, sched.WorkflowID)
	if err != nil {
		return err
	}
	if old := b.Get(itob(sched.ID)); old != nil {
		var prev types.LocalScheduler
		if err := json.Unmarshal(old, &prev); err != nil {
			return err
		}
		if prev.Name != sched.Name {
			if err := t.releaseName(sched.WorkflowID, nameKindLocalScheduler, prev.Name, sched.ID); err != nil {
				return err
			}
		}
	}
	if err := t.claimName(sched.WorkflowID, nameKindLocalScheduler, sched.Name, sched.ID); err != nil {
		return err
	}
	data, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	return b.Put(itob(sched.ID), data)
}

func (t *Tx) DeleteLocalScheduler(workflowID, id int64) error {
	sched, err := t.LocalScheduler(workflowID, id)
	if err != nil {
		return err
	}
	if err := t.releaseName(workflowID, nameKindLocalScheduler, sched.Name, id); err != nil {
		return err
	}
	return t.sub(bucketLocalSchedulers, workflowID).Delete(itob(id))
}

func (t *Tx) ListLocalSchedulers(workflowID int64) ([]*types.LocalScheduler, error) {
	b := t.sub(bucketLocalSchedulers, workflowID)
	if b == nil {
		return nil, nil
	}
	var scheds []*types.LocalScheduler
	err := b.ForEach(func(k, v []byte) error {
		var sched types.LocalScheduler
		if err := json.Unmarshal(v, &sched); err != nil {
			return err
		}
		scheds = append(scheds, &sched)
		return nil
	})
	return scheds, err
}

// --- Scheduled Compute Node Accessors ---

func (t *Tx) ScheduledComputeNode(workflowID, id int64) (*types.ScheduledComputeNode, error) {
	b := t.sub(bucketScheduledNodes, workflowID)
	if b == nil {
		return nil, torcerr.NotFound("scheduled compute node not found: %d", id)
	}
	data := b.Get(itob(id))
	if data == nil {
		return nil, torcerr.NotFound("scheduled compute node not found: %d", id)
	}
	var n types.ScheduledComputeNode
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (t *Tx) FindScheduledComputeNode(id int64) (*types.ScheduledComputeNode, error) {
	wf := t.btx.Bucket(bucketScheduledNodeIndex).Get(itob(id))
	if wf == nil {
		return nil, torcerr.NotFound("scheduled compute node not found: %d", id)
	}
	return t.ScheduledComputeNode(btoi(wf), id)
}

func (t *Tx) PutScheduledComputeNode(n *types.ScheduledComputeNode) error {
	if n.ID == 0 {
		id, err := t.nextID(seqScheduledNodes)
		if err != nil {
			return err
		}
		n.ID = id
	}
	b, err := t.ensureSub(bucketScheduledNodes, n.WorkflowID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := b.Put(itob(n.ID), data); err != nil {
		return err
	}
	return t.btx.Bucket(bucketScheduledNodeIndex).Put(itob(n.ID), itob(n.WorkflowID))
}

func (t *Tx) ListScheduledComputeNodes(workflowID int64) ([]*types.ScheduledComputeNode, error) {
	b := t.sub(bucketScheduledNodes, workflowID)
	if b == nil {
		return nil, nil
	}
	var nodes []*types.ScheduledComputeNode
	err := b.ForEach(func(k, v []byte) error {
		var n types.ScheduledComputeNode
		if err := json.Unmarshal(v, &n); err != nil {
			return err
		}
		nodes = append(nodes, &n)
		return nil
	})
	return nodes, err
}

// --- Compute Node Accessors ---

func (t *Tx) ComputeNode(workflowID, id int64) (*types.ComputeNode, error) {
	b := t.sub(bucketComputeNodes, workflowID)
	if b == nil {
		return nil, torcerr.NotFound("compute node not found: %d", id)
	}
	data := b.Get(itob(id))
	if data == nil {
		return nil, torcerr.NotFound("compute node not found: %d", id)
	}
	var n types.ComputeNode
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (t *Tx) FindComputeNode(id int64) (*types.ComputeNode, error) {
	wf := t.btx.Bucket(bucketComputeNodeIndex).Get(itob(id))
	if wf == nil {
		return nil, torcerr.NotFound("compute node not found: %d", id)
	}
	return t.ComputeNode(btoi(wf), id)
}

func (t *Tx) PutComputeNode(n *types.ComputeNode) error {
	if n.ID == 0 {
		id, err := t.nextID(seqComputeNodes)
		if err != nil {
			return err
		}
		n.ID = id
	}
	b, err := t.ensureSub(bucketComputeNodes, n.WorkflowID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := b.Put(itob(n.ID), data); err != nil {
		return err
	}
	return t.btx.Bucket(bucketComputeNodeIndex).Put(itob(n.ID), itob(n.WorkflowID))
}

func (t *Tx) ListComputeNodes(workflowID int64) ([]*types.ComputeNode, error) {
	b := t.sub(bucketComputeNodes, workflowID)
	if b == nil {
		return nil, nil
	}
	var nodes []*types.ComputeNode
	err := b.ForEach(func(k, v []byte) error {
		var n types.ComputeNode
		if err := json.Unmarshal(v, &n); err != nil {
			return err
		}
		nodes = append(nodes, &n)
		return nil
	})
	return nodes, err
}

// --- Result Accessors ---

// HasResult reports whether a result already exists for the given
// (job, run, attempt). Used to enforce at-most-once completion.
func (t *Tx) HasResult(workflowID, jobID, runID, attemptID int64) (bool, error) {
	b := t.sub(bucketResultsByJob, workflowID)
	if b == nil {
		return false, nil
	}
	return b.Get(resultJobKey(jobID, runID, attemptID)) != nil, nil
}

func (t *Tx) PutResult(r *types.Result) error {
	if r.ID == 0 {
		id, err := t.nextID(seqResults)
		if err != nil {
			return err
		}
		r.ID = id
	}
	b, err := t.ensureSub(bucketResults, r.WorkflowID)
	if err != nil {
		return err
	}
	byJob, err := t.ensureSub(bucketResultsByJob, r.WorkflowID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := b.Put(itob(r.ID), data); err != nil {
		return err
	}
	return byJob.Put(resultJobKey(r.JobID, r.RunID, r.AttemptID), itob(r.ID))
}

func (t *Tx) ListResults(workflowID int64) ([]*types.Result, error) {
	b := t.sub(bucketResults, workflowID)
	if b == nil {
		return nil, nil
	}
	var results []*types.Result
	err := b.ForEach(func(k, v []byte) error {
		var r types.Result
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		results = append(results, &r)
		return nil
	})
	return results, err
}

func (t *Tx) ListResultsByJob(workflowID, jobID int64) ([]*types.Result, error) {
	byJob := t.sub(bucketResultsByJob, workflowID)
	if byJob == nil {
		return nil, nil
	}
	results := t.sub(bucketResults, workflowID)
	prefix := itob(jobID)
	var out []*types.Result
	c := byJob.Cursor()
	for k, v := c.Seek(prefix); k != nil && len(k) >= 8 && string(k[:8]) == string(prefix); k, v = c.Next() {
		data := results.Get(v)
		if data == nil {
			continue
		}
		var r types.Result
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, nil
}

// LatestResult returns the result with the highest (run, attempt) for a
// job, or NotFound if the job never produced one.
func (t *Tx) LatestResult(workflowID, jobID int64) (*types.Result, error) {
	results, err := t.ListResultsByJob(workflowID, jobID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, torcerr.NotFound("no results for job %d", jobID)
	}
	return results[len(results)-1], nil
}

// --- Event Accessors ---

func (t *Tx) PutEvent(e *types.Event) error {
	if e.ID == 0 {
		id, err := t.nextID(seqEvents)
		if err != nil {
			return err
		}
		e.ID = id
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b, err := t.ensureSub(bucketEvents, e.WorkflowID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.Put(itob(e.ID), data)
}

// ListEvents returns events in id order, starting after the given
// watermark, so pollers can resume where they left off. Category ""
// matches all; limit <= 0 means no limit.
func (t *Tx) ListEvents(workflowID int64, category types.EventCategory, after int64, limit int) ([]*types.Event, error) {
	b := t.sub(bucketEvents, workflowID)
	if b == nil {
		return nil, nil
	}
	var events []*types.Event
	c := b.Cursor()
	for k, v := c.Seek(itob(after + 1)); k != nil; k, v = c.Next() {
		var e types.Event
		if err := json.Unmarshal(v, &e); err != nil {
			return nil, err
		}
		if category != "" && e.Category != category {
			continue
		}
		events = append(events, &e)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

// --- Workflow Action Accessors ---

func (t *Tx) PutWorkflowAction(a *types.WorkflowAction) error {
	if a.ID == 0 {
		id, err := t.nextID(seqActions)
		if err != nil {
			return err
		}
		a.ID = id
	}
	b, err := t.ensureSub(bucketActions, a.WorkflowID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return b.Put(itob(a.ID), data)
}

func (t *Tx) ListWorkflowActions(workflowID int64) ([]*types.WorkflowAction, error) {
	b := t.sub(bucketActions, workflowID)
	if b == nil {
		return nil, nil
	}
	var actions []*types.WorkflowAction
	err := b.ForEach(func(k, v []byte) error {
		var a types.WorkflowAction
		if err := json.Unmarshal(v, &a); err != nil {
			return err
		}
		actions = append(actions, &a)
		return nil
	})
	return actions, err
}

func (t *Tx) DeleteWorkflowAction(workflowID, id int64) error {
	b := t.sub(bucketActions, workflowID)
	if b == nil || b.Get(itob(id)) == nil {
		return torcerr.NotFound("workflow action not found: %d", id)
	}
	return b.Delete(itob(id))
}

// deleteWorkflow removes the workflow record, every per-workflow
// sub-bucket, and the global index entries pointing into them.
func (t *Tx) deleteWorkflow(id int64) error {
	if _, err := t.Workflow(id); err != nil {
		return err
	}

	// Clear global indexes before the sub-buckets disappear.
	if jobs := t.sub(bucketJobs, id); jobs != nil {
		idx := t.btx.Bucket(bucketJobIndex)
		if err := jobs.ForEach(func(k, v []byte) error {
			return idx.Delete(k)
		}); err != nil {
			return err
		}
	}
	if nodes := t.sub(bucketComputeNodes, id); nodes != nil {
		idx := t.btx.Bucket(bucketComputeNodeIndex)
		if err := nodes.ForEach(func(k, v []byte) error {
			return idx.Delete(k)
		}); err != nil {
			return err
		}
	}
	if scheduled := t.sub(bucketScheduledNodes, id); scheduled != nil {
		idx := t.btx.Bucket(bucketScheduledNodeIndex)
		if err := scheduled.ForEach(func(k, v []byte) error {
			return idx.Delete(k)
		}); err != nil {
			return err
		}
	}

	perWorkflow := [][]byte{
		bucketJobs,
		bucketJobStatusIndex,
		bucketResourceReqs,
		bucketFiles,
		bucketUserData,
		bucketSlurmSchedulers,
		bucketLocalSchedulers,
		bucketScheduledNodes,
		bucketComputeNodes,
		bucketResults,
		bucketResultsByJob,
		bucketEvents,
		bucketActions,
		bucketNames,
	}
	for _, top := range perWorkflow {
		err := t.btx.Bucket(top).DeleteBucket(itob(id))
		if err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
	}

	return t.btx.Bucket(bucketWorkflows).Delete(itob(id))
}
