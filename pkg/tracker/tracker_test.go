package tracker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/types"
)

func newTestTracker(t *testing.T) (*Tracker, *storage.BoltStore, *types.Workflow) {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "torc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	wf := &types.Workflow{Name: "alloc-test", User: "tester"}
	require.NoError(t, store.CreateWorkflow(wf))
	return New(store, nil), store, wf
}

func TestAllocationLifecycle(t *testing.T) {
	tr, _, wf := newTestTracker(t)

	n := &types.ScheduledComputeNode{
		WorkflowID:    wf.ID,
		SchedulerID:   "slurm-12345",
		SchedulerType: types.SchedulerTypeSlurm,
	}
	require.NoError(t, tr.Create(n))
	assert.Equal(t, types.AllocationStatusPending, n.Status)

	got, err := tr.SetStatus(n.ID, types.AllocationStatusActive)
	require.NoError(t, err)
	assert.Equal(t, types.AllocationStatusActive, got.Status)

	got, err = tr.SetStatus(n.ID, types.AllocationStatusComplete)
	require.NoError(t, err)
	assert.Equal(t, types.AllocationStatusComplete, got.Status)
}

func TestAllocationIdempotentTransitions(t *testing.T) {
	tr, _, wf := newTestTracker(t)

	n := &types.ScheduledComputeNode{
		WorkflowID:    wf.ID,
		SchedulerID:   "slurm-1",
		SchedulerType: types.SchedulerTypeSlurm,
	}
	require.NoError(t, tr.Create(n))

	_, err := tr.SetStatus(n.ID, types.AllocationStatusComplete)
	require.NoError(t, err)

	// Repeating a terminal report is accepted silently.
	got, err := tr.SetStatus(n.ID, types.AllocationStatusComplete)
	require.NoError(t, err)
	assert.Equal(t, types.AllocationStatusComplete, got.Status)

	// Moving backwards is not.
	_, err = tr.SetStatus(n.ID, types.AllocationStatusActive)
	require.Error(t, err)
	assert.Equal(t, torcerr.CodeInvalidState, torcerr.CodeOf(err))
}

func TestAllocationRejectsUnknownInputs(t *testing.T) {
	tr, _, wf := newTestTracker(t)

	err := tr.Create(&types.ScheduledComputeNode{WorkflowID: wf.ID, SchedulerType: "pbs"})
	assert.Equal(t, torcerr.CodeInvalidInput, torcerr.CodeOf(err))

	n := &types.ScheduledComputeNode{
		WorkflowID:    wf.ID,
		SchedulerID:   "local-1",
		SchedulerType: types.SchedulerTypeLocal,
	}
	require.NoError(t, tr.Create(n))
	_, err = tr.SetStatus(n.ID, "paused")
	assert.Equal(t, torcerr.CodeInvalidInput, torcerr.CodeOf(err))

	_, err = tr.SetStatus(9999, types.AllocationStatusActive)
	assert.Equal(t, torcerr.CodeNotFound, torcerr.CodeOf(err))
}

func TestHasPendingOrActive(t *testing.T) {
	tr, _, wf := newTestTracker(t)

	busy, err := tr.HasPendingOrActive(wf.ID)
	require.NoError(t, err)
	assert.False(t, busy)

	n := &types.ScheduledComputeNode{
		WorkflowID:    wf.ID,
		SchedulerID:   "slurm-7",
		SchedulerType: types.SchedulerTypeSlurm,
	}
	require.NoError(t, tr.Create(n))

	busy, err = tr.HasPendingOrActive(wf.ID)
	require.NoError(t, err)
	assert.True(t, busy)

	_, err = tr.SetStatus(n.ID, types.AllocationStatusComplete)
	require.NoError(t, err)

	busy, err = tr.HasPendingOrActive(wf.ID)
	require.NoError(t, err)
	assert.False(t, busy)
}

func TestActivateForSchedulerOnAttach(t *testing.T) {
	tr, store, wf := newTestTracker(t)

	n := &types.ScheduledComputeNode{
		WorkflowID:    wf.ID,
		SchedulerID:   "slurm-42",
		SchedulerType: types.SchedulerTypeSlurm,
	}
	require.NoError(t, tr.Create(n))

	err := store.Update(func(tx *storage.Tx) error {
		ev, err := ActivateForScheduler(tx, wf.ID, "slurm-42")
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, types.EventAllocationStatusChanged, ev.Type)

		// Second attach from the same allocation is a no-op.
		ev, err = ActivateForScheduler(tx, wf.ID, "slurm-42")
		require.NoError(t, err)
		assert.Nil(t, ev)
		return nil
	})
	require.NoError(t, err)

	got, err := tr.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AllocationStatusActive, got.Status)
}

func TestCompleteIfDrained(t *testing.T) {
	tr, store, wf := newTestTracker(t)

	n := &types.ScheduledComputeNode{
		WorkflowID:    wf.ID,
		SchedulerID:   "slurm-42",
		SchedulerType: types.SchedulerTypeSlurm,
	}
	require.NoError(t, tr.Create(n))

	worker := &types.ComputeNode{
		WorkflowID:  wf.ID,
		Hostname:    "node01",
		SchedulerID: "slurm-42",
		IsActive:    true,
	}
	require.NoError(t, store.CreateComputeNode(worker))
	require.NoError(t, store.Update(func(tx *storage.Tx) error {
		_, err := ActivateForScheduler(tx, wf.ID, "slurm-42")
		return err
	}))

	// A live worker still references the allocation.
	err := store.Update(func(tx *storage.Tx) error {
		ev, err := CompleteIfDrained(tx, wf.ID, "slurm-42")
		require.NoError(t, err)
		assert.Nil(t, ev)
		return nil
	})
	require.NoError(t, err)

	worker.IsActive = false
	require.NoError(t, store.UpdateComputeNode(worker))

	err = store.Update(func(tx *storage.Tx) error {
		ev, err := CompleteIfDrained(tx, wf.ID, "slurm-42")
		require.NoError(t, err)
		require.NotNil(t, ev)
		return nil
	})
	require.NoError(t, err)

	got, err := tr.Get(n.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AllocationStatusComplete, got.Status)
}
