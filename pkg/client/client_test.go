package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/torc-hpc/torc/pkg/api"
	"github.com/torc-hpc/torc/pkg/artifacts"
	"github.com/torc-hpc/torc/pkg/auth"
	"github.com/torc-hpc/torc/pkg/claim"
	"github.com/torc-hpc/torc/pkg/engine"
	"github.com/torc-hpc/torc/pkg/events"
	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/tracker"
	"github.com/torc-hpc/torc/pkg/types"
)

var workerResources = types.ComputeNodesResources{NumCPUs: 8, MemoryGB: 32, NumGPUs: 1, NumNodes: 1}

func newTestServer(t *testing.T, verifier *auth.Verifier) *httptest.Server {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "torc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	eng := engine.New(store, broker)
	srv := api.New(
		api.Config{Listen: "127.0.0.1:0", Verifier: verifier},
		api.Deps{
			Store:    store,
			Engine:   eng,
			Claims:   claim.New(eng, 100*time.Millisecond),
			Tracker:  tracker.New(store, broker),
			Resolver: artifacts.New(store),
			Broker:   broker,
		},
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func writeBcryptUser(t *testing.T, path, username, password string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(username+":"+string(hash)+"\n"), 0o600))
}

func TestLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	cli := New(ts.URL)
	ctx := context.Background()

	w, err := cli.CreateWorkflow(ctx, "pipeline", "two step run")
	require.NoError(t, err)
	require.NotZero(t, w.ID)

	first, err := cli.CreateJob(ctx, w.ID, &JobSpec{Name: "first", Command: "step1.sh"})
	require.NoError(t, err)
	second, err := cli.CreateJob(ctx, w.ID, &JobSpec{
		Name: "second", Command: "step2.sh", DependsOnJobIDs: []int64{first.ID},
	})
	require.NoError(t, err)

	initRes, err := cli.InitializeWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, initRes.TotalJobs)
	assert.Equal(t, 1, initRes.ReadyJobs)

	node, err := cli.AttachComputeNode(ctx, w.ID, "worker01", workerResources, "")
	require.NoError(t, err)
	assert.True(t, node.IsActive)

	req := &types.ClaimJobsRequest{Resources: workerResources, ComputeNodeID: node.ID}
	resp, err := cli.ClaimJobs(ctx, w.ID, req)
	require.NoError(t, err)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, first.ID, resp.Jobs[0].ID)

	started, err := cli.StartJob(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, started.Status)

	res, err := cli.CompleteJob(ctx, first.ID, &types.CompleteJobRequest{
		Status: types.JobStatusCompleted, ReturnCode: 0,
	})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	resp, err = cli.ClaimJobs(ctx, w.ID, req)
	require.NoError(t, err)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, second.ID, resp.Jobs[0].ID)
	_, err = cli.CompleteJob(ctx, second.ID, &types.CompleteJobRequest{
		Status: types.JobStatusCompleted, ReturnCode: 0,
	})
	require.NoError(t, err)

	_, err = cli.DeactivateComputeNode(ctx, node.ID)
	require.NoError(t, err)

	final, err := cli.GetWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusCompleted, final.Status)

	results, err := cli.ListResults(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	evs, err := cli.ListEvents(ctx, w.ID, types.EventCategoryJob, 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, evs)
}

func TestClaimEmptyAfterWait(t *testing.T) {
	ts := newTestServer(t, nil)
	cli := New(ts.URL)
	ctx := context.Background()

	w, err := cli.CreateWorkflow(ctx, "idle", "")
	require.NoError(t, err)
	_, err = cli.CreateJob(ctx, w.ID, &JobSpec{Name: "only", Command: "run.sh"})
	require.NoError(t, err)
	// No initialize: nothing is claimable, so the server parks the
	// request until the wait timeout and returns an empty set.
	resp, err := cli.ClaimJobs(ctx, w.ID, &types.ClaimJobsRequest{Resources: workerResources})
	require.NoError(t, err)
	assert.Empty(t, resp.Jobs)
}

func TestErrorsDecodeTyped(t *testing.T) {
	ts := newTestServer(t, nil)
	cli := New(ts.URL)
	ctx := context.Background()

	_, err := cli.GetWorkflow(ctx, 9999)
	assert.True(t, torcerr.Is(err, torcerr.CodeNotFound), "got %v", err)

	w, err := cli.CreateWorkflow(ctx, "errs", "")
	require.NoError(t, err)

	_, err = cli.CreateJob(ctx, w.ID, &JobSpec{Name: "", Command: "run.sh"})
	assert.True(t, torcerr.Is(err, torcerr.CodeInvalidInput), "got %v", err)

	_, err = cli.CreateJob(ctx, w.ID, &JobSpec{Name: "dup", Command: "run.sh"})
	require.NoError(t, err)
	_, err = cli.CreateJob(ctx, w.ID, &JobSpec{Name: "dup", Command: "run.sh"})
	assert.True(t, torcerr.Is(err, torcerr.CodeConflict), "got %v", err)
}

func TestBasicAuthRoundTrip(t *testing.T) {
	htpasswd := filepath.Join(t.TempDir(), "htpasswd")
	writeBcryptUser(t, htpasswd, "alice", "wonderland")
	verifier, err := auth.LoadFile(htpasswd)
	require.NoError(t, err)

	ts := newTestServer(t, verifier)
	ctx := context.Background()

	_, err = New(ts.URL).ListWorkflows(ctx, false)
	assert.True(t, torcerr.Is(err, torcerr.CodeAuthRequired), "got %v", err)

	_, err = NewWithBasicAuth(ts.URL, "alice", "hatter").ListWorkflows(ctx, false)
	assert.True(t, torcerr.Is(err, torcerr.CodeAuthFailed), "got %v", err)

	cli := NewWithBasicAuth(ts.URL, "alice", "wonderland")
	w, err := cli.CreateWorkflow(ctx, "secured", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", w.User)

	require.NoError(t, cli.Health(ctx))
}

func TestExportImportRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)
	cli := New(ts.URL)
	ctx := context.Background()

	w, err := cli.CreateWorkflow(ctx, "portable", "")
	require.NoError(t, err)
	f, err := cli.CreateFile(ctx, w.ID, "input", "/data/input.csv")
	require.NoError(t, err)
	j, err := cli.CreateJob(ctx, w.ID, &JobSpec{
		Name: "ingest", Command: "ingest.sh", InputFileIDs: []int64{f.ID},
	})
	require.NoError(t, err)
	_, err = cli.CreateJob(ctx, w.ID, &JobSpec{
		Name: "transform", Command: "transform.sh", DependsOnJobIDs: []int64{j.ID},
	})
	require.NoError(t, err)

	doc, err := cli.ExportWorkflow(ctx, w.ID, false, false)
	require.NoError(t, err)
	require.Len(t, doc.Jobs, 2)
	require.Len(t, doc.Files, 1)

	imported, err := cli.ImportWorkflow(ctx, doc)
	require.NoError(t, err)
	assert.NotEqual(t, w.ID, imported.ID)

	jobs, err := cli.ListJobs(ctx, imported.ID, "")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	missing, err := cli.ListMissingFiles(ctx, imported.ID)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "input", missing[0].Name)
}

func TestWatchEvents(t *testing.T) {
	ts := newTestServer(t, nil)
	cli := New(ts.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := cli.CreateWorkflow(ctx, "watched", "")
	require.NoError(t, err)

	first := make(chan *types.Event, 1)
	done := make(chan error, 1)
	go func() {
		done <- cli.WatchEvents(ctx, w.ID, types.EventCategoryComputeNode, func(ev *types.Event) error {
			select {
			case first <- ev:
			default:
			}
			return nil
		})
	}()

	// The subscription races the first trigger, so keep attaching
	// nodes until one shows up on the stream.
	var ev *types.Event
	for i := 0; ev == nil; i++ {
		require.Less(t, i, 50, "no event arrived on the stream")
		_, err := cli.AttachComputeNode(ctx, w.ID, fmt.Sprintf("n-%d", i), workerResources, "")
		require.NoError(t, err)
		select {
		case ev = <-first:
		case <-time.After(100 * time.Millisecond):
		}
	}
	assert.Equal(t, types.EventComputeNodeRegistered, ev.Type)
	assert.Equal(t, w.ID, ev.WorkflowID)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRetryOnRetryableConflict(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"code":"retryable_conflict","message":"store busy"}`)
			return
		}
		fmt.Fprint(w, `{"id":7,"name":"retried"}`)
	}))
	defer ts.Close()

	cli := New(ts.URL)
	w, err := cli.GetWorkflow(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), w.ID)
	assert.EqualValues(t, 3, calls.Load())
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"code":"retryable_conflict","message":"store busy"}`)
	}))
	defer ts.Close()

	cli := New(ts.URL)
	_, err := cli.GetWorkflow(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, torcerr.Is(err, torcerr.CodeRetryableConflict))
	assert.EqualValues(t, 1+retryAttempts, calls.Load())
}
