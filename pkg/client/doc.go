/*
Package client provides a typed Go client for the torc HTTP API.

Every server route has a corresponding method. Methods marshal their
arguments to JSON, decode successful responses into pkg/types values,
and decode error responses back into *torcerr.Error, so calling code
dispatches on error codes exactly the way server-side code does:

	w, err := cli.GetWorkflow(ctx, 42)
	if torcerr.Is(err, torcerr.CodeNotFound) {
		// gone
	}

# Architecture

	┌──────────────── CALLER (CLI, worker, driver) ───────────────┐
	│                                                              │
	│  cli := client.New("http://torc-server:8080")                │
	│  resp, err := cli.ClaimJobs(ctx, workflowID, req)            │
	│                                                              │
	└────────────────────────────┬─────────────────────────────────┘
	                             │
	┌────────────────────────────▼──── pkg/client ─────────────────┐
	│                                                              │
	│  do(ctx, method, path, in, out)                              │
	│    - JSON encode / decode                                    │
	│    - Basic auth header when configured                       │
	│    - error body → *torcerr.Error                             │
	│                                                              │
	└────────────────────────────┬─────────────────────────────────┘
	                             │ HTTP/JSON
	                             ▼
	                      torc API server

# Contexts and Timeouts

The client never imposes its own deadline; the caller's context rules.
Most calls return promptly, but ClaimJobs long-polls: the server holds
the request open until jobs become claimable or its wait timeout (10s
by default) passes. Give claim contexts comfortable headroom:

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	resp, err := cli.ClaimJobs(ctx, wfID, &types.ClaimJobsRequest{
		Resources: types.ComputeNodesResources{NumCPUs: 8, MemoryGB: 32, NumNodes: 1},
	})

An empty resp.Jobs after a nil error means nothing was ready; workers
simply poll again.

Requests the server rejects with a retryable_conflict (503) are retried
automatically with exponential backoff before the error is surfaced.

# Watching Events

WatchEvents follows a workflow's live event stream, invoking a callback
per event until the context is canceled or the callback errors. The
stream is best-effort delivery; ListEvents with an after cursor is the
durable record:

	err := cli.WatchEvents(ctx, wfID, "", func(ev *types.Event) error {
		fmt.Println(ev.Type, ev.Message)
		return nil
	})

# Authentication

Servers started with an htpasswd file require Basic credentials:

	cli := client.NewWithBasicAuth("https://torc:8080", "alice", password)

Against an unsecured server the credentials are simply not sent; use
New instead.

# Worker Loop

The methods compose into the standard worker loop:

	node, _ := cli.AttachComputeNode(ctx, wfID, hostname, resources, slurmJobID)
	for {
		resp, err := cli.ClaimJobs(ctx, wfID, claimReq)
		if err != nil || len(resp.Jobs) == 0 {
			continue // or back off / exit on drain
		}
		for _, j := range resp.Jobs {
			cli.StartJob(ctx, j.ID)
			rc := run(j.Command)
			cli.CompleteJob(ctx, j.ID, &types.CompleteJobRequest{
				Status:     types.JobStatusCompleted,
				ReturnCode: rc,
			})
		}
	}
	cli.DeactivateComputeNode(ctx, node.ID)

# See Also

  - pkg/api: the server side of this protocol
  - pkg/types: the request and response shapes
  - pkg/torcerr: the error codes methods return
  - pkg/export: the document type ExportWorkflow and ImportWorkflow move
*/
package client
