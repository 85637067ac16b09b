/*
Package api provides the HTTP/JSON dispatch layer for torc.

The api package turns authenticated external requests into calls on the
engine, claim coordinator, tracker, artifact resolver, and store, and
maps typed errors back onto HTTP statuses. It holds no workflow state of
its own.

# Architecture

	┌─────────────────────── API SERVER ────────────────────────┐
	│                                                           │
	│  Request                                                  │
	│     │                                                     │
	│  ┌──▼───────────────────────────────────────┐             │
	│  │            Middleware chain              │             │
	│  │  request id → logging → recovery → auth  │             │
	│  └──┬───────────────────────────────────────┘             │
	│     │                                                     │
	│  ┌──▼───────────────────────────────────────┐             │
	│  │               Handlers                   │             │
	│  │  parse params / bind body                │             │
	│  │  one call into the core                  │             │
	│  │  JSON result or mapped error             │             │
	│  └──┬────────┬────────┬────────┬────────────┘             │
	│     │        │        │        │                          │
	│  engine   claim    tracker  storage / artifacts / export  │
	└───────────────────────────────────────────────────────────┘

# Routes

Workflows own everything: jobs, files, user data, resource
requirements, schedulers, actions, compute nodes, events, and results
are nested under /workflows/{id}. Three resources also have global
routes because their callers hold bare ids:

  - POST /jobs/{id}/start and /jobs/{id}/complete: compute nodes track
    jobs by the ids they were handed at claim time
  - POST /compute_nodes/{id}/heartbeat and /deactivate
  - /scheduled_compute_nodes: external scheduler drivers know their
    allocation record id, not the workflow

The claim endpoint, POST /workflows/{id}/jobs/claim_by_resources, long
polls: when no job fits, the request parks on the claim coordinator
until a completion frees a dependency or the wait timeout elapses, so
workers do not busy-poll the server between completions.

# Authentication

HTTP Basic against an htpasswd-style file of bcrypt hashes. When no
file is configured the service runs open and every request is
"anonymous". The resolved user is stamped on created workflows and
filters workflow listings unless show_all_users is set. Health,
readiness, and metrics endpoints are never authenticated.

# Error Mapping

Handlers return torcerr classifications, rendered as

	{"code": "not_found", "message": "job not found: 42"}

with the status from torcerr.HTTPStatus: 404 not_found, 409 conflict
and invalid_state, 400 invalid_dag and invalid_input, 503
retryable_conflict, 401 auth_required and auth_failed, 500 everything
else. Internal causes are logged with the request id and never leak
into response bodies.

# Usage

	srv := api.New(api.Config{Listen: "127.0.0.1:8080"}, api.Deps{
		Store:    store,
		Engine:   eng,
		Claims:   coordinator,
		Tracker:  tracker,
		Resolver: resolver,
	})
	go srv.Start()
	...
	srv.Shutdown(ctx)

# See Also

  - pkg/engine for the operations behind the mutating routes
  - pkg/claim for long-poll claim semantics
  - pkg/torcerr for the error taxonomy
*/
package api
