/*
Package metrics defines torc's Prometheus instrumentation and the
component health registry behind /health and /ready.

# Metrics

All metrics live under the torc_ prefix and register themselves at
package init, so importing a component is enough to expose its series.
GET /metrics serves the standard Prometheus text format.

State gauges:

	torc_workflows_total{status}              workflows by status
	torc_jobs_total{status}                   jobs by status
	torc_scheduled_allocations_total{status}  allocations by status
	torc_compute_nodes_active                 attached nodes

The gauges are recounted from the store by the reconciler each cycle
rather than adjusted on every transition, so they converge within one
interval even if an update path is missed.

Throughput counters and latency histograms:

	torc_claim_requests_total{outcome}        claimed / empty / error
	torc_jobs_claimed_total                   jobs handed to nodes
	torc_claim_wait_duration_seconds          long-poll park time
	torc_jobs_completed_total{status}         completions by terminal status
	torc_workflow_initializations_total       initialization passes
	torc_api_requests_total{method,status}    HTTP traffic
	torc_api_request_duration_seconds{method} HTTP latency
	torc_reconciliation_cycles_total          reconciler passes
	torc_reconciliation_duration_seconds      reconciler pass time
	torc_dead_compute_nodes_total             nodes declared dead
	torc_events_total{category}               events published

Use Timer for histogram observations:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

# Health Registry

Long-lived components report in with RegisterComponent and keep their
entry current with UpdateComponent. GetHealth folds the entries into
one status for /health; GetReadiness additionally requires the storage
and api components to be present and healthy, which keeps /ready red
until the server can actually do work.
*/
package metrics
