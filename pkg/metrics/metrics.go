package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Workflow metrics
	WorkflowsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "torc_workflows_total",
			Help: "Total number of workflows by status",
		},
		[]string{"status"},
	)

	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "torc_jobs_total",
			Help: "Total number of jobs by status",
		},
		[]string{"status"},
	)

	ComputeNodesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "torc_compute_nodes_active",
			Help: "Number of compute nodes currently attached",
		},
	)

	AllocationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "torc_scheduled_allocations_total",
			Help: "Total number of scheduled allocations by status",
		},
		[]string{"status"},
	)

	// Claim metrics
	ClaimRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torc_claim_requests_total",
			Help: "Total number of claim requests by outcome",
		},
		[]string{"outcome"},
	)

	JobsClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "torc_jobs_claimed_total",
			Help: "Total number of jobs handed to compute nodes",
		},
	)

	ClaimWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "torc_claim_wait_duration_seconds",
			Help:    "Time claim requests spent waiting for ready jobs",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Completion metrics
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torc_jobs_completed_total",
			Help: "Total number of job completions by terminal status",
		},
		[]string{"status"},
	)

	WorkflowInitializations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "torc_workflow_initializations_total",
			Help: "Total number of workflow initialization passes",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torc_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "torc_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Reconciler metrics
	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "torc_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "torc_reconciliation_duration_seconds",
			Help:    "Time taken by one reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeadComputeNodesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "torc_dead_compute_nodes_total",
			Help: "Total number of compute nodes declared dead by the reconciler",
		},
	)

	// Event metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torc_events_total",
			Help: "Total number of events recorded by category",
		},
		[]string{"category"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(WorkflowsTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(ComputeNodesActive)
	prometheus.MustRegister(AllocationsTotal)
	prometheus.MustRegister(ClaimRequestsTotal)
	prometheus.MustRegister(JobsClaimedTotal)
	prometheus.MustRegister(ClaimWaitDuration)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(WorkflowInitializations)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(DeadComputeNodesTotal)
	prometheus.MustRegister(EventsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
