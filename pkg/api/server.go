package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/torc-hpc/torc/pkg/artifacts"
	"github.com/torc-hpc/torc/pkg/auth"
	"github.com/torc-hpc/torc/pkg/claim"
	"github.com/torc-hpc/torc/pkg/engine"
	"github.com/torc-hpc/torc/pkg/events"
	"github.com/torc-hpc/torc/pkg/log"
	"github.com/torc-hpc/torc/pkg/metrics"
	"github.com/torc-hpc/torc/pkg/storage"
	"github.com/torc-hpc/torc/pkg/torcerr"
	"github.com/torc-hpc/torc/pkg/tracker"
)

// Config holds the server's runtime options.
type Config struct {
	Listen string

	// Verifier checks Basic auth credentials. Nil disables
	// authentication; every request runs as auth.AnonymousUser.
	Verifier *auth.Verifier

	// MetricsEnabled exposes GET /metrics.
	MetricsEnabled bool
}

// Deps are the components requests dispatch to.
type Deps struct {
	Store    storage.Store
	Engine   *engine.Engine
	Claims   *claim.Coordinator
	Tracker  *tracker.Tracker
	Resolver *artifacts.Resolver

	// Broker feeds the live event stream. Nil disables streaming;
	// the stored-event list endpoint works either way.
	Broker *events.Broker
}

// Server is the HTTP/JSON dispatch layer. It owns no state of its own:
// every handler parses the request, calls one engine/store operation,
// and maps the result (or the typed error) back onto the wire.
type Server struct {
	cfg    Config
	deps   Deps
	http   *http.Server
	logger zerolog.Logger
}

// New assembles the server. Start must be called to begin serving.
func New(cfg Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: log.WithComponent("api"),
	}
	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	metrics.RegisterComponent("api", true, "")
	s.logger.Info().Str("listen", s.cfg.Listen).Bool("auth", s.cfg.Verifier != nil).Msg("api server listening")
	err := s.http.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent("api", false, err.Error())
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
// The context bounds the drain; long-poll claims finish within their
// wait timeout, so give it at least that long.
func (s *Server) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent("api", false, "shutting down")
	return s.http.Shutdown(ctx)
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(s.requestID(), s.logRequests(), gin.Recovery())
	r.NoRoute(func(c *gin.Context) {
		abortError(c, torcerr.NotFound("no route for %s %s", c.Request.Method, c.Request.URL.Path))
	})

	r.GET("/health", s.health)
	r.GET("/ready", s.ready)
	if s.cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	api := r.Group("", s.authenticate())

	api.POST("/workflows", s.createWorkflow)
	api.GET("/workflows", s.listWorkflows)
	api.POST("/workflows/import", s.importWorkflow)
	api.GET("/workflows/:id", s.getWorkflow)
	api.DELETE("/workflows/:id", s.deleteWorkflow)
	api.POST("/workflows/:id/initialize", s.initializeWorkflow)
	api.POST("/workflows/:id/reset", s.resetWorkflow)
	api.GET("/workflows/:id/export", s.exportWorkflow)
	api.GET("/workflows/:id/events", s.listEvents)
	api.GET("/workflows/:id/events/stream", s.streamEvents)
	api.GET("/workflows/:id/results", s.listResults)
	api.GET("/workflows/:id/missing_files", s.listMissingFiles)
	api.GET("/workflows/:id/missing_user_data", s.listMissingUserData)

	api.POST("/workflows/:id/jobs", s.createJob)
	api.GET("/workflows/:id/jobs", s.listJobs)
	api.POST("/workflows/:id/jobs/claim_by_resources", s.claimJobs)
	api.GET("/workflows/:id/jobs/:jobID", s.getJob)
	api.DELETE("/workflows/:id/jobs/:jobID", s.deleteJob)
	api.POST("/workflows/:id/jobs/:jobID/reset", s.resetJob)
	api.GET("/workflows/:id/jobs/:jobID/results", s.listJobResults)

	// Global job routes: compute nodes hold job IDs, not workflow IDs.
	api.POST("/jobs/:id/start", s.startJob)
	api.POST("/jobs/:id/complete", s.completeJob)

	api.POST("/workflows/:id/files", s.createFile)
	api.GET("/workflows/:id/files", s.listFiles)
	api.GET("/workflows/:id/files/:entityID", s.getFile)
	api.DELETE("/workflows/:id/files/:entityID", s.deleteFile)

	api.POST("/workflows/:id/user_data", s.createUserData)
	api.GET("/workflows/:id/user_data", s.listUserData)
	api.GET("/workflows/:id/user_data/:entityID", s.getUserData)
	api.DELETE("/workflows/:id/user_data/:entityID", s.deleteUserData)

	api.POST("/workflows/:id/resource_requirements", s.createResourceRequirements)
	api.GET("/workflows/:id/resource_requirements", s.listResourceRequirements)
	api.GET("/workflows/:id/resource_requirements/:entityID", s.getResourceRequirements)
	api.DELETE("/workflows/:id/resource_requirements/:entityID", s.deleteResourceRequirements)

	api.POST("/workflows/:id/slurm_schedulers", s.createSlurmScheduler)
	api.GET("/workflows/:id/slurm_schedulers", s.listSlurmSchedulers)
	api.GET("/workflows/:id/slurm_schedulers/:entityID", s.getSlurmScheduler)
	api.DELETE("/workflows/:id/slurm_schedulers/:entityID", s.deleteSlurmScheduler)

	api.POST("/workflows/:id/local_schedulers", s.createLocalScheduler)
	api.GET("/workflows/:id/local_schedulers", s.listLocalSchedulers)
	api.GET("/workflows/:id/local_schedulers/:entityID", s.getLocalScheduler)
	api.DELETE("/workflows/:id/local_schedulers/:entityID", s.deleteLocalScheduler)

	api.POST("/workflows/:id/workflow_actions", s.createWorkflowAction)
	api.GET("/workflows/:id/workflow_actions", s.listWorkflowActions)
	api.DELETE("/workflows/:id/workflow_actions/:entityID", s.deleteWorkflowAction)

	api.POST("/workflows/:id/compute_nodes", s.attachComputeNode)
	api.GET("/workflows/:id/compute_nodes", s.listComputeNodes)
	api.POST("/compute_nodes/:id/heartbeat", s.heartbeatComputeNode)
	api.POST("/compute_nodes/:id/deactivate", s.deactivateComputeNode)

	api.POST("/scheduled_compute_nodes", s.createScheduledComputeNode)
	api.GET("/scheduled_compute_nodes/:id", s.getScheduledComputeNode)
	api.PUT("/scheduled_compute_nodes/:id/status", s.setScheduledComputeNodeStatus)
	api.GET("/workflows/:id/scheduled_compute_nodes", s.listScheduledComputeNodes)

	return r
}

func (s *Server) health(c *gin.Context) {
	if err := s.deps.Store.View(func(*storage.Tx) error { return nil }); err != nil {
		metrics.UpdateComponent("storage", false, err.Error())
	} else {
		metrics.UpdateComponent("storage", true, "")
	}
	h := metrics.GetHealth()
	status := http.StatusOK
	if h.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

func (s *Server) ready(c *gin.Context) {
	r := metrics.GetReadiness()
	status := http.StatusOK
	if r.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, r)
}
