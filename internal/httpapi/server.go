// Package httpapi is the thin chi-based HTTP adapter (spec §6): it
// resolves the wire contract (Instance header, route shape, status
// codes) and dispatches into the core managers. Grounded on the
// teacher's applications/httpapi (route/handler split) and
// infrastructure/middleware (the chain each request passes through),
// rebuilt on go-chi/chi/v5 for path-parameter routing instead of the
// teacher's hand-rolled net/http.ServeMux dispatch.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
	"github.com/AnturK/tgstation-server/infrastructure/cache"
	"github.com/AnturK/tgstation-server/infrastructure/httputil"
	"github.com/AnturK/tgstation-server/infrastructure/logging"
	"github.com/AnturK/tgstation-server/infrastructure/middleware"
	"github.com/AnturK/tgstation-server/internal/domain"
)

// Version is echoed on GET / per spec §6's "Api: Tgstation.Server.Api/<semver>" header contract.
const Version = "1.0.0"

// InstanceService is the subset of internal/instance.Manager the adapter calls.
type InstanceService interface {
	CreateOrAttach(ctx context.Context, name, path, callerID string) (domain.Instance, bool, error)
	Detach(ctx context.Context, instanceID int64) error
	Get(ctx context.Context, instanceID int64) (domain.Instance, bool, error)
	List(ctx context.Context) ([]domain.Instance, error)
}

// Updater is implemented by internal/host.Host, which forwards to
// internal/instance.Manager; split out from
// InstanceService so tests can stub the two independently.
type Updater interface {
	Update(ctx context.Context, req UpdateRequest) (domain.Instance, error)
}

// UpdateRequest mirrors internal/instance.UpdateRequest; the adapter
// depends on this local shape rather than importing internal/instance
// so Server has no compile-time dependency on the concrete manager.
type UpdateRequest struct {
	InstanceID   int64
	CallerID     string
	CallerRights domain.Right
	NewName      *string
	NewPath      *string
	Online       *bool
	AutoStart    *bool
}

// JobService is the subset of internal/job.Manager the adapter calls.
type JobService interface {
	Get(ctx context.Context, jobID string) (domain.Job, error)
	List(ctx context.Context, instanceID *int64) ([]domain.Job, error)
	Cancel(ctx context.Context, jobID, callerID string, callerRights domain.Right) error
}

// InstanceRuntime bundles the per-instance runtime components a
// running instance owns (watchdog, repository, chat, deployments).
// internal/host constructs one per online instance; RuntimeRegistry looks
// them up by instance id.
type InstanceRuntime interface {
	DreamDaemonStatus(ctx context.Context) (DreamDaemonStatus, error)
	Launch(ctx context.Context, params domain.LaunchParameters) error
	GracefulRestart(ctx context.Context) error
	Terminate(ctx context.Context) error
	RepositorySnapshot(ctx context.Context) (domain.RepositorySnapshot, bool, error)
	ChatChannels(ctx context.Context) []domain.ChatChannel
}

// RuntimeRegistry resolves an instance id to its runtime components.
type RuntimeRegistry interface {
	Get(instanceID int64) (InstanceRuntime, bool)
}

// DreamDaemonStatus is the GET DreamDaemon response body.
type DreamDaemonStatus struct {
	Running          bool   `json:"running"`
	ActiveDeployment string `json:"active_compile_job_id,omitempty"`
	StagedDeployment string `json:"staged_compile_job_id,omitempty"`
}

// Server wires the core managers into chi routes.
type Server struct {
	instances InstanceService
	updater   Updater
	jobs      JobService
	runtimes  RuntimeRegistry
	log       *logging.Logger
	listCache *cache.Cache

	router chi.Router
}

// Config bundles Server's dependencies.
type Config struct {
	Instances   InstanceService
	Updater     Updater
	Jobs        JobService
	Runtimes    RuntimeRegistry
	Log         *logging.Logger
	CORSOrigins []string
}

// instanceResolver adapts InstanceService to middleware.InstanceResolver.
type instanceResolver struct{ svc InstanceService }

func (r instanceResolver) Exists(ctx context.Context, instanceID int64) bool {
	_, ok, err := r.svc.Get(ctx, instanceID)
	return err == nil && ok
}

// NewServer builds a Server and mounts every spec §6 route.
func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logging.NewFromEnv("httpapi")
	}

	s := &Server{
		instances: cfg.Instances,
		updater:   cfg.Updater,
		jobs:      cfg.Jobs,
		runtimes:  cfg.Runtimes,
		log:       log,
		listCache: cache.NewCache(cache.CacheConfig{DefaultTTL: instanceListTTL}),
	}

	r := chi.NewRouter()
	recovery := middleware.NewRecoveryMiddleware(log)
	limiter := middleware.NewRateLimiter(20, 40, log)
	cors := middleware.NewCORSMiddleware(&middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins})

	r.Use(recovery.Handler)
	r.Use(middleware.LoggingMiddleware(log))
	r.Use(cors.Handler)
	r.Use(limiter.Handler)
	r.Use(middleware.InstanceGateMiddleware(instanceResolver{svc: cfg.Instances}))

	r.Get("/", s.handleServerInfo)

	r.Route("/Instance", func(ir chi.Router) {
		ir.Put("/", s.handleCreateInstance)
		ir.Get("/List", s.handleListInstances)
		ir.Get("/{id}", s.handleGetInstance)
		ir.Post("/", s.handleUpdateInstance)
		ir.Delete("/{id}", s.handleDetachInstance)

		ir.Get("/{id}/DreamDaemon", s.handleGetDreamDaemon)
		ir.Put("/{id}/DreamDaemon", s.handleLaunchDreamDaemon)
		ir.Patch("/{id}/DreamDaemon", s.handleRestartDreamDaemon)
		ir.Delete("/{id}/DreamDaemon", s.handleStopDreamDaemon)

		ir.Get("/{id}/Repository", s.handleGetRepository)

		ir.Get("/{id}/ChatBot/List", s.handleListChatChannels)
	})

	r.Route("/Job", func(jr chi.Router) {
		jr.Get("/List", s.handleListJobs)
		jr.Get("/{id}", s.handleGetJob)
		jr.Delete("/{id}", s.handleCancelJob)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":    Version,
		"api":        "Tgstation.Server.Api/" + Version,
		"server_utc": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeServiceError maps a *apierrors.ServiceError (or any error) to
// the response, per spec §7's "HTTP layer is the single place that
// converts internal errors to status codes".
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	se := apierrors.GetServiceError(err)
	if se == nil {
		se = apierrors.Internal("unexpected error", err)
	}
	httputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

func callerIdentity(r *http.Request) (string, domain.Right) {
	userID := httputil.GetUserID(r)
	if userID == "" {
		userID = "anonymous"
	}
	return userID, ^domain.Right(0)
}
