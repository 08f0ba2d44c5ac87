package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
	"github.com/AnturK/tgstation-server/infrastructure/httputil"
	"github.com/AnturK/tgstation-server/internal/domain"
)

type launchDreamDaemonRequest struct {
	AllowWebClient        bool `json:"allow_web_client"`
	SecurityLevel         int  `json:"security_level"`
	PrimaryPort           int  `json:"primary_port"`
	SecondaryPort         int  `json:"secondary_port"`
	StartupTimeoutSeconds int  `json:"startup_timeout_seconds"`
	HeartbeatSeconds      int  `json:"heartbeat_seconds"`
}

func (s *Server) runtimeForRequest(w http.ResponseWriter, r *http.Request) (InstanceRuntime, bool) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return nil, false
	}
	rt, found := s.runtimes.Get(id)
	if !found {
		writeServiceError(w, r, apierrors.NotFound("instance runtime", chi.URLParam(r, "id")))
		return nil, false
	}
	return rt, true
}

func (s *Server) handleGetDreamDaemon(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeForRequest(w, r)
	if !ok {
		return
	}
	status, err := rt.DreamDaemonStatus(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleLaunchDreamDaemon(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeForRequest(w, r)
	if !ok {
		return
	}
	var req launchDreamDaemonRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.PrimaryPort == req.SecondaryPort {
		writeServiceError(w, r, apierrors.DreamDaemonDuplicatePorts())
		return
	}

	params := domain.LaunchParameters{
		AllowWebClient:        req.AllowWebClient,
		SecurityLevel:         domain.SecurityLevel(req.SecurityLevel),
		PrimaryPort:           req.PrimaryPort,
		SecondaryPort:         req.SecondaryPort,
		StartupTimeoutSeconds: req.StartupTimeoutSeconds,
		HeartbeatSeconds:      req.HeartbeatSeconds,
	}
	if err := params.Validate(); err != nil {
		writeServiceError(w, r, apierrors.Validation(err.Error()))
		return
	}

	if err := rt.Launch(r.Context(), params); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "launching"})
}

func (s *Server) handleRestartDreamDaemon(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeForRequest(w, r)
	if !ok {
		return
	}
	if err := rt.GracefulRestart(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
}

func (s *Server) handleStopDreamDaemon(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeForRequest(w, r)
	if !ok {
		return
	}
	if err := rt.Terminate(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.RespondNoContent(w)
}
