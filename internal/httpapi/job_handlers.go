package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AnturK/tgstation-server/infrastructure/httputil"
	"github.com/AnturK/tgstation-server/infrastructure/middleware"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var instanceFilter *int64
	if id, ok := middleware.InstanceID(r.Context()); ok {
		instanceFilter = &id
	}
	jobs, err := s.jobs.List(r.Context(), instanceFilter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, j)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	callerID, rights := callerIdentity(r)
	if err := s.jobs.Cancel(r.Context(), id, callerID, rights); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.RespondNoContent(w)
}
