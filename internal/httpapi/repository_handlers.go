package httpapi

import (
	"net/http"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
	"github.com/AnturK/tgstation-server/infrastructure/httputil"
)

func (s *Server) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeForRequest(w, r)
	if !ok {
		return
	}
	snapshot, found, err := rt.RepositorySnapshot(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !found {
		writeServiceError(w, r, apierrors.NotFound("repository", "current"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snapshot)
}
