package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
	"github.com/AnturK/tgstation-server/infrastructure/httputil"
)

// instanceListCacheKey and instanceListTTL bound how stale GET
// Instance/List can be before the next request re-hits the store.
const (
	instanceListCacheKey = "instance-list"
	instanceListTTL      = 2 * time.Second
)

type createInstanceRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type updateInstanceRequest struct {
	ID        int64   `json:"id"`
	NewName   *string `json:"new_name,omitempty"`
	NewPath   *string `json:"new_path,omitempty"`
	Online    *bool   `json:"online,omitempty"`
	AutoStart *bool   `json:"auto_start,omitempty"`
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	callerID, _ := callerIdentity(r)

	inst, attached, err := s.instances.CreateOrAttach(r.Context(), req.Name, req.Path, callerID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if attached {
		status = http.StatusOK
	}
	s.listCache.Invalidate(instanceListCacheKey)
	httputil.WriteJSON(w, status, inst)
}

// handleListInstances serves GET Instance/List from a short-TTL cache:
// attach/detach/update calls invalidate it so a stale list never
// outlives the next mutation by more than instanceListTTL.
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.listCache.Get(instanceListCacheKey); ok {
		httputil.WriteJSON(w, http.StatusOK, cached)
		return
	}
	instances, err := s.instances.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.listCache.Set(instanceListCacheKey, instances, instanceListTTL)
	httputil.WriteJSON(w, http.StatusOK, instances)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}
	inst, found, err := s.instances.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !found {
		writeServiceError(w, r, apierrors.NotFound("instance", chi.URLParam(r, "id")))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inst)
}

func (s *Server) handleUpdateInstance(w http.ResponseWriter, r *http.Request) {
	var req updateInstanceRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	callerID, rights := callerIdentity(r)

	inst, err := s.updater.Update(r.Context(), UpdateRequest{
		InstanceID:   req.ID,
		CallerID:     callerID,
		CallerRights: rights,
		NewName:      req.NewName,
		NewPath:      req.NewPath,
		Online:       req.Online,
		AutoStart:    req.AutoStart,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.listCache.Invalidate(instanceListCacheKey)
	httputil.WriteJSON(w, http.StatusOK, inst)
}

func (s *Server) handleDetachInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r)
	if !ok {
		return
	}
	if err := s.instances.Detach(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.listCache.Invalidate(instanceListCacheKey)
	httputil.RespondNoContent(w)
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeServiceError(w, r, apierrors.Validation("malformed instance id"))
		return 0, false
	}
	return id, true
}
