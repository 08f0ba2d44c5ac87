package httpapi

import (
	"net/http"

	"github.com/AnturK/tgstation-server/infrastructure/httputil"
)

func (s *Server) handleListChatChannels(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtimeForRequest(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rt.ChatChannels(r.Context()))
}
