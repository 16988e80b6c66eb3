package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.projection.Overview())
}

// handleQueue lists the action queue, optionally filtered by ?category=
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	items := s.projection.Queue(r.URL.Query().Get("category"))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	ctx, err := s.projection.Context(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ctx)
}
