package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/proactive"
)

// handleListNudges lists nudges, newest first. ?status= and ?limit= filter.
func (s *Server) handleListNudges(w http.ResponseWriter, r *http.Request) {
	if s.nudges == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"nudges": []proactive.Nudge{}, "count": 0})
		return
	}

	opts := proactive.ListOptions{Status: proactive.NudgeStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, core.E(core.KindInvalid, "api.nudges", fmt.Errorf("%w: limit %q", core.ErrInvalidInput, v)))
			return
		}
		opts.Limit = n
	}

	nudges, err := s.nudges.List(r.Context(), opts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if nudges == nil {
		nudges = []proactive.Nudge{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"nudges": nudges,
		"count":  len(nudges),
	})
}

func (s *Server) handleDismissNudge(w http.ResponseWriter, r *http.Request) {
	if s.nudges == nil {
		s.respondError(w, core.ErrRecordNotFound)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.nudges.Dismiss(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(proactive.NudgeStatusDismissed)})
}
