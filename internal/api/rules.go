package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/lifeops/internal/core"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	defs := s.rules.Rules()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rules":      defs,
		"count":      len(defs),
		"eventTypes": s.rules.EventTypes(),
	})
}

// dryRunRequest carries sample contexts to evaluate a rule against
type dryRunRequest struct {
	Samples []map[string]interface{} `json:"samples"`
}

// dryRunResponse pairs each sample with its result
type dryRunResponse struct {
	RuleID  string `json:"ruleId"`
	Results []bool `json:"results"`
	Matched int    `json:"matched"`
	Error   string `json:"error,omitempty"`
}

// handleDryRun evaluates a registered rule without firing actions.
// Per-sample evaluation errors are reported alongside the results.
func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	def, err := s.rules.Rule(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	var req dryRunRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if len(req.Samples) == 0 {
		s.respondError(w, core.E(core.KindInvalid, "api.dryRun", fmt.Errorf("%w: samples", core.ErrMissingRequired)))
		return
	}

	results, err := s.rules.DryRun(def, req.Samples)
	if results == nil {
		s.respondError(w, core.E(core.KindInvalid, "api.dryRun", err))
		return
	}

	resp := dryRunResponse{RuleID: def.ID, Results: results}
	for _, ok := range results {
		if ok {
			resp.Matched++
		}
	}
	if err != nil {
		resp.Error = err.Error()
	}
	s.respondJSON(w, http.StatusOK, resp)
}
