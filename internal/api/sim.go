package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/sim"
)

// simRunRequest runs one projection, optionally against a baseline
type simRunRequest struct {
	Params   sim.Params  `json:"params"`
	Baseline *sim.Params `json:"baseline,omitempty"`
}

type simRunResponse struct {
	Result   *sim.Result      `json:"result"`
	Baseline *sim.Result      `json:"baseline,omitempty"`
	Deltas   []sim.MonthDelta `json:"deltas,omitempty"`
}

type monteCarloRequest struct {
	Params  sim.Params    `json:"params"`
	Options sim.MCOptions `json:"options"`
}

type applyRequest struct {
	Params       sim.Params       `json:"params"`
	Perturbation sim.Perturbation `json:"perturbation"`
}

// simError tags simulation input errors as invalid
func simError(op string, err error) error {
	switch {
	case errors.Is(err, sim.ErrInvalidParams), errors.Is(err, sim.ErrInvalidTrials),
		errors.Is(err, sim.ErrLengthMismatch), errors.Is(err, sim.ErrUnknownParameter):
		return core.E(core.KindInvalid, op, err)
	}
	return core.E(core.KindInternal, op, err)
}

func (s *Server) recordSim(ctx context.Context, mode string, start time.Time) {
	s.metrics.SimRun(ctx, mode, time.Since(start))
}

func (s *Server) handleSimRun(w http.ResponseWriter, r *http.Request) {
	var req simRunRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	defer s.recordSim(r.Context(), "deterministic", time.Now())

	res, err := sim.Simulate(req.Params)
	if err != nil {
		s.respondError(w, simError("api.simRun", err))
		return
	}
	resp := simRunResponse{Result: res}

	if req.Baseline != nil {
		base, err := sim.Simulate(*req.Baseline)
		if err != nil {
			s.respondError(w, simError("api.simRun", err))
			return
		}
		deltas, err := sim.Compare(base, res)
		if err != nil {
			s.respondError(w, simError("api.simRun", err))
			return
		}
		resp.Baseline = base
		resp.Deltas = deltas
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMonteCarlo(w http.ResponseWriter, r *http.Request) {
	var req monteCarloRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	defer s.recordSim(r.Context(), "montecarlo", time.Now())

	res, err := sim.MonteCarlo(r.Context(), req.Params, req.Options)
	if err != nil {
		s.respondError(w, simError("api.monteCarlo", err))
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSensitivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Params sim.Params `json:"params"`
	}
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	defer s.recordSim(r.Context(), "sensitivity", time.Now())

	rows, err := sim.Sensitivity(req.Params)
	if err != nil {
		s.respondError(w, simError("api.sensitivity", err))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"rows": rows})
}

// handleApply folds one sensitivity perturbation into the parameters and
// returns them with the resulting projection.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := req.Perturbation.Validate(); err != nil {
		s.respondError(w, simError("api.apply", err))
		return
	}

	params := sim.Apply(req.Params, req.Perturbation)
	res, err := sim.Simulate(params)
	if err != nil {
		s.respondError(w, simError("api.apply", err))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"params": params,
		"result": res,
	})
}
