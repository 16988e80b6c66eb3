package api

import (
	"fmt"
	"net/http"

	"github.com/quantumlife/lifeops/internal/commands"
	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/impact"
)

// handleSubmitCommand accepts a command. The idempotency key may come from
// the body or the Idempotency-Key header; the body wins. Without either the
// service assigns one.
func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var cmd core.Command
	if err := decode(w, r, &cmd); err != nil {
		s.respondError(w, err)
		return
	}
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	res, err := s.commands.Submit(r.Context(), cmd)
	if err != nil {
		s.respondError(w, err)
		return
	}

	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}
	s.respondJSON(w, status, res)
}

// previewRequest is either an impact input or a whole command
type previewRequest struct {
	impact.Input
	Command *core.Command `json:"command,omitempty"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	var (
		preview *commands.Preview
		err     error
	)
	switch {
	case req.Command != nil:
		preview, err = s.commands.PreviewCommand(*req.Command)
	case req.Intent != "":
		preview, err = s.commands.Preview(req.Input)
	default:
		err = core.E(core.KindInvalid, "api.preview", fmt.Errorf("%w: intent or command", core.ErrMissingRequired))
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, preview)
}
