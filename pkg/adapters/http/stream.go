package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aretw0/easel/pkg/agent"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/go-chi/chi/v5"
)

type turnRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

type programRequest struct {
	Program string `json:"program"`
}

// lockFrame is the SSE payload for lock changes.
type lockFrame struct {
	Type     string `json:"type"`
	IsLocked bool   `json:"isLocked"`
	HolderID string `json:"holderId,omitempty"`
}

// agentTurn streams one agent turn as newline-delimited JSON frames.
func (s *Server) agentTurn(w http.ResponseWriter, r *http.Request) {
	var body turnRequest
	if !s.decode(w, r, &body) {
		return
	}
	canvasID := chi.URLParam(r, "canvasID")
	sessionID := chi.URLParam(r, "sessionID")

	// Refuse a busy canvas before the stream starts so callers get a 409.
	if holder, held := s.locks.Holder(canvasID); held && holder != sessionID {
		s.writeError(w, r, &domain.LockConflictError{CanvasID: canvasID, HolderID: holder})
		return
	}
	if _, err := s.canvases.Get(r.Context(), canvasID); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	res, err := s.agent.Turn(r.Context(), agent.TurnRequest{
		CanvasID:  canvasID,
		SessionID: sessionID,
		Message:   body.Message,
		Model:     body.Model,
	}, agent.NewJSONEmitter(w))
	if err != nil {
		s.logger.Warn("Agent turn failed", "canvas_id", canvasID, "session_id", sessionID, "err", err)
		return
	}
	if res.Patch != nil {
		s.logger.Info("Agent proposed patch", "canvas_id", canvasID, "session_id", sessionID, "patch_id", res.Patch.ID, "attempts", res.Attempts)
	}
}

func (s *Server) submitProgram(w http.ResponseWriter, r *http.Request) {
	var body programRequest
	if !s.decode(w, r, &body) {
		return
	}
	p, err := s.agent.Submit(r.Context(), chi.URLParam(r, "canvasID"), chi.URLParam(r, "sessionID"), body.Program)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) dryRun(w http.ResponseWriter, r *http.Request) {
	var body programRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.agent.DryRun(r.Context(), chi.URLParam(r, "canvasID"), body.Program)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) cancelTurn(w http.ResponseWriter, r *http.Request) {
	canceled, err := s.agent.Cancel(r.Context(), chi.URLParam(r, "canvasID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"canceled": canceled})
}

func (s *Server) lockStatus(w http.ResponseWriter, r *http.Request) {
	st := s.locks.Status(chi.URLParam(r, "canvasID"))
	s.writeJSON(w, http.StatusOK, map[string]any{"isLocked": st.IsLocked, "holderId": st.HolderID})
}

// lockEvents streams LOCK_STATUS frames, starting with the current state.
func (s *Server) lockEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("Lock events: streaming not supported")
		return
	}
	canvasID := chi.URLParam(r, "canvasID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	updates, cancel := s.locks.Subscribe(r.Context(), canvasID)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.Debug("SSE: subscribed to lock status", "canvas_id", canvasID)

	for st := range updates {
		data, err := json.Marshal(lockFrame{Type: "LOCK_STATUS", IsLocked: st.IsLocked, HolderID: st.HolderID})
		if err != nil {
			s.logger.Error("Lock frame encode failed", "err", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
	s.logger.Debug("SSE: lock status stream closed", "canvas_id", canvasID)
}
