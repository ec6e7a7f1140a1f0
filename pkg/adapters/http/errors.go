package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/aretw0/easel/pkg/agent"
	"github.com/aretw0/easel/pkg/domain"
)

type errorBody struct {
	Error    string                   `json:"error"`
	Code     string                   `json:"code"`
	Details  []*domain.ValidationError `json:"details,omitempty"`
	HolderID string                   `json:"holderId,omitempty"`
}

// statusOf maps an error to its HTTP status and a stable code.
func statusOf(err error) (int, string) {
	var (
		verrs     domain.ValidationErrors
		verr      *domain.ValidationError
		refErr    *domain.ReferentialError
		txErr     *domain.TransactionError
		sandboxEr *domain.SandboxError
	)
	switch {
	case errors.As(err, &verrs), errors.As(err, &verr):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrCanvasNotFound),
		errors.Is(err, domain.ErrPatchNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrTemplateNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrCanvasLocked), errors.Is(err, agent.ErrTurnInProgress):
		return http.StatusConflict, "locked"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.As(err, &refErr):
		return http.StatusUnprocessableEntity, "referential"
	case errors.As(err, &sandboxEr):
		return http.StatusUnprocessableEntity, "sandbox"
	case errors.As(err, &txErr):
		return http.StatusInternalServerError, "transaction"
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrCanceled):
		return 499, "canceled"
	}
	return http.StatusInternalServerError, "internal"
}

// writeError answers with the status of err. Transaction failures are
// reported as "canvas not updated" without persistence details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	body := errorBody{Error: err.Error(), Code: code}

	var verrs domain.ValidationErrors
	var verr *domain.ValidationError
	var conflict *domain.LockConflictError
	switch {
	case errors.As(err, &verrs):
		body.Details = verrs
	case errors.As(err, &verr):
		body.Details = []*domain.ValidationError{verr}
	case errors.As(err, &conflict):
		body.HolderID = conflict.HolderID
	case code == "transaction":
		body.Error = "canvas not updated"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debug("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	s.writeJSON(w, status, body)
}
