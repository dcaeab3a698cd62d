package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haasonsaas/chatline/internal/conversations"
	"github.com/haasonsaas/chatline/internal/llm"
	"github.com/haasonsaas/chatline/internal/objectstore"
	"github.com/haasonsaas/chatline/internal/tools"
	"github.com/haasonsaas/chatline/internal/turn"
	"github.com/haasonsaas/chatline/pkg/models"
)

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	var (
		validation *objectstore.ValidationError
		tooLarge   *http.MaxBytesError
		upstream   *llm.ProviderError
	)
	switch {
	case errors.Is(err, objectstore.ErrTooLarge), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &validation), errors.Is(err, turn.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, objectstore.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, objectstore.ErrNotFound),
		errors.Is(err, conversations.ErrNotFound),
		errors.Is(err, tools.ErrApprovalNotFound),
		errors.Is(err, turn.ErrToolCallNotFound):
		return http.StatusNotFound
	case errors.Is(err, turn.ErrTurnInProgress),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, tools.ErrAlreadyResolved),
		errors.Is(err, tools.ErrApprovalMismatch):
		return http.StatusConflict
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The client may already be gone; nothing useful to do with the error.
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return &objectstore.ValidationError{Field: "body", Message: "malformed JSON body", Cause: err}
	}
	return nil
}

const maxJSONBody = 1 << 20
