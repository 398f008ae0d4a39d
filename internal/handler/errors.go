package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jnst/product-lifecycle-service/internal/model"
)

// Error codes returned in the "error" field.
const (
	codeValidation      = "validation_failed"
	codeNotFound        = "not_found"
	codeVersionConflict = "version_conflict"
	codeAlreadyExists   = "already_exists"
	codeTerminalState   = "terminal_state"
	codeKeyReused       = "idempotency_key_reused"
	codeDuplicate       = "duplicate_request"
	codeUnavailable     = "storage_unavailable"
	codeInternal        = "internal_error"
)

type errorResponse struct {
	Error      string            `json:"error"`
	Message    string            `json:"message"`
	Violations []model.Violation `json:"violations,omitempty"`
}

// statusOf maps a service error to its HTTP status and error code.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, codeValidation
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, model.ErrVersionConflict):
		return http.StatusConflict, codeVersionConflict
	case errors.Is(err, model.ErrAlreadyExists):
		return http.StatusConflict, codeAlreadyExists
	case errors.Is(err, model.ErrTerminalState):
		return http.StatusGone, codeTerminalState
	case errors.Is(err, model.ErrDuplicateRequest):
		return http.StatusConflict, codeDuplicate
	case errors.Is(err, model.ErrIdempotencyKeyReused):
		return http.StatusUnprocessableEntity, codeKeyReused
	case errors.Is(err, model.ErrStorage):
		return http.StatusServiceUnavailable, codeUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)

	resp := errorResponse{Error: code, Message: err.Error()}

	var verr *model.ValidationError
	if errors.As(err, &verr) {
		resp.Violations = verr.Violations
	}

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		// Internal details stay in the log.
		if status == http.StatusInternalServerError {
			resp.Message = http.StatusText(status)
		}
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set(contentTypeJSON, applicationJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error(failedToEncodeResponse, slog.String("error", err.Error()))
	}
}

func badRequest(field, message string) error {
	verr := &model.ValidationError{}
	verr.Add(field, message)

	return verr
}
