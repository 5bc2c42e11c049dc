package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opencode-ai/toolguard/internal/audit"
	"github.com/opencode-ai/toolguard/internal/permission"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeNoDecision     = "NO_DECISION"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeCanceled       = "CANCELED"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// apiError is an error that already knows its HTTP rendering.
type apiError struct {
	status  int
	code    string
	message string
	details map[string]any
}

func (e *apiError) Error() string { return e.message }

func badRequest(message string) *apiError {
	return &apiError{status: http.StatusBadRequest, code: ErrCodeInvalidRequest, message: message}
}

func notFound(message string) *apiError {
	return &apiError{status: http.StatusNotFound, code: ErrCodeNotFound, message: message}
}

func (e *apiError) with(key string, value any) *apiError {
	if e.details == nil {
		e.details = map[string]any{}
	}
	e.details[key] = value
	return e
}

// classify maps errors of the permission engine and its stores to an
// apiError. Unknown errors become internal errors.
func classify(err error) *apiError {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, permission.ErrRequestNotFound), errors.Is(err, audit.ErrNotFound):
		return notFound(err.Error())
	case errors.Is(err, permission.ErrNoDecision):
		return &apiError{status: http.StatusInternalServerError, code: ErrCodeNoDecision, message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &apiError{status: http.StatusGatewayTimeout, code: ErrCodeTimeout, message: err.Error()}
	case errors.Is(err, context.Canceled):
		return &apiError{status: http.StatusServiceUnavailable, code: ErrCodeCanceled, message: err.Error()}
	}
	return &apiError{status: http.StatusInternalServerError, code: ErrCodeInternalError, message: err.Error()}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeFailure renders err as an ErrorResponse.
func writeFailure(w http.ResponseWriter, err error) {
	ae := classify(err)
	writeJSON(w, ae.status, ErrorResponse{Error: ErrorDetail{
		Code:    ae.code,
		Message: ae.message,
		Details: ae.details,
	}})
}

// writeSuccess writes a bare `true`.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, true)
}
