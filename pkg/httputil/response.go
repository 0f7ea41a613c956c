package httputil

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
)

// ErrorEnvelope is the wire shape of every error response.
type ErrorEnvelope struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Stack   string            `json:"stack,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteAppError writes the standard error envelope. Stack traces are
// attached only for server errors and only when includeStack is set, which
// production configurations never do.
func WriteAppError(w http.ResponseWriter, appErr *AppError, includeStack bool) {
	envelope := ErrorEnvelope{
		Success: false,
		Error:   appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	}
	if includeStack && appErr.Status >= http.StatusInternalServerError {
		envelope.Stack = string(debug.Stack())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status)
	json.NewEncoder(w).Encode(envelope)
}

// WriteError classifies err and writes its envelope without a stack trace.
func WriteError(w http.ResponseWriter, err error) {
	WriteAppError(w, Classify(err), false)
}
