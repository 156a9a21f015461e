package web

// errors.go renders failures as JSON. The technical error is logged with
// the request id; the client receives the mapped message, action and code
// from bulkforce.MapError plus the error text, which carries the remote
// service's exception detail.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/bulkforce/internal/bulkforce"
	"github.com/JonMunkholm/bulkforce/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

func newErrorResponse(err error) *ErrorResponse {
	msg := bulkforce.MapError(err)
	return &ErrorResponse{
		Error:   err.Error(),
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
}

// statusFor picks the HTTP status for a mapped error code. Input problems
// are the caller's; failures reported by the remote service are a bad
// gateway.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}

	switch bulkforce.MapError(err).Code {
	case "FILE001", "FILE002", "MAP001":
		return http.StatusBadRequest
	case "AUTH001", "AUTH002", "API001", "API002", "BATCH001", "BATCH002", "BATCH004", "REC001":
		return http.StatusBadGateway
	case "API003":
		return http.StatusTooManyRequests
	case "BATCH003":
		return http.StatusServiceUnavailable
	case "RUN002":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes it as an ErrorResponse. A zero status
// is derived from the error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	resp := newErrorResponse(err)

	logging.FromContext(r.Context(), s.logger).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", resp.Code,
	)

	writeJSONStatus(w, status, resp)
}

// writeError writes a plain client error that did not come from a
// load, query or delete.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSONStatus(w, status, ErrorResponse{
		Error:   message,
		Message: message,
		Code:    http.StatusText(status),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
