// ABOUTME: Standardized error response types and helpers for HTTP handlers
// ABOUTME: Keeps the query API's error payloads consistent and machine-readable

package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the standardized error payload returned by the query API.
type ErrorResponse struct {
	Code    string `json:"code"`              // Machine-readable error code (e.g., "invalid_request", "not_found")
	Message string `json:"message"`           // Human-readable error message
	Status  int    `json:"status"`            // HTTP status code
	Details string `json:"details,omitempty"` // Optional: additional error details
}

// WriteError writes a standardized error response to the HTTP response writer.
//
// Example:
//
//	WriteError(w, http.StatusBadRequest, ErrInvalidRequest, "from must be RFC 3339")
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeErrorResponse(w, ErrorResponse{
		Code:    code,
		Message: message,
		Status:  status,
	})
}

// WriteErrorWithDetails writes a standardized error response with additional
// context about what went wrong.
func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message, details string) {
	writeErrorResponse(w, ErrorResponse{
		Code:    code,
		Message: message,
		Status:  status,
		Details: details,
	})
}

func writeErrorResponse(w http.ResponseWriter, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	json.NewEncoder(w).Encode(resp)
}

// Standard error codes used by the query API
const (
	// Client errors (4xx)
	ErrInvalidRequest = "invalid_request"
	ErrNotFound       = "not_found"
	ErrForbidden      = "forbidden"

	// Server errors (5xx)
	ErrInternal      = "internal_error"
	ErrDatabaseError = "database_error"
)
