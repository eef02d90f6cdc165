package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harborgrid/sessiond/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	}

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteModelError maps a sentinel error from the models package to the API
// error taxonomy. Unknown errors are reported as internal without detail.
func WriteModelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrAuthenticationRequired):
		WriteError(w, http.StatusUnauthorized, "authentication_required", "Please sign in again")
	case errors.Is(err, models.ErrSessionExpired):
		WriteError(w, http.StatusUnauthorized, "session_expired", "Please sign in again")
	case errors.Is(err, models.ErrSessionInactive):
		WriteError(w, http.StatusUnauthorized, "session_inactive", "Please sign in again")
	case errors.Is(err, models.ErrSecurityViolation):
		WriteError(w, http.StatusForbidden, "security_violation", "Your session was ended for security reasons")
	case errors.Is(err, models.ErrPrincipalDisabled), errors.Is(err, models.ErrPrincipalSuspended):
		WriteError(w, http.StatusForbidden, "principal_inactive", "Account is not active")
	case errors.Is(err, models.ErrDeviceBlocked):
		WriteError(w, http.StatusForbidden, "device_blocked", "This device has been blocked")
	case errors.Is(err, models.ErrRateLimited):
		WriteTooManyRequests(w, "Too many requests")
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrBadRequest):
		WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrInvalidVerifyCode):
		WriteBadRequest(w, "Invalid verification code")
	case errors.Is(err, models.ErrTrustRevoked):
		WriteError(w, http.StatusConflict, "trust_revoked", "This trust grant was revoked and cannot be reused")
	case errors.Is(err, models.ErrTrustNotVerified):
		WriteError(w, http.StatusForbidden, "trust_not_verified", "This device trust has not been verified")
	case errors.Is(err, models.ErrNotFound):
		WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrConflict):
		WriteConflict(w, "Resource already exists")
	default:
		WriteInternalError(w, "An internal error occurred")
	}
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
