package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrValidation     = errors.New("validation failed")
	ErrInternalServer = errors.New("internal server error")

	// Session state errors
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrSessionExpired         = errors.New("session has expired")
	ErrSessionInactive        = errors.New("session is no longer active")
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrSecurityViolation      = errors.New("session terminated for security reasons")

	// Principal state errors
	ErrPrincipalDisabled  = errors.New("principal is disabled")
	ErrPrincipalSuspended = errors.New("principal is suspended")

	// Device state errors
	ErrDeviceBlocked     = errors.New("device fingerprint is blocked")
	ErrTrustNotVerified  = errors.New("device trust has not been verified")
	ErrTrustRevoked      = errors.New("device trust has been revoked")
	ErrInvalidVerifyCode = errors.New("invalid verification code")
)
