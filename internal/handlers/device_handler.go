package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/harborgrid/sessiond/internal/middleware"
	"github.com/harborgrid/sessiond/internal/models"
	"github.com/harborgrid/sessiond/internal/services"
	pkghttp "github.com/harborgrid/sessiond/pkg/http"
)

// DeviceServiceInterface defines the interface for device trust logic
type DeviceServiceInterface interface {
	ListDevices(ctx context.Context, principalID uuid.UUID) ([]*services.DeviceView, error)
	GrantTrust(ctx context.Context, session *models.Session, fingerprintID uuid.UUID, name string, expiresInDays int) (*models.DeviceTrust, error)
	VerifyTrust(ctx context.Context, session *models.Session, trustID uuid.UUID, code string) error
	RevokeTrust(ctx context.Context, session *models.Session, trustID uuid.UUID, reason string) error
}

// DeviceHandler handles device fingerprint and trust HTTP requests
type DeviceHandler struct {
	service DeviceServiceInterface
}

// NewDeviceHandler creates a new DeviceHandler
func NewDeviceHandler(service DeviceServiceInterface) *DeviceHandler {
	return &DeviceHandler{service: service}
}

// GrantTrustRequest represents the request body for starting a trust ceremony
type GrantTrustRequest struct {
	FingerprintID string `json:"fingerprint_id" validate:"required,uuid"`
	Name          string `json:"name" validate:"required,min=1,max=100"`
	ExpiresInDays int    `json:"expires_in_days" validate:"gte=0,lte=365"`
}

// VerifyTrustRequest represents the request body for completing the ceremony
type VerifyTrustRequest struct {
	TrustID string `json:"trust_id" validate:"required,uuid"`
	Code    string `json:"code" validate:"required,len=6"`
}

// RevokeTrustRequest represents the request body for revoking a grant
type RevokeTrustRequest struct {
	TrustID string `json:"trust_id" validate:"required,uuid"`
	Reason  string `json:"reason" validate:"max=200"`
}

// List returns the principal's known devices and trust grants
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
		return
	}

	views, err := h.service.ListDevices(r.Context(), session.PrincipalID)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	devices := make([]*DeviceResponse, 0, len(views))
	for _, v := range views {
		devices = append(devices, deviceToResponse(v))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
	})
}

// GrantTrust starts the trust ceremony for one of the principal's devices
func (h *DeviceHandler) GrantTrust(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
		return
	}

	var req GrantTrustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	fingerprintID, err := uuid.Parse(req.FingerprintID)
	if err != nil {
		pkghttp.WriteBadRequest(w, "fingerprint_id must be a valid UUID")
		return
	}

	trust, err := h.service.GrantTrust(r.Context(), session, fingerprintID, req.Name, req.ExpiresInDays)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, trustToResponse(trust))
}

// VerifyTrust completes the trust ceremony with the delivered code
func (h *DeviceHandler) VerifyTrust(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
		return
	}

	var req VerifyTrustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	trustID, err := uuid.Parse(req.TrustID)
	if err != nil {
		pkghttp.WriteBadRequest(w, "trust_id must be a valid UUID")
		return
	}

	if err := h.service.VerifyTrust(r.Context(), session, trustID, req.Code); err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// RevokeTrust terminally revokes a trust grant
func (h *DeviceHandler) RevokeTrust(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
		return
	}

	var req RevokeTrustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	trustID, err := uuid.Parse(req.TrustID)
	if err != nil {
		pkghttp.WriteBadRequest(w, "trust_id must be a valid UUID")
		return
	}

	if err := h.service.RevokeTrust(r.Context(), session, trustID, req.Reason); err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
