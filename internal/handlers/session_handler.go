package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/harborgrid/sessiond/internal/fingerprint"
	"github.com/harborgrid/sessiond/internal/middleware"
	"github.com/harborgrid/sessiond/internal/models"
	"github.com/harborgrid/sessiond/internal/services"
	pkghttp "github.com/harborgrid/sessiond/pkg/http"
)

// SessionServiceInterface defines the interface for session business logic
type SessionServiceInterface interface {
	CreateSession(ctx context.Context, in services.CreateSessionInput) (*services.CreatedSession, error)
	UpdateSession(ctx context.Context, session *models.Session, patch *models.SessionPatch) (*models.Session, error)
	ExtendSession(ctx context.Context, session *models.Session) (*models.Session, error)
	InvalidateSession(ctx context.Context, session *models.Session, reason string) error
	InvalidateAllSessions(ctx context.Context, principalID uuid.UUID, reason string) (int, error)
	ListSessions(ctx context.Context, principalID uuid.UUID) ([]*models.Session, error)
	Heartbeat(ctx context.Context, session *models.Session) (bool, error)
	RequestSessionVerification(ctx context.Context, session *models.Session) error
	VerifySession(ctx context.Context, session *models.Session, code string) error
}

// AuditTrailProvider defines the interface for reading the audit trail
type AuditTrailProvider interface {
	GetSessionTrail(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.SessionEvent, error)
}

// SessionHandler handles session lifecycle HTTP requests
type SessionHandler struct {
	service   SessionServiceInterface
	audit     AuditTrailProvider
	ipConfig  *pkghttp.IPConfig
	cookieCfg CookieConfig
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionServiceInterface, audit AuditTrailProvider, ipConfig *pkghttp.IPConfig, cookieCfg CookieConfig) *SessionHandler {
	return &SessionHandler{
		service:   service,
		audit:     audit,
		ipConfig:  ipConfig,
		cookieCfg: cookieCfg,
	}
}

// Request DTOs

// CreateSessionRequest represents the request body for session creation
type CreateSessionRequest struct {
	PrincipalID string                 `json:"principal_id" validate:"required,uuid"`
	Credential  string                 `json:"credential" validate:"required"`
	SessionType string                 `json:"session_type" validate:"omitempty,oneof=web mobile api"`
	Fingerprint map[string]string      `json:"fingerprint"`
	Data        map[string]interface{} `json:"data"`
}

// UpdateSessionRequest represents the request body for a partial update
type UpdateSessionRequest struct {
	Onboarding   *models.Onboarding     `json:"onboarding"`
	Subscription *models.Subscription   `json:"subscription"`
	Data         map[string]interface{} `json:"data"`
}

// VerifySessionRequest represents the request body for session verification
type VerifySessionRequest struct {
	Code string `json:"code" validate:"required,min=6,max=8"`
}

// HeartbeatResponse reports whether the heartbeat advanced stored state
type HeartbeatResponse struct {
	Recorded bool `json:"recorded"`
}

// Create handles session establishment for a verified principal
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	principalID, err := uuid.Parse(req.PrincipalID)
	if err != nil {
		pkghttp.WriteBadRequest(w, "principal_id must be a valid UUID")
		return
	}

	created, err := h.service.CreateSession(r.Context(), services.CreateSessionInput{
		PrincipalID: principalID,
		Credential:  req.Credential,
		SessionType: req.SessionType,
		IPAddress:   pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:   pkghttp.UserAgent(r),
		Fingerprint: fingerprint.Components(req.Fingerprint),
		Data:        models.SessionData(req.Data),
	})
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	SetSessionCookie(w, created.Token, created.Session.ExpiresAt, h.cookieCfg)

	writeJSON(w, http.StatusCreated, &CreateSessionResponse{
		Token:   created.Token,
		Session: sessionToResponse(created.Session),
	})
}

// GetCurrent returns the session resolved by the pipeline
func (h *SessionHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
		return
	}

	resp := sessionToResponse(session)
	resp.Current = true
	writeJSON(w, http.StatusOK, resp)
}

// UpdateCurrent merges the submitted data bag into the current session
func (h *SessionHandler) UpdateCurrent(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
		return
	}

	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if req.Onboarding == nil && req.Subscription == nil && len(req.Data) == 0 {
		pkghttp.WriteBadRequest(w, "nothing to update")
		return
	}

	updated, err := h.service.UpdateSession(r.Context(), session, &models.SessionPatch{
		Onboarding:   req.Onboarding,
		Subscription: req.Subscription,
		Data:         models.SessionData(req.Data),
	})
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionToResponse(updated))
}

// DeleteCurrent invalidates the current session
func (h *SessionHandler) DeleteCurrent(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
		return
	}

	if err := h.service.InvalidateSession(r.Context(), session, "logout"); err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	ClearSessionCookie(w, h.cookieCfg)
	w.WriteHeader(http.StatusNoContent)
}

// Refresh extends the current session's expiry
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
		return
	}

	extended, err := h.service.ExtendSession(r.Context(), session)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	// Keep the cookie lifetime in step with the extended expiry.
	if token := middleware.ExtractSessionToken(r); token != "" {
		SetSessionCookie(w, token, extended.ExpiresAt, h.cookieCfg)
	}

	writeJSON(w, http.StatusOK, sessionToResponse(extended))
}

// List returns all active sessions of the current principal
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), session.PrincipalID)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessionsToResponse(sessions, session.ID),
	})
}

// InvalidateAll terminates every session of the current principal
func (h *SessionHandler) InvalidateAll(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
		return
	}

	count, err := h.service.InvalidateAllSessions(r.Context(), session.PrincipalID, "logout_all")
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	ClearSessionCookie(w, h.cookieCfg)
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": count})
}

// Heartbeat records a liveness signal for the current session
func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
		return
	}

	recorded, err := h.service.Heartbeat(r.Context(), session)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &HeartbeatResponse{Recorded: recorded})
}

// RequestVerification issues and delivers a verification code
func (h *SessionHandler) RequestVerification(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
		return
	}

	if err := h.service.RequestSessionVerification(r.Context(), session); err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Verify completes the session verification ceremony
func (h *SessionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
		return
	}

	var req VerifySessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.VerifySession(r.Context(), session, req.Code); err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// Events returns the current session's audit trail
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteModelError(w, models.ErrAuthenticationRequired)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	events, err := h.audit.GetSessionTrail(r.Context(), session.ID, limit, offset)
	if err != nil {
		pkghttp.WriteModelError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": eventsToResponse(events),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
