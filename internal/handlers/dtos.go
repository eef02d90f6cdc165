package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid/sessiond/internal/models"
	"github.com/harborgrid/sessiond/internal/services"
)

// SessionResponse represents a session in HTTP responses. Token and
// credential hashes never leave the server.
type SessionResponse struct {
	ID           string              `json:"id"`
	PrincipalID  string              `json:"principal_id"`
	SessionType  string              `json:"session_type"`
	TenantID     *string             `json:"tenant_id,omitempty"`
	Current      bool                `json:"current"`
	IPAddress    string              `json:"ip_address"`
	UserAgent    string              `json:"user_agent"`
	Onboarding   models.Onboarding   `json:"onboarding"`
	Subscription models.Subscription `json:"subscription"`
	Data         models.SessionData  `json:"data"`
	CreatedAt    string              `json:"created_at"`
	LastActivity string              `json:"last_activity"`
	ExpiresAt    string              `json:"expires_at"`
}

// CreateSessionResponse carries the one-time plaintext token alongside the
// session. The token also travels in the httpOnly cookie.
type CreateSessionResponse struct {
	Token   string           `json:"token"`
	Session *SessionResponse `json:"session"`
}

// DeviceResponse represents a known device with its trust state
type DeviceResponse struct {
	ID         string         `json:"id"`
	TrustScore int            `json:"trust_score"`
	RiskScore  int            `json:"risk_score"`
	LoginCount int            `json:"login_count"`
	IsTrusted  bool           `json:"is_trusted"`
	IsBlocked  bool           `json:"is_blocked"`
	UserAgent  string         `json:"user_agent"`
	FirstSeen  string         `json:"first_seen"`
	LastSeen   string         `json:"last_seen"`
	Trust      *TrustResponse `json:"trust,omitempty"`
}

// TrustResponse represents a device trust grant
type TrustResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	IsVerified bool    `json:"is_verified"`
	VerifiedAt *string `json:"verified_at,omitempty"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// EventResponse represents one audit trail entry
type EventResponse struct {
	ID        string              `json:"id"`
	EventType string              `json:"event_type"`
	Payload   models.EventPayload `json:"payload"`
	IPAddress *string             `json:"ip_address,omitempty"`
	CreatedAt string              `json:"created_at"`
}

func sessionToResponse(session *models.Session) *SessionResponse {
	resp := &SessionResponse{
		ID:           session.ID.String(),
		PrincipalID:  session.PrincipalID.String(),
		SessionType:  session.SessionType,
		IPAddress:    session.IPAddress,
		UserAgent:    session.UserAgent,
		Onboarding:   session.Onboarding,
		Subscription: session.Subscription,
		Data:         session.Data,
		CreatedAt:    session.CreatedAt.UTC().Format(time.RFC3339),
		LastActivity: session.LastActivity.UTC().Format(time.RFC3339),
		ExpiresAt:    session.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if session.TenantID != nil {
		id := session.TenantID.String()
		resp.TenantID = &id
	}
	return resp
}

// sessionsToResponse marks the caller's own session so clients can tell
// it apart when rendering the active-sessions list.
func sessionsToResponse(sessions []*models.Session, currentID uuid.UUID) []*SessionResponse {
	out := make([]*SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp := sessionToResponse(s)
		resp.Current = s.ID == currentID
		out = append(out, resp)
	}
	return out
}

func deviceToResponse(view *services.DeviceView) *DeviceResponse {
	fp := view.Fingerprint
	resp := &DeviceResponse{
		ID:         fp.ID.String(),
		TrustScore: fp.TrustScore,
		RiskScore:  fp.RiskScore,
		LoginCount: fp.LoginCount,
		IsTrusted:  fp.IsTrusted,
		IsBlocked:  fp.IsBlocked,
		UserAgent:  fp.UserAgent,
		FirstSeen:  fp.FirstSeen.UTC().Format(time.RFC3339),
		LastSeen:   fp.LastSeen.UTC().Format(time.RFC3339),
	}
	if view.Trust != nil {
		resp.Trust = trustToResponse(view.Trust)
	}
	return resp
}

func trustToResponse(trust *models.DeviceTrust) *TrustResponse {
	resp := &TrustResponse{
		ID:         trust.ID.String(),
		Name:       trust.Name,
		IsVerified: trust.IsVerified,
		CreatedAt:  trust.CreatedAt.UTC().Format(time.RFC3339),
	}
	if trust.VerifiedAt != nil {
		v := trust.VerifiedAt.UTC().Format(time.RFC3339)
		resp.VerifiedAt = &v
	}
	if trust.ExpiresAt != nil {
		v := trust.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &v
	}
	return resp
}

func eventsToResponse(events []*models.SessionEvent) []*EventResponse {
	out := make([]*EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, &EventResponse{
			ID:        e.ID.String(),
			EventType: e.EventType,
			Payload:   e.Payload,
			IPAddress: e.IPAddress,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}
