package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid/sessiond/internal/handlers"
	"github.com/harborgrid/sessiond/internal/middleware"
	"github.com/harborgrid/sessiond/internal/models"
	"github.com/harborgrid/sessiond/internal/services"
)

func newSessionHandler(service *handlers.MockSessionService, audit *handlers.MockAuditTrail) *handlers.SessionHandler {
	if audit == nil {
		audit = &handlers.MockAuditTrail{}
	}
	cookieCfg := handlers.CookieConfig{Secure: true, SameSite: "strict"}
	return handlers.NewSessionHandler(service, audit, nil, cookieCfg)
}

func TestSessionHandler_Create_Success(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	service := &handlers.MockSessionService{
		CreateSessionFunc: func(ctx context.Context, in services.CreateSessionInput) (*services.CreatedSession, error) {
			assert.Equal(t, session.PrincipalID, in.PrincipalID)
			assert.Equal(t, "some-upstream-credential", in.Credential)
			assert.Equal(t, models.SessionTypeWeb, in.SessionType)
			return &services.CreatedSession{Session: session, Token: "plain-token"}, nil
		},
	}
	handler := newSessionHandler(service, nil)

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions", map[string]any{
		"principal_id": session.PrincipalID.String(),
		"credential":   "some-upstream-credential",
		"session_type": "web",
		"fingerprint":  map[string]string{"user_agent": "handler-test/1.0"},
	})
	rec := httptest.NewRecorder()
	handler.Create(rec, req)

	var resp handlers.CreateSessionResponse
	handlers.AssertJSONResponse(t, rec, http.StatusCreated, &resp)
	assert.Equal(t, "plain-token", resp.Token)
	assert.Equal(t, session.ID.String(), resp.Session.ID)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.SessionCookieName, cookies[0].Name)
	assert.Equal(t, "plain-token", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
}

func TestSessionHandler_Create_InvalidBody(t *testing.T) {
	handler := newSessionHandler(&handlers.MockSessionService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/sessions", nil)
	rec := httptest.NewRecorder()
	handler.Create(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusBadRequest, "bad_request")
}

func TestSessionHandler_Create_MissingCredential(t *testing.T) {
	handler := newSessionHandler(&handlers.MockSessionService{}, nil)

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions", map[string]any{
		"principal_id": uuid.New().String(),
	})
	rec := httptest.NewRecorder()
	handler.Create(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusBadRequest, "bad_request")
}

func TestSessionHandler_Create_BadSessionType(t *testing.T) {
	handler := newSessionHandler(&handlers.MockSessionService{}, nil)

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions", map[string]any{
		"principal_id": uuid.New().String(),
		"credential":   "cred",
		"session_type": "desktop",
	})
	rec := httptest.NewRecorder()
	handler.Create(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusBadRequest, "bad_request")
}

func TestSessionHandler_Create_DisabledPrincipal(t *testing.T) {
	service := &handlers.MockSessionService{
		CreateSessionFunc: func(ctx context.Context, in services.CreateSessionInput) (*services.CreatedSession, error) {
			return nil, models.ErrPrincipalDisabled
		},
	}
	handler := newSessionHandler(service, nil)

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions", map[string]any{
		"principal_id": uuid.New().String(),
		"credential":   "cred",
	})
	rec := httptest.NewRecorder()
	handler.Create(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusForbidden, "principal_inactive")
}

func TestSessionHandler_Create_BlockedDevice(t *testing.T) {
	service := &handlers.MockSessionService{
		CreateSessionFunc: func(ctx context.Context, in services.CreateSessionInput) (*services.CreatedSession, error) {
			return nil, models.ErrDeviceBlocked
		},
	}
	handler := newSessionHandler(service, nil)

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions", map[string]any{
		"principal_id": uuid.New().String(),
		"credential":   "cred",
	})
	rec := httptest.NewRecorder()
	handler.Create(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusForbidden, "device_blocked")
}

func TestSessionHandler_GetCurrent_Success(t *testing.T) {
	session := handlers.NewHandlerTestSession()
	handler := newSessionHandler(&handlers.MockSessionService{}, nil)

	req := handlers.WithSessionContext(httptest.NewRequest(http.MethodGet, "/sessions/current", nil), session)
	rec := httptest.NewRecorder()
	handler.GetCurrent(rec, req)

	var resp handlers.SessionResponse
	handlers.AssertJSONResponse(t, rec, http.StatusOK, &resp)
	assert.Equal(t, session.ID.String(), resp.ID)
	assert.Equal(t, session.IPAddress, resp.IPAddress)
}

func TestSessionHandler_GetCurrent_NoSession(t *testing.T) {
	handler := newSessionHandler(&handlers.MockSessionService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions/current", nil)
	rec := httptest.NewRecorder()
	handler.GetCurrent(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusUnauthorized, "authentication_required")
}

func TestSessionHandler_UpdateCurrent_MergesData(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	service := &handlers.MockSessionService{
		UpdateSessionFunc: func(ctx context.Context, s *models.Session, patch *models.SessionPatch) (*models.Session, error) {
			require.NotNil(t, patch.Data)
			assert.Equal(t, "dark", patch.Data["theme"])
			updated := *s
			updated.Data = patch.Data
			return &updated, nil
		},
	}
	handler := newSessionHandler(service, nil)

	req := handlers.NewTestRequest(t, http.MethodPatch, "/sessions/current", map[string]any{
		"data": map[string]any{"theme": "dark"},
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.UpdateCurrent(rec, req)

	var resp handlers.SessionResponse
	handlers.AssertJSONResponse(t, rec, http.StatusOK, &resp)
	assert.Equal(t, "dark", resp.Data["theme"])
}

func TestSessionHandler_UpdateCurrent_PatchesOnboarding(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	service := &handlers.MockSessionService{
		UpdateSessionFunc: func(ctx context.Context, s *models.Session, patch *models.SessionPatch) (*models.Session, error) {
			require.NotNil(t, patch.Onboarding)
			assert.Equal(t, 3, patch.Onboarding.OnboardingStep)
			updated := *s
			updated.Onboarding = *patch.Onboarding
			return &updated, nil
		},
	}
	handler := newSessionHandler(service, nil)

	req := handlers.NewTestRequest(t, http.MethodPatch, "/sessions/current", map[string]any{
		"onboarding": map[string]any{"needs_onboarding": true, "onboarding_step": 3},
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.UpdateCurrent(rec, req)

	var resp handlers.SessionResponse
	handlers.AssertJSONResponse(t, rec, http.StatusOK, &resp)
	assert.Equal(t, 3, resp.Onboarding.OnboardingStep)
}

func TestSessionHandler_UpdateCurrent_EmptyPatchRejected(t *testing.T) {
	session := handlers.NewHandlerTestSession()
	handler := newSessionHandler(&handlers.MockSessionService{}, nil)

	req := handlers.NewTestRequest(t, http.MethodPatch, "/sessions/current", map[string]any{})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.UpdateCurrent(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusBadRequest, "bad_request")
}

func TestSessionHandler_DeleteCurrent_ClearsCookie(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	var gotReason string
	service := &handlers.MockSessionService{
		InvalidateSessionFunc: func(ctx context.Context, s *models.Session, reason string) error {
			gotReason = reason
			return nil
		},
	}
	handler := newSessionHandler(service, nil)

	req := handlers.WithSessionContext(httptest.NewRequest(http.MethodDelete, "/sessions/current", nil), session)
	rec := httptest.NewRecorder()
	handler.DeleteCurrent(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "logout", gotReason)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.SessionCookieName, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestSessionHandler_DeleteCurrent_AlreadyInvalid(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	service := &handlers.MockSessionService{
		InvalidateSessionFunc: func(ctx context.Context, s *models.Session, reason string) error {
			return models.ErrSessionInactive
		},
	}
	handler := newSessionHandler(service, nil)

	req := handlers.WithSessionContext(httptest.NewRequest(http.MethodDelete, "/sessions/current", nil), session)
	rec := httptest.NewRecorder()
	handler.DeleteCurrent(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusUnauthorized, "session_inactive")
}

func TestSessionHandler_Refresh_ExtendsAndResetsCookie(t *testing.T) {
	session := handlers.NewHandlerTestSession()
	extendedExpiry := session.ExpiresAt.Add(12 * time.Hour)

	service := &handlers.MockSessionService{
		ExtendSessionFunc: func(ctx context.Context, s *models.Session) (*models.Session, error) {
			extended := *s
			extended.ExpiresAt = extendedExpiry
			return &extended, nil
		},
	}
	handler := newSessionHandler(service, nil)

	req := httptest.NewRequest(http.MethodPost, "/sessions/current/refresh", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "plain-token"})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.Refresh(rec, req)

	var resp handlers.SessionResponse
	handlers.AssertJSONResponse(t, rec, http.StatusOK, &resp)
	assert.Equal(t, extendedExpiry.UTC().Format(time.RFC3339), resp.ExpiresAt)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "plain-token", cookies[0].Value)
	assert.WithinDuration(t, extendedExpiry, cookies[0].Expires, time.Second)
}

func TestSessionHandler_List_ReturnsSessions(t *testing.T) {
	session := handlers.NewHandlerTestSession()
	other := handlers.NewHandlerTestSession()
	other.PrincipalID = session.PrincipalID

	service := &handlers.MockSessionService{
		ListSessionsFunc: func(ctx context.Context, principalID uuid.UUID) ([]*models.Session, error) {
			assert.Equal(t, session.PrincipalID, principalID)
			return []*models.Session{session, other}, nil
		},
	}
	handler := newSessionHandler(service, nil)

	req := handlers.WithSessionContext(httptest.NewRequest(http.MethodGet, "/sessions", nil), session)
	rec := httptest.NewRecorder()
	handler.List(rec, req)

	var resp struct {
		Sessions []*handlers.SessionResponse `json:"sessions"`
	}
	handlers.AssertJSONResponse(t, rec, http.StatusOK, &resp)
	require.Len(t, resp.Sessions, 2)
	assert.Equal(t, session.ID.String(), resp.Sessions[0].ID)
	assert.True(t, resp.Sessions[0].Current)
	assert.False(t, resp.Sessions[1].Current)
}

func TestSessionHandler_InvalidateAll_ReportsCount(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	service := &handlers.MockSessionService{
		InvalidateAllSessionsFunc: func(ctx context.Context, principalID uuid.UUID, reason string) (int, error) {
			assert.Equal(t, "logout_all", reason)
			return 3, nil
		},
	}
	handler := newSessionHandler(service, nil)

	req := handlers.WithSessionContext(httptest.NewRequest(http.MethodPost, "/sessions/invalidate-all", nil), session)
	rec := httptest.NewRecorder()
	handler.InvalidateAll(rec, req)

	var resp map[string]int
	handlers.AssertJSONResponse(t, rec, http.StatusOK, &resp)
	assert.Equal(t, 3, resp["invalidated"])
}

func TestSessionHandler_Heartbeat_ReportsRecorded(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	service := &handlers.MockSessionService{
		HeartbeatFunc: func(ctx context.Context, s *models.Session) (bool, error) {
			return false, nil
		},
	}
	handler := newSessionHandler(service, nil)

	req := handlers.WithSessionContext(httptest.NewRequest(http.MethodPost, "/sessions/heartbeat", nil), session)
	rec := httptest.NewRecorder()
	handler.Heartbeat(rec, req)

	var resp handlers.HeartbeatResponse
	handlers.AssertJSONResponse(t, rec, http.StatusOK, &resp)
	assert.False(t, resp.Recorded)
}

func TestSessionHandler_RequestVerification_Accepted(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	called := false
	service := &handlers.MockSessionService{
		RequestSessionVerificationFunc: func(ctx context.Context, s *models.Session) error {
			called = true
			return nil
		},
	}
	handler := newSessionHandler(service, nil)

	req := handlers.WithSessionContext(httptest.NewRequest(http.MethodPost, "/sessions/current/verify", nil), session)
	rec := httptest.NewRecorder()
	handler.RequestVerification(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, called)
}

func TestSessionHandler_Verify_Success(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	service := &handlers.MockSessionService{
		VerifySessionFunc: func(ctx context.Context, s *models.Session, code string) error {
			assert.Equal(t, "123456", code)
			return nil
		},
	}
	handler := newSessionHandler(service, nil)

	req := handlers.NewTestRequest(t, http.MethodPut, "/sessions/current/verify", map[string]any{
		"code": "123456",
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.Verify(rec, req)

	var resp map[string]bool
	handlers.AssertJSONResponse(t, rec, http.StatusOK, &resp)
	assert.True(t, resp["verified"])
}

func TestSessionHandler_Verify_WrongCode(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	service := &handlers.MockSessionService{
		VerifySessionFunc: func(ctx context.Context, s *models.Session, code string) error {
			return models.ErrInvalidVerifyCode
		},
	}
	handler := newSessionHandler(service, nil)

	req := handlers.NewTestRequest(t, http.MethodPut, "/sessions/current/verify", map[string]any{
		"code": "000000",
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.Verify(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusBadRequest, "bad_request")
}

func TestSessionHandler_Verify_CodeTooShort(t *testing.T) {
	session := handlers.NewHandlerTestSession()
	handler := newSessionHandler(&handlers.MockSessionService{}, nil)

	req := handlers.NewTestRequest(t, http.MethodPut, "/sessions/current/verify", map[string]any{
		"code": "12345",
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.Verify(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusBadRequest, "bad_request")
}

func TestSessionHandler_Events_ReturnsTrail(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	event := &models.SessionEvent{
		ID:        uuid.New(),
		SessionID: session.ID,
		EventType: models.EventTypeCreated,
		Payload:   models.EventPayload{"session_type": "web"},
		CreatedAt: time.Now().UTC(),
	}
	audit := &handlers.MockAuditTrail{
		GetSessionTrailFunc: func(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.SessionEvent, error) {
			assert.Equal(t, session.ID, sessionID)
			assert.Equal(t, 10, limit)
			assert.Equal(t, 20, offset)
			return []*models.SessionEvent{event}, nil
		},
	}
	handler := newSessionHandler(&handlers.MockSessionService{}, audit)

	req := httptest.NewRequest(http.MethodGet, "/sessions/current/events?limit=10&offset=20", nil)
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.Events(rec, req)

	var resp struct {
		Events []*handlers.EventResponse `json:"events"`
	}
	handlers.AssertJSONResponse(t, rec, http.StatusOK, &resp)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, models.EventTypeCreated, resp.Events[0].EventType)
}
