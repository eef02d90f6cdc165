package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid/sessiond/internal/middleware"
	"github.com/harborgrid/sessiond/internal/models"
	"github.com/harborgrid/sessiond/internal/services"
)

// MockSessionService implements SessionServiceInterface with overridable
// function fields so each test controls exactly the calls it cares about.
type MockSessionService struct {
	CreateSessionFunc              func(ctx context.Context, in services.CreateSessionInput) (*services.CreatedSession, error)
	UpdateSessionFunc              func(ctx context.Context, session *models.Session, patch *models.SessionPatch) (*models.Session, error)
	ExtendSessionFunc              func(ctx context.Context, session *models.Session) (*models.Session, error)
	InvalidateSessionFunc          func(ctx context.Context, session *models.Session, reason string) error
	InvalidateAllSessionsFunc      func(ctx context.Context, principalID uuid.UUID, reason string) (int, error)
	ListSessionsFunc               func(ctx context.Context, principalID uuid.UUID) ([]*models.Session, error)
	HeartbeatFunc                  func(ctx context.Context, session *models.Session) (bool, error)
	RequestSessionVerificationFunc func(ctx context.Context, session *models.Session) error
	VerifySessionFunc              func(ctx context.Context, session *models.Session, code string) error
}

func (m *MockSessionService) CreateSession(ctx context.Context, in services.CreateSessionInput) (*services.CreatedSession, error) {
	return m.CreateSessionFunc(ctx, in)
}

func (m *MockSessionService) UpdateSession(ctx context.Context, session *models.Session, patch *models.SessionPatch) (*models.Session, error) {
	return m.UpdateSessionFunc(ctx, session, patch)
}

func (m *MockSessionService) ExtendSession(ctx context.Context, session *models.Session) (*models.Session, error) {
	return m.ExtendSessionFunc(ctx, session)
}

func (m *MockSessionService) InvalidateSession(ctx context.Context, session *models.Session, reason string) error {
	return m.InvalidateSessionFunc(ctx, session, reason)
}

func (m *MockSessionService) InvalidateAllSessions(ctx context.Context, principalID uuid.UUID, reason string) (int, error) {
	return m.InvalidateAllSessionsFunc(ctx, principalID, reason)
}

func (m *MockSessionService) ListSessions(ctx context.Context, principalID uuid.UUID) ([]*models.Session, error) {
	return m.ListSessionsFunc(ctx, principalID)
}

func (m *MockSessionService) Heartbeat(ctx context.Context, session *models.Session) (bool, error) {
	return m.HeartbeatFunc(ctx, session)
}

func (m *MockSessionService) RequestSessionVerification(ctx context.Context, session *models.Session) error {
	return m.RequestSessionVerificationFunc(ctx, session)
}

func (m *MockSessionService) VerifySession(ctx context.Context, session *models.Session, code string) error {
	return m.VerifySessionFunc(ctx, session, code)
}

// MockDeviceService implements DeviceServiceInterface.
type MockDeviceService struct {
	ListDevicesFunc func(ctx context.Context, principalID uuid.UUID) ([]*services.DeviceView, error)
	GrantTrustFunc  func(ctx context.Context, session *models.Session, fingerprintID uuid.UUID, name string, expiresInDays int) (*models.DeviceTrust, error)
	VerifyTrustFunc func(ctx context.Context, session *models.Session, trustID uuid.UUID, code string) error
	RevokeTrustFunc func(ctx context.Context, session *models.Session, trustID uuid.UUID, reason string) error
}

func (m *MockDeviceService) ListDevices(ctx context.Context, principalID uuid.UUID) ([]*services.DeviceView, error) {
	return m.ListDevicesFunc(ctx, principalID)
}

func (m *MockDeviceService) GrantTrust(ctx context.Context, session *models.Session, fingerprintID uuid.UUID, name string, expiresInDays int) (*models.DeviceTrust, error) {
	return m.GrantTrustFunc(ctx, session, fingerprintID, name, expiresInDays)
}

func (m *MockDeviceService) VerifyTrust(ctx context.Context, session *models.Session, trustID uuid.UUID, code string) error {
	return m.VerifyTrustFunc(ctx, session, trustID, code)
}

func (m *MockDeviceService) RevokeTrust(ctx context.Context, session *models.Session, trustID uuid.UUID, reason string) error {
	return m.RevokeTrustFunc(ctx, session, trustID, reason)
}

// MockAuditTrail implements AuditTrailProvider.
type MockAuditTrail struct {
	GetSessionTrailFunc func(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.SessionEvent, error)
}

func (m *MockAuditTrail) GetSessionTrail(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.SessionEvent, error) {
	return m.GetSessionTrailFunc(ctx, sessionID, limit, offset)
}

// NewTestRequest builds an HTTP request with an optional JSON body.
func NewTestRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// WithSessionContext attaches a resolved session to the request, the same
// way the pipeline middleware does for authenticated routes.
func WithSessionContext(req *http.Request, session *models.Session) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.SessionContextKey, session)
	return req.WithContext(ctx)
}

// AssertJSONResponse decodes the recorded body into target after checking
// the status code and content type.
func AssertJSONResponse(t *testing.T, rec *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()

	assert.Equal(t, expectedStatus, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), target))
}

// AssertErrorResponse checks the status code and the machine-readable error
// code in the body.
func AssertErrorResponse(t *testing.T, rec *httptest.ResponseRecorder, expectedStatus int, expectedCode string) {
	t.Helper()

	assert.Equal(t, expectedStatus, rec.Code)

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, expectedCode, body.Error)
}

// NewHandlerTestSession returns a minimal active session for handler tests.
func NewHandlerTestSession() *models.Session {
	now := time.Now().UTC()
	return &models.Session{
		ID:           uuid.New(),
		PrincipalID:  uuid.New(),
		TokenHash:    "0000000000000000000000000000000000000000000000000000000000000000",
		SessionType:  models.SessionTypeWeb,
		IPAddress:    "198.51.100.7",
		UserAgent:    "handler-test/1.0",
		Data:         models.SessionData{},
		IsActive:     true,
		LastActivity: now,
		ExpiresAt:    now.Add(24 * time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
