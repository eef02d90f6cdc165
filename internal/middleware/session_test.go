package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid/sessiond/internal/models"
	"github.com/harborgrid/sessiond/internal/risk"
)

type mockResolver struct {
	ResolveSessionFunc  func(ctx context.Context, token string, securitySensitive bool) (*models.Session, error)
	EvaluateRequestFunc func(ctx context.Context, session *models.Session, ipAddress, userAgent, fingerprintHash string) (*risk.Evaluation, error)
}

func (m *mockResolver) ResolveSession(ctx context.Context, token string, securitySensitive bool) (*models.Session, error) {
	if m.ResolveSessionFunc != nil {
		return m.ResolveSessionFunc(ctx, token, securitySensitive)
	}
	return nil, models.ErrAuthenticationRequired
}

func (m *mockResolver) EvaluateRequest(ctx context.Context, session *models.Session, ipAddress, userAgent, fingerprintHash string) (*risk.Evaluation, error) {
	if m.EvaluateRequestFunc != nil {
		return m.EvaluateRequestFunc(ctx, session, ipAddress, userAgent, fingerprintHash)
	}
	return &risk.Evaluation{Decision: risk.DecisionAllow}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSession() *models.Session {
	tenantID := uuid.New()
	return &models.Session{
		ID:          uuid.New(),
		PrincipalID: uuid.New(),
		TenantID:    &tenantID,
		IsActive:    true,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func okHandler(captured **models.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, ok := SessionFromContext(r.Context()); ok && captured != nil {
			*captured = s
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestExtractSessionToken_CookiePreferred(t *testing.T) {
	req := httptest.NewRequest("GET", "/sessions/current", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-token"})
	req.Header.Set("Authorization", "Session header-token")

	assert.Equal(t, "cookie-token", ExtractSessionToken(req))
}

func TestExtractSessionToken_AuthorizationHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/sessions/current", nil)
	req.Header.Set("Authorization", "Session header-token")

	assert.Equal(t, "header-token", ExtractSessionToken(req))
}

func TestExtractSessionToken_RejectsBearerScheme(t *testing.T) {
	req := httptest.NewRequest("GET", "/sessions/current", nil)
	req.Header.Set("Authorization", "Bearer some-jwt")

	assert.Equal(t, "", ExtractSessionToken(req))
}

func TestSessionPipeline_MissingToken(t *testing.T) {
	p := NewSessionPipeline(&mockResolver{}, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/sessions/current", nil)

	p.RequireSession(false)(okHandler(nil)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionPipeline_AllowInjectsSession(t *testing.T) {
	session := testSession()
	resolver := &mockResolver{
		ResolveSessionFunc: func(ctx context.Context, token string, securitySensitive bool) (*models.Session, error) {
			assert.Equal(t, "tok", token)
			assert.False(t, securitySensitive)
			return session, nil
		},
	}
	p := NewSessionPipeline(resolver, nil, nil, testLogger())

	var captured *models.Session
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/sessions/current", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok"})

	p.RequireSession(false)(okHandler(&captured)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, session.ID, captured.ID)
}

func TestSessionPipeline_SensitiveFlagPropagates(t *testing.T) {
	session := testSession()
	var sensitive bool
	resolver := &mockResolver{
		ResolveSessionFunc: func(ctx context.Context, token string, securitySensitive bool) (*models.Session, error) {
			sensitive = securitySensitive
			return session, nil
		},
	}
	p := NewSessionPipeline(resolver, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/sessions/current", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok"})

	p.RequireSession(true)(okHandler(nil)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sensitive)
}

func TestSessionPipeline_VerifyDecisionSetsHeader(t *testing.T) {
	session := testSession()
	resolver := &mockResolver{
		ResolveSessionFunc: func(ctx context.Context, token string, securitySensitive bool) (*models.Session, error) {
			return session, nil
		},
		EvaluateRequestFunc: func(ctx context.Context, s *models.Session, ip, ua, fp string) (*risk.Evaluation, error) {
			return &risk.Evaluation{Decision: risk.DecisionVerify, RiskScore: 55}, nil
		},
	}
	p := NewSessionPipeline(resolver, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/sessions/current", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok"})

	p.RequireSession(false)(okHandler(nil)).ServeHTTP(rec, req)

	// A verify verdict flags the response but the request still runs.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "required", rec.Header().Get(VerifyHeader))
}

func TestSessionPipeline_ChallengeFlagsAndProceeds(t *testing.T) {
	session := testSession()
	resolver := &mockResolver{
		ResolveSessionFunc: func(ctx context.Context, token string, securitySensitive bool) (*models.Session, error) {
			return session, nil
		},
		EvaluateRequestFunc: func(ctx context.Context, s *models.Session, ip, ua, fp string) (*risk.Evaluation, error) {
			return &risk.Evaluation{Decision: risk.DecisionChallenge, RiskScore: 75}, nil
		},
	}
	p := NewSessionPipeline(resolver, nil, nil, testLogger())

	handlerRan := false
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/sessions/current", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok"})

	p.RequireSession(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerRan = true
	})).ServeHTTP(rec, req)

	// Challenge is a flag, not a denial: the handler runs and the client
	// is told to complete a fresh ceremony. Only terminate blocks.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "required", rec.Header().Get(ChallengeHeader))
	assert.True(t, handlerRan)
}

func TestSessionPipeline_TerminateBlocks(t *testing.T) {
	session := testSession()
	resolver := &mockResolver{
		ResolveSessionFunc: func(ctx context.Context, token string, securitySensitive bool) (*models.Session, error) {
			return session, nil
		},
		EvaluateRequestFunc: func(ctx context.Context, s *models.Session, ip, ua, fp string) (*risk.Evaluation, error) {
			return &risk.Evaluation{Decision: risk.DecisionTerminate, RiskScore: 95}, nil
		},
	}
	p := NewSessionPipeline(resolver, nil, nil, testLogger())

	handlerRan := false
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/sessions/current", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok"})

	p.RequireSession(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerRan = true
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, handlerRan)
}

func TestSessionPipeline_ExpiredSession(t *testing.T) {
	resolver := &mockResolver{
		ResolveSessionFunc: func(ctx context.Context, token string, securitySensitive bool) (*models.Session, error) {
			return nil, models.ErrSessionExpired
		},
	}
	p := NewSessionPipeline(resolver, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/sessions/current", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok"})

	p.RequireSession(false)(okHandler(nil)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionPipeline_FingerprintHeaderForwarded(t *testing.T) {
	session := testSession()
	var seenHash string
	resolver := &mockResolver{
		ResolveSessionFunc: func(ctx context.Context, token string, securitySensitive bool) (*models.Session, error) {
			return session, nil
		},
		EvaluateRequestFunc: func(ctx context.Context, s *models.Session, ip, ua, fp string) (*risk.Evaluation, error) {
			seenHash = fp
			return &risk.Evaluation{Decision: risk.DecisionAllow}, nil
		},
	}
	p := NewSessionPipeline(resolver, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/sessions/current", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok"})
	req.Header.Set(FingerprintHeader, "abc123")

	p.RequireSession(false)(okHandler(nil)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", seenHash)
}
