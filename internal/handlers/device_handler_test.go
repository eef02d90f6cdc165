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
	"github.com/harborgrid/sessiond/internal/models"
	"github.com/harborgrid/sessiond/internal/services"
)

func newTestFingerprint(principalID uuid.UUID) *models.DeviceFingerprint {
	now := time.Now().UTC()
	return &models.DeviceFingerprint{
		ID:              uuid.New(),
		PrincipalID:     principalID,
		FingerprintHash: "abc123",
		TrustScore:      55,
		RiskScore:       20,
		LoginCount:      4,
		UserAgent:       "handler-test/1.0",
		FirstSeen:       now.Add(-72 * time.Hour),
		LastSeen:        now,
	}
}

func newTestTrust(principalID, fingerprintID uuid.UUID) *models.DeviceTrust {
	now := time.Now().UTC()
	expires := now.AddDate(0, 0, 30)
	return &models.DeviceTrust{
		ID:            uuid.New(),
		PrincipalID:   principalID,
		FingerprintID: fingerprintID,
		Name:          "work laptop",
		CodeHash:      "$2a$10$unused",
		IsActive:      true,
		ExpiresAt:     &expires,
		CreatedAt:     now,
	}
}

func TestDeviceHandler_List_Success(t *testing.T) {
	session := handlers.NewHandlerTestSession()
	fp := newTestFingerprint(session.PrincipalID)
	trust := newTestTrust(session.PrincipalID, fp.ID)
	trust.IsVerified = true

	service := &handlers.MockDeviceService{
		ListDevicesFunc: func(ctx context.Context, principalID uuid.UUID) ([]*services.DeviceView, error) {
			assert.Equal(t, session.PrincipalID, principalID)
			return []*services.DeviceView{{Fingerprint: fp, Trust: trust}}, nil
		},
	}
	handler := handlers.NewDeviceHandler(service)

	req := handlers.WithSessionContext(httptest.NewRequest(http.MethodGet, "/sessions/devices", nil), session)
	rec := httptest.NewRecorder()
	handler.List(rec, req)

	var resp struct {
		Devices []*handlers.DeviceResponse `json:"devices"`
	}
	handlers.AssertJSONResponse(t, rec, http.StatusOK, &resp)
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, fp.ID.String(), resp.Devices[0].ID)
	assert.Equal(t, 55, resp.Devices[0].TrustScore)
	require.NotNil(t, resp.Devices[0].Trust)
	assert.Equal(t, "work laptop", resp.Devices[0].Trust.Name)
	assert.True(t, resp.Devices[0].Trust.IsVerified)
}

func TestDeviceHandler_List_NoSession(t *testing.T) {
	handler := handlers.NewDeviceHandler(&handlers.MockDeviceService{})

	req := httptest.NewRequest(http.MethodGet, "/sessions/devices", nil)
	rec := httptest.NewRecorder()
	handler.List(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusUnauthorized, "authentication_required")
}

func TestDeviceHandler_GrantTrust_Success(t *testing.T) {
	session := handlers.NewHandlerTestSession()
	fp := newTestFingerprint(session.PrincipalID)
	trust := newTestTrust(session.PrincipalID, fp.ID)

	service := &handlers.MockDeviceService{
		GrantTrustFunc: func(ctx context.Context, s *models.Session, fingerprintID uuid.UUID, name string, expiresInDays int) (*models.DeviceTrust, error) {
			assert.Equal(t, fp.ID, fingerprintID)
			assert.Equal(t, "work laptop", name)
			assert.Equal(t, 30, expiresInDays)
			return trust, nil
		},
	}
	handler := handlers.NewDeviceHandler(service)

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions/devices/trust", map[string]any{
		"fingerprint_id":  fp.ID.String(),
		"name":            "work laptop",
		"expires_in_days": 30,
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.GrantTrust(rec, req)

	var resp handlers.TrustResponse
	handlers.AssertJSONResponse(t, rec, http.StatusCreated, &resp)
	assert.Equal(t, trust.ID.String(), resp.ID)
	assert.False(t, resp.IsVerified)
}

func TestDeviceHandler_GrantTrust_ForeignDevice(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	service := &handlers.MockDeviceService{
		GrantTrustFunc: func(ctx context.Context, s *models.Session, fingerprintID uuid.UUID, name string, expiresInDays int) (*models.DeviceTrust, error) {
			return nil, models.ErrNotFound
		},
	}
	handler := handlers.NewDeviceHandler(service)

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions/devices/trust", map[string]any{
		"fingerprint_id": uuid.New().String(),
		"name":           "stolen laptop",
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.GrantTrust(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusNotFound, "not_found")
}

func TestDeviceHandler_GrantTrust_BlockedDevice(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	service := &handlers.MockDeviceService{
		GrantTrustFunc: func(ctx context.Context, s *models.Session, fingerprintID uuid.UUID, name string, expiresInDays int) (*models.DeviceTrust, error) {
			return nil, models.ErrDeviceBlocked
		},
	}
	handler := handlers.NewDeviceHandler(service)

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions/devices/trust", map[string]any{
		"fingerprint_id": uuid.New().String(),
		"name":           "blocked laptop",
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.GrantTrust(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusForbidden, "device_blocked")
}

func TestDeviceHandler_GrantTrust_MissingName(t *testing.T) {
	session := handlers.NewHandlerTestSession()
	handler := handlers.NewDeviceHandler(&handlers.MockDeviceService{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions/devices/trust", map[string]any{
		"fingerprint_id": uuid.New().String(),
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.GrantTrust(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusBadRequest, "bad_request")
}

func TestDeviceHandler_VerifyTrust_Success(t *testing.T) {
	session := handlers.NewHandlerTestSession()
	trustID := uuid.New()

	service := &handlers.MockDeviceService{
		VerifyTrustFunc: func(ctx context.Context, s *models.Session, id uuid.UUID, code string) error {
			assert.Equal(t, trustID, id)
			assert.Equal(t, "482913", code)
			return nil
		},
	}
	handler := handlers.NewDeviceHandler(service)

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions/devices/verify", map[string]any{
		"trust_id": trustID.String(),
		"code":     "482913",
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.VerifyTrust(rec, req)

	var resp map[string]bool
	handlers.AssertJSONResponse(t, rec, http.StatusOK, &resp)
	assert.True(t, resp["verified"])
}

func TestDeviceHandler_VerifyTrust_WrongCode(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	service := &handlers.MockDeviceService{
		VerifyTrustFunc: func(ctx context.Context, s *models.Session, id uuid.UUID, code string) error {
			return models.ErrInvalidVerifyCode
		},
	}
	handler := handlers.NewDeviceHandler(service)

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions/devices/verify", map[string]any{
		"trust_id": uuid.New().String(),
		"code":     "000000",
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.VerifyTrust(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusBadRequest, "bad_request")
}

func TestDeviceHandler_VerifyTrust_Revoked(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	service := &handlers.MockDeviceService{
		VerifyTrustFunc: func(ctx context.Context, s *models.Session, id uuid.UUID, code string) error {
			return models.ErrTrustRevoked
		},
	}
	handler := handlers.NewDeviceHandler(service)

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions/devices/verify", map[string]any{
		"trust_id": uuid.New().String(),
		"code":     "482913",
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.VerifyTrust(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusConflict, "trust_revoked")
}

func TestDeviceHandler_VerifyTrust_BadCodeLength(t *testing.T) {
	session := handlers.NewHandlerTestSession()
	handler := handlers.NewDeviceHandler(&handlers.MockDeviceService{})

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions/devices/verify", map[string]any{
		"trust_id": uuid.New().String(),
		"code":     "1234",
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.VerifyTrust(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusBadRequest, "bad_request")
}

func TestDeviceHandler_RevokeTrust_Success(t *testing.T) {
	session := handlers.NewHandlerTestSession()
	trustID := uuid.New()

	service := &handlers.MockDeviceService{
		RevokeTrustFunc: func(ctx context.Context, s *models.Session, id uuid.UUID, reason string) error {
			assert.Equal(t, trustID, id)
			assert.Equal(t, "lost device", reason)
			return nil
		},
	}
	handler := handlers.NewDeviceHandler(service)

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions/devices/revoke", map[string]any{
		"trust_id": trustID.String(),
		"reason":   "lost device",
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.RevokeTrust(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDeviceHandler_RevokeTrust_NotFound(t *testing.T) {
	session := handlers.NewHandlerTestSession()

	service := &handlers.MockDeviceService{
		RevokeTrustFunc: func(ctx context.Context, s *models.Session, id uuid.UUID, reason string) error {
			return models.ErrNotFound
		},
	}
	handler := handlers.NewDeviceHandler(service)

	req := handlers.NewTestRequest(t, http.MethodPost, "/sessions/devices/revoke", map[string]any{
		"trust_id": uuid.New().String(),
	})
	req = handlers.WithSessionContext(req, session)
	rec := httptest.NewRecorder()
	handler.RevokeTrust(rec, req)

	handlers.AssertErrorResponse(t, rec, http.StatusNotFound, "not_found")
}
