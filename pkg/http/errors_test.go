package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harborgrid/sessiond/internal/models"
	pkghttp "github.com/harborgrid/sessiond/pkg/http"
	"github.com/stretchr/testify/assert"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) pkghttp.ErrorResponse {
	t.Helper()
	var resp pkghttp.ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	assert.NoError(t, err)
	return resp
}

func TestWriteError_SetsStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()

	pkghttp.WriteError(rec, http.StatusBadRequest, "bad_request", "something was wrong")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeError(t, rec)
	assert.Equal(t, "bad_request", resp.Error)
	assert.Equal(t, "something was wrong", resp.Message)
	assert.Empty(t, resp.Details)
}

func TestWriteModelError_Taxonomy(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"authentication required", models.ErrAuthenticationRequired, http.StatusUnauthorized, "authentication_required"},
		{"session expired", models.ErrSessionExpired, http.StatusUnauthorized, "session_expired"},
		{"session inactive", models.ErrSessionInactive, http.StatusUnauthorized, "session_inactive"},
		{"security violation", models.ErrSecurityViolation, http.StatusForbidden, "security_violation"},
		{"rate limited", models.ErrRateLimited, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"validation", models.ErrValidation, http.StatusBadRequest, "bad_request"},
		{"not found", models.ErrNotFound, http.StatusNotFound, "not_found"},
		{"device blocked", models.ErrDeviceBlocked, http.StatusForbidden, "device_blocked"},
		{"unknown error is internal", assert.AnError, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			pkghttp.WriteModelError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Error)
		})
	}
}

func TestWriteModelError_NeverLeaksInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	pkghttp.WriteModelError(rec, assert.AnError)

	resp := decodeError(t, rec)
	assert.NotContains(t, resp.Message, assert.AnError.Error())
}
