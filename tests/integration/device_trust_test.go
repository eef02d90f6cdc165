package integration

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createSessionWithFingerprint establishes a session carrying device
// fingerprint components, which makes the fingerprint registry record a
// sighting.
func createSessionWithFingerprint(t *testing.T, principalID string) string {
	t.Helper()

	resp, err := testServer.Request(http.MethodPost, "/sessions", map[string]interface{}{
		"principal_id": principalID,
		"credential":   "upstream-credential",
		"session_type": "web",
		"fingerprint": map[string]string{
			"user_agent":        "Go-http-client/1.1",
			"screen_resolution": "1920x1080",
			"timezone":          "UTC",
		},
	}, nil)
	require.NoError(t, err)

	var created struct {
		Token string `json:"token"`
	}
	require.NoError(t, ParseJSONResponse(resp, &created))
	require.NotEmpty(t, created.Token)
	return created.Token
}

func listDevices(t *testing.T, token string) []map[string]interface{} {
	t.Helper()

	resp, err := testServer.RequestWithSession(http.MethodGet, "/sessions/devices", token, nil)
	require.NoError(t, err)
	var view struct {
		Devices []map[string]interface{} `json:"devices"`
	}
	require.NoError(t, ParseJSONResponse(resp, &view))
	return view.Devices
}

func TestDeviceTrustCeremony(t *testing.T) {
	resetState(t)
	ctx := context.Background()

	principal, err := SeedPrincipal(ctx, testDB.Pool, TestPrincipalEmail("trust"), nil)
	require.NoError(t, err)

	token := createSessionWithFingerprint(t, principal.ID.String())

	devices := listDevices(t, token)
	require.Len(t, devices, 1)
	fingerprintID := devices[0]["id"].(string)
	assert.Nil(t, devices[0]["trust"])

	// Grant starts the ceremony and delivers an unverified code.
	resp, err := testServer.RequestWithSession(http.MethodPost, "/sessions/devices/trust", token, map[string]interface{}{
		"fingerprint_id":  fingerprintID,
		"name":            "work laptop",
		"expires_in_days": 30,
	})
	require.NoError(t, err)
	var granted struct {
		ID         string `json:"id"`
		IsVerified bool   `json:"is_verified"`
	}
	require.NoError(t, ParseJSONResponse(resp, &granted))
	assert.False(t, granted.IsVerified)

	sent := testServer.Notify.LastCode()
	require.NotNil(t, sent)
	assert.Equal(t, principal.Email, sent.To)
	require.Len(t, sent.Code, 6)

	// Wrong code leaves the grant unverified.
	resp, err = testServer.RequestWithSession(http.MethodPost, "/sessions/devices/verify", token, map[string]interface{}{
		"trust_id": granted.ID,
		"code":     "000000",
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// The delivered code completes the ceremony.
	resp, err = testServer.RequestWithSession(http.MethodPost, "/sessions/devices/verify", token, map[string]interface{}{
		"trust_id": granted.ID,
		"code":     sent.Code,
	})
	require.NoError(t, err)
	var verified map[string]bool
	require.NoError(t, ParseJSONResponse(resp, &verified))
	assert.True(t, verified["verified"])

	devices = listDevices(t, token)
	require.Len(t, devices, 1)
	assert.Equal(t, true, devices[0]["is_trusted"])
	trust := devices[0]["trust"].(map[string]interface{})
	assert.Equal(t, true, trust["is_verified"])

	// Revocation is terminal.
	resp, err = testServer.RequestWithSession(http.MethodPost, "/sessions/devices/revoke", token, map[string]interface{}{
		"trust_id": granted.ID,
		"reason":   "lost device",
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = testServer.RequestWithSession(http.MethodPost, "/sessions/devices/verify", token, map[string]interface{}{
		"trust_id": granted.ID,
		"code":     sent.Code,
	})
	require.NoError(t, err)
	code, err := GetErrorCode(resp)
	require.NoError(t, err)
	assert.Equal(t, "trust_revoked", code)
}

func TestGrantTrust_ForeignDeviceHidden(t *testing.T) {
	resetState(t)
	ctx := context.Background()

	owner, err := SeedPrincipal(ctx, testDB.Pool, TestPrincipalEmail("owner"), nil)
	require.NoError(t, err)
	intruder, err := SeedPrincipal(ctx, testDB.Pool, TestPrincipalEmail("intruder"), nil)
	require.NoError(t, err)

	ownerToken := createSessionWithFingerprint(t, owner.ID.String())
	devices := listDevices(t, ownerToken)
	require.Len(t, devices, 1)
	fingerprintID := devices[0]["id"].(string)

	intruderToken, _, err := testServer.CreateSessionViaAPI(intruder.ID.String(), "upstream-credential")
	require.NoError(t, err)

	// Another principal's device must look nonexistent, not forbidden.
	resp, err := testServer.RequestWithSession(http.MethodPost, "/sessions/devices/trust", intruderToken, map[string]interface{}{
		"fingerprint_id": fingerprintID,
		"name":           "not mine",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	code, err := GetErrorCode(resp)
	require.NoError(t, err)
	assert.Equal(t, "not_found", code)
}
