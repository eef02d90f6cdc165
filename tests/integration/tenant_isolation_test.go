package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid/sessiond/internal/tenant"
)

func countSessionsScoped(t *testing.T, prop *tenant.Propagator, tenantID *uuid.UUID) int {
	t.Helper()
	ctx := context.Background()

	scope, err := prop.Begin(ctx, tenantID)
	require.NoError(t, err)
	defer scope.Close(ctx)

	var count int
	require.NoError(t, scope.Conn().QueryRow(ctx, `SELECT count(*) FROM sessions`).Scan(&count))
	return count
}

// Two tenants share the connection pool; a connection scoped to one must
// never see the other's rows, and a scope left behind by one request must
// not bleed into the next.
func TestTenantRowIsolation(t *testing.T) {
	resetState(t)
	ctx := context.Background()

	tenantA := uuid.New()
	tenantB := uuid.New()

	principalA, err := SeedPrincipal(ctx, testDB.Pool, TestPrincipalEmail("tenant-a"), &tenantA)
	require.NoError(t, err)
	principalB, err := SeedPrincipal(ctx, testDB.Pool, TestPrincipalEmail("tenant-b"), &tenantB)
	require.NoError(t, err)

	tokenA, _, err := testServer.CreateSessionViaAPI(principalA.ID.String(), "credential-a")
	require.NoError(t, err)
	tokenB, _, err := testServer.CreateSessionViaAPI(principalB.ID.String(), "credential-b")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prop := tenant.NewPropagator(testDB.Pool, logger)

	// Each scoped connection sees exactly its own tenant's session.
	assert.Equal(t, 1, countSessionsScoped(t, prop, &tenantA))
	assert.Equal(t, 1, countSessionsScoped(t, prop, &tenantB))

	// An unscoped connection (token resolution, the sweeper) sees both.
	assert.Equal(t, 2, countSessionsScoped(t, prop, nil))

	// Request-path reads run on the scoped connection: a row planted
	// under another tenant for the same principal must not surface in
	// the principal's session list.
	planted := uuid.New()
	_, err = testDB.Pool.Exec(ctx, `
		INSERT INTO sessions (id, token_hash, principal_id, tenant_id, expires_at)
		VALUES ($1, $2, $3, $4, now() + interval '1 hour')`,
		planted, "planted-"+planted.String(), principalA.ID, tenantB)
	require.NoError(t, err)

	resp, err := testServer.RequestWithSession(http.MethodGet, "/sessions", tokenA, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Sessions []map[string]interface{} `json:"sessions"`
	}
	require.NoError(t, ParseJSONResponse(resp, &listing))
	require.Len(t, listing.Sessions, 1)
	assert.NotEqual(t, planted.String(), listing.Sessions[0]["id"])

	// Sequential API requests from both tenants resolve their own
	// sessions through the same pool without cross-contamination.
	for _, tc := range []struct {
		token     string
		sessionID string
	}{
		{tokenA, principalA.ID.String()},
		{tokenB, principalB.ID.String()},
		{tokenA, principalA.ID.String()},
	} {
		resp, err := testServer.RequestWithSession(http.MethodGet, "/sessions/current", tc.token, nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var current map[string]interface{}
		require.NoError(t, ParseJSONResponse(resp, &current))
		assert.Equal(t, tc.sessionID, current["principal_id"])
	}
}
