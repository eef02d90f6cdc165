package integration

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestPrincipalEmail generates a unique principal email using a timestamp
func TestPrincipalEmail(suffix string) string {
	return fmt.Sprintf("principal-%d-%s@example.com", time.Now().UnixNano(), suffix)
}

func mustParseUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}
