// Package cache provides a best-effort, TTL-bounded session snapshot cache.
// The cache is never a source of truth: every failure degrades to a miss and
// mutating operations always commit to the session store first.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/harborgrid/sessiond/internal/models"
)

// ErrMiss signals that no cached snapshot exists for the key.
var ErrMiss = errors.New("cache miss")

// SessionCache is the capability interface for the session snapshot cache.
// Implementations must be safe for concurrent use.
type SessionCache interface {
	// Put stores a serialized snapshot with TTL = expires_at - now.
	// Snapshots already at or past expiry are skipped.
	Put(ctx context.Context, session *models.Session) error

	// Get returns the cached snapshot or ErrMiss.
	Get(ctx context.Context, tokenHash string) (*models.Session, error)

	// Delete removes the cached entry. Deleting an absent key is not an error.
	Delete(ctx context.Context, tokenHash string) error
}

// entryTTL computes the remaining lifetime for a snapshot, bounded by cap.
// Returns 0 when the session is already at or past expiry.
func entryTTL(session *models.Session, now time.Time, ttlCap time.Duration) time.Duration {
	ttl := session.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return 0
	}
	if ttlCap > 0 && ttl > ttlCap {
		ttl = ttlCap
	}
	return ttl
}
