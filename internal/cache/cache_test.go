package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harborgrid/sessiond/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestEntryTTL_RemainingLifetime(t *testing.T) {
	now := time.Now()
	session := &models.Session{ExpiresAt: now.Add(10 * time.Minute)}

	ttl := entryTTL(session, now, time.Hour)
	assert.Equal(t, 10*time.Minute, ttl)
}

func TestEntryTTL_CappedByConfig(t *testing.T) {
	now := time.Now()
	session := &models.Session{ExpiresAt: now.Add(48 * time.Hour)}

	ttl := entryTTL(session, now, time.Hour)
	assert.Equal(t, time.Hour, ttl)
}

func TestEntryTTL_ExpiredIsZero(t *testing.T) {
	now := time.Now()

	expired := &models.Session{ExpiresAt: now.Add(-time.Minute)}
	assert.Equal(t, time.Duration(0), entryTTL(expired, now, time.Hour))

	exactly := &models.Session{ExpiresAt: now}
	assert.Equal(t, time.Duration(0), entryTTL(exactly, now, time.Hour))
}

func TestNoopCache_AlwaysMisses(t *testing.T) {
	c := NewNoopSessionCache()
	ctx := context.Background()

	session := &models.Session{
		ID:        uuid.New(),
		TokenHash: "abc",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	assert.NoError(t, c.Put(ctx, session))

	got, err := c.Get(ctx, "abc")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrMiss)

	assert.NoError(t, c.Delete(ctx, "abc"))
}
