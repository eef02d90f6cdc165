package cache

import (
	"context"

	"github.com/harborgrid/sessiond/internal/models"
)

// NoopSessionCache is selected at startup when no cache backend is
// configured. Every read is a miss, so all call sites fall through to the
// session store unchanged.
type NoopSessionCache struct{}

// NewNoopSessionCache creates a no-op session cache
func NewNoopSessionCache() *NoopSessionCache {
	return &NoopSessionCache{}
}

func (c *NoopSessionCache) Put(ctx context.Context, session *models.Session) error {
	return nil
}

func (c *NoopSessionCache) Get(ctx context.Context, tokenHash string) (*models.Session, error) {
	return nil, ErrMiss
}

func (c *NoopSessionCache) Delete(ctx context.Context, tokenHash string) error {
	return nil
}
