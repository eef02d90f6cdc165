// Package tenant propagates the per-request tenant identifier consumed by
// the storage isolation layer. The storage layer rejects rows that do not
// match the currently set identifier; this package only decides who sets and
// clears it, and when.
//
// Propagation is fail-closed: a request with no resolved tenant explicitly
// clears the identifier rather than inheriting whatever a previous request
// left on a pooled connection.
package tenant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	tenantContextKey contextKey = "tenant"
	scopeContextKey  contextKey = "tenantScope"
)

// tenantSetting is the Postgres setting read by the row-isolation policies.
const tenantSetting = "app.current_tenant"

// WithTenant returns a context carrying the tenant identifier.
func WithTenant(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantContextKey, tenantID)
}

// FromContext extracts the tenant identifier from the context.
func FromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantContextKey).(uuid.UUID)
	return id, ok
}

// WithScope returns a context carrying the request's tenant scope so
// downstream data access runs on the scoped connection.
func WithScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey, scope)
}

// ScopeFromContext extracts the request's tenant scope, if one was bound.
func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey).(*Scope)
	return scope, ok
}

// Propagator pins a database connection per request and sets the tenant
// identifier on it for the request's lifetime.
type Propagator struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPropagator creates a tenant context propagator
func NewPropagator(pool *pgxpool.Pool, logger *slog.Logger) *Propagator {
	return &Propagator{pool: pool, logger: logger}
}

// Scope is a request-scoped tenant context holding a pinned connection.
// Close must be called at request end regardless of outcome.
type Scope struct {
	conn    *pgxpool.Conn
	prop    *Propagator
	cleared bool
}

// Begin acquires a connection and sets the tenant identifier on it. A nil
// tenantID clears the identifier explicitly instead of skipping the write,
// so a pooled connection can never carry a previous request's tenant.
func (p *Propagator) Begin(ctx context.Context, tenantID *uuid.UUID) (*Scope, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tenant connection: %w", err)
	}

	value := ""
	if tenantID != nil {
		value = tenantID.String()
	}

	if _, err := conn.Exec(ctx, "SELECT set_config($1, $2, false)", tenantSetting, value); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to set tenant context: %w", err)
	}

	return &Scope{conn: conn, prop: p}, nil
}

// Conn returns the pinned connection with the tenant identifier applied.
// All downstream business-data access for the request must go through it.
func (s *Scope) Conn() *pgxpool.Conn {
	return s.conn
}

// Close clears the tenant identifier and releases the connection. If the
// clear fails the connection is destroyed rather than returned to the pool
// carrying a stale tenant.
func (s *Scope) Close(ctx context.Context) {
	if s.cleared {
		return
	}
	s.cleared = true

	_, err := s.conn.Exec(ctx, "SELECT set_config($1, '', false)", tenantSetting)
	if err != nil {
		s.prop.logger.Error("failed to clear tenant context, destroying connection",
			slog.Any("error", err))
		// Hijack removes the connection from the pool's rotation for good.
		_ = s.conn.Hijack().Close(ctx)
		return
	}

	s.conn.Release()
}
