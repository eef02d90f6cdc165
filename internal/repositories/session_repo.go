package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harborgrid/sessiond/internal/database"
	"github.com/harborgrid/sessiond/internal/models"
	"github.com/jackc/pgx/v5"
)

// rowScanner abstracts pgx.Row and pgx.Rows for the scan helpers
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const sessionColumns = `
	id, token_hash, principal_id, tenant_id, credential_hash, is_active,
	session_type, ip_address, user_agent, needs_onboarding,
	onboarding_completed, onboarding_step, plan, plan_status, data,
	created_at, updated_at, last_activity, expires_at`

// SessionRepository is the authoritative store for session rows
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// scanSessionRow populates a Session model from a database row
func scanSessionRow(row rowScanner) (*models.Session, error) {
	var s models.Session

	err := row.Scan(
		&s.ID, &s.TokenHash, &s.PrincipalID, &s.TenantID, &s.CredentialHash,
		&s.IsActive, &s.SessionType, &s.IPAddress, &s.UserAgent,
		&s.Onboarding.NeedsOnboarding, &s.Onboarding.OnboardingCompleted,
		&s.Onboarding.OnboardingStep, &s.Subscription.Plan,
		&s.Subscription.Status, &s.Data,
		&s.CreatedAt, &s.UpdatedAt, &s.LastActivity, &s.ExpiresAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)

	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return sessions, nil
}

// Create inserts the session and its security record in one transaction.
// The audit event for creation is enqueued by the service after commit.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session, sec *models.SessionSecurity) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO sessions (
				id, token_hash, principal_id, tenant_id, credential_hash,
				is_active, session_type, ip_address, user_agent,
				needs_onboarding, onboarding_completed, onboarding_step,
				plan, plan_status, data, created_at, updated_at,
				last_activity, expires_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			RETURNING created_at, updated_at`,
			session.ID, session.TokenHash, session.PrincipalID, session.TenantID,
			session.CredentialHash, session.IsActive, session.SessionType,
			session.IPAddress, session.UserAgent,
			session.Onboarding.NeedsOnboarding, session.Onboarding.OnboardingCompleted,
			session.Onboarding.OnboardingStep, session.Subscription.Plan,
			session.Subscription.Status, session.Data,
			session.CreatedAt, session.UpdatedAt, session.LastActivity, session.ExpiresAt,
		).Scan(&session.CreatedAt, &session.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create session: %w", database.MapPostgresError(err))
		}

		sec.SessionID = session.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO session_security (
				session_id, initial_risk_score, current_risk_score,
				risk_factors, anomalies, is_verified, verification_method,
				verified_at, otp_secret, otp_counter, last_heartbeat,
				heartbeat_interval_seconds, missed_heartbeats, recent_events,
				updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			sec.SessionID, sec.InitialRiskScore, sec.CurrentRiskScore,
			sec.RiskFactors, sec.Anomalies, sec.IsVerified, sec.VerificationMethod,
			sec.VerifiedAt, sec.OTPSecret, sec.OTPCounter, sec.LastHeartbeat,
			int(sec.HeartbeatInterval.Seconds()), sec.MissedHeartbeats,
			sec.RecentEvents, sec.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create session security: %w", database.MapPostgresError(err))
		}

		return nil
	})
}

// GetByTokenHash retrieves a session by its token hash. State checks
// (active, expired) are the caller's responsibility; only a missing row maps
// to NotFound.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1`

	session, err := scanSessionRow(r.db.Querier(ctx).QueryRow(ctx, query, tokenHash))
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetByID retrieves a session by its identifier
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	session, err := scanSessionRow(r.db.Querier(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Update applies a patch to an active session. The row is locked FOR UPDATE
// for the duration of the mutation so concurrent activity-pings and
// invalidations serialize rather than tear.
func (r *SessionRepository) Update(ctx context.Context, id uuid.UUID, patch *models.SessionPatch) (*models.Session, error) {
	var updated *models.Session

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		current, err := scanSessionRow(tx.QueryRow(ctx,
			`SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND is_active = true FOR UPDATE`, id))
		if err != nil {
			return err
		}

		now := time.Now()
		if current.IsExpired(now) {
			return models.ErrNotFound
		}

		if patch.Onboarding != nil {
			current.Onboarding = *patch.Onboarding
		}
		if patch.Subscription != nil {
			current.Subscription = *patch.Subscription
		}
		if patch.Data != nil {
			if current.Data == nil {
				current.Data = make(models.SessionData)
			}
			for k, v := range patch.Data {
				current.Data[k] = v
			}
		}
		if patch.LastActivity != nil {
			current.LastActivity = *patch.LastActivity
		}
		if patch.IPAddress != nil {
			current.IPAddress = *patch.IPAddress
		}
		if patch.UserAgent != nil {
			current.UserAgent = *patch.UserAgent
		}
		current.UpdatedAt = now

		_, err = tx.Exec(ctx, `
			UPDATE sessions SET
				needs_onboarding = $2, onboarding_completed = $3,
				onboarding_step = $4, plan = $5, plan_status = $6,
				data = $7, last_activity = $8, ip_address = $9,
				user_agent = $10, updated_at = $11
			WHERE id = $1`,
			current.ID,
			current.Onboarding.NeedsOnboarding, current.Onboarding.OnboardingCompleted,
			current.Onboarding.OnboardingStep, current.Subscription.Plan,
			current.Subscription.Status, current.Data, current.LastActivity,
			current.IPAddress, current.UserAgent, current.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", database.MapPostgresError(err))
		}

		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// Extend pushes the session expiry out by the given duration, never past
// created_at + maxLifetime.
func (r *SessionRepository) Extend(ctx context.Context, id uuid.UUID, duration, maxLifetime time.Duration) (*models.Session, error) {
	var extended *models.Session

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		current, err := scanSessionRow(tx.QueryRow(ctx,
			`SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND is_active = true FOR UPDATE`, id))
		if err != nil {
			return err
		}

		now := time.Now()
		if current.IsExpired(now) {
			return models.ErrNotFound
		}

		newExpiry := now.Add(duration)
		if ceiling := current.CreatedAt.Add(maxLifetime); newExpiry.After(ceiling) {
			newExpiry = ceiling
		}
		if newExpiry.Before(current.ExpiresAt) {
			// Extension never shortens a session.
			newExpiry = current.ExpiresAt
		}

		_, err = tx.Exec(ctx,
			`UPDATE sessions SET expires_at = $2, updated_at = $3 WHERE id = $1`,
			id, newExpiry, now)
		if err != nil {
			return fmt.Errorf("failed to extend session: %w", database.MapPostgresError(err))
		}

		current.ExpiresAt = newExpiry
		current.UpdatedAt = now
		extended = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	return extended, nil
}

// Invalidate deactivates a session. The active flag only ever transitions
// true to false; re-authentication creates a new row.
func (r *SessionRepository) Invalidate(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `
		UPDATE sessions
		SET is_active = false, updated_at = $2
		WHERE id = $1 AND is_active = true
		RETURNING ` + sessionColumns

	session, err := scanSessionRow(r.db.Querier(ctx).QueryRow(ctx, query, id, time.Now()))
	if err != nil {
		return nil, err
	}
	return session, nil
}

// InvalidateAllForPrincipal deactivates every active session the principal
// owns and returns the affected sessions for cache eviction.
func (r *SessionRepository) InvalidateAllForPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.Session, error) {
	query := `
		UPDATE sessions
		SET is_active = false, updated_at = $2
		WHERE principal_id = $1 AND is_active = true
		RETURNING ` + sessionColumns

	rows, err := r.db.Querier(ctx).Query(ctx, query, principalID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to invalidate sessions: %w", err)
	}

	return scanSessionRows(rows)
}

// ListActiveForPrincipal returns the principal's active, unexpired sessions
func (r *SessionRepository) ListActiveForPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE principal_id = $1 AND is_active = true AND expires_at > $2
		ORDER BY last_activity DESC`

	rows, err := r.db.Querier(ctx).Query(ctx, query, principalID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	return scanSessionRows(rows)
}

// CountCreatedSince counts sessions the principal created since the given
// time, feeding the rapid-session risk factor.
func (r *SessionRepository) CountCreatedSince(ctx context.Context, principalID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.Querier(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE principal_id = $1 AND created_at >= $2`,
		principalID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent sessions: %w", err)
	}
	return count, nil
}

// SweepExpired deactivates sessions past their expiry. Idempotent and safe
// to run concurrently from multiple workers: a re-run matches zero rows.
func (r *SessionRepository) SweepExpired(ctx context.Context) (int64, error) {
	result, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE sessions
		SET is_active = false, updated_at = $1
		WHERE is_active = true AND expires_at < $1`,
		time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}

	return result.RowsAffected(), nil
}
