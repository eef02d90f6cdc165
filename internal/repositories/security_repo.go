package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harborgrid/sessiond/internal/database"
	"github.com/harborgrid/sessiond/internal/models"
)

// SecurityRepository handles the per-session security state
type SecurityRepository struct {
	db *database.DB
}

// NewSecurityRepository creates a new SecurityRepository
func NewSecurityRepository(db *database.DB) *SecurityRepository {
	return &SecurityRepository{db: db}
}

func scanSecurityRow(row rowScanner) (*models.SessionSecurity, error) {
	var sec models.SessionSecurity
	var intervalSeconds int

	err := row.Scan(
		&sec.SessionID, &sec.InitialRiskScore, &sec.CurrentRiskScore,
		&sec.RiskFactors, &sec.Anomalies, &sec.IsVerified,
		&sec.VerificationMethod, &sec.VerifiedAt, &sec.OTPSecret,
		&sec.OTPCounter, &sec.LastHeartbeat, &intervalSeconds,
		&sec.MissedHeartbeats, &sec.RecentEvents, &sec.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	sec.HeartbeatInterval = time.Duration(intervalSeconds) * time.Second
	return &sec, nil
}

const securityColumns = `
	session_id, initial_risk_score, current_risk_score, risk_factors,
	anomalies, is_verified, verification_method, verified_at, otp_secret,
	otp_counter, last_heartbeat, heartbeat_interval_seconds,
	missed_heartbeats, recent_events, updated_at`

// GetBySessionID retrieves the security state for a session
func (r *SecurityRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*models.SessionSecurity, error) {
	query := `SELECT ` + securityColumns + ` FROM session_security WHERE session_id = $1`

	sec, err := scanSecurityRow(r.db.Querier(ctx).QueryRow(ctx, query, sessionID))
	if err != nil {
		return nil, err
	}
	return sec, nil
}

// Update persists the full security state after an evaluation
func (r *SecurityRepository) Update(ctx context.Context, sec *models.SessionSecurity) error {
	sec.UpdatedAt = time.Now()

	result, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE session_security SET
			current_risk_score = $2, risk_factors = $3, anomalies = $4,
			is_verified = $5, verification_method = $6, verified_at = $7,
			otp_counter = $8, last_heartbeat = $9, missed_heartbeats = $10,
			recent_events = $11, updated_at = $12
		WHERE session_id = $1`,
		sec.SessionID, sec.CurrentRiskScore, sec.RiskFactors, sec.Anomalies,
		sec.IsVerified, sec.VerificationMethod, sec.VerifiedAt,
		sec.OTPCounter, sec.LastHeartbeat, sec.MissedHeartbeats,
		sec.RecentEvents, sec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update session security: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// RecordHeartbeat persists a heartbeat only when at least one interval has
// elapsed since the last persisted one. Returns whether a write happened,
// which makes the endpoint idempotent within an interval.
func (r *SecurityRepository) RecordHeartbeat(ctx context.Context, sessionID uuid.UUID, now time.Time) (bool, error) {
	result, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE session_security
		SET last_heartbeat = $2, updated_at = $2
		WHERE session_id = $1
		  AND last_heartbeat <= $2 - (heartbeat_interval_seconds * interval '1 second')`,
		sessionID, now)
	if err != nil {
		return false, fmt.Errorf("failed to record heartbeat: %w", database.MapPostgresError(err))
	}

	return result.RowsAffected() > 0, nil
}
