package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harborgrid/sessiond/internal/database"
	"github.com/harborgrid/sessiond/internal/models"
	"github.com/jackc/pgx/v5"
)

const fingerprintColumns = `
	id, principal_id, fingerprint_hash, trust_score, risk_score,
	risk_factors, login_count, failed_login_count, is_trusted, is_blocked,
	blocked_reason, blocked_at, user_agent, last_ip, first_seen, last_seen`

// FingerprintRepository handles device fingerprint persistence
type FingerprintRepository struct {
	db *database.DB
}

// NewFingerprintRepository creates a new FingerprintRepository
func NewFingerprintRepository(db *database.DB) *FingerprintRepository {
	return &FingerprintRepository{db: db}
}

func scanFingerprintRow(row rowScanner) (*models.DeviceFingerprint, error) {
	var fp models.DeviceFingerprint

	err := row.Scan(
		&fp.ID, &fp.PrincipalID, &fp.FingerprintHash, &fp.TrustScore,
		&fp.RiskScore, &fp.RiskFactors, &fp.LoginCount, &fp.FailedLoginCount,
		&fp.IsTrusted, &fp.IsBlocked, &fp.BlockedReason, &fp.BlockedAt,
		&fp.UserAgent, &fp.LastIP, &fp.FirstSeen, &fp.LastSeen,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &fp, nil
}

func scanFingerprintRows(rows pgx.Rows) ([]*models.DeviceFingerprint, error) {
	defer rows.Close()

	fps := make([]*models.DeviceFingerprint, 0)

	for rows.Next() {
		fp, err := scanFingerprintRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fps = append(fps, fp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fingerprint rows: %w", err)
	}

	return fps, nil
}

// GetOrCreate returns the fingerprint row for (principal, hash), creating it
// on first sighting. The second return reports whether a row was created.
// Concurrent first sightings are resolved by the unique constraint: the
// loser of the race re-reads the winner's row.
func (r *FingerprintRepository) GetOrCreate(ctx context.Context, principalID uuid.UUID, hash, userAgent, ip string) (*models.DeviceFingerprint, bool, error) {
	fp, err := r.GetByHash(ctx, principalID, hash)
	if err == nil {
		return fp, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}

	now := time.Now()
	created, err := scanFingerprintRow(r.db.Querier(ctx).QueryRow(ctx, `
		INSERT INTO device_fingerprints (
			id, principal_id, fingerprint_hash, trust_score, risk_score,
			risk_factors, login_count, failed_login_count, is_trusted,
			is_blocked, user_agent, last_ip, first_seen, last_seen
		)
		VALUES ($1, $2, $3, 50, 0, '{}', 0, 0, false, false, $4, $5, $6, $6)
		ON CONFLICT (principal_id, fingerprint_hash) DO NOTHING
		RETURNING `+fingerprintColumns,
		uuid.New(), principalID, hash, userAgent, ip, now))
	if errors.Is(err, models.ErrNotFound) {
		// Lost the race: another worker inserted the row first.
		fp, err = r.GetByHash(ctx, principalID, hash)
		if err != nil {
			return nil, false, err
		}
		return fp, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create fingerprint: %w", err)
	}

	return created, true, nil
}

// GetByHash retrieves a fingerprint by its principal-scoped hash
func (r *FingerprintRepository) GetByHash(ctx context.Context, principalID uuid.UUID, hash string) (*models.DeviceFingerprint, error) {
	query := `SELECT ` + fingerprintColumns + `
		FROM device_fingerprints
		WHERE principal_id = $1 AND fingerprint_hash = $2`

	return scanFingerprintRow(r.db.Querier(ctx).QueryRow(ctx, query, principalID, hash))
}

// GetByID retrieves a fingerprint by its identifier
func (r *FingerprintRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DeviceFingerprint, error) {
	query := `SELECT ` + fingerprintColumns + ` FROM device_fingerprints WHERE id = $1`

	return scanFingerprintRow(r.db.Querier(ctx).QueryRow(ctx, query, id))
}

// ListForPrincipal returns the principal's known devices, most recent first
func (r *FingerprintRepository) ListForPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.DeviceFingerprint, error) {
	query := `SELECT ` + fingerprintColumns + `
		FROM device_fingerprints
		WHERE principal_id = $1
		ORDER BY last_seen DESC`

	rows, err := r.db.Querier(ctx).Query(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}

	return scanFingerprintRows(rows)
}

// Update persists the fingerprint's counters, scores, and block state
func (r *FingerprintRepository) Update(ctx context.Context, fp *models.DeviceFingerprint) error {
	result, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE device_fingerprints SET
			trust_score = $2, risk_score = $3, risk_factors = $4,
			login_count = $5, failed_login_count = $6, is_trusted = $7,
			is_blocked = $8, blocked_reason = $9, blocked_at = $10,
			user_agent = $11, last_ip = $12, last_seen = $13
		WHERE id = $1`,
		fp.ID, fp.TrustScore, fp.RiskScore, fp.RiskFactors,
		fp.LoginCount, fp.FailedLoginCount, fp.IsTrusted,
		fp.IsBlocked, fp.BlockedReason, fp.BlockedAt,
		fp.UserAgent, fp.LastIP, fp.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to update fingerprint: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// Unblock clears a block manually (admin surface)
func (r *FingerprintRepository) Unblock(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE device_fingerprints
		SET is_blocked = false, blocked_reason = NULL, blocked_at = NULL,
		    failed_login_count = 0
		WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("failed to unblock fingerprint: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// ClearCooledBlocks durably clears blocks older than the cool-down window.
// Safe to run repeatedly; a second pass matches nothing.
func (r *FingerprintRepository) ClearCooledBlocks(ctx context.Context, cooldown time.Duration) (int64, error) {
	result, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE device_fingerprints
		SET is_blocked = false, blocked_reason = NULL, blocked_at = NULL,
		    failed_login_count = 0
		WHERE is_blocked = true AND blocked_at < $1`,
		time.Now().Add(-cooldown))
	if err != nil {
		return 0, fmt.Errorf("failed to clear cooled blocks: %w", err)
	}

	return result.RowsAffected(), nil
}
