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

const trustColumns = `
	id, principal_id, fingerprint_id, name, code_hash, is_verified,
	verified_at, expires_at, is_active, revoked_at, revoked_reason, created_at`

// TrustRepository handles device trust grants
type TrustRepository struct {
	db *database.DB
}

// NewTrustRepository creates a new TrustRepository
func NewTrustRepository(db *database.DB) *TrustRepository {
	return &TrustRepository{db: db}
}

func scanTrustRow(row rowScanner) (*models.DeviceTrust, error) {
	var t models.DeviceTrust

	err := row.Scan(
		&t.ID, &t.PrincipalID, &t.FingerprintID, &t.Name, &t.CodeHash,
		&t.IsVerified, &t.VerifiedAt, &t.ExpiresAt, &t.IsActive,
		&t.RevokedAt, &t.RevokedReason, &t.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &t, nil
}

func scanTrustRows(rows pgx.Rows) ([]*models.DeviceTrust, error) {
	defer rows.Close()

	trusts := make([]*models.DeviceTrust, 0)

	for rows.Next() {
		t, err := scanTrustRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device trust: %w", err)
		}
		trusts = append(trusts, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device trust rows: %w", err)
	}

	return trusts, nil
}

// Create persists a new, unverified trust grant
func (r *TrustRepository) Create(ctx context.Context, t *models.DeviceTrust) error {
	err := r.db.Querier(ctx).QueryRow(ctx, `
		INSERT INTO device_trusts (
			id, principal_id, fingerprint_id, name, code_hash, is_verified,
			expires_at, is_active, created_at
		)
		VALUES ($1, $2, $3, $4, $5, false, $6, true, $7)
		RETURNING created_at`,
		t.ID, t.PrincipalID, t.FingerprintID, t.Name, t.CodeHash,
		t.ExpiresAt, t.CreatedAt,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create device trust: %w", database.MapPostgresError(err))
	}

	return nil
}

// GetByID retrieves a trust grant by its identifier
func (r *TrustRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DeviceTrust, error) {
	query := `SELECT ` + trustColumns + ` FROM device_trusts WHERE id = $1`

	return scanTrustRow(r.db.Querier(ctx).QueryRow(ctx, query, id))
}

// GetActiveForFingerprint returns the newest active grant for a
// (principal, fingerprint) pair
func (r *TrustRepository) GetActiveForFingerprint(ctx context.Context, principalID, fingerprintID uuid.UUID) (*models.DeviceTrust, error) {
	query := `SELECT ` + trustColumns + `
		FROM device_trusts
		WHERE principal_id = $1 AND fingerprint_id = $2 AND is_active = true
		ORDER BY created_at DESC
		LIMIT 1`

	return scanTrustRow(r.db.Querier(ctx).QueryRow(ctx, query, principalID, fingerprintID))
}

// ListForPrincipal returns the principal's trust grants, newest first
func (r *TrustRepository) ListForPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.DeviceTrust, error) {
	query := `SELECT ` + trustColumns + `
		FROM device_trusts
		WHERE principal_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Querier(ctx).Query(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query device trusts: %w", err)
	}

	return scanTrustRows(rows)
}

// MarkVerified flips an active, unverified grant to verified
func (r *TrustRepository) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE device_trusts
		SET is_verified = true, verified_at = $2
		WHERE id = $1 AND is_active = true AND is_verified = false`,
		id, at)
	if err != nil {
		return fmt.Errorf("failed to verify device trust: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// Revoke terminally deactivates a grant. There is no un-revoke.
func (r *TrustRepository) Revoke(ctx context.Context, id uuid.UUID, reason string) error {
	result, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE device_trusts
		SET is_active = false, revoked_at = $2, revoked_reason = $3
		WHERE id = $1 AND is_active = true`,
		id, time.Now(), reason)
	if err != nil {
		return fmt.Errorf("failed to revoke device trust: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// DeactivateExpired deactivates grants whose expiry has passed. Idempotent.
func (r *TrustRepository) DeactivateExpired(ctx context.Context) (int64, error) {
	result, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE device_trusts
		SET is_active = false
		WHERE is_active = true AND expires_at IS NOT NULL AND expires_at < $1`,
		time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired trusts: %w", err)
	}

	return result.RowsAffected(), nil
}
