package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harborgrid/sessiond/internal/database"
	"github.com/harborgrid/sessiond/internal/models"
)

const principalColumns = `
	id, email, name, tenant_id, status, onboarding_completed,
	onboarding_step, plan, plan_status, created_at, updated_at`

// PrincipalRepository reads the verified principals handed over by upstream
// login. This subsystem owns sessions, not identities; principals are
// written by the identity pipeline and only onboarding state is mutated here.
type PrincipalRepository struct {
	db *database.DB
}

// NewPrincipalRepository creates a new PrincipalRepository
func NewPrincipalRepository(db *database.DB) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

func scanPrincipalRow(row rowScanner) (*models.Principal, error) {
	var p models.Principal

	err := row.Scan(
		&p.ID, &p.Email, &p.Name, &p.TenantID, &p.Status,
		&p.OnboardingCompleted, &p.OnboardingStep, &p.Plan, &p.PlanStatus,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &p, nil
}

// GetByID retrieves a principal by its identifier
func (r *PrincipalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`

	return scanPrincipalRow(r.db.Querier(ctx).QueryRow(ctx, query, id))
}

// Create inserts a principal row. Used by provisioning and tests.
func (r *PrincipalRepository) Create(ctx context.Context, p *models.Principal) error {
	now := time.Now()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	err := r.db.Querier(ctx).QueryRow(ctx, `
		INSERT INTO principals (
			id, email, name, tenant_id, status, onboarding_completed,
			onboarding_step, plan, plan_status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING created_at, updated_at`,
		p.ID, p.Email, p.Name, p.TenantID, p.Status,
		p.OnboardingCompleted, p.OnboardingStep, p.Plan, p.PlanStatus, now,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create principal: %w", database.MapPostgresError(err))
	}

	return nil
}

// UpdateOnboarding advances the principal's onboarding state, the single
// source of truth that session snapshots derive from.
func (r *PrincipalRepository) UpdateOnboarding(ctx context.Context, id uuid.UUID, completed bool, step int) error {
	result, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE principals
		SET onboarding_completed = $2, onboarding_step = $3, updated_at = $4
		WHERE id = $1`,
		id, completed, step, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update onboarding: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
