package integration

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/harborgrid/sessiond/internal/database"
	"github.com/harborgrid/sessiond/internal/models"
	"github.com/harborgrid/sessiond/internal/repositories"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("sessiond"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	dbWrapper := &database.DB{
		Pool: pool,
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         dbWrapper,
	}, nil
}

// runMigrations executes all goose migrations
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	// Suppress goose logs
	goose.SetLogger(log.New(io.Discard, "", 0))

	// Goose needs a stdlib DB connection
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"session_events",
		"session_security",
		"device_trusts",
		"device_fingerprints",
		"sessions",
		"principals",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// InitializeRepositories creates all repository instances from database wrapper
func InitializeRepositories(db *database.DB) (
	*repositories.SessionRepository,
	*repositories.SecurityRepository,
	*repositories.PrincipalRepository,
	*repositories.FingerprintRepository,
	*repositories.TrustRepository,
	*repositories.EventRepository,
) {
	return repositories.NewSessionRepository(db),
		repositories.NewSecurityRepository(db),
		repositories.NewPrincipalRepository(db),
		repositories.NewFingerprintRepository(db),
		repositories.NewTrustRepository(db),
		repositories.NewEventRepository(db)
}

// SeedPrincipal inserts a verified principal the way the upstream identity
// pipeline would.
func SeedPrincipal(ctx context.Context, pool *pgxpool.Pool, email string, tenantID *uuid.UUID) (*models.Principal, error) {
	query := `
		INSERT INTO principals (email, name, tenant_id, status, plan, plan_status)
		VALUES ($1, $2, $3, 'active', 'pro', 'active')
		RETURNING id, email, name, tenant_id, status, onboarding_completed,
			onboarding_step, plan, plan_status, created_at, updated_at
	`

	var p models.Principal
	err := pool.QueryRow(ctx, query, email, "Test Principal", tenantID).Scan(
		&p.ID, &p.Email, &p.Name, &p.TenantID, &p.Status,
		&p.OnboardingCompleted, &p.OnboardingStep, &p.Plan, &p.PlanStatus,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert principal: %w", err)
	}

	return &p, nil
}

// SetPrincipalStatus flips a principal's account status directly, simulating
// an upstream suspension or deletion event.
func SetPrincipalStatus(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID, status string) error {
	_, err := pool.Exec(ctx, `UPDATE principals SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to set principal status: %w", err)
	}
	return nil
}

// ExpireSession backdates a session's expiry so read-time expiry rules fire.
func ExpireSession(ctx context.Context, pool *pgxpool.Pool, sessionID uuid.UUID) error {
	_, err := pool.Exec(ctx,
		`UPDATE sessions SET expires_at = now() - interval '1 minute' WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to expire session: %w", err)
	}
	return nil
}

// CountActiveSessions counts is_active rows for a principal straight from
// the store.
func CountActiveSessions(ctx context.Context, pool *pgxpool.Pool, principalID uuid.UUID) (int, error) {
	var count int
	err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE principal_id = $1 AND is_active = true`, principalID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}
