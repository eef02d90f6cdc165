package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/harborgrid/sessiond/internal/database"
	"github.com/harborgrid/sessiond/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// EventRepository handles the append-only session event log. Rows are never
// updated or deleted here; retention is an external concern.
type EventRepository struct {
	db *database.DB
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

func scanEventRow(row rowScanner) (*models.SessionEvent, error) {
	var e models.SessionEvent
	var anomalyNames []string

	err := row.Scan(
		&e.ID, &e.SessionID, &e.EventType, &e.Payload,
		pq.Array(&anomalyNames), &e.IPAddress, &e.UserAgent, &e.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if len(anomalyNames) > 0 {
		e.Payload["anomaly_names"] = anomalyNames
	}

	return &e, nil
}

func scanEventRows(rows pgx.Rows) ([]*models.SessionEvent, error) {
	defer rows.Close()

	events := make([]*models.SessionEvent, 0)

	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session event rows: %w", err)
	}

	return events, nil
}

// Create appends an event. anomalyNames feeds an indexed text[] column so
// operators can query terminations by anomaly without unpacking JSONB.
func (r *EventRepository) Create(ctx context.Context, event *models.SessionEvent, anomalyNames []string) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO session_events (
			id, session_id, event_type, payload, anomaly_names,
			ip_address, user_agent, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.SessionID, event.EventType, event.Payload,
		pq.Array(anomalyNames), event.IPAddress, event.UserAgent,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append session event: %w", database.MapPostgresError(err))
	}

	return nil
}

// ListBySession returns a session's events, newest first
func (r *EventRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.SessionEvent, error) {
	query := `
		SELECT id, session_id, event_type, payload, anomaly_names,
		       ip_address, user_agent, created_at
		FROM session_events
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Querier(ctx).Query(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}

	return scanEventRows(rows)
}

// ListByType returns recent events of one type across sessions
func (r *EventRepository) ListByType(ctx context.Context, eventType string, limit, offset int) ([]*models.SessionEvent, error) {
	query := `
		SELECT id, session_id, event_type, payload, anomaly_names,
		       ip_address, user_agent, created_at
		FROM session_events
		WHERE event_type = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Querier(ctx).Query(ctx, query, eventType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}

	return scanEventRows(rows)
}
