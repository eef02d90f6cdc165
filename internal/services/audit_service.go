package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/harborgrid/sessiond/internal/models"
	pkglogger "github.com/harborgrid/sessiond/pkg/logger"
)

// EventRepository defines the interface for the append-only session event trail
type EventRepository interface {
	Create(ctx context.Context, event *models.SessionEvent, anomalyNames []string) error
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.SessionEvent, error)
	ListByType(ctx context.Context, eventType string, limit, offset int) ([]*models.SessionEvent, error)
}

// AuditService records session lifecycle events with a dual-write pattern:
// every event goes to the structured log stream immediately, then to the
// session_events table. A failed table write never fails the operation that
// produced the event; it lands in the fallback sink instead.
type AuditService struct {
	repo        EventRepository
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo EventRepository, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuditService {
	return &AuditService{
		repo:        repo,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// RecordSessionEvent appends one event to the session's audit trail.
// anomalyNames, when present, is persisted alongside the payload for
// indexed querying.
func (s *AuditService) RecordSessionEvent(ctx context.Context, session *models.Session, eventType string, success bool, reason string, payload models.EventPayload, anomalyNames []string) {
	tenantID := ""
	if session.TenantID != nil {
		tenantID = session.TenantID.String()
	}

	metadata := make(map[string]string, len(payload))
	for k, v := range payload {
		metadata[k] = fmt.Sprintf("%v", v)
	}

	s.auditLogger.LogSecurityEvent(pkglogger.SecurityEvent{
		EventType:   eventType,
		SessionID:   session.ID.String(),
		PrincipalID: session.PrincipalID.String(),
		TenantID:    tenantID,
		IPAddress:   session.IPAddress,
		UserAgent:   session.UserAgent,
		Success:     success,
		Reason:      reason,
		Metadata:    metadata,
	})

	event := &models.SessionEvent{
		SessionID: session.ID,
		EventType: eventType,
		Payload:   payload,
		IPAddress: optional(session.IPAddress),
		UserAgent: optional(session.UserAgent),
	}
	if reason != "" {
		if event.Payload == nil {
			event.Payload = models.EventPayload{}
		}
		event.Payload["reason"] = reason
	}

	if err := s.repo.Create(ctx, event, anomalyNames); err != nil {
		s.auditLogger.LogAuditFailure(session.ID.String(), eventType, err)
	}
}

// GetSessionTrail retrieves the audit trail for one session, newest first.
func (s *AuditService) GetSessionTrail(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.SessionEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	events, err := s.repo.ListBySession(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get session audit trail: %w", err)
	}

	return events, nil
}

// GetEventsByType retrieves recent events of one type across all sessions.
func (s *AuditService) GetEventsByType(ctx context.Context, eventType string, limit, offset int) ([]*models.SessionEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	events, err := s.repo.ListByType(ctx, eventType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by type: %w", err)
	}

	return events, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
