package logger

import (
	"context"
	"log/slog"
	"time"
)

// SecurityEvent represents a session-security audit event destined for the
// structured log stream. This is the secondary, lower-guarantee sink; the
// primary audit trail is the session_events table.
type SecurityEvent struct {
	EventType   string
	SessionID   string
	PrincipalID string
	TenantID    string
	IPAddress   string
	UserAgent   string
	Success     bool
	Reason      string
	Metadata    map[string]string
}

// AuditLogger provides security audit logging on top of slog
type AuditLogger struct {
	logger *slog.Logger
	env    string
}

// NewAuditLogger creates a new audit logger. The environment decides
// whether sensitive metadata values appear in clear text.
func NewAuditLogger(logger *slog.Logger, env string) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		env:    env,
	}
}

// sensitiveMetadataKeys are metadata entries whose values never reach
// production logs in clear text.
var sensitiveMetadataKeys = map[string]bool{
	"fingerprint_hash": true,
	"code":             true,
	"credential":       true,
	"token":            true,
}

// LogSecurityEvent logs a session security event. Failed events are logged at
// Warn so they stand out in aggregation.
func (al *AuditLogger) LogSecurityEvent(event SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "session_security"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.PrincipalID != "" {
		attrs = append(attrs, slog.String("principal_id", event.PrincipalID))
	}
	if event.TenantID != "" {
		attrs = append(attrs, slog.String("tenant_id", event.TenantID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	for k, v := range event.Metadata {
		if sensitiveMetadataKeys[k] {
			attrs = append(attrs, RedactedAttr(k, v, al.env))
		} else {
			attrs = append(attrs, slog.String(k, v))
		}
	}

	if event.Success {
		al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
	}
}

// LogAuditFailure records that writing to the primary audit trail failed.
// The triggering operation has already succeeded; this is the fallback sink.
func (al *AuditLogger) LogAuditFailure(sessionID, eventType string, err error) {
	al.logger.LogAttrs(context.Background(), slog.LevelError, "audit_write_failed",
		slog.String("audit_type", "session_security"),
		slog.String("session_id", sessionID),
		slog.String("event_type", eventType),
		slog.Any("error", err),
	)
}
