package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types for the session audit log
const (
	EventTypeCreated     = "created"
	EventTypeUpdated     = "updated"
	EventTypeExtended    = "extended"
	EventTypeInvalidated = "invalidated"
	EventTypeExpired     = "expired"
	EventTypeSuspicious  = "suspicious"

	EventTypeHeartbeat       = "heartbeat"
	EventTypeMissedHeartbeat = "missed_heartbeat"
	EventTypeTerminated      = "session_terminated"
	EventTypeVerified        = "session_verified"
	EventTypeTrustGranted    = "device_trust_granted"
	EventTypeTrustVerified   = "device_trust_verified"
	EventTypeTrustRevoked    = "device_trust_revoked"
	EventTypeDeviceBlocked   = "device_blocked"
)

// SessionEvent is an append-only audit record for a session. Rows are never
// mutated or deleted by the running system.
type SessionEvent struct {
	ID        uuid.UUID    `db:"id"`
	SessionID uuid.UUID    `db:"session_id"`
	EventType string       `db:"event_type"`
	Payload   EventPayload `db:"payload"`
	IPAddress *string      `db:"ip_address"`
	UserAgent *string      `db:"user_agent"`
	CreatedAt time.Time    `db:"created_at"`
}

// EventPayload holds structured context for a session event
type EventPayload map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (p *EventPayload) Scan(value interface{}) error {
	if value == nil {
		*p = make(EventPayload)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*p = EventPayload(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (p EventPayload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(p))
}
