package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Bounds on the per-session security bookkeeping. Both lists are ring
// buffers: appending past the bound drops the oldest entry.
const (
	MaxStoredAnomalies      = 50
	MaxStoredSecurityEvents = 100
)

// SessionSecurity holds the per-session risk state, one-to-one with Session.
// current_risk_score is always recomputed from named factors; every change
// appends to RiskFactors.
type SessionSecurity struct {
	SessionID          uuid.UUID     `db:"session_id"`
	InitialRiskScore   int           `db:"initial_risk_score"`
	CurrentRiskScore   int           `db:"current_risk_score"`
	RiskFactors        RiskFactors   `db:"risk_factors"`
	Anomalies          AnomalyList   `db:"anomalies"`
	IsVerified         bool          `db:"is_verified"`
	VerificationMethod *string       `db:"verification_method"`
	VerifiedAt         *time.Time    `db:"verified_at"`
	OTPSecret          string        `db:"otp_secret"`
	OTPCounter         int64         `db:"otp_counter"`
	LastHeartbeat      time.Time     `db:"last_heartbeat"`
	HeartbeatInterval  time.Duration `db:"-"` // persisted as seconds
	MissedHeartbeats   int           `db:"missed_heartbeats"`
	RecentEvents       SecurityLog   `db:"recent_events"`
	UpdatedAt          time.Time     `db:"updated_at"`
}

// Anomaly is a single named deviation detected on a request.
type Anomaly struct {
	Name       string    `json:"name"`
	Weight     int       `json:"weight"`
	Detail     string    `json:"detail,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// AnomalyList is a bounded JSONB list of detected anomalies.
type AnomalyList []Anomaly

// Append adds an anomaly, dropping the oldest once the bound is reached.
func (al AnomalyList) Append(a Anomaly) AnomalyList {
	out := append(al, a)
	if len(out) > MaxStoredAnomalies {
		out = out[len(out)-MaxStoredAnomalies:]
	}
	return out
}

// Scan implements sql.Scanner for JSONB
func (al *AnomalyList) Scan(value interface{}) error {
	if value == nil {
		*al = AnomalyList{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}
	var list []Anomaly
	if err := json.Unmarshal(bytes, &list); err != nil {
		return err
	}
	*al = AnomalyList(list)
	return nil
}

// Value implements driver.Valuer for JSONB
func (al AnomalyList) Value() (driver.Value, error) {
	if al == nil {
		return json.Marshal([]Anomaly{})
	}
	return json.Marshal([]Anomaly(al))
}

// SecurityLogEntry is one entry in the session's bounded security event buffer.
type SecurityLogEntry struct {
	Event      string    `json:"event"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SecurityLog is a bounded JSONB ring buffer of recent security events.
type SecurityLog []SecurityLogEntry

// Append adds an entry, dropping the oldest once the bound is reached.
func (sl SecurityLog) Append(e SecurityLogEntry) SecurityLog {
	out := append(sl, e)
	if len(out) > MaxStoredSecurityEvents {
		out = out[len(out)-MaxStoredSecurityEvents:]
	}
	return out
}

// Scan implements sql.Scanner for JSONB
func (sl *SecurityLog) Scan(value interface{}) error {
	if value == nil {
		*sl = SecurityLog{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}
	var list []SecurityLogEntry
	if err := json.Unmarshal(bytes, &list); err != nil {
		return err
	}
	*sl = SecurityLog(list)
	return nil
}

// Value implements driver.Valuer for JSONB
func (sl SecurityLog) Value() (driver.Value, error) {
	if sl == nil {
		return json.Marshal([]SecurityLogEntry{})
	}
	return json.Marshal([]SecurityLogEntry(sl))
}
