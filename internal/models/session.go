package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Session types
const (
	SessionTypeWeb    = "web"
	SessionTypeMobile = "mobile"
	SessionTypeAPI    = "api"
)

// Session is the authoritative server-owned record for an authenticated
// context. The opaque token handed to the client is never stored; only
// TokenHash is persisted and used for lookup.
type Session struct {
	ID             uuid.UUID    `db:"id"`
	TokenHash      string       `db:"token_hash"`
	PrincipalID    uuid.UUID    `db:"principal_id"`
	TenantID       *uuid.UUID   `db:"tenant_id"`
	CredentialHash string       `db:"credential_hash"` // hashed upstream bearer credential, never the raw value
	IsActive       bool         `db:"is_active"`
	SessionType    string       `db:"session_type"`
	IPAddress      string       `db:"ip_address"`
	UserAgent      string       `db:"user_agent"`
	Onboarding     Onboarding   `db:"-"`
	Subscription   Subscription `db:"-"`
	Data           SessionData  `db:"data"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
	LastActivity   time.Time    `db:"last_activity"`
	ExpiresAt      time.Time    `db:"expires_at"`
}

// Onboarding is the session's snapshot of the principal's onboarding state.
// The principal row is the source of truth; this copy is derived.
type Onboarding struct {
	NeedsOnboarding     bool `json:"needs_onboarding"`
	OnboardingCompleted bool `json:"onboarding_completed"`
	OnboardingStep      int  `json:"onboarding_step"`
}

// Subscription is the session's snapshot of the tenant's subscription.
type Subscription struct {
	Plan   string `json:"plan"`
	Status string `json:"status"`
}

// IsExpired reports whether the session is past its expiry at the given time.
// Expiry is evaluated at read time; the background sweep only catches up.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Usable reports whether the session can still authenticate a request.
func (s *Session) Usable(now time.Time) bool {
	return s.IsActive && !s.IsExpired(now)
}

// SessionData is the free-form key/value bag attached to a session,
// persisted as JSONB.
type SessionData map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (d *SessionData) Scan(value interface{}) error {
	if value == nil {
		*d = make(SessionData)
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
	*d = SessionData(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d SessionData) Value() (driver.Value, error) {
	if d == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(map[string]interface{}(d))
}

// SessionPatch describes a partial update to a session's mutable fields.
// Nil fields are left untouched.
type SessionPatch struct {
	Onboarding   *Onboarding
	Subscription *Subscription
	Data         SessionData // merged key-by-key into the existing bag
	LastActivity *time.Time
	IPAddress    *string
	UserAgent    *string
}
