package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeviceFingerprint identifies a recurring device for one principal.
// Uniqueness is per (principal_id, fingerprint_hash).
type DeviceFingerprint struct {
	ID               uuid.UUID   `db:"id"`
	PrincipalID      uuid.UUID   `db:"principal_id"`
	FingerprintHash  string      `db:"fingerprint_hash"`
	TrustScore       int         `db:"trust_score"` // [0,100], base 50
	RiskScore        int         `db:"risk_score"`  // [0,100], base 0
	RiskFactors      RiskFactors `db:"risk_factors"`
	LoginCount       int         `db:"login_count"`
	FailedLoginCount int         `db:"failed_login_count"`
	IsTrusted        bool        `db:"is_trusted"`
	IsBlocked        bool        `db:"is_blocked"`
	BlockedReason    *string     `db:"blocked_reason"`
	BlockedAt        *time.Time  `db:"blocked_at"`
	UserAgent        string      `db:"user_agent"`
	LastIP           string      `db:"last_ip"`
	FirstSeen        time.Time   `db:"first_seen"`
	LastSeen         time.Time   `db:"last_seen"`
}

// AgeDays returns how many whole days this device has been known.
func (f *DeviceFingerprint) AgeDays(now time.Time) int {
	return int(now.Sub(f.FirstSeen).Hours() / 24)
}

// BlockCleared reports whether an existing block has outlived the cool-down.
func (f *DeviceFingerprint) BlockCleared(now time.Time, cooldown time.Duration) bool {
	if !f.IsBlocked || f.BlockedAt == nil {
		return !f.IsBlocked
	}
	return cooldown > 0 && now.Sub(*f.BlockedAt) >= cooldown
}

// RiskFactors maps named scoring factors to their contribution. Scores are
// always recomputed from these explicit factors, never adjusted opaquely.
type RiskFactors map[string]int

// Scan implements sql.Scanner for JSONB
func (rf *RiskFactors) Scan(value interface{}) error {
	if value == nil {
		*rf = make(RiskFactors)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]int
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*rf = RiskFactors(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (rf RiskFactors) Value() (driver.Value, error) {
	if rf == nil {
		return json.Marshal(map[string]int{})
	}
	return json.Marshal(map[string]int(rf))
}

// DeviceTrust is an explicit, verified, revocable "remember this device"
// grant. Revocation is terminal; a revoked grant is never reactivated.
type DeviceTrust struct {
	ID            uuid.UUID  `db:"id"`
	PrincipalID   uuid.UUID  `db:"principal_id"`
	FingerprintID uuid.UUID  `db:"fingerprint_id"`
	Name          string     `db:"name"`
	CodeHash      string     `db:"code_hash"` // bcrypt of the verification code
	IsVerified    bool       `db:"is_verified"`
	VerifiedAt    *time.Time `db:"verified_at"`
	ExpiresAt     *time.Time `db:"expires_at"`
	IsActive      bool       `db:"is_active"`
	RevokedAt     *time.Time `db:"revoked_at"`
	RevokedReason *string    `db:"revoked_reason"`
	CreatedAt     time.Time  `db:"created_at"`
}

// IsValid reports whether the grant currently confers trust:
// active AND verified AND (no expiry OR now < expiry).
func (t *DeviceTrust) IsValid(now time.Time) bool {
	if !t.IsActive || !t.IsVerified || t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return false
	}
	return true
}
