// Package fingerprint identifies recurring devices from stable browser and
// network signals and maintains the per-device trust and risk scores.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"time"

	"github.com/harborgrid/sessiond/internal/models"
)

// Named risk factors. Scores are only ever built from these; there is no
// opaque adjustment path.
const (
	FactorNewDevice     = "new_device"
	FactorFailedLogins  = "failed_logins"
	FactorRapidSessions = "rapid_sessions"
)

// Factor weights
const (
	weightNewDevice     = 30
	weightFailedLogins  = 20
	weightRapidSessions = 15

	failedLoginRiskThreshold   = 3
	rapidSessionCountThreshold = 5
)

// Components are the stable device/browser signals collected by the client:
// user-agent, screen resolution, timezone, language, platform, rendering
// engine identifiers, canvas signature, plus network origin.
type Components map[string]string

// Hash derives the deterministic fingerprint hash. The result is independent
// of map insertion order: keys are sorted before hashing. Keys and values are
// length-prefixed so component boundaries survive hashing; client-controlled
// values containing separator characters cannot collide with a different
// component split.
func Hash(components Components) string {
	keys := make([]string, 0, len(components))
	for k := range components {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	var prefix [8]byte
	for _, k := range keys {
		v := components[k]
		binary.BigEndian.PutUint32(prefix[:4], uint32(len(k)))
		binary.BigEndian.PutUint32(prefix[4:], uint32(len(v)))
		h.Write(prefix[:])
		h.Write([]byte(k))
		h.Write([]byte(v))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// ScoreContext carries the per-sighting signals the scorer needs beyond the
// fingerprint row itself.
type ScoreContext struct {
	FirstSighting      bool
	RecentSessionCount int // sessions created by the principal in the trailing hour
	Now                time.Time
}

// UpdateTrustScore recomputes the device trust score from its history.
// Additive from base 50, clamped to [0,100].
func UpdateTrustScore(fp *models.DeviceFingerprint, now time.Time) {
	score := 50

	if fp.LoginCount > 10 {
		score += 10
	}
	if fp.LoginCount > 50 {
		score += 10
	}

	age := fp.AgeDays(now)
	if age > 30 {
		score += 15
	}
	if age > 90 {
		score += 15
	}

	if fp.FailedLoginCount > 5 {
		score -= 20
	}
	if fp.RiskScore > 70 {
		score -= 20
	}

	fp.TrustScore = clamp(score)
	fp.IsTrusted = fp.TrustScore >= 70
}

// UpdateRiskScore recomputes the device risk score from named factors.
// Additive from base 0, clamped to [0,100]; every contribution is recorded
// in the factor map so the score stays explainable.
func UpdateRiskScore(fp *models.DeviceFingerprint, sctx ScoreContext) {
	score := 0
	factors := make(models.RiskFactors)

	if sctx.FirstSighting {
		score += weightNewDevice
		factors[FactorNewDevice] = weightNewDevice
	}

	if fp.FailedLoginCount > failedLoginRiskThreshold {
		score += weightFailedLogins
		factors[FactorFailedLogins] = weightFailedLogins
	}

	if sctx.RecentSessionCount > rapidSessionCountThreshold {
		score += weightRapidSessions
		factors[FactorRapidSessions] = weightRapidSessions
	}

	fp.RiskScore = clamp(score)
	fp.RiskFactors = factors
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
