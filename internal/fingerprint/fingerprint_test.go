package fingerprint

import (
	"testing"
	"time"

	"github.com/harborgrid/sessiond/internal/models"
	"github.com/stretchr/testify/assert"
)

func sampleComponents() Components {
	return Components{
		"user_agent":  "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
		"screen":      "2560x1440",
		"timezone":    "America/Chicago",
		"language":    "en-US",
		"platform":    "MacIntel",
		"webgl":       "ANGLE (Apple, Apple M1, OpenGL 4.1)",
		"canvas":      "c41f8a09",
		"remote_addr": "203.0.113.10",
	}
}

func TestHash_Deterministic(t *testing.T) {
	h1 := Hash(sampleComponents())
	h2 := Hash(sampleComponents())

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHash_OrderIndependent(t *testing.T) {
	// Build the same map twice in different insertion orders.
	a := Components{}
	a["user_agent"] = "ua"
	a["screen"] = "1920x1080"
	a["canvas"] = "deadbeef"

	b := Components{}
	b["canvas"] = "deadbeef"
	b["screen"] = "1920x1080"
	b["user_agent"] = "ua"

	assert.Equal(t, Hash(a), Hash(b))
}

func TestHash_SingleComponentChanges(t *testing.T) {
	base := Hash(sampleComponents())

	changed := sampleComponents()
	changed["timezone"] = "Europe/Berlin"

	assert.NotEqual(t, base, Hash(changed))
}

func TestHash_ComponentBoundariesPreserved(t *testing.T) {
	// A value that embeds separator characters must not collide with the
	// component split it mimics.
	folded := Components{"a": "x;b=y"}
	split := Components{"a": "x", "b": "y"}

	assert.NotEqual(t, Hash(folded), Hash(split))

	// Nor may content shift between a key and its neighboring value.
	assert.NotEqual(t, Hash(Components{"ab": "c"}), Hash(Components{"a": "bc"}))
}

func TestUpdateTrustScore_NewDeviceBaseline(t *testing.T) {
	now := time.Now()
	fp := &models.DeviceFingerprint{FirstSeen: now, LoginCount: 1}

	UpdateTrustScore(fp, now)

	assert.Equal(t, 50, fp.TrustScore)
	assert.False(t, fp.IsTrusted)
}

func TestUpdateTrustScore_EstablishedDevice(t *testing.T) {
	now := time.Now()
	fp := &models.DeviceFingerprint{
		FirstSeen:  now.Add(-120 * 24 * time.Hour),
		LoginCount: 60,
	}

	UpdateTrustScore(fp, now)

	// 50 + 10 (>10 logins) + 10 (>50) + 15 (>30d) + 15 (>90d) = 100
	assert.Equal(t, 100, fp.TrustScore)
	assert.True(t, fp.IsTrusted)
}

func TestUpdateTrustScore_PenalizesFailuresAndRisk(t *testing.T) {
	now := time.Now()
	fp := &models.DeviceFingerprint{
		FirstSeen:        now,
		LoginCount:       1,
		FailedLoginCount: 6,
		RiskScore:        80,
	}

	UpdateTrustScore(fp, now)

	// 50 - 20 (failed > 5) - 20 (risk > 70) = 10
	assert.Equal(t, 10, fp.TrustScore)
}

func TestUpdateTrustScore_Bounded(t *testing.T) {
	now := time.Now()
	fp := &models.DeviceFingerprint{
		FirstSeen:        now,
		FailedLoginCount: 100,
		RiskScore:        100,
	}

	UpdateTrustScore(fp, now)
	assert.GreaterOrEqual(t, fp.TrustScore, 0)
	assert.LessOrEqual(t, fp.TrustScore, 100)
}

func TestUpdateRiskScore_FirstSighting(t *testing.T) {
	fp := &models.DeviceFingerprint{}

	UpdateRiskScore(fp, ScoreContext{FirstSighting: true, Now: time.Now()})

	assert.Equal(t, 30, fp.RiskScore)
	assert.Equal(t, 30, fp.RiskFactors[FactorNewDevice])
}

func TestUpdateRiskScore_AllFactors(t *testing.T) {
	fp := &models.DeviceFingerprint{FailedLoginCount: 4}

	UpdateRiskScore(fp, ScoreContext{
		FirstSighting:      true,
		RecentSessionCount: 6,
		Now:                time.Now(),
	})

	// 30 + 20 + 15 = 65 with all three factors named
	assert.Equal(t, 65, fp.RiskScore)
	assert.Len(t, fp.RiskFactors, 3)
	assert.Equal(t, 20, fp.RiskFactors[FactorFailedLogins])
	assert.Equal(t, 15, fp.RiskFactors[FactorRapidSessions])
}

func TestUpdateRiskScore_RecomputedNotAccumulated(t *testing.T) {
	fp := &models.DeviceFingerprint{}

	UpdateRiskScore(fp, ScoreContext{FirstSighting: true, Now: time.Now()})
	assert.Equal(t, 30, fp.RiskScore)

	// A later clean sighting replaces the factor map entirely.
	UpdateRiskScore(fp, ScoreContext{FirstSighting: false, Now: time.Now()})
	assert.Equal(t, 0, fp.RiskScore)
	assert.Empty(t, fp.RiskFactors)
}
