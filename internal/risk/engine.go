// Package risk evaluates every authenticated request against the session's
// stored security state and decides whether to allow it, require
// verification, challenge it, or terminate the session.
//
// Evaluate is a pure function of stored state plus the incoming request
// signal: the same inputs always reproduce the same verdict. All memory
// lives in SessionSecurity.
package risk

import (
	"time"

	"github.com/harborgrid/sessiond/internal/models"
)

// Decision is the engine's verdict for a request.
type Decision string

const (
	DecisionAllow     Decision = "allow"
	DecisionVerify    Decision = "verify"
	DecisionChallenge Decision = "challenge"
	DecisionTerminate Decision = "terminate"
)

// Anomaly names and weights
const (
	AnomalyIPChange        = "ip_change"
	AnomalyUserAgentChange = "user_agent_change"
	AnomalyRapidRequests   = "rapid_requests"

	weightIPChange        = 30
	weightUserAgentChange = 20
	weightRapidRequests   = 15

	rapidRequestWindow = 500 * time.Millisecond
)

// Aggregation contributions
const (
	contribAnomalies       = 20 // anomaly score above 30
	contribMissedHeartbeat = 15 // more than 3 missed heartbeats
	contribUntrustedDevice = 25 // device trust score below 30

	anomalyScoreTrigger    = 30
	missedHeartbeatTrigger = 3
	lowTrustTrigger        = 30
)

// Thresholds holds the configured decision boundaries.
type Thresholds struct {
	Verify                 int // risk at or above: verify unless already verified
	Challenge              int // risk at or above: challenge
	Terminate              int // risk at or above: terminate
	HeartbeatMissThreshold int // missed heartbeats above: terminate
}

// Signal is the incoming request's contribution to the evaluation.
type Signal struct {
	IPAddress        string
	UserAgent        string
	FingerprintHash  string // empty when the client sent no fingerprint
	DeviceTrustScore int    // trust score of the associated device, 50 if unknown
	Now              time.Time
}

// Evaluation is the full result of one risk evaluation. The caller persists
// the updated security state and enforces the decision.
type Evaluation struct {
	Decision        Decision
	RiskScore       int
	AnomalyScore    int
	Anomalies       []models.Anomaly
	MissedHeartbeat bool // this evaluation detected a stale heartbeat
}

// Engine evaluates request risk against configured thresholds.
type Engine struct {
	thresholds Thresholds
}

// NewEngine creates a risk engine
func NewEngine(thresholds Thresholds) *Engine {
	return &Engine{thresholds: thresholds}
}

// Evaluate scores the request and mutates sec in place: anomalies are
// appended, heartbeat bookkeeping advances, and current_risk_score is
// recomputed from named contributions. It performs no I/O.
func (e *Engine) Evaluate(session *models.Session, sec *models.SessionSecurity, sig Signal) Evaluation {
	anomalies := detectAnomalies(session, sig)

	anomalyScore := 0
	for _, a := range anomalies {
		anomalyScore += a.Weight
		sec.Anomalies = sec.Anomalies.Append(a)
		sec.RecentEvents = sec.RecentEvents.Append(models.SecurityLogEntry{
			Event:      "anomaly",
			Detail:     a.Name,
			RecordedAt: sig.Now,
		})
	}
	if anomalyScore > 100 {
		anomalyScore = 100
	}

	missed := false
	if sec.HeartbeatInterval > 0 && sig.Now.Sub(sec.LastHeartbeat) > 2*sec.HeartbeatInterval {
		sec.MissedHeartbeats++
		missed = true
		sec.RecentEvents = sec.RecentEvents.Append(models.SecurityLogEntry{
			Event:      models.EventTypeMissedHeartbeat,
			RecordedAt: sig.Now,
		})
		// The stale heartbeat is now accounted for; a request is itself a
		// liveness signal, so the next evaluation measures from here.
		sec.LastHeartbeat = sig.Now
	}

	score := sec.InitialRiskScore
	factors := models.RiskFactors{"initial": sec.InitialRiskScore}

	if anomalyScore > anomalyScoreTrigger {
		score += contribAnomalies
		factors["anomalies"] = contribAnomalies
	}
	if sec.MissedHeartbeats > missedHeartbeatTrigger {
		score += contribMissedHeartbeat
		factors["missed_heartbeats"] = contribMissedHeartbeat
	}
	if sig.DeviceTrustScore < lowTrustTrigger {
		score += contribUntrustedDevice
		factors["untrusted_device"] = contribUntrustedDevice
	}
	if score > 100 {
		score = 100
	}

	sec.CurrentRiskScore = score
	sec.RiskFactors = factors

	return Evaluation{
		Decision:        e.decide(score, sec),
		RiskScore:       score,
		AnomalyScore:    anomalyScore,
		Anomalies:       anomalies,
		MissedHeartbeat: missed,
	}
}

func (e *Engine) decide(score int, sec *models.SessionSecurity) Decision {
	if score >= e.thresholds.Terminate || sec.MissedHeartbeats > e.thresholds.HeartbeatMissThreshold {
		return DecisionTerminate
	}
	if score >= e.thresholds.Challenge {
		return DecisionChallenge
	}
	if score >= e.thresholds.Verify && !sec.IsVerified {
		return DecisionVerify
	}
	return DecisionAllow
}

func detectAnomalies(session *models.Session, sig Signal) []models.Anomaly {
	var anomalies []models.Anomaly

	if sig.IPAddress != "" && session.IPAddress != "" && sig.IPAddress != session.IPAddress {
		anomalies = append(anomalies, models.Anomaly{
			Name:       AnomalyIPChange,
			Weight:     weightIPChange,
			Detail:     session.IPAddress + " -> " + sig.IPAddress,
			DetectedAt: sig.Now,
		})
	}

	if sig.UserAgent != "" && session.UserAgent != "" && sig.UserAgent != session.UserAgent {
		anomalies = append(anomalies, models.Anomaly{
			Name:       AnomalyUserAgentChange,
			Weight:     weightUserAgentChange,
			DetectedAt: sig.Now,
		})
	}

	if !session.LastActivity.IsZero() && sig.Now.Sub(session.LastActivity) < rapidRequestWindow {
		anomalies = append(anomalies, models.Anomaly{
			Name:       AnomalyRapidRequests,
			Weight:     weightRapidRequests,
			DetectedAt: sig.Now,
		})
	}

	return anomalies
}
