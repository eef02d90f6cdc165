package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/hotp"

	"github.com/harborgrid/sessiond/internal/cache"
	"github.com/harborgrid/sessiond/internal/config"
	"github.com/harborgrid/sessiond/internal/fingerprint"
	"github.com/harborgrid/sessiond/internal/models"
	"github.com/harborgrid/sessiond/internal/risk"
	"github.com/harborgrid/sessiond/pkg/secure"
)

// SessionRepository defines the interface for session store operations
type SessionRepository interface {
	Create(ctx context.Context, session *models.Session, sec *models.SessionSecurity) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	Update(ctx context.Context, id uuid.UUID, patch *models.SessionPatch) (*models.Session, error)
	Extend(ctx context.Context, id uuid.UUID, duration, maxLifetime time.Duration) (*models.Session, error)
	Invalidate(ctx context.Context, id uuid.UUID) (*models.Session, error)
	InvalidateAllForPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.Session, error)
	ListActiveForPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.Session, error)
	CountCreatedSince(ctx context.Context, principalID uuid.UUID, since time.Time) (int, error)
}

// SecurityRepository defines the interface for per-session security state
type SecurityRepository interface {
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*models.SessionSecurity, error)
	Update(ctx context.Context, sec *models.SessionSecurity) error
	RecordHeartbeat(ctx context.Context, sessionID uuid.UUID, now time.Time) (bool, error)
}

// StatusProvider resolves a principal's current account state. The principal
// row, not the session snapshot, is the source of truth for onboarding and
// account status.
type StatusProvider interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Principal, error)
}

// SessionService owns the session lifecycle: creation, resolution, mutation,
// extension, invalidation, heartbeats, and per-request risk enforcement.
type SessionService struct {
	repo        SessionRepository
	secRepo     SecurityRepository
	fpRepo      FingerprintRepository
	trustRepo   TrustRepository
	principals  StatusProvider
	cache       cache.SessionCache
	hasher      *secure.TokenHasher
	engine      *risk.Engine
	audit       *AuditService
	notify      NotifyService
	sessionCfg  config.SessionConfig
	securityCfg config.SecurityConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewSessionService creates a new SessionService
func NewSessionService(
	repo SessionRepository,
	secRepo SecurityRepository,
	fpRepo FingerprintRepository,
	trustRepo TrustRepository,
	principals StatusProvider,
	sessionCache cache.SessionCache,
	hasher *secure.TokenHasher,
	engine *risk.Engine,
	audit *AuditService,
	notify NotifyService,
	sessionCfg config.SessionConfig,
	securityCfg config.SecurityConfig,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		repo:        repo,
		secRepo:     secRepo,
		fpRepo:      fpRepo,
		trustRepo:   trustRepo,
		principals:  principals,
		cache:       sessionCache,
		hasher:      hasher,
		engine:      engine,
		audit:       audit,
		notify:      notify,
		sessionCfg:  sessionCfg,
		securityCfg: securityCfg,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateSessionInput carries everything upstream login hands us when it asks
// for a session. Credential is the already-verified upstream bearer
// credential; it is hashed before storage and never persisted raw.
type CreateSessionInput struct {
	PrincipalID uuid.UUID
	Credential  string
	SessionType string
	IPAddress   string
	UserAgent   string
	Fingerprint fingerprint.Components
	Data        models.SessionData
}

// CreatedSession pairs the stored session with the one-time plaintext token.
// The token exists only in this response; afterwards only its hash survives.
type CreatedSession struct {
	Session *models.Session
	Token   string
}

// CreateSession establishes a new session for a verified principal.
func (s *SessionService) CreateSession(ctx context.Context, in CreateSessionInput) (*CreatedSession, error) {
	now := s.now()

	principal, err := s.principals.GetByID(ctx, in.PrincipalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("session creation for unknown principal",
				slog.String("principal_id", in.PrincipalID.String()))
			return nil, models.ErrValidation
		}
		s.logger.Error("failed to load principal", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := validatePrincipalState(principal); err != nil {
		// A login attempt against a dead account still counts against the
		// device that made it.
		if len(in.Fingerprint) > 0 {
			s.recordFailedSighting(ctx, in.PrincipalID, in.Fingerprint, in.IPAddress, in.UserAgent)
		}
		s.logger.Info("session creation blocked by principal state",
			slog.String("principal_id", principal.ID.String()),
			slog.String("status", principal.Status))
		return nil, err
	}

	ttl, err := s.sessionTTL(in.Credential, now)
	if err != nil {
		s.logger.Info("session creation with expired credential",
			slog.String("principal_id", principal.ID.String()))
		return nil, err
	}

	initialRisk := 0
	var riskFactors models.RiskFactors
	if len(in.Fingerprint) > 0 {
		fp, err := s.recordSighting(ctx, principal.ID, in.Fingerprint, in.IPAddress, in.UserAgent, now)
		if err != nil {
			return nil, err
		}
		initialRisk = fp.RiskScore
		riskFactors = fp.RiskFactors
	}

	token, err := secure.GenerateToken()
	if err != nil {
		s.logger.Error("failed to generate session token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	otpSecret, err := secure.GenerateOTPSecret()
	if err != nil {
		s.logger.Error("failed to generate otp secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	session := &models.Session{
		ID:             uuid.New(),
		TokenHash:      s.hasher.Hash(token),
		PrincipalID:    principal.ID,
		TenantID:       principal.TenantID,
		CredentialHash: s.hasher.Hash(in.Credential),
		IsActive:       true,
		SessionType:    normalizeSessionType(in.SessionType),
		IPAddress:      in.IPAddress,
		UserAgent:      in.UserAgent,
		Onboarding:     principal.OnboardingSnapshot(),
		Subscription:   principal.SubscriptionSnapshot(),
		Data:           in.Data,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivity:   now,
		ExpiresAt:      now.Add(ttl),
	}

	sec := &models.SessionSecurity{
		SessionID:         session.ID,
		InitialRiskScore:  initialRisk,
		CurrentRiskScore:  initialRisk,
		RiskFactors:       riskFactors,
		OTPSecret:         otpSecret,
		LastHeartbeat:     now,
		HeartbeatInterval: s.securityCfg.HeartbeatInterval,
		UpdatedAt:         now,
	}

	if err := s.repo.Create(ctx, session, sec); err != nil {
		s.logger.Error("failed to create session", slog.Any("error", err))
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		return nil, models.ErrInternalServer
	}

	s.cachePut(ctx, session)

	s.audit.RecordSessionEvent(ctx, session, models.EventTypeCreated, true, "", models.EventPayload{
		"session_type": session.SessionType,
		"initial_risk": initialRisk,
		"expires_at":   session.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil)

	s.logger.Info("session created",
		slog.String("session_id", session.ID.String()),
		slog.String("principal_id", principal.ID.String()),
		slog.Int("initial_risk", initialRisk))

	return &CreatedSession{Session: session, Token: token}, nil
}

// ResolveSession looks up a session by its opaque token. Non-sensitive reads
// may be served from the cache; securitySensitive forces a store read.
// Expiry is evaluated here, at read time, regardless of what the row says.
func (s *SessionService) ResolveSession(ctx context.Context, token string, securitySensitive bool) (*models.Session, error) {
	if token = strings.TrimSpace(token); token == "" {
		return nil, models.ErrAuthenticationRequired
	}

	now := s.now()
	tokenHash := s.hasher.Hash(token)

	if !securitySensitive {
		if cached, err := s.cache.Get(ctx, tokenHash); err == nil {
			if cached.Usable(now) {
				return cached, nil
			}
			// Stale snapshot: fall through to the store so the expiry is
			// handled authoritatively.
			s.cacheDelete(ctx, tokenHash)
		}
	}

	session, err := s.repo.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrAuthenticationRequired
		}
		s.logger.Error("failed to resolve session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !session.IsActive {
		s.cacheDelete(ctx, tokenHash)
		return nil, models.ErrSessionInactive
	}

	if session.IsExpired(now) {
		s.cacheDelete(ctx, tokenHash)
		s.audit.RecordSessionEvent(ctx, session, models.EventTypeExpired, false, "expired_at_read", nil, nil)
		return nil, models.ErrSessionExpired
	}

	session, err = s.refreshPrincipalState(ctx, session)
	if err != nil {
		return nil, err
	}

	return session, nil
}

// refreshPrincipalState re-derives the session's principal snapshots from the
// authoritative principal row, and terminates the session if the principal
// can no longer authenticate.
func (s *SessionService) refreshPrincipalState(ctx context.Context, session *models.Session) (*models.Session, error) {
	principal, err := s.principals.GetByID(ctx, session.PrincipalID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.terminate(ctx, session, "principal_deleted", nil)
			return nil, models.ErrSessionInactive
		}
		s.logger.Error("failed to load principal for session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := validatePrincipalState(principal); err != nil {
		s.terminate(ctx, session, "principal_"+principal.Status, nil)
		return nil, err
	}

	onboarding := principal.OnboardingSnapshot()
	subscription := principal.SubscriptionSnapshot()
	if session.Onboarding == onboarding && session.Subscription == subscription {
		return session, nil
	}

	updated, err := s.repo.Update(ctx, session.ID, &models.SessionPatch{
		Onboarding:   &onboarding,
		Subscription: &subscription,
	})
	if err != nil {
		// The stale-but-valid session is still usable; the snapshot refresh
		// retries on the next resolution.
		s.logger.Warn("failed to refresh principal snapshot",
			slog.String("session_id", session.ID.String()),
			slog.Any("error", err))
		session.Onboarding = onboarding
		session.Subscription = subscription
		return session, nil
	}

	s.cachePut(ctx, updated)
	return updated, nil
}

// EvaluateRequest runs the risk engine for one authenticated request and
// enforces the verdict. On terminate the session is invalidated before the
// verdict is returned; otherwise activity bookkeeping advances.
func (s *SessionService) EvaluateRequest(ctx context.Context, session *models.Session, ipAddress, userAgent, fingerprintHash string) (*risk.Evaluation, error) {
	now := s.now()

	sec, err := s.secRepo.GetBySessionID(ctx, session.ID)
	if err != nil {
		s.logger.Error("failed to load session security state",
			slog.String("session_id", session.ID.String()),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	deviceTrust := 50
	if fingerprintHash != "" {
		fp, err := s.fpRepo.GetByHash(ctx, session.PrincipalID, fingerprintHash)
		switch {
		case err == nil:
			deviceTrust = fp.TrustScore
			s.applyDeviceTrust(ctx, session.PrincipalID, fp.ID, sec, now)
		case errors.Is(err, models.ErrNotFound):
			// Unknown device at request time: neutral trust.
		default:
			s.logger.Error("failed to load device fingerprint", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
	}

	eval := s.engine.Evaluate(session, sec, risk.Signal{
		IPAddress:        ipAddress,
		UserAgent:        userAgent,
		FingerprintHash:  fingerprintHash,
		DeviceTrustScore: deviceTrust,
		Now:              now,
	})

	sec.UpdatedAt = now
	if err := s.secRepo.Update(ctx, sec); err != nil {
		// Risk state must not silently drift; fail the request instead.
		s.logger.Error("failed to persist security state",
			slog.String("session_id", session.ID.String()),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	anomalyNames := make([]string, 0, len(eval.Anomalies))
	for _, a := range eval.Anomalies {
		anomalyNames = append(anomalyNames, a.Name)
	}

	if len(eval.Anomalies) > 0 {
		s.audit.RecordSessionEvent(ctx, session, models.EventTypeSuspicious, false, "", models.EventPayload{
			"risk_score":    eval.RiskScore,
			"anomaly_score": eval.AnomalyScore,
		}, anomalyNames)
	}

	if eval.Decision == risk.DecisionTerminate {
		s.terminate(ctx, session, "risk_terminate", models.EventPayload{
			"risk_score":        eval.RiskScore,
			"missed_heartbeats": sec.MissedHeartbeats,
		})
		return &eval, nil
	}

	patch := &models.SessionPatch{LastActivity: &now}
	if ipAddress != "" && ipAddress != session.IPAddress {
		patch.IPAddress = &ipAddress
	}
	if userAgent != "" && userAgent != session.UserAgent {
		patch.UserAgent = &userAgent
	}

	updated, err := s.repo.Update(ctx, session.ID, patch)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Raced with invalidation or expiry.
			return nil, models.ErrSessionInactive
		}
		s.logger.Error("failed to record session activity", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	*session = *updated
	s.cachePut(ctx, updated)

	return &eval, nil
}

// applyDeviceTrust marks the session verified when the device carries a
// valid, verified trust grant. Verification through a trusted device skips
// the code ceremony.
func (s *SessionService) applyDeviceTrust(ctx context.Context, principalID, fingerprintID uuid.UUID, sec *models.SessionSecurity, now time.Time) {
	if sec.IsVerified {
		return
	}

	trust, err := s.trustRepo.GetActiveForFingerprint(ctx, principalID, fingerprintID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("failed to check device trust", slog.Any("error", err))
		}
		return
	}

	if trust.IsValid(now) {
		method := "trusted_device"
		sec.IsVerified = true
		sec.VerificationMethod = &method
		sec.VerifiedAt = &now
	}
}

// UpdateSession applies a partial update to the session's mutable fields.
func (s *SessionService) UpdateSession(ctx context.Context, session *models.Session, patch *models.SessionPatch) (*models.Session, error) {
	updated, err := s.repo.Update(ctx, session.ID, patch)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionInactive
		}
		s.logger.Error("failed to update session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.cachePut(ctx, updated)
	s.audit.RecordSessionEvent(ctx, updated, models.EventTypeUpdated, true, "", nil, nil)

	return updated, nil
}

// ExtendSession pushes the session's expiry forward by the configured TTL,
// never past created_at + max lifetime and never backwards.
func (s *SessionService) ExtendSession(ctx context.Context, session *models.Session) (*models.Session, error) {
	extended, err := s.repo.Extend(ctx, session.ID, s.sessionCfg.TTL, s.sessionCfg.MaxLifetime)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionInactive
		}
		s.logger.Error("failed to extend session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.cachePut(ctx, extended)
	s.audit.RecordSessionEvent(ctx, extended, models.EventTypeExtended, true, "", models.EventPayload{
		"expires_at": extended.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil)

	return extended, nil
}

// InvalidateSession terminates one session. Invalidation is idempotent at
// the API level: a session already gone reports ErrSessionInactive.
func (s *SessionService) InvalidateSession(ctx context.Context, session *models.Session, reason string) error {
	invalidated, err := s.repo.Invalidate(ctx, session.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.cacheDelete(ctx, session.TokenHash)
			return models.ErrSessionInactive
		}
		s.logger.Error("failed to invalidate session", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.cacheDelete(ctx, invalidated.TokenHash)
	s.audit.RecordSessionEvent(ctx, invalidated, models.EventTypeInvalidated, true, reason, nil, nil)

	s.logger.Info("session invalidated",
		slog.String("session_id", invalidated.ID.String()),
		slog.String("reason", reason))

	return nil
}

// InvalidateAllSessions terminates every active session of a principal,
// e.g. "sign out everywhere". Returns how many sessions were ended.
func (s *SessionService) InvalidateAllSessions(ctx context.Context, principalID uuid.UUID, reason string) (int, error) {
	sessions, err := s.repo.InvalidateAllForPrincipal(ctx, principalID)
	if err != nil {
		s.logger.Error("failed to invalidate principal sessions", slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	for _, session := range sessions {
		s.cacheDelete(ctx, session.TokenHash)
		s.audit.RecordSessionEvent(ctx, session, models.EventTypeInvalidated, true, reason, nil, nil)
	}

	s.logger.Info("all sessions invalidated",
		slog.String("principal_id", principalID.String()),
		slog.Int("count", len(sessions)))

	return len(sessions), nil
}

// ListSessions returns the principal's active sessions, most recent first.
func (s *SessionService) ListSessions(ctx context.Context, principalID uuid.UUID) ([]*models.Session, error) {
	sessions, err := s.repo.ListActiveForPrincipal(ctx, principalID)
	if err != nil {
		s.logger.Error("failed to list sessions", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return sessions, nil
}

// Heartbeat records a liveness signal. Signals arriving faster than the
// configured interval are acknowledged but not persisted, which keeps the
// write idempotent within one interval.
func (s *SessionService) Heartbeat(ctx context.Context, session *models.Session) (bool, error) {
	persisted, err := s.secRepo.RecordHeartbeat(ctx, session.ID, s.now())
	if err != nil {
		s.logger.Error("failed to record heartbeat", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	if persisted {
		s.audit.RecordSessionEvent(ctx, session, models.EventTypeHeartbeat, true, "", nil, nil)
	}

	return persisted, nil
}

// RequestSessionVerification issues a fresh one-time code for the session's
// verification ceremony and delivers it to the principal out-of-band.
func (s *SessionService) RequestSessionVerification(ctx context.Context, session *models.Session) error {
	principal, err := s.principals.GetByID(ctx, session.PrincipalID)
	if err != nil {
		s.logger.Error("failed to load principal for verification", slog.Any("error", err))
		return models.ErrInternalServer
	}

	sec, err := s.secRepo.GetBySessionID(ctx, session.ID)
	if err != nil {
		s.logger.Error("failed to load security state", slog.Any("error", err))
		return models.ErrInternalServer
	}

	sec.OTPCounter++
	code, err := hotp.GenerateCode(sec.OTPSecret, uint64(sec.OTPCounter))
	if err != nil {
		s.logger.Error("failed to generate verification code", slog.Any("error", err))
		return models.ErrInternalServer
	}

	sec.UpdatedAt = s.now()
	if err := s.secRepo.Update(ctx, sec); err != nil {
		s.logger.Error("failed to persist otp counter", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.notify.SendVerificationCode(ctx, principal.Email, code, "verify this session"); err != nil {
		return models.ErrInternalServer
	}

	return nil
}

// VerifySession checks a submitted verification code against the session's
// current HOTP counter. A matching code marks the session verified and burns
// the counter value.
func (s *SessionService) VerifySession(ctx context.Context, session *models.Session, code string) error {
	sec, err := s.secRepo.GetBySessionID(ctx, session.ID)
	if err != nil {
		s.logger.Error("failed to load security state", slog.Any("error", err))
		return models.ErrInternalServer
	}

	expected, err := hotp.GenerateCode(sec.OTPSecret, uint64(sec.OTPCounter))
	if err != nil {
		s.logger.Error("failed to derive verification code", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(code))) != 1 {
		s.audit.RecordSessionEvent(ctx, session, models.EventTypeVerified, false, "invalid_code", nil, nil)
		return models.ErrInvalidVerifyCode
	}

	now := s.now()
	method := "otp"
	sec.IsVerified = true
	sec.VerificationMethod = &method
	sec.VerifiedAt = &now
	sec.OTPCounter++ // a code never verifies twice
	sec.RecentEvents = sec.RecentEvents.Append(models.SecurityLogEntry{
		Event:      models.EventTypeVerified,
		RecordedAt: now,
	})
	sec.UpdatedAt = now

	if err := s.secRepo.Update(ctx, sec); err != nil {
		s.logger.Error("failed to persist verification", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.RecordSessionEvent(ctx, session, models.EventTypeVerified, true, "", models.EventPayload{
		"method": method,
	}, nil)

	return nil
}

// RecordFailedLogin charges a failed upstream login attempt against the
// device that made it. Called by the edge when credential verification fails
// before a session is ever requested.
func (s *SessionService) RecordFailedLogin(ctx context.Context, principalID uuid.UUID, components fingerprint.Components, ipAddress, userAgent string) {
	if len(components) == 0 {
		return
	}
	s.recordFailedSighting(ctx, principalID, components, ipAddress, userAgent)
}

// SessionSecurityState exposes the stored security state for one session.
func (s *SessionService) SessionSecurityState(ctx context.Context, sessionID uuid.UUID) (*models.SessionSecurity, error) {
	sec, err := s.secRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load security state", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return sec, nil
}

// terminate forcibly ends a session for a security reason. Failures are
// logged but not propagated; the caller's verdict already stands.
func (s *SessionService) terminate(ctx context.Context, session *models.Session, reason string, payload models.EventPayload) {
	invalidated, err := s.repo.Invalidate(ctx, session.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to terminate session",
			slog.String("session_id", session.ID.String()),
			slog.Any("error", err))
	}
	if invalidated != nil {
		session = invalidated
	}

	s.cacheDelete(ctx, session.TokenHash)
	s.audit.RecordSessionEvent(ctx, session, models.EventTypeTerminated, false, reason, payload, nil)

	s.logger.Warn("session terminated",
		slog.String("session_id", session.ID.String()),
		slog.String("reason", reason))
}

// recordSighting registers a successful login sighting of a device and
// returns the fingerprint with refreshed scores. Blocked devices reject the
// sighting unless their block has outlived the cool-down.
func (s *SessionService) recordSighting(ctx context.Context, principalID uuid.UUID, components fingerprint.Components, ipAddress, userAgent string, now time.Time) (*models.DeviceFingerprint, error) {
	hash := fingerprint.Hash(components)

	fp, created, err := s.fpRepo.GetOrCreate(ctx, principalID, hash, userAgent, ipAddress)
	if err != nil {
		s.logger.Error("failed to record device sighting", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if fp.IsBlocked {
		if !fp.BlockCleared(now, s.securityCfg.BlockCooldown) {
			s.logger.Warn("login from blocked device",
				slog.String("principal_id", principalID.String()),
				slog.String("fingerprint_id", fp.ID.String()))
			return nil, models.ErrDeviceBlocked
		}
		if err := s.fpRepo.Unblock(ctx, fp.ID); err != nil {
			s.logger.Error("failed to clear cooled device block", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		fp.IsBlocked = false
		fp.BlockedReason = nil
		fp.BlockedAt = nil
		fp.FailedLoginCount = 0
	}

	recent, err := s.repo.CountCreatedSince(ctx, principalID, now.Add(-time.Hour))
	if err != nil {
		s.logger.Error("failed to count recent sessions", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	fp.LoginCount++
	fp.LastSeen = now
	fp.LastIP = ipAddress
	if userAgent != "" {
		fp.UserAgent = userAgent
	}

	fingerprint.UpdateRiskScore(fp, fingerprint.ScoreContext{
		FirstSighting:      created,
		RecentSessionCount: recent,
		Now:                now,
	})
	fingerprint.UpdateTrustScore(fp, now)

	if err := s.fpRepo.Update(ctx, fp); err != nil {
		s.logger.Error("failed to persist fingerprint", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return fp, nil
}

// recordFailedSighting charges a failed login against a device and blocks it
// once failures cross the configured threshold. Best effort: a bookkeeping
// failure never masks the login failure itself.
func (s *SessionService) recordFailedSighting(ctx context.Context, principalID uuid.UUID, components fingerprint.Components, ipAddress, userAgent string) {
	now := s.now()
	hash := fingerprint.Hash(components)

	fp, created, err := s.fpRepo.GetOrCreate(ctx, principalID, hash, userAgent, ipAddress)
	if err != nil {
		s.logger.Error("failed to record failed sighting", slog.Any("error", err))
		return
	}

	fp.FailedLoginCount++
	fp.LastSeen = now
	fp.LastIP = ipAddress

	if !fp.IsBlocked && fp.FailedLoginCount >= s.securityCfg.MaxFailedLogins {
		reason := fmt.Sprintf("%d consecutive failed logins", fp.FailedLoginCount)
		fp.IsBlocked = true
		fp.BlockedReason = &reason
		fp.BlockedAt = &now

		s.logger.Warn("device blocked",
			slog.String("principal_id", principalID.String()),
			slog.String("fingerprint_id", fp.ID.String()),
			slog.Int("failed_logins", fp.FailedLoginCount))
	}

	fingerprint.UpdateRiskScore(fp, fingerprint.ScoreContext{
		FirstSighting: created,
		Now:           now,
	})
	fingerprint.UpdateTrustScore(fp, now)

	if err := s.fpRepo.Update(ctx, fp); err != nil {
		s.logger.Error("failed to persist fingerprint", slog.Any("error", err))
	}
}

// sessionTTL is the configured TTL, capped by the upstream credential's own
// expiry when the credential is a JWT. A session must never outlive the
// credential that established it; a credential that already expired
// cannot establish one at all.
func (s *SessionService) sessionTTL(credential string, now time.Time) (time.Duration, error) {
	ttl := s.sessionCfg.TTL

	if credential == "" || strings.Count(credential, ".") != 2 {
		return ttl, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return ttl, nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return ttl, nil
	}

	remaining := exp.Time.Sub(now)
	if remaining <= 0 {
		return 0, fmt.Errorf("%w: credential expired", models.ErrValidation)
	}
	if remaining < ttl {
		ttl = remaining
	}
	return ttl, nil
}

func (s *SessionService) cachePut(ctx context.Context, session *models.Session) {
	if err := s.cache.Put(ctx, session); err != nil {
		s.logger.Warn("session cache put failed",
			slog.String("session_id", session.ID.String()),
			slog.Any("error", err))
	}
}

func (s *SessionService) cacheDelete(ctx context.Context, tokenHash string) {
	if err := s.cache.Delete(ctx, tokenHash); err != nil {
		s.logger.Warn("session cache delete failed", slog.Any("error", err))
	}
}

// validatePrincipalState checks whether the principal may hold sessions.
func validatePrincipalState(p *models.Principal) error {
	switch p.Status {
	case models.PrincipalStatusActive:
		return nil
	case models.PrincipalStatusSuspended:
		return models.ErrPrincipalSuspended
	case models.PrincipalStatusDisabled:
		return models.ErrPrincipalDisabled
	default:
		return fmt.Errorf("unknown principal status: %s", p.Status)
	}
}

func normalizeSessionType(t string) string {
	switch t {
	case models.SessionTypeWeb, models.SessionTypeMobile, models.SessionTypeAPI:
		return t
	default:
		return models.SessionTypeWeb
	}
}
