package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid/sessiond/internal/models"
	"github.com/harborgrid/sessiond/pkg/secure"
)

// FingerprintRepository defines the interface for device fingerprint storage
type FingerprintRepository interface {
	GetOrCreate(ctx context.Context, principalID uuid.UUID, hash, userAgent, ip string) (*models.DeviceFingerprint, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.DeviceFingerprint, error)
	GetByHash(ctx context.Context, principalID uuid.UUID, hash string) (*models.DeviceFingerprint, error)
	ListForPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.DeviceFingerprint, error)
	Update(ctx context.Context, fp *models.DeviceFingerprint) error
	Unblock(ctx context.Context, id uuid.UUID) error
}

// TrustRepository defines the interface for device trust grants
type TrustRepository interface {
	Create(ctx context.Context, t *models.DeviceTrust) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.DeviceTrust, error)
	GetActiveForFingerprint(ctx context.Context, principalID, fingerprintID uuid.UUID) (*models.DeviceTrust, error)
	ListForPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.DeviceTrust, error)
	MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error
	Revoke(ctx context.Context, id uuid.UUID, reason string) error
}

// trustCodeDigits is the length of a device verification code.
const trustCodeDigits = 6

// DeviceService manages the principal's known devices and their explicit
// trust grants. A grant confers nothing until its code is verified, and
// revocation is terminal.
type DeviceService struct {
	fpRepo     FingerprintRepository
	trustRepo  TrustRepository
	principals StatusProvider
	notify     NotifyService
	audit      *AuditService
	logger     *slog.Logger
	now        func() time.Time
}

// NewDeviceService creates a new DeviceService
func NewDeviceService(fpRepo FingerprintRepository, trustRepo TrustRepository, principals StatusProvider, notify NotifyService, audit *AuditService, logger *slog.Logger) *DeviceService {
	return &DeviceService{
		fpRepo:     fpRepo,
		trustRepo:  trustRepo,
		principals: principals,
		notify:     notify,
		audit:      audit,
		logger:     logger,
		now:        time.Now,
	}
}

// DeviceView pairs a fingerprint with its current trust grant, if any.
type DeviceView struct {
	Fingerprint *models.DeviceFingerprint
	Trust       *models.DeviceTrust
}

// ListDevices returns the principal's known devices with their trust grants.
func (s *DeviceService) ListDevices(ctx context.Context, principalID uuid.UUID) ([]*DeviceView, error) {
	fps, err := s.fpRepo.ListForPrincipal(ctx, principalID)
	if err != nil {
		s.logger.Error("failed to list devices", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	trusts, err := s.trustRepo.ListForPrincipal(ctx, principalID)
	if err != nil {
		s.logger.Error("failed to list device trusts", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	byFingerprint := make(map[uuid.UUID]*models.DeviceTrust, len(trusts))
	for _, t := range trusts {
		if t.IsActive {
			byFingerprint[t.FingerprintID] = t
		}
	}

	views := make([]*DeviceView, 0, len(fps))
	for _, fp := range fps {
		views = append(views, &DeviceView{
			Fingerprint: fp,
			Trust:       byFingerprint[fp.ID],
		})
	}

	return views, nil
}

// GrantTrust starts the trust ceremony for a device: an unverified grant is
// created and its verification code delivered out-of-band. expiresInDays of
// zero means the grant never expires on its own.
func (s *DeviceService) GrantTrust(ctx context.Context, session *models.Session, fingerprintID uuid.UUID, name string, expiresInDays int) (*models.DeviceTrust, error) {
	fp, err := s.fpRepo.GetByID(ctx, fingerprintID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load fingerprint", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if fp.PrincipalID != session.PrincipalID {
		// Never reveal that the device exists under another principal.
		return nil, models.ErrNotFound
	}

	if fp.IsBlocked {
		return nil, models.ErrDeviceBlocked
	}

	if existing, err := s.trustRepo.GetActiveForFingerprint(ctx, session.PrincipalID, fp.ID); err == nil && existing.IsValid(s.now()) {
		return nil, models.ErrConflict
	} else if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check existing trust", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	principal, err := s.principals.GetByID(ctx, session.PrincipalID)
	if err != nil {
		s.logger.Error("failed to load principal", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	code, err := generateTrustCode()
	if err != nil {
		s.logger.Error("failed to generate trust code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	codeHash, err := secure.HashCode(code)
	if err != nil {
		s.logger.Error("failed to hash trust code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := s.now()
	trust := &models.DeviceTrust{
		ID:            uuid.New(),
		PrincipalID:   session.PrincipalID,
		FingerprintID: fp.ID,
		Name:          strings.TrimSpace(name),
		CodeHash:      codeHash,
		IsActive:      true,
		CreatedAt:     now,
	}
	if expiresInDays > 0 {
		expiry := now.AddDate(0, 0, expiresInDays)
		trust.ExpiresAt = &expiry
	}

	if err := s.trustRepo.Create(ctx, trust); err != nil {
		s.logger.Error("failed to create device trust", slog.Any("error", err))
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		return nil, models.ErrInternalServer
	}

	if err := s.notify.SendVerificationCode(ctx, principal.Email, code, "trust this device"); err != nil {
		return nil, models.ErrInternalServer
	}

	s.audit.RecordSessionEvent(ctx, session, models.EventTypeTrustGranted, true, "", models.EventPayload{
		"fingerprint_id": fp.ID.String(),
		"trust_id":       trust.ID.String(),
		"name":           trust.Name,
	}, nil)

	return trust, nil
}

// VerifyTrust completes the trust ceremony by checking the delivered code.
// Only a verified grant confers trust.
func (s *DeviceService) VerifyTrust(ctx context.Context, session *models.Session, trustID uuid.UUID, code string) error {
	trust, err := s.trustRepo.GetByID(ctx, trustID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to load device trust", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if trust.PrincipalID != session.PrincipalID {
		return models.ErrNotFound
	}

	if trust.RevokedAt != nil {
		return models.ErrTrustRevoked
	}
	if trust.IsVerified {
		return models.ErrConflict
	}

	if !secure.CheckCode(strings.TrimSpace(code), trust.CodeHash) {
		s.audit.RecordSessionEvent(ctx, session, models.EventTypeTrustVerified, false, "invalid_code", models.EventPayload{
			"trust_id": trust.ID.String(),
		}, nil)
		return models.ErrInvalidVerifyCode
	}

	now := s.now()
	if err := s.trustRepo.MarkVerified(ctx, trust.ID, now); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Raced with revocation or already verified.
			return models.ErrConflict
		}
		s.logger.Error("failed to mark trust verified", slog.Any("error", err))
		return models.ErrInternalServer
	}

	// A verified trust marks the device itself as trusted.
	fp, err := s.fpRepo.GetByID(ctx, trust.FingerprintID)
	if err == nil {
		fp.IsTrusted = true
		if err := s.fpRepo.Update(ctx, fp); err != nil {
			s.logger.Warn("failed to flag trusted device", slog.Any("error", err))
		}
	}

	s.audit.RecordSessionEvent(ctx, session, models.EventTypeTrustVerified, true, "", models.EventPayload{
		"trust_id":       trust.ID.String(),
		"fingerprint_id": trust.FingerprintID.String(),
	}, nil)

	return nil
}

// RevokeTrust terminally revokes a grant. A revoked grant never confers
// trust again; the device must run the full ceremony for a new one.
func (s *DeviceService) RevokeTrust(ctx context.Context, session *models.Session, trustID uuid.UUID, reason string) error {
	trust, err := s.trustRepo.GetByID(ctx, trustID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to load device trust", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if trust.PrincipalID != session.PrincipalID {
		return models.ErrNotFound
	}

	if trust.RevokedAt != nil {
		return models.ErrTrustRevoked
	}

	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "revoked_by_principal"
	}

	if err := s.trustRepo.Revoke(ctx, trust.ID, reason); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrTrustRevoked
		}
		s.logger.Error("failed to revoke device trust", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.RecordSessionEvent(ctx, session, models.EventTypeTrustRevoked, true, reason, models.EventPayload{
		"trust_id":       trust.ID.String(),
		"fingerprint_id": trust.FingerprintID.String(),
	}, nil)

	return nil
}

// generateTrustCode returns a uniformly random numeric code.
func generateTrustCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < trustCodeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	return fmt.Sprintf("%0*d", trustCodeDigits, n), nil
}
