package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborgrid/sessiond/internal/cache"
	"github.com/harborgrid/sessiond/internal/models"
)

// MockSessionRepository implements SessionRepository for testing
type MockSessionRepository struct {
	CreateFunc                    func(ctx context.Context, session *models.Session, sec *models.SessionSecurity) error
	GetByTokenHashFunc            func(ctx context.Context, tokenHash string) (*models.Session, error)
	GetByIDFunc                   func(ctx context.Context, id uuid.UUID) (*models.Session, error)
	UpdateFunc                    func(ctx context.Context, id uuid.UUID, patch *models.SessionPatch) (*models.Session, error)
	ExtendFunc                    func(ctx context.Context, id uuid.UUID, duration, maxLifetime time.Duration) (*models.Session, error)
	InvalidateFunc                func(ctx context.Context, id uuid.UUID) (*models.Session, error)
	InvalidateAllForPrincipalFunc func(ctx context.Context, principalID uuid.UUID) ([]*models.Session, error)
	ListActiveForPrincipalFunc    func(ctx context.Context, principalID uuid.UUID) ([]*models.Session, error)
	CountCreatedSinceFunc         func(ctx context.Context, principalID uuid.UUID, since time.Time) (int, error)
}

func (m *MockSessionRepository) Create(ctx context.Context, session *models.Session, sec *models.SessionSecurity) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, session, sec)
	}
	return nil
}

func (m *MockSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) Update(ctx context.Context, id uuid.UUID, patch *models.SessionPatch) (*models.Session, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, patch)
	}
	return nil, models.ErrInternalServer
}

func (m *MockSessionRepository) Extend(ctx context.Context, id uuid.UUID, duration, maxLifetime time.Duration) (*models.Session, error) {
	if m.ExtendFunc != nil {
		return m.ExtendFunc(ctx, id, duration, maxLifetime)
	}
	return nil, models.ErrInternalServer
}

func (m *MockSessionRepository) Invalidate(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	if m.InvalidateFunc != nil {
		return m.InvalidateFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) InvalidateAllForPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.Session, error) {
	if m.InvalidateAllForPrincipalFunc != nil {
		return m.InvalidateAllForPrincipalFunc(ctx, principalID)
	}
	return []*models.Session{}, nil
}

func (m *MockSessionRepository) ListActiveForPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.Session, error) {
	if m.ListActiveForPrincipalFunc != nil {
		return m.ListActiveForPrincipalFunc(ctx, principalID)
	}
	return []*models.Session{}, nil
}

func (m *MockSessionRepository) CountCreatedSince(ctx context.Context, principalID uuid.UUID, since time.Time) (int, error) {
	if m.CountCreatedSinceFunc != nil {
		return m.CountCreatedSinceFunc(ctx, principalID, since)
	}
	return 0, nil
}

// MockSecurityRepository implements SecurityRepository for testing
type MockSecurityRepository struct {
	GetBySessionIDFunc  func(ctx context.Context, sessionID uuid.UUID) (*models.SessionSecurity, error)
	UpdateFunc          func(ctx context.Context, sec *models.SessionSecurity) error
	RecordHeartbeatFunc func(ctx context.Context, sessionID uuid.UUID, now time.Time) (bool, error)
}

func (m *MockSecurityRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*models.SessionSecurity, error) {
	if m.GetBySessionIDFunc != nil {
		return m.GetBySessionIDFunc(ctx, sessionID)
	}
	return nil, models.ErrNotFound
}

func (m *MockSecurityRepository) Update(ctx context.Context, sec *models.SessionSecurity) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, sec)
	}
	return nil
}

func (m *MockSecurityRepository) RecordHeartbeat(ctx context.Context, sessionID uuid.UUID, now time.Time) (bool, error) {
	if m.RecordHeartbeatFunc != nil {
		return m.RecordHeartbeatFunc(ctx, sessionID, now)
	}
	return true, nil
}

// MockFingerprintRepository implements FingerprintRepository for testing
type MockFingerprintRepository struct {
	GetOrCreateFunc      func(ctx context.Context, principalID uuid.UUID, hash, userAgent, ip string) (*models.DeviceFingerprint, bool, error)
	GetByIDFunc          func(ctx context.Context, id uuid.UUID) (*models.DeviceFingerprint, error)
	GetByHashFunc        func(ctx context.Context, principalID uuid.UUID, hash string) (*models.DeviceFingerprint, error)
	ListForPrincipalFunc func(ctx context.Context, principalID uuid.UUID) ([]*models.DeviceFingerprint, error)
	UpdateFunc           func(ctx context.Context, fp *models.DeviceFingerprint) error
	UnblockFunc          func(ctx context.Context, id uuid.UUID) error
}

func (m *MockFingerprintRepository) GetOrCreate(ctx context.Context, principalID uuid.UUID, hash, userAgent, ip string) (*models.DeviceFingerprint, bool, error) {
	if m.GetOrCreateFunc != nil {
		return m.GetOrCreateFunc(ctx, principalID, hash, userAgent, ip)
	}
	return nil, false, models.ErrInternalServer
}

func (m *MockFingerprintRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DeviceFingerprint, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockFingerprintRepository) GetByHash(ctx context.Context, principalID uuid.UUID, hash string) (*models.DeviceFingerprint, error) {
	if m.GetByHashFunc != nil {
		return m.GetByHashFunc(ctx, principalID, hash)
	}
	return nil, models.ErrNotFound
}

func (m *MockFingerprintRepository) ListForPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.DeviceFingerprint, error) {
	if m.ListForPrincipalFunc != nil {
		return m.ListForPrincipalFunc(ctx, principalID)
	}
	return []*models.DeviceFingerprint{}, nil
}

func (m *MockFingerprintRepository) Update(ctx context.Context, fp *models.DeviceFingerprint) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, fp)
	}
	return nil
}

func (m *MockFingerprintRepository) Unblock(ctx context.Context, id uuid.UUID) error {
	if m.UnblockFunc != nil {
		return m.UnblockFunc(ctx, id)
	}
	return nil
}

// MockTrustRepository implements TrustRepository for testing
type MockTrustRepository struct {
	CreateFunc                  func(ctx context.Context, t *models.DeviceTrust) error
	GetByIDFunc                 func(ctx context.Context, id uuid.UUID) (*models.DeviceTrust, error)
	GetActiveForFingerprintFunc func(ctx context.Context, principalID, fingerprintID uuid.UUID) (*models.DeviceTrust, error)
	ListForPrincipalFunc        func(ctx context.Context, principalID uuid.UUID) ([]*models.DeviceTrust, error)
	MarkVerifiedFunc            func(ctx context.Context, id uuid.UUID, at time.Time) error
	RevokeFunc                  func(ctx context.Context, id uuid.UUID, reason string) error
}

func (m *MockTrustRepository) Create(ctx context.Context, t *models.DeviceTrust) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, t)
	}
	return nil
}

func (m *MockTrustRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DeviceTrust, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockTrustRepository) GetActiveForFingerprint(ctx context.Context, principalID, fingerprintID uuid.UUID) (*models.DeviceTrust, error) {
	if m.GetActiveForFingerprintFunc != nil {
		return m.GetActiveForFingerprintFunc(ctx, principalID, fingerprintID)
	}
	return nil, models.ErrNotFound
}

func (m *MockTrustRepository) ListForPrincipal(ctx context.Context, principalID uuid.UUID) ([]*models.DeviceTrust, error) {
	if m.ListForPrincipalFunc != nil {
		return m.ListForPrincipalFunc(ctx, principalID)
	}
	return []*models.DeviceTrust{}, nil
}

func (m *MockTrustRepository) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	if m.MarkVerifiedFunc != nil {
		return m.MarkVerifiedFunc(ctx, id, at)
	}
	return nil
}

func (m *MockTrustRepository) Revoke(ctx context.Context, id uuid.UUID, reason string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, id, reason)
	}
	return nil
}

// MockStatusProvider implements StatusProvider for testing
type MockStatusProvider struct {
	GetByIDFunc func(ctx context.Context, id uuid.UUID) (*models.Principal, error)
}

func (m *MockStatusProvider) GetByID(ctx context.Context, id uuid.UUID) (*models.Principal, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

// MockNotifyService implements NotifyService for testing
type MockNotifyService struct {
	SendVerificationCodeFunc func(ctx context.Context, email, code, purpose string) error
	SentCodes                []string
}

func (m *MockNotifyService) SendVerificationCode(ctx context.Context, email, code, purpose string) error {
	m.SentCodes = append(m.SentCodes, code)
	if m.SendVerificationCodeFunc != nil {
		return m.SendVerificationCodeFunc(ctx, email, code, purpose)
	}
	return nil
}

// MockEventRepository implements EventRepository for testing
type MockEventRepository struct {
	CreateFunc        func(ctx context.Context, event *models.SessionEvent, anomalyNames []string) error
	ListBySessionFunc func(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.SessionEvent, error)
	ListByTypeFunc    func(ctx context.Context, eventType string, limit, offset int) ([]*models.SessionEvent, error)

	mu     sync.Mutex
	Events []*models.SessionEvent
}

func (m *MockEventRepository) Create(ctx context.Context, event *models.SessionEvent, anomalyNames []string) error {
	m.mu.Lock()
	m.Events = append(m.Events, event)
	m.mu.Unlock()
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, event, anomalyNames)
	}
	return nil
}

func (m *MockEventRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.SessionEvent, error) {
	if m.ListBySessionFunc != nil {
		return m.ListBySessionFunc(ctx, sessionID, limit, offset)
	}
	return []*models.SessionEvent{}, nil
}

func (m *MockEventRepository) ListByType(ctx context.Context, eventType string, limit, offset int) ([]*models.SessionEvent, error) {
	if m.ListByTypeFunc != nil {
		return m.ListByTypeFunc(ctx, eventType, limit, offset)
	}
	return []*models.SessionEvent{}, nil
}

// HasEvent reports whether an event of the given type was recorded.
func (m *MockEventRepository) HasEvent(eventType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

// fakeCache is an in-memory SessionCache for testing cache interactions.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*models.Session
	Puts    int
	Deletes int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*models.Session)}
}

func (c *fakeCache) Put(ctx context.Context, session *models.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Puts++
	copied := *session
	c.entries[session.TokenHash] = &copied
	return nil
}

func (c *fakeCache) Get(ctx context.Context, tokenHash string) (*models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.entries[tokenHash]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, cache.ErrMiss
}

func (c *fakeCache) Delete(ctx context.Context, tokenHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deletes++
	delete(c.entries, tokenHash)
	return nil
}

// NewTestPrincipal builds an active principal for tests
func NewTestPrincipal(id uuid.UUID) *models.Principal {
	tenantID := uuid.New()
	return &models.Principal{
		ID:                  id,
		Email:               "principal@example.com",
		Name:                "Test Principal",
		TenantID:            &tenantID,
		Status:              models.PrincipalStatusActive,
		OnboardingCompleted: true,
		Plan:                "starter",
		PlanStatus:          "active",
		CreatedAt:           time.Now().Add(-24 * time.Hour),
		UpdatedAt:           time.Now(),
	}
}

// NewTestSession builds an active session for tests
func NewTestSession(principal *models.Principal, tokenHash string, now time.Time) *models.Session {
	return &models.Session{
		ID:           uuid.New(),
		TokenHash:    tokenHash,
		PrincipalID:  principal.ID,
		TenantID:     principal.TenantID,
		IsActive:     true,
		SessionType:  models.SessionTypeWeb,
		IPAddress:    "203.0.113.10",
		UserAgent:    "test-agent/1.0",
		Onboarding:   principal.OnboardingSnapshot(),
		Subscription: principal.SubscriptionSnapshot(),
		Data:         models.SessionData{},
		CreatedAt:    now.Add(-time.Hour),
		UpdatedAt:    now.Add(-time.Minute),
		LastActivity: now.Add(-time.Minute),
		ExpiresAt:    now.Add(time.Hour),
	}
}

// NewTestSecurity builds a clean security row for tests
func NewTestSecurity(sessionID uuid.UUID, now time.Time) *models.SessionSecurity {
	return &models.SessionSecurity{
		SessionID:         sessionID,
		OTPSecret:         "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP",
		LastHeartbeat:     now.Add(-30 * time.Second),
		HeartbeatInterval: time.Minute,
		UpdatedAt:         now.Add(-time.Minute),
	}
}
