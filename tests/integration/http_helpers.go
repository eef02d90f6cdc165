package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/harborgrid/sessiond/internal/background"
	"github.com/harborgrid/sessiond/internal/cache"
	"github.com/harborgrid/sessiond/internal/config"
	"github.com/harborgrid/sessiond/internal/database"
	"github.com/harborgrid/sessiond/internal/handlers"
	middlewareCustom "github.com/harborgrid/sessiond/internal/middleware"
	"github.com/harborgrid/sessiond/internal/risk"
	"github.com/harborgrid/sessiond/internal/routes"
	"github.com/harborgrid/sessiond/internal/services"
	"github.com/harborgrid/sessiond/internal/tenant"
	pkghttp "github.com/harborgrid/sessiond/pkg/http"
	pkglogger "github.com/harborgrid/sessiond/pkg/logger"
	"github.com/harborgrid/sessiond/pkg/secure"
)

// SentCode represents a captured verification code delivery
type SentCode struct {
	To      string
	Code    string
	Purpose string
}

// MockNotifyService captures verification codes for test assertions
type MockNotifyService struct {
	SentCodes []SentCode
	mu        sync.Mutex
}

// SendVerificationCode records the delivery
func (m *MockNotifyService) SendVerificationCode(ctx context.Context, email, code, purpose string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SentCodes = append(m.SentCodes, SentCode{To: email, Code: code, Purpose: purpose})
	return nil
}

// LastCode returns the most recent delivered code
func (m *MockNotifyService) LastCode() *SentCode {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.SentCodes) == 0 {
		return nil
	}
	return &m.SentCodes[len(m.SentCodes)-1]
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server  *httptest.Server
	DB      *database.DB
	Notify  *MockNotifyService
	Config  *config.Config
	Sweeper *background.Sweeper

	SessionService *services.SessionService
	DeviceService  *services.DeviceService
	AuditService   *services.AuditService

	logger *slog.Logger
}

// NewTestServer initializes a complete HTTP server with real database and a
// captured notify service. The session cache is disabled so every read goes
// through the store.
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Session: config.SessionConfig{
			TokenSecret:   "test-secret-32-characters-long-for-testing",
			TTL:           24 * time.Hour,
			MaxLifetime:   30 * 24 * time.Hour,
			CacheTTLCap:   1 * time.Hour,
			SweepInterval: 1 * time.Hour,
		},
		Security: config.SecurityConfig{
			HeartbeatInterval:      60 * time.Second,
			HeartbeatMissThreshold: 5,
			MaxFailedLogins:        5,
			BlockCooldown:          1 * time.Hour,
			VerifyThreshold:        50,
			ChallengeThreshold:     70,
			TerminateThreshold:     90,
		},
		Cookie: config.CookieConfig{
			Secure:   false,
			SameSite: "lax",
		},
		Server: config.ServerConfig{
			Port: "0",
			Env:  "test",
		},
	}

	sessionRepo, securityRepo, principalRepo, fingerprintRepo, trustRepo, eventRepo :=
		InitializeRepositories(db)

	mockNotify := &MockNotifyService{}

	auditLogger := pkglogger.NewAuditLogger(logger, cfg.Server.Env)
	auditService := services.NewAuditService(eventRepo, logger, auditLogger)

	tokenHasher := secure.NewTokenHasher(cfg.Session.TokenSecret)
	riskEngine := risk.NewEngine(risk.Thresholds{
		Verify:                 cfg.Security.VerifyThreshold,
		Challenge:              cfg.Security.ChallengeThreshold,
		Terminate:              cfg.Security.TerminateThreshold,
		HeartbeatMissThreshold: cfg.Security.HeartbeatMissThreshold,
	})

	sessionService := services.NewSessionService(
		sessionRepo,
		securityRepo,
		fingerprintRepo,
		trustRepo,
		principalRepo,
		cache.NewNoopSessionCache(),
		tokenHasher,
		riskEngine,
		auditService,
		mockNotify,
		cfg.Session,
		cfg.Security,
		logger,
	)
	deviceService := services.NewDeviceService(fingerprintRepo, trustRepo, principalRepo, mockNotify, auditService, logger)

	ipConfig := &pkghttp.IPConfig{}
	cookieCfg := handlers.CookieConfig{
		Secure:   cfg.Cookie.Secure,
		SameSite: cfg.Cookie.SameSite,
	}
	sessionHandler := handlers.NewSessionHandler(sessionService, auditService, ipConfig, cookieCfg)
	deviceHandler := handlers.NewDeviceHandler(deviceService)

	propagator := tenant.NewPropagator(db.Pool, logger)
	pipeline := middlewareCustom.NewSessionPipeline(sessionService, propagator, ipConfig, logger)

	sweeper := background.NewSweeper(sessionRepo, trustRepo, fingerprintRepo, logger, cfg.Session.SweepInterval, cfg.Security.BlockCooldown)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, sessionHandler, deviceHandler, pipeline)

	server := httptest.NewServer(r)

	return &TestServer{
		Server:         server,
		DB:             db,
		Notify:         mockNotify,
		Config:         cfg,
		Sweeper:        sweeper,
		SessionService: sessionService,
		DeviceService:  deviceService,
		AuditService:   auditService,
		logger:         logger,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithSession makes a request authenticated with the opaque token
func (ts *TestServer) RequestWithSession(method, path, token string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Session " + token,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// CreateSessionViaAPI establishes a session through the public endpoint and
// returns the plaintext token plus the session view.
func (ts *TestServer) CreateSessionViaAPI(principalID, credential string) (string, map[string]interface{}, error) {
	resp, err := ts.Request(http.MethodPost, "/sessions", map[string]interface{}{
		"principal_id": principalID,
		"credential":   credential,
		"session_type": "web",
	}, nil)
	if err != nil {
		return "", nil, err
	}

	var created struct {
		Token   string                 `json:"token"`
		Session map[string]interface{} `json:"session"`
	}
	if err := ParseJSONResponse(resp, &created); err != nil {
		return "", nil, err
	}
	return created.Token, created.Session, nil
}

// GetErrorCode extracts the machine-readable error code from an error response
func GetErrorCode(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if code, ok := errResp["error"].(string); ok {
		return code, nil
	}
	return "", nil
}
