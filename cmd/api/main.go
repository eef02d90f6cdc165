package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/harborgrid/sessiond/internal/background"
	"github.com/harborgrid/sessiond/internal/cache"
	"github.com/harborgrid/sessiond/internal/config"
	"github.com/harborgrid/sessiond/internal/database"
	"github.com/harborgrid/sessiond/internal/handlers"
	"github.com/harborgrid/sessiond/internal/middleware"
	"github.com/harborgrid/sessiond/internal/repositories"
	"github.com/harborgrid/sessiond/internal/risk"
	"github.com/harborgrid/sessiond/internal/routes"
	"github.com/harborgrid/sessiond/internal/services"
	"github.com/harborgrid/sessiond/internal/tenant"
	pkghttp "github.com/harborgrid/sessiond/pkg/http"
	pkglogger "github.com/harborgrid/sessiond/pkg/logger"
	"github.com/harborgrid/sessiond/pkg/secure"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	sessionRepo := repositories.NewSessionRepository(db)
	securityRepo := repositories.NewSecurityRepository(db)
	principalRepo := repositories.NewPrincipalRepository(db)
	fingerprintRepo := repositories.NewFingerprintRepository(db)
	trustRepo := repositories.NewTrustRepository(db)
	eventRepo := repositories.NewEventRepository(db)

	// Session cache: Redis when configured, otherwise a no-op that sends
	// every lookup to the store.
	var sessionCache cache.SessionCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisCache, err := cache.NewRedisSessionCache(client, cfg.Session.CacheTTLCap, logger)
		if err != nil {
			logger.Error("failed to initialize session cache", slog.Any("error", err))
			os.Exit(1)
		}
		sessionCache = redisCache
	} else {
		logger.Info("no REDIS_ADDR configured, session cache disabled")
		sessionCache = cache.NewNoopSessionCache()
	}

	// Verification code delivery: AWS SES when enabled, otherwise log-only.
	var notifyService services.NotifyService
	if cfg.Email.Enabled {
		sesService, err := services.NewAWSSESNotifyService(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize notify service", slog.Any("error", err))
			os.Exit(1)
		}
		notifyService = sesService
	} else {
		notifyService = services.NewLogNotifyService(logger)
	}

	// Initialize security services
	auditLogger := pkglogger.NewAuditLogger(logger, cfg.Server.Env)
	auditService := services.NewAuditService(eventRepo, logger, auditLogger)

	tokenHasher := secure.NewTokenHasher(cfg.Session.TokenSecret)
	riskEngine := risk.NewEngine(risk.Thresholds{
		Verify:                 cfg.Security.VerifyThreshold,
		Challenge:              cfg.Security.ChallengeThreshold,
		Terminate:              cfg.Security.TerminateThreshold,
		HeartbeatMissThreshold: cfg.Security.HeartbeatMissThreshold,
	})

	// Initialize services
	sessionService := services.NewSessionService(
		sessionRepo,
		securityRepo,
		fingerprintRepo,
		trustRepo,
		principalRepo,
		sessionCache,
		tokenHasher,
		riskEngine,
		auditService,
		notifyService,
		cfg.Session,
		cfg.Security,
		logger,
	)
	deviceService := services.NewDeviceService(fingerprintRepo, trustRepo, principalRepo, notifyService, auditService, logger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{}
	cookieCfg := handlers.CookieConfig{
		Domain:   cfg.Cookie.Domain,
		Secure:   cfg.Cookie.Secure,
		SameSite: cfg.Cookie.SameSite,
	}
	sessionHandler := handlers.NewSessionHandler(sessionService, auditService, ipConfig, cookieCfg)
	deviceHandler := handlers.NewDeviceHandler(deviceService)

	// Per-request pipeline with tenant-scoped connections
	propagator := tenant.NewPropagator(db.Pool, logger)
	pipeline := middleware.NewSessionPipeline(sessionService, propagator, ipConfig, logger)

	// Background sweeper reconciles expiry, trust and block state
	sweeper := background.NewSweeper(sessionRepo, trustRepo, fingerprintRepo, logger, cfg.Session.SweepInterval, cfg.Security.BlockCooldown)

	// Setup CORS middleware
	corsConfig := middleware.DefaultCORSConfig(cfg.Server.Env)
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Setup router
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middleware.CORS(corsConfig))
	router.Use(middleware.SecureLogger(logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, sessionHandler, deviceHandler, pipeline)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start sweep task
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	go sweeper.Start(sweepCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	sweepCancel()
	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
