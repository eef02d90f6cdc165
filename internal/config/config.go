package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Session  SessionConfig
	Security SecurityConfig
	Cookie   CookieConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr     string // empty = cache disabled, no-op implementation selected
	Password string
	DB       int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

type SessionConfig struct {
	TokenSecret   string        // HMAC key for token hashing
	TTL           time.Duration // default session lifetime
	MaxLifetime   time.Duration // no extension may push expiry past created_at + MaxLifetime
	CacheTTLCap   time.Duration // upper bound on cache entry TTL
	SweepInterval time.Duration
}

type SecurityConfig struct {
	HeartbeatInterval      time.Duration
	HeartbeatMissThreshold int // missed heartbeats before forced termination
	MaxFailedLogins        int // fingerprint block threshold
	BlockCooldown          time.Duration
	VerifyThreshold        int
	ChallengeThreshold     int
	TerminateThreshold     int
}

type CookieConfig struct {
	Domain   string
	Secure   bool
	SameSite string // "strict", "lax", or "none"
}

type EmailConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	tokenSecret := getEnv("SESSION_TOKEN_SECRET", "")
	if tokenSecret == "" {
		return nil, fmt.Errorf("SESSION_TOKEN_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "sessiond"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
		},
		Session: SessionConfig{
			TokenSecret:   tokenSecret,
			TTL:           getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			MaxLifetime:   getEnvAsDuration("SESSION_MAX_LIFETIME", 30*24*time.Hour),
			CacheTTLCap:   getEnvAsDuration("CACHE_TTL", 1*time.Hour),
			SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", 15*time.Minute),
		},
		Security: SecurityConfig{
			HeartbeatInterval:      getEnvAsDuration("HEARTBEAT_INTERVAL", 60*time.Second),
			HeartbeatMissThreshold: getEnvAsInt("HEARTBEAT_MISS_THRESHOLD", 5),
			MaxFailedLogins:        getEnvAsInt("FP_MAX_FAILED_LOGINS", 5),
			BlockCooldown:          getEnvAsDuration("FP_BLOCK_COOLDOWN", 1*time.Hour),
			VerifyThreshold:        getEnvAsInt("RISK_VERIFY_THRESHOLD", 50),
			ChallengeThreshold:     getEnvAsInt("RISK_CHALLENGE_THRESHOLD", 70),
			TerminateThreshold:     getEnvAsInt("RISK_TERMINATE_THRESHOLD", 90),
		},
		Cookie: CookieConfig{
			Domain:   getEnv("COOKIE_DOMAIN", ""),
			Secure:   getEnvAsBool("COOKIE_SECURE", env == "production"),
			SameSite: getEnv("COOKIE_SAMESITE", "lax"),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("EMAIL_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateTokenSecret(tokenSecret, env); err != nil {
		return nil, err
	}

	if cfg.Session.TTL > cfg.Session.MaxLifetime {
		return nil, fmt.Errorf("SESSION_TTL (%s) cannot exceed SESSION_MAX_LIFETIME (%s)",
			cfg.Session.TTL, cfg.Session.MaxLifetime)
	}

	if cfg.Security.VerifyThreshold >= cfg.Security.ChallengeThreshold ||
		cfg.Security.ChallengeThreshold >= cfg.Security.TerminateThreshold {
		return nil, fmt.Errorf("risk thresholds must be strictly increasing: verify < challenge < terminate")
	}

	if cfg.Email.Enabled && cfg.Email.FromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when EMAIL_ENABLED=true")
	}

	return cfg, nil
}

// validateTokenSecret enforces minimum strength for the token hashing secret
func validateTokenSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("SESSION_TOKEN_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("SESSION_TOKEN_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{}
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
