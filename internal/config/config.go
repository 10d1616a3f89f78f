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
	Database  DatabaseConfig
	Redis     RedisConfig
	Server    ServerConfig
	Security  SecurityConfig
	Challenge ChallengeConfig
	Notify    NotifyConfig
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

// DSN builds the postgres connection string for pgx
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// SecurityConfig holds the risk gate and rate limiting knobs. Every
// constant of the hardening flow is configuration, not code.
type SecurityConfig struct {
	GrantSecret       string          // signs the session-grant handoff token
	GrantExpiry       time.Duration   // how long the external session issuer will accept a grant
	DelayBase         time.Duration   // progressive delay for the 1st consecutive failure
	DelayCap          time.Duration   // upper bound on the progressive delay
	CaptchaThreshold  int             // cumulative failures before a CAPTCHA is demanded
	LockoutThreshold  int             // cumulative failures before the account locks
	LockoutWindow     time.Duration   // rolling window for the cumulative failure count
	LockoutTiers      []time.Duration // escalating lockout durations, e.g. 30m, 1h, 24h
	AttemptRetention  time.Duration   // how long login attempt rows are kept
	HistoryWindow     time.Duration   // how far back anomaly comparison looks
	TimingDelayBaseMs int
	TimingDelayRandMs int
	CleanupInterval   time.Duration
	TrustedProxies    []string
	CaptchaVerifyURL  string // empty means the dev passthrough verifier
	CaptchaSecret     string
}

// ChallengeConfig holds the second-factor challenge knobs.
type ChallengeConfig struct {
	TTL                 time.Duration // challenge validity window
	MaxAttempts         int           // per-challenge verification attempts
	MaxSwitches         int           // method switches per lineage
	MaxResends          int           // SMS resends per user per window
	ResendWindow        time.Duration
	MaxVerifyPerUser    int           // verification attempts per user per window
	VerifyWindow        time.Duration
	MaxInitiationsPerIP int           // challenge initiations per client IP per window
	InitiationWindow    time.Duration
	SMSCodeTTL          time.Duration // the SMS code expires before the challenge does
}

type NotifyConfig struct {
	AWSRegion   string
	FromAddress string
	SMSSenderID string
	Enabled     bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	grantSecret := getEnv("GRANT_SECRET", "")
	if grantSecret == "" {
		return nil, fmt.Errorf("GRANT_SECRET is required")
	}

	env := getEnv("ENV", "development")
	if err := validateGrantSecret(grantSecret, env); err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      env,
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Security: SecurityConfig{
			GrantSecret:       grantSecret,
			GrantExpiry:       getEnvAsDuration("GRANT_EXPIRY", 5*time.Minute),
			DelayBase:         getEnvAsDuration("FAILURE_DELAY_BASE", 1*time.Second),
			DelayCap:          getEnvAsDuration("FAILURE_DELAY_CAP", 16*time.Second),
			CaptchaThreshold:  getEnvAsInt("CAPTCHA_THRESHOLD", 3),
			LockoutThreshold:  getEnvAsInt("LOCKOUT_THRESHOLD", 10),
			LockoutWindow:     getEnvAsDuration("LOCKOUT_WINDOW", 15*time.Minute),
			LockoutTiers:      parseLockoutTiers(getEnv("LOCKOUT_TIERS", "30m,1h,24h")),
			AttemptRetention:  getEnvAsDuration("ATTEMPT_RETENTION", 90*24*time.Hour),
			HistoryWindow:     getEnvAsDuration("ANOMALY_HISTORY_WINDOW", 90*24*time.Hour),
			TimingDelayBaseMs: getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 50),
			CleanupInterval:   getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			TrustedProxies:    splitNonEmpty(getEnv("TRUSTED_PROXIES", "")),
			CaptchaVerifyURL:  getEnv("CAPTCHA_VERIFY_URL", ""),
			CaptchaSecret:     getEnv("CAPTCHA_SECRET", ""),
		},
		Challenge: ChallengeConfig{
			TTL:                 getEnvAsDuration("CHALLENGE_TTL", 10*time.Minute),
			MaxAttempts:         getEnvAsInt("CHALLENGE_MAX_ATTEMPTS", 5),
			MaxSwitches:         getEnvAsInt("CHALLENGE_MAX_SWITCHES", 3),
			MaxResends:          getEnvAsInt("CHALLENGE_MAX_RESENDS", 3),
			ResendWindow:        getEnvAsDuration("CHALLENGE_RESEND_WINDOW", 15*time.Minute),
			MaxVerifyPerUser:    getEnvAsInt("CHALLENGE_MAX_VERIFY_PER_USER", 5),
			VerifyWindow:        getEnvAsDuration("CHALLENGE_VERIFY_WINDOW", 15*time.Minute),
			MaxInitiationsPerIP: getEnvAsInt("CHALLENGE_MAX_INITIATIONS_PER_IP", 10),
			InitiationWindow:    getEnvAsDuration("CHALLENGE_INITIATION_WINDOW", 15*time.Minute),
			SMSCodeTTL:          getEnvAsDuration("SMS_CODE_TTL", 5*time.Minute),
		},
		Notify: NotifyConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("NOTIFY_FROM_ADDRESS", ""),
			SMSSenderID: getEnv("SMS_SENDER_ID", ""),
			Enabled:     getEnvAsBool("NOTIFY_ENABLED", true),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if len(cfg.Security.LockoutTiers) == 0 {
		return nil, fmt.Errorf("LOCKOUT_TIERS must contain at least one duration")
	}
	if cfg.Challenge.SMSCodeTTL > cfg.Challenge.TTL {
		return nil, fmt.Errorf("SMS_CODE_TTL cannot exceed CHALLENGE_TTL")
	}
	if env == "production" && (cfg.Security.CaptchaVerifyURL == "" || cfg.Security.CaptchaSecret == "") {
		return nil, fmt.Errorf("CAPTCHA_VERIFY_URL and CAPTCHA_SECRET are required in production")
	}

	return cfg, nil
}

// validateGrantSecret enforces minimum strength for the grant signing secret
func validateGrantSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("GRANT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("GRANT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func parseLockoutTiers(raw string) []time.Duration {
	var tiers []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil || d <= 0 {
			continue
		}
		tiers = append(tiers, d)
	}
	return tiers
}

func splitNonEmpty(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
