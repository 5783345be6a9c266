package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SessionStoreType controls where per-browser session state lives.
type SessionStoreType string

const (
	SessionMemory SessionStoreType = "memory"
	SessionRedis  SessionStoreType = "redis"
)

// StorageType controls the activity log backend.
type StorageType string

const (
	StorageSQLite StorageType = "sqlite"
	StorageMemory StorageType = "memory"
	StorageOff    StorageType = "off"
)

// Features derived from the config - centralized feature gating.
type Features struct {
	API     bool
	Metrics bool
	Storage bool
}

// Baseline holds the metrics shown as "current" before any model is saved.
type Baseline struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

// Config contains all runtime configuration for the console.
type Config struct {
	// Core
	ListenAddr string
	APIBaseURL string
	LogLevel   string
	LogFormat  string

	// Outbound requests
	RequestTimeout     time.Duration
	UploadMaxBytes     int64
	UploadAllowedTypes []string

	// Sessions
	SessionStore  SessionStoreType
	SessionTTL    time.Duration
	SessionCookie string
	InFlightTTL   time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Baseline Baseline

	// Activity log
	Storage        StorageType
	StoragePath    string
	StorageMaxRows int

	MetricsEnabled bool
	APIEnabled     bool

	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	HealthCheckPath     string
}

// Features returns the feature flags derived from the config.
func (c *Config) Features() Features {
	return Features{
		API:     c.APIEnabled,
		Metrics: c.MetricsEnabled,
		Storage: c.Storage != StorageOff,
	}
}

// Load reads an optional dotenv file, then parses env vars and returns a
// validated Config. Variables already present in the environment win over
// the file.
func Load() (Config, error) {
	envFile := getEnvString("DOTENV_FILE", ".env")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Config{
		ListenAddr: getEnvString("LISTEN_ADDR", ":8080"),
		APIBaseURL: getEnvString("API_BASE_URL", "http://localhost:8000"),
		LogLevel:   getEnvString("LOG_LEVEL", "info"),
		LogFormat:  getEnvString("LOG_FORMAT", "json"),

		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 0),
		UploadMaxBytes:     getEnvInt64("UPLOAD_MAX_BYTES", 32*1024*1024),
		UploadAllowedTypes: getEnvStringList("UPLOAD_ALLOWED_TYPES", []string{"text/csv", "text/plain"}),

		SessionStore:  SessionStoreType(getEnvString("SESSION_STORE", string(SessionMemory))),
		SessionTTL:    getEnvDuration("SESSION_TTL", 12*time.Hour),
		SessionCookie: getEnvString("SESSION_COOKIE", "bk_session"),
		InFlightTTL:   getEnvDuration("INFLIGHT_TTL", 10*time.Minute),
		RedisAddr:     getEnvString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnvString("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Scores of the model that ships with the backend.
		Baseline: Baseline{
			Accuracy:  getEnvFloat("BASELINE_ACCURACY", 0.9663),
			Precision: getEnvFloat("BASELINE_PRECISION", 0.4643),
			Recall:    getEnvFloat("BASELINE_RECALL", 0.2955),
			F1:        getEnvFloat("BASELINE_F1", 0.3611),
		},

		Storage:        StorageType(getEnvString("STORAGE", string(StorageSQLite))),
		StoragePath:    getEnvString("STORAGE_PATH", "/data/console.sqlite"),
		StorageMaxRows: getEnvInt("STORAGE_MAX_ROWS", 3000),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		APIEnabled:     getEnvBool("API_ENABLED", true),

		HealthCheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		HealthCheckTimeout:  getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		HealthCheckPath:     getEnvString("HEALTH_CHECK_PATH", "/"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configuration constraints.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return fmt.Errorf("invalid API_BASE_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("API_BASE_URL must be http(s), got %q", c.APIBaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("API_BASE_URL must include a host")
	}

	switch c.LogFormat {
	case "json", "text":
		// ok
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %q (must be json|text)", c.LogFormat)
	}

	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be >= 0")
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be > 0")
	}
	if len(c.UploadAllowedTypes) == 0 {
		return fmt.Errorf("UPLOAD_ALLOWED_TYPES must not be empty")
	}

	switch c.SessionStore {
	case SessionMemory:
		// ok
	case SessionRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when SESSION_STORE=redis")
		}
	default:
		return fmt.Errorf("invalid SESSION_STORE: %q (must be memory|redis)", c.SessionStore)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.InFlightTTL <= 0 {
		return fmt.Errorf("INFLIGHT_TTL must be > 0")
	}
	if c.SessionCookie == "" {
		return fmt.Errorf("SESSION_COOKIE must not be empty")
	}

	for name, v := range map[string]float64{
		"BASELINE_ACCURACY":  c.Baseline.Accuracy,
		"BASELINE_PRECISION": c.Baseline.Precision,
		"BASELINE_RECALL":    c.Baseline.Recall,
		"BASELINE_F1":        c.Baseline.F1,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1]", name)
		}
	}

	switch c.Storage {
	case StorageSQLite, StorageMemory, StorageOff:
		// ok
	default:
		return fmt.Errorf("invalid STORAGE: %q (must be sqlite|memory|off)", c.Storage)
	}
	if c.StorageMaxRows < 100 {
		return fmt.Errorf("STORAGE_MAX_ROWS must be >= 100")
	}

	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL must be > 0")
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("HEALTH_CHECK_TIMEOUT must be > 0")
	}
	if !strings.HasPrefix(c.HealthCheckPath, "/") {
		return fmt.Errorf("HEALTH_CHECK_PATH must start with /")
	}

	return nil
}

// Helper functions for parsing environment variables

func getEnvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

func getEnvStringList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		if parsed := parseStringList(v); len(parsed) > 0 {
			return parsed
		}
	}
	return def
}

func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
