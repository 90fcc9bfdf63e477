package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "GroupBank"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultStoreTimeout   = 5 * time.Second
	defaultRatePerMinute  = 120

	envDevelopment = "development"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName            string
	AppEnv             string
	Port               string
	LogLevel           string
	LogFormat          string
	DatabaseURL        string
	SQLitePath         string
	RedisURL           string
	ServerKeySeed      string
	ShutdownPeriod     time.Duration
	IdempotencyTTL     time.Duration
	StoreTimeout       time.Duration
	RateLimitPerMinute int
}

// Load reads an optional .env file, then configuration values from the
// environment. Outside development a store, Redis and the server key are required.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         os.Getenv("SQLITE_PATH"),
		RedisURL:           os.Getenv("REDIS_URL"),
		ServerKeySeed:      os.Getenv("SERVER_KEY_SEED"),
		RateLimitPerMinute: defaultRatePerMinute,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = durationFromEnv("STORE_TIMEOUT", defaultStoreTimeout); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %q", v)
		}
		cfg.RateLimitPerMinute = n
	}

	if cfg.IsDevelopment() {
		return cfg, nil
	}

	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or SQLITE_PATH must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.ServerKeySeed == "" {
		return Config{}, fmt.Errorf("SERVER_KEY_SEED must be set")
	}

	return cfg, nil
}

// IsDevelopment reports whether in-memory and ephemeral fallbacks are allowed.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == envDevelopment
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// durationFromEnv reads KEY_SECONDS as whole seconds, then KEY as a Go
// duration string, falling back to def.
func durationFromEnv(key string, def time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return def, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
