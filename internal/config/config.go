package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL       string
	Port              string
	AdminJWTSecret    string
	SessionTTL        time.Duration
	AdminTokenTTL     time.Duration
	AuthRateLimit     int
	AuthRateWindow    time.Duration
	RedisURL          string
	TrustProxy        bool
	LogLevel          slog.Level
	DBConnectAttempts uint
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:              "8080",
		SessionTTL:        2 * time.Hour,
		AdminTokenTTL:     12 * time.Hour,
		AuthRateLimit:     20,
		AuthRateWindow:    10 * time.Minute,
		LogLevel:          slog.LevelInfo,
		DBConnectAttempts: 5,
	}

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.DatabaseURL = databaseURL

	if u, err := url.Parse(databaseURL); err == nil {
		host := u.Hostname()
		if host == "" {
			host = "localhost"
		}
		port := u.Port()
		if port == "" {
			port = "5432"
		}
		slog.Debug("db target", "host", host, "port", port, "db", strings.TrimPrefix(u.Path, "/"))
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	secret := os.Getenv("ADMIN_JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("ADMIN_JWT_SECRET environment variable is required")
	}
	cfg.AdminJWTSecret = secret

	var err error
	if cfg.SessionTTL, err = durationEnv("SESSION_TTL", cfg.SessionTTL); err != nil {
		return nil, err
	}
	if cfg.AdminTokenTTL, err = durationEnv("ADMIN_TOKEN_TTL", cfg.AdminTokenTTL); err != nil {
		return nil, err
	}
	if cfg.AuthRateWindow, err = durationEnv("AUTH_RATE_WINDOW", cfg.AuthRateWindow); err != nil {
		return nil, err
	}

	if v := os.Getenv("AUTH_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("AUTH_RATE_LIMIT must be a positive integer, got %q", v)
		}
		cfg.AuthRateLimit = n
	}

	if v := os.Getenv("DB_CONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("DB_CONNECT_ATTEMPTS must be a positive integer, got %q", v)
		}
		cfg.DBConnectAttempts = uint(n)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", v, err)
		}
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))

	if v := os.Getenv("TRUST_PROXY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("TRUST_PROXY must be a boolean, got %q", v)
		}
		cfg.TrustProxy = b
	}

	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return d, nil
}
