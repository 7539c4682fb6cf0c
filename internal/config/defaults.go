package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultServerAddr      = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReadTimeout     = 15 * time.Second

	DefaultJWTIssuer = "sbomer"
	DefaultJWTTTL    = 24 * time.Hour
	// dev default, override with SBOMER_AUTH_JWT_SECRET
	DefaultJWTSecret = "dev-secret-change-me"

	DefaultRateLimitRPS   = 20.0
	DefaultRateLimitBurst = 40

	DefaultBaseURL       = "http://localhost:8080"
	DefaultClientTimeout = 15 * time.Second
	DefaultPageSize      = 10

	DefaultLogLevel  = "info"
	DefaultLogFormat = "pretty"

	EnvPrefix = "SBOMER"
)

// ConfigDir is ~/.sbomer, or ./.sbomer when there is no home directory.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".sbomer"
	}
	return filepath.Join(home, ".sbomer")
}

func DefaultDatabasePath() string {
	return filepath.Join(ConfigDir(), "sbomer.db")
}
