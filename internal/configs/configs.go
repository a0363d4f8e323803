/*
Package configs is responsible for loading and parsing the application's configuration settings.

Configuration comes from operating system environment variables (optionally seeded from a
.env file in development), covering the running environment, port, CORS allowed origins,
the credential public key, and handshake rate limits.
*/
package configs

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig contains all configuration parameters required for the application to run.
// All configuration values are loaded from environment variables.
type AppConfig struct {
	// General Server Settings
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	Port        int    `envconfig:"PORT" default:"7001"`

	// Security Settings
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	// PublicKeyPath points at the PEM-encoded RSA public key used to verify
	// connection credentials. The matching private key is held by the external
	// token issuer and is never present here.
	PublicKeyPath string `envconfig:"PUBLIC_KEY_PATH"`

	// AuthVerifyTimeout bounds credential verification during the handshake.
	// A verification that exceeds it is treated as a rejection.
	AuthVerifyTimeout time.Duration `envconfig:"AUTH_VERIFY_TIMEOUT" default:"5s"`

	// Handshake rate limiting (token bucket, per client IP).
	HandshakeRate  float64 `envconfig:"HANDSHAKE_RATE" default:"0.5"`
	HandshakeBurst int     `envconfig:"HANDSHAKE_BURST" default:"5"`
}

// LoadConfig reads and parses the application configuration from environment variables.
// A .env file in the working directory is loaded first if present (development convenience).
// It returns a pointer to the AppConfig struct and any error encountered.
func LoadConfig() (*AppConfig, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment configuration: %w", err)
	}

	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", cfg.Port, 1024, 65535)
	}

	if cfg.PublicKeyPath == "" {
		return nil, fmt.Errorf("PUBLIC_KEY_PATH environment variable is required to verify connection credentials")
	}

	if cfg.HandshakeRate <= 0 || cfg.HandshakeBurst <= 0 {
		return nil, fmt.Errorf("handshake rate limit settings must be positive (rate=%v, burst=%d)", cfg.HandshakeRate, cfg.HandshakeBurst)
	}

	if cfg.Environment != "development" && len(cfg.AllowedOrigins) == 0 {
		return nil, fmt.Errorf("ALLOWED_ORIGINS environment variable is required in %s environment", cfg.Environment)
	}

	return cfg, nil
}
