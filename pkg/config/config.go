// Package config loads the service configuration from environment variables
// into an immutable Config value passed to constructors at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/castellanhq/castellan/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig holds identity-provider configuration
type AuthConfig struct {
	// IssuerBaseURL is the identity provider base URL; realms live under
	// {IssuerBaseURL}/realms/{tenant}.
	IssuerBaseURL string

	// ClientID restricts verified tokens to a single audience; empty skips
	// the audience check.
	ClientID string

	// VerifyTokens enables in-process OIDC signature verification. When
	// false, verification is assumed to have happened upstream (gateway).
	VerifyTokens bool
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	Enabled     bool
	ServiceName string
	NodeID      string
	Environment string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	hostname, _ := os.Hostname()

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("CASTELLAN_HOST", "0.0.0.0"),
			Port:            getEnv("CASTELLAN_PORT", "8080"),
			ReadTimeout:     getEnvDuration("CASTELLAN_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("CASTELLAN_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("CASTELLAN_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("CASTELLAN_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("CASTELLAN_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("CASTELLAN_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("CASTELLAN_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("CASTELLAN_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("CASTELLAN_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Auth: AuthConfig{
			IssuerBaseURL: getEnv("CASTELLAN_ISSUER_BASE_URL", ""),
			ClientID:      getEnv("CASTELLAN_CLIENT_ID", ""),
			VerifyTokens:  getEnvBool("CASTELLAN_VERIFY_TOKENS", false),
		},
		Audit: AuditConfig{
			Enabled:     getEnvBool("CASTELLAN_AUDIT_ENABLED", true),
			ServiceName: getEnv("CASTELLAN_SERVICE_NAME", "castellan"),
			NodeID:      getEnv("CASTELLAN_NODE_ID", hostname),
			// Uppercased once here so persisted audit records always carry
			// the canonical enum value.
			Environment: strings.ToUpper(getEnv("CASTELLAN_ENVIRONMENT", "DEVELOPMENT")),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("CASTELLAN_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("CASTELLAN_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Auth.VerifyTokens && c.Auth.IssuerBaseURL == "" {
		return fmt.Errorf("issuer base URL is required when token verification is enabled")
	}
	switch strings.ToUpper(c.Audit.Environment) {
	case "PRODUCTION", "STAGING", "DEVELOPMENT", "TEST":
	default:
		return fmt.Errorf("invalid environment: %s (must be PRODUCTION, STAGING, DEVELOPMENT, or TEST)", c.Audit.Environment)
	}
	return nil
}

// IsProduction reports whether the service runs in a production-equivalent
// environment. Controls stack trace exposure in error responses.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Audit.Environment, "PRODUCTION")
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
