// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Scoring
	FeatureWindow  int     // rolling history capacity
	AlertThreshold float64 // score at or above which a result is an alert

	// Graph analysis
	GraphStructural bool // enables cycle enumeration
	GraphMaxCycles  int
	PathMinHops     int
	PathMaxPaths    int
	PathStartNodes  int

	// Alerting
	SinkURL        string // optional sink registered at startup
	SinkTimeout    time.Duration
	SinkPublicOnly bool // reject sinks on private or loopback addresses

	// Attestation
	AttestDigest string // "sha256" or "keccak256"
	AttestSigner string // "none", "dilithium3", "secp256k1"
	AttestKey    string // hex seed or private key, depending on AttestSigner

	// Upstream node (consumed by the ingestion side, reported only)
	RPCURL string

	// Operations
	RateLimitRPM int
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort           = "8090"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultFeatureWindow  = 200
	DefaultAlertThreshold = 0.8
	DefaultGraphMaxCycles = 10000
	DefaultPathMinHops    = 3
	DefaultPathMaxPaths   = 5
	DefaultPathStartNodes = 50
	DefaultSinkTimeout    = 2 * time.Second
	DefaultAttestDigest   = "sha256"
	DefaultAttestSigner   = "none"
	DefaultRateLimitRPM   = 600
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:       getEnv("LOG_FORMAT", DefaultLogFormat),
		FeatureWindow:   getEnvIntLenient("FEATURE_WINDOW", DefaultFeatureWindow),
		AlertThreshold:  getEnvFloat("ALERT_THRESHOLD", DefaultAlertThreshold),
		GraphStructural: getEnvBool("GRAPH_STRUCTURAL", true),
		GraphMaxCycles:  int(getEnvInt64("GRAPH_MAX_CYCLES", DefaultGraphMaxCycles)),
		PathMinHops:     int(getEnvInt64("PATH_MIN_HOPS", DefaultPathMinHops)),
		PathMaxPaths:    int(getEnvInt64("PATH_MAX_PATHS", DefaultPathMaxPaths)),
		PathStartNodes:  int(getEnvInt64("PATH_START_NODES", DefaultPathStartNodes)),
		SinkURL:         strings.TrimSpace(os.Getenv("SINK_URL")),
		SinkTimeout:     time.Duration(getEnvInt64("SINK_TIMEOUT_MS", DefaultSinkTimeout.Milliseconds())) * time.Millisecond,
		SinkPublicOnly:  getEnvBool("SINK_PUBLIC_ONLY", false),
		AttestDigest:    strings.ToLower(getEnv("ATTEST_DIGEST", DefaultAttestDigest)),
		AttestSigner:    strings.ToLower(getEnv("ATTEST_SIGNER", DefaultAttestSigner)),
		AttestKey:       os.Getenv("ATTEST_KEY"),
		RPCURL:          os.Getenv("RPC_URL"),
		RateLimitRPM:    int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	if c.FeatureWindow < 1 {
		return fmt.Errorf("FEATURE_WINDOW must be at least 1")
	}
	if math.IsNaN(c.AlertThreshold) || c.AlertThreshold < 0 || c.AlertThreshold > 1 {
		return fmt.Errorf("ALERT_THRESHOLD must be between 0 and 1")
	}
	if c.PathMinHops < 1 {
		return fmt.Errorf("PATH_MIN_HOPS must be at least 1")
	}
	if c.PathMaxPaths < 0 || c.PathStartNodes < 0 || c.GraphMaxCycles < 0 {
		return fmt.Errorf("graph limits must not be negative")
	}
	if c.SinkTimeout <= 0 {
		return fmt.Errorf("SINK_TIMEOUT_MS must be positive")
	}
	if c.SinkURL != "" && !strings.HasPrefix(c.SinkURL, "http://") && !strings.HasPrefix(c.SinkURL, "https://") {
		return fmt.Errorf("SINK_URL must start with http:// or https://")
	}

	switch c.AttestDigest {
	case "sha256", "keccak256":
	default:
		return fmt.Errorf("ATTEST_DIGEST must be sha256 or keccak256")
	}

	switch c.AttestSigner {
	case "none":
	case "dilithium3", "secp256k1":
		if c.AttestKey == "" {
			return fmt.Errorf("ATTEST_KEY is required when ATTEST_SIGNER=%s", c.AttestSigner)
		}
	default:
		return fmt.Errorf("ATTEST_SIGNER must be none, dilithium3 or secp256k1")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvIntLenient accepts "200" as well as "200.0" (deployments set the
// window from float-typed templates).
func getEnvIntLenient(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return int(f)
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
