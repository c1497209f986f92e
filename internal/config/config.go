// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Redis address for the result cache (optional, uses in-process cache if not set)

	// Host platform integration
	SocialIntegration bool // forum signal available (social layer connected)

	// Risk scoring
	Weights        RiskWeights
	Thresholds     RiskThresholds
	InactivityDays int // sentinel for never-active students

	// Caching
	RiskCacheTTL time.Duration
	ListCacheTTL time.Duration

	// Background sweep
	SweepInterval time.Duration
	SweepLookback time.Duration // only pairs active within this window are swept

	// Security
	APIKey        string // shared key for mutating endpoints (optional)
	WebhookSecret string // default HMAC secret for outbound notifications
}

// RiskWeights is the per-dimension weight configuration.
// Weights conventionally sum to 100 but any positive total is accepted;
// the engine normalizes by the sum of applicable weights.
type RiskWeights struct {
	Inactivity  int
	Velocity    int
	Quiz        int
	Forum       int
	Assignments int
}

// RiskThresholds are the ascending score cut points for level classification.
// Low is the floor of the low bucket; a score at or above Medium/High/Critical
// falls into that bucket.
type RiskThresholds struct {
	Low      int
	Medium   int
	High     int
	Critical int
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultInactivityDays = 999
	DefaultRiskCacheTTL   = 24 * time.Hour
	DefaultListCacheTTL   = 30 * time.Minute
	DefaultSweepInterval  = 24 * time.Hour
	DefaultSweepLookback  = 30 * 24 * time.Hour
)

// DefaultWeights mirror the plugin's shipped configuration.
var DefaultWeights = RiskWeights{
	Inactivity:  35,
	Velocity:    25,
	Quiz:        20,
	Forum:       10,
	Assignments: 10,
}

// DefaultThresholds classify 0-24 low, 25-49 medium, 50-74 high, 75+ critical.
var DefaultThresholds = RiskThresholds{
	Low:      0,
	Medium:   25,
	High:     50,
	Critical: 75,
}

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		SocialIntegration: getEnvBool("SOCIAL_INTEGRATION", false),
		Weights: RiskWeights{
			Inactivity:  getEnvInt("RISK_WEIGHT_INACTIVITY", DefaultWeights.Inactivity),
			Velocity:    getEnvInt("RISK_WEIGHT_VELOCITY", DefaultWeights.Velocity),
			Quiz:        getEnvInt("RISK_WEIGHT_QUIZ", DefaultWeights.Quiz),
			Forum:       getEnvInt("RISK_WEIGHT_FORUM", DefaultWeights.Forum),
			Assignments: getEnvInt("RISK_WEIGHT_ASSIGNMENTS", DefaultWeights.Assignments),
		},
		Thresholds: RiskThresholds{
			Low:      getEnvInt("RISK_THRESHOLD_LOW", DefaultThresholds.Low),
			Medium:   getEnvInt("RISK_THRESHOLD_MEDIUM", DefaultThresholds.Medium),
			High:     getEnvInt("RISK_THRESHOLD_HIGH", DefaultThresholds.High),
			Critical: getEnvInt("RISK_THRESHOLD_CRITICAL", DefaultThresholds.Critical),
		},
		InactivityDays: getEnvInt("INACTIVITY_SENTINEL_DAYS", DefaultInactivityDays),
		RiskCacheTTL:   getEnvDuration("RISK_CACHE_TTL", DefaultRiskCacheTTL),
		ListCacheTTL:   getEnvDuration("LIST_CACHE_TTL", DefaultListCacheTTL),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		SweepLookback:  getEnvDuration("SWEEP_LOOKBACK", DefaultSweepLookback),
		APIKey:         os.Getenv("API_KEY"),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Thresholds = cfg.Thresholds.Clamped()

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	for name, w := range map[string]int{
		"inactivity":  c.Weights.Inactivity,
		"velocity":    c.Weights.Velocity,
		"quiz":        c.Weights.Quiz,
		"forum":       c.Weights.Forum,
		"assignments": c.Weights.Assignments,
	} {
		if w < 0 || w > 100 {
			return fmt.Errorf("risk weight %q must be in [0,100], got %d", name, w)
		}
	}
	if c.Weights.Inactivity+c.Weights.Velocity+c.Weights.Quiz+c.Weights.Forum+c.Weights.Assignments <= 0 {
		return fmt.Errorf("risk weights must have a positive sum")
	}
	if c.RiskCacheTTL <= 0 || c.ListCacheTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	return nil
}

// Clamped returns thresholds forced into ascending order within [0,100].
// Ordering is enforced here, at the configuration boundary, so the risk
// engine can rely on low < medium < high < critical.
func (t RiskThresholds) Clamped() RiskThresholds {
	clamp := func(v, lo int) int {
		if v < lo {
			v = lo
		}
		if v > 100 {
			v = 100
		}
		return v
	}
	out := t
	if out.Low < 0 {
		out.Low = 0
	}
	out.Medium = clamp(out.Medium, out.Low+1)
	out.High = clamp(out.High, out.Medium+1)
	out.Critical = clamp(out.Critical, out.High+1)
	return out
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
