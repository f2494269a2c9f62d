package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/boardsync/internal/relay"
)

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 1 << 20
	defaultBurst          = 30
	defaultEmptyRoomTTL   = 15 * time.Minute
	defaultSweepInterval  = time.Minute
	defaultJoinTimeout    = 10 * time.Second
)

// RateLimitConfig defines the parameters for per-connection activity rate limiting.
// RATE_LIMIT_BURST=0 sets Disabled.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
	Disabled       bool
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	// AdminPassword guards the admin endpoints. Empty disables them.
	AdminPassword string
	RoomPolicy    relay.Policy
	EmptyRoomTTL  time.Duration
	SweepInterval time.Duration
	JoinTimeout   time.Duration

	LogLevel  string
	LogFormat string
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: time.Second,
		},
		RoomPolicy:    relay.PolicyAutoCreate,
		EmptyRoomTTL:  defaultEmptyRoomTTL,
		SweepInterval: defaultSweepInterval,
		JoinTimeout:   defaultJoinTimeout,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// sanitizeConfig fills zero or invalid fields with defaults and copies the
// origin list so later changes to the caller's slice do not leak in.
func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	if cfg.RoomPolicy == "" {
		cfg.RoomPolicy = relay.PolicyAutoCreate
	}

	if cfg.EmptyRoomTTL <= 0 {
		cfg.EmptyRoomTTL = defaultEmptyRoomTTL
	}

	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set or invalid.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	// Load SERVER_PORT
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	// Load ALLOWED_ORIGINS
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	// Load MAX_MESSAGE_SIZE
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	// Load RATE_LIMIT_BURST
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		if strings.TrimSpace(burst) == "0" {
			cfg.RateLimit.Disabled = true
		} else {
			cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
		}
	}

	// Load RATE_LIMIT_REFILL_INTERVAL
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}

	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")

	if policy := os.Getenv("ROOM_POLICY"); policy != "" {
		if parsed, err := relay.ParsePolicy(policy); err == nil {
			cfg.RoomPolicy = parsed
		}
	}

	if ttl := os.Getenv("EMPTY_ROOM_TTL"); ttl != "" {
		cfg.EmptyRoomTTL = parseDuration(ttl, cfg.EmptyRoomTTL)
	}

	if interval := os.Getenv("SWEEP_INTERVAL"); interval != "" {
		cfg.SweepInterval = parseDuration(interval, cfg.SweepInterval)
	}

	if timeout := os.Getenv("JOIN_TIMEOUT"); timeout != "" {
		cfg.JoinTimeout = parseDuration(timeout, cfg.JoinTimeout)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(level))
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(format))
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts whole seconds ("15") or a Go duration ("15m").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
