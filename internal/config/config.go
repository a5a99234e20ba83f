// Package config loads the incident manager's runtime configuration from
// environment variables, an optional .env file, and an optional YAML file,
// in that order of increasing precedence being reversed: the YAML file
// supplies the base, environment variables override it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StoreConfig selects and parameterizes the persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"STORE_BACKEND"` // "memory" | "embedded" | "remote"
	Path    string `yaml:"path" env:"STORE_PATH"`        // embedded: data directory
	URL     string `yaml:"url" env:"STORE_URL"`          // remote: connection string
	Prefix  string `yaml:"prefix" env:"STORE_PREFIX"`    // remote: key namespace prefix
}

// EscalationConfig controls the monitor loop.
type EscalationConfig struct {
	CheckIntervalSeconds int `yaml:"check_interval_seconds" env:"ESCALATION_CHECK_INTERVAL_SECONDS"`
}

// WebSocketConfig controls the subscription fabric's channel sizing.
type WebSocketConfig struct {
	MaxPendingMessages        int `yaml:"max_pending_messages" env:"WEBSOCKET_MAX_PENDING_MESSAGES"`
	HeartbeatIntervalSeconds  int `yaml:"heartbeat_interval_seconds" env:"WEBSOCKET_HEARTBEAT_INTERVAL_SECONDS"`
	SessionTimeoutSeconds     int `yaml:"session_timeout_seconds" env:"WEBSOCKET_SESSION_TIMEOUT_SECONDS"`
	BroadcastCapacity         int `yaml:"broadcast_capacity" env:"WEBSOCKET_BROADCAST_CAPACITY"`
	MaxMessageSizeBytes       int `yaml:"max_message_size_bytes" env:"WEBSOCKET_MAX_MESSAGE_SIZE_BYTES"`
}

// BreakerPreset names one of the circuit breaker preset configurations.
type BreakerPreset struct {
	ConsecutiveFailureThreshold int     `yaml:"consecutive_failure_threshold"`
	FailureRateThreshold        float64 `yaml:"failure_rate_threshold"`
	SlowCallRateThreshold       float64 `yaml:"slow_call_rate_threshold"`
	MinimumRequests             int     `yaml:"minimum_requests"`
	SlowCallDurationMillis      int     `yaml:"slow_call_duration_millis"`
	OpenTimeoutSeconds          int     `yaml:"open_timeout_seconds"`
	ExponentialBackoff          bool    `yaml:"exponential_backoff"`
	BackoffMultiplier           float64 `yaml:"backoff_multiplier"`
	MaxBackoffSeconds           int     `yaml:"max_backoff_seconds"`
	HalfOpenMaxConcurrent       int     `yaml:"half_open_max_concurrent"`
	HalfOpenSuccessThreshold    int     `yaml:"half_open_success_threshold"`
	HalfOpenSuccessRate         float64 `yaml:"half_open_success_rate"`
	HalfOpenMinimumProbes       int     `yaml:"half_open_minimum_probes"`
	HalfOpenFailureThreshold    int     `yaml:"half_open_failure_threshold"`
	CallTimeoutSeconds          int     `yaml:"call_timeout_seconds"`
}

// CircuitBreakerConfig holds the named presets referenced by §6.
type CircuitBreakerConfig struct {
	Presets map[string]BreakerPreset `yaml:"presets"`
}

// LoggingConfig mirrors pkg/logger's LoggingConfig shape for file decoding.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Config is the top-level configuration structure.
type Config struct {
	Store          StoreConfig          `yaml:"store"`
	Escalation     EscalationConfig     `yaml:"escalation"`
	WebSocket      WebSocketConfig      `yaml:"websocket"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "memory",
			Prefix:  "ns",
		},
		Escalation: EscalationConfig{
			CheckIntervalSeconds: 30,
		},
		WebSocket: WebSocketConfig{
			MaxPendingMessages:       1000,
			HeartbeatIntervalSeconds: 30,
			SessionTimeoutSeconds:    300,
			BroadcastCapacity:        1000,
			MaxMessageSizeBytes:      64 * 1024,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Presets: map[string]BreakerPreset{
				"default":    defaultPreset(),
				"aggressive": aggressivePreset(),
				"lenient":    lenientPreset(),
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

func defaultPreset() BreakerPreset {
	return BreakerPreset{
		ConsecutiveFailureThreshold: 5,
		FailureRateThreshold:        0.5,
		SlowCallRateThreshold:       0.5,
		MinimumRequests:             10,
		SlowCallDurationMillis:      1000,
		OpenTimeoutSeconds:          30,
		ExponentialBackoff:          false,
		BackoffMultiplier:           2.0,
		MaxBackoffSeconds:           300,
		HalfOpenMaxConcurrent:       3,
		HalfOpenSuccessThreshold:    2,
		HalfOpenSuccessRate:         0.8,
		HalfOpenMinimumProbes:       3,
		HalfOpenFailureThreshold:    1,
		CallTimeoutSeconds:          5,
	}
}

func aggressivePreset() BreakerPreset {
	p := defaultPreset()
	p.ConsecutiveFailureThreshold = 3
	p.OpenTimeoutSeconds = 60
	p.HalfOpenMaxConcurrent = 1
	p.HalfOpenSuccessThreshold = 3
	p.ExponentialBackoff = true
	return p
}

func lenientPreset() BreakerPreset {
	p := defaultPreset()
	p.ConsecutiveFailureThreshold = 10
	p.OpenTimeoutSeconds = 15
	p.HalfOpenMaxConcurrent = 5
	p.HalfOpenSuccessThreshold = 1
	return p
}

// Load loads configuration from an optional YAML file (CONFIG_FILE, falling
// back to configs/config.yaml) and overlays environment variables, having
// first loaded a .env file if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate checks for option combinations that cannot be started.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "embedded":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path is required for the embedded backend")
		}
	case "remote":
		if strings.TrimSpace(c.Store.URL) == "" {
			return fmt.Errorf("store.url is required for the remote backend")
		}
	default:
		return fmt.Errorf("unrecognized store.backend %q", c.Store.Backend)
	}
	if c.Escalation.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("escalation.check_interval_seconds must be positive")
	}
	return nil
}

// CheckInterval returns the monitor tick period as a time.Duration.
func (e EscalationConfig) CheckInterval() time.Duration {
	return time.Duration(e.CheckIntervalSeconds) * time.Second
}

// HeartbeatInterval returns the WebSocket heartbeat period as a time.Duration.
func (w WebSocketConfig) HeartbeatInterval() time.Duration {
	return time.Duration(w.HeartbeatIntervalSeconds) * time.Second
}

// SessionTimeout returns the WebSocket session idle timeout as a time.Duration.
func (w WebSocketConfig) SessionTimeout() time.Duration {
	return time.Duration(w.SessionTimeoutSeconds) * time.Second
}
