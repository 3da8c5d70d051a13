package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	Planner PlannerConfig `yaml:"planner"`
	Store   StoreConfig   `yaml:"store"`
	Reaper  ReaperConfig  `yaml:"reaper"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
}

// AgentConfig holds orchestrator settings.
type AgentConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
	SystemPrompt  string        `yaml:"system_prompt"`
	// SubmitRatePerMinute bounds how many turns a single customer may start
	// per minute. Zero disables the limit.
	SubmitRatePerMinute int `yaml:"submit_rate_per_minute"`
}

// PlannerConfig holds planner backend settings.
type PlannerConfig struct {
	Name           string               `yaml:"name"`
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"`
	Model          string               `yaml:"model"`
	MaxTokens      int                  `yaml:"max_tokens"`
	Temperature    float64              `yaml:"temperature"`
	ConnTimeout    time.Duration        `yaml:"conn_timeout"`
	RespTimeout    time.Duration        `yaml:"resp_timeout"`
	MaxRetries     int                  `yaml:"max_retries"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for the planner.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// StoreConfig holds SQLite settings.
type StoreConfig struct {
	Path string `yaml:"path"`
	Seed bool   `yaml:"seed"`
}

// ReaperConfig controls stale-thread reaping.
type ReaperConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"` // cron expression
	MaxAge   time.Duration `yaml:"max_age"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json | console
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under
// $HOME/.salesagent. Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".salesagent")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxIterations: 10,
			Timeout:       120 * time.Second,
			SystemPrompt: "You are Max, a virtual store assistant. Help the customer browse " +
				"products, place orders and track them. Verify details before placing an " +
				"order and present information clearly.",
			SubmitRatePerMinute: 0,
		},
		Planner: PlannerConfig{
			Name:        "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			ConnTimeout: 10 * time.Second,
			RespTimeout: 120 * time.Second,
			MaxRetries:  3,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Store: StoreConfig{
			Path: filepath.Join(defaultDataDir(), "store.db"),
		},
		Reaper: ReaperConfig{
			Enabled:  false,
			Schedule: "@hourly",
			MaxAge:   24 * time.Hour,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts
// secrets. A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			return cfg, decryptSecrets(cfg)
		}
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)
	if err := decryptSecrets(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrRead signals the config file could not be read.
var ErrRead = fmt.Errorf("read config")

// ApplyEnvOverrides maps SALESAGENT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SALESAGENT_PLANNER_BASE_URL"); v != "" {
		cfg.Planner.BaseURL = v
	}
	if v := os.Getenv("SALESAGENT_PLANNER_API_KEY"); v != "" {
		cfg.Planner.APIKey = v
	}
	if v := os.Getenv("SALESAGENT_PLANNER_MODEL"); v != "" {
		cfg.Planner.Model = v
	}
	if v := os.Getenv("SALESAGENT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SALESAGENT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SALESAGENT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SALESAGENT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SALESAGENT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("SALESAGENT_AGENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("SALESAGENT_AGENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Agent.Timeout = d
		}
	}
	if v := os.Getenv("SALESAGENT_REAPER_ENABLED"); v == "true" {
		cfg.Reaper.Enabled = true
	}
	if v := os.Getenv("SALESAGENT_REAPER_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Reaper.MaxAge = d
		}
	}
}

// decryptSecrets resolves "enc:" prefixed values using the passphrase from
// SALESAGENT_CONFIG_KEY. Plaintext values pass through untouched.
func decryptSecrets(cfg *Config) error {
	if !strings.HasPrefix(cfg.Planner.APIKey, "enc:") {
		return nil
	}
	passphrase := os.Getenv("SALESAGENT_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("planner api_key is encrypted but SALESAGENT_CONFIG_KEY is not set")
	}
	decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Planner.APIKey, "enc:"), passphrase)
	if err != nil {
		return fmt.Errorf("decrypt planner api_key: %w", err)
	}
	cfg.Planner.APIKey = decrypted
	return nil
}

// Validate checks config invariants that would otherwise surface as
// confusing runtime failures.
func Validate(cfg *Config) error {
	if cfg.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be > 0")
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json", "console":
	default:
		return fmt.Errorf("logger.format must be text, json or console")
	}
	if cfg.Reaper.Enabled && cfg.Reaper.Schedule == "" {
		return fmt.Errorf("reaper.schedule must be set when reaper is enabled")
	}
	return nil
}
