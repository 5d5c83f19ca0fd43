// ABOUTME: Configuration loading and parsing for serviceos-chat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is left unset.
const (
	DefaultModel             = "openai/gpt-5"
	DefaultTemperature       = 0.3
	DefaultMaxSteps          = 5
	DefaultToolTimeout       = 30 * time.Second
	DefaultConfidenceTimeout = 5 * time.Second
	DefaultStreamTTL         = 24 * time.Hour
	DefaultStreamMaxLen      = 10000
	DefaultStreamKeyPrefix   = "serviceos:stream"
	DefaultDatabaseDriver    = "sqlite"
	DefaultToolServerAddr    = "127.0.0.1:8001"
	DefaultThreshold         = 0.6
	DefaultTopK              = 5
	DefaultScorerTimeout     = 3 * time.Second
)

// Resumable delivery backends
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config represents the complete serviceos-chat configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Model      ModelConfig      `yaml:"model" toml:"model"`
	Tools      ToolsConfig      `yaml:"tools" toml:"tools"`
	Resumable  ResumableConfig  `yaml:"resumable" toml:"resumable"`
	ToolServer ToolServerConfig `yaml:"toolserver" toml:"toolserver"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"` // serve TLS using the tailnet certificate
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Driver is "sqlite" (pure Go, default) or "sqlite3" (cgo).
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// ModelConfig configures the language model provider.
type ModelConfig struct {
	APIKey     string `yaml:"api_key" toml:"api_key"`
	BaseURL    string `yaml:"base_url" toml:"base_url"`
	Default    string `yaml:"default" toml:"default"`
	TitleModel string `yaml:"title_model" toml:"title_model"`
	MaxSteps   int    `yaml:"max_steps" toml:"max_steps"`

	Temperature    float64  `yaml:"-" toml:"-"`
	TemperatureRaw *float64 `yaml:"temperature" toml:"temperature"`
}

// ToolsConfig configures the connection to the tool-serving collaborator.
type ToolsConfig struct {
	MCPURL          string            `yaml:"mcp_url" toml:"mcp_url"`
	Headers         map[string]string `yaml:"headers" toml:"headers"`
	RequireApproval []string          `yaml:"require_approval" toml:"require_approval"`

	Timeout           time.Duration `yaml:"-" toml:"-"`
	ConfidenceTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	TimeoutRaw           string `yaml:"timeout" toml:"timeout"`
	ConfidenceTimeoutRaw string `yaml:"confidence_timeout" toml:"confidence_timeout"`
}

// ResumableConfig configures resumable stream delivery.
type ResumableConfig struct {
	// Backend is "none", "memory" or "redis". Empty selects redis when
	// redis_url is set and none otherwise.
	Backend   string `yaml:"backend" toml:"backend"`
	RedisURL  string `yaml:"redis_url" toml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`
	MaxLen    int64  `yaml:"max_len" toml:"max_len"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// Enabled reports whether a delivery backend is configured.
func (r ResumableConfig) Enabled() bool {
	return r.Backend == BackendMemory || r.Backend == BackendRedis
}

// ToolServerConfig configures cmd/serviceos-tools.
type ToolServerConfig struct {
	HTTPAddr    string  `yaml:"http_addr" toml:"http_addr"`
	Threshold   float64 `yaml:"threshold" toml:"threshold"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`
	TopK        int     `yaml:"top_k" toml:"top_k"`

	// ScorerURL points the confidence meta-tool at a remote classifier.
	// Empty keeps the keyword model.
	ScorerURL     string        `yaml:"scorer_url" toml:"scorer_url"`
	ScorerTimeout time.Duration `yaml:"-" toml:"-"`

	ScorerTimeoutRaw string `yaml:"scorer_timeout" toml:"scorer_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultPath returns the config path used when none is given on the
// command line: $SERVICEOS_CONFIG, then the XDG config dir.
func DefaultPath() string {
	if p := os.Getenv("SERVICEOS_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "serviceos", "chat.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "chat.yaml"
	}
	return filepath.Join(home, ".config", "serviceos", "chat.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}
	if c.Model.Default == "" {
		c.Model.Default = DefaultModel
	}
	if c.Model.TitleModel == "" {
		c.Model.TitleModel = c.Model.Default
	}
	if c.Model.MaxSteps <= 0 {
		c.Model.MaxSteps = DefaultMaxSteps
	}
	c.Model.Temperature = DefaultTemperature
	if c.Model.TemperatureRaw != nil {
		c.Model.Temperature = *c.Model.TemperatureRaw
	}
	if c.Tools.Timeout == 0 {
		c.Tools.Timeout = DefaultToolTimeout
	}
	if c.Tools.ConfidenceTimeout == 0 {
		c.Tools.ConfidenceTimeout = DefaultConfidenceTimeout
	}
	if c.Resumable.Backend == "" {
		if c.Resumable.RedisURL != "" {
			c.Resumable.Backend = BackendRedis
		} else {
			c.Resumable.Backend = BackendNone
		}
	}
	if c.Resumable.KeyPrefix == "" {
		c.Resumable.KeyPrefix = DefaultStreamKeyPrefix
	}
	if c.Resumable.TTL == 0 {
		c.Resumable.TTL = DefaultStreamTTL
	}
	if c.Resumable.MaxLen <= 0 {
		c.Resumable.MaxLen = DefaultStreamMaxLen
	}
	if c.ToolServer.HTTPAddr == "" {
		c.ToolServer.HTTPAddr = DefaultToolServerAddr
	}
	if c.ToolServer.Threshold == 0 {
		c.ToolServer.Threshold = DefaultThreshold
	}
	if c.ToolServer.Temperature == 0 {
		c.ToolServer.Temperature = 1.0
	}
	if c.ToolServer.TopK <= 0 {
		c.ToolServer.TopK = DefaultTopK
	}
	if c.ToolServer.ScorerTimeout <= 0 {
		c.ToolServer.ScorerTimeout = DefaultScorerTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "sqlite3" {
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature must be between 0 and 2")
	}

	if c.Tools.MCPURL != "" {
		u, err := url.Parse(c.Tools.MCPURL)
		if err != nil {
			return fmt.Errorf("tools.mcp_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("tools.mcp_url must use http or https scheme")
		}
	}

	switch c.Resumable.Backend {
	case BackendNone, BackendMemory:
	case BackendRedis:
		if c.Resumable.RedisURL == "" {
			return fmt.Errorf("resumable.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("resumable.backend must be none, memory or redis, got %q", c.Resumable.Backend)
	}

	if c.ToolServer.Threshold < 0 || c.ToolServer.Threshold > 1 {
		return fmt.Errorf("toolserver.threshold must be between 0 and 1")
	}
	if c.ToolServer.ScorerURL != "" {
		u, err := url.Parse(c.ToolServer.ScorerURL)
		if err != nil {
			return fmt.Errorf("toolserver.scorer_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("toolserver.scorer_url must use http or https scheme")
		}
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"tools.timeout", cfg.Tools.TimeoutRaw, &cfg.Tools.Timeout},
		{"tools.confidence_timeout", cfg.Tools.ConfidenceTimeoutRaw, &cfg.Tools.ConfidenceTimeout},
		{"resumable.ttl", cfg.Resumable.TTLRaw, &cfg.Resumable.TTL},
		{"toolserver.scorer_timeout", cfg.ToolServer.ScorerTimeoutRaw, &cfg.ToolServer.ScorerTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
