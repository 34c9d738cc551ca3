// ABOUTME: Configuration loading and parsing for warden
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete warden configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds audit database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// SupervisorConfig holds the supervisor's timing configuration.
// All intervals arrive as duration strings ("250ms", "5s") and are
// parsed into the typed fields after unmarshaling.
type SupervisorConfig struct {
	HealthCheckInterval time.Duration `yaml:"-"`
	IdleInterval        time.Duration `yaml:"-"`
	DequeueWait         time.Duration `yaml:"-"`
	ExecutionTimeout    time.Duration `yaml:"-"`
	ShutdownTimeout     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HealthCheckIntervalRaw string `yaml:"health_check_interval"`
	IdleIntervalRaw        string `yaml:"idle_interval"`
	DequeueWaitRaw         string `yaml:"dequeue_wait"`
	ExecutionTimeoutRaw    string `yaml:"execution_timeout"`
	ShutdownTimeoutRaw     string `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Supervisor timing defaults, applied when the config omits a value.
const (
	DefaultHealthCheckInterval = 5 * time.Second
	DefaultIdleInterval        = 500 * time.Millisecond
	DefaultDequeueWait         = 250 * time.Millisecond
	DefaultExecutionTimeout    = 60 * time.Second
	DefaultShutdownTimeout     = 10 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	s := c.Supervisor
	checks := []struct {
		name string
		d    time.Duration
	}{
		{"supervisor.health_check_interval", s.HealthCheckInterval},
		{"supervisor.idle_interval", s.IdleInterval},
		{"supervisor.dequeue_wait", s.DequeueWait},
		{"supervisor.execution_timeout", s.ExecutionTimeout},
		{"supervisor.shutdown_timeout", s.ShutdownTimeout},
	}
	for _, check := range checks {
		if check.d <= 0 {
			return fmt.Errorf("%s must be positive", check.name)
		}
	}

	return nil
}

// applyDefaults fills in supervisor timings that the file left unset.
func (c *Config) applyDefaults() {
	s := &c.Supervisor
	if s.HealthCheckInterval == 0 {
		s.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if s.IdleInterval == 0 {
		s.IdleInterval = DefaultIdleInterval
	}
	if s.DequeueWait == 0 {
		s.DequeueWait = DefaultDequeueWait
	}
	if s.ExecutionTimeout == 0 {
		s.ExecutionTimeout = DefaultExecutionTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Supervisor.HealthCheckIntervalRaw, "health_check_interval", &cfg.Supervisor.HealthCheckInterval},
		{cfg.Supervisor.IdleIntervalRaw, "idle_interval", &cfg.Supervisor.IdleInterval},
		{cfg.Supervisor.DequeueWaitRaw, "dequeue_wait", &cfg.Supervisor.DequeueWait},
		{cfg.Supervisor.ExecutionTimeoutRaw, "execution_timeout", &cfg.Supervisor.ExecutionTimeout},
		{cfg.Supervisor.ShutdownTimeoutRaw, "shutdown_timeout", &cfg.Supervisor.ShutdownTimeout},
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
