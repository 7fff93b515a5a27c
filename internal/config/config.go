// ABOUTME: Configuration loading and parsing for wecom-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete wecom-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	AI        AIConfig        `yaml:"ai"`
	Stream    StreamConfig    `yaml:"stream"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Queue     QueueConfig     `yaml:"queue"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// WebhookConfig holds the callback endpoint credentials issued by the
// platform's admin console.
type WebhookConfig struct {
	Path           string `yaml:"path"`
	Token          string `yaml:"token"`
	EncodingAESKey string `yaml:"encoding_aes_key"`
	WelcomeText    string `yaml:"welcome_text"`
}

// AIConfig holds the reply model connection settings
type AIConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
}

// StreamConfig holds reply stream lifecycle timing
type StreamConfig struct {
	Expiry      time.Duration `yaml:"-"`
	DeleteGrace time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ExpiryRaw      string `yaml:"expiry"`
	DeleteGraceRaw string `yaml:"delete_grace"`
}

// HeartbeatConfig holds placeholder heartbeat timing
type HeartbeatConfig struct {
	Tick     time.Duration `yaml:"-"`
	Deadline time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TickRaw     string `yaml:"tick"`
	DeadlineRaw string `yaml:"deadline"`
}

// QueueConfig holds per-conversation queue limits
type QueueConfig struct {
	MaxBacklog int `yaml:"max_backlog"`

	IdleReclaim    time.Duration `yaml:"-"`
	IdleReclaimRaw string        `yaml:"idle_reclaim"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
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
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Webhook.Token == "" {
		return fmt.Errorf("webhook.token is required")
	}
	if c.Webhook.EncodingAESKey == "" {
		return fmt.Errorf("webhook.encoding_aes_key is required")
	}
	if len(c.Webhook.EncodingAESKey) != 43 {
		return fmt.Errorf("webhook.encoding_aes_key must be 43 characters, got %d", len(c.Webhook.EncodingAESKey))
	}

	if c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required")
	}
	if c.AI.Model == "" {
		return fmt.Errorf("ai.model is required")
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
		{"stream.expiry", cfg.Stream.ExpiryRaw, &cfg.Stream.Expiry},
		{"stream.delete_grace", cfg.Stream.DeleteGraceRaw, &cfg.Stream.DeleteGrace},
		{"heartbeat.tick", cfg.Heartbeat.TickRaw, &cfg.Heartbeat.Tick},
		{"heartbeat.deadline", cfg.Heartbeat.DeadlineRaw, &cfg.Heartbeat.Deadline},
		{"queue.idle_reclaim", cfg.Queue.IdleReclaimRaw, &cfg.Queue.IdleReclaim},
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
