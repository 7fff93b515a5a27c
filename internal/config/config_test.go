// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validKey = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQ"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

webhook:
  path: "/wecom/callback"
  token: "callback-token"
  encoding_aes_key: "`+validKey+`"
  welcome_text: "Hello!"

ai:
  api_key: "sk-test"
  base_url: "https://api.example.com/v1"
  model: "gpt-4o-mini"
  system_prompt: "You are helpful."

stream:
  expiry: "10m"
  delete_grace: "30s"

heartbeat:
  tick: "3s"
  deadline: "60s"

queue:
  max_backlog: 5
  idle_reclaim: "60s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}

	if cfg.Webhook.Path != "/wecom/callback" {
		t.Errorf("Webhook.Path = %q, want %q", cfg.Webhook.Path, "/wecom/callback")
	}
	if cfg.Webhook.Token != "callback-token" {
		t.Errorf("Webhook.Token = %q, want %q", cfg.Webhook.Token, "callback-token")
	}
	if cfg.Webhook.EncodingAESKey != validKey {
		t.Errorf("Webhook.EncodingAESKey = %q, want %q", cfg.Webhook.EncodingAESKey, validKey)
	}
	if cfg.Webhook.WelcomeText != "Hello!" {
		t.Errorf("Webhook.WelcomeText = %q, want %q", cfg.Webhook.WelcomeText, "Hello!")
	}

	if cfg.AI.APIKey != "sk-test" {
		t.Errorf("AI.APIKey = %q, want %q", cfg.AI.APIKey, "sk-test")
	}
	if cfg.AI.Model != "gpt-4o-mini" {
		t.Errorf("AI.Model = %q, want %q", cfg.AI.Model, "gpt-4o-mini")
	}

	if cfg.Stream.Expiry != 10*time.Minute {
		t.Errorf("Stream.Expiry = %v, want %v", cfg.Stream.Expiry, 10*time.Minute)
	}
	if cfg.Stream.DeleteGrace != 30*time.Second {
		t.Errorf("Stream.DeleteGrace = %v, want %v", cfg.Stream.DeleteGrace, 30*time.Second)
	}
	if cfg.Heartbeat.Tick != 3*time.Second {
		t.Errorf("Heartbeat.Tick = %v, want %v", cfg.Heartbeat.Tick, 3*time.Second)
	}
	if cfg.Heartbeat.Deadline != 60*time.Second {
		t.Errorf("Heartbeat.Deadline = %v, want %v", cfg.Heartbeat.Deadline, 60*time.Second)
	}

	if cfg.Queue.MaxBacklog != 5 {
		t.Errorf("Queue.MaxBacklog = %d, want 5", cfg.Queue.MaxBacklog)
	}
	if cfg.Queue.IdleReclaim != 60*time.Second {
		t.Errorf("Queue.IdleReclaim = %v, want %v", cfg.Queue.IdleReclaim, 60*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_WECOM_TOKEN", "token-from-env")
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

webhook:
  token: "${TEST_WECOM_TOKEN}"
  encoding_aes_key: "`+validKey+`"

ai:
  api_key: "${TEST_OPENAI_KEY}"
  model: "gpt-4o-mini"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Webhook.Token != "token-from-env" {
		t.Errorf("Webhook.Token = %q, want %q", cfg.Webhook.Token, "token-from-env")
	}
	if cfg.AI.APIKey != "sk-from-env" {
		t.Errorf("AI.APIKey = %q, want %q", cfg.AI.APIKey, "sk-from-env")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr "missing colon"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

webhook:
  token: "tok"
  encoding_aes_key: "`+validKey+`"

ai:
  api_key: "sk-test"
  model: "gpt-4o-mini"

stream:
  expiry: "not-a-duration"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing http_addr",
			configContent: `
webhook:
  token: "tok"
  encoding_aes_key: "` + validKey + `"
ai:
  api_key: "sk-test"
  model: "gpt-4o-mini"
`,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "missing webhook token",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
webhook:
  encoding_aes_key: "` + validKey + `"
ai:
  api_key: "sk-test"
  model: "gpt-4o-mini"
`,
			wantErrSubstr: "webhook.token is required",
		},
		{
			name: "missing encoding key",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
webhook:
  token: "tok"
ai:
  api_key: "sk-test"
  model: "gpt-4o-mini"
`,
			wantErrSubstr: "webhook.encoding_aes_key is required",
		},
		{
			name: "wrong length encoding key",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
webhook:
  token: "tok"
  encoding_aes_key: "too-short"
ai:
  api_key: "sk-test"
  model: "gpt-4o-mini"
`,
			wantErrSubstr: "must be 43 characters",
		},
		{
			name: "missing api key",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
webhook:
  token: "tok"
  encoding_aes_key: "` + validKey + `"
ai:
  model: "gpt-4o-mini"
`,
			wantErrSubstr: "ai.api_key is required",
		},
		{
			name: "missing model",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
webhook:
  token: "tok"
  encoding_aes_key: "` + validKey + `"
ai:
  api_key: "sk-test"
`,
			wantErrSubstr: "ai.model is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.configContent)

			_, err := Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
