// Package config handles configuration loading for wecom-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from WECOM_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/wecom/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	ai:
//	  api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	stream:
//	  expiry: "10m"
//	  delete_grace: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Webhook credentials (issued by the platform admin console):
//
//	webhook:
//	  path: "/wecom/callback"
//	  token: "${WECOM_TOKEN}"
//	  encoding_aes_key: "${WECOM_ENCODING_AES_KEY}"  # exactly 43 characters
//
// Reply model:
//
//	ai:
//	  api_key: "${OPENAI_API_KEY}"
//	  base_url: ""                # optional, for compatible endpoints
//	  model: "gpt-4o-mini"
//	  system_prompt: ""           # optional override
//
// Timing:
//
//	stream:
//	  expiry: "10m"
//	  delete_grace: "30s"
//	heartbeat:
//	  tick: "3s"
//	  deadline: "60s"
//	queue:
//	  max_backlog: 5
//	  idle_reclaim: "60s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - HTTP listen address presence
//   - Webhook token and 43-character encoding key
//   - AI credentials and model name
//   - Duration format validity
package config
