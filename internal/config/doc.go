// Package config handles configuration loading for serviceos-chat.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Load applies defaults and then validates.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SERVICEOS_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/serviceos/chat.yaml
//  3. ~/.config/serviceos/chat.yaml
//
// A path ending in .toml is decoded as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
//	model:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:3000"
//
//	database:
//	  driver: "sqlite"        # sqlite (pure Go) or sqlite3 (cgo)
//	  path: "/var/lib/serviceos/chat.db"
//
//	auth:
//	  jwt_secret: "${SERVICEOS_JWT_SECRET}"
//
//	model:
//	  api_key: "${OPENAI_API_KEY}"
//	  base_url: ""            # OpenAI-compatible gateway
//	  default: "openai/gpt-5"
//	  title_model: ""         # defaults to model.default
//	  temperature: 0.3
//	  max_steps: 5
//
//	tools:
//	  mcp_url: "http://127.0.0.1:8001/mcp"
//	  headers: {}
//	  timeout: "30s"
//	  confidence_timeout: "5s"
//	  require_approval: ["appointment_cancel"]
//
//	resumable:
//	  backend: ""             # none, memory, redis (redis when redis_url set)
//	  redis_url: "${REDIS_URL}"
//	  key_prefix: "serviceos:stream"
//	  ttl: "24h"
//	  max_len: 10000
//
//	toolserver:
//	  http_addr: "127.0.0.1:8001"
//	  threshold: 0.6
//	  temperature: 1.0
//	  top_k: 5
//	  scorer_url: ""          # remote confidence classifier; empty uses keywords
//	  scorer_timeout: "3s"
//
//	logging:
//	  level: "info"           # debug, info, warn, error
//	  format: "text"          # text, json
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
