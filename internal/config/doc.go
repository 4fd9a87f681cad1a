// Package config handles configuration loading for obsidian.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	credentials:
//	  path: "${OBSIDIAN_CREDENTIALS}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	backend:
//	  timeout: "30s"
//	cache:
//	  detail_ttl: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "127.0.0.1:8098"  # Local API
//
// Upstream backend:
//
//	backend:
//	  base_url: "https://chatgpt.com"
//	  timeout: "30s"
//
// Database:
//
//	database:
//	  path: "~/.local/share/obsidian/cache.db"
//
// Credentials:
//
//	credentials:
//	  path: "~/.config/obsidian/credentials.toml"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/obsidian/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
