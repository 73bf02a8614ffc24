// Package config handles configuration loading for huddled.
//
// # Overview
//
// Configuration is loaded from a YAML file, or TOML when the file name ends
// in .toml, with environment variable expansion, defaults and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HUDDLE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/huddle/huddle.yaml
//  3. ~/.config/huddle/huddle.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${HUDDLE_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":8080"          # default
//	  shutdown_timeout: "10s"     # default
//
//	database:
//	  driver: "sqlite"            # sqlite (pure Go, default) or sqlite3 (cgo)
//	  path: "/var/lib/huddle/huddle.db"
//
//	auth:
//	  jwt_secret: "${HUDDLE_JWT_SECRET}"
//
//	realtime:
//	  write_timeout: "5s"         # per-frame WebSocket write deadline
//	  typing_ttl: "3s"            # window for dropping repeated typing signals
//	  typing_cache_size: 10000
//
//	logging:
//	  level: "info"               # debug, info, warn, error
//	  format: "text"              # text or json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Duration values use Go's time.ParseDuration syntax.
package config
