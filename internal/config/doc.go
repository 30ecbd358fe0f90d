// Package config handles configuration loading for coven-chat.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Every field has a default, so a missing file is not an error
// when using LoadOrDefault.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_CHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven-chat/config.yaml
//  3. ~/.config/coven-chat/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	chat:
//	  default_instructions: "${COVEN_CHAT_PROMPT}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string, which
// then takes the field's default.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	chat:
//	  save_timeout: "5s"
//	completion:
//	  echo_delay: "40ms"
//
// # Example Configuration
//
//	database:
//	  driver: "sqlite"      # sqlite, sqlite3 or bolt
//	  path: "~/.local/share/coven-chat/chat.db"
//
//	logging:
//	  level: "info"         # debug, info, warn, error
//	  format: "text"        # text or json
//
//	chat:
//	  default_model: "echo-1"
//	  default_instructions: ""
//	  max_title_length: 50
//	  recent_limit: 200
//	  delta_buffer: 32
//	  save_timeout: "5s"
//
//	settings:
//	  path: "~/.local/share/coven-chat/settings.toml"
package config
