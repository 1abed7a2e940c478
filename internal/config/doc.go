// Package config loads, validates and persists presence-bridge settings.
//
// Settings are read from `config.yaml` in the working directory or `config/`
// and can be overridden with PB_-prefixed environment variables, e.g.
// PB_DISCORD_CLIENT_ID or PB_PROTOCOL_LAYOUT. Save writes the same record back
// as YAML.
package config
