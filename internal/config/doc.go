// Package config loads, normalizes, and validates the TOML configuration for
// the Listenarr daemon and CLI.
package config
