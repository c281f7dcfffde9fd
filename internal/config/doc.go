// Package config loads, normalizes, and validates stationsync configuration.
//
// Settings come from a TOML file (by default ~/.config/stationsync/config.toml,
// falling back to stationsync.toml in the working directory), with a small set
// of STATIONSYNC_* environment variables taking precedence over the file.
// Durations are integer seconds.
package config
