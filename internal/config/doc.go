// Package config loads, normalizes, and validates pacer configuration.
//
// It supplies defaults, reads TOML from an explicit path,
// ~/.config/pacer/config.toml or ./pacer.toml, expands ~ in paths, and
// applies the REDIS_URL and PACER_LOG_LEVEL environment overrides.
//
// Obtain settings through this package so the bus, stages and coordinator
// receive sanitized values and clear validation errors.
package config
