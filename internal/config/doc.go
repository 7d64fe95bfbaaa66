// Package config loads, normalizes, and validates veriflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob the
// daemon and CLI need: chunk sizing and acceptance thresholds, bounty rates,
// chain gateway credentials, and workflow intervals.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
