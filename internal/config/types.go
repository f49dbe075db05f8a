// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads daemon configuration with the precedence
// ENV > file > defaults. The file is strict YAML: unknown keys fail the
// load instead of being silently ignored.
package config

import "time"

// AppConfig is the fully resolved daemon configuration.
type AppConfig struct {
	// ListenAddr is the HTTP bind address, host:port.
	ListenAddr string `yaml:"listenAddr"`

	// PublicBaseURL is the externally visible origin, used for share links
	// and crawler metadata. No trailing slash.
	PublicBaseURL string `yaml:"publicBaseUrl"`

	// DataDir holds all durable state.
	DataDir string `yaml:"dataDir"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"` // "json" or "console"

	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig selects and tunes the session store backend.
type StoreConfig struct {
	// Backend is one of badger, sqlite, redis, file, memory.
	Backend string `yaml:"backend"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
}

// WebConfig covers the SPA shell and crawler shaping.
type WebConfig struct {
	// ShellPath is the SPA index.html served for /s/* routes. Empty
	// disables shell serving (API-only deployment).
	ShellPath string `yaml:"shellPath"`

	// WatchShell hot-reloads the shell file on change.
	WatchShell bool `yaml:"watchShell"`
}

// APIConfig tunes the HTTP and websocket surface.
type APIConfig struct {
	// AllowedOrigins is the websocket origin allowlist. Entries are
	// compared host-to-host after IDNA normalization; empty means
	// same-origin only.
	AllowedOrigins []string `yaml:"allowedOrigins"`

	// RateLimitRPS / RateLimitBurst bound per-client HTTP request rates.
	RateLimitRPS   int `yaml:"rateLimitRps"`
	RateLimitBurst int `yaml:"rateLimitBurst"`

	// ShutdownGrace bounds graceful drain on SIGTERM.
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`
}

// TelemetryConfig mirrors telemetry.Config in file form.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporterType"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}
