// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/gridjam/internal/validate"
)

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		ListenAddr:    ":8080",
		PublicBaseURL: "http://localhost:8080",
		DataDir:       "./data",
		LogLevel:      "info",
		LogFormat:     "json",
		Store: StoreConfig{
			Backend: "badger",
		},
		Web: WebConfig{
			WatchShell: true,
		},
		API: APIConfig{
			RateLimitRPS:   30,
			RateLimitBurst: 60,
			ShutdownGrace:  15 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			SamplingRate: 0.1,
			Environment:  "production",
		},
	}
}

// Load resolves the configuration: defaults, then the YAML file at
// configPath (when non-empty), then GRIDJAM_* environment variables, then
// validation.
func Load(configPath string) (AppConfig, error) {
	cfg := Defaults()

	if configPath != "" {
		if err := mergeFile(&cfg, configPath); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}

	if err := Validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func mergeFile(cfg *AppConfig, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func mergeEnv(cfg *AppConfig) {
	cfg.ListenAddr = envString("GRIDJAM_LISTEN", cfg.ListenAddr)
	cfg.PublicBaseURL = envString("GRIDJAM_PUBLIC_BASE_URL", cfg.PublicBaseURL)
	cfg.DataDir = envString("GRIDJAM_DATA", cfg.DataDir)
	cfg.LogLevel = envString("GRIDJAM_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString("GRIDJAM_LOG_FORMAT", cfg.LogFormat)

	cfg.Store.Backend = envString("GRIDJAM_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.RedisAddr = envString("GRIDJAM_REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisPassword = envString("GRIDJAM_REDIS_PASSWORD", cfg.Store.RedisPassword)
	cfg.Store.RedisDB = envInt("GRIDJAM_REDIS_DB", cfg.Store.RedisDB)

	cfg.Web.ShellPath = envString("GRIDJAM_SHELL_PATH", cfg.Web.ShellPath)
	cfg.Web.WatchShell = envBool("GRIDJAM_SHELL_WATCH", cfg.Web.WatchShell)

	cfg.API.AllowedOrigins = envList("GRIDJAM_ALLOWED_ORIGINS", cfg.API.AllowedOrigins)
	cfg.API.RateLimitRPS = envInt("GRIDJAM_RATE_LIMIT_RPS", cfg.API.RateLimitRPS)
	cfg.API.RateLimitBurst = envInt("GRIDJAM_RATE_LIMIT_BURST", cfg.API.RateLimitBurst)
	cfg.API.ShutdownGrace = envDuration("GRIDJAM_SHUTDOWN_GRACE", cfg.API.ShutdownGrace)

	cfg.Telemetry.Enabled = envBool("GRIDJAM_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = envString("GRIDJAM_OTEL_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = envString("GRIDJAM_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = envFloat("GRIDJAM_OTEL_SAMPLING", cfg.Telemetry.SamplingRate)
	cfg.Telemetry.Environment = envString("GRIDJAM_OTEL_ENVIRONMENT", cfg.Telemetry.Environment)
}

// Validate checks the resolved configuration.
func Validate(cfg *AppConfig) error {
	v := validate.New()

	v.NotEmpty("listenAddr", cfg.ListenAddr)
	v.NotEmpty("publicBaseUrl", cfg.PublicBaseURL)
	v.Directory("dataDir", cfg.DataDir, false)
	v.OneOf("logLevel", cfg.LogLevel, []string{"debug", "info", "warn", "error"})
	v.OneOf("logFormat", cfg.LogFormat, []string{"json", "console"})
	v.OneOf("store.backend", cfg.Store.Backend, []string{"badger", "sqlite", "redis", "file", "memory"})
	if cfg.Store.Backend == "redis" {
		v.NotEmpty("store.redisAddr", cfg.Store.RedisAddr)
	}
	v.Range("api.rateLimitRps", cfg.API.RateLimitRPS, 1, 10000)
	v.Range("api.rateLimitBurst", cfg.API.RateLimitBurst, cfg.API.RateLimitRPS, 100000)
	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporterType", cfg.Telemetry.ExporterType, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.RangeFloat("telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}
	if cfg.Web.ShellPath != "" {
		if _, err := os.Stat(cfg.Web.ShellPath); err != nil {
			v.AddError("web.shellPath", fmt.Sprintf("shell not readable: %v", err), cfg.Web.ShellPath)
		}
	}

	return v.Err()
}
