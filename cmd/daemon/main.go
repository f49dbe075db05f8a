// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// The gridjam daemon serves the collaborative sequencer: session CRUD over
// HTTP, realtime websocket streams, and the crawler-aware SPA shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/gridjam/internal/api"
	"github.com/ManuGH/gridjam/internal/config"
	"github.com/ManuGH/gridjam/internal/domain/session/registry"
	"github.com/ManuGH/gridjam/internal/domain/session/store"
	gjlog "github.com/ManuGH/gridjam/internal/log"
	"github.com/ManuGH/gridjam/internal/telemetry"
	"github.com/ManuGH/gridjam/internal/version"
	"github.com/ManuGH/gridjam/internal/web"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gridjam %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gridjam: configuration error: %v\n", err)
		os.Exit(1)
	}

	gjlog.Configure(gjlog.Config{
		Level:   cfg.LogLevel,
		Service: "gridjam",
		Pretty:  cfg.LogFormat == "console",
	})
	logger := gjlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited")
	}
	logger.Info().Str(gjlog.FieldEvent, "daemon.stopped").Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) error {
	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "gridjam",
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	st, err := store.Open(store.Options{
		Backend:       cfg.Store.Backend,
		DataDir:       cfg.DataDir,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	reg := registry.New(st, cfg.Store.Backend)

	var shell *web.Shell
	if cfg.Web.ShellPath != "" {
		shell, err = web.LoadShell(cfg.Web.ShellPath)
		if err != nil {
			return fmt.Errorf("load web shell: %w", err)
		}
	}

	srv := api.New(cfg, reg, st, shell)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("listen_addr", cfg.ListenAddr).
			Str("store_backend", cfg.Store.Backend).
			Str("version", version.Version).
			Str(gjlog.FieldEvent, "daemon.started").
			Msg("gridjam listening")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if shell != nil && cfg.Web.WatchShell {
		g.Go(func() error {
			if err := shell.Watch(gctx); !errors.Is(err, context.Canceled) {
				return fmt.Errorf("shell watcher: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Str(gjlog.FieldEvent, "daemon.draining").Msg("shutdown signal received")

		grace, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownGrace)
		defer cancel()

		// New connections first, then engines so their final flushes still
		// have a live store underneath.
		if err := httpSrv.Shutdown(grace); err != nil {
			logger.Warn().Err(err).Msg("http drain incomplete")
		}
		if err := reg.Shutdown(grace); err != nil {
			logger.Warn().Err(err).Msg("engine drain incomplete")
		}
		if err := tel.Shutdown(grace); err != nil {
			logger.Warn().Err(err).Msg("telemetry flush incomplete")
		}
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("store close failed")
		}
		return nil
	})

	return g.Wait()
}
