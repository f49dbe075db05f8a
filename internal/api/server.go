// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the session service over HTTP: session CRUD, remix
// and publish, the websocket stream endpoint and the crawler-aware shell.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/gridjam/internal/api/middleware"
	"github.com/ManuGH/gridjam/internal/config"
	"github.com/ManuGH/gridjam/internal/domain/session/registry"
	"github.com/ManuGH/gridjam/internal/domain/session/store"
	"github.com/ManuGH/gridjam/internal/log"
	"github.com/ManuGH/gridjam/internal/version"
	"github.com/ManuGH/gridjam/internal/web"
)

// maxBodyBytes caps JSON request bodies. Matches the websocket frame cap.
const maxBodyBytes = 64 * 1024

// Server wires the HTTP surface to the session registry and store.
type Server struct {
	cfg    config.AppConfig
	reg    *registry.Registry
	store  store.Store
	shell  *web.Shell // nil in API-only deployments
	logger zerolog.Logger
}

// New builds the server. shell may be nil.
func New(cfg config.AppConfig, reg *registry.Registry, st store.Store, shell *web.Shell) *Server {
	return &Server{
		cfg:    cfg,
		reg:    reg,
		store:  st,
		shell:  shell,
		logger: log.WithComponent("api"),
	}
}

// Router assembles the chi router with the full middleware stack.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(middleware.SecurityHeaders(""))
	r.Use(middleware.Metrics())
	r.Use(middleware.OTelHTTP("gridjam"))
	r.Use(middleware.AccessLog())

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIRateLimit(s.cfg.API.RateLimitRPS, s.cfg.API.RateLimitBurst))
		r.Use(bodyCap(maxBodyBytes))

		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Use(s.requireSessionID)
			r.Get("/", s.handleGetSession)
			r.Put("/", s.handlePutSession)
			r.Post("/remix", s.handleRemixSession)
			r.Post("/publish", s.handlePublishSession)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	r.Get("/s/*", s.handleShell)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeErrorMsg(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// bodyCap rejects oversize bodies up front and bounds reads for the rest.
func bodyCap(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				writeErrorMsg(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
