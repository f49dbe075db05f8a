// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics defines the Prometheus instrumentation for the session
// service. All collectors register via promauto at package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks sessions with a live engine.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridjam_sessions_active",
		Help: "Number of sessions currently materialized in memory",
	})

	// StreamsActive tracks attached client streams across all sessions.
	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridjam_streams_active",
		Help: "Number of attached client streams",
	})

	// MessagesTotal counts inbound client messages by command type.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridjam_messages_total",
		Help: "Total inbound client messages by command type",
	}, []string{"type"})

	// BroadcastsTotal counts outbound broadcasts by broadcast type.
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridjam_broadcasts_total",
		Help: "Total broadcasts fanned out by broadcast type",
	}, []string{"type"})

	// CommandErrorsTotal counts rejected commands by error kind.
	CommandErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridjam_command_errors_total",
		Help: "Total rejected client commands by error kind",
	}, []string{"kind"})

	// DispatchDuration observes per-message engine dispatch latency.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridjam_dispatch_duration_seconds",
		Help:    "Engine dispatch latency per inbound message",
		Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
	})

	// StoreSaveDuration observes durable write latency by backend.
	StoreSaveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gridjam_store_save_duration_seconds",
		Help:    "Durable session write latency",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"backend"})

	// StoreSaveFailuresTotal counts failed durable writes by backend.
	StoreSaveFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridjam_store_save_failures_total",
		Help: "Total failed durable session writes",
	}, []string{"backend"})

	// StreamClosesTotal counts engine-initiated stream closes by reason.
	StreamClosesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridjam_stream_closes_total",
		Help: "Total engine-initiated stream closes by reason",
	}, []string{"reason"})
)

// Stream close reasons.
const (
	CloseReasonSlowConsumer = "slow_consumer"
	CloseReasonRateLimited  = "rate_limited"
	CloseReasonParseError   = "parse_error"
	CloseReasonOversize     = "oversize"
	CloseReasonCapacity     = "capacity"
	CloseReasonTransport    = "transport"
	CloseReasonShutdown     = "shutdown"
)

// Command error kinds.
const (
	ErrKindValidation  = "validation"
	ErrKindCapacity    = "capacity"
	ErrKindImmutable   = "immutable"
	ErrKindUnknownType = "unknown_type"
	ErrKindPersistence = "persistence"
)

// IncMessage records one inbound client message.
func IncMessage(msgType string) {
	if msgType == "" {
		msgType = "unknown"
	}
	MessagesTotal.WithLabelValues(msgType).Inc()
}

// IncBroadcast records one fanned-out broadcast.
func IncBroadcast(bcastType string) {
	BroadcastsTotal.WithLabelValues(bcastType).Inc()
}

// IncCommandError records one rejected command.
func IncCommandError(kind string) {
	CommandErrorsTotal.WithLabelValues(kind).Inc()
}

// IncStreamClose records one engine-initiated stream close.
func IncStreamClose(reason string) {
	StreamClosesTotal.WithLabelValues(reason).Inc()
}
