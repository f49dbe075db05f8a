// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the service.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// Session attributes
	SessionIDKey        = "session.id"
	SessionImmutableKey = "session.immutable"
	SessionPlayersKey   = "session.players"

	// Engine attributes
	MessageTypeKey   = "engine.message_type"
	BroadcastTypeKey = "engine.broadcast_type"
	ServerSeqKey     = "engine.server_seq"
	PlayerIDKey      = "engine.player_id"

	// Store attributes
	StoreBackendKey = "store.backend"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// SessionAttributes creates session-scoped span attributes.
func SessionAttributes(sessionID string, immutable bool, players int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.Bool(SessionImmutableKey, immutable),
		attribute.Int(SessionPlayersKey, players),
	}
}

// DispatchAttributes creates per-message dispatch span attributes.
func DispatchAttributes(msgType, playerID string, serverSeq uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(MessageTypeKey, msgType),
		attribute.String(PlayerIDKey, playerID),
		attribute.Int64(ServerSeqKey, int64(serverSeq)), //nolint:gosec // seq fits int64 for the life of a session
	}
}

// StoreAttributes creates persistence span attributes.
func StoreAttributes(backend, sessionID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(StoreBackendKey, backend),
		attribute.String(SessionIDKey, sessionID),
	}
}

// ErrorAttributes creates error span attributes.
func ErrorAttributes(errType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errType),
	}
}
