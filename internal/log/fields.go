// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldPlayerID      = "player_id"
	FieldTrackID       = "track_id"
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Protocol fields
	FieldMsgType   = "msg_type"
	FieldServerSeq = "server_seq"
	FieldClientSeq = "client_seq"
	FieldStep      = "step"

	// Session fields
	FieldPlayerCount = "player_count"
	FieldStreamCount = "stream_count"
	FieldImmutable   = "immutable"
	FieldRemixedFrom = "remixed_from"

	// Store fields
	FieldStoreBackend = "store_backend"
	FieldStorePath    = "store_path"

	// Network fields
	FieldRemoteAddr = "remote_addr"
	FieldOrigin     = "origin"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldLatencyMS  = "latency_ms"
)
