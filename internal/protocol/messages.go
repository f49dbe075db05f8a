// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package protocol defines the wire message schema shared by the session
// engine and its clients: command types, broadcast types and the
// mutating/read-only classification that drives immutability enforcement.
package protocol

// Client command types. The mutating set is authoritative: a command is
// rejected on published sessions if and only if it appears here.
const (
	CmdToggleStep             = "toggle_step"
	CmdSetTempo               = "set_tempo"
	CmdSetSwing               = "set_swing"
	CmdSetParameterLock       = "set_parameter_lock"
	CmdAddTrack               = "add_track"
	CmdDeleteTrack            = "delete_track"
	CmdClearTrack             = "clear_track"
	CmdSetTrackSample         = "set_track_sample"
	CmdSetTrackVolume         = "set_track_volume"
	CmdSetTrackTranspose      = "set_track_transpose"
	CmdSetTrackStepCount      = "set_track_step_count"
	CmdSetTrackSwing          = "set_track_swing"
	CmdSetEffects             = "set_effects"
	CmdSetScale               = "set_scale"
	CmdSetFMParams            = "set_fm_params"
	CmdCopySequence           = "copy_sequence"
	CmdMoveSequence           = "move_sequence"
	CmdSetSessionName         = "set_session_name"
	CmdBatchClearSteps        = "batch_clear_steps"
	CmdBatchSetParameterLocks = "batch_set_parameter_locks"
	CmdSetLoopRegion          = "set_loop_region"
)

// Read-only command types. Accepted on published sessions.
const (
	CmdPlay             = "play"
	CmdStop             = "stop"
	CmdStateHash        = "state_hash"
	CmdRequestSnapshot  = "request_snapshot"
	CmdClockSyncRequest = "clock_sync_request"
	CmdCursorMove       = "cursor_move"
	CmdMuteTrack        = "mute_track"
	CmdSoloTrack        = "solo_track"
)

// State-mutating broadcast types. Every one of these carries a server
// sequence number; informational broadcasts never do.
const (
	BcastStepToggled            = "step_toggled"
	BcastTempoSet               = "tempo_set"
	BcastSwingSet               = "swing_set"
	BcastParameterLockSet       = "parameter_lock_set"
	BcastTrackAdded             = "track_added"
	BcastTrackDeleted           = "track_deleted"
	BcastTrackCleared           = "track_cleared"
	BcastTrackSampleSet         = "track_sample_set"
	BcastTrackVolumeSet         = "track_volume_set"
	BcastTrackTransposeSet      = "track_transpose_set"
	BcastTrackStepCountSet      = "track_step_count_set"
	BcastTrackSwingSet          = "track_swing_set"
	BcastEffectsSet             = "effects_set"
	BcastScaleSet               = "scale_set"
	BcastFMParamsSet            = "fm_params_set"
	BcastSequenceCopied         = "sequence_copied"
	BcastSequenceMoved          = "sequence_moved"
	BcastSessionNameSet         = "session_name_set"
	BcastStepsBatchCleared      = "steps_batch_cleared"
	BcastParameterLocksBatchSet = "parameter_locks_batch_set"
	BcastLoopRegionSet          = "loop_region_set"
)

// Informational broadcast types.
const (
	BcastCursorMoved       = "cursor_moved"
	BcastPlayerJoined      = "player_joined"
	BcastPlayerLeft        = "player_left"
	BcastPlaybackStarted   = "playback_started"
	BcastPlaybackStopped   = "playback_stopped"
	BcastClockSyncResponse = "clock_sync_response"
	BcastSnapshot          = "snapshot"
	BcastStateSync         = "state_sync"
	BcastStateHash         = "state_hash"
	BcastTrackMuted        = "track_muted"
	BcastTrackSoloed       = "track_soloed"
	BcastSessionPublished  = "session_published"
	BcastError             = "error"
)

// mutatingBroadcasts maps each mutating command to its broadcast name.
// The table is the single source of the command/broadcast pairing; the
// classification test asserts it is total and collision-free.
var mutatingBroadcasts = map[string]string{
	CmdToggleStep:             BcastStepToggled,
	CmdSetTempo:               BcastTempoSet,
	CmdSetSwing:               BcastSwingSet,
	CmdSetParameterLock:       BcastParameterLockSet,
	CmdAddTrack:               BcastTrackAdded,
	CmdDeleteTrack:            BcastTrackDeleted,
	CmdClearTrack:             BcastTrackCleared,
	CmdSetTrackSample:         BcastTrackSampleSet,
	CmdSetTrackVolume:         BcastTrackVolumeSet,
	CmdSetTrackTranspose:      BcastTrackTransposeSet,
	CmdSetTrackStepCount:      BcastTrackStepCountSet,
	CmdSetTrackSwing:          BcastTrackSwingSet,
	CmdSetEffects:             BcastEffectsSet,
	CmdSetScale:               BcastScaleSet,
	CmdSetFMParams:            BcastFMParamsSet,
	CmdCopySequence:           BcastSequenceCopied,
	CmdMoveSequence:           BcastSequenceMoved,
	CmdSetSessionName:         BcastSessionNameSet,
	CmdBatchClearSteps:        BcastStepsBatchCleared,
	CmdBatchSetParameterLocks: BcastParameterLocksBatchSet,
	CmdSetLoopRegion:          BcastLoopRegionSet,
}

var readOnlyCommands = map[string]struct{}{
	CmdPlay:             {},
	CmdStop:             {},
	CmdStateHash:        {},
	CmdRequestSnapshot:  {},
	CmdClockSyncRequest: {},
	CmdCursorMove:       {},
	CmdMuteTrack:        {},
	CmdSoloTrack:        {},
}

// IsStateMutating reports whether the command type mutates authoritative
// session state. This is the single branch point for immutability
// enforcement: no per-handler checks exist.
func IsStateMutating(msgType string) bool {
	_, ok := mutatingBroadcasts[msgType]
	return ok
}

// IsReadOnlyCommand reports whether the command type is a known read-only
// command.
func IsReadOnlyCommand(msgType string) bool {
	_, ok := readOnlyCommands[msgType]
	return ok
}

// IsKnownCommand reports whether the command type is part of the protocol.
func IsKnownCommand(msgType string) bool {
	return IsStateMutating(msgType) || IsReadOnlyCommand(msgType)
}

// BroadcastFor returns the broadcast name for a mutating command.
func BroadcastFor(command string) (string, bool) {
	b, ok := mutatingBroadcasts[command]
	return b, ok
}

// MutatingCommands returns the mutating command set in unspecified order.
func MutatingCommands() []string {
	out := make([]string, 0, len(mutatingBroadcasts))
	for c := range mutatingBroadcasts {
		out = append(out, c)
	}
	return out
}

// ReadOnlyCommands returns the read-only command set in unspecified order.
func ReadOnlyCommands() []string {
	out := make([]string, 0, len(readOnlyCommands))
	for c := range readOnlyCommands {
		out = append(out, c)
	}
	return out
}
