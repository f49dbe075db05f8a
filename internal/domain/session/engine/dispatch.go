// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"math"
	"time"

	"github.com/ManuGH/gridjam/internal/domain/session/model"
	"github.com/ManuGH/gridjam/internal/log"
	"github.com/ManuGH/gridjam/internal/metrics"
	"github.com/ManuGH/gridjam/internal/protocol"
)

// handleFrame runs one inbound frame through the full dispatch pipeline:
// parse, rate limit, immutability gate, validate, apply, sequence,
// broadcast, persist.
func (e *Engine) handleFrame(playerID string, frame []byte) {
	c, ok := e.clients[playerID]
	if !ok {
		return // detached while the frame was in flight
	}
	start := time.Now()
	defer func() { metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	if !c.limiter.Allow() {
		metrics.IncStreamClose(metrics.CloseReasonRateLimited)
		e.sendError(playerID, "message rate limit exceeded")
		e.handleDetach(playerID, "rate limited")
		return
	}

	msg, err := protocol.ParseClientMessage(frame)
	if err != nil {
		metrics.IncStreamClose(metrics.CloseReasonParseError)
		e.logger.Warn().Err(err).
			Str(log.FieldEvent, "engine.parse_error").
			Str(log.FieldPlayerID, playerID).
			Msg("unparseable frame, closing stream")
		e.handleDetach(playerID, "parse error")
		return
	}

	c.player.LastMessageAt = model.NowMs()
	c.player.MessageCount++
	metrics.IncMessage(msg.Type)
	observeDispatch(msg.Type)

	if protocol.IsStateMutating(msg.Type) {
		if e.sess.Immutable {
			metrics.IncCommandError(metrics.ErrKindImmutable)
			e.sendError(playerID, "session is published and cannot be modified")
			return
		}
		e.dispatchMutation(playerID, msg)
		return
	}
	if protocol.IsReadOnlyCommand(msg.Type) {
		e.dispatchReadOnly(playerID, c, msg)
		return
	}

	metrics.IncCommandError(metrics.ErrKindUnknownType)
	e.sendError(playerID, "unknown message type: "+msg.Type)
}

// dispatchMutation validates and applies one mutating command. On success
// (including the documented no-ops) it assigns the next serverSeq, fans the
// broadcast out and writes the state through to the store.
func (e *Engine) dispatchMutation(playerID string, msg *protocol.ClientMessage) {
	bcastType, _ := protocol.BroadcastFor(msg.Type)
	bcast, ok := e.applyMutation(playerID, msg, bcastType)
	if !ok {
		return // applyMutation already sent the typed error
	}

	e.sess.Touch(model.NowMs())
	e.pendingKVSave = true
	e.broadcast(bcast)

	if err := e.saveNow(); err != nil {
		// In-memory state stays authoritative; the client can snapshot to
		// resynchronize once the store recovers.
		metrics.IncCommandError(metrics.ErrKindPersistence)
		e.logger.Error().Err(err).
			Str(log.FieldEvent, "engine.save_failed").
			Str(log.FieldMsgType, msg.Type).
			Uint64(log.FieldServerSeq, e.serverSeq).
			Msg("durable write failed")
		e.sendError(playerID, "failed to persist change")
	}
}

// nextBroadcast allocates the next server sequence number for a mutating
// broadcast. Every call increments serverSeq exactly once.
func (e *Engine) nextBroadcast(bcastType, playerID string, clientSeq *uint64) *protocol.ServerMessage {
	e.serverSeq++
	return protocol.NewMutatingBroadcast(bcastType, e.serverSeq, clientSeq, playerID)
}

// applyMutation applies one validated mutation and returns its broadcast.
// ok=false means the command was rejected and no sequence was consumed.
func (e *Engine) applyMutation(playerID string, msg *protocol.ClientMessage, bcastType string) (*protocol.ServerMessage, bool) {
	reject := func(reason string) (*protocol.ServerMessage, bool) {
		metrics.IncCommandError(metrics.ErrKindValidation)
		e.sendError(playerID, reason)
		return nil, false
	}

	switch msg.Type {
	case protocol.CmdToggleStep:
		trackID, ok := protocol.StringTrackID(msg.TrackID)
		if !ok {
			return reject("toggle_step requires a string trackId")
		}
		step, ok := wholeInRange(msg.Step, 0, model.MaxSteps-1)
		if !ok {
			return reject("toggle_step requires a valid step")
		}
		on, ok := e.sess.State.ToggleStep(trackID, step)
		if !ok {
			return reject("unknown track: " + trackID)
		}
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.TrackID = trackID
		b.Step = &step
		// Clients set the final value rather than toggling, so retried
		// frames stay idempotent.
		b.On = &on
		return b, true

	case protocol.CmdSetTempo:
		bpm, ok := wholeNumber(msg.Tempo)
		if !ok {
			return reject("set_tempo requires a numeric tempo")
		}
		stored := e.sess.State.SetTempo(bpm)
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.Tempo = &stored
		return b, true

	case protocol.CmdSetSwing:
		swing, ok := wholeNumber(msg.Swing)
		if !ok {
			return reject("set_swing requires a numeric swing")
		}
		stored := e.sess.State.SetSwing(swing)
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.Swing = &stored
		return b, true

	case protocol.CmdSetParameterLock:
		trackID, ok := protocol.StringTrackID(msg.TrackID)
		if !ok {
			return reject("set_parameter_lock requires a string trackId")
		}
		step, ok := wholeInRange(msg.Step, 0, model.MaxSteps-1)
		if !ok {
			return reject("set_parameter_lock requires a valid step")
		}
		lock, ok := model.ValidateParameterLock(msg.Lock)
		if !ok {
			return reject("invalid parameter lock")
		}
		if !e.sess.State.SetParameterLock(trackID, step, lock) {
			return reject("unknown track: " + trackID)
		}
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.TrackID = trackID
		b.Step = &step
		b.Lock = lock
		return b, true

	case protocol.CmdAddTrack:
		track, reason := validateNewTrack(msg.Track)
		if track == nil {
			return reject(reason)
		}
		switch e.sess.State.AddTrack(track) {
		case model.TrackTableFull:
			metrics.IncCommandError(metrics.ErrKindCapacity)
			e.sendError(playerID, "session already has the maximum number of tracks")
			return nil, false
		case model.TrackExists:
			// No-op, but the broadcast still goes out with the original
			// clientSeq so the sender's pending mutation resolves.
			existing := e.sess.State.FindTrack(track.ID)
			b := e.nextBroadcast(bcastType, playerID, msg.Seq)
			b.Track = existing
			return b, true
		default:
			b := e.nextBroadcast(bcastType, playerID, msg.Seq)
			b.Track = track
			return b, true
		}

	case protocol.CmdDeleteTrack:
		trackID, ok := protocol.StringTrackID(msg.TrackID)
		if !ok {
			return reject("delete_track requires a string trackId")
		}
		// Deleting an absent track broadcasts anyway; same rationale as
		// the duplicate add.
		e.sess.State.DeleteTrack(trackID)
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.TrackID = trackID
		return b, true

	case protocol.CmdClearTrack:
		trackID, ok := protocol.StringTrackID(msg.TrackID)
		if !ok {
			return reject("clear_track requires a string trackId")
		}
		if !e.sess.State.ClearTrack(trackID) {
			return reject("unknown track: " + trackID)
		}
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.TrackID = trackID
		return b, true

	case protocol.CmdSetTrackSample:
		trackID, ok := protocol.StringTrackID(msg.TrackID)
		if !ok {
			return reject("set_track_sample requires a string trackId")
		}
		sampleID, ok := msg.SampleID.(string)
		if !ok {
			return reject("set_track_sample requires a string sampleId")
		}
		if !e.sess.State.SetTrackSample(trackID, sampleID) {
			return reject("unknown track: " + trackID)
		}
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.TrackID = trackID
		b.SampleID = sampleID
		return b, true

	case protocol.CmdSetTrackVolume:
		trackID, ok := protocol.StringTrackID(msg.TrackID)
		if !ok {
			return reject("set_track_volume requires a string trackId")
		}
		vol, ok := finiteNumber(msg.Volume)
		if !ok {
			return reject("set_track_volume requires a numeric volume")
		}
		stored, ok := e.sess.State.SetTrackVolume(trackID, vol)
		if !ok {
			return reject("unknown track: " + trackID)
		}
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.TrackID = trackID
		b.Volume = &stored
		return b, true

	case protocol.CmdSetTrackTranspose:
		trackID, ok := protocol.StringTrackID(msg.TrackID)
		if !ok {
			return reject("set_track_transpose requires a string trackId")
		}
		semis, ok := wholeNumber(msg.Transpose)
		if !ok {
			return reject("set_track_transpose requires a numeric transpose")
		}
		stored, ok := e.sess.State.SetTrackTranspose(trackID, semis)
		if !ok {
			return reject("unknown track: " + trackID)
		}
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.TrackID = trackID
		b.Transpose = &stored
		return b, true

	case protocol.CmdSetTrackStepCount:
		trackID, ok := protocol.StringTrackID(msg.TrackID)
		if !ok {
			return reject("set_track_step_count requires a string trackId")
		}
		count, ok := wholeNumber(msg.StepCount)
		if !ok {
			return reject("set_track_step_count requires a numeric stepCount")
		}
		stored, ok := e.sess.State.SetTrackStepCount(trackID, count)
		if !ok {
			return reject("unknown track: " + trackID)
		}
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.TrackID = trackID
		b.StepCount = &stored
		return b, true

	case protocol.CmdSetTrackSwing:
		trackID, ok := protocol.StringTrackID(msg.TrackID)
		if !ok {
			return reject("set_track_swing requires a string trackId")
		}
		var swing *int
		if msg.Swing != nil {
			v, ok := wholeNumber(msg.Swing)
			if !ok {
				return reject("set_track_swing requires a numeric swing or null")
			}
			swing = &v
		}
		stored, ok := e.sess.State.SetTrackSwing(trackID, swing)
		if !ok {
			return reject("unknown track: " + trackID)
		}
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.TrackID = trackID
		b.Swing = stored
		b.SwingCleared = stored == nil
		return b, true

	case protocol.CmdSetEffects:
		if msg.Effects == nil {
			e.sess.State.SetEffects(nil)
			b := e.nextBroadcast(bcastType, playerID, msg.Seq)
			b.EffectsClear = true
			return b, true
		}
		effects, errs := model.ValidateEffects(msg.Effects)
		if errs != nil {
			return reject("invalid effects: " + errs[0])
		}
		e.sess.State.SetEffects(effects)
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.Effects = effects
		return b, true

	case protocol.CmdSetScale:
		scale, ok := model.ValidateScale(msg.Scale)
		if !ok {
			return reject("invalid scale")
		}
		e.sess.State.SetScale(scale)
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.Scale = scale
		return b, true

	case protocol.CmdSetFMParams:
		trackID, ok := protocol.StringTrackID(msg.TrackID)
		if !ok {
			return reject("set_fm_params requires a string trackId")
		}
		fm, ok := model.ValidateFMParams(msg.FMParams)
		if !ok {
			return reject("invalid fmParams")
		}
		if !e.sess.State.SetFMParams(trackID, fm) {
			return reject("unknown track: " + trackID)
		}
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.TrackID = trackID
		b.FMParams = fm
		return b, true

	case protocol.CmdCopySequence, protocol.CmdMoveSequence:
		sourceID, okS := protocol.StringTrackID(msg.SourceTrackID)
		targetID, okT := protocol.StringTrackID(msg.TargetTrackID)
		if !okS || !okT {
			return reject(msg.Type + " requires string sourceTrackId and targetTrackId")
		}
		var applied bool
		if msg.Type == protocol.CmdCopySequence {
			applied = e.sess.State.CopySequence(sourceID, targetID)
		} else {
			applied = e.sess.State.MoveSequence(sourceID, targetID)
		}
		if !applied {
			return reject("copy/move requires two distinct existing tracks")
		}
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.SourceTrackID = sourceID
		b.TargetTrackID = targetID
		return b, true

	case protocol.CmdSetSessionName:
		name, ok := model.ValidateSessionName(msg.Name)
		if !ok {
			return reject("invalid session name")
		}
		e.sess.Name = name
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.Name = &name
		return b, true

	case protocol.CmdBatchClearSteps:
		trackID, ok := protocol.StringTrackID(msg.TrackID)
		if !ok {
			return reject("batch_clear_steps requires a string trackId")
		}
		steps, ok := wholeSlice(msg.Steps)
		if !ok {
			return reject("batch_clear_steps requires an array of steps")
		}
		cleared, ok := e.sess.State.BatchClearSteps(trackID, steps)
		if !ok {
			return reject("unknown track: " + trackID)
		}
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.TrackID = trackID
		b.Steps = cleared
		return b, true

	case protocol.CmdBatchSetParameterLocks:
		trackID, ok := protocol.StringTrackID(msg.TrackID)
		if !ok {
			return reject("batch_set_parameter_locks requires a string trackId")
		}
		entries, ok := validatePlockEntries(msg.Locks)
		if !ok {
			return reject("batch_set_parameter_locks requires an array of {step, lock}")
		}
		applied, ok := e.sess.State.BatchSetParameterLocks(trackID, entries)
		if !ok {
			return reject("unknown track: " + trackID)
		}
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.TrackID = trackID
		b.Locks = applied
		return b, true

	case protocol.CmdSetLoopRegion:
		region, ok := model.ValidateLoopRegion(msg.LoopRegion)
		if !ok {
			return reject("invalid loop region")
		}
		e.sess.State.SetLoopRegion(region)
		b := e.nextBroadcast(bcastType, playerID, msg.Seq)
		b.LoopRegion = region
		return b, true
	}

	// Unreachable while the mutating table and this switch stay in sync;
	// the classification test pins that.
	return reject("unhandled mutating command: " + msg.Type)
}

// dispatchReadOnly handles commands that never touch authoritative state.
func (e *Engine) dispatchReadOnly(playerID string, c *client, msg *protocol.ClientMessage) {
	switch msg.Type {
	case protocol.CmdPlay:
		if _, already := e.playing[playerID]; already {
			return // idempotent
		}
		e.playing[playerID] = struct{}{}
		e.broadcast(&protocol.ServerMessage{
			Type:     protocol.BcastPlaybackStarted,
			PlayerID: playerID,
		})

	case protocol.CmdStop:
		if _, ok := e.playing[playerID]; !ok {
			return
		}
		delete(e.playing, playerID)
		e.broadcast(&protocol.ServerMessage{
			Type:     protocol.BcastPlaybackStopped,
			PlayerID: playerID,
		})

	case protocol.CmdCursorMove:
		pos, ok := model.ValidateCursorPosition(msg.Position)
		if !ok {
			metrics.IncCommandError(metrics.ErrKindValidation)
			e.sendError(playerID, "invalid cursor position")
			return
		}
		e.broadcastExcept(playerID, &protocol.ServerMessage{
			Type:     protocol.BcastCursorMoved,
			PlayerID: playerID,
			Position: pos,
		})

	case protocol.CmdMuteTrack:
		e.handleLocalFlag(playerID, msg, true)

	case protocol.CmdSoloTrack:
		e.handleLocalFlag(playerID, msg, false)

	case protocol.CmdStateHash:
		seq := e.serverSeq
		e.sendTo(c, &protocol.ServerMessage{
			Type:      protocol.BcastStateHash,
			Hash:      model.CanonicalHash(e.sess.State),
			ServerSeq: &seq,
		})

	case protocol.CmdRequestSnapshot:
		e.sendSnapshot(playerID, c)

	case protocol.CmdClockSyncRequest:
		clientTime, _ := finiteNumber(msg.ClientTime)
		now := model.NowMs()
		e.sendTo(c, &protocol.ServerMessage{
			Type:       protocol.BcastClockSyncResponse,
			ClientTime: &clientTime,
			ServerTime: &now,
		})
	}
}

// handleLocalFlag serves mute_track / solo_track. "My ears, my control":
// the flags fan out so peers can mirror them, but they are never part of
// the canonical hash and the session is not marked dirty.
func (e *Engine) handleLocalFlag(playerID string, msg *protocol.ClientMessage, mute bool) {
	trackID, ok := protocol.StringTrackID(msg.TrackID)
	if !ok {
		metrics.IncCommandError(metrics.ErrKindValidation)
		e.sendError(playerID, msg.Type+" requires a string trackId")
		return
	}
	if mute {
		muted, _ := msg.Muted.(bool)
		if !e.sess.State.SetMuted(trackID, muted) {
			e.sendError(playerID, "unknown track: "+trackID)
			return
		}
		e.broadcast(&protocol.ServerMessage{
			Type:     protocol.BcastTrackMuted,
			PlayerID: playerID,
			TrackID:  trackID,
			Muted:    &muted,
		})
		return
	}
	soloed, _ := msg.Soloed.(bool)
	if !e.sess.State.SetSoloed(trackID, soloed) {
		e.sendError(playerID, "unknown track: "+trackID)
		return
	}
	e.broadcast(&protocol.ServerMessage{
		Type:     protocol.BcastTrackSoloed,
		PlayerID: playerID,
		TrackID:  trackID,
		Soloed:   &soloed,
	})
}

// sendSnapshot replies to the sender only with the full session picture.
// The embedded serverSeq is what lets clients resolve the snapshot-versus-
// confirmation race.
func (e *Engine) sendSnapshot(playerID string, c *client) {
	seq := e.serverSeq
	snap := &protocol.ServerMessage{
		Type:             protocol.BcastSnapshot,
		State:            e.sess.State,
		Players:          e.playersList(),
		PlayerID:         playerID,
		ServerSeq:        &seq,
		PlayingPlayerIDs: e.playingIDs(),
	}
	if e.sess.Immutable {
		imm := true
		snap.Immutable = &imm
	}
	e.sendTo(c, snap)
}

// validateNewTrack sanitizes an add_track payload.
func validateNewTrack(v any) (*model.Track, string) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, "add_track requires a track object"
	}
	id, _ := m["id"].(string)
	if id == "" {
		return nil, "add_track requires track.id"
	}
	name, _ := m["name"].(string)
	sampleID, _ := m["sampleId"].(string)
	t := model.NewTrack(id, name, sampleID)
	if raw, present := m["stepCount"]; present {
		if n, ok := wholeNumber(raw); ok && model.IsValidStepCount(n) {
			t.StepCount = n
		}
	}
	return t, ""
}

func validatePlockEntries(v any) ([]model.PlockEntry, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	entries := make([]model.PlockEntry, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		step, ok := wholeInRange(m["step"], 0, model.MaxSteps-1)
		if !ok {
			return nil, false
		}
		lock, ok := model.ValidateParameterLock(m["lock"])
		if !ok {
			return nil, false
		}
		entries = append(entries, model.PlockEntry{Step: step, Lock: lock})
	}
	return entries, true
}

func finiteNumber(v any) (float64, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func wholeNumber(v any) (int, bool) {
	f, ok := finiteNumber(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func wholeInRange(v any, lo, hi int) (int, bool) {
	n, ok := wholeNumber(v)
	if !ok || n < lo || n > hi {
		return 0, false
	}
	return n, true
}

func wholeSlice(v any) ([]int, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		n, ok := wholeNumber(item)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}
