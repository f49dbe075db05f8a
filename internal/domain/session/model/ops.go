// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

// Pure state operations. Each one applies an already-sanitized mutation and
// reports what happened so the engine can build the matching broadcast.
// Nothing here touches transport, storage or clocks.

// ToggleStep flips the step and returns its final value. ok is false when
// the track or step does not exist.
func (s *SessionState) ToggleStep(trackID string, step int) (on bool, ok bool) {
	t := s.FindTrack(trackID)
	if t == nil || step < 0 || step >= len(t.Steps) {
		return false, false
	}
	t.Steps[step] = !t.Steps[step]
	return t.Steps[step], true
}

// SetTempo clamps and applies a tempo, returning the stored value.
func (s *SessionState) SetTempo(bpm int) int {
	s.Tempo = clampInt(bpm, MinTempo, MaxTempo)
	return s.Tempo
}

// SetSwing clamps and applies the session swing, returning the stored value.
func (s *SessionState) SetSwing(swing int) int {
	s.Swing = clampInt(swing, MinSwing, MaxSwing)
	return s.Swing
}

// SetParameterLock assigns a sanitized lock (or nil to clear) at step.
func (s *SessionState) SetParameterLock(trackID string, step int, lock *ParameterLock) bool {
	t := s.FindTrack(trackID)
	if t == nil || step < 0 || step >= len(t.ParameterLocks) {
		return false
	}
	t.ParameterLocks[step] = lock
	return true
}

// AddTrackResult describes the outcome of an AddTrack call.
type AddTrackResult int

const (
	// TrackAdded means the track was appended.
	TrackAdded AddTrackResult = iota
	// TrackExists means a track with that id already exists; state unchanged.
	// Callers still broadcast so the sender's pending mutation resolves.
	TrackExists
	// TrackTableFull means the session is at MaxTracks; state unchanged.
	TrackTableFull
)

// AddTrack appends a track unless the table is full or the id is taken.
func (s *SessionState) AddTrack(t *Track) AddTrackResult {
	if s.FindTrack(t.ID) != nil {
		return TrackExists
	}
	if len(s.Tracks) >= MaxTracks {
		return TrackTableFull
	}
	s.Tracks = append(s.Tracks, t)
	return TrackAdded
}

// DeleteTrack removes the track. Deleting an absent track reports false and
// changes nothing; callers still broadcast for pending-mutation resolution.
func (s *SessionState) DeleteTrack(trackID string) bool {
	for i, t := range s.Tracks {
		if t.ID == trackID {
			s.Tracks = append(s.Tracks[:i], s.Tracks[i+1:]...)
			return true
		}
	}
	return false
}

// ClearTrack resets steps and locks to full-length defaults.
func (s *SessionState) ClearTrack(trackID string) bool {
	t := s.FindTrack(trackID)
	if t == nil {
		return false
	}
	t.Steps = make([]bool, MaxSteps)
	t.ParameterLocks = make([]*ParameterLock, MaxSteps)
	return true
}

// SetTrackSample assigns the sample id.
func (s *SessionState) SetTrackSample(trackID, sampleID string) bool {
	t := s.FindTrack(trackID)
	if t == nil {
		return false
	}
	t.SampleID = sampleID
	return true
}

// SetTrackVolume clamps and applies a track volume, returning the stored value.
func (s *SessionState) SetTrackVolume(trackID string, volume float64) (float64, bool) {
	t := s.FindTrack(trackID)
	if t == nil {
		return 0, false
	}
	t.Volume = clampFloat(volume, MinVolume, MaxVolume)
	return t.Volume, true
}

// SetTrackTranspose clamps and applies a transpose, returning the stored value.
func (s *SessionState) SetTrackTranspose(trackID string, semitones int) (int, bool) {
	t := s.FindTrack(trackID)
	if t == nil {
		return 0, false
	}
	t.Transpose = clampInt(semitones, MinTranspose, MaxTranspose)
	return t.Transpose, true
}

// SetTrackStepCount moves the active window. Arrays keep their full length,
// so shrinking and re-growing the window never loses data. Counts outside
// the approved set snap to the nearest member.
func (s *SessionState) SetTrackStepCount(trackID string, count int) (int, bool) {
	t := s.FindTrack(trackID)
	if t == nil {
		return 0, false
	}
	if !IsValidStepCount(count) {
		count = NearestStepCount(count)
	}
	t.StepCount = count
	return count, true
}

// SetTrackSwing applies a per-track swing override; nil clears it.
func (s *SessionState) SetTrackSwing(trackID string, swing *int) (*int, bool) {
	t := s.FindTrack(trackID)
	if t == nil {
		return nil, false
	}
	if swing == nil {
		t.Swing = nil
		return nil, true
	}
	v := clampInt(*swing, MinSwing, MaxSwing)
	t.Swing = &v
	return &v, true
}

// SetEffects replaces the effects chain; nil clears it.
func (s *SessionState) SetEffects(e *EffectsState) {
	s.Effects = e
}

// SetScale replaces the scale; nil clears it.
func (s *SessionState) SetScale(sc *Scale) {
	s.Scale = sc
}

// SetFMParams assigns FM settings on a track; nil clears them.
func (s *SessionState) SetFMParams(trackID string, fm *FMParams) bool {
	t := s.FindTrack(trackID)
	if t == nil {
		return false
	}
	t.FMParams = fm
	return true
}

// CopySequence copies steps, locks and the active window from source to
// target. Both tracks must exist.
func (s *SessionState) CopySequence(sourceID, targetID string) bool {
	src := s.FindTrack(sourceID)
	dst := s.FindTrack(targetID)
	if src == nil || dst == nil || sourceID == targetID {
		return false
	}
	copySequenceInto(src, dst)
	return true
}

// MoveSequence copies like CopySequence and then resets the source arrays.
func (s *SessionState) MoveSequence(sourceID, targetID string) bool {
	src := s.FindTrack(sourceID)
	dst := s.FindTrack(targetID)
	if src == nil || dst == nil || sourceID == targetID {
		return false
	}
	copySequenceInto(src, dst)
	src.Steps = make([]bool, MaxSteps)
	src.ParameterLocks = make([]*ParameterLock, MaxSteps)
	return true
}

func copySequenceInto(src, dst *Track) {
	dst.Steps = make([]bool, MaxSteps)
	copy(dst.Steps, src.Steps)
	dst.ParameterLocks = make([]*ParameterLock, MaxSteps)
	for i, lock := range src.ParameterLocks {
		if i >= MaxSteps {
			break
		}
		dst.ParameterLocks[i] = lock.Clone()
	}
	dst.StepCount = src.StepCount
}

// SetLoopRegion applies an already-normalized loop region; nil clears it.
func (s *SessionState) SetLoopRegion(lr *LoopRegion) {
	s.LoopRegion = lr
}

// BatchClearSteps turns off the given steps and clears their locks in one
// atomic application. Out-of-range indexes are skipped.
func (s *SessionState) BatchClearSteps(trackID string, steps []int) ([]int, bool) {
	t := s.FindTrack(trackID)
	if t == nil {
		return nil, false
	}
	cleared := make([]int, 0, len(steps))
	for _, step := range steps {
		if step < 0 || step >= MaxSteps {
			continue
		}
		t.Steps[step] = false
		t.ParameterLocks[step] = nil
		cleared = append(cleared, step)
	}
	return cleared, true
}

// PlockEntry pairs a step index with a sanitized lock for batch application.
type PlockEntry struct {
	Step int            `json:"step"`
	Lock *ParameterLock `json:"lock,omitempty"`
}

// BatchSetParameterLocks assigns multiple locks in one atomic application.
// Out-of-range indexes are skipped.
func (s *SessionState) BatchSetParameterLocks(trackID string, entries []PlockEntry) ([]PlockEntry, bool) {
	t := s.FindTrack(trackID)
	if t == nil {
		return nil, false
	}
	applied := make([]PlockEntry, 0, len(entries))
	for _, e := range entries {
		if e.Step < 0 || e.Step >= MaxSteps {
			continue
		}
		t.ParameterLocks[e.Step] = e.Lock
		applied = append(applied, e)
	}
	return applied, true
}

// SetMuted flips the local-only mute flag. The value travels on the wire so
// peers can mirror it, but it is never hashed and never authoritative.
func (s *SessionState) SetMuted(trackID string, muted bool) bool {
	t := s.FindTrack(trackID)
	if t == nil {
		return false
	}
	t.Muted = muted
	return true
}

// SetSoloed flips the local-only solo flag. Same contract as SetMuted.
func (s *SessionState) SetSoloed(trackID string, soloed bool) bool {
	t := s.FindTrack(trackID)
	if t == nil {
		return false
	}
	t.Soloed = soloed
	return true
}
