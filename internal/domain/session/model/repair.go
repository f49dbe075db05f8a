// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"fmt"
	"math"
)

// ValidateStateInvariants sweeps the full invariant set and reports every
// violation. An empty result means the state is well-formed.
func ValidateStateInvariants(s *SessionState) []string {
	if s == nil {
		return []string{"state is nil"}
	}
	var errs []string

	if len(s.Tracks) > MaxTracks {
		errs = append(errs, fmt.Sprintf("track count %d exceeds %d", len(s.Tracks), MaxTracks))
	}
	if s.Tempo < MinTempo || s.Tempo > MaxTempo {
		errs = append(errs, fmt.Sprintf("tempo %d out of range", s.Tempo))
	}
	if s.Swing < MinSwing || s.Swing > MaxSwing {
		errs = append(errs, fmt.Sprintf("swing %d out of range", s.Swing))
	}
	if s.Version < 1 {
		errs = append(errs, fmt.Sprintf("version %d invalid", s.Version))
	}

	seen := make(map[string]struct{}, len(s.Tracks))
	for i, t := range s.Tracks {
		if t == nil {
			errs = append(errs, fmt.Sprintf("tracks[%d] is nil", i))
			continue
		}
		if t.ID == "" {
			errs = append(errs, fmt.Sprintf("tracks[%d] has empty id", i))
		} else if _, dup := seen[t.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate track id %q", t.ID))
		}
		seen[t.ID] = struct{}{}

		if len(t.Steps) != MaxSteps {
			errs = append(errs, fmt.Sprintf("track %q steps length %d != %d", t.ID, len(t.Steps), MaxSteps))
		}
		if len(t.ParameterLocks) != MaxSteps {
			errs = append(errs, fmt.Sprintf("track %q parameterLocks length %d != %d", t.ID, len(t.ParameterLocks), MaxSteps))
		}
		if t.Volume < MinVolume || t.Volume > MaxVolume || math.IsNaN(t.Volume) {
			errs = append(errs, fmt.Sprintf("track %q volume %v out of range", t.ID, t.Volume))
		}
		if t.Transpose < MinTranspose || t.Transpose > MaxTranspose {
			errs = append(errs, fmt.Sprintf("track %q transpose %d out of range", t.ID, t.Transpose))
		}
		if !IsValidStepCount(t.StepCount) {
			errs = append(errs, fmt.Sprintf("track %q stepCount %d not in approved set", t.ID, t.StepCount))
		}
		if t.Swing != nil && (*t.Swing < MinSwing || *t.Swing > MaxSwing) {
			errs = append(errs, fmt.Sprintf("track %q swing %d out of range", t.ID, *t.Swing))
		}
		for step, lock := range t.ParameterLocks {
			if lock == nil {
				continue
			}
			if lock.IsEmpty() {
				errs = append(errs, fmt.Sprintf("track %q lock at %d is empty (should be nil)", t.ID, step))
			}
			if lock.Pitch != nil && (*lock.Pitch < MinPlockPitch || *lock.Pitch > MaxPlockPitch) {
				errs = append(errs, fmt.Sprintf("track %q lock pitch at %d out of range", t.ID, step))
			}
			if lock.Volume != nil && (*lock.Volume < MinPlockVolume || *lock.Volume > MaxPlockVolume) {
				errs = append(errs, fmt.Sprintf("track %q lock volume at %d out of range", t.ID, step))
			}
		}
	}

	if s.Effects != nil {
		if !IsValidDelayTime(s.Effects.Delay.Time) {
			errs = append(errs, fmt.Sprintf("effects delay time %q invalid", s.Effects.Delay.Time))
		}
	}
	if s.Scale != nil {
		if !IsValidNoteName(s.Scale.Root) || !IsValidScaleID(s.Scale.ScaleID) {
			errs = append(errs, fmt.Sprintf("scale %s/%s invalid", s.Scale.Root, s.Scale.ScaleID))
		}
	}
	if s.LoopRegion != nil {
		if s.LoopRegion.Start < 0 || s.LoopRegion.Start > s.LoopRegion.End {
			errs = append(errs, fmt.Sprintf("loop region [%d,%d] invalid", s.LoopRegion.Start, s.LoopRegion.End))
		}
	}
	return errs
}

// RepairStateInvariants normalizes a state in place so that
// ValidateStateInvariants passes afterwards. It is idempotent: repairing a
// repaired state reports nothing. Returns a description of every repair made.
func RepairStateInvariants(s *SessionState) []string {
	if s == nil {
		return []string{"state is nil: nothing repaired"}
	}
	var repairs []string
	note := func(format string, args ...any) {
		repairs = append(repairs, fmt.Sprintf(format, args...))
	}

	if s.Tracks == nil {
		s.Tracks = []*Track{}
	}
	if len(s.Tracks) > MaxTracks {
		note("truncated tracks from %d to %d", len(s.Tracks), MaxTracks)
		s.Tracks = s.Tracks[:MaxTracks]
	}

	// Drop nil tracks and duplicate ids; first occurrence wins.
	kept := s.Tracks[:0]
	seen := make(map[string]struct{}, len(s.Tracks))
	for i, t := range s.Tracks {
		if t == nil {
			note("dropped nil track at %d", i)
			continue
		}
		if t.ID == "" {
			id := freshTrackID(seen, i)
			note("assigned id %q to unnamed track at %d", id, i)
			t.ID = id
		}
		if _, dup := seen[t.ID]; dup {
			note("dropped duplicate track id %q at %d", t.ID, i)
			continue
		}
		seen[t.ID] = struct{}{}
		kept = append(kept, t)
	}
	s.Tracks = kept

	switch {
	case s.Tempo == 0:
		note("tempo missing: defaulted to %d", DefaultTempo)
		s.Tempo = DefaultTempo
	case s.Tempo < MinTempo:
		note("tempo %d clamped to %d", s.Tempo, MinTempo)
		s.Tempo = MinTempo
	case s.Tempo > MaxTempo:
		note("tempo %d clamped to %d", s.Tempo, MaxTempo)
		s.Tempo = MaxTempo
	}
	if s.Swing < MinSwing {
		note("swing %d clamped to %d", s.Swing, MinSwing)
		s.Swing = MinSwing
	} else if s.Swing > MaxSwing {
		note("swing %d clamped to %d", s.Swing, MaxSwing)
		s.Swing = MaxSwing
	}
	if s.Version < 1 {
		note("version %d migrated to %d", s.Version, SchemaVersion)
		s.Version = SchemaVersion
	}

	for _, t := range s.Tracks {
		repairTrack(t, note)
	}

	if s.Effects != nil {
		repairEffects(s.Effects, note)
	}
	if s.Scale != nil {
		if !IsValidNoteName(s.Scale.Root) || !IsValidScaleID(s.Scale.ScaleID) {
			note("dropped invalid scale %s/%s", s.Scale.Root, s.Scale.ScaleID)
			s.Scale = nil
		}
	}
	if s.LoopRegion != nil {
		lr := s.LoopRegion
		if lr.Start < 0 {
			note("loop start %d clamped to 0", lr.Start)
			lr.Start = 0
		}
		if lr.End < 0 {
			note("loop end %d clamped to 0", lr.End)
			lr.End = 0
		}
		if lr.Start > lr.End {
			note("loop region [%d,%d] reordered", lr.Start, lr.End)
			lr.Start, lr.End = lr.End, lr.Start
		}
	}
	return repairs
}

func freshTrackID(seen map[string]struct{}, hint int) string {
	for n := hint + 1; ; n++ {
		id := fmt.Sprintf("track-%d", n)
		if _, taken := seen[id]; !taken {
			return id
		}
	}
}

func repairTrack(t *Track, note func(string, ...any)) {
	if len(t.Steps) != MaxSteps {
		note("track %q steps resized from %d to %d", t.ID, len(t.Steps), MaxSteps)
		steps := make([]bool, MaxSteps)
		copy(steps, t.Steps)
		t.Steps = steps
	}
	if len(t.ParameterLocks) != MaxSteps {
		note("track %q parameterLocks resized from %d to %d", t.ID, len(t.ParameterLocks), MaxSteps)
		locks := make([]*ParameterLock, MaxSteps)
		copy(locks, t.ParameterLocks)
		t.ParameterLocks = locks
	}
	for step, lock := range t.ParameterLocks {
		if lock == nil {
			continue
		}
		if lock.Pitch != nil {
			if p := clampInt(*lock.Pitch, MinPlockPitch, MaxPlockPitch); p != *lock.Pitch {
				note("track %q lock pitch at %d clamped to %d", t.ID, step, p)
				*lock.Pitch = p
			}
		}
		if lock.Volume != nil {
			if math.IsNaN(*lock.Volume) || math.IsInf(*lock.Volume, 0) {
				note("track %q lock volume at %d dropped (not finite)", t.ID, step)
				lock.Volume = nil
			} else if v := clampFloat(*lock.Volume, MinPlockVolume, MaxPlockVolume); v != *lock.Volume {
				note("track %q lock volume at %d clamped to %g", t.ID, step, v)
				*lock.Volume = v
			}
		}
		if lock.IsEmpty() {
			note("track %q empty lock at %d normalized to nil", t.ID, step)
			t.ParameterLocks[step] = nil
		}
	}

	if math.IsNaN(t.Volume) || math.IsInf(t.Volume, 0) {
		note("track %q volume reset (not finite)", t.ID)
		t.Volume = DefaultVolume
	} else if v := clampFloat(t.Volume, MinVolume, MaxVolume); v != t.Volume {
		note("track %q volume %g clamped to %g", t.ID, t.Volume, v)
		t.Volume = v
	}
	if v := clampInt(t.Transpose, MinTranspose, MaxTranspose); v != t.Transpose {
		note("track %q transpose %d clamped to %d", t.ID, t.Transpose, v)
		t.Transpose = v
	}
	if t.StepCount == 0 {
		note("track %q stepCount missing: defaulted to %d", t.ID, DefaultStepCount)
		t.StepCount = DefaultStepCount
	} else if !IsValidStepCount(t.StepCount) {
		snapped := NearestStepCount(t.StepCount)
		note("track %q stepCount %d snapped to %d", t.ID, t.StepCount, snapped)
		t.StepCount = snapped
	}
	if t.Swing != nil {
		if v := clampInt(*t.Swing, MinSwing, MaxSwing); v != *t.Swing {
			note("track %q swing %d clamped to %d", t.ID, *t.Swing, v)
			*t.Swing = v
		}
	}
	if t.FMParams != nil {
		fm := t.FMParams
		if math.IsNaN(fm.Harmonicity) || math.IsInf(fm.Harmonicity, 0) ||
			math.IsNaN(fm.ModulationIndex) || math.IsInf(fm.ModulationIndex, 0) {
			note("track %q fmParams dropped (not finite)", t.ID)
			t.FMParams = nil
		} else {
			if fm.Harmonicity < 0 {
				note("track %q fm harmonicity clamped to 0", t.ID)
				fm.Harmonicity = 0
			}
			if fm.ModulationIndex < 0 {
				note("track %q fm modulationIndex clamped to 0", t.ID)
				fm.ModulationIndex = 0
			}
		}
	}
}

func repairEffects(e *EffectsState, note func(string, ...any)) {
	clamp := func(field string, v *float64, lo, hi float64) {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			note("effects %s reset to %g (not finite)", field, lo)
			*v = lo
			return
		}
		if c := clampFloat(*v, lo, hi); c != *v {
			note("effects %s %g clamped to %g", field, *v, c)
			*v = c
		}
	}
	clamp("reverb.decay", &e.Reverb.Decay, 0.1, 10)
	clamp("reverb.wet", &e.Reverb.Wet, 0, 1)
	if !IsValidDelayTime(e.Delay.Time) {
		note("effects delay.time %q reset to 8n", e.Delay.Time)
		e.Delay.Time = "8n"
	}
	clamp("delay.feedback", &e.Delay.Feedback, 0, 0.95)
	clamp("delay.wet", &e.Delay.Wet, 0, 1)
	clamp("chorus.frequency", &e.Chorus.Frequency, 0.1, 10)
	clamp("chorus.depth", &e.Chorus.Depth, 0, 1)
	clamp("chorus.wet", &e.Chorus.Wet, 0, 1)
	clamp("distortion.amount", &e.Distortion.Amount, 0, 1)
	clamp("distortion.wet", &e.Distortion.Wet, 0, 1)
}

// NearestStepCount snaps n to the closest approved step count, preferring
// the smaller value on ties.
func NearestStepCount(n int) int {
	best := ValidStepCounts[0]
	bestDist := abs(n - best)
	for _, c := range ValidStepCounts[1:] {
		d := abs(n - c)
		if d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
