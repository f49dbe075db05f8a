// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package model holds the sequencer session data model, its validators and
// the canonical serialization used for state-agreement hashing.
package model

import (
	"encoding/json"
	"time"
)

// Session is the persistent record for one shared sequencer instance.
type Session struct {
	ID              string        `json:"id"`
	CreatedAt       int64         `json:"createdAt"`
	UpdatedAt       int64         `json:"updatedAt"`
	LastAccessedAt  int64         `json:"lastAccessedAt"`
	Name            string        `json:"name,omitempty"`
	RemixedFrom     string        `json:"remixedFrom,omitempty"`
	RemixedFromName string        `json:"remixedFromName,omitempty"`
	RemixCount      int           `json:"remixCount"`
	Immutable       bool          `json:"immutable,omitempty"`
	State           *SessionState `json:"state"`
}

// SessionState is the authoritative musical state of a session. It is owned
// exclusively by the session engine while any client is attached.
type SessionState struct {
	Tracks     []*Track      `json:"tracks"`
	Tempo      int           `json:"tempo"`
	Swing      int           `json:"swing"`
	Effects    *EffectsState `json:"effects,omitempty"`
	Scale      *Scale        `json:"scale,omitempty"`
	LoopRegion *LoopRegion   `json:"loopRegion,omitempty"`
	Version    int           `json:"version"`
}

// Track is one instrument lane. Steps and ParameterLocks always hold exactly
// MaxSteps entries; StepCount is the active playback window into them.
// Muted and Soloed are local-only ("my ears, my control"): they travel on the
// wire but are never hashed and never authoritative.
type Track struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	SampleID       string           `json:"sampleId"`
	Steps          []bool           `json:"steps"`
	ParameterLocks []*ParameterLock `json:"parameterLocks"`
	Volume         float64          `json:"volume"`
	Muted          bool             `json:"muted,omitempty"`
	Soloed         bool             `json:"soloed,omitempty"`
	Transpose      int              `json:"transpose"`
	StepCount      int              `json:"stepCount"`
	Swing          *int             `json:"swing,omitempty"`
	FMParams       *FMParams        `json:"fmParams,omitempty"`
}

// ParameterLock overrides pitch, volume or tie for a single step. Any subset
// of fields may be present; a lock with no fields normalizes to absent.
type ParameterLock struct {
	Pitch  *int     `json:"pitch,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
	Tie    *bool    `json:"tie,omitempty"`
}

// IsEmpty reports whether the lock carries no fields.
func (p *ParameterLock) IsEmpty() bool {
	return p == nil || (p.Pitch == nil && p.Volume == nil && p.Tie == nil)
}

// Clone returns a deep copy of the lock, or nil.
func (p *ParameterLock) Clone() *ParameterLock {
	if p == nil {
		return nil
	}
	out := &ParameterLock{}
	if p.Pitch != nil {
		v := *p.Pitch
		out.Pitch = &v
	}
	if p.Volume != nil {
		v := *p.Volume
		out.Volume = &v
	}
	if p.Tie != nil {
		v := *p.Tie
		out.Tie = &v
	}
	return out
}

// UnmarshalJSON decodes a track with an absent volume defaulted to
// DefaultVolume. Zero is a legal explicit volume, so absence cannot be
// detected after decode; sparse records from old clients or durable storage
// must not come back silently muted, and the canonical hash of a sparse
// record must match its fully-specified form.
func (t *Track) UnmarshalJSON(data []byte) error {
	type track Track
	aux := track{Volume: DefaultVolume}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*t = Track(aux)
	return nil
}

// FMParams tunes the FM voice of a track.
type FMParams struct {
	Harmonicity     float64 `json:"harmonicity"`
	ModulationIndex float64 `json:"modulationIndex"`
}

// EffectsState is the session-wide effects chain. When present, all four
// sections are required; legacy field names (mix, rate, drive) are rejected
// at the validation boundary.
type EffectsState struct {
	Reverb     ReverbSettings     `json:"reverb"`
	Delay      DelaySettings      `json:"delay"`
	Chorus     ChorusSettings     `json:"chorus"`
	Distortion DistortionSettings `json:"distortion"`
}

// ReverbSettings holds the reverb section.
type ReverbSettings struct {
	Decay float64 `json:"decay"`
	Wet   float64 `json:"wet"`
}

// DelaySettings holds the delay section. Time must be one of ValidDelayTimes.
type DelaySettings struct {
	Time     string  `json:"time"`
	Feedback float64 `json:"feedback"`
	Wet      float64 `json:"wet"`
}

// ChorusSettings holds the chorus section.
type ChorusSettings struct {
	Frequency float64 `json:"frequency"`
	Depth     float64 `json:"depth"`
	Wet       float64 `json:"wet"`
}

// DistortionSettings holds the distortion section.
type DistortionSettings struct {
	Amount float64 `json:"amount"`
	Wet    float64 `json:"wet"`
}

// Scale constrains note entry to a root and scale.
type Scale struct {
	Root    string `json:"root"`
	ScaleID string `json:"scaleId"`
	Locked  bool   `json:"locked"`
}

// LoopRegion is an inclusive step window, always normalized to start <= end.
type LoopRegion struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// CursorPosition is a transient pointer location in grid-relative percent.
type CursorPosition struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	TrackID string  `json:"trackId,omitempty"`
	Step    *int    `json:"step,omitempty"`
}

// PlayerInfo describes one connected player. It is transient: derived at
// attach time and never persisted.
type PlayerInfo struct {
	ID            string `json:"id"`
	ConnectedAt   int64  `json:"connectedAt"`
	LastMessageAt int64  `json:"lastMessageAt"`
	MessageCount  int64  `json:"messageCount"`
	ColorIndex    int    `json:"colorIndex"`
	Animal        string `json:"animal"`
	Color         string `json:"color"`
	Name          string `json:"name"`
}

// NewTrack returns a track with full-length default step and lock buffers.
func NewTrack(id, name, sampleID string) *Track {
	return &Track{
		ID:             id,
		Name:           name,
		SampleID:       sampleID,
		Steps:          make([]bool, MaxSteps),
		ParameterLocks: make([]*ParameterLock, MaxSteps),
		Volume:         DefaultVolume,
		StepCount:      DefaultStepCount,
	}
}

// DefaultState returns the state a brand-new session starts with: four
// starter lanes at 120 BPM.
func DefaultState() *SessionState {
	return &SessionState{
		Tracks: []*Track{
			NewTrack("track-1", "Kick", "kick"),
			NewTrack("track-2", "Snare", "snare"),
			NewTrack("track-3", "Hat", "hihat"),
			NewTrack("track-4", "Bass", "bass"),
		},
		Tempo:   DefaultTempo,
		Swing:   DefaultSwing,
		Version: SchemaVersion,
	}
}

// NewSession returns a fresh session with default state.
func NewSession(id string, nowMs int64) *Session {
	return &Session{
		ID:             id,
		CreatedAt:      nowMs,
		UpdatedAt:      nowMs,
		LastAccessedAt: nowMs,
		State:          DefaultState(),
	}
}

// Touch bumps the modification timestamps.
func (s *Session) Touch(nowMs int64) {
	s.UpdatedAt = nowMs
	s.LastAccessedAt = nowMs
}

// NowMs returns the current time in epoch milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// FindTrack returns the track with the given id, or nil.
func (s *SessionState) FindTrack(id string) *Track {
	for _, t := range s.Tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := &SessionState{
		Tracks:  make([]*Track, len(s.Tracks)),
		Tempo:   s.Tempo,
		Swing:   s.Swing,
		Version: s.Version,
	}
	for i, t := range s.Tracks {
		out.Tracks[i] = t.Clone()
	}
	if s.Effects != nil {
		e := *s.Effects
		out.Effects = &e
	}
	if s.Scale != nil {
		sc := *s.Scale
		out.Scale = &sc
	}
	if s.LoopRegion != nil {
		lr := *s.LoopRegion
		out.LoopRegion = &lr
	}
	return out
}

// Clone returns a deep copy of the track.
func (t *Track) Clone() *Track {
	if t == nil {
		return nil
	}
	out := &Track{
		ID:        t.ID,
		Name:      t.Name,
		SampleID:  t.SampleID,
		Volume:    t.Volume,
		Muted:     t.Muted,
		Soloed:    t.Soloed,
		Transpose: t.Transpose,
		StepCount: t.StepCount,
	}
	out.Steps = make([]bool, len(t.Steps))
	copy(out.Steps, t.Steps)
	out.ParameterLocks = make([]*ParameterLock, len(t.ParameterLocks))
	for i, p := range t.ParameterLocks {
		out.ParameterLocks[i] = p.Clone()
	}
	if t.Swing != nil {
		v := *t.Swing
		out.Swing = &v
	}
	if t.FMParams != nil {
		fm := *t.FMParams
		out.FMParams = &fm
	}
	return out
}

// Clone returns a deep copy of the session record.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.State = s.State.Clone()
	return &out
}
