// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// The validators in this file take untyped, freshly-decoded JSON values.
// Nothing coming off the wire reaches SessionState without passing through
// them. Policy: structural problems reject, numeric ranges clamp, malformed
// optional fields drop silently.

var (
	scriptTagPattern  = regexp.MustCompile(`(?i)<\s*script`)
	jsSchemePattern   = regexp.MustCompile(`(?i)javascript\s*:`)
	onHandlerPattern  = regexp.MustCompile(`(?i)\bon\w+\s*=`)
	uuidShapePattern  = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
)

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asFiniteNumber(v any) (float64, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asWholeNumber(v any) (int, bool) {
	f, ok := asFiniteNumber(v)
	if !ok {
		return 0, false
	}
	if f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ValidateParameterLock sanitizes a raw lock value. nil is accepted (clears
// the lock). Arrays and non-objects are rejected. Fields are clamped into
// range; malformed fields are dropped. A lock left with no valid fields
// normalizes to nil.
func ValidateParameterLock(v any) (*ParameterLock, bool) {
	if v == nil {
		return nil, true
	}
	m, ok := asMap(v)
	if !ok {
		return nil, false
	}
	lock := &ParameterLock{}
	if raw, present := m["pitch"]; present {
		if f, ok := asFiniteNumber(raw); ok {
			p := clampInt(int(math.Round(f)), MinPlockPitch, MaxPlockPitch)
			lock.Pitch = &p
		}
	}
	if raw, present := m["volume"]; present {
		if f, ok := asFiniteNumber(raw); ok {
			vol := clampFloat(f, MinPlockVolume, MaxPlockVolume)
			lock.Volume = &vol
		}
	}
	if raw, present := m["tie"]; present {
		if b, ok := raw.(bool); ok {
			lock.Tie = &b
		}
	}
	if lock.IsEmpty() {
		return nil, true
	}
	return lock, true
}

// ValidateCursorPosition sanitizes a raw cursor value. Non-objects and
// non-finite coordinates reject; coordinates clamp to [0,100]; malformed
// optional fields drop silently.
func ValidateCursorPosition(v any) (*CursorPosition, bool) {
	m, ok := asMap(v)
	if !ok {
		return nil, false
	}
	x, okX := asFiniteNumber(m["x"])
	y, okY := asFiniteNumber(m["y"])
	if !okX || !okY {
		return nil, false
	}
	pos := &CursorPosition{
		X: clampFloat(x, MinCursorPosition, MaxCursorPosition),
		Y: clampFloat(y, MinCursorPosition, MaxCursorPosition),
	}
	if raw, present := m["trackId"]; present {
		if s, ok := raw.(string); ok && s != "" {
			pos.TrackID = s
		}
	}
	if raw, present := m["step"]; present {
		if n, ok := asWholeNumber(raw); ok && n >= 0 && n < MaxSteps {
			pos.Step = &n
		}
	}
	return pos, true
}

// ValidateSessionName sanitizes a raw session name. nil clears the name.
// Names are NFC-normalized, limited to MaxSessionNameLen runes, restricted
// to Unicode letters, numbers, punctuation, symbols and whitespace, and
// rejected outright when they smell like markup injection.
func ValidateSessionName(v any) (string, bool) {
	if v == nil {
		return "", true
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = norm.NFC.String(strings.TrimSpace(s))
	if s == "" {
		return "", true
	}
	if len([]rune(s)) > MaxSessionNameLen {
		return "", false
	}
	if scriptTagPattern.MatchString(s) || jsSchemePattern.MatchString(s) || onHandlerPattern.MatchString(s) {
		return "", false
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsPunct(r) ||
			unicode.IsSymbol(r) || unicode.IsSpace(r) {
			continue
		}
		return "", false
	}
	return s, true
}

// ValidateScale sanitizes a raw scale value. nil clears the scale. Unknown
// roots or scale ids reject.
func ValidateScale(v any) (*Scale, bool) {
	if v == nil {
		return nil, true
	}
	m, ok := asMap(v)
	if !ok {
		return nil, false
	}
	root, _ := m["root"].(string)
	scaleID, _ := m["scaleId"].(string)
	if !IsValidNoteName(root) || !IsValidScaleID(scaleID) {
		return nil, false
	}
	locked, _ := m["locked"].(bool)
	return &Scale{Root: root, ScaleID: scaleID, Locked: locked}, true
}

// ValidateFMParams sanitizes raw FM settings. nil clears them. Both fields
// must be finite, non-negative numbers when present; absent fields default.
func ValidateFMParams(v any) (*FMParams, bool) {
	if v == nil {
		return nil, true
	}
	m, ok := asMap(v)
	if !ok {
		return nil, false
	}
	fm := &FMParams{Harmonicity: 1, ModulationIndex: 10}
	if raw, present := m["harmonicity"]; present {
		f, ok := asFiniteNumber(raw)
		if !ok || f < 0 {
			return nil, false
		}
		fm.Harmonicity = f
	}
	if raw, present := m["modulationIndex"]; present {
		f, ok := asFiniteNumber(raw)
		if !ok || f < 0 {
			return nil, false
		}
		fm.ModulationIndex = f
	}
	return fm, true
}

// ValidateLoopRegion sanitizes a raw loop region. nil clears it. Start and
// end must be whole numbers; negatives clamp to zero; a reversed window is
// normalized to {min,max}.
func ValidateLoopRegion(v any) (*LoopRegion, bool) {
	if v == nil {
		return nil, true
	}
	m, ok := asMap(v)
	if !ok {
		return nil, false
	}
	start, okS := asWholeNumber(m["start"])
	end, okE := asWholeNumber(m["end"])
	if !okS || !okE {
		return nil, false
	}
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}
	if start > end {
		start, end = end, start
	}
	return &LoopRegion{Start: start, End: end}, true
}

// legacyEffectKeys are pre-rename field names that must be rejected so old
// clients fail loudly instead of silently losing settings.
var legacyEffectKeys = []string{"mix", "rate", "drive"}

// ValidateEffects validates a raw effects value into a typed EffectsState.
// All four sections are required. Structural problems (missing sections,
// legacy keys, unknown delay time, non-numeric values) are reported as
// errors; in-range clamping is applied to numeric fields.
func ValidateEffects(v any) (*EffectsState, []string) {
	m, ok := asMap(v)
	if !ok {
		return nil, []string{"effects must be an object"}
	}
	var errs []string

	section := func(name string) (map[string]any, bool) {
		raw, present := m[name]
		if !present {
			errs = append(errs, fmt.Sprintf("effects.%s is required", name))
			return nil, false
		}
		sm, ok := asMap(raw)
		if !ok {
			errs = append(errs, fmt.Sprintf("effects.%s must be an object", name))
			return nil, false
		}
		for _, legacy := range legacyEffectKeys {
			if _, has := sm[legacy]; has {
				errs = append(errs, fmt.Sprintf("effects.%s.%s is a legacy field", name, legacy))
				return nil, false
			}
		}
		return sm, true
	}

	num := func(sec map[string]any, secName, key string, lo, hi float64) float64 {
		f, ok := asFiniteNumber(sec[key])
		if !ok {
			errs = append(errs, fmt.Sprintf("effects.%s.%s must be a number", secName, key))
			return lo
		}
		return clampFloat(f, lo, hi)
	}

	out := &EffectsState{}
	if sec, ok := section("reverb"); ok {
		out.Reverb = ReverbSettings{
			Decay: num(sec, "reverb", "decay", 0.1, 10),
			Wet:   num(sec, "reverb", "wet", 0, 1),
		}
	}
	if sec, ok := section("delay"); ok {
		t, _ := sec["time"].(string)
		if !IsValidDelayTime(t) {
			errs = append(errs, fmt.Sprintf("effects.delay.time %q is not a valid delay time", t))
		}
		out.Delay = DelaySettings{
			Time:     t,
			Feedback: num(sec, "delay", "feedback", 0, 0.95),
			Wet:      num(sec, "delay", "wet", 0, 1),
		}
	}
	if sec, ok := section("chorus"); ok {
		out.Chorus = ChorusSettings{
			Frequency: num(sec, "chorus", "frequency", 0.1, 10),
			Depth:     num(sec, "chorus", "depth", 0, 1),
			Wet:       num(sec, "chorus", "wet", 0, 1),
		}
	}
	if sec, ok := section("distortion"); ok {
		out.Distortion = DistortionSettings{
			Amount: num(sec, "distortion", "amount", 0, 1),
			Wet:    num(sec, "distortion", "wet", 0, 1),
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// ValidateSessionState checks a raw state value for structural problems.
// It tolerates partial state (the HTTP create/update paths send only what
// changed); range violations are left for RepairStateInvariants to clamp.
func ValidateSessionState(v any) []string {
	m, ok := asMap(v)
	if !ok {
		return []string{"state must be an object"}
	}
	var errs []string

	if raw, present := m["tempo"]; present {
		if _, ok := asFiniteNumber(raw); !ok {
			errs = append(errs, "tempo must be a number")
		}
	}
	if raw, present := m["swing"]; present {
		if _, ok := asFiniteNumber(raw); !ok {
			errs = append(errs, "swing must be a number")
		}
	}
	if raw, present := m["effects"]; present && raw != nil {
		if _, effErrs := ValidateEffects(raw); effErrs != nil {
			errs = append(errs, effErrs...)
		}
	}
	if raw, present := m["scale"]; present && raw != nil {
		if _, ok := ValidateScale(raw); !ok {
			errs = append(errs, "scale is invalid")
		}
	}
	if raw, present := m["loopRegion"]; present && raw != nil {
		if _, ok := ValidateLoopRegion(raw); !ok {
			errs = append(errs, "loopRegion is invalid")
		}
	}

	raw, present := m["tracks"]
	if !present {
		return errs
	}
	tracks, ok := raw.([]any)
	if !ok {
		return append(errs, "tracks must be an array")
	}
	if len(tracks) > MaxTracks {
		errs = append(errs, fmt.Sprintf("too many tracks: %d (max %d)", len(tracks), MaxTracks))
	}
	seen := make(map[string]struct{}, len(tracks))
	for i, rawTrack := range tracks {
		tm, ok := asMap(rawTrack)
		if !ok {
			errs = append(errs, fmt.Sprintf("tracks[%d] must be an object", i))
			continue
		}
		id, _ := tm["id"].(string)
		if id == "" {
			errs = append(errs, fmt.Sprintf("tracks[%d].id is required", i))
			continue
		}
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Sprintf("tracks[%d].id %q is duplicated", i, id))
		}
		seen[id] = struct{}{}

		if rawSteps, present := tm["steps"]; present {
			if _, ok := rawSteps.([]any); !ok {
				errs = append(errs, fmt.Sprintf("tracks[%d].steps must be an array", i))
			}
		}
		if rawLocks, present := tm["parameterLocks"]; present {
			if _, ok := rawLocks.([]any); !ok {
				errs = append(errs, fmt.Sprintf("tracks[%d].parameterLocks must be an array", i))
			}
		}
		if rawFM, present := tm["fmParams"]; present && rawFM != nil {
			if _, ok := ValidateFMParams(rawFM); !ok {
				errs = append(errs, fmt.Sprintf("tracks[%d].fmParams is invalid", i))
			}
		}
	}
	return errs
}

// IsBodySizeValid reports whether a declared content length is acceptable.
func IsBodySizeValid(contentLength int64) bool {
	return contentLength >= 0 && contentLength <= MaxMessageSize
}

// IsValidUUID reports whether s is a canonical dashed lowercase UUIDv4.
func IsValidUUID(s string) bool {
	if !uuidShapePattern.MatchString(s) {
		return false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.Version() == 4
}
