// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

// Shared limits. The browser client mirrors every value here; the constants
// test pins each one so drift between the two halves breaks loudly.
const (
	MaxTracks = 16
	MaxSteps  = 128

	MinTempo = 60
	MaxTempo = 180

	MinSwing = 0
	MaxSwing = 100

	MinVolume = 0.0
	MaxVolume = 1.0

	MinTranspose = -24
	MaxTranspose = 24

	MinPlockPitch  = -24
	MaxPlockPitch  = 24
	MinPlockVolume = 0.0
	MaxPlockVolume = 1.0

	MinCursorPosition = 0.0
	MaxCursorPosition = 100.0

	// MaxSessionNameLen is measured in runes after NFC normalization.
	MaxSessionNameLen = 100

	// MaxMessageSize caps HTTP request bodies and websocket frames alike.
	MaxMessageSize = 64 << 10

	// MaxStreamsPerSession caps concurrent websocket streams on one session.
	MaxStreamsPerSession = 10

	DefaultTempo     = 120
	DefaultSwing     = 0
	DefaultStepCount = 16
	DefaultVolume    = 1.0

	// SchemaVersion is the current SessionState.version. Loads of older
	// snapshots pass through RepairStateInvariants before use.
	SchemaVersion = 1
)

// ValidDelayTimes enumerates the accepted delay time divisions.
var ValidDelayTimes = []string{
	"32n", "16n", "16t", "8n", "8t", "4n", "4t", "2n", "2t", "1n", "1m", "2m", "4m",
}

// ValidStepCounts enumerates the accepted active-window lengths for a track.
// Arrays always stay MaxSteps long; stepCount only moves the playback window.
var ValidStepCounts = []int{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 15, 16, 18, 20, 21, 24, 27, 32, 36, 48, 64, 96, 128,
}

// NoteNames enumerates the 12 chromatic roots accepted in a scale.
var NoteNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// ScaleIDs enumerates the known scale identifiers.
var ScaleIDs = []string{
	"major", "minor", "dorian", "phrygian", "lydian", "mixolydian", "locrian",
	"harmonicMinor", "melodicMinor", "majorPentatonic", "minorPentatonic",
	"blues", "chromatic",
}

var (
	validDelayTimeSet = stringSet(ValidDelayTimes)
	validStepCountSet = intSet(ValidStepCounts)
	noteNameSet       = stringSet(NoteNames)
	scaleIDSet        = stringSet(ScaleIDs)
)

func stringSet(vals []string) map[string]struct{} {
	s := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

func intSet(vals []int) map[int]struct{} {
	s := make(map[int]struct{}, len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

// IsValidDelayTime reports whether t is an accepted delay division.
func IsValidDelayTime(t string) bool {
	_, ok := validDelayTimeSet[t]
	return ok
}

// IsValidStepCount reports whether n is an accepted active-window length.
func IsValidStepCount(n int) bool {
	_, ok := validStepCountSet[n]
	return ok
}

// IsValidNoteName reports whether n is one of the 12 chromatic roots.
func IsValidNoteName(n string) bool {
	_, ok := noteNameSet[n]
	return ok
}

// IsValidScaleID reports whether id names a known scale.
func IsValidScaleID(id string) bool {
	_, ok := scaleIDSet[id]
	return ok
}
