package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalHashDeterministic(t *testing.T) {
	a := DefaultState()
	b := DefaultState()
	assert.Equal(t, CanonicalHash(a), CanonicalHash(b))
	assert.Equal(t, CanonicalHash(a), CanonicalHash(a.Clone()))
}

func TestCanonicalHashChangesOnMutation(t *testing.T) {
	s := DefaultState()
	before := CanonicalHash(s)

	_, ok := s.ToggleStep("track-1", 0)
	require.True(t, ok)
	assert.NotEqual(t, before, CanonicalHash(s))
}

func TestCanonicalHashIgnoresMuteAndSolo(t *testing.T) {
	s := DefaultState()
	before := CanonicalHash(s)

	require.True(t, s.SetMuted("track-1", true))
	require.True(t, s.SetSoloed("track-2", true))
	assert.Equal(t, before, CanonicalHash(s))
}

func TestCanonicalJSONIsValidJSON(t *testing.T) {
	s := DefaultState()
	s.Effects = &EffectsState{
		Reverb:     ReverbSettings{Decay: 2.5, Wet: 0.3},
		Delay:      DelaySettings{Time: "8n", Feedback: 0.4, Wet: 0.2},
		Chorus:     ChorusSettings{Frequency: 1.5, Depth: 0.7, Wet: 0.5},
		Distortion: DistortionSettings{Amount: 0.1, Wet: 0.1},
	}
	s.Scale = &Scale{Root: "C", ScaleID: "minor", Locked: true}
	s.LoopRegion = &LoopRegion{Start: 0, End: 15}

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(CanonicalJSON(s), &decoded))
	assert.Contains(t, decoded, "tracks")
	assert.Contains(t, decoded, "effects")
	assert.Contains(t, decoded, "scale")
}

func TestCanonicalPadsShortArrays(t *testing.T) {
	short := DefaultState()
	short.Tracks = short.Tracks[:1]
	short.Tracks[0].Steps = []bool{true, false, true}
	short.Tracks[0].ParameterLocks = nil

	full := DefaultState()
	full.Tracks = full.Tracks[:1]
	full.Tracks[0].Steps = make([]bool, MaxSteps)
	full.Tracks[0].Steps[0] = true
	full.Tracks[0].Steps[2] = true
	full.Tracks[0].ParameterLocks = make([]*ParameterLock, MaxSteps)

	assert.Equal(t, CanonicalHash(full), CanonicalHash(short))
}

func TestCanonicalDefaultsStepCount(t *testing.T) {
	implicit := DefaultState()
	implicit.Tracks = implicit.Tracks[:1]
	implicit.Tracks[0].StepCount = 0

	explicit := DefaultState()
	explicit.Tracks = explicit.Tracks[:1]
	explicit.Tracks[0].StepCount = DefaultStepCount

	assert.Equal(t, CanonicalHash(explicit), CanonicalHash(implicit))
}

func TestCanonicalEmptyLockSerializesAsNull(t *testing.T) {
	s := DefaultState()
	s.Tracks = s.Tracks[:1]
	s.Tracks[0].ParameterLocks[0] = &ParameterLock{}

	withNil := DefaultState()
	withNil.Tracks = withNil.Tracks[:1]

	assert.Equal(t, CanonicalHash(withNil), CanonicalHash(s))
}

// The fixture leaves out every defaultable field, most importantly volume,
// whose zero value is a legal explicit setting. A record decoded from durable
// storage or an old client must hash identically to its fully-specified form.
func TestCanonicalSparseFixtureMatchesDefaults(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("testdata", "sparse_state.json"))
	require.NoError(t, err)

	var got SessionState
	require.NoError(t, json.Unmarshal(raw, &got))
	RepairStateInvariants(&got)

	want := DefaultState()
	want.Tracks = want.Tracks[:1]

	assert.Equal(t, DefaultVolume, got.Tracks[0].Volume)
	assert.Equal(t, string(CanonicalJSON(want)), string(CanonicalJSON(&got)))
	assert.Equal(t, CanonicalHash(want), CanonicalHash(&got))
}

func TestCanonicalKeysSorted(t *testing.T) {
	s := DefaultState()
	s.Tracks = nil
	got := string(CanonicalJSON(s))
	assert.Equal(t, `{"swing":0,"tempo":120,"tracks":[],"version":1}`, got)
}
