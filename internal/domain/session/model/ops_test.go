package model

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToggleStep(t *testing.T) {
	s := DefaultState()

	on, ok := s.ToggleStep("track-1", 5)
	require.True(t, ok)
	assert.True(t, on)

	on, ok = s.ToggleStep("track-1", 5)
	require.True(t, ok)
	assert.False(t, on)

	_, ok = s.ToggleStep("no-such-track", 0)
	assert.False(t, ok)
	_, ok = s.ToggleStep("track-1", -1)
	assert.False(t, ok)
	_, ok = s.ToggleStep("track-1", MaxSteps)
	assert.False(t, ok)
}

func TestSetTempoAndSwingClamp(t *testing.T) {
	s := DefaultState()

	assert.Equal(t, MaxTempo, s.SetTempo(999))
	assert.Equal(t, MinTempo, s.SetTempo(1))
	assert.Equal(t, 128, s.SetTempo(128))

	assert.Equal(t, MaxSwing, s.SetSwing(500))
	assert.Equal(t, MinSwing, s.SetSwing(-3))
}

func TestAddTrackOutcomes(t *testing.T) {
	s := DefaultState()

	assert.Equal(t, TrackExists, s.AddTrack(NewTrack("track-1", "Dup", "kick")))
	assert.Len(t, s.Tracks, 4)

	assert.Equal(t, TrackAdded, s.AddTrack(NewTrack("track-5", "Perc", "clap")))
	assert.Len(t, s.Tracks, 5)

	for i := len(s.Tracks); i < MaxTracks; i++ {
		id := fmt.Sprintf("extra-%d", i)
		require.Equal(t, TrackAdded, s.AddTrack(NewTrack(id, "", "kick")))
	}
	assert.Equal(t, TrackTableFull, s.AddTrack(NewTrack("one-too-many", "", "kick")))
	assert.Len(t, s.Tracks, MaxTracks)
}

func TestDeleteTrack(t *testing.T) {
	s := DefaultState()

	assert.True(t, s.DeleteTrack("track-2"))
	assert.Len(t, s.Tracks, 3)
	assert.Nil(t, s.FindTrack("track-2"))

	assert.False(t, s.DeleteTrack("track-2"))
	assert.Len(t, s.Tracks, 3)
}

func TestClearTrackResetsArrays(t *testing.T) {
	s := DefaultState()
	_, ok := s.ToggleStep("track-1", 0)
	require.True(t, ok)
	pitch := 5
	require.True(t, s.SetParameterLock("track-1", 0, &ParameterLock{Pitch: &pitch}))

	require.True(t, s.ClearTrack("track-1"))
	tr := s.FindTrack("track-1")
	assert.Len(t, tr.Steps, MaxSteps)
	assert.Len(t, tr.ParameterLocks, MaxSteps)
	assert.False(t, tr.Steps[0])
	assert.Nil(t, tr.ParameterLocks[0])
}

func TestSetTrackStepCountSnaps(t *testing.T) {
	s := DefaultState()

	count, ok := s.SetTrackStepCount("track-1", 32)
	require.True(t, ok)
	assert.Equal(t, 32, count)

	count, ok = s.SetTrackStepCount("track-1", 17)
	require.True(t, ok)
	assert.Equal(t, 16, count, "17 snaps to the nearest approved count, ties prefer smaller")

	count, ok = s.SetTrackStepCount("track-1", 1000)
	require.True(t, ok)
	assert.Equal(t, 128, count)
}

func TestSetTrackSwingOverride(t *testing.T) {
	s := DefaultState()

	v := 150
	stored, ok := s.SetTrackSwing("track-1", &v)
	require.True(t, ok)
	require.NotNil(t, stored)
	assert.Equal(t, MaxSwing, *stored)

	stored, ok = s.SetTrackSwing("track-1", nil)
	require.True(t, ok)
	assert.Nil(t, stored)
	assert.Nil(t, s.FindTrack("track-1").Swing)
}

func TestCopySequenceIsDeepCopy(t *testing.T) {
	s := DefaultState()
	_, ok := s.ToggleStep("track-1", 3)
	require.True(t, ok)
	pitch := 7
	require.True(t, s.SetParameterLock("track-1", 3, &ParameterLock{Pitch: &pitch}))
	_, ok = s.SetTrackStepCount("track-1", 32)
	require.True(t, ok)

	require.True(t, s.CopySequence("track-1", "track-2"))
	dst := s.FindTrack("track-2")
	assert.True(t, dst.Steps[3])
	assert.Equal(t, 32, dst.StepCount)
	require.NotNil(t, dst.ParameterLocks[3])

	// Mutating the copy must not reach back into the source.
	*dst.ParameterLocks[3].Pitch = -7
	src := s.FindTrack("track-1")
	assert.Equal(t, 7, *src.ParameterLocks[3].Pitch)
}

func TestCopySequenceRejectsSelfAndMissing(t *testing.T) {
	s := DefaultState()
	assert.False(t, s.CopySequence("track-1", "track-1"))
	assert.False(t, s.CopySequence("track-1", "ghost"))
	assert.False(t, s.CopySequence("ghost", "track-1"))
}

func TestMoveSequenceClearsSource(t *testing.T) {
	s := DefaultState()
	_, ok := s.ToggleStep("track-1", 3)
	require.True(t, ok)

	require.True(t, s.MoveSequence("track-1", "track-2"))
	assert.True(t, s.FindTrack("track-2").Steps[3])
	src := s.FindTrack("track-1")
	assert.False(t, src.Steps[3])
	assert.Len(t, src.Steps, MaxSteps)
}

func TestBatchClearStepsSkipsOutOfRange(t *testing.T) {
	s := DefaultState()
	for _, step := range []int{0, 5, 9} {
		_, ok := s.ToggleStep("track-1", step)
		require.True(t, ok)
	}

	cleared, ok := s.BatchClearSteps("track-1", []int{0, 5, -1, 999})
	require.True(t, ok)
	assert.Equal(t, []int{0, 5}, cleared)
	tr := s.FindTrack("track-1")
	assert.False(t, tr.Steps[0])
	assert.False(t, tr.Steps[5])
	assert.True(t, tr.Steps[9])
}

func TestBatchSetParameterLocks(t *testing.T) {
	s := DefaultState()
	pitch := 3
	entries := []PlockEntry{
		{Step: 0, Lock: &ParameterLock{Pitch: &pitch}},
		{Step: MaxSteps, Lock: &ParameterLock{Pitch: &pitch}},
		{Step: 4, Lock: nil},
	}

	applied, ok := s.BatchSetParameterLocks("track-1", entries)
	require.True(t, ok)
	assert.Len(t, applied, 2)
	assert.NotNil(t, s.FindTrack("track-1").ParameterLocks[0])
	assert.Nil(t, s.FindTrack("track-1").ParameterLocks[4])
}

func TestStateCloneIsIndependent(t *testing.T) {
	s := DefaultState()
	pitch := 5
	require.True(t, s.SetParameterLock("track-1", 2, &ParameterLock{Pitch: &pitch}))
	s.Effects = &EffectsState{Delay: DelaySettings{Time: "8n"}}
	s.Scale = &Scale{Root: "D", ScaleID: "dorian"}
	s.LoopRegion = &LoopRegion{Start: 4, End: 12}
	sw := 30
	s.Tracks[0].Swing = &sw
	s.Tracks[0].FMParams = &FMParams{Harmonicity: 2, ModulationIndex: 5}

	clone := s.Clone()
	require.Empty(t, cmp.Diff(s, clone))

	_, ok := clone.ToggleStep("track-1", 0)
	require.True(t, ok)
	*clone.Tracks[0].ParameterLocks[2].Pitch = -5
	clone.Effects.Delay.Time = "4n"
	*clone.Tracks[0].Swing = 99

	assert.False(t, s.Tracks[0].Steps[0])
	assert.Equal(t, 5, *s.Tracks[0].ParameterLocks[2].Pitch)
	assert.Equal(t, "8n", s.Effects.Delay.Time)
	assert.Equal(t, 30, *s.Tracks[0].Swing)
}
