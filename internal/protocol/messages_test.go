package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutatingSetIsExact(t *testing.T) {
	want := []string{
		"toggle_step", "set_tempo", "set_swing", "set_parameter_lock",
		"add_track", "delete_track", "clear_track",
		"set_track_sample", "set_track_volume", "set_track_transpose",
		"set_track_step_count", "set_track_swing",
		"set_effects", "set_scale", "set_fm_params",
		"copy_sequence", "move_sequence",
		"set_session_name",
		"batch_clear_steps", "batch_set_parameter_locks",
		"set_loop_region",
	}
	assert.ElementsMatch(t, want, MutatingCommands())
	for _, c := range want {
		assert.True(t, IsStateMutating(c), "%s must classify as mutating", c)
	}
}

func TestReadOnlySetIsExact(t *testing.T) {
	want := []string{
		"play", "stop", "state_hash", "request_snapshot",
		"clock_sync_request", "cursor_move",
		"mute_track", "solo_track",
	}
	assert.ElementsMatch(t, want, ReadOnlyCommands())
	for _, c := range want {
		assert.False(t, IsStateMutating(c), "%s must not classify as mutating", c)
		assert.True(t, IsReadOnlyCommand(c))
	}
}

func TestBroadcastForIsTotalAndCollisionFree(t *testing.T) {
	seen := make(map[string]string)
	for _, cmd := range MutatingCommands() {
		bcast, ok := BroadcastFor(cmd)
		require.True(t, ok, "no broadcast for %s", cmd)
		require.NotEmpty(t, bcast)
		if prev, dup := seen[bcast]; dup {
			t.Fatalf("broadcast %q mapped from both %s and %s", bcast, prev, cmd)
		}
		seen[bcast] = cmd
	}
	// Read-only commands have no entry in the mutating table.
	for _, cmd := range ReadOnlyCommands() {
		_, ok := BroadcastFor(cmd)
		assert.False(t, ok, "read-only %s must not map to a mutating broadcast", cmd)
	}
}

func TestParseClientMessage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"toggle_step","seq":7,"trackId":"track-1","step":3}`))
	require.NoError(t, err)
	assert.Equal(t, "toggle_step", msg.Type)
	require.NotNil(t, msg.Seq)
	assert.Equal(t, uint64(7), *msg.Seq)

	id, ok := StringTrackID(msg.TrackID)
	require.True(t, ok)
	assert.Equal(t, "track-1", id)
}

func TestParseClientMessageRejectsGarbage(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseClientMessage([]byte(`{"seq":1}`))
	assert.Error(t, err, "missing type must reject")
}

func TestStringTrackIDRejectsNumericAddressing(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"toggle_step","trackId":0,"step":3}`))
	require.NoError(t, err)
	_, ok := StringTrackID(msg.TrackID)
	assert.False(t, ok, "numeric trackId must be rejected")

	_, ok = StringTrackID(nil)
	assert.False(t, ok)
	_, ok = StringTrackID("")
	assert.False(t, ok)
}

func TestMutatingBroadcastAlwaysCarriesSeq(t *testing.T) {
	clientSeq := uint64(4)
	b := NewMutatingBroadcast(BcastStepToggled, 12, &clientSeq, "p1")
	data, err := b.Encode()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, float64(12), wire["seq"])
	assert.Equal(t, float64(4), wire["clientSeq"])
	assert.Equal(t, "p1", wire["playerId"])
}

func TestInformationalEnvelopeOmitsSeq(t *testing.T) {
	e := NewError("nope")
	data, err := e.Encode()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	_, hasSeq := wire["seq"]
	assert.False(t, hasSeq)
	assert.Equal(t, "error", wire["type"])
	assert.Equal(t, "nope", wire["message"])
}
