package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/gridjam/internal/domain/session/model"
	"github.com/ManuGH/gridjam/internal/domain/session/store"
	"github.com/ManuGH/gridjam/internal/protocol"
)

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	sess := model.NewSession("sess-1", model.NowMs())
	e := New(sess, st, "memory", nil)
	t.Cleanup(func() {
		select {
		case <-e.Done():
		default:
			e.Stop()
		}
	})
	return e, st
}

func recv(t *testing.T, out <-chan []byte) *protocol.ServerMessage {
	t.Helper()
	select {
	case data, ok := <-out:
		require.True(t, ok, "stream closed while waiting for a message")
		var msg protocol.ServerMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return &msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

// recvType drains until a message of the wanted type arrives.
func recvType(t *testing.T, out <-chan []byte, wantType string) *protocol.ServerMessage {
	t.Helper()
	for i := 0; i < 1000; i++ {
		msg := recv(t, out)
		if msg.Type == wantType {
			return msg
		}
	}
	t.Fatalf("no %s message within 1000 frames", wantType)
	return nil
}

func deliverJSON(e *Engine, playerID, frame string) {
	e.Deliver(playerID, []byte(frame))
}

func TestAttachSendsStateSyncAndAnnouncesJoin(t *testing.T) {
	e, _ := newTestEngine(t)

	a, err := e.Attach("player-a")
	require.NoError(t, err)
	sync := recv(t, a.Out)
	assert.Equal(t, protocol.BcastStateSync, sync.Type)
	require.NotNil(t, sync.State)
	assert.Len(t, sync.State.Tracks, 4)
	require.NotNil(t, sync.PlayerCount)
	assert.Equal(t, 1, *sync.PlayerCount)

	b, err := e.Attach("player-b")
	require.NoError(t, err)
	assert.Equal(t, protocol.BcastStateSync, recv(t, b.Out).Type)

	joined := recv(t, a.Out)
	assert.Equal(t, protocol.BcastPlayerJoined, joined.Type)
	assert.Equal(t, "player-b", joined.PlayerID)
	require.NotNil(t, joined.Player)
	assert.NotEmpty(t, joined.Player.Name)
}

func TestAttachRejectsWhenSessionFull(t *testing.T) {
	e, _ := newTestEngine(t)

	for i := 0; i < model.MaxStreamsPerSession; i++ {
		_, err := e.Attach(fmt.Sprintf("player-%d", i))
		require.NoError(t, err)
	}
	_, err := e.Attach("player-overflow")
	assert.ErrorIs(t, err, ErrSessionFull)
}

func TestToggleStepBroadcastsWithSequence(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out) // state_sync
	b, err := e.Attach("player-b")
	require.NoError(t, err)
	recv(t, b.Out) // state_sync
	recv(t, a.Out) // player_joined

	deliverJSON(e, "player-a", `{"type":"toggle_step","seq":7,"trackId":"track-1","step":3}`)

	for _, out := range []<-chan []byte{a.Out, b.Out} {
		msg := recv(t, out)
		assert.Equal(t, protocol.BcastStepToggled, msg.Type)
		require.NotNil(t, msg.Seq)
		assert.Equal(t, uint64(1), *msg.Seq)
		require.NotNil(t, msg.ClientSeq)
		assert.Equal(t, uint64(7), *msg.ClientSeq)
		assert.Equal(t, "player-a", msg.PlayerID)
		assert.Equal(t, "track-1", msg.TrackID)
		require.NotNil(t, msg.Step)
		assert.Equal(t, 3, *msg.Step)
		require.NotNil(t, msg.On)
		assert.True(t, *msg.On)
	}
}

func TestServerSequenceIsMonotonicAndSnapshotEmbedsIt(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	deliverJSON(e, "player-a", `{"type":"set_tempo","seq":1,"tempo":140}`)
	first := recv(t, a.Out)
	require.NotNil(t, first.Seq)
	assert.Equal(t, uint64(1), *first.Seq)

	// A snapshot taken between two mutations pins the sequence it reflects,
	// so the client can discard the stale confirmation that follows.
	deliverJSON(e, "player-a", `{"type":"request_snapshot"}`)
	snap := recvType(t, a.Out, protocol.BcastSnapshot)
	require.NotNil(t, snap.ServerSeq)
	assert.Equal(t, uint64(1), *snap.ServerSeq)
	assert.Equal(t, "player-a", snap.PlayerID)
	require.NotNil(t, snap.State)
	assert.Equal(t, 140, snap.State.Tempo)

	deliverJSON(e, "player-a", `{"type":"toggle_step","seq":2,"trackId":"track-1","step":0}`)
	second := recvType(t, a.Out, protocol.BcastStepToggled)
	require.NotNil(t, second.Seq)
	assert.Greater(t, *second.Seq, *snap.ServerSeq)
}

func TestDuplicateAddTrackStillBroadcasts(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	deliverJSON(e, "player-a", `{"type":"add_track","seq":3,"track":{"id":"track-1","name":"Dup","sampleId":"kick"}}`)
	msg := recv(t, a.Out)
	assert.Equal(t, protocol.BcastTrackAdded, msg.Type)
	require.NotNil(t, msg.Seq)
	require.NotNil(t, msg.ClientSeq)
	assert.Equal(t, uint64(3), *msg.ClientSeq)

	snap, err := e.SessionSnapshot()
	require.NoError(t, err)
	assert.Len(t, snap.State.Tracks, 4, "duplicate add must not grow the track table")
}

func TestDeleteAbsentTrackStillBroadcasts(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	deliverJSON(e, "player-a", `{"type":"delete_track","seq":9,"trackId":"no-such-track"}`)
	msg := recv(t, a.Out)
	assert.Equal(t, protocol.BcastTrackDeleted, msg.Type)
	require.NotNil(t, msg.ClientSeq)
	assert.Equal(t, uint64(9), *msg.ClientSeq)
}

func TestNumericTrackIDIsRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	deliverJSON(e, "player-a", `{"type":"toggle_step","trackId":0,"step":3}`)
	msg := recv(t, a.Out)
	assert.Equal(t, protocol.BcastError, msg.Type)
	assert.Nil(t, msg.Seq)
}

func TestPublishedSessionRejectsEveryMutatingCommand(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	already, err := e.Publish()
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, protocol.BcastSessionPublished, recv(t, a.Out).Type)

	deliverJSON(e, "player-a", `{"type":"state_hash"}`)
	before := recvType(t, a.Out, protocol.BcastStateHash)
	require.NotNil(t, before.ServerSeq)

	for _, cmd := range protocol.MutatingCommands() {
		deliverJSON(e, "player-a", fmt.Sprintf(`{"type":%q,"seq":1}`, cmd))
		msg := recv(t, a.Out)
		assert.Equal(t, protocol.BcastError, msg.Type, "command %s must be rejected", cmd)
		assert.Contains(t, msg.Message, "published")
	}

	deliverJSON(e, "player-a", `{"type":"state_hash"}`)
	after := recvType(t, a.Out, protocol.BcastStateHash)
	require.NotNil(t, after.ServerSeq)
	assert.Equal(t, *before.ServerSeq, *after.ServerSeq, "rejected commands must not consume sequence numbers")

	already, err = e.Publish()
	require.NoError(t, err)
	assert.True(t, already)
}

func TestPublishedSessionStillServesReadOnlyCommands(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	_, err = e.Publish()
	require.NoError(t, err)
	recv(t, a.Out) // session_published

	deliverJSON(e, "player-a", `{"type":"play"}`)
	started := recv(t, a.Out)
	assert.Equal(t, protocol.BcastPlaybackStarted, started.Type)

	deliverJSON(e, "player-a", `{"type":"request_snapshot"}`)
	snap := recvType(t, a.Out, protocol.BcastSnapshot)
	require.NotNil(t, snap.Immutable)
	assert.True(t, *snap.Immutable)
	assert.Equal(t, []string{"player-a"}, snap.PlayingPlayerIDs)
}

func TestMuteDoesNotChangeCanonicalHash(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	deliverJSON(e, "player-a", `{"type":"state_hash"}`)
	before := recvType(t, a.Out, protocol.BcastStateHash)
	require.NotEmpty(t, before.Hash)

	deliverJSON(e, "player-a", `{"type":"mute_track","trackId":"track-1","muted":true}`)
	muted := recv(t, a.Out)
	assert.Equal(t, protocol.BcastTrackMuted, muted.Type)
	assert.Nil(t, muted.Seq, "mute is informational, never sequenced")
	require.NotNil(t, muted.Muted)
	assert.True(t, *muted.Muted)

	deliverJSON(e, "player-a", `{"type":"state_hash"}`)
	after := recvType(t, a.Out, protocol.BcastStateHash)
	assert.Equal(t, before.Hash, after.Hash, "local-only flags must not be hashed")
}

func TestPlayStopAreIdempotentPresenceBroadcasts(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	deliverJSON(e, "player-a", `{"type":"play"}`)
	assert.Equal(t, protocol.BcastPlaybackStarted, recv(t, a.Out).Type)

	// A second play while already playing is silent.
	deliverJSON(e, "player-a", `{"type":"play"}`)
	deliverJSON(e, "player-a", `{"type":"stop"}`)
	assert.Equal(t, protocol.BcastPlaybackStopped, recv(t, a.Out).Type)
}

func TestDetachWhilePlayingBroadcastsPlaybackStopped(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)
	b, err := e.Attach("player-b")
	require.NoError(t, err)
	recv(t, b.Out)
	recv(t, a.Out) // player_joined

	deliverJSON(e, "player-b", `{"type":"play"}`)
	recv(t, a.Out) // playback_started
	recv(t, b.Out)

	e.Detach("player-b", "test")
	stopped := recv(t, a.Out)
	assert.Equal(t, protocol.BcastPlaybackStopped, stopped.Type)
	assert.Equal(t, "player-b", stopped.PlayerID)
	left := recv(t, a.Out)
	assert.Equal(t, protocol.BcastPlayerLeft, left.Type)
	assert.Equal(t, "player-b", left.PlayerID)
}

func TestCursorMoveSkipsSender(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)
	b, err := e.Attach("player-b")
	require.NoError(t, err)
	recv(t, b.Out)
	recv(t, a.Out) // player_joined

	deliverJSON(e, "player-a", `{"type":"cursor_move","position":{"x":50,"y":120.5}}`)
	moved := recv(t, b.Out)
	assert.Equal(t, protocol.BcastCursorMoved, moved.Type)
	assert.Equal(t, "player-a", moved.PlayerID)
	require.NotNil(t, moved.Position)
	assert.Equal(t, 100.0, moved.Position.Y, "coordinates clamp to [0,100]")

	// Sender must not receive an echo; a follow-up round trip proves the
	// sender's channel stayed quiet.
	deliverJSON(e, "player-a", `{"type":"state_hash"}`)
	assert.Equal(t, protocol.BcastStateHash, recv(t, a.Out).Type)
}

func TestClockSyncEchoesClientTime(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	deliverJSON(e, "player-a", `{"type":"clock_sync_request","clientTime":1234.5}`)
	msg := recv(t, a.Out)
	assert.Equal(t, protocol.BcastClockSyncResponse, msg.Type)
	require.NotNil(t, msg.ClientTime)
	assert.Equal(t, 1234.5, *msg.ClientTime)
	require.NotNil(t, msg.ServerTime)
	assert.Greater(t, *msg.ServerTime, int64(0))
}

func TestMutationsWriteThroughToStore(t *testing.T) {
	e, st := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	deliverJSON(e, "player-a", `{"type":"set_tempo","seq":1,"tempo":150}`)
	recv(t, a.Out)

	persisted, err := st.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 150, persisted.State.Tempo)
}

// failingStore fails the first N saves, then delegates. It exercises the
// dirty-flag contract: a failed write keeps the session dirty so the
// last-leave flush retries it.
type failingStore struct {
	*store.MemoryStore
	failures int
}

func (f *failingStore) Save(ctx context.Context, sess *model.Session) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("simulated store outage")
	}
	return f.MemoryStore.Save(ctx, sess)
}

func TestLastLeaveFlushRetriesFailedSave(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	st := &failingStore{MemoryStore: store.NewMemoryStore(), failures: 1}
	sess := model.NewSession("sess-flush", model.NowMs())
	e := New(sess, st, "memory", nil)

	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	deliverJSON(e, "player-a", `{"type":"set_tempo","seq":1,"tempo":150}`)
	// Broadcast first, then the persistence error frame for the initiator.
	assert.Equal(t, protocol.BcastTempoSet, recv(t, a.Out).Type)
	errFrame := recv(t, a.Out)
	assert.Equal(t, protocol.BcastError, errFrame.Type)

	e.Detach("player-a", "test")
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after last detach")
	}

	persisted, err := st.Load(context.Background(), "sess-flush")
	require.NoError(t, err)
	assert.Equal(t, 150, persisted.State.Tempo, "flush on last leave must retry the dirty write")
}

func TestEngineStopsAfterLastDetach(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	st := store.NewMemoryStore()
	sess := model.NewSession("sess-stop", model.NowMs())
	e := New(sess, st, "memory", nil)

	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	e.Detach("player-a", "test")
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after last detach")
	}

	// Out closes when the engine lets go of the stream.
	for range a.Out {
	}
	_, err = e.Attach("player-b")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStopClosesAllStreams(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	st := store.NewMemoryStore()
	sess := model.NewSession("sess-shutdown", model.NowMs())
	stopped := make(chan struct{})
	e := New(sess, st, "memory", func() { close(stopped) })

	a, err := e.Attach("player-a")
	require.NoError(t, err)
	b, err := e.Attach("player-b")
	require.NoError(t, err)

	e.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("onStop did not fire")
	}
	for range a.Out {
	}
	for range b.Out {
	}
}

func TestRateLimitedStreamIsClosed(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	// Burst allowance is 120; well past that the stream must be cut.
	for i := 0; i < 200; i++ {
		deliverJSON(e, "player-a", `{"type":"clock_sync_request","clientTime":1}`)
	}

	closed := false
	deadline := time.After(5 * time.Second)
	for !closed {
		select {
		case _, ok := <-a.Out:
			if !ok {
				closed = true
			}
		case <-deadline:
			t.Fatal("stream was not closed despite exceeding the rate limit")
		}
	}
}

func TestSlowConsumerIsClosedInsteadOfBlocking(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	b, err := e.Attach("player-b")
	require.NoError(t, err)
	recv(t, b.Out)
	c, err := e.Attach("player-c")
	require.NoError(t, err)
	d, err := e.Attach("player-d")
	require.NoError(t, err)

	// b never drains. Cursor traffic from the other three overflows b's
	// buffer; each sender stays inside its own rate-limit burst. The
	// engine must close b and keep serving everyone else.
	frame := `{"type":"cursor_move","position":{"x":1,"y":1}}`
	senders := []string{"player-a", "player-c", "player-d"}
	for i := 0; i < (outboundBuffer+60)/len(senders)+1; i++ {
		for _, id := range senders {
			deliverJSON(e, id, frame)
		}
		if i%10 == 0 {
			drain(a.Out)
			drain(c.Out)
			drain(d.Out)
		}
	}

	closed := false
	deadline := time.After(5 * time.Second)
	for !closed {
		select {
		case _, ok := <-b.Out:
			if !ok {
				closed = true
			}
		case <-deadline:
			t.Fatal("slow consumer was not closed")
		}
	}

	drain(a.Out)
	deliverJSON(e, "player-a", `{"type":"state_hash"}`)
	msg := recvType(t, a.Out, protocol.BcastStateHash)
	assert.NotEmpty(t, msg.Hash)
}

func drain(out <-chan []byte) {
	for {
		select {
		case <-out:
		default:
			return
		}
	}
}

func TestReplaceStateFansOutStateSync(t *testing.T) {
	e, st := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	next := model.DefaultState()
	next.Tempo = 95
	name := "Renamed Jam"
	require.NoError(t, e.ReplaceState(next, &name))

	sync := recv(t, a.Out)
	assert.Equal(t, protocol.BcastStateSync, sync.Type)
	require.NotNil(t, sync.State)
	assert.Equal(t, 95, sync.State.Tempo)

	persisted, err := st.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 95, persisted.State.Tempo)
	assert.Equal(t, "Renamed Jam", persisted.Name)
}

func TestReplaceStateRejectedWhenPublished(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	_, err = e.Publish()
	require.NoError(t, err)

	err = e.ReplaceState(model.DefaultState(), nil)
	assert.Error(t, err)
}

func TestUnknownCommandGetsErrorFrame(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	deliverJSON(e, "player-a", `{"type":"reticulate_splines"}`)
	msg := recv(t, a.Out)
	assert.Equal(t, protocol.BcastError, msg.Type)
	assert.Contains(t, msg.Message, "unknown message type")
}

func TestParseErrorClosesStream(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)
	b, err := e.Attach("player-b")
	require.NoError(t, err)
	recv(t, b.Out)
	recv(t, a.Out) // player_joined

	e.Deliver("player-a", []byte(`{not json`))
	left := recvType(t, b.Out, protocol.BcastPlayerLeft)
	assert.Equal(t, "player-a", left.PlayerID)
	for range a.Out {
	}
}

func TestBatchOperationsApplyAtomically(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Attach("player-a")
	require.NoError(t, err)
	recv(t, a.Out)

	deliverJSON(e, "player-a", `{"type":"batch_set_parameter_locks","seq":1,"trackId":"track-1","locks":[{"step":0,"lock":{"pitch":3}},{"step":5,"lock":{"volume":0.5}}]}`)
	set := recv(t, a.Out)
	assert.Equal(t, protocol.BcastParameterLocksBatchSet, set.Type)
	require.Len(t, set.Locks, 2)
	assert.Equal(t, 0, set.Locks[0].Step)

	deliverJSON(e, "player-a", `{"type":"batch_clear_steps","seq":2,"trackId":"track-1","steps":[0,5,999]}`)
	cleared := recv(t, a.Out)
	assert.Equal(t, protocol.BcastStepsBatchCleared, cleared.Type)
	assert.Equal(t, []int{0, 5}, cleared.Steps, "out-of-range indexes are skipped")

	snap, err := e.SessionSnapshot()
	require.NoError(t, err)
	track := snap.State.FindTrack("track-1")
	require.NotNil(t, track)
	assert.Nil(t, track.ParameterLocks[0])
	assert.Nil(t, track.ParameterLocks[5])
}
