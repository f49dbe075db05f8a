// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package engine implements the per-session authoritative state machine.
// One goroutine owns each session: every attach, detach and inbound frame
// funnels through a single inbox channel, so session state never needs a
// lock. Broadcast fan-out happens on buffered per-client channels and never
// blocks the actor.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/gridjam/internal/domain/session/model"
	"github.com/ManuGH/gridjam/internal/domain/session/store"
	"github.com/ManuGH/gridjam/internal/log"
	"github.com/ManuGH/gridjam/internal/metrics"
	"github.com/ManuGH/gridjam/internal/protocol"
)

var (
	// ErrSessionFull is returned when the stream cap is reached.
	ErrSessionFull = errors.New("session has reached the maximum number of streams")
	// ErrStopped is returned when the engine has already shut down.
	ErrStopped = errors.New("session engine stopped")
	// ErrNotAttached is returned for operations on unknown players.
	ErrNotAttached = errors.New("player is not attached")
	// ErrImmutable is returned for state replacement on a published session.
	ErrImmutable = errors.New("session is published")
)

const (
	// outboundBuffer is the per-client broadcast buffer. A client that
	// falls this far behind is closed rather than allowed to stall the
	// actor.
	outboundBuffer = 256

	// inboxBuffer absorbs bursts across all streams of one session.
	inboxBuffer = 512

	// saveTimeout bounds each durable write.
	saveTimeout = 5 * time.Second

	// Inbound per-stream rate limit.
	inboundRate  = 60
	inboundBurst = 120
)

// Stream is the engine side of one attached client. The api layer drains
// Out into the websocket; the channel closes when the engine detaches the
// stream.
type Stream struct {
	PlayerID string
	Player   model.PlayerInfo
	Out      <-chan []byte
}

type client struct {
	player  model.PlayerInfo
	out     chan []byte
	limiter *rate.Limiter
}

type opKind int

const (
	opAttach opKind = iota
	opDetach
	opFrame
	opSnapshot
	opReplaceState
	opPublish
	opBumpRemix
	opStop
)

type attachResult struct {
	stream *Stream
	err    error
}

type op struct {
	kind     opKind
	playerID string
	frame    []byte
	reason   string

	state *model.SessionState
	name  *string

	attachReply chan attachResult
	sessReply   chan *model.Session
	errReply    chan error
	boolReply   chan bool
}

// Engine is the single-writer actor for one session.
type Engine struct {
	sess         *model.Session
	store        store.Store
	storeBackend string
	logger       zerolog.Logger

	inbox chan op
	done  chan struct{}

	// Actor-owned; touched only inside run().
	clients       map[string]*client
	playing       map[string]struct{}
	serverSeq     uint64
	pendingKVSave bool

	onStop func()
}

// New creates the engine for a loaded session and starts its actor
// goroutine. onStop fires exactly once, after the final flush, when the
// last stream detaches or Stop is called.
func New(sess *model.Session, st store.Store, backend string, onStop func()) *Engine {
	e := &Engine{
		sess:         sess,
		store:        st,
		storeBackend: backend,
		logger: log.Derive(func(c *zerolog.Context) {
			*c = c.Str(log.FieldComponent, "engine").Str(log.FieldSessionID, sess.ID)
		}),
		inbox:   make(chan op, inboxBuffer),
		done:    make(chan struct{}),
		clients: make(map[string]*client),
		playing: make(map[string]struct{}),
		onStop:  onStop,
	}
	metrics.SessionsActive.Inc()
	go e.run()
	return e
}

// SessionID returns the session this engine owns.
func (e *Engine) SessionID() string { return e.sess.ID }

// Attach registers a new stream. The returned Stream's Out channel closes
// when the engine detaches the client (slow consumer, rate limit, Detach,
// shutdown).
func (e *Engine) Attach(playerID string) (*Stream, error) {
	reply := make(chan attachResult, 1)
	if !e.send(op{kind: opAttach, playerID: playerID, attachReply: reply}) {
		return nil, ErrStopped
	}
	select {
	case res := <-reply:
		return res.stream, res.err
	case <-e.done:
		return nil, ErrStopped
	}
}

// Detach removes a stream. Safe to call for already-detached players.
func (e *Engine) Detach(playerID, reason string) {
	e.send(op{kind: opDetach, playerID: playerID, reason: reason})
}

// Deliver hands one inbound frame to the actor. Frames for detached
// players are dropped inside the loop.
func (e *Engine) Deliver(playerID string, frame []byte) {
	e.send(op{kind: opFrame, playerID: playerID, frame: frame})
}

// SessionSnapshot returns a deep copy of the current session record.
func (e *Engine) SessionSnapshot() (*model.Session, error) {
	reply := make(chan *model.Session, 1)
	if !e.send(op{kind: opSnapshot, sessReply: reply}) {
		return nil, ErrStopped
	}
	select {
	case sess := <-reply:
		return sess, nil
	case <-e.done:
		return nil, ErrStopped
	}
}

// ReplaceState swaps in a validated full state (HTTP PUT path) and fans a
// state_sync to every stream. name, when non-nil, replaces the session name.
func (e *Engine) ReplaceState(state *model.SessionState, name *string) error {
	reply := make(chan error, 1)
	if !e.send(op{kind: opReplaceState, state: state, name: name, errReply: reply}) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrStopped
	}
}

// Publish flips the one-way immutable flag. It reports whether the session
// was already published.
func (e *Engine) Publish() (already bool, err error) {
	reply := make(chan bool, 1)
	errReply := make(chan error, 1)
	if !e.send(op{kind: opPublish, boolReply: reply, errReply: errReply}) {
		return false, ErrStopped
	}
	select {
	case already = <-reply:
		return already, <-errReply
	case <-e.done:
		return false, ErrStopped
	}
}

// BumpRemixCount increments the remix counter (remix of a hot parent).
func (e *Engine) BumpRemixCount() error {
	reply := make(chan error, 1)
	if !e.send(op{kind: opBumpRemix, errReply: reply}) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrStopped
	}
}

// Stop flushes pending writes, closes every stream and stops the actor.
// Used by graceful daemon shutdown; last-detach stops the engine on its own.
func (e *Engine) Stop() {
	e.send(op{kind: opStop})
	<-e.done
}

// Done exposes engine termination to the registry.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) send(o op) bool {
	select {
	case <-e.done:
		return false
	case e.inbox <- o:
		return true
	}
}

func (e *Engine) run() {
	defer func() {
		metrics.SessionsActive.Dec()
		if e.onStop != nil {
			e.onStop()
		}
	}()
	for o := range e.inbox {
		switch o.kind {
		case opAttach:
			o.attachReply <- e.handleAttach(o.playerID)
		case opDetach:
			e.handleDetach(o.playerID, o.reason)
			if e.maybeStop() {
				return
			}
		case opFrame:
			e.handleFrame(o.playerID, o.frame)
			// A slow-consumer close during fan-out may have emptied the
			// session.
			if e.maybeStop() {
				return
			}
		case opSnapshot:
			o.sessReply <- e.sess.Clone()
		case opReplaceState:
			o.errReply <- e.handleReplaceState(o.state, o.name)
		case opPublish:
			already, err := e.handlePublish()
			o.boolReply <- already
			o.errReply <- err
		case opBumpRemix:
			e.sess.RemixCount++
			e.sess.Touch(model.NowMs())
			e.pendingKVSave = true
			o.errReply <- e.saveNow()
		case opStop:
			e.shutdown()
			return
		}
	}
}

func (e *Engine) handleAttach(playerID string) attachResult {
	if len(e.clients) >= model.MaxStreamsPerSession {
		metrics.IncCommandError(metrics.ErrKindCapacity)
		metrics.IncStreamClose(metrics.CloseReasonCapacity)
		return attachResult{err: ErrSessionFull}
	}
	if _, dup := e.clients[playerID]; dup {
		// A reconnect raced its own detach; drop the stale stream first.
		e.handleDetach(playerID, "superseded")
	}

	now := model.NowMs()
	c := &client{
		player:  model.NewPlayerInfo(playerID, now),
		out:     make(chan []byte, outboundBuffer),
		limiter: rate.NewLimiter(rate.Limit(inboundRate), inboundBurst),
	}
	e.clients[playerID] = c
	e.sess.LastAccessedAt = now
	metrics.StreamsActive.Inc()

	count := len(e.clients)
	e.sendTo(c, &protocol.ServerMessage{
		Type:        protocol.BcastStateSync,
		State:       e.sess.State,
		PlayerCount: &count,
	})
	joined := &protocol.ServerMessage{
		Type:        protocol.BcastPlayerJoined,
		PlayerID:    playerID,
		Player:      &c.player,
		PlayerCount: &count,
	}
	e.broadcastExcept(playerID, joined)

	e.logger.Info().
		Str(log.FieldEvent, "engine.attach").
		Str(log.FieldPlayerID, playerID).
		Int(log.FieldStreamCount, count).
		Msg("stream attached")

	return attachResult{stream: &Stream{PlayerID: playerID, Player: c.player, Out: c.out}}
}

func (e *Engine) handleDetach(playerID, reason string) {
	c, ok := e.clients[playerID]
	if !ok {
		return
	}
	delete(e.clients, playerID)
	close(c.out)
	metrics.StreamsActive.Dec()

	if _, wasPlaying := e.playing[playerID]; wasPlaying {
		delete(e.playing, playerID)
		e.broadcast(&protocol.ServerMessage{
			Type:     protocol.BcastPlaybackStopped,
			PlayerID: playerID,
		})
	}
	count := len(e.clients)
	e.broadcast(&protocol.ServerMessage{
		Type:        protocol.BcastPlayerLeft,
		PlayerID:    playerID,
		PlayerCount: &count,
	})

	e.logger.Info().
		Str(log.FieldEvent, "engine.detach").
		Str(log.FieldPlayerID, playerID).
		Str("reason", reason).
		Int(log.FieldStreamCount, count).
		Msg("stream detached")
}

// maybeStop flushes and stops the engine after the last stream leaves.
func (e *Engine) maybeStop() bool {
	if len(e.clients) > 0 {
		return false
	}
	e.flush()
	e.logger.Info().Str(log.FieldEvent, "engine.hibernate").Msg("last stream left, engine stopping")
	close(e.done)
	return true
}

func (e *Engine) shutdown() {
	for id, c := range e.clients {
		delete(e.clients, id)
		close(c.out)
		metrics.StreamsActive.Dec()
		metrics.IncStreamClose(metrics.CloseReasonShutdown)
	}
	e.playing = map[string]struct{}{}
	e.flush()
	close(e.done)
}

// flush writes through any pending state before hibernation.
func (e *Engine) flush() {
	if !e.pendingKVSave {
		return
	}
	if err := e.saveNow(); err != nil {
		e.logger.Error().Err(err).
			Str(log.FieldEvent, "engine.flush_failed").
			Msg("final flush failed; durable copy is stale")
	}
}

func (e *Engine) saveNow() error {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	start := time.Now()
	err := e.store.Save(ctx, e.sess)
	metrics.StoreSaveDuration.WithLabelValues(e.storeBackend).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreSaveFailuresTotal.WithLabelValues(e.storeBackend).Inc()
		return err
	}
	e.pendingKVSave = false
	return nil
}

func (e *Engine) handleReplaceState(state *model.SessionState, name *string) error {
	if e.sess.Immutable {
		return ErrImmutable
	}
	model.RepairStateInvariants(state)
	e.sess.State = state
	if name != nil {
		e.sess.Name = *name
	}
	e.sess.Touch(model.NowMs())
	e.pendingKVSave = true

	count := len(e.clients)
	e.broadcast(&protocol.ServerMessage{
		Type:        protocol.BcastStateSync,
		State:       e.sess.State,
		PlayerCount: &count,
	})
	return e.saveNow()
}

func (e *Engine) handlePublish() (bool, error) {
	if e.sess.Immutable {
		return true, nil
	}
	e.sess.Immutable = true
	e.sess.Touch(model.NowMs())
	e.pendingKVSave = true
	e.broadcast(&protocol.ServerMessage{Type: protocol.BcastSessionPublished})
	return false, e.saveNow()
}

// sendTo queues one message for one client; a full buffer closes the client.
func (e *Engine) sendTo(c *client, msg *protocol.ServerMessage) {
	data, err := msg.Encode()
	if err != nil {
		e.logger.Error().Err(err).Str(log.FieldMsgType, msg.Type).Msg("encode broadcast")
		return
	}
	e.sendRaw(c, data)
}

func (e *Engine) sendRaw(c *client, data []byte) bool {
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

// broadcast fans a message to every attached stream. Slow consumers are
// collected and detached after the loop so the client map stays stable.
func (e *Engine) broadcast(msg *protocol.ServerMessage) {
	e.broadcastExcept("", msg)
}

func (e *Engine) broadcastExcept(skipPlayerID string, msg *protocol.ServerMessage) {
	data, err := msg.Encode()
	if err != nil {
		e.logger.Error().Err(err).Str(log.FieldMsgType, msg.Type).Msg("encode broadcast")
		return
	}
	metrics.IncBroadcast(msg.Type)

	var slow []string
	for id, c := range e.clients {
		if id == skipPlayerID {
			continue
		}
		if !e.sendRaw(c, data) {
			slow = append(slow, id)
		}
	}
	for _, id := range slow {
		metrics.IncStreamClose(metrics.CloseReasonSlowConsumer)
		e.logger.Warn().
			Str(log.FieldEvent, "engine.slow_consumer").
			Str(log.FieldPlayerID, id).
			Msg("outbound buffer full, closing stream")
		e.handleDetach(id, "slow consumer")
	}
}

func (e *Engine) sendError(playerID, message string) {
	if c, ok := e.clients[playerID]; ok {
		e.sendTo(c, protocol.NewError(message))
	}
}

func (e *Engine) playingIDs() []string {
	out := make([]string, 0, len(e.playing))
	for id := range e.playing {
		out = append(out, id)
	}
	return out
}

func (e *Engine) playersList() []model.PlayerInfo {
	out := make([]model.PlayerInfo, 0, len(e.clients))
	for _, c := range e.clients {
		out = append(out, c.player)
	}
	return out
}
