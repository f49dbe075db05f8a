// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package registry owns engine lifecycle: sessions are materialized when the
// first stream arrives and evicted when their engine hibernates. Revival of
// the same session is collapsed through singleflight so concurrent joiners
// share one store load.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/gridjam/internal/domain/session/engine"
	"github.com/ManuGH/gridjam/internal/domain/session/model"
	"github.com/ManuGH/gridjam/internal/domain/session/store"
	"github.com/ManuGH/gridjam/internal/log"
)

// ErrClosed is returned after Shutdown.
var ErrClosed = errors.New("session registry closed")

// Registry maps session ids to live engines.
type Registry struct {
	store   store.Store
	backend string
	logger  zerolog.Logger

	group singleflight.Group

	// ops serializes map access and shutdown; the map itself is only
	// touched by the loop goroutine.
	ops      chan func(map[string]*engine.Engine)
	closed   chan struct{}
	stopOnce sync.Once
}

// New starts the registry loop.
func New(st store.Store, backend string) *Registry {
	r := &Registry{
		store:   st,
		backend: backend,
		logger: log.Derive(func(c *zerolog.Context) {
			*c = c.Str(log.FieldComponent, "registry")
		}),
		ops:    make(chan func(map[string]*engine.Engine)),
		closed: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Registry) loop() {
	engines := make(map[string]*engine.Engine)
	for {
		select {
		case fn := <-r.ops:
			fn(engines)
		case <-r.closed:
			return
		}
	}
}

func (r *Registry) do(fn func(map[string]*engine.Engine)) bool {
	done := make(chan struct{})
	select {
	case <-r.closed:
		return false
	case r.ops <- func(m map[string]*engine.Engine) {
		fn(m)
		close(done)
	}:
		<-done
		return true
	}
}

// Acquire returns the live engine for sessionID, reviving it from the store
// when cold. A session that does not exist durably is created fresh.
func (r *Registry) Acquire(ctx context.Context, sessionID string) (*engine.Engine, error) {
	// An engine can hibernate between lookup and attach; callers retry on
	// engine.ErrStopped, so one extra round here is enough.
	for attempt := 0; attempt < 3; attempt++ {
		e, err := r.acquireOnce(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		select {
		case <-e.Done():
			continue
		default:
			return e, nil
		}
	}
	return nil, fmt.Errorf("session %s: engine kept stopping during acquire", sessionID)
}

func (r *Registry) acquireOnce(ctx context.Context, sessionID string) (*engine.Engine, error) {
	var existing *engine.Engine
	if !r.do(func(m map[string]*engine.Engine) { existing = m[sessionID] }) {
		return nil, ErrClosed
	}
	if existing != nil {
		return existing, nil
	}

	v, err, _ := r.group.Do(sessionID, func() (any, error) {
		return r.revive(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*engine.Engine), nil
}

func (r *Registry) revive(ctx context.Context, sessionID string) (*engine.Engine, error) {
	// Re-check under the loop: a concurrent Do may have finished first.
	var existing *engine.Engine
	if !r.do(func(m map[string]*engine.Engine) { existing = m[sessionID] }) {
		return nil, ErrClosed
	}
	if existing != nil {
		select {
		case <-existing.Done():
		default:
			return existing, nil
		}
	}

	sess, err := r.store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		sess = model.NewSession(sessionID, model.NowMs())
		model.RepairStateInvariants(sess.State)
		r.logger.Info().
			Str(log.FieldSessionID, sessionID).
			Str(log.FieldEvent, "registry.create").
			Msg("session created")
	case err != nil:
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	default:
		// Durable state may predate the current invariants.
		model.RepairStateInvariants(sess.State)
		r.logger.Debug().
			Str(log.FieldSessionID, sessionID).
			Str(log.FieldEvent, "registry.revive").
			Msg("session revived from store")
	}

	eng := engine.New(sess, r.store, r.backend, func() { r.evict(sessionID) })
	inserted := r.do(func(m map[string]*engine.Engine) { m[sessionID] = eng })
	if !inserted {
		eng.Stop()
		return nil, ErrClosed
	}
	return eng, nil
}

func (r *Registry) evict(sessionID string) {
	r.do(func(m map[string]*engine.Engine) {
		if e, ok := m[sessionID]; ok {
			select {
			case <-e.Done():
				delete(m, sessionID)
			default:
				// A new engine for the same id already replaced this one.
			}
		}
	})
}

// Peek returns the live engine for sessionID without reviving it.
func (r *Registry) Peek(sessionID string) (*engine.Engine, bool) {
	var e *engine.Engine
	if !r.do(func(m map[string]*engine.Engine) { e = m[sessionID] }) {
		return nil, false
	}
	if e == nil {
		return nil, false
	}
	select {
	case <-e.Done():
		return nil, false
	default:
		return e, true
	}
}

// NewSessionID mints an id for a freshly created session.
func NewSessionID() string {
	return uuid.NewString()
}

// Shutdown stops every live engine, flushing their pending writes, and
// closes the registry. ctx bounds the drain. Safe to call more than once;
// only the first call drains, later calls return nil.
func (r *Registry) Shutdown(ctx context.Context) error {
	var err error
	r.stopOnce.Do(func() { err = r.shutdown(ctx) })
	return err
}

func (r *Registry) shutdown(ctx context.Context) error {
	var engines []*engine.Engine
	if !r.do(func(m map[string]*engine.Engine) {
		for _, e := range m {
			engines = append(engines, e)
		}
	}) {
		return nil // already closed
	}
	close(r.closed)

	done := make(chan struct{})
	go func() {
		for _, e := range engines {
			e.Stop()
		}
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info().
			Int(log.FieldStreamCount, len(engines)).
			Str(log.FieldEvent, "registry.shutdown").
			Msg("all engines stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine drain timeout: %w", ctx.Err())
	}
}
