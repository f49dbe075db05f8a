// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store provides durable session persistence behind a small
// interface. The engine calls Save write-through on every mutation and a
// final flush on last-detach, so backends only need plain keyed records.
package store

import (
	"context"
	"errors"

	"github.com/ManuGH/gridjam/internal/domain/session/model"
)

// ErrNotFound is returned by Load when no record exists for the id.
var ErrNotFound = errors.New("session not found")

// Store persists full session records keyed by session id.
type Store interface {
	// Load returns the session or ErrNotFound.
	Load(ctx context.Context, id string) (*model.Session, error)
	// Save writes the full record, replacing any previous one.
	Save(ctx context.Context, sess *model.Session) error
	// Delete removes the record; deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// Ping verifies the backend is reachable (readiness checks).
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// missToNotFound normalizes a backend miss into ErrNotFound while keeping
// real failures distinct. Helper for backends with their own miss sentinel.
func missToNotFound(err error, miss error) error {
	if errors.Is(err, miss) {
		return ErrNotFound
	}
	return err
}
