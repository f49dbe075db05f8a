// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"fmt"
	"path/filepath"
)

// Options carries the backend selection and its connection parameters.
type Options struct {
	Backend       string // "badger" (default), "sqlite", "redis", "file", "memory"
	DataDir       string // base directory for disk-backed stores
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open creates the configured store backend.
func Open(opts Options) (Store, error) {
	backend := opts.Backend
	if backend == "" {
		backend = "badger"
	}
	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "badger":
		return OpenBadgerStore(filepath.Join(opts.DataDir, "sessions.badger"))
	case "sqlite":
		return NewSqliteStore(filepath.Join(opts.DataDir, "sessions.db"))
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		return NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB), nil
	case "file":
		return NewFileStore(filepath.Join(opts.DataDir, "sessions"))
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
