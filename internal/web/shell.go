// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package web serves the single-page shell and shapes it for social
// crawlers.
package web

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/gridjam/internal/log"
)

// Shell holds the SPA index document in memory and optionally hot-reloads
// it when the file changes on disk.
type Shell struct {
	path    string
	content atomic.Pointer[[]byte]
	logger  zerolog.Logger
}

// LoadShell reads the shell document from path.
func LoadShell(path string) (*Shell, error) {
	s := &Shell{
		path: path,
		logger: log.Derive(func(c *zerolog.Context) {
			*c = c.Str(log.FieldComponent, "web")
		}),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Bytes returns the current shell document.
func (s *Shell) Bytes() []byte {
	return *s.content.Load()
}

func (s *Shell) reload() error {
	data, err := os.ReadFile(s.path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return fmt.Errorf("read shell %s: %w", s.path, err)
	}
	s.content.Store(&data)
	return nil
}

// Watch hot-reloads the shell when the file changes. Editors typically
// rename-replace, so the parent directory is watched rather than the file
// itself. Blocks until ctx is done.
func (s *Shell) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	target := filepath.Base(s.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("shell watcher closed")
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				// Keep serving the last good copy.
				s.logger.Warn().Err(err).Msg("shell reload failed")
				continue
			}
			s.logger.Info().Str(log.FieldEvent, "web.shell_reloaded").Msg("shell reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("shell watcher error channel closed")
			}
			s.logger.Warn().Err(err).Msg("shell watcher error")
		}
	}
}
