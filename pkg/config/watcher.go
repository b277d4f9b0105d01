// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the Watcher waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// ReloadHandler receives every successfully reloaded configuration.
type ReloadHandler func(Config)

// Watcher reloads a config file when it changes.
//
// # Description
//
// The file's directory is watched rather than the file itself, so editors
// that replace the file through a rename are still seen. Events for the
// file are debounced; when the window expires the file is loaded and
// validated with the same environment as the initial Load. Invalid
// versions are logged and skipped, leaving the previous config in effect.
//
// # Thread Safety
//
// The handler is called from the Run goroutine, one call at a time.
type Watcher struct {
	path     string
	lookup   LookupFunc
	handler  ReloadHandler
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a Watcher for path.
//
// # Inputs
//
//   - path: Config file to watch. Its directory must exist.
//   - lookup: Environment used on reload. Nil uses none.
//   - handler: Called with each valid reloaded Config.
//   - logger: Logger. Nil uses slog.Default().
func NewWatcher(path string, lookup LookupFunc, handler ReloadHandler, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		lookup:   lookup,
		handler:  handler,
		debounce: DefaultDebounce,
		logger:   logger,
		watcher:  fw,
	}, nil
}

// SetDebounce changes the debounce window. Call before Run.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run processes file events until ctx is cancelled.
//
// # Outputs
//
//   - error: Always nil after cancellation; the underlying watcher is
//     closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

// Close stops watching. Run closes the watcher itself on return, so Close
// is only needed when Run is never called.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	cfg, err := LoadWithEnv(w.path, w.lookup)
	if err != nil {
		w.logger.Warn("ignoring invalid config reload",
			"path", w.path,
			"error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	if w.handler != nil {
		w.handler(cfg)
	}
}
