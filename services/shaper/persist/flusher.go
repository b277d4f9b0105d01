// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/gqlshape/services/shaper/ledger"
)

// =============================================================================
// Snapshot Flusher
// =============================================================================

// SnapshotSource supplies the ledger state to persist.
type SnapshotSource interface {
	Snapshot() ledger.Snapshot
}

// FlushObserver is told about every completed flush.
type FlushObserver func(duration time.Duration, err error)

// FlusherConfig holds configuration for the Flusher.
//
// # Fields
//
//   - Interval: Minimum time between two flushes. Zero writes after every
//     request, still asynchronously.
//   - Timeout: Deadline for a single Save. Zero means no deadline.
//   - Observer: Optional hook called after each flush.
type FlusherConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Observer FlushObserver
}

// Flusher writes ledger snapshots to a Backend in the background.
//
// # Description
//
// RequestFlush marks the ledger dirty and returns immediately. Requests
// arriving while a flush is pending are coalesced into it, and flushes are
// spaced at least Interval apart by a rate limiter. Stop performs one
// final flush so that nothing recorded before shutdown is lost.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
//
// # Limitations
//
//   - Observations recorded after the last flush are lost on a crash.
type Flusher struct {
	source  SnapshotSource
	backend Backend
	config  FlusherConfig
	logger  *slog.Logger

	limiter *rate.Limiter
	pending chan struct{}

	flushMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewFlusher creates a Flusher. Call Start to begin writing.
func NewFlusher(source SnapshotSource, backend Backend, config FlusherConfig, logger *slog.Logger) *Flusher {
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if config.Interval > 0 {
		limit = rate.Every(config.Interval)
	}

	return &Flusher{
		source:  source,
		backend: backend,
		config:  config,
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
		pending: make(chan struct{}, 1),
	}
}

// RequestFlush implements ledger.FlushRequester. It never blocks.
func (f *Flusher) RequestFlush() {
	select {
	case f.pending <- struct{}{}:
	default:
	}
}

// Start launches the background loop.
//
// # Outputs
//
//   - error: Non-nil if the flusher is already running.
func (f *Flusher) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return errors.New("flusher is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	f.running = true
	f.cancel = cancel
	f.stopped = make(chan struct{})

	f.logger.Info("ledger flusher starting",
		"target", f.backend.String(),
		"interval", f.config.Interval.String())

	go f.runLoop(loopCtx, f.stopped)
	return nil
}

// Stop halts the loop and writes a final snapshot.
//
// # Description
//
// Waits for an in-progress flush to finish, then saves the current ledger
// state once more using ctx. Safe to call multiple times; only the first
// call after Start performs the final flush.
func (f *Flusher) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.cancel()
	stopped := f.stopped
	f.mu.Unlock()

	select {
	case <-stopped:
	case <-ctx.Done():
		return fmt.Errorf("wait for flusher: %w", ctx.Err())
	}

	f.logger.Info("ledger flusher stopping, writing final snapshot")
	return f.Flush(ctx)
}

// Flush saves the current ledger state synchronously.
func (f *Flusher) Flush(ctx context.Context) error {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	if f.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := f.backend.Save(ctx, f.source.Snapshot())
	elapsed := time.Since(start)

	if f.config.Observer != nil {
		f.config.Observer(elapsed, err)
	}
	if err != nil {
		return fmt.Errorf("save ledger to %s: %w", f.backend.String(), err)
	}

	f.logger.Debug("ledger flushed",
		"target", f.backend.String(),
		"duration_ms", elapsed.Milliseconds())
	return nil
}

// runLoop waits for flush requests until ctx is cancelled.
func (f *Flusher) runLoop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.pending:
		}

		if err := f.limiter.Wait(ctx); err != nil {
			// cancelled while spacing out writes; Stop flushes
			return
		}
		if err := f.Flush(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("failed to persist ledger", "error", err)
		}
	}
}

var _ ledger.FlushRequester = (*Flusher)(nil)
