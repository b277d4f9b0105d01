// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package persist stores ledger snapshots durably.
//
// # Description
//
// A Backend loads and saves a whole ledger.Snapshot. Four drivers exist:
//
//	file   - JSON document, compatible with learned_patterns.json
//	badger - embedded key-value store, one CBOR value per entry
//	sqlite - two tables, upserted in one transaction
//	none   - nothing is persisted
//
// The Flusher sits between the ledger and a Backend. Request handlers ask
// it for a write and never wait for one.
//
// Load failures are never fatal: callers start from an empty ledger.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/gqlshape/services/shaper/ledger"
)

// Driver names accepted by Open.
const (
	DriverFile   = "file"
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
	DriverNone   = "none"
)

var (
	// ErrCorruptSnapshot is returned by Load when stored data cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt ledger snapshot")

	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown persistence driver")
)

// Backend loads and saves ledger snapshots.
//
// # Thread Safety
//
// Implementations must tolerate concurrent Load and Save calls, though the
// Flusher never issues two Saves at once.
type Backend interface {
	// Load returns the stored snapshot. A backend with nothing stored yet
	// returns an empty snapshot and no error.
	Load(ctx context.Context) (ledger.Snapshot, error)

	// Save replaces the stored snapshot.
	Save(ctx context.Context, snap ledger.Snapshot) error

	// Close releases resources held by the backend.
	Close() error

	// String describes the storage target for logs.
	String() string
}

// Config selects and configures a Backend.
//
// # Fields
//
//   - Driver: One of DriverFile, DriverBadger, DriverSQLite, DriverNone.
//     Empty selects DriverFile.
//   - Path: File path (file, sqlite) or directory (badger).
//   - SyncWrites: Badger only; fsync every commit.
//   - GCInterval: Badger only; value log GC period. Zero disables GC.
//   - Logger: Optional logger for backend internals.
type Config struct {
	Driver     string
	Path       string
	SyncWrites bool
	GCInterval time.Duration
	Logger     *slog.Logger
}

// Open creates the Backend named by cfg.Driver.
//
// # Outputs
//
//   - Backend: Ready to use. Caller must Close it.
//   - error: Wraps ErrUnknownDriver, or the driver's open error.
func Open(cfg Config) (Backend, error) {
	switch cfg.Driver {
	case "", DriverFile:
		return NewFileBackend(cfg.Path)
	case DriverBadger:
		return OpenBadger(BadgerConfig{
			Path:           cfg.Path,
			SyncWrites:     cfg.SyncWrites,
			GCInterval:     cfg.GCInterval,
			GCDiscardRatio: defaultGCDiscardRatio,
			Logger:         cfg.Logger,
		})
	case DriverSQLite:
		return OpenSQLite(cfg.Path)
	case DriverNone:
		return NopBackend{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// LoadOrEmpty loads the stored snapshot, falling back to an empty one.
//
// # Description
//
// Missing data is a cold start. Corrupt or unreadable data is logged at
// warn and also yields an empty snapshot; the stored data is left in place
// and overwritten by the next save.
func LoadOrEmpty(ctx context.Context, b Backend, logger *slog.Logger) ledger.Snapshot {
	if logger == nil {
		logger = slog.Default()
	}

	snap, err := b.Load(ctx)
	switch {
	case errors.Is(err, ErrCorruptSnapshot):
		logger.Warn("stored ledger is corrupt, starting with empty ledger",
			"target", b.String(),
			"error", err)
		return ledger.NewSnapshot()
	case err != nil:
		logger.Warn("failed to load ledger, starting with empty ledger",
			"target", b.String(),
			"error", err)
		return ledger.NewSnapshot()
	case snap.Len() == 0:
		logger.Info("no stored ledger, starting fresh", "target", b.String())
		return ledger.NewSnapshot()
	}

	logger.Info("loaded learned patterns",
		"target", b.String(),
		"surfaces", len(snap.Surfaces()),
		"entries", snap.Len())
	return snap
}

// NopBackend persists nothing.
type NopBackend struct{}

func (NopBackend) Load(context.Context) (ledger.Snapshot, error) { return ledger.NewSnapshot(), nil }
func (NopBackend) Save(context.Context, ledger.Snapshot) error   { return nil }
func (NopBackend) Close() error                                  { return nil }
func (NopBackend) String() string                                { return DriverNone }

var _ Backend = NopBackend{}
