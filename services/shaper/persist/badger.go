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
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/AleutianAI/gqlshape/services/shaper/ledger"
)

// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).

const (
	defaultGCDiscardRatio = 0.5

	// entryPrefix namespaces ledger entries inside the database.
	entryPrefix = "ledger/entry/"

	// keySeparator ends the surface part of an entry key. The surface
	// comes from a client header and may contain it; the operation is a
	// GraphQL name and cannot. See entryKey.
	keySeparator = "\x1f"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("persist: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("persist: CBOR decoder initialization failed: " + err.Error())
	}
}

// badgerRecord is the stored value of one ledger entry. Surface and
// operation are stored in the value so keys never need to be parsed.
type badgerRecord struct {
	Surface      string           `cbor:"1,keyasint"`
	Operation    string           `cbor:"2,keyasint"`
	Observations int64            `cbor:"3,keyasint"`
	FieldCounts  map[string]int64 `cbor:"4,keyasint,omitempty"`
}

// entryKey builds the key for (surface, op). The last separator in a key
// is always the one written here, so two distinct pairs never share a key
// even when a surface contains the separator.
func entryKey(surface, op string) []byte {
	return []byte(entryPrefix + surface + keySeparator + op)
}

// BadgerConfig holds configuration for a BadgerDB-backed ledger.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerBackend stores one CBOR record per ledger entry.
type BadgerBackend struct {
	db       *badger.DB
	gcRunner *GCRunner
	path     string
	inMemory bool
}

// OpenBadger opens a BadgerDB-backed ledger store.
//
// # Description
//
// Opens the database at cfg.Path, or in memory if cfg.InMemory is set,
// creating the directory if needed. A GC runner is started when
// GCInterval is positive and the database is on disk.
//
// # Outputs
//
//   - *BadgerBackend: The opened backend. Caller must call Close().
//   - error: Non-nil if the path is missing or the database cannot open.
//
// # Thread Safety
//
// The returned backend is safe for concurrent use.
func OpenBadger(cfg BadgerConfig) (*BadgerBackend, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	b := &BadgerBackend{db: db, path: cfg.Path, inMemory: cfg.InMemory}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio == 0 {
			ratio = defaultGCDiscardRatio
		}
		runner, err := NewGCRunner(db, cfg.GCInterval, ratio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		b.gcRunner = runner
		runner.Start()
	}

	return b, nil
}

// Load implements Backend.
func (b *BadgerBackend) Load(ctx context.Context) (ledger.Snapshot, error) {
	snap := ledger.NewSnapshot()

	err := b.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec badgerRecord
			err := item.Value(func(val []byte) error {
				return decMode.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("%w: key %q: %v", ErrCorruptSnapshot, item.Key(), err)
			}
			snap.Put(rec.Surface, rec.Operation, ledger.Entry{
				Observations: rec.Observations,
				FieldCounts:  rec.FieldCounts,
			})
		}
		return nil
	})
	if err != nil {
		return ledger.Snapshot{}, err
	}
	return snap, nil
}

// Save implements Backend. Entries are written in one transaction.
func (b *BadgerBackend) Save(ctx context.Context, snap ledger.Snapshot) error {
	return b.withTxn(ctx, func(txn *badger.Txn) error {
		for _, surface := range snap.Surfaces() {
			for _, op := range snap.Operations(surface) {
				e, _ := snap.Entry(surface, op)
				val, err := encMode.Marshal(badgerRecord{
					Surface:      surface,
					Operation:    op,
					Observations: e.Observations,
					FieldCounts:  e.FieldCounts,
				})
				if err != nil {
					return fmt.Errorf("encode entry %s/%s: %w", surface, op, err)
				}
				if err := txn.Set(entryKey(surface, op), val); err != nil {
					return fmt.Errorf("set entry %s/%s: %w", surface, op, err)
				}
			}
		}
		return nil
	})
}

// Close stops garbage collection (if running) and closes the database.
func (b *BadgerBackend) Close() error {
	if b.gcRunner != nil {
		b.gcRunner.Stop()
	}
	return b.db.Close()
}

// String implements Backend.
func (b *BadgerBackend) String() string {
	if b.inMemory {
		return "badger:memory"
	}
	return "badger:" + b.path
}

// withTxn executes fn within a read-write transaction and commits if fn
// returns nil.
func (b *BadgerBackend) withTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// withReadTxn executes fn within a read-only transaction.
func (b *BadgerBackend) withReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

// GCRunner runs periodic garbage collection on a BadgerDB instance.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

// NewGCRunner creates a garbage collection runner.
//
// # Inputs
//
//   - db: The BadgerDB instance. Must not be nil.
//   - interval: How often to run GC. Must be positive.
//   - ratio: Minimum garbage ratio to trigger GC (0.0-1.0).
//   - logger: Optional logger for GC events.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio < 0 || ratio > 1 {
		return nil, errors.New("ratio must be between 0 and 1")
	}

	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}, nil
}

// Start begins periodic garbage collection.
func (r *GCRunner) Start() {
	go r.run()
}

// Stop signals the GC goroutine to stop and waits for it to finish.
func (r *GCRunner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *GCRunner) runGC() {
	// ErrNoRewrite means nothing needed collecting
	err := r.db.RunValueLogGC(r.ratio)
	if err == nil {
		if r.logger != nil {
			r.logger.Debug("badger value log GC completed")
		}
	} else if !errors.Is(err, badger.ErrNoRewrite) {
		if r.logger != nil {
			r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
		}
	}
}

var _ Backend = (*BadgerBackend)(nil)
