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
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/gqlshape/services/shaper/ledger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	surface      TEXT    NOT NULL,
	operation    TEXT    NOT NULL,
	observations INTEGER NOT NULL,
	updated_at   TEXT    NOT NULL,
	PRIMARY KEY (surface, operation)
);

CREATE TABLE IF NOT EXISTS ledger_fields (
	surface   TEXT    NOT NULL,
	operation TEXT    NOT NULL,
	path      TEXT    NOT NULL,
	count     INTEGER NOT NULL,
	PRIMARY KEY (surface, operation, path)
);
`

// SQLiteBackend stores the ledger in two tables.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates a SQLite database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	s := &SQLiteBackend{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteBackend) migrate() error {
	_, err := s.db.Exec(sqliteSchema)
	return err
}

// Load implements Backend.
func (s *SQLiteBackend) Load(ctx context.Context) (ledger.Snapshot, error) {
	snap := ledger.NewSnapshot()
	entries := make(map[[2]string]*ledger.Entry)

	rows, err := s.db.QueryContext(ctx, `SELECT surface, operation, observations FROM ledger_entries`)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("query entries: %w", err)
	}
	for rows.Next() {
		var surface, op string
		var n int64
		if err := rows.Scan(&surface, &op, &n); err != nil {
			rows.Close()
			return ledger.Snapshot{}, fmt.Errorf("%w: scan entry: %v", ErrCorruptSnapshot, err)
		}
		entries[[2]string{surface, op}] = &ledger.Entry{Observations: n, FieldCounts: map[string]int64{}}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return ledger.Snapshot{}, fmt.Errorf("iterate entries: %w", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT surface, operation, path, count FROM ledger_fields`)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("query fields: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var surface, op, path string
		var n int64
		if err := rows.Scan(&surface, &op, &path, &n); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("%w: scan field: %v", ErrCorruptSnapshot, err)
		}
		key := [2]string{surface, op}
		e, ok := entries[key]
		if !ok {
			e = &ledger.Entry{FieldCounts: map[string]int64{}}
			entries[key] = e
		}
		e.FieldCounts[path] = n
	}
	if err := rows.Err(); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("iterate fields: %w", err)
	}

	for key, e := range entries {
		snap.Put(key[0], key[1], *e)
	}
	return snap, nil
}

// Save implements Backend. All rows are upserted in one transaction.
func (s *SQLiteBackend) Save(ctx context.Context, snap ledger.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	entryStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ledger_entries (surface, operation, observations, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (surface, operation) DO UPDATE SET
			observations = excluded.observations,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare entry upsert: %w", err)
	}
	defer entryStmt.Close()

	fieldStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ledger_fields (surface, operation, path, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (surface, operation, path) DO UPDATE SET
			count = excluded.count`)
	if err != nil {
		return fmt.Errorf("prepare field upsert: %w", err)
	}
	defer fieldStmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, surface := range snap.Surfaces() {
		for _, op := range snap.Operations(surface) {
			e, _ := snap.Entry(surface, op)
			if _, err := entryStmt.ExecContext(ctx, surface, op, e.Observations, now); err != nil {
				return fmt.Errorf("upsert entry %s/%s: %w", surface, op, err)
			}
			for path, n := range e.FieldCounts {
				if _, err := fieldStmt.ExecContext(ctx, surface, op, path, n); err != nil {
					return fmt.Errorf("upsert field %s/%s/%s: %w", surface, op, path, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close implements Backend.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// String implements Backend.
func (s *SQLiteBackend) String() string { return "sqlite:" + s.path }

var _ Backend = (*SQLiteBackend)(nil)
