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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/AleutianAI/gqlshape/services/shaper/ledger"
)

// DefaultFilePath is the snapshot file used when none is configured.
const DefaultFilePath = "learned_patterns.json"

// FileBackend stores the snapshot as an indented JSON document.
//
// # Description
//
// Saves write a temporary file next to the target and rename it over the
// target, so a reader never sees a half-written document.
type FileBackend struct {
	path string
}

// NewFileBackend creates a FileBackend at path, creating its directory.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		path = DefaultFilePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &FileBackend{path: path}, nil
}

// Load implements Backend. A missing file is an empty snapshot.
func (f *FileBackend) Load(ctx context.Context) (ledger.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Snapshot{}, err
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ledger.NewSnapshot(), nil
	}
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("read %s: %w", f.path, err)
	}

	snap := ledger.NewSnapshot()
	if err := json.Unmarshal(data, &snap); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, f.path, err)
	}
	return snap, nil
}

// Save implements Backend.
func (f *FileBackend) Save(ctx context.Context, snap ledger.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

// Close implements Backend.
func (f *FileBackend) Close() error { return nil }

// String implements Backend.
func (f *FileBackend) String() string { return "file:" + f.path }

var _ Backend = (*FileBackend)(nil)
