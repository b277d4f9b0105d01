// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"log/slog"

	"github.com/AleutianAI/gqlshape/services/shaper/fieldpath"
)

// dataEnvelope is the key GraphQL servers wrap results in.
const dataEnvelope = "data"

// FlushRequester asks for the ledger to be made durable.
//
// # Description
//
// RequestFlush must not block. Implementations coalesce requests and write
// in the background, so a crash may lose the most recent observations.
type FlushRequester interface {
	RequestFlush()
}

// nopFlusher is used when no persistence is configured.
type nopFlusher struct{}

func (nopFlusher) RequestFlush() {}

// Recorder folds backend responses into a Store.
//
// # Thread Safety
//
// Safe for concurrent use; all shared state lives in the Store.
type Recorder struct {
	store   Store
	flusher FlushRequester
	logger  *slog.Logger
}

// NewRecorder creates a Recorder.
//
// # Inputs
//
//   - store: Destination ledger. Must not be nil.
//   - flusher: Durability hook. Nil disables persistence requests.
//   - logger: Logger for learning events. Nil uses slog.Default().
func NewRecorder(store Store, flusher FlushRequester, logger *slog.Logger) *Recorder {
	if flusher == nil {
		flusher = nopFlusher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, flusher: flusher, logger: logger}
}

// Record learns the field paths of one backend response.
//
// # Description
//
// The result for op is looked up under the response's "data" envelope, or
// at the top level when the envelope is absent or null. If op is missing
// or null there, nothing is recorded: the response shape did not match the
// declared operation key.
//
// On success the entry's observation count and the count of every
// extracted path are incremented, then a durable write is requested
// without waiting for it.
//
// # Inputs
//
//   - surface: Client surface. Empty selects DefaultSurface.
//   - op: Operation key from the original, unpruned request.
//   - response: Decoded backend response. Nil or Null is a no-op.
//
// # Outputs
//
//   - bool: True if an observation was recorded.
func (r *Recorder) Record(surface, op string, response fieldpath.Value) bool {
	if op == "" || fieldpath.IsNull(response) {
		return false
	}
	if surface == "" {
		surface = DefaultSurface
	}

	root := response
	if data, ok := fieldpath.Field(response, dataEnvelope); ok && !fieldpath.IsNull(data) {
		root = data
	}

	result, ok := fieldpath.Field(root, op)
	if !ok || fieldpath.IsNull(result) {
		r.logger.Debug("response has no result for operation key",
			"surface", surface,
			"operation", op)
		return false
	}

	paths := fieldpath.Extract(result, op)
	n := r.store.RecordObservation(surface, op, paths)

	r.logger.Info("learned response shape",
		"surface", surface,
		"operation", op,
		"observation", n,
		"paths", len(paths))

	r.flusher.RequestFlush()
	return true
}
