// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package shaper ties classification, admission and pruning together.
//
// # Description
//
// A request flows through the Shaper twice:
//
//	Plan:  query ──► Classify ──► Policy.Decide ──► Prune ──► query'
//	Learn: backend response ──► Recorder.Record ──► ledger
//
// Plan decides what to send to the backend; Learn folds the backend's
// answer into the ledger under the operation key of the original request.
// Neither ever fails a request: every internal fault degrades to
// forwarding the original query unchanged.
package shaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/gqlshape/services/shaper/fieldpath"
	"github.com/AleutianAI/gqlshape/services/shaper/ledger"
	"github.com/AleutianAI/gqlshape/services/shaper/policy"
	"github.com/AleutianAI/gqlshape/services/shaper/query"
)

var tracer = otel.Tracer("gqlshape.shaper")

// Outcome classifies what Plan did with a request.
type Outcome string

const (
	// OutcomeOptimized means the query was rewritten.
	OutcomeOptimized Outcome = "optimized"

	// OutcomePassthrough means the query was classified but forwarded
	// unchanged: no decision yet, empty allow-list, or nothing to drop.
	OutcomePassthrough Outcome = "passthrough"

	// OutcomeUnclassified means no operation key could be determined.
	OutcomeUnclassified Outcome = "unclassified"
)

// Plan describes how one request is forwarded.
type Plan struct {
	// Surface is the resolved client surface.
	Surface string

	// OperationKey is the key the response will be learned under.
	// Empty when the request is unclassified.
	OperationKey string

	// Query is the document to send to the backend.
	Query string

	// Outcome summarizes the decision.
	Outcome Outcome

	// Allowed is the number of admitted paths when a decision was made.
	Allowed int
}

// Optimized reports whether Query differs from the original document.
func (p Plan) Optimized() bool {
	return p.Outcome == OutcomeOptimized
}

// Shaper plans and learns from GraphQL requests.
//
// # Thread Safety
//
// Safe for concurrent use. Shared state lives in the ledger.Store and the
// policy.Policy, both of which are concurrency-safe.
type Shaper struct {
	store    ledger.Store
	policy   *policy.Policy
	recorder *ledger.Recorder
	logger   *slog.Logger
}

// New creates a Shaper.
//
// # Inputs
//
//   - store: Usage ledger. Must not be nil.
//   - pol: Admission policy. Must not be nil.
//   - flusher: Durability hook invoked after each learned response. May be nil.
//   - logger: Logger. Nil uses slog.Default().
func New(store ledger.Store, pol *policy.Policy, flusher ledger.FlushRequester, logger *slog.Logger) *Shaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shaper{
		store:    store,
		policy:   pol,
		recorder: ledger.NewRecorder(store, flusher, logger),
		logger:   logger,
	}
}

// Store returns the ledger the Shaper reads and writes.
func (s *Shaper) Store() ledger.Store { return s.store }

// Policy returns the admission policy in effect.
func (s *Shaper) Policy() *policy.Policy { return s.policy }

// Plan decides which document to forward for a request.
//
// # Description
//
// Classifies document, asks the policy for an allow-list and prunes the
// document with it. A parse failure, an unclassifiable document, a missing
// decision or an empty allow-list all forward document unchanged.
//
// # Inputs
//
//   - ctx: Carries the trace span.
//   - surface: Client surface. Empty selects ledger.DefaultSurface.
//   - document: Query document text from the client.
//
// # Outputs
//
//   - Plan: Always usable. Plan.Query is document itself unless Outcome
//     is OutcomeOptimized.
func (s *Shaper) Plan(ctx context.Context, surface, document string) (plan Plan) {
	_, span := tracer.Start(ctx, "Shaper.Plan")
	defer span.End()

	if surface == "" {
		surface = ledger.DefaultSurface
	}
	plan = Plan{Surface: surface, Query: document, Outcome: OutcomeUnclassified}
	span.SetAttributes(attribute.String("shaper.surface", surface))

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("plan panicked: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "plan failed")
			s.logger.Error("query planning failed, forwarding original query",
				"surface", surface,
				"error", err)
			plan = Plan{Surface: surface, OperationKey: plan.OperationKey, Query: document, Outcome: OutcomePassthrough}
			if plan.OperationKey == "" {
				plan.Outcome = OutcomeUnclassified
			}
		}
		span.SetAttributes(attribute.String("shaper.outcome", string(plan.Outcome)))
	}()

	key, err := query.Classify(document)
	if err != nil {
		s.logger.Debug("query did not parse, forwarding unchanged", "error", err)
		return plan
	}
	if key == "" {
		return plan
	}
	plan.OperationKey = key
	plan.Outcome = OutcomePassthrough
	span.SetAttributes(attribute.String("shaper.operation", key))

	allow, decided := s.policy.Decide(s.store, surface, key)
	if !decided || len(allow) == 0 {
		return plan
	}
	plan.Allowed = len(allow)
	span.SetAttributes(attribute.Int("shaper.allowed_paths", len(allow)))

	rewritten, changed, err := query.Prune(document, allow)
	if err != nil {
		if !errors.Is(err, query.ErrParse) {
			span.RecordError(err)
		}
		return plan
	}
	if !changed {
		return plan
	}

	plan.Query = rewritten
	plan.Outcome = OutcomeOptimized
	s.logger.Info("optimized query",
		"surface", surface,
		"operation", key,
		"allowed_paths", len(allow))
	return plan
}

// Learn folds a backend response body into the ledger.
//
// # Description
//
// body is decoded as JSON and recorded under opKey, which must be the key
// of the original, unpruned request. Undecodable bodies are logged and
// ignored.
//
// # Outputs
//
//   - bool: True if an observation was recorded.
func (s *Shaper) Learn(ctx context.Context, surface, opKey string, body []byte) bool {
	if opKey == "" {
		return false
	}

	_, span := tracer.Start(ctx, "Shaper.Learn")
	defer span.End()
	span.SetAttributes(
		attribute.String("shaper.surface", surface),
		attribute.String("shaper.operation", opKey),
	)

	v, err := fieldpath.Decode(body)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("could not decode backend response, skipping learning",
			"surface", surface,
			"operation", opKey,
			"error", err)
		return false
	}

	recorded := s.recorder.Record(surface, opKey, v)
	span.SetAttributes(attribute.Bool("shaper.recorded", recorded))
	return recorded
}
