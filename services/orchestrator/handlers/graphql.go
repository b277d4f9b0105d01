// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/gqlshape/services/orchestrator/backend"
	"github.com/AleutianAI/gqlshape/services/orchestrator/middleware"
	"github.com/AleutianAI/gqlshape/services/orchestrator/observability"
	"github.com/AleutianAI/gqlshape/services/shaper"
)

var handlerTracer = otel.Tracer("gqlshape.orchestrator.handlers")

// DefaultMaxBodyBytes bounds an inbound GraphQL request body.
const DefaultMaxBodyBytes int64 = 1 << 20

// errBackendFailed is the only backend detail exposed to clients.
const errBackendFailed = "backend request failed"

// GraphQLRequest is the inbound POST /graphql body.
type GraphQLRequest struct {
	Query     string          `json:"query" binding:"required"`
	Variables json.RawMessage `json:"variables,omitempty"`
}

// Forwarder sends a GraphQL request upstream.
//
// Implemented by *backend.Client; tests substitute fakes.
type Forwarder interface {
	Do(ctx context.Context, req backend.Request) (*backend.Response, error)
}

// GraphQLHandler proxies GraphQL requests through the Shaper.
//
// # Description
//
//	POST /graphql
//	   │
//	   ├─► Bind {query, variables}           (400 on failure)
//	   ├─► Shaper.Plan(surface, query)       (never fails)
//	   ├─► Forward {query', variables}       (502 on failure or non-2xx)
//	   ├─► Shaper.Learn(surface, opKey, body)
//	   └─► Return backend status, content type and body verbatim
//
// # Thread Safety
//
// Safe for concurrent use.
type GraphQLHandler struct {
	shaper   *shaper.Shaper
	forward  Forwarder
	metrics  *observability.Metrics
	logger   *slog.Logger
	maxBytes int64
}

// NewGraphQLHandler creates a GraphQLHandler.
//
// # Inputs
//
//   - s: Shaper. Must not be nil.
//   - fwd: Upstream forwarder. Must not be nil.
//   - metrics: Collectors. Nil disables metrics.
//   - logger: Request logger. Nil uses slog.Default().
//   - maxBytes: Request body limit. Zero uses DefaultMaxBodyBytes.
func NewGraphQLHandler(s *shaper.Shaper, fwd Forwarder, metrics *observability.Metrics, logger *slog.Logger, maxBytes int64) *GraphQLHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return &GraphQLHandler{
		shaper:   s,
		forward:  fwd,
		metrics:  metrics,
		logger:   logger,
		maxBytes: maxBytes,
	}
}

// Handle serves POST /graphql.
func (h *GraphQLHandler) Handle(c *gin.Context) {
	ctx, span := handlerTracer.Start(c.Request.Context(), "GraphQLHandler.Handle")
	defer span.End()

	logger := h.logger.With("request_id", middleware.GetRequestID(c))
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		logger = logger.With("trace_id", sc.TraceID().String())
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	var req GraphQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		logger.Warn("rejected graphql request", "error", err)
		h.metrics.RecordRequest(observability.OutcomeBadRequest)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	plan := h.shaper.Plan(ctx, middleware.GetSurface(c), req.Query)
	span.SetAttributes(
		attribute.String("gqlshape.surface", plan.Surface),
		attribute.String("gqlshape.operation", plan.OperationKey),
		attribute.String("gqlshape.outcome", string(plan.Outcome)),
	)

	start := time.Now()
	resp, err := h.forward.Do(ctx, backend.Request{Query: plan.Query, Variables: req.Variables})
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errBackendFailed)
		logger.Error("backend request failed",
			"surface", plan.Surface,
			"operation", plan.OperationKey,
			"latency_ms", elapsed.Milliseconds(),
			"error", err)
		h.metrics.ObserveBackend(0, elapsed, -1)
		h.metrics.RecordRequest(observability.OutcomeBackendError)
		c.JSON(http.StatusBadGateway, gin.H{"error": errBackendFailed})
		return
	}
	h.metrics.ObserveBackend(resp.StatusCode, elapsed, len(resp.Body))

	if !resp.OK() {
		span.SetStatus(codes.Error, errBackendFailed)
		logger.Warn("backend returned non-success status",
			"surface", plan.Surface,
			"operation", plan.OperationKey,
			"status", resp.StatusCode,
			"latency_ms", elapsed.Milliseconds())
		h.metrics.RecordRequest(observability.OutcomeBackendError)
		c.JSON(http.StatusBadGateway, gin.H{"error": errBackendFailed})
		return
	}

	if h.shaper.Learn(ctx, plan.Surface, plan.OperationKey, resp.Body) {
		h.metrics.RecordObservation()
	}
	h.metrics.RecordRequest(outcomeOf(plan))

	logger.Info("proxied graphql request",
		"surface", plan.Surface,
		"operation", plan.OperationKey,
		"optimized", plan.Optimized(),
		"status", resp.StatusCode,
		"latency_ms", elapsed.Milliseconds(),
		"response_bytes", len(resp.Body))

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}

func outcomeOf(plan shaper.Plan) observability.Outcome {
	switch plan.Outcome {
	case shaper.OutcomeOptimized:
		return observability.OutcomeOptimized
	case shaper.OutcomePassthrough:
		return observability.OutcomePassthrough
	default:
		return observability.OutcomeUnclassified
	}
}
