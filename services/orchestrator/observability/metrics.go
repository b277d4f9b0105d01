// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the shaping proxy.
//
// # Description
//
// All metrics share the "gqlshape" namespace:
//
//	gqlshape_proxy_requests_total{outcome}
//	gqlshape_proxy_backend_duration_seconds{status}
//	gqlshape_proxy_response_size_bytes
//	gqlshape_ledger_observations_total
//	gqlshape_ledger_flushes_total{status}
//	gqlshape_ledger_flush_duration_seconds
//
// Surface and operation names come from clients and are deliberately not
// used as labels.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Methods on a nil *Metrics are
// no-ops, so callers can run with metrics disabled.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Names
// =============================================================================

const metricsNamespace = "gqlshape"

const (
	proxySubsystem  = "proxy"
	ledgerSubsystem = "ledger"
)

// =============================================================================
// Outcomes
// =============================================================================

// Outcome labels a proxied request.
type Outcome string

const (
	// OutcomeOptimized means a pruned query was forwarded.
	OutcomeOptimized Outcome = "optimized"

	// OutcomePassthrough means a classified query was forwarded unchanged.
	OutcomePassthrough Outcome = "passthrough"

	// OutcomeUnclassified means no operation key was found.
	OutcomeUnclassified Outcome = "unclassified"

	// OutcomeBackendError means the backend call failed.
	OutcomeBackendError Outcome = "backend_error"

	// OutcomeBadRequest means the client body was rejected.
	OutcomeBadRequest Outcome = "bad_request"
)

// =============================================================================
// Metrics
// =============================================================================

// Metrics holds the proxy's Prometheus collectors.
type Metrics struct {
	RequestsTotal          *prometheus.CounterVec
	BackendDurationSeconds *prometheus.HistogramVec
	ResponseSizeBytes      prometheus.Histogram
	ObservationsTotal      prometheus.Counter
	FlushesTotal           *prometheus.CounterVec
	FlushDurationSeconds   prometheus.Histogram
}

// NewMetrics creates and registers the collectors with reg.
//
// # Inputs
//
//   - reg: Registry to register with. Tests pass prometheus.NewRegistry();
//     the server passes prometheus.DefaultRegisterer.
//
// # Outputs
//
//   - *Metrics: Registered collectors.
//
// # Limitations
//
//   - Registering twice with the same registry panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: proxySubsystem,
				Name:      "requests_total",
				Help:      "Total GraphQL requests by shaping outcome",
			},
			[]string{"outcome"},
		),

		BackendDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: proxySubsystem,
				Name:      "backend_duration_seconds",
				Help:      "Backend round-trip latency in seconds by status class",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),

		ResponseSizeBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: proxySubsystem,
				Name:      "response_size_bytes",
				Help:      "Size of backend response bodies in bytes",
				Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
			},
		),

		ObservationsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ledgerSubsystem,
				Name:      "observations_total",
				Help:      "Total backend responses folded into the usage ledger",
			},
		),

		FlushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ledgerSubsystem,
				Name:      "flushes_total",
				Help:      "Total ledger snapshot writes by status",
			},
			[]string{"status"},
		),

		FlushDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: ledgerSubsystem,
				Name:      "flush_duration_seconds",
				Help:      "Duration of ledger snapshot writes in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
	}
}

// RecordRequest counts one request by outcome.
func (m *Metrics) RecordRequest(outcome Outcome) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(outcome)).Inc()
}

// ObserveBackend records one backend round trip.
//
// # Inputs
//
//   - status: HTTP status code, or 0 when no response was received.
//   - elapsed: Round-trip time.
//   - size: Response body size in bytes. Negative skips the size histogram.
func (m *Metrics) ObserveBackend(status int, elapsed time.Duration, size int) {
	if m == nil {
		return
	}
	m.BackendDurationSeconds.WithLabelValues(StatusClass(status)).Observe(elapsed.Seconds())
	if size >= 0 {
		m.ResponseSizeBytes.Observe(float64(size))
	}
}

// RecordObservation counts one learned response.
func (m *Metrics) RecordObservation() {
	if m == nil {
		return
	}
	m.ObservationsTotal.Inc()
}

// ObserveFlush records one snapshot write. Matches persist.FlushObserver.
func (m *Metrics) ObserveFlush(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.FlushesTotal.WithLabelValues(status).Inc()
	m.FlushDurationSeconds.Observe(elapsed.Seconds())
}

// StatusClass maps an HTTP status to "2xx", "4xx" and so on, or "error"
// when no response was received.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
