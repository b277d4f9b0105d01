// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracing exporters.
const (
	ExporterNone   = "none"
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// initTracer installs the global tracer provider.
//
// # Description
//
// With ExporterNone the global no-op provider is left in place. Otherwise a
// batching provider is installed with a parent-based ratio sampler, and
// W3C trace context and baggage propagation are enabled so the backend
// call continues the client's trace.
//
// # Outputs
//
//   - func(context.Context): Flushes and shuts the provider down.
//   - error: Exporter or resource creation failure.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()
	cfg := s.config.Tracing

	var (
		exporter sdktrace.SpanExporter
		closeFn  func() error
	)
	switch cfg.Exporter {
	case ExporterNone:
		return func(context.Context) {}, nil

	case ExporterOTLP:
		creds := insecure.NewCredentials()
		if !cfg.Insecure {
			creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		}
		conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(creds))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter, closeFn = exp, conn.Close

	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp

	default:
		return nil, fmt.Errorf("unknown tracing exporter %q", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	s.logger.Info("Initialized tracing", "exporter", cfg.Exporter, "endpoint", cfg.Endpoint)

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown tracer provider", "error", err)
		}
		if closeFn != nil {
			_ = closeFn()
		}
	}
	return cleanup, nil
}
