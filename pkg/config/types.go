// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads gqlshape configuration.
//
// Values are resolved in three layers, later layers winning:
//
//	DefaultConfig() ──► YAML file ──► environment variables
//
// The result is validated with struct tags. A Watcher reloads the file
// when it changes so the admission policy can be tuned without a restart.
package config

import "time"

// Environment variables that override file values.
const (
	EnvPort              = "PORT"
	EnvBackendURL        = "GRAPHQL_BACKEND_URL"
	EnvSurfaceHeader     = "GQLSHAPE_SURFACE_HEADER"
	EnvPersistenceDriver = "GQLSHAPE_PERSISTENCE_DRIVER"
	EnvPersistencePath   = "GQLSHAPE_PERSISTENCE_PATH"
	EnvLogLevel          = "GQLSHAPE_LOG_LEVEL"
	EnvOTLPEndpoint      = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

const (
	defaultSurfaceHeader  = "x-screen-name"
	defaultSurface        = "default_screen"
	defaultBackendURL     = "http://localhost:4000/graphql"
	defaultPersistenceLoc = "learned_patterns.json"
)

// Config is the complete proxy configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Backend     BackendConfig     `yaml:"backend"`
	Surface     SurfaceConfig     `yaml:"surface"`
	Policy      PolicyConfig      `yaml:"policy"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig controls the inbound HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gte=1,lte=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" validate:"gte=1024"`
}

// BackendConfig points at the GraphQL API being shaped.
type BackendConfig struct {
	URL     string        `yaml:"url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// SurfaceConfig controls how the client surface is identified.
type SurfaceConfig struct {
	Header  string `yaml:"header" validate:"required"`
	Default string `yaml:"default" validate:"required"`
}

// PolicyConfig holds the admission parameters. Hot-reloadable.
//
// Threshold must lie strictly between 0 and 1.
type PolicyConfig struct {
	MinObservations int     `yaml:"min_observations" validate:"gte=1"`
	Threshold       float64 `yaml:"threshold" validate:"gt=0,lt=1"`
}

// PersistenceConfig selects where the ledger is stored.
//
// FlushInterval zero writes after every learned response, asynchronously.
type PersistenceConfig struct {
	Driver        string        `yaml:"driver" validate:"oneof=file badger sqlite none"`
	Path          string        `yaml:"path" validate:"required_unless=Driver none"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gte=0"`
	SyncWrites    bool          `yaml:"sync_writes"`
	GCInterval    time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
	Dir    string `yaml:"dir"`
}

// TracingConfig selects the OpenTelemetry span exporter.
type TracingConfig struct {
	Exporter    string  `yaml:"exporter" validate:"oneof=none otlp stdout"`
	Endpoint    string  `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the built-in defaults.
//
// # Examples
//
//	cfg := config.DefaultConfig()
//	cfg.Server.Port = 8080
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            5000,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Backend: BackendConfig{
			URL:     defaultBackendURL,
			Timeout: 30 * time.Second,
		},
		Surface: SurfaceConfig{
			Header:  defaultSurfaceHeader,
			Default: defaultSurface,
		},
		Policy: PolicyConfig{
			MinObservations: 3,
			Threshold:       0.8,
		},
		Persistence: PersistenceConfig{
			Driver:     "file",
			Path:       defaultPersistenceLoc,
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			Insecure:    true,
			SampleRatio: 1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
