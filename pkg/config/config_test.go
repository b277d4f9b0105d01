// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

// =============================================================================
// Defaults and Loading
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "http://localhost:4000/graphql", cfg.Backend.URL)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "x-screen-name", cfg.Surface.Header)
	assert.Equal(t, "default_screen", cfg.Surface.Default)
	assert.Equal(t, 3, cfg.Policy.MinObservations)
	assert.Equal(t, 0.8, cfg.Policy.Threshold)
	assert.Equal(t, "file", cfg.Persistence.Driver)
	assert.Equal(t, "learned_patterns.json", cfg.Persistence.Path)
	assert.Zero(t, cfg.Persistence.FlushInterval)
	assert.Equal(t, "none", cfg.Tracing.Exporter)
	assert.True(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFileNoEnv(t *testing.T) {
	cfg, err := LoadWithEnv("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gqlshape.yaml")
	writeFile(t, path, `
server:
  port: 8080
backend:
  url: https://api.example.com/graphql
  timeout: 5s
policy:
  min_observations: 10
  threshold: 0.9
persistence:
  driver: sqlite
  path: /var/lib/gqlshape/ledger.db
  flush_interval: 2s
`)

	cfg, err := LoadWithEnv(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://api.example.com/graphql", cfg.Backend.URL)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 10, cfg.Policy.MinObservations)
	assert.Equal(t, 0.9, cfg.Policy.Threshold)
	assert.Equal(t, "sqlite", cfg.Persistence.Driver)
	assert.Equal(t, 2*time.Second, cfg.Persistence.FlushInterval)
	// untouched sections keep defaults
	assert.Equal(t, "x-screen-name", cfg.Surface.Header)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gqlshape.yaml")
	writeFile(t, path, "server:\n  port: 8080\n")

	cfg, err := LoadWithEnv(path, env(map[string]string{
		EnvPort:              "9000",
		EnvBackendURL:        "http://backend:4000/graphql",
		EnvSurfaceHeader:     "x-view",
		EnvPersistenceDriver: "badger",
		EnvPersistencePath:   "/data/ledger",
		EnvLogLevel:          "debug",
		EnvOTLPEndpoint:      "collector:4317",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http://backend:4000/graphql", cfg.Backend.URL)
	assert.Equal(t, "x-view", cfg.Surface.Header)
	assert.Equal(t, "badger", cfg.Persistence.Driver)
	assert.Equal(t, "/data/ledger", cfg.Persistence.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadWithEnv(filepath.Join(dir, "missing.yaml"), env(nil))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "server: [not, a, map")
	_, err = LoadWithEnv(bad, env(nil))
	assert.Error(t, err)

	_, err = LoadWithEnv("", env(map[string]string{EnvPort: "http"}))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_RejectsZeroThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gqlshape.yaml")
	writeFile(t, path, "policy:\n  threshold: 0\n")

	_, err := LoadWithEnv(path, env(nil))
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "Threshold")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"backend url", func(c *Config) { c.Backend.URL = "not a url" }},
		{"backend timeout", func(c *Config) { c.Backend.Timeout = 0 }},
		{"surface header", func(c *Config) { c.Surface.Header = "" }},
		{"min observations", func(c *Config) { c.Policy.MinObservations = 0 }},
		{"threshold zero", func(c *Config) { c.Policy.Threshold = 0 }},
		{"threshold one", func(c *Config) { c.Policy.Threshold = 1 }},
		{"driver", func(c *Config) { c.Persistence.Driver = "redis" }},
		{"file without path", func(c *Config) { c.Persistence.Path = "" }},
		{"log level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"tracing exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Exporter = "otlp" }},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestValidate_NoneDriverNeedsNoPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Persistence.Driver = "none"
	cfg.Persistence.Path = ""
	assert.NoError(t, cfg.Validate())
}

func TestWriteDefault_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "gqlshape.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := LoadWithEnv(path, env(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

// =============================================================================
// Watcher
// =============================================================================

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gqlshape.yaml")
	writeFile(t, path, "policy:\n  min_observations: 3\n")

	reloaded := make(chan Config, 4)
	w, err := NewWatcher(path, env(nil), func(c Config) { reloaded <- c }, nil)
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	writeFile(t, path, "policy:\n  min_observations: 7\n  threshold: 0.5\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 7, cfg.Policy.MinObservations)
		assert.Equal(t, 0.5, cfg.Policy.Threshold)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestWatcher_IgnoresInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gqlshape.yaml")
	writeFile(t, path, "policy:\n  min_observations: 3\n")

	reloaded := make(chan Config, 4)
	w, err := NewWatcher(path, env(nil), func(c Config) { reloaded <- c }, nil)
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	writeFile(t, path, "policy:\n  min_observations: 0\n")
	// unrelated files in the directory are ignored
	writeFile(t, filepath.Join(dir, "other.yaml"), "x: 1\n")

	select {
	case cfg := <-reloaded:
		t.Fatalf("invalid config must not be delivered, got %+v", cfg.Policy)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestNewWatcher_MissingDirectory(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "nope", "gqlshape.yaml"), nil, nil, nil)
	assert.Error(t, err)
}
