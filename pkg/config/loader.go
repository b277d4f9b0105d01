// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New()

// LookupFunc reads an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load resolves the configuration from path and the process environment.
//
// # Inputs
//
//   - path: YAML file. Empty skips the file layer.
//
// # Outputs
//
//   - Config: Validated configuration.
//   - error: File, parse, environment or validation failure.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment.
func LoadWithEnv(path string, lookup LookupFunc) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}

	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a port number", ErrInvalid, EnvPort, v)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup(EnvBackendURL); ok && v != "" {
		cfg.Backend.URL = v
	}
	if v, ok := lookup(EnvSurfaceHeader); ok && v != "" {
		cfg.Surface.Header = v
	}
	if v, ok := lookup(EnvPersistenceDriver); ok && v != "" {
		cfg.Persistence.Driver = v
	}
	if v, ok := lookup(EnvPersistencePath); ok && v != "" {
		cfg.Persistence.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		cfg.Tracing.Endpoint = v
		if cfg.Tracing.Exporter == "none" {
			cfg.Tracing.Exporter = "otlp"
		}
	}
	return nil
}

// Validate checks struct tag constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("%w: %s failed %q (got %v)", ErrInvalid, first.Namespace(), first.Tag(), first.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// WriteDefault writes DefaultConfig as YAML to path.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
