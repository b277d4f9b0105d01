// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy decides, from ledger statistics, which field paths a
// request for a given (surface, operation) may keep.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/gqlshape/services/shaper/ledger"
)

const (
	// DefaultMinObservations is the number of responses an entry needs
	// before any decision is made.
	DefaultMinObservations = 3

	// DefaultThreshold is the presence ratio a path must strictly exceed.
	DefaultThreshold = 0.8
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid policy config")

// policyValidate checks the Config struct tags.
var policyValidate = validator.New()

// Config holds the admission parameters.
//
// Threshold is a presence ratio in (0, 1). Zero is rejected so that an
// unset threshold is never mistaken for "keep every recorded path".
type Config struct {
	MinObservations int     `yaml:"min_observations" json:"min_observations" validate:"gte=1"`
	Threshold       float64 `yaml:"threshold" json:"threshold" validate:"gt=0,lt=1"`
}

// DefaultConfig returns MinObservations=3, Threshold=0.8.
func DefaultConfig() Config {
	return Config{
		MinObservations: DefaultMinObservations,
		Threshold:       DefaultThreshold,
	}
}

// Validate reports whether the config can be applied.
//
// # Outputs
//
//   - error: Wraps ErrInvalidConfig and names the first failing field.
func (c Config) Validate() error {
	if err := policyValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("%w: %s failed %q (got %v)", ErrInvalidConfig, first.Field(), first.Tag(), first.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Policy evaluates admission decisions against a swappable Config.
//
// # Description
//
// The config sits behind an atomic pointer so a reload can replace it while
// requests are being planned. A single Decide call always sees one config.
//
// # Thread Safety
//
// Safe for concurrent use.
type Policy struct {
	cfg atomic.Pointer[Config]
}

// New creates a Policy. An invalid config is replaced by DefaultConfig.
func New(cfg Config) *Policy {
	if cfg.Validate() != nil {
		cfg = DefaultConfig()
	}
	p := &Policy{}
	p.cfg.Store(&cfg)
	return p
}

// Config returns the config currently in effect.
func (p *Policy) Config() Config {
	return *p.cfg.Load()
}

// Update swaps in a new config. Invalid configs are rejected and the
// current one is kept.
func (p *Policy) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.cfg.Store(&cfg)
	return nil
}

// Decide returns the allow-list for (surface, op).
//
// # Description
//
// No decision is made while the entry is missing or has fewer than
// MinObservations observations. Otherwise every recorded path whose
// presence ratio count/observations is strictly greater than Threshold is
// allowed. A path at exactly the threshold is not.
//
// # Inputs
//
//   - r: Ledger to read. A single consistent copy of the entry is used.
//   - surface: Client surface.
//   - op: Operation key.
//
// # Outputs
//
//   - []string: Sorted allowed paths. May be empty when a decision was made
//     but no path qualified; callers treat that as "do not prune".
//   - bool: False means no decision (forward unchanged).
func (p *Policy) Decide(r ledger.Reader, surface, op string) ([]string, bool) {
	cfg := p.Config()

	e, ok := r.Get(surface, op)
	if !ok || e.Observations < int64(cfg.MinObservations) {
		return nil, false
	}
	return Allowed(e, cfg.Threshold), true
}

// Allowed lists the paths of e whose presence ratio exceeds threshold.
func Allowed(e ledger.Entry, threshold float64) []string {
	allow := make([]string, 0, len(e.FieldCounts))
	if e.Observations <= 0 {
		return allow
	}
	for path, count := range e.FieldCounts {
		if Ratio(count, e.Observations) > threshold {
			allow = append(allow, path)
		}
	}
	sort.Strings(allow)
	return allow
}

// Ratio returns count/observations, or 0 when observations is not positive.
func Ratio(count, observations int64) float64 {
	if observations <= 0 {
		return 0
	}
	return float64(count) / float64(observations)
}
