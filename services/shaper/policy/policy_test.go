// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package policy

import (
	"sync"
	"testing"

	"github.com/AleutianAI/gqlshape/services/shaper/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeWith(surface, op string, observations int, fields map[string]int) *ledger.MemoryStore {
	s := ledger.NewMemoryStore(ledger.Snapshot{})
	for i := 0; i < observations; i++ {
		var paths []string
		for p, n := range fields {
			if i < n {
				paths = append(paths, p)
			}
		}
		s.RecordObservation(surface, op, paths)
	}
	return s
}

func TestDecide_NoEntry(t *testing.T) {
	p := New(DefaultConfig())

	allow, ok := p.Decide(ledger.NewMemoryStore(ledger.Snapshot{}), "S", "user")
	assert.False(t, ok)
	assert.Nil(t, allow)
}

func TestDecide_MinObservationGate(t *testing.T) {
	p := New(DefaultConfig())
	s := storeWith("S", "user", 2, map[string]int{"user.name": 2})

	_, ok := p.Decide(s, "S", "user")
	assert.False(t, ok, "two observations are below the default minimum")

	s.RecordObservation("S", "user", []string{"user.name"})
	allow, ok := p.Decide(s, "S", "user")
	require.True(t, ok)
	assert.Equal(t, []string{"user.name"}, allow)
}

func TestDecide_ThresholdIsStrict(t *testing.T) {
	p := New(DefaultConfig())
	// 4/5 == 0.8 is excluded, 5/5 is included
	s := storeWith("S", "user", 5, map[string]int{
		"user.name":  5,
		"user.email": 4,
		"user.phone": 1,
	})

	allow, ok := p.Decide(s, "S", "user")
	require.True(t, ok)
	assert.Equal(t, []string{"user.name"}, allow)
}

func TestDecide_AboveThreshold(t *testing.T) {
	p := New(DefaultConfig())
	// 9/10 > 0.8
	s := storeWith("S", "user", 10, map[string]int{"user.name": 9})

	allow, ok := p.Decide(s, "S", "user")
	require.True(t, ok)
	assert.Equal(t, []string{"user.name"}, allow)
}

func TestDecide_EmptyAllowList(t *testing.T) {
	p := New(DefaultConfig())
	s := storeWith("S", "user", 3, nil)

	allow, ok := p.Decide(s, "S", "user")
	require.True(t, ok)
	assert.Empty(t, allow)
}

func TestDecide_SurfaceIsolation(t *testing.T) {
	p := New(DefaultConfig())
	s := storeWith("A", "user", 5, map[string]int{"user.name": 5})

	_, ok := p.Decide(s, "B", "user")
	assert.False(t, ok)
}

func TestDecide_SortedOutput(t *testing.T) {
	p := New(DefaultConfig())
	s := storeWith("S", "user", 3, map[string]int{
		"user.z": 3,
		"user.a": 3,
		"user":   3,
	})

	allow, ok := p.Decide(s, "S", "user")
	require.True(t, ok)
	assert.Equal(t, []string{"user", "user.a", "user.z"}, allow)
}

func TestDecide_SnapshotReader(t *testing.T) {
	p := New(DefaultConfig())
	snap := storeWith("S", "user", 4, map[string]int{"user.name": 4}).Snapshot()

	allow, ok := p.Decide(snap, "S", "user")
	require.True(t, ok)
	assert.Equal(t, []string{"user.name"}, allow)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"zero threshold", Config{MinObservations: 1, Threshold: 0}, true},
		{"small threshold", Config{MinObservations: 1, Threshold: 0.01}, false},
		{"zero min observations", Config{MinObservations: 0, Threshold: 0.5}, true},
		{"threshold one", Config{MinObservations: 3, Threshold: 1}, true},
		{"negative threshold", Config{MinObservations: 3, Threshold: -0.1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateNamesFailingField(t *testing.T) {
	err := Config{MinObservations: 3, Threshold: 0}.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "Threshold")
	assert.Contains(t, err.Error(), `"gt"`)

	err = Config{MinObservations: 0, Threshold: 0.5}.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "MinObservations")
}

func TestUpdate_RejectsZeroThreshold(t *testing.T) {
	p := New(DefaultConfig())

	err := p.Update(Config{MinObservations: 3, Threshold: 0})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, DefaultThreshold, p.Config().Threshold)
}

func TestNew_InvalidConfigFallsBack(t *testing.T) {
	p := New(Config{})
	assert.Equal(t, DefaultConfig(), p.Config())
}

func TestUpdate(t *testing.T) {
	p := New(DefaultConfig())
	s := storeWith("S", "user", 2, map[string]int{"user.name": 2})

	require.NoError(t, p.Update(Config{MinObservations: 2, Threshold: 0.5}))
	_, ok := p.Decide(s, "S", "user")
	assert.True(t, ok)

	err := p.Update(Config{MinObservations: -1, Threshold: 0.5})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, 2, p.Config().MinObservations)
}

func TestUpdate_ConcurrentWithDecide(t *testing.T) {
	p := New(DefaultConfig())
	s := storeWith("S", "user", 5, map[string]int{"user.name": 5})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = p.Update(Config{MinObservations: 1 + i%3, Threshold: 0.5})
		}(i)
		go func() {
			defer wg.Done()
			allow, ok := p.Decide(s, "S", "user")
			assert.True(t, ok)
			assert.Equal(t, []string{"user.name"}, allow)
		}()
	}
	wg.Wait()
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.0, Ratio(3, 0))
	assert.Equal(t, 0.5, Ratio(1, 2))
}
