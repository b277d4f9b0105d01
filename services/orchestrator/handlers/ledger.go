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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/gqlshape/services/shaper"
	"github.com/AleutianAI/gqlshape/services/shaper/policy"
)

// EntryReport describes one ledger entry and the decision it yields.
type EntryReport struct {
	Surface         string             `json:"surface"`
	Operation       string             `json:"operation"`
	Observations    int64              `json:"observations"`
	FieldCounts     map[string]int64   `json:"field_counts"`
	Ratios          map[string]float64 `json:"ratios"`
	Allowed         []string           `json:"allowed"`
	Ready           bool               `json:"ready"`
	MinObservations int                `json:"min_observations"`
	Threshold       float64            `json:"threshold"`
}

// LedgerHandler serves read-only views of the usage ledger.
type LedgerHandler struct {
	shaper *shaper.Shaper
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(s *shaper.Shaper) *LedgerHandler {
	return &LedgerHandler{shaper: s}
}

// Snapshot serves GET /v1/ledger in the persisted document layout.
func (h *LedgerHandler) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.shaper.Store().Snapshot())
}

// Entry serves GET /v1/ledger/:surface/:operation.
//
// # Outputs
//
//   - 200 EntryReport. Ready is false until the entry has enough
//     observations; Allowed is then empty.
//   - 404 when nothing has been learned for the pair.
func (h *LedgerHandler) Entry(c *gin.Context) {
	surface := c.Param("surface")
	op := c.Param("operation")

	store := h.shaper.Store()
	entry, ok := store.Get(surface, op)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no observations for operation"})
		return
	}

	pol := h.shaper.Policy()
	cfg := pol.Config()
	allowed, ready := pol.Decide(store, surface, op)
	if allowed == nil {
		allowed = []string{}
	}

	ratios := make(map[string]float64, len(entry.FieldCounts))
	for p, n := range entry.FieldCounts {
		ratios[p] = policy.Ratio(n, entry.Observations)
	}

	c.JSON(http.StatusOK, EntryReport{
		Surface:         surface,
		Operation:       op,
		Observations:    entry.Observations,
		FieldCounts:     entry.FieldCounts,
		Ratios:          ratios,
		Allowed:         allowed,
		Ready:           ready,
		MinObservations: cfg.MinObservations,
		Threshold:       cfg.Threshold,
	})
}
