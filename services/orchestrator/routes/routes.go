// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/gqlshape/services/orchestrator/handlers"
)

// Options carries the handlers and collaborators routes are bound to.
type Options struct {
	GraphQL *handlers.GraphQLHandler
	Ledger  *handlers.LedgerHandler

	// Gatherer exposes /metrics when non-nil.
	Gatherer prometheus.Gatherer
}

// SetupRoutes registers every endpoint on router.
//
//	GET  /health
//	POST /graphql
//	GET  /metrics                        (when Gatherer is set)
//	GET  /v1/ledger
//	GET  /v1/ledger/:surface/:operation
func SetupRoutes(router *gin.Engine, opts Options) {
	router.GET("/health", handlers.HealthCheck)
	router.POST("/graphql", opts.GraphQL.Handle)

	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		ledgerGroup := v1.Group("/ledger")
		{
			ledgerGroup.GET("", opts.Ledger.Snapshot)
			ledgerGroup.GET("/:surface/:operation", opts.Ledger.Entry)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}
