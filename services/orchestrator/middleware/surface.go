// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides Gin middleware for the shaping proxy.
//
// # Description
//
// Two middlewares run in front of every route:
//
//	Request
//	   │
//	   ├─► RequestID: assign or propagate X-Request-ID
//	   │
//	   ├─► Surface: read the surface header, store it in context
//	   │
//	   ▼
//	Handler (retrieves via GetSurface / GetRequestID)
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

const surfaceKey = "gqlshape_surface"

// =============================================================================
// Context Helpers
// =============================================================================

// SetSurface stores the resolved client surface in the Gin context.
func SetSurface(c *gin.Context, surface string) {
	c.Set(surfaceKey, surface)
}

// GetSurface retrieves the client surface from the Gin context.
//
// # Outputs
//
//   - string: The surface, or "" if Surface middleware did not run.
//     The shaper maps "" to the default surface.
func GetSurface(c *gin.Context) string {
	if v, exists := c.Get(surfaceKey); exists {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// =============================================================================
// Surface Middleware
// =============================================================================

// Surface creates a middleware that resolves the client surface.
//
// # Description
//
// The surface is read from header, trimmed. A missing or blank header
// resolves to fallback.
//
// # Inputs
//
//   - header: Header name, e.g. "x-screen-name". Matching is case-insensitive.
//   - fallback: Surface used when the header is absent.
//
// # Examples
//
//	router.Use(middleware.Surface("x-screen-name", "default_screen"))
func Surface(header, fallback string) gin.HandlerFunc {
	return func(c *gin.Context) {
		surface := strings.TrimSpace(c.GetHeader(header))
		if surface == "" {
			surface = fallback
		}
		SetSurface(c, surface)
		c.Next()
	}
}
