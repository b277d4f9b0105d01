// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"surface":    GetSurface(c),
			"request_id": GetRequestID(c),
		})
	})
	return r
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Surface Tests
// =============================================================================

func TestSurface(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"header present", "HOME_SCREEN", "HOME_SCREEN"},
		{"header trimmed", "  PROFILE ", "PROFILE"},
		{"header missing", "", "default_screen"},
		{"header blank", "   ", "default_screen"},
	}

	r := newRouter(Surface("x-screen-name", "default_screen"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Screen-Name", tt.header)
			}
			w := serve(r, req)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"surface":"`+tt.want+`"`)
		})
	}
}

func TestGetSurface_WithoutMiddleware(t *testing.T) {
	w := serve(newRouter(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, w.Body.String(), `"surface":""`)
}

// =============================================================================
// RequestID Tests
// =============================================================================

func TestRequestID_Generated(t *testing.T) {
	w := serve(newRouter(RequestID()), httptest.NewRequest(http.MethodGet, "/", nil))

	id := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Contains(t, w.Body.String(), id)
}

func TestRequestID_Propagated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")

	w := serve(newRouter(RequestID()), req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestRequestID_OversizedReplaced(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLen+1))

	w := serve(newRouter(RequestID()), req)
	_, err := uuid.Parse(w.Header().Get(RequestIDHeader))
	assert.NoError(t, err)
}
