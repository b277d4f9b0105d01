// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ForwardsQueryAndVariables(t *testing.T) {
	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/graphql-response+json")
		_, _ = w.Write([]byte(`{"data":{"user":{"name":"a"}}}`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL})
	resp, err := c.Do(context.Background(), Request{
		Query:     "{ user { name } }",
		Variables: json.RawMessage(`{"id":1}`),
	})
	require.NoError(t, err)

	assert.True(t, resp.OK())
	assert.Equal(t, "application/graphql-response+json", resp.ContentType)
	assert.JSONEq(t, `{"data":{"user":{"name":"a"}}}`, string(resp.Body))
	assert.JSONEq(t, `"{ user { name } }"`, string(got["query"]))
	assert.JSONEq(t, `{"id":1}`, string(got["variables"]))
}

func TestClient_OmitsMissingVariables(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		raw = string(data)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL}).Do(context.Background(), Request{Query: "{ a }"})
	require.NoError(t, err)
	assert.NotContains(t, raw, "variables")
}

func TestClient_NonOKIsReturnedNotErrored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`down`))
	}))
	defer srv.Close()

	resp, err := New(Config{URL: srv.URL}).Do(context.Background(), Request{Query: "{ a }"})
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestClient_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(Config{URL: url}).Do(context.Background(), Request{Query: "{ a }"})
	require.Error(t, err)

	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 0, be.StatusCode)
	assert.Contains(t, be.Error(), "backend request failed")
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(Config{URL: srv.URL, Timeout: 50 * time.Millisecond}).
		Do(context.Background(), Request{Query: "{ a }"})

	var be *Error
	require.True(t, errors.As(err, &be))
}

func TestClient_ResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL, MaxResponseBytes: 10}).
		Do(context.Background(), Request{Query: "{ a }"})

	assert.ErrorIs(t, err, ErrResponseTooLarge)
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, http.StatusOK, be.StatusCode)
}
