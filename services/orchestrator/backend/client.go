// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend forwards GraphQL requests to the upstream server.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTimeout bounds one backend round trip when none is configured.
const DefaultTimeout = 30 * time.Second

// DefaultMaxResponseBytes bounds how much of a backend response is read.
const DefaultMaxResponseBytes int64 = 64 << 20

// ErrResponseTooLarge is returned when the backend body exceeds the limit.
var ErrResponseTooLarge = errors.New("backend response too large")

// =============================================================================
// Errors
// =============================================================================

// Error reports a failed backend round trip.
//
// # Description
//
// StatusCode is 0 when no response was received (connection refused,
// timeout, unreadable body) and the upstream status otherwise.
type Error struct {
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("backend request failed: %v", e.Err)
	}
	return fmt.Sprintf("backend returned status %d: %v", e.StatusCode, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// =============================================================================
// Request / Response
// =============================================================================

// Request is the JSON body sent upstream.
type Request struct {
	Query     string          `json:"query"`
	Variables json.RawMessage `json:"variables,omitempty"`
}

// Response is the upstream answer, kept verbatim.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// OK reports whether the upstream answered with a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// =============================================================================
// Client
// =============================================================================

// Config configures a Client.
type Config struct {
	// URL is the upstream GraphQL endpoint.
	URL string

	// Timeout bounds one round trip. Zero uses DefaultTimeout.
	Timeout time.Duration

	// MaxResponseBytes bounds the body read. Zero uses DefaultMaxResponseBytes.
	MaxResponseBytes int64

	// Transport overrides the base transport. Nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// Client posts GraphQL documents to the backend.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	url      string
	http     *http.Client
	maxBytes int64
}

// New creates a Client whose transport is traced with otelhttp.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &Client{
		url: cfg.URL,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		maxBytes: cfg.MaxResponseBytes,
	}
}

// URL returns the upstream endpoint.
func (c *Client) URL() string { return c.url }

// Do forwards one GraphQL request.
//
// # Description
//
// Any response the backend produced is returned, whatever its status, so
// the caller decides how to treat non-2xx answers. An error is returned
// only when no complete response could be obtained.
//
// # Inputs
//
//   - ctx: Cancels the round trip.
//   - req: Query and variables to send.
//
// # Outputs
//
//   - *Response: Status, content type and body of the upstream answer.
//   - error: *Error when the request could not be completed.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("encoding request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}
	if int64(len(body)) > c.maxBytes {
		return nil, &Error{StatusCode: resp.StatusCode, Err: ErrResponseTooLarge}
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
