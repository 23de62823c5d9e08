// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api is the HTTP client adapter for the GenFlow REST API.
//
// A single Client carries the base URL, attaches the bearer token from a
// TokenSource to every request, and reports 401/403 responses to an
// unauthorized handler so the session can be torn down. Typed endpoint
// methods (Datasets, Prompts, ...) sit on top of one request path.
//
// # Error Taxonomy
//
//   - *TransportError: network failure or unclassified non-2xx
//   - *AuthorizationError: 401/403
//   - *ValidationError: 400/409/422, or a payload rejected client-side
//
// # Thread Safety
//
// Client is safe for concurrent use.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8080/api/v1"

// logoutPath is exempt from unauthorized signalling so a 401 on logout
// cannot recurse into another teardown.
const logoutPath = "/auth/logout"

// maxErrorBody caps how much of an error response is read for a message.
const maxErrorBody = 1 << 20

var tracer = otel.Tracer("genflow.api")

// =============================================================================
// Token Source
// =============================================================================

// TokenSource supplies the raw bearer token for outgoing requests.
// An empty string means no Authorization header is sent.
type TokenSource interface {
	Token() string
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func() string

// Token implements TokenSource.
func (f TokenSourceFunc) Token() string { return f() }

// StaticToken is a fixed TokenSource.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token() string { return string(s) }

type tokenOverrideKey struct{}

// WithToken returns a context whose requests use token instead of the
// client's TokenSource. The session uses this to resolve the user for a
// freshly issued token before the token is committed.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenOverrideKey{}, token)
}

// StripBearer removes a leading "Bearer " prefix and surrounding space.
func StripBearer(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, "Bearer ") {
		token = strings.TrimSpace(token[len("Bearer "):])
	}
	return token
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. "https://genflow.example.com/api/v1".
	// Normalised with NormalizeBaseURL.
	BaseURL string

	// Timeout bounds each request. Zero leaves the HTTP client's default.
	Timeout time.Duration

	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64

	// RateBurst is the limiter burst size. Default: 1.
	RateBurst int

	// HTTPClient overrides the transport. Default: a new http.Client.
	HTTPClient *http.Client

	// Logger receives request-level debug logs. Default: slog.Default().
	Logger *slog.Logger

	// Registerer receives the client's Prometheus collectors. Nil leaves
	// them unregistered.
	Registerer prometheus.Registerer
}

// NormalizeBaseURL trims whitespace and a trailing slash, and falls back to
// DefaultBaseURL when the result is empty.
func NormalizeBaseURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" {
		return DefaultBaseURL
	}
	return trimmed
}

// =============================================================================
// Client
// =============================================================================

// Client is the single HTTP channel to the GenFlow API.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *ClientMetrics

	mu             sync.RWMutex
	tokens         TokenSource
	onUnauthorized func()
}

// New creates a Client.
//
// # Inputs
//
//   - cfg: Client configuration. Zero values select defaults.
//
// # Outputs
//
//   - *Client: Ready client with no token source and no unauthorized
//     handler. Wire both with SetTokenSource and SetUnauthorizedHandler.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout > 0 && httpClient.Timeout == 0 {
		clone := *httpClient
		clone.Timeout = cfg.Timeout
		httpClient = &clone
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL: NormalizeBaseURL(cfg.BaseURL),
		http:    httpClient,
		limiter: limiter,
		logger:  logger.With("component", "api"),
		metrics: NewClientMetrics(cfg.Registerer),
	}
}

// BaseURL returns the normalised API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Metrics exposes the client's collectors.
func (c *Client) Metrics() *ClientMetrics {
	return c.metrics
}

// SetTokenSource installs the source of bearer tokens.
func (c *Client) SetTokenSource(ts TokenSource) {
	c.mu.Lock()
	c.tokens = ts
	c.mu.Unlock()
}

// SetUnauthorizedHandler installs the callback fired on 401/403.
//
// The handler is called synchronously on the requesting goroutine, before
// the error is returned, and never for the logout endpoint.
func (c *Client) SetUnauthorizedHandler(fn func()) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

func (c *Client) tokenFor(ctx context.Context) string {
	if override, ok := ctx.Value(tokenOverrideKey{}).(string); ok {
		return StripBearer(override)
	}
	c.mu.RLock()
	ts := c.tokens
	c.mu.RUnlock()
	if ts == nil {
		return ""
	}
	return StripBearer(ts.Token())
}

func (c *Client) signalUnauthorized(path string) {
	if strings.Contains(path, logoutPath) {
		return
	}
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	c.metrics.UnauthorizedSignalsTotal.Inc()
	if fn != nil {
		fn()
	}
}

// do performs one request.
//
// # Inputs
//
//   - ctx: Cancellation and optional token override.
//   - op: Operation name for metrics and spans, e.g. "datasets.list".
//   - method, path: HTTP method and path relative to the base URL.
//   - body: JSON-encoded when non-nil.
//   - out: JSON-decoded from a 2xx body when non-nil. An empty body is
//     then a TransportError.
//
// # Outputs
//
//   - error: One of the taxonomy types, or nil.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	ctx, span := tracer.Start(ctx, "api."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
	start := time.Now()
	defer func() {
		c.metrics.RequestsTotal.WithLabelValues(op, outcomeOf(err)).Inc()
		c.metrics.RequestDurationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if c.limiter != nil {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return &TransportError{Method: method, Path: path, Message: "rate limiter", Err: werr}
		}
	}

	var reader io.Reader
	if body != nil {
		payload, merr := json.Marshal(body)
		if merr != nil {
			return &ValidationError{Method: method, Path: path, Message: fmt.Sprintf("encode request: %v", merr)}
		}
		reader = bytes.NewReader(payload)
	}

	req, rerr := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if rerr != nil {
		return &TransportError{Method: method, Path: path, Message: "build request", Err: rerr}
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	token := c.tokenFor(ctx)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	span.SetAttributes(attribute.String("request.id", requestID))

	resp, herr := c.http.Do(req)
	if herr != nil {
		msg := "network error"
		if ctx.Err() != nil {
			msg = "request cancelled"
			herr = ctx.Err()
		}
		c.logger.Debug("request failed", "op", op, "request_id", requestID, "error", herr)
		return &TransportError{Method: method, Path: path, Message: msg, Err: herr}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.Debug("request completed",
		"op", op,
		"status", resp.StatusCode,
		"request_id", requestID,
		"token_present", token != "",
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		cerr := classify(method, path, resp.StatusCode, data)
		if _, ok := cerr.(*AuthorizationError); ok {
			c.signalUnauthorized(path)
		}
		return cerr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if derr := json.NewDecoder(resp.Body).Decode(out); derr != nil {
		msg := "invalid response body"
		if errors.Is(derr, io.EOF) {
			msg = "empty response body"
		}
		return &TransportError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    msg,
			Err:        derr,
		}
	}
	return nil
}

// send validates payload, then performs the request.
func (c *Client) send(ctx context.Context, op, method, path string, payload, out any) error {
	if err := Validate(payload); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ve.Method, ve.Path = method, path
		}
		return err
	}
	return c.do(ctx, op, method, path, payload, out)
}
