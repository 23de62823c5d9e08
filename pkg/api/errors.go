// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// TransportError is a network failure or a non-2xx response that is neither
// an authorization nor a validation failure.
//
// StatusCode is 0 when no response was received.
type TransportError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same request may succeed.
//
// Network failures, 5xx and 429 are transient. Cancellation is not.
func (e *TransportError) Transient() bool {
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		return false
	}
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// AuthorizationError is a 401 or 403 response.
//
// The client has already signalled the unauthorized handler (unless the
// request was the logout call) by the time the caller sees this error.
type AuthorizationError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// ValidationError is a 400, 409 or 422 response, or a payload rejected
// before it was sent. StatusCode is 0 for client-side rejections.
type ValidationError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string

	// Fields maps a field name to the failed rule, client-side only.
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ErrNotFound is matched by TransportErrors carrying a 404.
var ErrNotFound = errors.New("resource not found")

// Is lets errors.Is(err, ErrNotFound) match a 404 TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsTransient reports whether err is a TransportError worth retrying.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Transient()
	}
	return false
}

// Message returns the text a user should see for err.
//
// Backend-provided messages are surfaced verbatim.
func Message(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	var ae *AuthorizationError
	if errors.As(err, &ae) {
		return ae.Message
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// =============================================================================
// Classification
// =============================================================================

// errorBody is the error envelope the backend returns.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// messageFromBody extracts a human message from an error response body,
// preferring "message", then "error", then the status text.
func messageFromBody(status int, body []byte) string {
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		if m := strings.TrimSpace(eb.Message); m != "" {
			return m
		}
		if m := strings.TrimSpace(eb.Error); m != "" {
			return m
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", status)
}

// classify turns a non-2xx response into the matching error type.
func classify(method, path string, status int, body []byte) error {
	msg := messageFromBody(status, body)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthorizationError{Method: method, Path: path, StatusCode: status, Message: msg}
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return &ValidationError{Method: method, Path: path, StatusCode: status, Message: msg}
	default:
		return &TransportError{Method: method, Path: path, StatusCode: status, Message: msg}
	}
}
