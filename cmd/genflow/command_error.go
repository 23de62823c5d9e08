// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/genflow-console/pkg/access"
	"github.com/AleutianAI/genflow-console/pkg/api"
)

// Exit codes.
const (
	exitFailure    = 1
	exitAccess     = 3
	exitValidation = 4
)

// AccessError reports that the route gate refused a command.
//
// # Description
//
// Carries the gate decision so callers can tell "log in first" apart from
// "your role may not do this".
//
// # Example
//
//	var ae *AccessError
//	if errors.As(err, &ae) && ae.Decision.Outcome == access.RedirectLogin {
//	    fmt.Println("run genflow login")
//	}
type AccessError struct {
	// Path is the console route the command maps to.
	Path string

	// Decision is the gate result. Never Allow.
	Decision access.Decision
}

// Error returns a user-facing message.
func (e *AccessError) Error() string {
	switch e.Decision.Outcome {
	case access.RedirectLogin:
		return fmt.Sprintf("%s requires a session: run `genflow login`", e.Path)
	case access.RedirectFallback:
		return fmt.Sprintf("%s is not available to your role", e.Path)
	default:
		return fmt.Sprintf("%s is not available yet", e.Path)
	}
}

// opError prefixes the backend message with the failed operation while
// keeping the typed error reachable for exitCode.
type opError struct {
	op  string
	err error
}

func (e *opError) Error() string {
	return e.op + " failed: " + api.Message(e.err)
}

func (e *opError) Unwrap() error {
	return e.err
}

// failed wraps err for display. Nil stays nil.
func failed(op string, err error) error {
	if err == nil {
		return nil
	}
	return &opError{op: op, err: err}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var (
		accessErr *AccessError
		authErr   *api.AuthorizationError
		valErr    *api.ValidationError
	)
	switch {
	case errors.As(err, &accessErr), errors.As(err, &authErr):
		return exitAccess
	case errors.As(err, &valErr):
		return exitValidation
	default:
		return exitFailure
	}
}

// gate checks path against the route table for the current session.
func (a *app) gate(path string) error {
	d := a.console.Gate(path)
	if d.Outcome == access.Allow {
		return nil
	}
	a.logger.Debug("command gated", "path", path, "outcome", d.Outcome.String(), "location", d.Location)
	return &AccessError{Path: path, Decision: d}
}
