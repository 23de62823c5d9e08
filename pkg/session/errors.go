// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import "errors"

var (
	// ErrNotInitialized is returned by Login and Register before Bootstrap
	// has resolved.
	ErrNotInitialized = errors.New("session not initialized")

	// ErrAuthInProgress is returned when a login or register is already
	// in flight, or a teardown is running.
	ErrAuthInProgress = errors.New("another session operation is in progress")

	// ErrSessionRevoked is returned by Login and Register when Logout ran
	// while they were in flight.
	ErrSessionRevoked = errors.New("session was logged out during authentication")

	// ErrNoToken is matched by AuthExtractionError.
	ErrNoToken = errors.New("No token in response")
)

// AuthExtractionError means a successful login or register response
// carried no recognisable token.
type AuthExtractionError struct {
	// Op is "login" or "register".
	Op string
}

func (e *AuthExtractionError) Error() string {
	return ErrNoToken.Error()
}

// Is lets errors.Is(err, ErrNoToken) match.
func (e *AuthExtractionError) Is(target error) bool {
	return target == ErrNoToken
}
