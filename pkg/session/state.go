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

import "github.com/AleutianAI/genflow-console/pkg/api"

// =============================================================================
// Phases
// =============================================================================

// Phase is the lifecycle position of the session.
type Phase int

const (
	// PhaseUninitialized is the state before Bootstrap.
	PhaseUninitialized Phase = iota

	// PhaseBootstrapping means the persisted token is being validated.
	PhaseBootstrapping

	// PhaseAnonymous means no user is signed in.
	PhaseAnonymous

	// PhaseAuthenticating means a login or register call is in flight.
	// Unauthorized signals are dropped in this phase.
	PhaseAuthenticating

	// PhaseAuthenticated means a token and user are held.
	PhaseAuthenticated

	// PhaseTearingDown means local state is being cleared.
	PhaseTearingDown

	// phaseResume is a table target meaning "the phase held before
	// AuthStart". It is never stored.
	phaseResume
)

// String returns the phase name for logs and CLI output.
func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseAnonymous:
		return "anonymous"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseTearingDown:
		return "tearing_down"
	default:
		return "unknown"
	}
}

// =============================================================================
// Events
// =============================================================================

// Event drives a phase transition.
type Event int

const (
	EventBootstrapStart Event = iota
	EventBootstrapSkip
	EventBootstrapSucceeded
	EventBootstrapFailed
	EventAuthStart
	EventAuthSucceeded
	EventAuthFailed
	EventUnauthorized
	EventLogout
	EventTeardownDone
)

// String returns the event name for logs.
func (e Event) String() string {
	switch e {
	case EventBootstrapStart:
		return "bootstrap_start"
	case EventBootstrapSkip:
		return "bootstrap_skip"
	case EventBootstrapSucceeded:
		return "bootstrap_succeeded"
	case EventBootstrapFailed:
		return "bootstrap_failed"
	case EventAuthStart:
		return "auth_start"
	case EventAuthSucceeded:
		return "auth_succeeded"
	case EventAuthFailed:
		return "auth_failed"
	case EventUnauthorized:
		return "unauthorized"
	case EventLogout:
		return "logout"
	case EventTeardownDone:
		return "teardown_done"
	default:
		return "unknown"
	}
}

// transitions is the complete session state machine. A (phase, event)
// pair missing from the table is rejected; for teardown events that means
// the signal is dropped.
//
// Self-loops on Bootstrapping and Authenticating for teardown events
// record a revocation instead of changing phase: the in-flight operation
// resolves to Anonymous when it finishes. Before Bootstrap only an explicit
// logout clears the persisted token; a 401 cannot concern a token that has
// not been loaded yet.
var transitions = map[Phase]map[Event]Phase{
	PhaseUninitialized: {
		EventBootstrapStart: PhaseBootstrapping,
		EventLogout:         PhaseUninitialized,
	},
	PhaseBootstrapping: {
		EventBootstrapSkip:      PhaseAnonymous,
		EventBootstrapSucceeded: PhaseAuthenticated,
		EventBootstrapFailed:    PhaseAnonymous,
		EventUnauthorized:       PhaseBootstrapping,
		EventLogout:             PhaseBootstrapping,
	},
	PhaseAnonymous: {
		EventAuthStart: PhaseAuthenticating,
		EventLogout:    PhaseTearingDown,
	},
	PhaseAuthenticating: {
		EventAuthSucceeded: PhaseAuthenticated,
		EventAuthFailed:    phaseResume,
		EventLogout:        PhaseAuthenticating,
	},
	PhaseAuthenticated: {
		EventAuthStart:    PhaseAuthenticating,
		EventUnauthorized: PhaseTearingDown,
		EventLogout:       PhaseTearingDown,
	},
	PhaseTearingDown: {
		EventTeardownDone: PhaseAnonymous,
	},
}

// next looks up the target phase for an event.
func next(from Phase, ev Event) (Phase, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}

// =============================================================================
// Snapshot
// =============================================================================

// State is an immutable snapshot of the session.
type State struct {
	Phase         Phase
	Token         string
	User          *api.User
	IsLoading     bool
	IsInitialized bool
}

// Authenticated reports whether a user is present.
func (s State) Authenticated() bool {
	return s.User != nil
}
