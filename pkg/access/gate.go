// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package access decides whether a guarded console route may be shown.
//
// # Decision Flow
//
//	Evaluate(state, requirement, path)
//	   │
//	   ├─► not initialized      → Pending (no redirect)
//	   ├─► no user              → RedirectLogin  (/login?from=<path>)
//	   ├─► role not allowed     → RedirectFallback (requirement.Fallback)
//	   └─► otherwise            → Allow
//
// Evaluate is pure. Callers re-run it whenever the session changes.
package access

import (
	"net/url"
	"slices"

	"github.com/AleutianAI/genflow-console/pkg/api"
	"github.com/AleutianAI/genflow-console/pkg/session"
)

// LoginPath is where anonymous users are sent.
const LoginPath = "/login"

// RegisterPath is the public account-creation route.
const RegisterPath = "/register"

// DefaultFallback is where users lacking a required role are sent.
const DefaultFallback = "/dashboard"

// Outcome is the kind of decision.
type Outcome int

const (
	// Pending means the session is still bootstrapping. Render a
	// placeholder and do not redirect.
	Pending Outcome = iota

	// RedirectLogin means no user is signed in.
	RedirectLogin

	// RedirectFallback means the user lacks an allowed role.
	RedirectFallback

	// Allow means the protected content may render.
	Allow
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case RedirectLogin:
		return "redirect-login"
	case RedirectFallback:
		return "redirect-fallback"
	case Allow:
		return "allow"
	default:
		return "unknown"
	}
}

// Requirement guards one route.
type Requirement struct {
	// AllowedRoles lists roles that may see the route. Empty means any
	// signed-in user.
	AllowedRoles []api.Role

	// Fallback is the redirect target for disallowed roles.
	// Default: DefaultFallback.
	Fallback string
}

// Permits reports whether role satisfies the requirement.
func (r Requirement) Permits(role api.Role) bool {
	return len(r.AllowedRoles) == 0 || slices.Contains(r.AllowedRoles, role)
}

// Decision is the result of Evaluate.
type Decision struct {
	Outcome Outcome

	// Location is the redirect target. Empty unless Outcome is a redirect.
	Location string
}

// Redirect reports whether the decision navigates away.
func (d Decision) Redirect() bool {
	return d.Outcome == RedirectLogin || d.Outcome == RedirectFallback
}

// Evaluate decides what a guarded route shows for the given session.
//
// # Inputs
//
//   - state: Session snapshot. Only IsInitialized and User are read.
//   - req: Roles allowed on the route and the fallback location.
//   - currentPath: Path being guarded, preserved in the login redirect.
//
// # Outputs
//
//   - Decision: Outcome plus redirect location when applicable.
//
// # Thread Safety
//
// Pure function, safe for concurrent use.
func Evaluate(state session.State, req Requirement, currentPath string) Decision {
	if !state.IsInitialized {
		return Decision{Outcome: Pending}
	}
	if state.User == nil {
		return Decision{Outcome: RedirectLogin, Location: LoginLocation(currentPath)}
	}
	if !req.Permits(state.User.Role) {
		fallback := req.Fallback
		if fallback == "" {
			fallback = DefaultFallback
		}
		return Decision{Outcome: RedirectFallback, Location: fallback}
	}
	return Decision{Outcome: Allow}
}

// LoginLocation builds the login redirect that returns to from after
// sign-in.
func LoginLocation(from string) string {
	if from == "" {
		return LoginPath
	}
	return LoginPath + "?" + url.Values{"from": {from}}.Encode()
}
