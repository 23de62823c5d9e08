// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package access

import (
	"strings"

	"github.com/AleutianAI/genflow-console/pkg/api"
	"github.com/AleutianAI/genflow-console/pkg/session"
)

// Route is one guarded console location.
type Route struct {
	// Pattern is a slash-separated path. A ":name" segment matches any
	// single non-empty segment.
	Pattern string

	Requirement Requirement

	// Public routes render for everyone, signed in or not, and never wait
	// for the session to bootstrap.
	Public bool
}

var adminOnly = Requirement{AllowedRoles: []api.Role{api.RoleAdmin}, Fallback: DefaultFallback}

// Routes is the console route table.
var Routes = []Route{
	{Pattern: LoginPath, Public: true},
	{Pattern: RegisterPath, Public: true},
	{Pattern: "/dashboard"},
	{Pattern: "/datasets"},
	{Pattern: "/prompts"},
	{Pattern: "/predictions"},
	{Pattern: "/predictions/jobs/:id"},
	{Pattern: "/admin", Requirement: adminOnly},
	{Pattern: "/admin/users", Requirement: adminOnly},
	{Pattern: "/admin/models", Requirement: adminOnly},
}

// Lookup finds the route matching path. Query strings and trailing
// slashes are ignored.
func Lookup(path string) (Route, bool) {
	clean := normalizePath(path)
	for _, r := range Routes {
		if matchPattern(r.Pattern, clean) {
			return r, true
		}
	}
	return Route{}, false
}

// Resolve evaluates path against the route table. Public routes always
// allow. The root and unknown paths redirect to DefaultFallback.
func Resolve(state session.State, path string) Decision {
	route, ok := Lookup(path)
	if !ok {
		return Decision{Outcome: RedirectFallback, Location: DefaultFallback}
	}
	if route.Public {
		return Decision{Outcome: Allow}
	}
	return Evaluate(state, route.Requirement, normalizePath(path))
}

func normalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

func matchPattern(pattern, path string) bool {
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	xs := strings.Split(strings.Trim(path, "/"), "/")
	if len(ps) != len(xs) {
		return false
	}
	for i, seg := range ps {
		if strings.HasPrefix(seg, ":") {
			if xs[i] == "" {
				return false
			}
			continue
		}
		if seg != xs[i] {
			return false
		}
	}
	return true
}
