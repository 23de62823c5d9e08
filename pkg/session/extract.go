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

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/genflow-console/pkg/api"
)

// =============================================================================
// Token Extraction
// =============================================================================

// TokenStrategy looks for a token in an auth payload.
// It returns the raw token and true on a match.
type TokenStrategy func(resp api.AuthResponse) (string, bool)

// FieldToken matches a non-blank string under key, with any "Bearer "
// prefix removed.
func FieldToken(key string) TokenStrategy {
	return func(resp api.AuthResponse) (string, bool) {
		s, ok := resp[key].(string)
		if !ok {
			return "", false
		}
		token := api.StripBearer(s)
		if token == "" {
			return "", false
		}
		return token, true
	}
}

// DefaultTokenStrategies is the lookup order for token fields.
var DefaultTokenStrategies = []TokenStrategy{
	FieldToken("token"),
	FieldToken("accessToken"),
	FieldToken("jwt"),
	FieldToken("access_token"),
}

// ExtractToken runs strategies in order; the first match wins.
func ExtractToken(resp api.AuthResponse, strategies []TokenStrategy) (string, bool) {
	for _, strategy := range strategies {
		if token, ok := strategy(resp); ok {
			return token, true
		}
	}
	return "", false
}

// =============================================================================
// User Extraction
// =============================================================================

// UserStrategy looks for an embedded user object in an auth payload.
type UserStrategy func(resp api.AuthResponse) (*api.User, bool)

// FieldUser matches an object under key that carries an id and a string
// email. The role defaults to USER when missing or unknown.
func FieldUser(key string) UserStrategy {
	return func(resp api.AuthResponse) (*api.User, bool) {
		obj, ok := resp[key].(map[string]any)
		if !ok {
			return nil, false
		}
		return userFromMap(obj)
	}
}

// DefaultUserStrategies is the lookup order for embedded users.
var DefaultUserStrategies = []UserStrategy{
	FieldUser("user"),
	FieldUser("userResponse"),
}

// ExtractUser runs strategies in order; the first match wins.
func ExtractUser(resp api.AuthResponse, strategies []UserStrategy) (*api.User, bool) {
	for _, strategy := range strategies {
		if user, ok := strategy(resp); ok {
			return user, true
		}
	}
	return nil, false
}

func userFromMap(obj map[string]any) (*api.User, bool) {
	id, ok := parseID(obj["id"])
	if !ok {
		return nil, false
	}
	email, ok := obj["email"].(string)
	if !ok {
		return nil, false
	}

	user := &api.User{
		ID:    id,
		Email: email,
		Role:  api.RoleUser,
	}
	if name, ok := obj["name"].(string); ok {
		user.Name = name
	}
	if role, ok := obj["role"].(string); ok {
		user.Role = api.ParseRole(role)
	}
	if enabled, ok := obj["enabled"].(bool); ok {
		user.Enabled = &enabled
	}
	if created, ok := obj["createdAt"].(string); ok {
		user.CreatedAt = created
	}
	if updated, ok := obj["updatedAt"].(string); ok {
		user.UpdatedAt = updated
	}
	return user, true
}

// parseID accepts JSON numbers (float64 or json.Number) and numeric strings.
func parseID(v any) (int64, bool) {
	switch id := v.(type) {
	case float64:
		if id != math.Trunc(id) {
			return 0, false
		}
		return int64(id), true
	case json.Number:
		n, err := id.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
