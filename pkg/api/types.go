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
	"encoding/json"
	"strings"
)

// =============================================================================
// Roles
// =============================================================================

// Role is the authorization role carried by a User.
type Role string

const (
	// RoleAdmin grants access to user and model administration.
	RoleAdmin Role = "ADMIN"

	// RoleUser is the default role for every authenticated user.
	RoleUser Role = "USER"
)

// ParseRole maps a backend role string to a Role.
//
// Only the exact value "ADMIN" yields RoleAdmin. Anything else, including
// an empty or unrecognised string, yields RoleUser.
func ParseRole(s string) Role {
	if s == string(RoleAdmin) {
		return RoleAdmin
	}
	return RoleUser
}

// UnmarshalJSON decodes a role, collapsing unknown values to RoleUser.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Non-string roles (null, numbers) are treated as unknown.
		*r = RoleUser
		return nil
	}
	*r = ParseRole(s)
	return nil
}

// =============================================================================
// Job Status
// =============================================================================

// JobStatus is the lifecycle state of a prediction and its job.
type JobStatus string

const (
	StatusQueued    JobStatus = "QUEUED"
	StatusRunning   JobStatus = "RUNNING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AllStatuses lists statuses in lifecycle order.
var AllStatuses = []JobStatus{StatusQueued, StatusRunning, StatusCompleted, StatusFailed}

// =============================================================================
// Resources
// =============================================================================

// User is an account on the GenFlow platform.
type User struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Role      Role   `json:"role"`
	Enabled   *bool  `json:"enabled,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// IsAdmin reports whether the user holds RoleAdmin.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// DisplayName returns the name when set, otherwise the email.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return u.Email
}

// Dataset groups prompts.
type Dataset struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
	CreatedBy   int64  `json:"createdBy,omitempty"`
}

// Prompt is a reusable text input, optionally scoped to a dataset.
type Prompt struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	DatasetID *int64 `json:"datasetId,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	CreatedBy int64  `json:"createdBy,omitempty"`
}

// Prediction is a request to run a prompt against a model.
type Prediction struct {
	ID           int64     `json:"id"`
	PromptID     int64     `json:"promptId"`
	ModelID      *int64    `json:"modelId,omitempty"`
	Status       JobStatus `json:"status"`
	Result       string    `json:"result,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	JobID        *int64    `json:"jobId,omitempty"`
	CreatedAt    string    `json:"createdAt,omitempty"`
	UpdatedAt    string    `json:"updatedAt,omitempty"`
	CreatedBy    int64     `json:"createdBy,omitempty"`
}

// PredictionJob is the asynchronous unit of work behind a Prediction.
type PredictionJob struct {
	ID           int64     `json:"id"`
	PredictionID int64     `json:"predictionId"`
	Status       JobStatus `json:"status"`
	Result       string    `json:"result,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    string    `json:"createdAt,omitempty"`
	UpdatedAt    string    `json:"updatedAt,omitempty"`
	CompletedAt  string    `json:"completedAt,omitempty"`
}

// Model is an inference backend registered by an administrator.
type Model struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Endpoint    string `json:"endpoint,omitempty"`
	Description string `json:"description,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

// AuthResponse is the undecoded body of a login or register call.
//
// The backend has shipped several shapes for this payload (token under
// different keys, user under "user" or "userResponse"), so the session
// layer inspects it with ordered extraction strategies instead of a fixed
// struct.
type AuthResponse map[string]any
