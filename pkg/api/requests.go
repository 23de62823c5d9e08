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
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// requestValidate is the validator instance for outbound payloads.
// Initialized in init() with custom validators.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()

	// Roles are restricted to the two values the backend understands.
	_ = requestValidate.RegisterValidation("role", validateRole)
}

// validateRole accepts ADMIN and USER, and an empty value so optional
// role fields pass when omitted.
func validateRole(fl validator.FieldLevel) bool {
	switch Role(fl.Field().String()) {
	case "", RoleAdmin, RoleUser:
		return true
	default:
		return false
	}
}

// =============================================================================
// Payloads
// =============================================================================

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name,omitempty" validate:"max=255"`
}

// DatasetCreate is the body of POST /datasets.
type DatasetCreate struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description,omitempty"`
}

// DatasetUpdate is the body of PUT /datasets/:id. Nil fields are left
// unchanged by the backend.
type DatasetUpdate struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description,omitempty"`
}

// PromptCreate is the body of POST /prompts.
type PromptCreate struct {
	Name      string `json:"name" validate:"required,max=255"`
	Content   string `json:"content" validate:"required"`
	DatasetID *int64 `json:"datasetId,omitempty" validate:"omitempty,gt=0"`
}

// PredictionCreate is the body of POST /predictions.
type PredictionCreate struct {
	PromptID int64  `json:"promptId" validate:"required,gt=0"`
	ModelID  *int64 `json:"modelId,omitempty" validate:"omitempty,gt=0"`
}

// UserCreate is the body of POST /users.
type UserCreate struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name,omitempty"`
	Role     Role   `json:"role" validate:"required,role"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

// UserUpdate is the body of PUT /users/:id.
type UserUpdate struct {
	Email   *string `json:"email,omitempty" validate:"omitempty,email"`
	Name    *string `json:"name,omitempty"`
	Role    *Role   `json:"role,omitempty" validate:"omitempty,role"`
	Enabled *bool   `json:"enabled,omitempty"`
}

// ModelCreate is the body of POST /models.
type ModelCreate struct {
	Name        string `json:"name" validate:"required,max=255"`
	Endpoint    string `json:"endpoint,omitempty" validate:"omitempty,url"`
	Description string `json:"description,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// ModelUpdate is the body of PUT /models/:id.
type ModelUpdate struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Endpoint    *string `json:"endpoint,omitempty" validate:"omitempty,url"`
	Description *string `json:"description,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
}

// Validate checks a payload against its struct tags.
//
// # Outputs
//
//   - error: *ValidationError listing every failing field, or nil.
func Validate(payload any) error {
	err := requestValidate.Struct(payload)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Message: err.Error()}
	}

	fields := make(map[string]string, len(fieldErrs))
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return &ValidationError{
		Message: "invalid request: " + strings.Join(parts, ", "),
		Fields:  fields,
	}
}
