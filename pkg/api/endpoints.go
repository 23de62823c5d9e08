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
	"fmt"
	"net/http"
)

// =============================================================================
// Auth
// =============================================================================

// Login posts credentials to /auth/login and returns the raw payload.
func (c *Client) Login(ctx context.Context, req LoginRequest) (AuthResponse, error) {
	var out AuthResponse
	if err := c.send(ctx, "auth.login", http.MethodPost, "/auth/login", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Register posts a new account to /auth/register and returns the raw payload.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthResponse, error) {
	var out AuthResponse
	if err := c.send(ctx, "auth.register", http.MethodPost, "/auth/register", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Logout posts to /auth/logout. A 401/403 here never signals the
// unauthorized handler.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, "auth.logout", http.MethodPost, logoutPath, nil, nil)
}

// Me fetches the user the current token belongs to.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out User
	if err := c.do(ctx, "auth.me", http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// Datasets
// =============================================================================

// ListDatasets returns every dataset visible to the caller.
func (c *Client) ListDatasets(ctx context.Context) ([]Dataset, error) {
	var out []Dataset
	err := c.do(ctx, "datasets.list", http.MethodGet, "/datasets", nil, &out)
	return out, err
}

// GetDataset returns one dataset.
func (c *Client) GetDataset(ctx context.Context, id int64) (*Dataset, error) {
	var out Dataset
	if err := c.do(ctx, "datasets.get", http.MethodGet, fmt.Sprintf("/datasets/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateDataset creates a dataset.
func (c *Client) CreateDataset(ctx context.Context, req DatasetCreate) (*Dataset, error) {
	var out Dataset
	if err := c.send(ctx, "datasets.create", http.MethodPost, "/datasets", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateDataset updates a dataset.
func (c *Client) UpdateDataset(ctx context.Context, id int64, req DatasetUpdate) (*Dataset, error) {
	var out Dataset
	if err := c.send(ctx, "datasets.update", http.MethodPut, fmt.Sprintf("/datasets/%d", id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDataset deletes a dataset.
func (c *Client) DeleteDataset(ctx context.Context, id int64) error {
	return c.do(ctx, "datasets.delete", http.MethodDelete, fmt.Sprintf("/datasets/%d", id), nil, nil)
}

// =============================================================================
// Prompts
// =============================================================================

// ListPrompts returns every prompt.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var out []Prompt
	err := c.do(ctx, "prompts.list", http.MethodGet, "/prompts", nil, &out)
	return out, err
}

// ListPromptsByDataset returns the prompts scoped to one dataset.
func (c *Client) ListPromptsByDataset(ctx context.Context, datasetID int64) ([]Prompt, error) {
	var out []Prompt
	err := c.do(ctx, "prompts.by_dataset", http.MethodGet, fmt.Sprintf("/prompts/dataset/%d", datasetID), nil, &out)
	return out, err
}

// GetPrompt returns one prompt.
func (c *Client) GetPrompt(ctx context.Context, id int64) (*Prompt, error) {
	var out Prompt
	if err := c.do(ctx, "prompts.get", http.MethodGet, fmt.Sprintf("/prompts/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePrompt creates a prompt.
func (c *Client) CreatePrompt(ctx context.Context, req PromptCreate) (*Prompt, error) {
	var out Prompt
	if err := c.send(ctx, "prompts.create", http.MethodPost, "/prompts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePrompt deletes a prompt.
func (c *Client) DeletePrompt(ctx context.Context, id int64) error {
	return c.do(ctx, "prompts.delete", http.MethodDelete, fmt.Sprintf("/prompts/%d", id), nil, nil)
}

// =============================================================================
// Predictions and Jobs
// =============================================================================

// ListPredictions returns every prediction.
func (c *Client) ListPredictions(ctx context.Context) ([]Prediction, error) {
	var out []Prediction
	err := c.do(ctx, "predictions.list", http.MethodGet, "/predictions", nil, &out)
	return out, err
}

// ListPredictionsByPrompt returns the predictions made from one prompt.
func (c *Client) ListPredictionsByPrompt(ctx context.Context, promptID int64) ([]Prediction, error) {
	var out []Prediction
	err := c.do(ctx, "predictions.by_prompt", http.MethodGet, fmt.Sprintf("/predictions/prompt/%d", promptID), nil, &out)
	return out, err
}

// GetPrediction returns one prediction.
func (c *Client) GetPrediction(ctx context.Context, id int64) (*Prediction, error) {
	var out Prediction
	if err := c.do(ctx, "predictions.get", http.MethodGet, fmt.Sprintf("/predictions/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePrediction submits a prediction; the backend queues a job for it.
func (c *Client) CreatePrediction(ctx context.Context, req PredictionCreate) (*Prediction, error) {
	var out Prediction
	if err := c.send(ctx, "predictions.create", http.MethodPost, "/predictions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPredictionJob returns the current state of a job.
func (c *Client) GetPredictionJob(ctx context.Context, id int64) (*PredictionJob, error) {
	var out PredictionJob
	if err := c.do(ctx, "jobs.get", http.MethodGet, fmt.Sprintf("/prediction-jobs/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// Users (admin)
// =============================================================================

// ListUsers returns every user.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	err := c.do(ctx, "users.list", http.MethodGet, "/users", nil, &out)
	return out, err
}

// GetUser returns one user.
func (c *Client) GetUser(ctx context.Context, id int64) (*User, error) {
	var out User
	if err := c.do(ctx, "users.get", http.MethodGet, fmt.Sprintf("/users/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentUser returns the caller's own record from /users/me.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var out User
	if err := c.do(ctx, "users.me", http.MethodGet, "/users/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateUser creates a user.
func (c *Client) CreateUser(ctx context.Context, req UserCreate) (*User, error) {
	var out User
	if err := c.send(ctx, "users.create", http.MethodPost, "/users", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateUser updates a user.
func (c *Client) UpdateUser(ctx context.Context, id int64, req UserUpdate) (*User, error) {
	var out User
	if err := c.send(ctx, "users.update", http.MethodPut, fmt.Sprintf("/users/%d", id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteUser deletes a user.
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.do(ctx, "users.delete", http.MethodDelete, fmt.Sprintf("/users/%d", id), nil, nil)
}

// =============================================================================
// Models (admin)
// =============================================================================

// ListModels returns every registered model.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var out []Model
	err := c.do(ctx, "models.list", http.MethodGet, "/models", nil, &out)
	return out, err
}

// GetModel returns one model.
func (c *Client) GetModel(ctx context.Context, id int64) (*Model, error) {
	var out Model
	if err := c.do(ctx, "models.get", http.MethodGet, fmt.Sprintf("/models/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateModel registers a model.
func (c *Client) CreateModel(ctx context.Context, req ModelCreate) (*Model, error) {
	var out Model
	if err := c.send(ctx, "models.create", http.MethodPost, "/models", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateModel updates a model.
func (c *Client) UpdateModel(ctx context.Context, id int64, req ModelUpdate) (*Model, error) {
	var out Model
	if err := c.send(ctx, "models.update", http.MethodPut, fmt.Sprintf("/models/%d", id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteModel removes a model.
func (c *Client) DeleteModel(ctx context.Context, id int64) error {
	return c.do(ctx, "models.delete", http.MethodDelete, fmt.Sprintf("/models/%d", id), nil, nil)
}
