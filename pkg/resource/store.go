// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resource

import (
	"context"

	"github.com/AleutianAI/genflow-console/pkg/api"
)

// Backend is the API surface the Store reads and writes through.
// *api.Client satisfies it.
type Backend interface {
	ListDatasets(ctx context.Context) ([]api.Dataset, error)
	GetDataset(ctx context.Context, id int64) (*api.Dataset, error)
	CreateDataset(ctx context.Context, req api.DatasetCreate) (*api.Dataset, error)
	UpdateDataset(ctx context.Context, id int64, req api.DatasetUpdate) (*api.Dataset, error)
	DeleteDataset(ctx context.Context, id int64) error

	ListPrompts(ctx context.Context) ([]api.Prompt, error)
	ListPromptsByDataset(ctx context.Context, datasetID int64) ([]api.Prompt, error)
	GetPrompt(ctx context.Context, id int64) (*api.Prompt, error)
	CreatePrompt(ctx context.Context, req api.PromptCreate) (*api.Prompt, error)
	DeletePrompt(ctx context.Context, id int64) error

	ListPredictions(ctx context.Context) ([]api.Prediction, error)
	ListPredictionsByPrompt(ctx context.Context, promptID int64) ([]api.Prediction, error)
	GetPrediction(ctx context.Context, id int64) (*api.Prediction, error)
	CreatePrediction(ctx context.Context, req api.PredictionCreate) (*api.Prediction, error)

	ListUsers(ctx context.Context) ([]api.User, error)
	GetUser(ctx context.Context, id int64) (*api.User, error)
	CreateUser(ctx context.Context, req api.UserCreate) (*api.User, error)
	UpdateUser(ctx context.Context, id int64, req api.UserUpdate) (*api.User, error)
	DeleteUser(ctx context.Context, id int64) error

	ListModels(ctx context.Context) ([]api.Model, error)
	GetModel(ctx context.Context, id int64) (*api.Model, error)
	CreateModel(ctx context.Context, req api.ModelCreate) (*api.Model, error)
	UpdateModel(ctx context.Context, id int64, req api.ModelUpdate) (*api.Model, error)
	DeleteModel(ctx context.Context, id int64) error
}

var _ Backend = (*api.Client)(nil)

// Store is the cached, invalidation-aware view of every GenFlow resource.
type Store struct {
	backend Backend
	cache   *Cache
}

// NewStore wires a backend to a cache.
func NewStore(backend Backend, cache *Cache) *Store {
	return &Store{backend: backend, cache: cache}
}

// Cache returns the underlying cache.
func (s *Store) Cache() *Cache {
	return s.cache
}

// =============================================================================
// Datasets
// =============================================================================

// Datasets returns every dataset.
func (s *Store) Datasets(ctx context.Context) ([]api.Dataset, error) {
	return Fetch(ctx, s.cache, All(KindDatasets), s.backend.ListDatasets)
}

// Dataset returns one dataset by id.
func (s *Store) Dataset(ctx context.Context, id int64) (*api.Dataset, error) {
	return Fetch(ctx, s.cache, One(KindDatasets, id), func(ctx context.Context) (*api.Dataset, error) {
		return s.backend.GetDataset(ctx, id)
	})
}

// CreateDataset creates a dataset and invalidates every dataset entry.
func (s *Store) CreateDataset(ctx context.Context, req api.DatasetCreate) (*api.Dataset, error) {
	return Mutate(ctx, s.cache, Rule{Kind: KindDatasets}, func(ctx context.Context) (*api.Dataset, error) {
		return s.backend.CreateDataset(ctx, req)
	})
}

// UpdateDataset changes a dataset and invalidates every dataset entry.
func (s *Store) UpdateDataset(ctx context.Context, id int64, req api.DatasetUpdate) (*api.Dataset, error) {
	return Mutate(ctx, s.cache, Rule{Kind: KindDatasets}, func(ctx context.Context) (*api.Dataset, error) {
		return s.backend.UpdateDataset(ctx, id, req)
	})
}

// DeleteDataset also invalidates the prompts scoped to the dataset.
func (s *Store) DeleteDataset(ctx context.Context, id int64) error {
	rule := Rule{Kind: KindDatasets, Also: []Key{PromptsByDataset(id)}}
	return s.cache.Mutate(ctx, rule, func(ctx context.Context) error {
		return s.backend.DeleteDataset(ctx, id)
	})
}

// =============================================================================
// Prompts
// =============================================================================

// Prompts returns every prompt.
func (s *Store) Prompts(ctx context.Context) ([]api.Prompt, error) {
	return Fetch(ctx, s.cache, All(KindPrompts), s.backend.ListPrompts)
}

// PromptsByDataset returns the prompts attached to datasetID.
func (s *Store) PromptsByDataset(ctx context.Context, datasetID int64) ([]api.Prompt, error) {
	return Fetch(ctx, s.cache, PromptsByDataset(datasetID), func(ctx context.Context) ([]api.Prompt, error) {
		return s.backend.ListPromptsByDataset(ctx, datasetID)
	})
}

// Prompt returns one prompt by id.
func (s *Store) Prompt(ctx context.Context, id int64) (*api.Prompt, error) {
	return Fetch(ctx, s.cache, One(KindPrompts, id), func(ctx context.Context) (*api.Prompt, error) {
		return s.backend.GetPrompt(ctx, id)
	})
}

// CreatePrompt invalidates every prompt collection, including the
// dataset-scoped ones.
func (s *Store) CreatePrompt(ctx context.Context, req api.PromptCreate) (*api.Prompt, error) {
	return Mutate(ctx, s.cache, Rule{Kind: KindPrompts}, func(ctx context.Context) (*api.Prompt, error) {
		return s.backend.CreatePrompt(ctx, req)
	})
}

// DeletePrompt also invalidates the predictions made from the prompt.
func (s *Store) DeletePrompt(ctx context.Context, id int64) error {
	rule := Rule{Kind: KindPrompts, Also: []Key{PredictionsByPrompt(id)}}
	return s.cache.Mutate(ctx, rule, func(ctx context.Context) error {
		return s.backend.DeletePrompt(ctx, id)
	})
}

// =============================================================================
// Predictions
// =============================================================================

// Predictions returns every prediction.
func (s *Store) Predictions(ctx context.Context) ([]api.Prediction, error) {
	return Fetch(ctx, s.cache, All(KindPredictions), s.backend.ListPredictions)
}

// PredictionsByPrompt returns the predictions made from promptID.
func (s *Store) PredictionsByPrompt(ctx context.Context, promptID int64) ([]api.Prediction, error) {
	return Fetch(ctx, s.cache, PredictionsByPrompt(promptID), func(ctx context.Context) ([]api.Prediction, error) {
		return s.backend.ListPredictionsByPrompt(ctx, promptID)
	})
}

// Prediction returns one prediction by id.
func (s *Store) Prediction(ctx context.Context, id int64) (*api.Prediction, error) {
	return Fetch(ctx, s.cache, One(KindPredictions, id), func(ctx context.Context) (*api.Prediction, error) {
		return s.backend.GetPrediction(ctx, id)
	})
}

// CreatePrediction queues a prediction and invalidates the prediction
// lists, including the one scoped to its prompt.
func (s *Store) CreatePrediction(ctx context.Context, req api.PredictionCreate) (*api.Prediction, error) {
	rule := Rule{Kind: KindPredictions, Also: []Key{PredictionsByPrompt(req.PromptID)}}
	return Mutate(ctx, s.cache, rule, func(ctx context.Context) (*api.Prediction, error) {
		return s.backend.CreatePrediction(ctx, req)
	})
}

// InvalidatePredictions marks every prediction entry stale. A finished job
// changes its prediction's status and result server-side, so the console
// calls this when a watched job reaches a terminal status.
func (s *Store) InvalidatePredictions() {
	s.cache.InvalidateKind(KindPredictions)
}

// =============================================================================
// Users
// =============================================================================

// Users returns every user account.
func (s *Store) Users(ctx context.Context) ([]api.User, error) {
	return Fetch(ctx, s.cache, All(KindUsers), s.backend.ListUsers)
}

// User returns one user account by id.
func (s *Store) User(ctx context.Context, id int64) (*api.User, error) {
	return Fetch(ctx, s.cache, One(KindUsers, id), func(ctx context.Context) (*api.User, error) {
		return s.backend.GetUser(ctx, id)
	})
}

// CreateUser creates an account and invalidates every user entry.
func (s *Store) CreateUser(ctx context.Context, req api.UserCreate) (*api.User, error) {
	return Mutate(ctx, s.cache, Rule{Kind: KindUsers}, func(ctx context.Context) (*api.User, error) {
		return s.backend.CreateUser(ctx, req)
	})
}

// UpdateUser changes role or enabled state and invalidates every user entry.
func (s *Store) UpdateUser(ctx context.Context, id int64, req api.UserUpdate) (*api.User, error) {
	return Mutate(ctx, s.cache, Rule{Kind: KindUsers}, func(ctx context.Context) (*api.User, error) {
		return s.backend.UpdateUser(ctx, id, req)
	})
}

// DeleteUser removes an account and invalidates every user entry.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.cache.Mutate(ctx, Rule{Kind: KindUsers}, func(ctx context.Context) error {
		return s.backend.DeleteUser(ctx, id)
	})
}

// =============================================================================
// Models
// =============================================================================

// Models returns every registered model.
func (s *Store) Models(ctx context.Context) ([]api.Model, error) {
	return Fetch(ctx, s.cache, All(KindModels), s.backend.ListModels)
}

// Model returns one model by id.
func (s *Store) Model(ctx context.Context, id int64) (*api.Model, error) {
	return Fetch(ctx, s.cache, One(KindModels, id), func(ctx context.Context) (*api.Model, error) {
		return s.backend.GetModel(ctx, id)
	})
}

// CreateModel registers a model and invalidates every model entry.
func (s *Store) CreateModel(ctx context.Context, req api.ModelCreate) (*api.Model, error) {
	return Mutate(ctx, s.cache, Rule{Kind: KindModels}, func(ctx context.Context) (*api.Model, error) {
		return s.backend.CreateModel(ctx, req)
	})
}

// UpdateModel changes a model and invalidates every model entry.
func (s *Store) UpdateModel(ctx context.Context, id int64, req api.ModelUpdate) (*api.Model, error) {
	return Mutate(ctx, s.cache, Rule{Kind: KindModels}, func(ctx context.Context) (*api.Model, error) {
		return s.backend.UpdateModel(ctx, id, req)
	})
}

// DeleteModel removes a model and invalidates every model entry.
func (s *Store) DeleteModel(ctx context.Context, id int64) error {
	return s.cache.Mutate(ctx, Rule{Kind: KindModels}, func(ctx context.Context) error {
		return s.backend.DeleteModel(ctx, id)
	})
}
