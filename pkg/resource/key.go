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

import "fmt"

// Kind names a resource collection.
type Kind string

const (
	KindDatasets    Kind = "datasets"
	KindPrompts     Kind = "prompts"
	KindPredictions Kind = "predictions"
	KindUsers       Kind = "users"
	KindModels      Kind = "models"
)

// Key addresses one cached collection or item.
//
// Scope "" is the whole collection. Other scopes are "id/<n>" for a single
// item and "<parent>/<n>" for a filtered collection.
type Key struct {
	Kind  Kind
	Scope string
}

// String renders the key as "kind" or "kind/scope".
func (k Key) String() string {
	if k.Scope == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + "/" + k.Scope
}

// All is the key of an entire collection.
func All(kind Kind) Key {
	return Key{Kind: kind}
}

// One is the key of a single item.
func One(kind Kind, id int64) Key {
	return Key{Kind: kind, Scope: fmt.Sprintf("id/%d", id)}
}

// PromptsByDataset is the key of the prompts scoped to a dataset.
func PromptsByDataset(datasetID int64) Key {
	return Key{Kind: KindPrompts, Scope: fmt.Sprintf("dataset/%d", datasetID)}
}

// PredictionsByPrompt is the key of the predictions made from a prompt.
func PredictionsByPrompt(promptID int64) Key {
	return Key{Kind: KindPredictions, Scope: fmt.Sprintf("prompt/%d", promptID)}
}

// Rule declares what a successful mutation invalidates: every entry of
// Kind, plus the Also keys (typically in other kinds).
type Rule struct {
	Kind Kind
	Also []Key
}
