// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package console

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/genflow-console/pkg/api"
)

// Stat is one dashboard figure. Err is set when its collection failed to
// load, in which case Count is zero.
type Stat struct {
	Count int
	Err   error
}

// Summary is the dashboard overview.
type Summary struct {
	Datasets    Stat
	Prompts     Stat
	Predictions Stat

	// ByStatus counts predictions per status. Empty if Predictions.Err
	// is set.
	ByStatus map[api.JobStatus]int
}

// Dashboard loads the three collections concurrently through the cache.
// A failed collection is reported on its Stat and does not fail the
// others.
//
// # Outputs
//
//   - Summary: Per-collection counts and errors.
//   - error: Only ctx cancellation, never a collection failure.
func (c *Console) Dashboard(ctx context.Context) (Summary, error) {
	var (
		mu  sync.Mutex
		sum = Summary{ByStatus: map[api.JobStatus]int{}}
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ds, err := c.Resources.Datasets(gctx)
		mu.Lock()
		sum.Datasets = Stat{Count: len(ds), Err: err}
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		ps, err := c.Resources.Prompts(gctx)
		mu.Lock()
		sum.Prompts = Stat{Count: len(ps), Err: err}
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		preds, err := c.Resources.Predictions(gctx)
		mu.Lock()
		defer mu.Unlock()
		sum.Predictions = Stat{Count: len(preds), Err: err}
		for _, p := range preds {
			sum.ByStatus[p.Status]++
		}
		return nil
	})

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}
