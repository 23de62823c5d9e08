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
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/genflow-console/pkg/api"
)

func counterLoad(calls *int32, value any) LoadFunc {
	return func(ctx context.Context) (any, error) {
		atomic.AddInt32(calls, 1)
		return value, nil
	}
}

func TestCache_FreshEntryServedFromCache(t *testing.T) {
	c := NewCache()
	var calls int32
	key := All(KindDatasets)

	for i := 0; i < 3; i++ {
		v, err := c.Fetch(context.Background(), key, counterLoad(&calls, "v"))
		require.NoError(t, err)
		assert.Equal(t, "v", v)
	}
	assert.Equal(t, int32(1), calls)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestCache_StaleTimeExpires(t *testing.T) {
	c := NewCache(WithStaleTime(time.Minute))
	now := time.Now()
	c.now = func() time.Time { return now }

	var calls int32
	key := All(KindModels)
	_, err := c.Fetch(context.Background(), key, counterLoad(&calls, 1))
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	_, err = c.Fetch(context.Background(), key, counterLoad(&calls, 1))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls)

	now = now.Add(2 * time.Second)
	_, err = c.Fetch(context.Background(), key, counterLoad(&calls, 1))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls)
}

func TestCache_ConcurrentFetchesShareOneLoad(t *testing.T) {
	c := NewCache()
	var calls int32
	release := make(chan struct{})
	load := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Fetch(context.Background(), All(KindPrompts), load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
}

func TestCache_ConcurrentFetchesShareOneFailure(t *testing.T) {
	c := NewCache(WithRetry(1, time.Millisecond))
	var calls int32
	release := make(chan struct{})
	notFound := &api.TransportError{StatusCode: http.StatusNotFound, Message: "Dataset not found"}
	load := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil, notFound
	}
	key := One(KindDatasets, 9)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	values := make([]any, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i], errs[i] = c.Fetch(context.Background(), key, load)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i, err := range errs {
		assert.Same(t, notFound, err, "caller %d", i)
		assert.Nil(t, values[i])
	}

	_, _, ok := c.Peek(key)
	assert.False(t, ok, "failures are not cached")

	_, err := c.Fetch(context.Background(), key, counterLoad(&calls, "recovered"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCache_RetriesTransientOnce(t *testing.T) {
	c := NewCache(WithRetry(1, time.Millisecond))
	var calls int32
	load := func(ctx context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, &api.TransportError{StatusCode: http.StatusBadGateway, Message: "bad gateway"}
		}
		return "ok", nil
	}

	v, err := c.Fetch(context.Background(), All(KindUsers), load)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls)
}

func TestCache_RetryExhaustedSurfacesError(t *testing.T) {
	c := NewCache(WithRetry(1, time.Millisecond))
	var calls int32
	load := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &api.TransportError{Message: "connection refused"}
	}

	_, err := c.Fetch(context.Background(), All(KindUsers), load)
	require.Error(t, err)
	assert.Equal(t, int32(2), calls, "one attempt plus one retry")
	assert.Equal(t, int64(1), c.Stats().Errors)

	_, _, ok := c.Peek(All(KindUsers))
	assert.False(t, ok, "failures are not cached")
}

func TestCache_NonTransientNotRetried(t *testing.T) {
	c := NewCache(WithRetry(1, time.Millisecond))
	var calls int32
	load := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &api.AuthorizationError{StatusCode: http.StatusUnauthorized}
	}

	_, err := c.Fetch(context.Background(), All(KindUsers), load)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestCache_RetryWaitHonoursCancel(t *testing.T) {
	c := NewCache(WithRetry(1, time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, All(KindUsers), func(ctx context.Context) (any, error) {
		return nil, &api.TransportError{Message: "down"}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCache_MutateInvalidatesKindAndAlso(t *testing.T) {
	c := NewCache()
	ctx := context.Background()
	var calls int32
	for _, key := range []Key{All(KindPrompts), PromptsByDataset(5), One(KindPrompts, 1), All(KindDatasets), PredictionsByPrompt(3)} {
		_, err := c.Fetch(ctx, key, counterLoad(&calls, key.String()))
		require.NoError(t, err)
	}

	err := c.Mutate(ctx, Rule{Kind: KindPrompts, Also: []Key{PredictionsByPrompt(3)}}, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	for _, key := range []Key{All(KindPrompts), PromptsByDataset(5), One(KindPrompts, 1), PredictionsByPrompt(3)} {
		_, fresh, ok := c.Peek(key)
		assert.True(t, ok, key.String())
		assert.False(t, fresh, "%s should be stale", key)
	}
	_, fresh, _ := c.Peek(All(KindDatasets))
	assert.True(t, fresh, "other kinds untouched")
	assert.Equal(t, int64(4), c.Stats().Invalidations)
}

func TestCache_FailedMutationInvalidatesNothing(t *testing.T) {
	c := NewCache()
	ctx := context.Background()
	var calls int32
	_, err := c.Fetch(ctx, All(KindDatasets), counterLoad(&calls, "x"))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = c.Mutate(ctx, Rule{Kind: KindDatasets}, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	_, fresh, _ := c.Peek(All(KindDatasets))
	assert.True(t, fresh)
}

func TestCache_InFlightFetchAcrossInvalidationStoredStale(t *testing.T) {
	c := NewCache()
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Fetch(ctx, All(KindPrompts), func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "pre-mutation", nil
		})
	}()

	<-started
	require.NoError(t, c.Mutate(ctx, Rule{Kind: KindPrompts}, func(ctx context.Context) error { return nil }))

	// A fetch after the mutation must not join the older flight.
	var calls int32
	v, err := c.Fetch(ctx, All(KindPrompts), counterLoad(&calls, "post-mutation"))
	require.NoError(t, err)
	assert.Equal(t, "post-mutation", v)
	assert.Equal(t, int32(1), calls)

	close(release)
	<-done

	_, fresh, ok := c.Peek(All(KindPrompts))
	require.True(t, ok)
	assert.False(t, fresh, "pre-invalidation result lands stale")
}

func TestCache_Clear(t *testing.T) {
	c := NewCache()
	var calls int32
	_, err := c.Fetch(context.Background(), All(KindUsers), counterLoad(&calls, "admin-list"))
	require.NoError(t, err)

	c.Clear()

	_, _, ok := c.Peek(All(KindUsers))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestTypedFetch(t *testing.T) {
	c := NewCache()
	got, err := Fetch(context.Background(), c, All(KindDatasets), func(ctx context.Context) ([]api.Dataset, error) {
		return []api.Dataset{{ID: 1, Name: "d"}}, nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = Fetch(context.Background(), c, All(KindDatasets), func(ctx context.Context) (int, error) {
		return 0, nil
	})
	assert.Error(t, err, "type mismatch on a cached entry is reported")
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "datasets", All(KindDatasets).String())
	assert.Equal(t, "datasets/id/4", One(KindDatasets, 4).String())
	assert.Equal(t, "prompts/dataset/5", PromptsByDataset(5).String())
	assert.Equal(t, "predictions/prompt/8", PredictionsByPrompt(8).String())
}
