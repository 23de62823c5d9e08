// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resource caches API collections and keeps them consistent with
// mutations.
//
// Reads go through Cache.Fetch, which serves fresh entries, shares one
// in-flight request per key, and retries a transient failure once.
// Writes go through Cache.Mutate, which marks every entry of the mutated
// kind (and any declared dependents) stale before returning, so the next
// read always refetches.
//
// Store layers typed operations for each GenFlow resource on top.
package resource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/genflow-console/pkg/api"
)

// =============================================================================
// Options
// =============================================================================

// Options configures a Cache.
type Options struct {
	// StaleTime is how long an entry is served without refetching.
	// Default: 60s.
	StaleTime time.Duration

	// MaxRetries is the number of retries after a transient failure.
	// Default: 1.
	MaxRetries int

	// RetryDelay is the pause before a retry. Default: 1s.
	RetryDelay time.Duration

	// Logger receives retry and invalidation logs.
	Logger *slog.Logger
}

// DefaultOptions returns the defaults used by NewCache.
func DefaultOptions() Options {
	return Options{
		StaleTime:  60 * time.Second,
		MaxRetries: 1,
		RetryDelay: time.Second,
	}
}

// Option mutates Options.
type Option func(*Options)

// WithStaleTime sets Options.StaleTime.
func WithStaleTime(d time.Duration) Option {
	return func(o *Options) { o.StaleTime = d }
}

// WithRetry sets Options.MaxRetries and Options.RetryDelay.
func WithRetry(max int, delay time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = max
		o.RetryDelay = delay
	}
}

// WithLogger sets Options.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// =============================================================================
// Cache
// =============================================================================

// LoadFunc fetches the value for one key from the network.
type LoadFunc func(ctx context.Context) (any, error)

type entry struct {
	value     any
	fetchedAt time.Time
	stale     bool
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries       int
	Hits          int64
	Misses        int64
	Invalidations int64
	Errors        int64
}

// Cache is a keyed, invalidation-aware cache of API results.
//
// # Thread Safety
//
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry

	// gens counts invalidations per kind. A fetch that started under an
	// older generation stores its result stale.
	gens  map[Kind]uint64
	epoch uint64

	flight  singleflight.Group
	options Options
	logger  *slog.Logger
	now     func() time.Time

	hits          int64
	misses        int64
	invalidations int64
	errors        int64
}

// NewCache creates an empty cache.
func NewCache(opts ...Option) *Cache {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[Key]*entry),
		gens:    make(map[Kind]uint64),
		options: options,
		logger:  logger.With("component", "resource"),
		now:     time.Now,
	}
}

// generationLocked is the version a fetch of key must still match when it
// completes.
func (c *Cache) generationLocked(kind Kind) uint64 {
	return c.epoch<<32 | c.gens[kind]
}

// Fetch returns the value for key, loading it when no fresh entry exists.
//
// # Description
//
// Concurrent fetches of the same key share one load and its outcome.
// A transient failure (network, 5xx, 429) is retried up to MaxRetries
// times after RetryDelay; other errors are returned at once. Nothing is
// cached on failure.
//
// # Inputs
//
//   - ctx: Cancellation for the load and the retry wait.
//   - key: Cache key.
//   - load: Network call producing the value.
//
// # Outputs
//
//   - any: The value.
//   - error: The last load error, or ctx.Err() if cancelled while waiting.
func (c *Cache) Fetch(ctx context.Context, key Key, load LoadFunc) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !e.stale && c.now().Sub(e.fetchedAt) < c.options.StaleTime {
		value := e.value
		c.mu.Unlock()
		atomic.AddInt64(&c.hits, 1)
		recordHit(ctx, key.Kind)
		return value, nil
	}
	gen := c.generationLocked(key.Kind)
	c.mu.Unlock()

	atomic.AddInt64(&c.misses, 1)
	recordMiss(ctx, key.Kind)

	// Fetches started after an invalidation must not join one started
	// before it.
	flightKey := fmt.Sprintf("%s@%d", key, gen)
	value, err, _ := c.flight.Do(flightKey, func() (interface{}, error) {
		return c.loadAndStore(ctx, key, gen, load)
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (c *Cache) loadAndStore(ctx context.Context, key Key, gen uint64, load LoadFunc) (any, error) {
	ctx, span := startFetchSpan(ctx, key)
	defer span.End()
	start := time.Now()

	value, err := c.loadWithRetry(ctx, key, load)
	recordFetch(ctx, key.Kind, time.Since(start), err == nil)
	if err != nil {
		atomic.AddInt64(&c.errors, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = &entry{
		value:     value,
		fetchedAt: c.now(),
		stale:     c.generationLocked(key.Kind) != gen,
	}
	c.mu.Unlock()
	return value, nil
}

func (c *Cache) loadWithRetry(ctx context.Context, key Key, load LoadFunc) (any, error) {
	for attempt := 0; ; attempt++ {
		value, err := load(ctx)
		if err == nil {
			return value, nil
		}
		if attempt >= c.options.MaxRetries || !api.IsTransient(err) {
			return nil, err
		}

		c.logger.Warn("fetch failed, retrying",
			"key", key.String(),
			"attempt", attempt+1,
			"delay", c.options.RetryDelay,
			"error", err,
		)
		recordRetry(ctx, key.Kind)

		timer := time.NewTimer(c.options.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Mutate runs do and, only if it succeeds, marks every entry of
// rule.Kind and every rule.Also key stale before returning.
func (c *Cache) Mutate(ctx context.Context, rule Rule, do func(ctx context.Context) error) error {
	ctx, span := startMutateSpan(ctx, rule)
	defer span.End()

	if err := do(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	n := c.InvalidateKind(rule.Kind)
	n += c.Invalidate(rule.Also...)
	recordInvalidations(ctx, rule.Kind, n)
	c.logger.Debug("mutation invalidated entries", "kind", string(rule.Kind), "entries", n)
	return nil
}

// InvalidateKind marks every entry of kind stale and bumps the kind's
// generation. It returns the number of entries marked.
func (c *Cache) InvalidateKind(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[kind]++
	n := 0
	for key, e := range c.entries {
		if key.Kind == kind && !e.stale {
			e.stale = true
			n++
		}
	}
	atomic.AddInt64(&c.invalidations, int64(n))
	return n
}

// Invalidate marks the given keys stale. Entries of other scopes are
// untouched, but in-flight fetches of the keys' kinds store stale results.
func (c *Cache) Invalidate(keys ...Key) int {
	if len(keys) == 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, key := range keys {
		c.gens[key.Kind]++
		if e, ok := c.entries[key]; ok && !e.stale {
			e.stale = true
			n++
		}
	}
	atomic.AddInt64(&c.invalidations, int64(n))
	return n
}

// Clear drops every entry. In-flight fetches store stale results.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[Key]*entry)
	c.epoch++
}

// Peek reports the cached value for key and whether it is fresh, without
// loading.
func (c *Cache) Peek(key Key) (value any, fresh bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, false
	}
	fresh = !e.stale && c.now().Sub(e.fetchedAt) < c.options.StaleTime
	return e.value, fresh, true
}

// Stats returns activity counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	return Stats{
		Entries:       entries,
		Hits:          atomic.LoadInt64(&c.hits),
		Misses:        atomic.LoadInt64(&c.misses),
		Invalidations: atomic.LoadInt64(&c.invalidations),
		Errors:        atomic.LoadInt64(&c.errors),
	}
}

// =============================================================================
// Typed Helpers
// =============================================================================

// Fetch is the typed form of Cache.Fetch.
func Fetch[T any](ctx context.Context, c *Cache, key Key, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	value, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("cache entry %s holds %T", key, value)
	}
	return typed, nil
}

// Mutate is the typed form of Cache.Mutate.
func Mutate[T any](ctx context.Context, c *Cache, rule Rule, do func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := c.Mutate(ctx, rule, func(ctx context.Context) error {
		var err error
		result, err = do(ctx)
		return err
	})
	return result, err
}
