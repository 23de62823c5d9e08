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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("genflow.resource")
	meter  = otel.Meter("genflow.resource")
)

var (
	cacheHits          metric.Int64Counter
	cacheMisses        metric.Int64Counter
	cacheInvalidations metric.Int64Counter
	fetchRetries       metric.Int64Counter
	fetchLatency       metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics creates the instruments once. Instruments come from the
// global meter provider, so they are no-ops until telemetry is initialised.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"resource_cache_hits_total",
			metric.WithDescription("Fetches served from a fresh cache entry"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"resource_cache_misses_total",
			metric.WithDescription("Fetches that went to the network"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheInvalidations, err = meter.Int64Counter(
			"resource_cache_invalidations_total",
			metric.WithDescription("Entries marked stale by mutations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fetchRetries, err = meter.Int64Counter(
			"resource_fetch_retries_total",
			metric.WithDescription("Transient fetch failures that were retried"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fetchLatency, err = meter.Float64Histogram(
			"resource_fetch_duration_seconds",
			metric.WithDescription("Duration of network fetches including retries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordHit(ctx context.Context, kind Kind) {
	if initMetrics() != nil {
		return
	}
	cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func recordMiss(ctx context.Context, kind Kind) {
	if initMetrics() != nil {
		return
	}
	cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func recordInvalidations(ctx context.Context, kind Kind, n int) {
	if initMetrics() != nil || n == 0 {
		return
	}
	cacheInvalidations.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", string(kind))))
}

func recordRetry(ctx context.Context, kind Kind) {
	if initMetrics() != nil {
		return
	}
	fetchRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func recordFetch(ctx context.Context, kind Kind, d time.Duration, ok bool) {
	if initMetrics() != nil {
		return
	}
	fetchLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Bool("success", ok),
	))
}

// startFetchSpan starts a span for a network fetch.
func startFetchSpan(ctx context.Context, key Key) (context.Context, trace.Span) {
	return tracer.Start(ctx, "resource.Fetch",
		trace.WithAttributes(
			attribute.String("resource.kind", string(key.Kind)),
			attribute.String("resource.key", key.String()),
		),
	)
}

// startMutateSpan starts a span for a mutation.
func startMutateSpan(ctx context.Context, rule Rule) (context.Context, trace.Span) {
	return tracer.Start(ctx, "resource.Mutate",
		trace.WithAttributes(
			attribute.String("resource.kind", string(rule.Kind)),
			attribute.Int("resource.also", len(rule.Also)),
		),
	)
}
