// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jobs polls asynchronous prediction jobs until they finish.
//
// A Watch fetches the job immediately, then again Interval after each
// fetch completes, and stops on its own when the job reaches COMPLETED or
// FAILED. Cancelling a Watch guarantees no further fetch is issued.
//
// # Usage
//
//	w := poller.Watch(ctx, &jobID, jobs.WithOnUpdate(func(s jobs.Snapshot) {
//	    fmt.Println(s.Job.Status)
//	}))
//	<-w.Done()
//	final := w.Snapshot()
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/genflow-console/pkg/api"
)

// DefaultInterval is the pause between polls.
const DefaultInterval = 2 * time.Second

// Fetcher reads one job. *api.Client satisfies it.
type Fetcher interface {
	GetPredictionJob(ctx context.Context, id int64) (*api.PredictionJob, error)
}

// =============================================================================
// Options
// =============================================================================

// Options configures a Watch.
type Options struct {
	// Interval is the pause after each completed fetch. Default: 2s.
	Interval time.Duration

	// OnUpdate is called after every fetch with the new snapshot, on the
	// watch goroutine. It must not block for long.
	OnUpdate func(Snapshot)
}

// Option mutates Options.
type Option func(*Options)

// WithInterval sets Options.Interval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Interval = d
		}
	}
}

// WithOnUpdate sets Options.OnUpdate.
func WithOnUpdate(fn func(Snapshot)) Option {
	return func(o *Options) { o.OnUpdate = fn }
}

// =============================================================================
// Poller
// =============================================================================

// Poller creates Watches that share a fetcher, defaults and metrics.
type Poller struct {
	fetcher  Fetcher
	defaults []Option
	metrics  *Metrics
	logger   *slog.Logger
}

// NewPoller creates a Poller.
//
// # Inputs
//
//   - fetcher: Job reader.
//   - metrics: Prometheus collectors. Nil creates unregistered ones.
//   - logger: Poll logs. Nil uses slog.Default().
//   - defaults: Options applied to every Watch before per-watch options.
func NewPoller(fetcher Fetcher, metrics *Metrics, logger *slog.Logger, defaults ...Option) *Poller {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		fetcher:  fetcher,
		defaults: defaults,
		metrics:  metrics,
		logger:   logger.With("component", "jobs"),
	}
}

// Snapshot is the observable state of a Watch.
type Snapshot struct {
	// JobID is the watched id, 0 for an inert watch.
	JobID int64

	// Job is the most recent successfully fetched job, nil if none yet.
	Job *api.PredictionJob

	// Err is the error from the most recent fetch, nil if it succeeded.
	Err error

	// Fetches counts completed fetch attempts.
	Fetches int

	// Polling is true while further fetches are scheduled.
	Polling bool
}

// Terminal reports whether the last observed job status is final.
func (s Snapshot) Terminal() bool {
	return s.Job != nil && s.Job.Status.Terminal()
}

// Watch is a cancellable polling task for one job.
type Watch struct {
	mu     sync.Mutex
	snap   Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

// Snapshot returns the current state.
func (w *Watch) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

// Done is closed when polling has stopped for any reason.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// Cancel stops polling and waits for the watch goroutine to exit. After
// Cancel returns no fetch is in flight and none will be issued.
func (w *Watch) Cancel() {
	w.cancel()
	<-w.done
}

// Wait blocks until the watch stops or ctx is done.
func (w *Watch) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-w.done:
		return w.Snapshot(), nil
	case <-ctx.Done():
		return w.Snapshot(), ctx.Err()
	}
}

// Watch starts polling jobID.
//
// A nil or non-positive jobID yields an inert watch: no fetch, no job, no
// error, and Done already closed.
//
// # Description
//
// After each fetch:
//   - QUEUED or RUNNING: the next fetch is scheduled Interval later.
//   - COMPLETED or FAILED: polling stops.
//   - Error before any job was observed: polling stops with Err set.
//   - Error after a job was observed: Err is set and polling continues,
//     except for authorization errors, which stop it.
//
// The watch also stops when ctx is done.
func (p *Poller) Watch(ctx context.Context, jobID *int64, opts ...Option) *Watch {
	options := Options{Interval: DefaultInterval}
	for _, opt := range p.defaults {
		opt(&options)
	}
	for _, opt := range opts {
		opt(&options)
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if jobID == nil || *jobID <= 0 {
		cancel()
		close(w.done)
		return w
	}

	w.snap = Snapshot{JobID: *jobID, Polling: true}
	p.metrics.ActiveWatches.Inc()
	go p.run(wctx, w, *jobID, options)
	return w
}

func (p *Poller) run(ctx context.Context, w *Watch, jobID int64, options Options) {
	defer func() {
		w.mu.Lock()
		w.snap.Polling = false
		w.mu.Unlock()
		p.metrics.ActiveWatches.Dec()
		close(w.done)
	}()

	logger := p.logger.With("job_id", jobID)

	for {
		job, err := p.fetcher.GetPredictionJob(ctx, jobID)
		if ctx.Err() != nil {
			logger.Debug("watch cancelled")
			return
		}

		w.mu.Lock()
		w.snap.Fetches++
		w.snap.Err = err
		if err == nil {
			w.snap.Job = job
		}
		seen := w.snap.Job != nil
		snap := w.snap
		w.mu.Unlock()

		keepPolling := p.decide(logger, job, err, seen)
		if !keepPolling {
			w.mu.Lock()
			w.snap.Polling = false
			snap = w.snap
			w.mu.Unlock()
		}

		if options.OnUpdate != nil {
			options.OnUpdate(snap)
		}
		if !keepPolling {
			return
		}

		timer := time.NewTimer(options.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Debug("watch cancelled")
			return
		case <-timer.C:
		}
	}
}

// decide records the fetch outcome and reports whether to poll again.
func (p *Poller) decide(logger *slog.Logger, job *api.PredictionJob, err error, seen bool) bool {
	if err != nil {
		p.metrics.FetchesTotal.WithLabelValues("error").Inc()
		var ae *api.AuthorizationError
		if errors.As(err, &ae) {
			logger.Info("job poll unauthorized, stopping", "error", err)
			return false
		}
		if !seen {
			logger.Info("job poll failed before first result, stopping", "error", err)
			return false
		}
		logger.Warn("job poll failed, will retry", "error", err)
		return true
	}

	p.metrics.FetchesTotal.WithLabelValues("ok").Inc()
	if job.Status.Terminal() {
		p.metrics.TerminalTotal.WithLabelValues(string(job.Status)).Inc()
		logger.Info("job finished", "status", string(job.Status))
		return false
	}
	logger.Debug("job pending", "status", string(job.Status))
	return true
}
