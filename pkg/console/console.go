// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package console assembles the GenFlow client components into one
// process-wide instance.
//
// # Wiring
//
//	api.Client ──token──► session.Controller (TokenSource)
//	api.Client ──401/403──► Controller.HandleUnauthorized
//	Controller teardown ──► resource.Cache.Clear
//	FileStore removal ──► Controller.HandleUnauthorized
//	jobs.Watch terminal ──► resource.Store.InvalidatePredictions
//
// Session state and the resource cache each exist once per Console. All
// writes go through the Controller or the Store.
package console

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/genflow-console/pkg/access"
	"github.com/AleutianAI/genflow-console/pkg/api"
	"github.com/AleutianAI/genflow-console/pkg/jobs"
	"github.com/AleutianAI/genflow-console/pkg/resource"
	"github.com/AleutianAI/genflow-console/pkg/session"
)

// ErrNoStore is returned by New when Options.Store is nil.
var ErrNoStore = errors.New("console: token store is required")

// Options configures New.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64
	RateBurst  int
	HTTPClient *http.Client

	// Store persists the token. Required.
	Store session.TokenStore

	// Cache options, e.g. resource.WithStaleTime.
	Cache []resource.Option

	// JobInterval is the default poll interval. Zero uses jobs.DefaultInterval.
	JobInterval time.Duration

	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// Console is the assembled client.
type Console struct {
	Client    *api.Client
	Session   *session.Controller
	Resources *resource.Store
	Jobs      *jobs.Poller

	store  session.TokenStore
	logger *slog.Logger
}

// New wires every component. Call Start before issuing requests.
func New(opts Options) (*Console, error) {
	if opts.Store == nil {
		return nil, ErrNoStore
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := api.New(api.Config{
		BaseURL:    opts.BaseURL,
		Timeout:    opts.Timeout,
		RateLimit:  opts.RateLimit,
		RateBurst:  opts.RateBurst,
		HTTPClient: opts.HTTPClient,
		Logger:     logger,
		Registerer: opts.Registerer,
	})

	ctrl := session.NewController(client, opts.Store, session.Options{Logger: logger})
	client.SetTokenSource(ctrl)
	client.SetUnauthorizedHandler(ctrl.HandleUnauthorized)

	cache := resource.NewCache(append([]resource.Option{resource.WithLogger(logger)}, opts.Cache...)...)
	ctrl.OnTeardown(cache.Clear)

	var pollerDefaults []jobs.Option
	if opts.JobInterval > 0 {
		pollerDefaults = append(pollerDefaults, jobs.WithInterval(opts.JobInterval))
	}
	poller := jobs.NewPoller(client, jobs.NewMetrics(opts.Registerer), logger, pollerDefaults...)

	return &Console{
		Client:    client,
		Session:   ctrl,
		Resources: resource.NewStore(client, cache),
		Jobs:      poller,
		store:     opts.Store,
		logger:    logger.With("component", "console"),
	}, nil
}

// Start restores the persisted session and, for a file-backed store,
// watches for the token file being removed by another process until ctx
// is done.
func (c *Console) Start(ctx context.Context) {
	c.Session.Bootstrap(ctx)

	fs, ok := c.store.(*session.FileStore)
	if !ok {
		return
	}
	err := fs.Watch(ctx, func() {
		c.logger.Info("token file removed externally, ending session")
		c.Session.HandleUnauthorized()
	})
	if err != nil {
		c.logger.Warn("token file watch not started", "error", err)
	}
}

// Gate evaluates path against the console route table for the current
// session.
func (c *Console) Gate(path string) access.Decision {
	return access.Resolve(c.Session.Snapshot(), path)
}

// WatchPrediction polls the job behind pred. When the job finishes, cached
// predictions are marked stale so the next read shows the final status.
// A prediction without a job yields an inert watch.
func (c *Console) WatchPrediction(ctx context.Context, pred *api.Prediction, opts ...jobs.Option) *jobs.Watch {
	var jobID *int64
	if pred != nil {
		jobID = pred.JobID
	}
	return c.WatchJob(ctx, jobID, opts...)
}

// WatchJob polls jobID, invalidating cached predictions when it finishes.
func (c *Console) WatchJob(ctx context.Context, jobID *int64, opts ...jobs.Option) *jobs.Watch {
	var given jobs.Options
	for _, opt := range opts {
		opt(&given)
	}
	caller := given.OnUpdate

	hook := jobs.WithOnUpdate(func(s jobs.Snapshot) {
		if s.Terminal() && !s.Polling {
			c.Resources.InvalidatePredictions()
		}
		if caller != nil {
			caller(s)
		}
	})
	return c.Jobs.Watch(ctx, jobID, append(opts, hook)...)
}
