// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/AleutianAI/genflow-console/cmd/genflow/config"
	"github.com/AleutianAI/genflow-console/pkg/console"
	"github.com/AleutianAI/genflow-console/pkg/logging"
	"github.com/AleutianAI/genflow-console/pkg/resource"
	"github.com/AleutianAI/genflow-console/pkg/session"
	"github.com/AleutianAI/genflow-console/pkg/telemetry"
	"github.com/AleutianAI/genflow-console/pkg/ux"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath  string
	output      string
	metricsAddr string
	trace       string
	baseURL     string
}

// app holds everything a command needs once setup has run.
//
// # Thread Safety
//
// Not safe for concurrent use. One app serves one command invocation.
type app struct {
	flags globalFlags

	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	cfg     config.GenflowConfig
	logger  *logging.Logger
	tel     *telemetry.Telemetry
	console *console.Console
	printer *ux.Printer

	closers    []func() error
	metricsSrv *http.Server
	cancel     context.CancelFunc
}

func newApp(stdout, stderr io.Writer, stdin io.Reader) *app {
	return &app{stdout: stdout, stderr: stderr, stdin: stdin}
}

// =============================================================================
// Setup / Teardown
// =============================================================================

// setup loads config and wires logging, telemetry, the token store and the
// console, then restores the persisted session.
//
// # Description
//
// Runs from the root PersistentPreRunE. The returned context lives until
// teardown and is what background work (file watch, metrics endpoint)
// is bound to.
func (a *app) setup(ctx context.Context) (context.Context, error) {
	a.printer = ux.NewPrinter(a.stdout, a.stderr, a.outputLevel())

	cfg, err := config.Load(config.ResolvePath(a.flags.configPath))
	if err != nil {
		return ctx, err
	}
	if a.flags.baseURL != "" {
		cfg.API.BaseURL = a.flags.baseURL
	}
	if a.flags.trace != "" {
		cfg.Telemetry.TraceExporter = a.flags.trace
	}
	if a.flags.metricsAddr != "" {
		cfg.Telemetry.MetricsAddr = a.flags.metricsAddr
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return ctx, err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "genflow",
		JSON:    cfg.Logging.JSON,
		Output:  a.stderr,
	})
	a.closers = append(a.closers, a.logger.Close)

	telCfg := telemetry.DefaultConfig()
	telCfg.TraceExporter = cfg.Telemetry.TraceExporter
	telCfg.MetricExporter = cfg.Telemetry.MetricExporter
	telCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	telCfg.StdoutWriter = a.stderr
	tel, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return ctx, err
	}
	a.tel = tel

	store, err := openStore(cfg.Session, a.logger)
	if err != nil {
		return ctx, err
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	c, err := console.New(console.Options{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
		RateBurst: cfg.API.RateBurst,
		Store:     store,
		Cache: []resource.Option{
			resource.WithStaleTime(cfg.Cache.StaleTime),
			resource.WithRetry(cfg.Cache.MaxRetries, cfg.Cache.RetryDelay),
		},
		JobInterval: cfg.Jobs.Interval,
		Logger:      a.logger.Slog(),
		Registerer:  tel.Registry,
	})
	if err != nil {
		return ctx, err
	}
	a.console = c

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if cfg.Telemetry.MetricsAddr != "" {
		if err := a.serveMetrics(runCtx, cfg.Telemetry.MetricsAddr); err != nil {
			a.logger.Warn("metrics endpoint not started", "addr", cfg.Telemetry.MetricsAddr, "error", err)
		}
	}

	c.Start(runCtx)
	a.logger.Debug("session restored", "phase", c.Session.Snapshot().Phase.String())
	return runCtx, nil
}

// teardown releases everything setup acquired, in reverse order.
func (a *app) teardown() error {
	if a.cancel != nil {
		a.cancel()
	}

	var errs []error
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, a.metricsSrv.Shutdown(shutdownCtx))
		cancel()
	}
	if a.tel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.tel.Shutdown(shutdownCtx))
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) outputLevel() ux.Level {
	if a.flags.output != "" {
		return ux.ParseLevel(a.flags.output)
	}
	if f, ok := a.stdout.(*os.File); ok {
		return ux.DetectLevel(f)
	}
	if env := os.Getenv("GENFLOW_OUTPUT"); env != "" {
		return ux.ParseLevel(env)
	}
	return ux.LevelMachine
}

// openStore builds the token store named by cfg.Store.
func openStore(cfg config.SessionConfig, logger *logging.Logger) (session.TokenStore, error) {
	switch cfg.Store {
	case "memory":
		return session.NewMemoryStore(""), nil
	case "file":
		return session.NewFileStore(cfg.Path), nil
	case "badger":
		return session.OpenBadgerStore(session.BadgerConfig{
			Path:   cfg.Path,
			Logger: logger.With("component", "badger").Slog(),
		})
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

// serveMetrics exposes the Prometheus registry on addr until ctx is done.
func (a *app) serveMetrics(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.tel.MetricsHandler())
	a.metricsSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := a.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics endpoint stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}
