// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/genflow-console/pkg/api"
)

const pollerSubsystem = "job_poller"

// Metrics holds Prometheus collectors for job polling.
type Metrics struct {
	// FetchesTotal counts poll fetches.
	// Labels: outcome (ok, error)
	FetchesTotal *prometheus.CounterVec

	// TerminalTotal counts jobs observed reaching a final status.
	// Labels: status (COMPLETED, FAILED)
	TerminalTotal *prometheus.CounterVec

	// ActiveWatches tracks watches currently polling.
	ActiveWatches prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: api.MetricsNamespace,
				Subsystem: pollerSubsystem,
				Name:      "fetches_total",
				Help:      "Total job poll fetches by outcome",
			},
			[]string{"outcome"},
		),

		TerminalTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: api.MetricsNamespace,
				Subsystem: pollerSubsystem,
				Name:      "terminal_total",
				Help:      "Total jobs observed reaching a terminal status",
			},
			[]string{"status"},
		),

		ActiveWatches: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: api.MetricsNamespace,
				Subsystem: pollerSubsystem,
				Name:      "active_watches",
				Help:      "Number of job watches currently polling",
			},
		),
	}
}
