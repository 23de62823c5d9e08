// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsNamespace prefixes every Prometheus metric exported by the console.
const MetricsNamespace = "genflow"

const clientSubsystem = "api_client"

// ClientMetrics holds Prometheus collectors for outbound API calls.
type ClientMetrics struct {
	// RequestsTotal counts requests by operation and outcome.
	// Labels: op (datasets.list, auth.login, ...), outcome (ok, transport, unauthorized, validation)
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures round-trip latency.
	// Labels: op
	RequestDurationSeconds *prometheus.HistogramVec

	// UnauthorizedSignalsTotal counts calls into the unauthorized handler.
	UnauthorizedSignalsTotal prometheus.Counter
}

// NewClientMetrics creates the collectors and registers them with reg.
//
// A nil reg yields working but unregistered collectors, which lets tests
// build many clients without duplicate-registration panics.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	factory := promauto.With(reg)
	return &ClientMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "requests_total",
				Help:      "Total API requests by operation and outcome",
			},
			[]string{"op", "outcome"},
		),

		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: MetricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "request_duration_seconds",
				Help:      "API request latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),

		UnauthorizedSignalsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: MetricsNamespace,
				Subsystem: clientSubsystem,
				Name:      "unauthorized_signals_total",
				Help:      "Total 401/403 responses forwarded to the session",
			},
		),
	}
}

// outcomeOf maps a request error to its metric label.
func outcomeOf(err error) string {
	switch err.(type) {
	case nil:
		return "ok"
	case *AuthorizationError:
		return "unauthorized"
	case *ValidationError:
		return "validation"
	default:
		return "transport"
	}
}
