// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/genflow-console/pkg/api"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

type GenflowConfig struct {
	Meta MetaConfig `yaml:"meta"`

	// API: where the backend lives and how hard to hit it
	API APIConfig `yaml:"api"`

	// Session: where the token is persisted between runs
	Session SessionConfig `yaml:"session"`

	Cache   CacheConfig   `yaml:"cache"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Logging LoggingConfig `yaml:"logging"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type APIConfig struct {
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
	RateLimit float64       `yaml:"rate_limit" validate:"gte=0"` // requests per second, 0 = unlimited
	RateBurst int           `yaml:"rate_burst" validate:"gte=0"`
}

type SessionConfig struct {
	// Store is "badger", "file" or "memory"
	Store string `yaml:"store" validate:"oneof=badger file memory"`
	Path  string `yaml:"path" validate:"required_unless=Store memory"`
}

type CacheConfig struct {
	StaleTime  time.Duration `yaml:"stale_time" validate:"gte=0"`
	MaxRetries int           `yaml:"max_retries" validate:"gte=0,lte=5"`
	RetryDelay time.Duration `yaml:"retry_delay" validate:"gte=0"`
}

type JobsConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	MetricsAddr    string `yaml:"metrics_addr,omitempty"` // e.g. 127.0.0.1:9464, empty = no endpoint
}

// Dir is the directory holding the config file and session data.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".genflow"
	}
	return filepath.Join(home, ".genflow")
}

// DefaultPath is ~/.genflow/genflow.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "genflow.yaml")
}

func DefaultConfig() GenflowConfig {
	return GenflowConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		API: APIConfig{
			BaseURL: api.DefaultBaseURL,
			Timeout: 30 * time.Second,
		},
		Session: SessionConfig{
			Store: "badger",
			Path:  filepath.Join(Dir(), "session"),
		},
		Cache: CacheConfig{
			StaleTime:  60 * time.Second,
			MaxRetries: 1,
			RetryDelay: time.Second,
		},
		Jobs: JobsConfig{Interval: 2 * time.Second},
		Logging: LoggingConfig{
			Level: "warn",
			Dir:   filepath.Join(Dir(), "logs"),
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}
