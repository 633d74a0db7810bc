package main

import (
	"time"

	"tokenvelocity/internal/benchmark"
	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/metrics"
	"tokenvelocity/internal/registry"
	"tokenvelocity/internal/velocity"
)

type Benchmark struct {
	Registry    *registry.Registry
	Only        []string
	Prompt      string
	Timeout     time.Duration
	MinInterval time.Duration
	SkipSamples int
	MetricsDir  string
	Opener      velocity.Opener
	Logger      *logging.Logger
}

type BenchmarkResult struct {
	RunID     string                      `json:"run_id" yaml:"run-id"`
	Prompt    string                      `json:"prompt" yaml:"prompt"`
	StartedAt time.Time                   `json:"started_at" yaml:"started-at"`
	Duration  string                      `json:"duration" yaml:"duration"`
	Providers []*benchmark.ProviderResult `json:"providers" yaml:"providers"`
	Metrics   metrics.LatestMetrics       `json:"metrics" yaml:"metrics"`
	// Snapshot is the metrics file written for the run, if any.
	Snapshot string `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
}
