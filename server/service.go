package server

import (
	"context"
	"fmt"

	"tokenvelocity/internal/benchmark"
	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/metrics"
	"tokenvelocity/internal/registry"
	"tokenvelocity/internal/velocity"
)

// observers fans callbacks out to several observers
type observers []benchmark.Observer

func (o observers) OnSample(s velocity.Sample) {
	for _, obs := range o {
		obs.OnSample(s)
	}
}

func (o observers) OnResult(r benchmark.ProviderResult) {
	for _, obs := range o {
		obs.OnResult(r)
	}
}

// hubObserver pushes live samples and results to WebSocket clients
func hubObserver(hub *Hub, jobID string) benchmark.Observer {
	return benchmark.ObserverFuncs{
		Sample: func(s velocity.Sample) { hub.Broadcast(NewSampleMessage(jobID, s)) },
		Result: func(r benchmark.ProviderResult) { hub.Broadcast(NewResultMessage(jobID, r)) },
	}
}

// BenchmarkService runs benchmarks against the current provider selection
// and records every completed run
type BenchmarkService struct {
	selection *registry.Selection
	estimator *velocity.Estimator
	config    EnvironmentConfig
	sink      metrics.Sink
	hub       *Hub
	logger    *logging.Logger
}

// NewBenchmarkService wires the estimator to the selection and sink
func NewBenchmarkService(selection *registry.Selection, opener velocity.Opener, config EnvironmentConfig, sink metrics.Sink, hub *Hub, logger *logging.Logger) *BenchmarkService {
	logger = logging.OrDefault(logger)
	return &BenchmarkService{
		selection: selection,
		estimator: &velocity.Estimator{
			Opener:      opener,
			MinInterval: config.MinSampleInterval,
			Logger:      logger,
		},
		config: config,
		sink:   sink,
		hub:    hub,
		logger: logger,
	}
}

// Selection returns the provider activation state
func (s *BenchmarkService) Selection() *registry.Selection {
	return s.selection
}

// ActiveFor returns the providers a run should use: keys when given,
// otherwise the current selection
func (s *BenchmarkService) ActiveFor(keys []string) (registry.ActiveSet, error) {
	if len(keys) == 0 {
		return s.selection.Active(), nil
	}
	reg := s.selection.Registry()
	flags := make(map[string]bool, len(keys))
	for _, key := range keys {
		if !reg.Contains(key) {
			return registry.ActiveSet{}, fmt.Errorf("%w: %s", registry.ErrUnknownProvider, key)
		}
		flags[key] = true
	}
	return reg.Active(flags), nil
}

// Run benchmarks prompt and records the result. observer may be nil.
func (s *BenchmarkService) Run(ctx context.Context, jobID, prompt string, keys []string, observer benchmark.Observer) (*benchmark.Run, error) {
	active, err := s.ActiveFor(keys)
	if err != nil {
		return nil, err
	}

	obs := observers{}
	if s.hub != nil {
		obs = append(obs, hubObserver(s.hub, jobID))
	}
	if observer != nil {
		obs = append(obs, observer)
	}

	agg := &benchmark.Aggregator{
		Estimator:       s.estimator,
		SkipSamples:     s.config.SkipSamples,
		ProviderTimeout: s.config.ProviderTimeout,
		Logger:          s.logger,
		Observer:        obs,
	}

	run, err := agg.Run(ctx, active, prompt)
	if err != nil {
		return nil, err
	}

	if s.sink != nil {
		if err := s.sink.Record(run); err != nil {
			s.logger.WarnWithContext(&logging.LogContext{RunID: run.ID, JobID: jobID}, "⚠️ Failed to record metrics: %v", err)
		}
	}
	return run, nil
}
