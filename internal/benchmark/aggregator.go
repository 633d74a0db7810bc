// Package benchmark runs one prompt against every active provider at once and
// reduces each provider's velocity samples to summary statistics.
package benchmark

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/registry"
	"tokenvelocity/internal/velocity"
)

const (
	// DefaultSkipSamples is the number of warm-up samples discarded per provider.
	DefaultSkipSamples = 4
	// DefaultProviderTimeout bounds a single provider's stream.
	DefaultProviderTimeout = 2 * time.Minute
)

var (
	ErrNoActiveProviders = errors.New("no active providers")
	ErrEmptyPrompt       = errors.New("prompt must not be empty")
)

// Status of one provider's result.
type Status string

const (
	StatusOK     Status = "ok"
	StatusNoData Status = "no_data"
)

// Stats summarizes the retained samples of one provider.
type Stats struct {
	Average float64 `json:"average" yaml:"average"`
	Peak    float64 `json:"peak" yaml:"peak"`
	Lowest  float64 `json:"lowest" yaml:"lowest"`
}

// Summarize returns the mean, maximum and minimum of samples. It reports false
// for an empty slice.
func Summarize(samples []float64) (Stats, bool) {
	if len(samples) == 0 {
		return Stats{}, false
	}
	stats := Stats{Peak: 0.0, Lowest: math.Inf(1)}
	var sum float64
	for _, v := range samples {
		sum += v
		if v > stats.Peak {
			stats.Peak = v
		}
		if v < stats.Lowest {
			stats.Lowest = v
		}
	}
	stats.Average = sum / float64(len(samples))
	return stats, true
}

// ProviderResult is the outcome for one provider in a run.
type ProviderResult struct {
	Provider string               `json:"provider" yaml:"provider"`
	Name     string               `json:"name" yaml:"name"`
	Model    string               `json:"model" yaml:"model"`
	Samples  []float64            `json:"samples" yaml:"samples"`
	Average  float64              `json:"average" yaml:"average"`
	Peak     float64              `json:"peak" yaml:"peak"`
	Lowest   float64              `json:"lowest" yaml:"lowest"`
	Status   Status               `json:"status" yaml:"status"`
	Failure  velocity.FailureKind `json:"failure,omitempty" yaml:"failure,omitempty"`
	Error    string               `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration        `json:"-" yaml:"-"`
	// DurationSeconds is Duration as sent to API and CLI consumers.
	DurationSeconds float64 `json:"durationSeconds" yaml:"duration-seconds"`
	// Observed counts every non-terminal sample; Skipped is the warm-up share.
	Observed int `json:"observed" yaml:"observed"`
	Skipped  int `json:"skipped" yaml:"skipped"`
}

// Stats returns the summary of the result.
func (r ProviderResult) Stats() Stats {
	return Stats{Average: r.Average, Peak: r.Peak, Lowest: r.Lowest}
}

// Run is a completed benchmark.
type Run struct {
	ID          string                     `json:"id" yaml:"id"`
	Prompt      string                     `json:"prompt" yaml:"prompt"`
	StartedAt   time.Time                  `json:"startedAt" yaml:"started-at"`
	CompletedAt time.Time                  `json:"completedAt" yaml:"completed-at"`
	Results     map[string]*ProviderResult `json:"results" yaml:"results"`
	// Order is the active providers in registry order.
	Order []string `json:"order" yaml:"order"`
}

// Result returns the result for a provider key.
func (r *Run) Result(key string) (*ProviderResult, bool) {
	res, ok := r.Results[key]
	return res, ok
}

// Ordered returns the results in registry order.
func (r *Run) Ordered() []*ProviderResult {
	out := make([]*ProviderResult, 0, len(r.Order))
	for _, key := range r.Order {
		if res, ok := r.Results[key]; ok {
			out = append(out, res)
		}
	}
	return out
}

// HasData reports whether at least one provider produced statistics.
func (r *Run) HasData() bool {
	for _, res := range r.Results {
		if res.Status == StatusOK {
			return true
		}
	}
	return false
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Observer receives progress while a run is in flight. Calls come from the
// provider goroutines concurrently.
type Observer interface {
	OnSample(sample velocity.Sample)
	OnResult(result ProviderResult)
}

// ObserverFuncs adapts plain functions to an Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Sample func(velocity.Sample)
	Result func(ProviderResult)
}

func (o ObserverFuncs) OnSample(s velocity.Sample) {
	if o.Sample != nil {
		o.Sample(s)
	}
}

func (o ObserverFuncs) OnResult(r ProviderResult) {
	if o.Result != nil {
		o.Result(r)
	}
}

// Aggregator drives the estimator for every active provider.
type Aggregator struct {
	Estimator *velocity.Estimator
	// SkipSamples warm-up samples are dropped before statistics are taken.
	SkipSamples int
	// ProviderTimeout bounds each provider separately; zero means no bound.
	ProviderTimeout time.Duration
	Logger          *logging.Logger
	Observer        Observer
}

// NewAggregator returns an aggregator with the default warm-up skip and
// per-provider timeout.
func NewAggregator(estimator *velocity.Estimator, logger *logging.Logger) *Aggregator {
	return &Aggregator{
		Estimator:       estimator,
		SkipSamples:     DefaultSkipSamples,
		ProviderTimeout: DefaultProviderTimeout,
		Logger:          logger,
	}
}

// Run sends prompt to every provider in active concurrently and waits for all
// of them. A failing provider never fails the run; it is reported as no_data
// with its failure kind.
func (a *Aggregator) Run(ctx context.Context, active registry.ActiveSet, prompt string) (*Run, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	if active.Empty() {
		return nil, ErrNoActiveProviders
	}

	run := &Run{
		ID:        uuid.New().String(),
		Prompt:    prompt,
		StartedAt: time.Now(),
		Results:   make(map[string]*ProviderResult, active.Len()),
		Order:     active.Keys(),
	}
	logger := logging.OrDefault(a.Logger).WithContext(&logging.LogContext{RunID: run.ID, Operation: "benchmark"})
	logger.Info("🚀 Starting benchmark across %d providers", active.Len())

	providers := active.Providers()
	results := make([]ProviderResult, len(providers))

	var wg sync.WaitGroup
	for i, cfg := range providers {
		wg.Add(1)
		go func(slot int, cfg registry.ProviderConfig) {
			defer wg.Done()
			results[slot] = a.runProvider(ctx, cfg, prompt)
		}(i, cfg)
	}
	wg.Wait()

	run.CompletedAt = time.Now()
	for i := range results {
		run.Results[results[i].Provider] = &results[i]
	}

	if !run.HasData() {
		logger.Warn("⚠️ Benchmark finished without data from any provider")
	} else {
		logger.Info("✅ Benchmark completed in %v", run.Duration())
	}
	return run, nil
}

func (a *Aggregator) runProvider(ctx context.Context, cfg registry.ProviderConfig, prompt string) ProviderResult {
	logger := logging.OrDefault(a.Logger).WithContext(&logging.LogContext{Provider: cfg.Key, Operation: "benchmark"})

	pctx := ctx
	if a.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, a.ProviderTimeout)
		defer cancel()
	}

	result := ProviderResult{
		Provider: cfg.Key,
		Name:     cfg.DisplayName(),
		Model:    cfg.Model,
		Samples:  []float64{},
	}
	start := time.Now()

	for sample := range a.Estimator.Estimate(pctx, cfg, prompt).All() {
		if a.Observer != nil {
			a.Observer.OnSample(sample)
		}
		if sample.Terminal() {
			result.Failure = sample.Failure
			result.Error = sample.Err.Error()
			continue
		}
		result.Observed++
		if result.Observed <= a.SkipSamples {
			result.Skipped++
			continue
		}
		if sample.TokensPerSecond > 0 {
			result.Samples = append(result.Samples, sample.TokensPerSecond)
		}
	}
	result.Duration = time.Since(start)
	result.DurationSeconds = result.Duration.Seconds()

	if stats, ok := Summarize(result.Samples); ok {
		result.Status = StatusOK
		result.Average = stats.Average
		result.Peak = stats.Peak
		result.Lowest = stats.Lowest
		logger.Info("📊 %s: avg %.2f, peak %.2f, lowest %.2f tokens/s over %d samples",
			result.Name, stats.Average, stats.Peak, stats.Lowest, len(result.Samples))
	} else {
		result.Status = StatusNoData
		logger.Warn("No data for %s after %d samples (failure: %s)", result.Name, result.Observed, orNone(result.Failure))
	}

	if a.Observer != nil {
		a.Observer.OnResult(result)
	}
	return result
}

func orNone(kind velocity.FailureKind) string {
	if kind == velocity.FailureNone {
		return "none"
	}
	return string(kind)
}
