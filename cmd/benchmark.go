package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/docker/go-units"
	"github.com/schollz/progressbar/v3"

	"tokenvelocity/internal/benchmark"
	"tokenvelocity/internal/metrics"
	"tokenvelocity/internal/registry"
	"tokenvelocity/internal/velocity"
)

// validate rejects option values the aggregator would silently misread.
func (bench *Benchmark) validate() error {
	if bench.SkipSamples < 0 {
		return fmt.Errorf("invalid --skip %d: must not be negative", bench.SkipSamples)
	}
	if bench.Timeout < 0 {
		return fmt.Errorf("invalid --timeout %s: must not be negative", bench.Timeout)
	}
	if bench.MinInterval < 0 {
		return fmt.Errorf("invalid --min-interval %s: must not be negative", bench.MinInterval)
	}
	return nil
}

// activeSet returns the providers named by --only, or every registered one.
func (bench *Benchmark) activeSet() (registry.ActiveSet, error) {
	if len(bench.Only) == 0 {
		return bench.Registry.All(), nil
	}
	flags := make(map[string]bool, len(bench.Only))
	for _, key := range bench.Only {
		if !bench.Registry.Contains(key) {
			return registry.ActiveSet{}, fmt.Errorf("%w: %s", registry.ErrUnknownProvider, key)
		}
		flags[key] = true
	}
	return bench.Registry.Active(flags), nil
}

func (bench *Benchmark) aggregator(observer benchmark.Observer) *benchmark.Aggregator {
	estimator := &velocity.Estimator{
		Opener:      bench.Opener,
		MinInterval: bench.MinInterval,
		Logger:      bench.Logger,
	}
	agg := benchmark.NewAggregator(estimator, bench.Logger)
	agg.SkipSamples = bench.SkipSamples
	agg.ProviderTimeout = bench.Timeout
	agg.Observer = observer
	return agg
}

// run executes one benchmark and, when a metrics directory is set, writes
// its snapshot. The returned path is empty when nothing was written.
func (bench *Benchmark) run(ctx context.Context, observer benchmark.Observer) (*benchmark.Run, string, error) {
	active, err := bench.activeSet()
	if err != nil {
		return nil, "", err
	}

	run, err := bench.aggregator(observer).Run(ctx, active, bench.Prompt)
	if err != nil {
		return nil, "", err
	}

	if bench.MetricsDir == "" {
		return run, "", nil
	}
	sink := &metrics.FileSink{Dir: bench.MetricsDir, Logger: bench.Logger}
	if err := sink.Record(run); err != nil {
		return run, "", err
	}
	return run, sink.Path(metrics.FromRun(run).MetricDate), nil
}

func (bench *Benchmark) runCli(ctx context.Context, out io.Writer) (*benchmark.Run, error) {
	active, err := bench.activeSet()
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "Benchmarking %d providers\nPrompt: %q\n\n", active.Len(), bench.Prompt)

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Streaming"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("samples"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)

	var finished atomic.Int32
	observer := benchmark.ObserverFuncs{
		Sample: func(s velocity.Sample) {
			if !s.Terminal() {
				_ = bar.Add(1)
			}
		},
		Result: func(r benchmark.ProviderResult) {
			n := finished.Add(1)
			bar.Describe(fmt.Sprintf("%s done (%d/%d)", r.Name, n, active.Len()))
		},
	}

	run, snapshot, err := bench.run(ctx, observer)
	_ = bar.Finish()
	_ = bar.Clear()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return run, err
	}

	printSummary(out, run)
	if snapshot != "" {
		if info, statErr := os.Stat(snapshot); statErr == nil {
			fmt.Fprintf(out, "Metrics saved to %s (%s)\n", snapshot, units.HumanSize(float64(info.Size())))
		}
	}
	return run, nil
}
