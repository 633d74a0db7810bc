package main

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/docker/go-units"
	"github.com/fatih/color"
	"go.yaml.in/yaml/v4"

	"tokenvelocity/internal/benchmark"
	"tokenvelocity/internal/metrics"
)

func (result *BenchmarkResult) Json() (string, error) {
	prettyJSON, err := sonic.ConfigStd.MarshalIndent(result, "", "    ")
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}

	return string(prettyJSON), nil
}

func (result *BenchmarkResult) Yaml() (string, error) {
	yamlData, err := yaml.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("error marshalling yaml: %w", err)
	}

	return string(yamlData), nil
}

// newResult converts a finished run into its printable form.
func newResult(run *benchmark.Run) BenchmarkResult {
	return BenchmarkResult{
		RunID:     run.ID,
		Prompt:    run.Prompt,
		StartedAt: run.StartedAt,
		Duration:  units.HumanDuration(run.Duration()),
		Providers: run.Ordered(),
		Metrics:   metrics.FromRun(run),
	}
}

func statusCell(r *benchmark.ProviderResult) string {
	cell := fmt.Sprintf("%-7s", r.Status)
	switch {
	case r.Status == benchmark.StatusOK:
		return color.GreenString(cell)
	case r.Failure != "":
		return color.RedString(cell)
	default:
		return color.YellowString(cell)
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// printSummary writes the run as a markdown-style table followed by the
// failure details of providers without data.
func printSummary(w io.Writer, run *benchmark.Run) {
	fmt.Fprintln(w, "| Provider             | Model                          | Status  | Average (tokens/s) | Peak (tokens/s) | Lowest (tokens/s) | Samples |")
	fmt.Fprintln(w, "|----------------------|--------------------------------|---------|--------------------|-----------------|-------------------|---------|")

	results := run.Ordered()
	for _, r := range results {
		fmt.Fprintf(w, "| %-20s | %-30s | %s | %18.2f | %15.2f | %17.2f | %7d |\n",
			clip(r.Name, 20),
			clip(r.Model, 30),
			statusCell(r),
			r.Average,
			r.Peak,
			r.Lowest,
			len(r.Samples),
		)
	}

	for _, r := range results {
		if r.Status == benchmark.StatusOK {
			continue
		}
		detail := fmt.Sprintf("%s: no samples after skipping %d warm-up", r.Name, r.Skipped)
		if r.Failure != "" {
			detail = fmt.Sprintf("%s: %s failure: %s", r.Name, r.Failure, r.Error)
		}
		fmt.Fprintln(w, color.HiBlackString("  %s", detail))
	}

	fmt.Fprintf(w, "\nCompleted in %s\n", units.HumanDuration(run.Duration()))
}
