package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"tokenvelocity/internal/api"
	"tokenvelocity/internal/benchmark"
	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/registry"
	"tokenvelocity/internal/velocity"
)

const (
	defaultPrompt = "Tell me about the Milky Way galaxy in 100 words"
)

// parseKeys splits a comma-separated provider list, dropping blanks.
func parseKeys(s string) []string {
	var keys []string
	for _, part := range strings.Split(s, ",") {
		if key := strings.TrimSpace(part); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func loadRegistry(path string, logger *logging.Logger) (*registry.Registry, error) {
	if path == "" {
		path = os.Getenv("PROVIDERS_FILE")
	}
	if path == "" {
		return registry.New(registry.DefaultProviders(), logger)
	}
	return registry.LoadFile(path, logger)
}

func main() {
	prompt := pflag.StringP("prompt", "p", defaultPrompt, "Prompt sent to every provider")
	providersFile := pflag.StringP("providers", "r", "", "Provider registry file (.yaml, .toml or .json); defaults to $PROVIDERS_FILE, then the built-in list")
	only := pflag.StringP("only", "o", "", "Comma-separated provider keys to benchmark (default all)")
	timeout := pflag.DurationP("timeout", "t", benchmark.DefaultProviderTimeout, "Per-provider stream timeout")
	minInterval := pflag.Duration("min-interval", 0, "Minimum time between two samples of a provider")
	skip := pflag.Int("skip", benchmark.DefaultSkipSamples, "Warm-up samples discarded per provider")
	format := pflag.StringP("format", "f", "", "Output format: json or yaml (default table)")
	metricsDir := pflag.String("metrics-dir", "", "Directory for daily metrics snapshots (optional)")
	logLevel := pflag.String("log-level", "WARN", "Log level written to stderr")
	help := pflag.BoolP("help", "h", false, "Show this help message")
	insecureSkipTLSVerify := pflag.Bool("insecure-skip-tls-verify", false, "Skip TLS certificate verification. Use with caution, this is insecure.")
	pflag.Parse()

	if *help {
		fmt.Printf("Usage of %s:\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(0)
	}

	if *format != "" && *format != "json" && *format != "yaml" {
		log.Fatalf("Invalid format %q, expected json or yaml", *format)
	}

	logger := logging.NewWithWriters(os.Stderr, os.Stderr, logging.ParseLevel(*logLevel))
	logging.App = logger

	bench := Benchmark{
		Only:        parseKeys(*only),
		Prompt:      *prompt,
		Timeout:     *timeout,
		MinInterval: *minInterval,
		SkipSamples: *skip,
		MetricsDir:  *metricsDir,
		Logger:      logger,
	}
	if err := bench.validate(); err != nil {
		log.Fatalf("Error: %v", err)
	}

	reg, err := loadRegistry(*providersFile, logger)
	if err != nil {
		log.Fatalf("Error loading providers: %v", err)
	}

	transport := api.NewTransport(logger)
	if *insecureSkipTLSVerify {
		fmt.Fprintln(os.Stderr, "\n/!\\ WARNING: Skipping TLS certificate verification. This is insecure and should not be used in production. /!\\")
		if tr, ok := transport.Client.Transport.(*http.Transport); ok {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
	}

	bench.Opener = velocity.FromTransport(transport)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Discover model names for providers configured without one
	configs, errs := api.ResolveModels(ctx, reg.Providers(), transport.Client)
	for _, err := range errs {
		logger.Warn("⚠️ Error discovering model: %v", err)
	}
	if reg, err = registry.New(configs, logger); err != nil {
		log.Fatalf("Error loading providers: %v", err)
	}

	bench.Registry = reg

	if *format == "" {
		run, err := bench.runCli(ctx, os.Stdout)
		if err != nil {
			log.Fatalf("Error running benchmark: %v", err)
		}
		if !run.HasData() {
			os.Exit(1)
		}
		return
	}

	run, snapshot, err := bench.run(ctx, nil)
	if err != nil {
		log.Fatalf("Error running benchmark: %v", err)
	}
	result := newResult(run)
	result.Snapshot = snapshot

	var output string
	switch *format {
	case "json":
		output, err = result.Json()
	case "yaml":
		output, err = result.Yaml()
	}
	if err != nil {
		log.Fatalf("Error formatting benchmark result: %v", err)
	}
	fmt.Println(output)
}
