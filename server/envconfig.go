package server

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"tokenvelocity/internal/benchmark"
	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/metrics"
)

// EnvironmentConfig holds the server settings read from environment variables
type EnvironmentConfig struct {
	Port               string        `json:"port"`
	GinMode            string        `json:"ginMode"`
	ProvidersFile      string        `json:"providersFile,omitempty"`
	ProviderTimeout    time.Duration `json:"providerTimeout"`
	MinSampleInterval  time.Duration `json:"minSampleInterval"`
	SkipSamples        int           `json:"skipSamples"`
	MetricsDir         string        `json:"metricsDir,omitempty"`
	RecentRuns         int           `json:"recentRuns"`
	PlaceholderMetrics bool          `json:"placeholderMetrics"`
}

// DefaultEnvironmentConfig returns the settings used when nothing is set
func DefaultEnvironmentConfig() EnvironmentConfig {
	return EnvironmentConfig{
		Port:            "8080",
		ProviderTimeout: benchmark.DefaultProviderTimeout,
		SkipSamples:     benchmark.DefaultSkipSamples,
		RecentRuns:      metrics.DefaultRecentRun,
	}
}

// LoadEnvironmentConfig reads the configuration from the environment. Invalid
// values are logged and replaced by their defaults; ValidateEnvironmentConfig
// reports them in full.
func LoadEnvironmentConfig() EnvironmentConfig {
	config := DefaultEnvironmentConfig()
	logger := logging.Default()

	if port := os.Getenv("PORT"); port != "" {
		config.Port = port
	}
	config.GinMode = os.Getenv("GIN_MODE")
	config.ProvidersFile = os.Getenv("PROVIDERS_FILE")
	config.MetricsDir = os.Getenv("METRICS_DIR")

	if d, ok, err := durationEnv("BENCHMARK_PROVIDER_TIMEOUT"); err != nil {
		logger.Warn("⚠️ %v, using %v", err, config.ProviderTimeout)
	} else if ok {
		config.ProviderTimeout = d
	}
	if d, ok, err := durationEnv("MIN_SAMPLE_INTERVAL"); err != nil {
		logger.Warn("⚠️ %v, using %v", err, config.MinSampleInterval)
	} else if ok {
		config.MinSampleInterval = d
	}
	if n, ok, err := intEnv("SKIP_SAMPLES"); err != nil {
		logger.Warn("⚠️ %v, using %d", err, config.SkipSamples)
	} else if ok {
		config.SkipSamples = n
	}
	if n, ok, err := intEnv("RECENT_RUNS"); err != nil {
		logger.Warn("⚠️ %v, using %d", err, config.RecentRuns)
	} else if ok {
		config.RecentRuns = n
	}
	if v := os.Getenv("PLACEHOLDER_METRICS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("⚠️ Invalid PLACEHOLDER_METRICS %q, placeholder metrics disabled", v)
		}
		config.PlaceholderMetrics = b
	}

	return config
}

// durationEnv parses a Go duration ("90s", "2m") or a plain number of seconds
func durationEnv(name string) (time.Duration, bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false, fmt.Errorf("invalid %s: %s must not be negative", name, v)
		}
		return time.Duration(secs) * time.Second, true, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %s", name, v)
	}
	if d < 0 {
		return 0, false, fmt.Errorf("invalid %s: %s must not be negative", name, v)
	}
	return d, true, nil
}

func intEnv(name string) (int, bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("invalid %s: %s", name, v)
	}
	return n, true, nil
}

// ValidateEnvironmentConfig validates environment variable configuration
func ValidateEnvironmentConfig() []string {
	var errors []string

	if port := os.Getenv("PORT"); port != "" {
		if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
			errors = append(errors, fmt.Sprintf("Invalid PORT: %s", port))
		}
	}

	if path := os.Getenv("PROVIDERS_FILE"); path != "" {
		if _, err := os.Stat(path); err != nil {
			errors = append(errors, fmt.Sprintf("PROVIDERS_FILE not readable: %s", path))
		}
	}

	for _, name := range []string{"BENCHMARK_PROVIDER_TIMEOUT", "MIN_SAMPLE_INTERVAL"} {
		if _, _, err := durationEnv(name); err != nil {
			errors = append(errors, err.Error())
		}
	}

	for _, name := range []string{"SKIP_SAMPLES", "RECENT_RUNS"} {
		if _, _, err := intEnv(name); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if v := os.Getenv("PLACEHOLDER_METRICS"); v != "" {
		if _, err := strconv.ParseBool(v); err != nil {
			errors = append(errors, fmt.Sprintf("Invalid PLACEHOLDER_METRICS: %s", v))
		}
	}

	return errors
}

// isValidURL validates if a URL is properly formatted
func isValidURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	// Check if it has a scheme and host
	return parsedURL.Scheme != "" && parsedURL.Host != ""
}
