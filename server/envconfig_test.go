package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configEnvKeys = []string{
	"PORT",
	"GIN_MODE",
	"PROVIDERS_FILE",
	"BENCHMARK_PROVIDER_TIMEOUT",
	"MIN_SAMPLE_INTERVAL",
	"SKIP_SAMPLES",
	"METRICS_DIR",
	"RECENT_RUNS",
	"PLACEHOLDER_METRICS",
}

// clearConfigEnv unsets every configuration variable and restores them when
// the test finishes
func clearConfigEnv(t *testing.T) {
	t.Helper()
	originalEnv := map[string]string{}
	for _, key := range configEnvKeys {
		originalEnv[key] = os.Getenv(key)
		os.Unsetenv(key)
	}
	t.Cleanup(func() {
		for key, value := range originalEnv {
			if value != "" {
				os.Setenv(key, value)
			} else {
				os.Unsetenv(key)
			}
		}
	})
}

func TestLoadEnvironmentConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)

	config := LoadEnvironmentConfig()

	if config.Port != "8080" {
		t.Errorf("Expected port '8080', got '%s'", config.Port)
	}

	if config.ProviderTimeout != 2*time.Minute {
		t.Errorf("Expected provider timeout 2m, got %v", config.ProviderTimeout)
	}

	if config.MinSampleInterval != 0 {
		t.Errorf("Expected no minimum sample interval, got %v", config.MinSampleInterval)
	}

	if config.SkipSamples != 4 {
		t.Errorf("Expected 4 skipped samples, got %d", config.SkipSamples)
	}

	if config.RecentRuns != 5 {
		t.Errorf("Expected 5 recent runs, got %d", config.RecentRuns)
	}

	if config.PlaceholderMetrics {
		t.Error("Expected placeholder metrics to be disabled")
	}
}

func TestLoadEnvironmentConfig_Overrides(t *testing.T) {
	clearConfigEnv(t)

	os.Setenv("PORT", "9090")
	os.Setenv("BENCHMARK_PROVIDER_TIMEOUT", "45s")
	os.Setenv("MIN_SAMPLE_INTERVAL", "250ms")
	os.Setenv("SKIP_SAMPLES", "2")
	os.Setenv("RECENT_RUNS", "10")
	os.Setenv("PLACEHOLDER_METRICS", "true")
	os.Setenv("METRICS_DIR", "/tmp/metrics")

	config := LoadEnvironmentConfig()

	if config.Port != "9090" {
		t.Errorf("Expected port '9090', got '%s'", config.Port)
	}

	if config.ProviderTimeout != 45*time.Second {
		t.Errorf("Expected provider timeout 45s, got %v", config.ProviderTimeout)
	}

	if config.MinSampleInterval != 250*time.Millisecond {
		t.Errorf("Expected minimum sample interval 250ms, got %v", config.MinSampleInterval)
	}

	if config.SkipSamples != 2 {
		t.Errorf("Expected 2 skipped samples, got %d", config.SkipSamples)
	}

	if config.RecentRuns != 10 {
		t.Errorf("Expected 10 recent runs, got %d", config.RecentRuns)
	}

	if !config.PlaceholderMetrics {
		t.Error("Expected placeholder metrics to be enabled")
	}

	if config.MetricsDir != "/tmp/metrics" {
		t.Errorf("Expected metrics dir '/tmp/metrics', got '%s'", config.MetricsDir)
	}
}

func TestLoadEnvironmentConfig_PlainSecondsTimeout(t *testing.T) {
	clearConfigEnv(t)

	os.Setenv("BENCHMARK_PROVIDER_TIMEOUT", "30")

	config := LoadEnvironmentConfig()
	if config.ProviderTimeout != 30*time.Second {
		t.Errorf("Expected provider timeout 30s, got %v", config.ProviderTimeout)
	}
}

func TestLoadEnvironmentConfig_InvalidValuesFallBack(t *testing.T) {
	clearConfigEnv(t)

	os.Setenv("BENCHMARK_PROVIDER_TIMEOUT", "soon")
	os.Setenv("SKIP_SAMPLES", "-1")

	config := LoadEnvironmentConfig()

	if config.ProviderTimeout != 2*time.Minute {
		t.Errorf("Expected default provider timeout, got %v", config.ProviderTimeout)
	}

	if config.SkipSamples != 4 {
		t.Errorf("Expected default skip, got %d", config.SkipSamples)
	}
}

func TestValidateEnvironmentConfig(t *testing.T) {
	clearConfigEnv(t)

	// Test with no configuration
	errors := ValidateEnvironmentConfig()
	if len(errors) != 0 {
		t.Errorf("Expected no validation errors, got: %v", errors)
	}

	// Test with invalid PORT
	os.Setenv("PORT", "http")
	errors = ValidateEnvironmentConfig()
	if len(errors) != 1 {
		t.Errorf("Expected 1 validation error for invalid PORT, got: %v", errors)
	}
	os.Unsetenv("PORT")

	// Test with missing providers file
	os.Setenv("PROVIDERS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	errors = ValidateEnvironmentConfig()
	if len(errors) != 1 {
		t.Errorf("Expected 1 validation error for missing PROVIDERS_FILE, got: %v", errors)
	}
	os.Unsetenv("PROVIDERS_FILE")

	// Test with invalid durations and counts
	os.Setenv("MIN_SAMPLE_INTERVAL", "fast")
	os.Setenv("RECENT_RUNS", "many")
	os.Setenv("PLACEHOLDER_METRICS", "sometimes")
	errors = ValidateEnvironmentConfig()
	if len(errors) != 3 {
		t.Errorf("Expected 3 validation errors, got: %v", errors)
	}
}

func TestIsValidURL(t *testing.T) {
	testCases := []struct {
		url      string
		expected bool
	}{
		{"https://api.groq.com/openai/v1", true},
		{"http://localhost:8080", true},
		{"invalid-url", false},
		{"", false},
	}

	for _, tc := range testCases {
		if result := isValidURL(tc.url); result != tc.expected {
			t.Errorf("isValidURL(%q) = %v, expected %v", tc.url, result, tc.expected)
		}
	}
}
