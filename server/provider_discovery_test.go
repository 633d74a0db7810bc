package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/registry"
)

const registryJSON = `{
	"GROQ": {"name": "Groq", "apiUrl": "https://api.groq.com/openai/v1/chat/completions", "apiKey": "gsk", "selectedModel": "llama-3.1-8b-instant"},
	"LOCAL": {"name": "Local", "apiUrl": "http://localhost:11434/v1/chat/completions", "model": "llama3"}
}`

func TestDiscoverProviders_FileWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	if err := os.WriteFile(path, []byte(registryJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VCAP_SERVICES", legacyVCAP)

	config := DefaultEnvironmentConfig()
	config.ProvidersFile = path

	catalog, err := DiscoverProviders(context.Background(), config, nil, logging.Discard())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if catalog.Source != SourceFile {
		t.Errorf("Expected source %s, got %s", SourceFile, catalog.Source)
	}
	if catalog.Count != 2 {
		t.Errorf("Expected 2 providers, got %d", catalog.Count)
	}
	keys := catalog.Registry.Keys()
	if keys[0] != "GROQ" || keys[1] != "LOCAL" {
		t.Errorf("Expected keys sorted, got %v", keys)
	}
}

func TestDiscoverProviders_MissingFile(t *testing.T) {
	config := DefaultEnvironmentConfig()
	config.ProvidersFile = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := DiscoverProviders(context.Background(), config, nil, logging.Discard()); err == nil {
		t.Error("Expected error for missing registry file")
	}
}

func TestDiscoverProviders_CloudFoundry(t *testing.T) {
	t.Setenv("VCAP_SERVICES", legacyVCAP)

	catalog, err := DiscoverProviders(context.Background(), DefaultEnvironmentConfig(), nil, logging.Discard())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if catalog.Source != SourceCloudFoundry {
		t.Errorf("Expected source %s, got %s", SourceCloudFoundry, catalog.Source)
	}
	cfg, ok := catalog.Registry.Lookup("LEGACY_OPENAI_SERVICE")
	if !ok {
		t.Fatal("Expected bound service to be registered")
	}
	if cfg.Model != "gpt-4" {
		t.Errorf("Expected model gpt-4, got %s", cfg.Model)
	}
}

func TestDiscoverProviders_Defaults(t *testing.T) {
	t.Setenv("VCAP_SERVICES", "")

	catalog, err := DiscoverProviders(context.Background(), DefaultEnvironmentConfig(), nil, logging.Discard())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if catalog.Source != SourceDefault {
		t.Errorf("Expected source %s, got %s", SourceDefault, catalog.Source)
	}
	if catalog.Count != len(registry.DefaultProviders()) {
		t.Errorf("Expected %d default providers, got %d", len(registry.DefaultProviders()), catalog.Count)
	}
}

func TestDiscoverProviders_EmptyVCAPFallsBack(t *testing.T) {
	t.Setenv("VCAP_SERVICES", emptyVCAP)

	catalog, err := DiscoverProviders(context.Background(), DefaultEnvironmentConfig(), nil, logging.Discard())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if catalog.Source != SourceDefault {
		t.Errorf("Expected source %s, got %s", SourceDefault, catalog.Source)
	}
}
