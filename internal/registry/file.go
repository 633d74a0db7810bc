package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/pelletier/go-toml/v2"
	"go.yaml.in/yaml/v4"

	"tokenvelocity/internal/logging"
)

// FileEntry is one provider in a registry file. The field names follow the
// api_providers.json layout: apiUrl, apiKey, selectedModel.
type FileEntry struct {
	Name          string            `json:"name" yaml:"name" toml:"name"`
	APIURL        string            `json:"apiUrl" yaml:"apiUrl" toml:"apiUrl"`
	APIKey        string            `json:"apiKey,omitempty" yaml:"apiKey,omitempty" toml:"apiKey,omitempty"`
	APIKeyEnv     string            `json:"apiKeyEnv,omitempty" yaml:"apiKeyEnv,omitempty" toml:"apiKeyEnv,omitempty"`
	Model         string            `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
	SelectedModel string            `json:"selectedModel,omitempty" yaml:"selectedModel,omitempty" toml:"selectedModel,omitempty"`
	Models        []string          `json:"models,omitempty" yaml:"models,omitempty" toml:"models,omitempty"`
	Params        *GenerationParams `json:"params,omitempty" yaml:"params,omitempty" toml:"params,omitempty"`
	Strategy      string            `json:"strategy,omitempty" yaml:"strategy,omitempty" toml:"strategy,omitempty"`
}

// LoadFile reads a registry file. The format is picked from the extension:
// .yaml/.yml, .toml or .json.
func LoadFile(path string, logger *logging.Logger) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}

	configs, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parse registry file %s: %w", path, err)
	}

	logging.OrDefault(logger).Info("Loaded %d providers from %s", len(configs), path)
	return New(configs, logger)
}

// Parse decodes registry file contents in the format named by ext.
// Providers are returned sorted by key.
func Parse(data []byte, ext string) ([]ProviderConfig, error) {
	entries := map[string]FileEntry{}

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("toml: %w", err)
		}
	case ".json":
		if err := sonic.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported registry format %q", ext)
	}

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	configs := make([]ProviderConfig, 0, len(keys))
	for _, key := range keys {
		configs = append(configs, entries[key].toConfig(key))
	}
	return configs, nil
}

func (e FileEntry) toConfig(key string) ProviderConfig {
	cfg := ProviderConfig{
		Key:      key,
		Name:     e.Name,
		Endpoint: e.APIURL,
		Model:    e.SelectedModel,
		Models:   e.Models,
		Params:   e.Params,
		Strategy: e.Strategy,
	}
	if cfg.Model == "" {
		cfg.Model = e.Model
	}

	switch {
	case e.APIKeyEnv != "":
		cfg.CredentialEnv = e.APIKeyEnv
	case envPlaceholder(e.APIKey) != "":
		cfg.CredentialEnv = envPlaceholder(e.APIKey)
	default:
		cfg.Credential = e.APIKey
	}
	return cfg
}

// envPlaceholder extracts NAME from "process.env.NAME" or "${NAME}".
func envPlaceholder(v string) string {
	v = strings.TrimSpace(v)
	if name, ok := strings.CutPrefix(v, "process.env."); ok {
		return name
	}
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return v[2 : len(v)-1]
	}
	return ""
}
