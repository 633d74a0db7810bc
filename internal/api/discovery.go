package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"tokenvelocity/internal/registry"
)

// BaseURL strips the chat-completions path from a provider endpoint so the
// OpenAI client can address sibling resources such as /models.
func BaseURL(endpoint string) string {
	endpoint = strings.TrimRight(endpoint, "/")
	return strings.TrimSuffix(endpoint, "/chat/completions")
}

// FirstAvailableModel lists the provider's models and returns the first one.
func FirstAvailableModel(ctx context.Context, cfg registry.ProviderConfig, httpClient *http.Client) (string, error) {
	config := openai.DefaultConfig(cfg.Credential)
	config.BaseURL = BaseURL(cfg.Endpoint)
	if httpClient != nil {
		config.HTTPClient = httpClient
	}
	client := openai.NewClientWithConfig(config)

	modelList, err := client.ListModels(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list models for %s: %w", cfg.Key, err)
	}

	if len(modelList.Models) == 0 {
		return "", fmt.Errorf("no models available for %s", cfg.Key)
	}

	return modelList.Models[0].ID, nil
}

// ResolveModels fills in the model of every provider that has none by asking
// the provider. Providers whose discovery fails are returned unchanged and
// their errors collected.
func ResolveModels(ctx context.Context, configs []registry.ProviderConfig, httpClient *http.Client) ([]registry.ProviderConfig, []error) {
	out := make([]registry.ProviderConfig, len(configs))
	var errs []error
	for i, cfg := range configs {
		out[i] = cfg
		if cfg.Model != "" {
			continue
		}
		model, err := FirstAvailableModel(ctx, cfg, httpClient)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[i].Model = model
	}
	return out, errs
}
