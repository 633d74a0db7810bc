package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/bytedance/sonic"

	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/registry"
)

// VCAPService represents a Cloud Foundry service binding
type VCAPService struct {
	InstanceGUID string                 `json:"instance_guid"`
	InstanceName string                 `json:"instance_name"`
	Name         string                 `json:"name"`
	Plan         string                 `json:"plan"`
	Credentials  map[string]interface{} `json:"credentials"`
	Tags         []string               `json:"tags"`
	Label        string                 `json:"label"`
}

// VCAPServices represents the GenAI part of VCAP_SERVICES
type VCAPServices struct {
	GenAI []VCAPService `json:"genai"`
}

// ServiceEndpoint represents the endpoint configuration for multi-plan services
type ServiceEndpoint struct {
	APIKey    string `json:"api_key"`
	APIBase   string `json:"api_base"`
	ConfigURL string `json:"config_url"`
}

// AdvertisedModel represents a model from the config URL
type AdvertisedModel struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

// ConfigResponse represents the response from the config URL
type ConfigResponse struct {
	AdvertisedModels []AdvertisedModel `json:"advertisedModels"`
}

// fetchModelsFromConfig fetches models from a config URL for multi-plan services
func fetchModelsFromConfig(ctx context.Context, client *http.Client, configURL, apiKey string) ([]AdvertisedModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, configURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config URL returned status %d", resp.StatusCode)
	}

	var configResp ConfigResponse
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(&configResp); err != nil {
		return nil, fmt.Errorf("failed to decode config response: %w", err)
	}

	return configResp.AdvertisedModels, nil
}

// parseServiceEndpoint extracts endpoint configuration from credentials
func parseServiceEndpoint(credentials map[string]interface{}) (*ServiceEndpoint, error) {
	endpointData, exists := credentials["endpoint"]
	if !exists {
		return nil, fmt.Errorf("endpoint not found in credentials")
	}

	endpointMap, ok := endpointData.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("endpoint is not a valid object")
	}

	endpoint := &ServiceEndpoint{}
	if apiKey, ok := endpointMap["api_key"].(string); ok {
		endpoint.APIKey = apiKey
	}
	if apiBase, ok := endpointMap["api_base"].(string); ok {
		endpoint.APIBase = apiBase
	}
	if configURL, ok := endpointMap["config_url"].(string); ok {
		endpoint.ConfigURL = configURL
	}

	return endpoint, nil
}

// parseLegacyCredentials extracts credentials from legacy format
func parseLegacyCredentials(credentials map[string]interface{}) (string, string, []string) {
	var apiKey, baseURL string
	var models []string

	if key, ok := credentials["api_key"].(string); ok {
		apiKey = key
	}

	if url, ok := credentials["api_base"].(string); ok {
		baseURL = url
	} else if url, ok := credentials["base_url"].(string); ok {
		baseURL = url
	}

	if modelName, ok := credentials["model_name"].(string); ok {
		models = append(models, modelName)
	}

	if aliases, ok := credentials["model_aliases"].([]interface{}); ok {
		for _, alias := range aliases {
			aliasStr, ok := alias.(string)
			if !ok || containsString(models, aliasStr) {
				continue
			}
			models = append(models, aliasStr)
		}
	}

	return apiKey, baseURL, models
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// chatCompletionsURL turns a service api_base into a chat completions endpoint.
// GenAI proxy bases are missing their OpenAI path segment.
func chatCompletionsURL(baseURL string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	if strings.Contains(baseURL, "genai-proxy") && !strings.Contains(baseURL, "/v1") {
		if strings.HasSuffix(baseURL, "/openai") {
			baseURL += "/v1"
		} else if strings.Contains(baseURL, "tanzu-") {
			baseURL += "/openai/v1"
		}
	}
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// providerKey derives a registry key from a service instance name
func providerKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// getProvider extracts provider name from base URL
func getProvider(baseURL string) string {
	baseURL = strings.ToLower(baseURL)
	switch {
	case strings.Contains(baseURL, "openai.com"):
		return "OpenAI"
	case strings.Contains(baseURL, "groq.com"):
		return "Groq"
	case strings.Contains(baseURL, "sambanova.ai"):
		return "SambaNova"
	case strings.Contains(baseURL, "together.xyz"):
		return "TogetherAI"
	case strings.Contains(baseURL, "nvidia.com"):
		return "NVIDIA"
	case strings.Contains(baseURL, "genai-proxy") || strings.Contains(baseURL, "tanzu"):
		return "GenAI on Tanzu Platform"
	}
	return "Direct OpenAI Compatible"
}

// DiscoverProvidersFromVCAP turns every bound GenAI service into a provider.
// Multi-model plans are asked for their advertised models through client.
func DiscoverProvidersFromVCAP(ctx context.Context, client *http.Client) ([]registry.ProviderConfig, error) {
	vcapServices := os.Getenv("VCAP_SERVICES")
	if vcapServices == "" {
		return nil, fmt.Errorf("VCAP_SERVICES not found")
	}

	var services VCAPServices
	if err := sonic.UnmarshalString(vcapServices, &services); err != nil {
		return nil, fmt.Errorf("failed to parse VCAP_SERVICES: %w", err)
	}

	if client == nil {
		client = http.DefaultClient
	}
	logger := logging.Default()

	var providers []registry.ProviderConfig
	for _, service := range services.GenAI {
		serviceName := service.InstanceName
		if serviceName == "" {
			serviceName = service.Name
		}
		if serviceName == "" {
			serviceName = service.InstanceGUID
		}

		if service.Credentials == nil {
			logger.WarnWithFields("Service has no credentials, skipping", map[string]interface{}{
				"serviceName": serviceName,
			})
			continue
		}

		var baseURL, apiKey string
		var models []string

		// Multi-model services have endpoint.config_url but no model_name;
		// single-model services have both.
		_, hasModelName := service.Credentials["model_name"]
		endpoint, endpointErr := parseServiceEndpoint(service.Credentials)
		hasConfigURL := endpointErr == nil && endpoint.ConfigURL != ""

		switch {
		case hasConfigURL && !hasModelName:
			baseURL = endpoint.APIBase
			apiKey = endpoint.APIKey
			if apiKey != "" {
				advertised, err := fetchModelsFromConfig(ctx, client, endpoint.ConfigURL, apiKey)
				if err != nil {
					logger.WarnWithFields("Failed to fetch models for service", map[string]interface{}{
						"serviceName": serviceName,
						"error":       err,
					})
				}
				for _, m := range advertised {
					models = append(models, m.Name)
				}
			}
		case hasConfigURL && hasModelName:
			baseURL = endpoint.APIBase
			if apiBase, ok := service.Credentials["api_base"].(string); ok && apiBase != "" {
				baseURL = apiBase
			}
			apiKey = endpoint.APIKey
			if modelName, ok := service.Credentials["model_name"].(string); ok && modelName != "" {
				models = append(models, modelName)
			}
		default:
			apiKey, baseURL, models = parseLegacyCredentials(service.Credentials)
		}

		if !isValidURL(baseURL) {
			logger.WarnWithFields("Service has no usable api_base, skipping", map[string]interface{}{
				"serviceName": serviceName,
				"baseURL":     baseURL,
			})
			continue
		}

		cfg := registry.ProviderConfig{
			Key:        providerKey(serviceName),
			Name:       serviceName,
			Endpoint:   chatCompletionsURL(baseURL),
			Credential: apiKey,
			Models:     models,
			Strategy:   registry.StrategyOpenAISystem,
		}
		if len(models) > 0 {
			cfg.Model = models[0]
		}
		providers = append(providers, cfg)

		logger.InfoWithFields("Discovered service", map[string]interface{}{
			"serviceName": serviceName,
			"plan":        service.Plan,
			"provider":    getProvider(baseURL),
			"models":      len(models),
		})
	}

	return providers, nil
}

// IsVCAPServicesAvailable checks if VCAP_SERVICES is available
func IsVCAPServicesAvailable() bool {
	return os.Getenv("VCAP_SERVICES") != ""
}
