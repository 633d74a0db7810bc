package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"tokenvelocity/internal/api"
	"tokenvelocity/internal/logging"
	"tokenvelocity/internal/registry"
)

// Provider sources in priority order
const (
	SourceFile         = "file"
	SourceCloudFoundry = "cloud-foundry"
	SourceDefault      = "default"
)

// ProviderCatalog is the registry the server was started with
type ProviderCatalog struct {
	Registry  *registry.Registry `json:"-"`
	Source    string             `json:"source"`
	Count     int                `json:"count"`
	Timestamp time.Time          `json:"timestamp"`
}

// DiscoverProviders builds the provider registry from, in order: the
// PROVIDERS_FILE registry file, bound Cloud Foundry GenAI services, and the
// built-in provider list. Bound services without a model get the first one
// their /models endpoint reports.
func DiscoverProviders(ctx context.Context, config EnvironmentConfig, client *http.Client, logger *logging.Logger) (*ProviderCatalog, error) {
	logger = logging.OrDefault(logger)
	logger.Info("🔍 Discovering providers from all configuration sources...")

	if config.ProvidersFile != "" {
		reg, err := registry.LoadFile(config.ProvidersFile, logger)
		if err != nil {
			return nil, err
		}
		return newCatalog(reg, SourceFile, logger), nil
	}

	if IsVCAPServicesAvailable() {
		configs, err := DiscoverProvidersFromVCAP(ctx, client)
		if err != nil {
			logger.Warn("⚠️ Failed to discover VCAP_SERVICES: %v", err)
		} else if len(configs) > 0 {
			configs, errs := api.ResolveModels(ctx, configs, client)
			for _, err := range errs {
				logger.Warn("⚠️ %v", err)
			}
			reg, err := registry.New(configs, logger)
			if err != nil {
				return nil, fmt.Errorf("invalid Cloud Foundry provider: %w", err)
			}
			logger.Info("☁️ Using Cloud Foundry VCAP_SERVICES configuration")
			return newCatalog(reg, SourceCloudFoundry, logger), nil
		}
	}

	reg, err := registry.New(registry.DefaultProviders(), logger)
	if err != nil {
		return nil, err
	}
	return newCatalog(reg, SourceDefault, logger), nil
}

func newCatalog(reg *registry.Registry, source string, logger *logging.Logger) *ProviderCatalog {
	logger.Info("✅ Discovered %d providers from %s source", reg.Len(), source)
	return &ProviderCatalog{
		Registry:  reg,
		Source:    source,
		Count:     reg.Len(),
		Timestamp: time.Now(),
	}
}
