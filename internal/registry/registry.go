// Package registry holds the immutable set of benchmarkable providers and
// derives the active subset for a run from activation flags.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"tokenvelocity/internal/logging"
)

// Call strategy names understood by internal/api.
const (
	StrategyOpenAI       = "openai"
	StrategyOpenAISystem = "openai-system"
	StrategyTuned        = "tuned"
)

var (
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrDuplicateProvider = errors.New("duplicate provider")
	ErrInvalidProvider   = errors.New("invalid provider")
)

// GenerationParams are optional request-shaping parameters. Nil fields are
// left out of the request.
type GenerationParams struct {
	Temperature      *float32 `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty"`
	TopP             *float32 `json:"topP,omitempty" yaml:"topP,omitempty" toml:"topP,omitempty"`
	PresencePenalty  *float32 `json:"presencePenalty,omitempty" yaml:"presencePenalty,omitempty" toml:"presencePenalty,omitempty"`
	FrequencyPenalty *float32 `json:"frequencyPenalty,omitempty" yaml:"frequencyPenalty,omitempty" toml:"frequencyPenalty,omitempty"`
	MaxTokens        *int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty" toml:"maxTokens,omitempty"`
}

func (p *GenerationParams) clone() *GenerationParams {
	if p == nil {
		return nil
	}
	c := &GenerationParams{}
	if p.Temperature != nil {
		v := *p.Temperature
		c.Temperature = &v
	}
	if p.TopP != nil {
		v := *p.TopP
		c.TopP = &v
	}
	if p.PresencePenalty != nil {
		v := *p.PresencePenalty
		c.PresencePenalty = &v
	}
	if p.FrequencyPenalty != nil {
		v := *p.FrequencyPenalty
		c.FrequencyPenalty = &v
	}
	if p.MaxTokens != nil {
		v := *p.MaxTokens
		c.MaxTokens = &v
	}
	return c
}

// ProviderConfig describes one provider endpoint.
type ProviderConfig struct {
	Key           string            `json:"key"`
	Name          string            `json:"name"`
	Endpoint      string            `json:"endpoint"`
	CredentialEnv string            `json:"credentialEnv,omitempty"`
	Credential    string            `json:"-"`
	Model         string            `json:"model"`
	Models        []string          `json:"models,omitempty"`
	Params        *GenerationParams `json:"params,omitempty"`
	Strategy      string            `json:"strategy"`
}

// HasCredential reports whether a secret was resolved for the provider.
func (c ProviderConfig) HasCredential() bool {
	return c.Credential != ""
}

// DisplayName returns Name, falling back to Key.
func (c ProviderConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Key
}

func (c ProviderConfig) clone() ProviderConfig {
	out := c
	if c.Models != nil {
		out.Models = append([]string(nil), c.Models...)
	}
	out.Params = c.Params.clone()
	return out
}

func (c ProviderConfig) validate() error {
	if strings.TrimSpace(c.Key) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidProvider)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("%w %s: endpoint is required", ErrInvalidProvider, c.Key)
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w %s: invalid endpoint %q", ErrInvalidProvider, c.Key, c.Endpoint)
	}
	switch c.Strategy {
	case StrategyOpenAI, StrategyOpenAISystem, StrategyTuned:
	default:
		return fmt.Errorf("%w %s: unknown strategy %q", ErrInvalidProvider, c.Key, c.Strategy)
	}
	return nil
}

// Registry is an ordered, read-only collection of providers. Lookups return
// copies so callers can never mutate registered configuration.
type Registry struct {
	order     []string
	providers map[string]ProviderConfig
}

// New builds a registry. Credentials are resolved from CredentialEnv when
// Credential is empty; a missing secret is logged, not fatal.
func New(configs []ProviderConfig, logger *logging.Logger) (*Registry, error) {
	logger = logging.OrDefault(logger)
	r := &Registry{providers: make(map[string]ProviderConfig, len(configs))}

	for _, cfg := range configs {
		cfg = cfg.clone()
		if cfg.Strategy == "" {
			cfg.Strategy = StrategyOpenAISystem
		}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		if _, exists := r.providers[cfg.Key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, cfg.Key)
		}
		if cfg.Model == "" && len(cfg.Models) > 0 {
			cfg.Model = cfg.Models[0]
		}
		if cfg.Credential == "" && cfg.CredentialEnv != "" {
			cfg.Credential = os.Getenv(cfg.CredentialEnv)
		}
		if !cfg.HasCredential() {
			logger.WarnWithContext(&logging.LogContext{Provider: cfg.Key}, "⚠️ No credential for %s (env %s), requests will be unauthenticated", cfg.DisplayName(), cfg.CredentialEnv)
		}
		r.order = append(r.order, cfg.Key)
		r.providers[cfg.Key] = cfg
	}

	return r, nil
}

// Lookup returns a copy of the provider registered under key.
func (r *Registry) Lookup(key string) (ProviderConfig, bool) {
	cfg, ok := r.providers[key]
	if !ok {
		return ProviderConfig{}, false
	}
	return cfg.clone(), true
}

// Providers returns copies of every provider in registration order.
func (r *Registry) Providers() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.providers[key].clone())
	}
	return out
}

// Keys returns provider keys in registration order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.order)
}

// Contains reports whether key is registered.
func (r *Registry) Contains(key string) bool {
	_, ok := r.providers[key]
	return ok
}

// Active derives the active provider set from activation flags. Keys not in
// the registry are ignored; the result follows registry order.
func (r *Registry) Active(flags map[string]bool) ActiveSet {
	var set ActiveSet
	for _, key := range r.order {
		if flags[key] {
			set.providers = append(set.providers, r.providers[key].clone())
		}
	}
	return set
}

// All returns an active set containing every registered provider.
func (r *Registry) All() ActiveSet {
	flags := make(map[string]bool, len(r.order))
	for _, key := range r.order {
		flags[key] = true
	}
	return r.Active(flags)
}

// ActiveSet is the snapshot of enabled providers handed to one benchmark run.
type ActiveSet struct {
	providers []ProviderConfig
}

// Providers returns copies of the active providers.
func (s ActiveSet) Providers() []ProviderConfig {
	out := make([]ProviderConfig, len(s.providers))
	for i, p := range s.providers {
		out[i] = p.clone()
	}
	return out
}

// Keys returns the active provider keys.
func (s ActiveSet) Keys() []string {
	keys := make([]string, len(s.providers))
	for i, p := range s.providers {
		keys[i] = p.Key
	}
	return keys
}

// Len returns the number of active providers.
func (s ActiveSet) Len() int {
	return len(s.providers)
}

// Empty reports whether no provider is active.
func (s ActiveSet) Empty() bool {
	return len(s.providers) == 0
}
