package server

import (
	"time"

	"tokenvelocity/internal/registry"
)

// BenchmarkRequest represents the request payload for running a benchmark
type BenchmarkRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	// Providers optionally restricts the run to these keys; empty means the
	// currently active selection
	Providers []string `json:"providers,omitempty"`
}

// ActivationRequest sets activation flags for several providers at once
type ActivationRequest struct {
	Providers map[string]bool `json:"providers" binding:"required"`
}

// ProviderView is a registered provider as exposed over the API
type ProviderView struct {
	Key       string   `json:"key"`
	Name      string   `json:"name"`
	Endpoint  string   `json:"endpoint"`
	Model     string   `json:"model"`
	Models    []string `json:"models,omitempty"`
	Strategy  string   `json:"strategy"`
	Active    bool     `json:"active"`
	HasAPIKey bool     `json:"hasApiKey"`
}

// ProvidersResponse represents the response for provider listing
type ProvidersResponse struct {
	Providers []ProviderView `json:"providers"`
	Count     int            `json:"count"`
	Active    int            `json:"active"`
	Source    string         `json:"source"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func newProviderView(cfg registry.ProviderConfig, active bool) ProviderView {
	return ProviderView{
		Key:       cfg.Key,
		Name:      cfg.DisplayName(),
		Endpoint:  cfg.Endpoint,
		Model:     cfg.Model,
		Models:    cfg.Models,
		Strategy:  cfg.Strategy,
		Active:    active,
		HasAPIKey: cfg.HasCredential(),
	}
}
