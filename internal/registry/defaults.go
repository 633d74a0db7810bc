package registry

func float32Ptr(v float32) *float32 { return &v }
func intPtr(v int) *int             { return &v }

// DefaultProviders returns the built-in provider table used when no registry
// file is configured.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Key:           "TOGETHERAI",
			Name:          "TogetherAI",
			Endpoint:      "https://api.together.xyz/v1/chat/completions",
			CredentialEnv: "TOGETHERAI_API_KEY",
			Model:         "meta-llama/Meta-Llama-3.1-70B-Instruct-Turbo",
			Strategy:      StrategyOpenAISystem,
		},
		{
			Key:           "GROQ",
			Name:          "Groq",
			Endpoint:      "https://api.groq.com/openai/v1/chat/completions",
			CredentialEnv: "GROQ_API_KEY",
			Model:         "llama-3.1-70b-versatile",
			Models:        []string{"llama-3.1-70b-versatile", "llama-3.1-8b-instant"},
			Strategy:      StrategyOpenAISystem,
		},
		{
			Key:           "SAMBANOVA",
			Name:          "SambaNova",
			Endpoint:      "https://api.sambanova.ai/v1/chat/completions",
			CredentialEnv: "SNOVA_API_KEY",
			Model:         "Meta-Llama-3.1-70B-Instruct",
			Models:        []string{"Meta-Llama-3.1-70B-Instruct", "Meta-Llama-3.1-8B-Instruct"},
			Strategy:      StrategyOpenAISystem,
		},
		{
			Key:           "NVIDIA",
			Name:          "NVIDIA",
			Endpoint:      "https://integrate.api.nvidia.com/v1/chat/completions",
			CredentialEnv: "NVIDIA_API_KEY",
			Model:         "meta/llama-3.1-70b-instruct",
			Params: &GenerationParams{
				Temperature:      float32Ptr(0.2),
				TopP:             float32Ptr(0.7),
				PresencePenalty:  float32Ptr(0),
				FrequencyPenalty: float32Ptr(0),
				MaxTokens:        intPtr(1024),
			},
			Strategy: StrategyTuned,
		},
	}
}
