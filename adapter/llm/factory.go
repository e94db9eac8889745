package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderGroq    = "groq"
	ProviderOpenAI  = "openai"
	ProviderOllama  = "ollama"
	ProviderGemini  = "gemini"
	ProviderBedrock = "bedrock"
)

// Providers lists the supported provider names.
var Providers = []string{ProviderGroq, ProviderOpenAI, ProviderOllama, ProviderGemini, ProviderBedrock}

// Default models per provider.
const (
	DefaultGroqModel   = "qwen/qwen3-32b"
	DefaultOllamaModel = "qwen3"
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string

	// Bedrock only.
	Region  string
	Profile string
}

// New creates the configured provider. Providers that need an API key return
// an error wrapping ErrNotConfigured when it is missing.
func New(ctx context.Context, cfg Config) (LLM, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderGroq, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("groq: %w: set GROQ_API_KEY", ErrNotConfigured)
		}
		return NewOpenAILLM(cfg.APIKey, orDefault(cfg.BaseURL, GroqBaseURL), orDefault(cfg.Model, DefaultGroqModel)), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai: %w: set OPENAI_API_KEY", ErrNotConfigured)
		}
		return NewOpenAILLM(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case ProviderOllama:
		return NewOpenAILLM(orDefault(cfg.APIKey, "ollama"), orDefault(cfg.BaseURL, OllamaBaseURL), orDefault(cfg.Model, DefaultOllamaModel)), nil
	case ProviderGemini:
		return NewGeminiLLM(ctx, cfg.APIKey, cfg.Model)
	case ProviderBedrock:
		return NewBedrockLLM(ctx, BedrockConfig{
			ModelID:     cfg.Model,
			Region:      cfg.Region,
			Profile:     cfg.Profile,
			EndpointURL: cfg.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want one of %s)", cfg.Provider, strings.Join(Providers, ", "))
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
