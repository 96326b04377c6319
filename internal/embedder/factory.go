package embedder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/quintal-labs/docqa/internal/rag"
)

// Default embedding models per provider.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ — override with embedding.dimensions.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// Config holds the resolved embedding settings. It is produced by the config
// package after layering file and environment values.
type Config struct {
	// Provider selects the implementation: "ollama", "openai", or "azure".
	Provider string
	// Model is the embedding model name. Empty selects the provider default.
	Model string
	// APIKey authenticates against openai/azure. Ignored for ollama.
	APIKey string
	// Endpoint is the provider base URL. Empty selects the provider default.
	Endpoint string
	// Dimensions is the vector length. 0 selects the provider default.
	Dimensions int
	// APIVersion is the Azure OpenAI API version. Ignored otherwise.
	APIVersion string
}

// DefaultDimensions returns the default embedding vector size for the given
// provider. Callers that pre-configure a vector store (e.g. Qdrant collection
// creation) should use this rather than hardcoding a value.
func DefaultDimensions(provider string) int {
	switch provider {
	case "ollama":
		return defaultOllamaDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// New constructs a rag.Embedder for the configured provider. Missing
// credentials fail here, at startup, rather than on the first embed call. A
// model name that resembles a chat model logs a warning — embedding with a
// chat model silently produces poor vectors.
func New(cfg *Config, log *slog.Logger) (rag.Embedder, error) {
	if cfg.Model != "" && looksLikeChatModel(cfg.Model) {
		log.Warn("embedding model looks like a chat model, not an embedding model",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}

	switch cfg.Provider {
	case "", "ollama":
		host := cfg.Endpoint
		if host == "" {
			host = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = defaultOllamaModel
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:       host,
			Model:      model,
			Dimensions: cfg.Dimensions,
		}), nil

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: openai requires an API key (embedding.api_key or OPENAI_API_KEY)")
		}
		baseURL := cfg.Endpoint
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: cfg.Dimensions,
		}), nil

	case "azure":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: azure requires an API key (embedding.api_key or AZURE_OPENAI_API_KEY)")
		}
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires an endpoint (embedding.endpoint or AZURE_OPENAI_ENDPOINT)")
		}
		apiVersion := cfg.APIVersion
		if apiVersion == "" {
			apiVersion = "2025-04-01-preview"
		}
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint + "/openai",
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: cfg.Dimensions,
			Azure:      true,
			APIVersion: apiVersion,
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown provider %q — valid values: ollama, openai, azure", cfg.Provider)
	}
}

// knownChatModelPrefixes contains name fragments that identify chat models
// which are not suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"vicuna",
	"falcon",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}
