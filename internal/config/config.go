// Package config provides YAML-based configuration for docqa.
// Configuration is loaded with a layered precedence: defaults → YAML file →
// env vars. Environment variables always win, so existing workflows are
// unaffected by adding a config file.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. DOCQA_CONFIG environment variable
//  3. ~/.docqa/config.yaml
//  4. ./docqa.yaml
//
// If no file is found the system runs from defaults and env vars alone.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Generation configures the answer generation backend.
	Generation GenerationConfig `yaml:"generation"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the Qdrant vector store connection. An empty host
	// selects the in-memory store.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Ingest configures document ingestion and chunking.
	Ingest IngestConfig `yaml:"ingest"`

	// Query configures retrieval and prompt assembly.
	Query QueryConfig `yaml:"query"`

	// Registry configures the document registry database.
	Registry RegistryConfig `yaml:"registry"`

	// OCR configures the text recognition service for scanned documents.
	OCR OCRConfig `yaml:"ocr"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// GenerationConfig holds answer generation settings.
type GenerationConfig struct {
	// Backend selects the implementation: local (Ollama) or remote (OpenAI).
	Backend string `yaml:"backend"`

	// MaxTokens bounds the generated answer length.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0–1.0).
	Temperature float64 `yaml:"temperature"`

	// MaxAttempts bounds retries of transient backend failures, first call
	// included.
	MaxAttempts int `yaml:"max_attempts"`

	// Ollama holds local backend settings.
	Ollama OllamaConfig `yaml:"ollama"`

	// OpenAI holds remote backend settings.
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OllamaConfig holds local runtime settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds remote backend settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
	// BaseURL overrides the API base URL.
	BaseURL string `yaml:"base_url"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Empty selects the in-memory store.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// IngestConfig holds document ingestion settings.
type IngestConfig struct {
	// MaxChunkSize is the maximum chunk length in characters.
	MaxChunkSize int `yaml:"max_chunk_size"`
	// ChunkOverlap is how many characters adjacent chunks share.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// BoundaryTolerance is the boundary search window. 0 selects an eighth
	// of the chunk size.
	BoundaryTolerance int `yaml:"boundary_tolerance"`
	// MaxFileSize is the largest accepted source file in bytes.
	MaxFileSize int64 `yaml:"max_file_size"`
	// Parallelism is how many documents are ingested concurrently.
	Parallelism int `yaml:"parallelism"`
}

// QueryConfig holds retrieval and prompt assembly settings.
type QueryConfig struct {
	// TopK is how many chunks to retrieve per question.
	TopK int `yaml:"top_k"`
	// MinScore drops retrieved chunks scoring below this similarity (0–1).
	MinScore float32 `yaml:"min_score"`
	// MaxContextTokens bounds the prompt context budget.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// RegistryConfig holds document registry settings.
type RegistryConfig struct {
	// DBPath is the SQLite database path. Empty selects ~/.docqa/registry.db.
	DBPath string `yaml:"db_path"`
}

// OCRConfig holds text recognition service settings.
type OCRConfig struct {
	// Endpoint is the OCR service base URL. Empty disables OCR.
	Endpoint string `yaml:"endpoint"`
	// APIKey is the OCR service API key. Prefer env var OCR_API_KEY.
	APIKey string `yaml:"api_key"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var DOCQA_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the allowed requests per second per client. 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// Default returns the built-in configuration. Every value here works on a
// developer laptop with a local Ollama and no further setup.
func Default() *Config {
	return &Config{
		Generation: GenerationConfig{
			Backend:     "local",
			MaxTokens:   1024,
			MaxAttempts: 3,
			Ollama: OllamaConfig{
				Host:  "http://localhost:11434",
				Model: "llama3.2",
			},
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
		},
		Qdrant: QdrantConfig{
			Port:       6334,
			Collection: "docqa",
		},
		Ingest: IngestConfig{
			MaxChunkSize: 2000,
			ChunkOverlap: 200,
			MaxFileSize:  20 << 20,
			Parallelism:  4,
		},
		Query: QueryConfig{
			TopK:             5,
			MaxContextTokens: 6000,
		},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			RateLimit: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// envMapping maps env var names to the config fields they override.
// Env vars are applied after the YAML file, so they always take precedence.
var envMapping = []struct {
	envKey string
	apply  func(*Config, string)
}{
	{"GENERATION_BACKEND", func(c *Config, v string) { c.Generation.Backend = v }},
	{"GENERATION_MAX_TOKENS", func(c *Config, v string) { setInt(&c.Generation.MaxTokens, v) }},
	{"OLLAMA_HOST", func(c *Config, v string) { c.Generation.Ollama.Host = v }},
	{"OLLAMA_MODEL", func(c *Config, v string) { c.Generation.Ollama.Model = v }},
	{"OPENAI_API_KEY", func(c *Config, v string) { c.Generation.OpenAI.APIKey = v }},
	{"OPENAI_MODEL", func(c *Config, v string) { c.Generation.OpenAI.Model = v }},
	{"OPENAI_BASE_URL", func(c *Config, v string) { c.Generation.OpenAI.BaseURL = v }},
	{"EMBEDDING_PROVIDER", func(c *Config, v string) { c.Embedding.Provider = v }},
	{"EMBEDDING_MODEL", func(c *Config, v string) { c.Embedding.Model = v }},
	{"EMBEDDING_DIMENSIONS", func(c *Config, v string) { setInt(&c.Embedding.Dimensions, v) }},
	{"EMBEDDING_API_KEY", func(c *Config, v string) { c.Embedding.APIKey = v }},
	{"EMBEDDING_ENDPOINT", func(c *Config, v string) { c.Embedding.Endpoint = v }},
	{"QDRANT_HOST", func(c *Config, v string) { c.Qdrant.Host = v }},
	{"QDRANT_PORT", func(c *Config, v string) { setInt(&c.Qdrant.Port, v) }},
	{"QDRANT_COLLECTION", func(c *Config, v string) { c.Qdrant.Collection = v }},
	{"QDRANT_API_KEY", func(c *Config, v string) { c.Qdrant.APIKey = v }},
	{"QDRANT_TLS", func(c *Config, v string) { c.Qdrant.TLS = v == "true" || v == "1" }},
	{"OCR_ENDPOINT", func(c *Config, v string) { c.OCR.Endpoint = v }},
	{"OCR_API_KEY", func(c *Config, v string) { c.OCR.APIKey = v }},
	{"DOCQA_API_KEY", func(c *Config, v string) { c.Server.APIKey = v }},
	{"DOCQA_REGISTRY_DB", func(c *Config, v string) { c.Registry.DBPath = v }},
	{"DOCQA_LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = v }},
	{"DOCQA_LOG_FORMAT", func(c *Config, v string) { c.Logging.Format = v }},
}

// Load builds the effective configuration: defaults, then the YAML file if
// one is found, then env var overrides, then validation. Returns the config
// and the file path that was loaded (empty when running without a file).
func Load(explicitPath string, log *slog.Logger) (*Config, string, error) {
	cfg := Default()

	path := resolveConfigPath(explicitPath)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
		log.Info("config: loaded YAML config", slog.String("path", path))
	} else {
		log.Debug("config: no YAML config file found, using defaults and env vars")
	}

	for _, m := range envMapping {
		if v := os.Getenv(m.envKey); v != "" {
			m.apply(cfg, v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// Validate rejects configurations that would fail at runtime. Called by Load
// so a broken config is reported at startup, not on the first document or
// question.
func (c *Config) Validate() error {
	if c.Ingest.MaxChunkSize <= 0 {
		return fmt.Errorf("config: ingest.max_chunk_size must be positive, got %d", c.Ingest.MaxChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.MaxChunkSize {
		return fmt.Errorf("config: ingest.chunk_overlap must satisfy 0 <= overlap < max_chunk_size, got %d",
			c.Ingest.ChunkOverlap)
	}
	if c.Ingest.Parallelism <= 0 {
		return fmt.Errorf("config: ingest.parallelism must be positive, got %d", c.Ingest.Parallelism)
	}
	if c.Query.TopK <= 0 {
		return fmt.Errorf("config: query.top_k must be positive, got %d", c.Query.TopK)
	}
	if c.Query.MinScore < 0 || c.Query.MinScore > 1 {
		return fmt.Errorf("config: query.min_score must be in [0, 1], got %g", c.Query.MinScore)
	}
	switch c.Generation.Backend {
	case "", "local", "remote":
	default:
		return fmt.Errorf("config: generation.backend must be local or remote, got %q", c.Generation.Backend)
	}
	switch c.Embedding.Provider {
	case "", "ollama", "openai", "azure":
	default:
		return fmt.Errorf("config: embedding.provider must be ollama, openai, or azure, got %q", c.Embedding.Provider)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	return nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("DOCQA_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".docqa", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("docqa.yaml"); err == nil {
		return "docqa.yaml"
	}

	return ""
}

// setInt parses v into *dst, leaving it untouched when v is not a number.
func setInt(dst *int, v string) {
	if i, err := strconv.Atoi(v); err == nil {
		*dst = i
	}
}
