package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docqa.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func Test_Load_DefaultsWithoutFile(t *testing.T) {
	cfg, path, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), discardLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if path != "" {
		t.Errorf("want no file loaded, got %s", path)
	}
	if cfg.Ingest.MaxChunkSize != 2000 || cfg.Ingest.ChunkOverlap != 200 {
		t.Errorf("chunking defaults wrong: %+v", cfg.Ingest)
	}
	if cfg.Query.TopK != 5 {
		t.Errorf("top_k default = %d, want 5", cfg.Query.TopK)
	}
	if cfg.Generation.Backend != "local" {
		t.Errorf("backend default = %q, want local", cfg.Generation.Backend)
	}
}

func Test_Load_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, strings.TrimSpace(`
ingest:
  max_chunk_size: 1000
  chunk_overlap: 100
query:
  top_k: 8
generation:
  backend: remote
  openai:
    api_key: sk-from-file
`))

	cfg, loaded, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != path {
		t.Errorf("loaded path = %s, want %s", loaded, path)
	}
	if cfg.Ingest.MaxChunkSize != 1000 || cfg.Ingest.ChunkOverlap != 100 {
		t.Errorf("file values not applied: %+v", cfg.Ingest)
	}
	if cfg.Query.TopK != 8 {
		t.Errorf("top_k = %d, want 8", cfg.Query.TopK)
	}
	if cfg.Generation.OpenAI.APIKey != "sk-from-file" {
		t.Errorf("nested file value not applied")
	}
	// Untouched values keep their defaults.
	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want default 8080", cfg.Server.Port)
	}
}

func Test_Load_EnvBeatsFile(t *testing.T) {
	path := writeConfig(t, strings.TrimSpace(`
generation:
  backend: local
  ollama:
    model: from-file
`))
	t.Setenv("OLLAMA_MODEL", "from-env")

	cfg, _, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Generation.Ollama.Model != "from-env" {
		t.Errorf("model = %q, env must win over file", cfg.Generation.Ollama.Model)
	}
}

func Test_Load_EnvIntParsing(t *testing.T) {
	t.Setenv("QDRANT_PORT", "7001")
	t.Setenv("EMBEDDING_DIMENSIONS", "not-a-number")

	cfg, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), discardLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Qdrant.Port != 7001 {
		t.Errorf("qdrant port = %d, want 7001", cfg.Qdrant.Port)
	}
	if cfg.Embedding.Dimensions != 0 {
		t.Errorf("unparseable env int must be ignored, got %d", cfg.Embedding.Dimensions)
	}
}

func Test_Load_RejectsBrokenConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"overlap >= chunk size", "ingest:\n  max_chunk_size: 100\n  chunk_overlap: 100\n"},
		{"zero top_k", "query:\n  top_k: -1\n"},
		{"min_score out of range", "query:\n  min_score: 1.5\n"},
		{"unknown backend", "generation:\n  backend: mainframe\n"},
		{"unknown embedding provider", "embedding:\n  provider: carrier-pigeon\n"},
		{"bad port", "server:\n  port: 99999\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			if _, _, err := Load(path, discardLogger()); err == nil {
				t.Fatal("want validation error, got nil")
			}
		})
	}
}

func Test_Load_SearchOrderEnvPath(t *testing.T) {
	path := writeConfig(t, "query:\n  top_k: 11\n")
	t.Setenv("DOCQA_CONFIG", path)

	cfg, loaded, err := Load("", discardLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != path {
		t.Errorf("loaded %s, want %s", loaded, path)
	}
	if cfg.Query.TopK != 11 {
		t.Errorf("top_k = %d, want 11", cfg.Query.TopK)
	}
}

func Test_Load_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "query: [not a mapping")
	if _, _, err := Load(path, discardLogger()); err == nil {
		t.Fatal("want parse error, got nil")
	}
}
