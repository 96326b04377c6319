package commands

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/quintal-labs/docqa/internal/chunk"
	"github.com/quintal-labs/docqa/internal/embedder"
	"github.com/quintal-labs/docqa/internal/extract"
	"github.com/quintal-labs/docqa/internal/llm"
	"github.com/quintal-labs/docqa/internal/ocr"
	"github.com/quintal-labs/docqa/internal/pipeline"
	"github.com/quintal-labs/docqa/internal/rag"
	"github.com/quintal-labs/docqa/internal/registry"
)

// buildOrchestrator wires the full pipeline from the loaded config. The
// generation backend is only constructed when withBackend is set — ingestion
// does not need it, and constructing the local backend pings the Ollama
// runtime. The returned cleanup func closes the store and registry.
func buildOrchestrator(ctx context.Context, log *slog.Logger, withBackend bool) (*pipeline.Orchestrator, *registry.Registry, func(), error) {
	emb, err := embedder.New(&embedder.Config{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		Endpoint:   cfg.Embedding.Endpoint,
		Dimensions: cfg.Embedding.Dimensions,
	}, log)
	if err != nil {
		return nil, nil, nil, err
	}

	var store rag.VectorStore
	if cfg.Qdrant.Host != "" {
		store, err = rag.NewQdrantStore(ctx, &rag.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			VectorSize: uint64(emb.Dimensions()),
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.TLS,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", cfg.Qdrant.Host, cfg.Qdrant.Port, err)
		}
		log.Info("qdrant store ready",
			slog.String("host", cfg.Qdrant.Host),
			slog.Int("port", cfg.Qdrant.Port),
			slog.String("collection", cfg.Qdrant.Collection),
		)
	} else {
		store, err = rag.NewMemoryStore(emb.Dimensions())
		if err != nil {
			return nil, nil, nil, err
		}
		log.Warn("QDRANT_HOST not set — using the in-memory store, vectors are lost on exit")
	}

	dbPath := cfg.Registry.DBPath
	if dbPath == "" {
		dbPath, err = registry.DefaultDBPath()
		if err != nil {
			_ = store.Close()
			return nil, nil, nil, err
		}
	}
	reg, err := registry.Open(dbPath)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		_ = reg.Close()
		_ = store.Close()
	}

	var recognizer extract.OCR
	if cfg.OCR.Endpoint != "" {
		recognizer = ocr.NewClient(&ocr.Config{
			Endpoint: cfg.OCR.Endpoint,
			APIKey:   cfg.OCR.APIKey,
		})
	}
	extractor := extract.NewExtractor(recognizer, cfg.Ingest.MaxFileSize)

	chunker, err := chunk.New(chunk.Config{
		MaxSize:           cfg.Ingest.MaxChunkSize,
		Overlap:           cfg.Ingest.ChunkOverlap,
		BoundaryTolerance: cfg.Ingest.BoundaryTolerance,
	})
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	retriever, err := rag.NewRetriever(emb, store, cfg.Query.TopK)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	var backend llm.Backend
	if withBackend {
		backend, err = llm.New(ctx, &llm.Config{
			Backend: cfg.Generation.Backend,
			Local: llm.LocalConfig{
				Host:  cfg.Generation.Ollama.Host,
				Model: cfg.Generation.Ollama.Model,
			},
			Remote: llm.RemoteConfig{
				BaseURL:     cfg.Generation.OpenAI.BaseURL,
				APIKey:      cfg.Generation.OpenAI.APIKey,
				Model:       cfg.Generation.OpenAI.Model,
				MaxAttempts: cfg.Generation.MaxAttempts,
			},
		}, log)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
	}

	orch, err := pipeline.New(extractor, chunker, emb, store, reg, retriever, backend, pipeline.Options{
		Parallelism:      cfg.Ingest.Parallelism,
		TopK:             cfg.Query.TopK,
		MinScore:         cfg.Query.MinScore,
		MaxContextTokens: cfg.Query.MaxContextTokens,
		Generation: llm.Options{
			MaxTokens:   cfg.Generation.MaxTokens,
			Temperature: cfg.Generation.Temperature,
		},
	})
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return orch, reg, cleanup, nil
}

// ingestableExtensions are the file extensions collected when a directory is
// passed to `docqa ingest`.
var ingestableExtensions = map[string]bool{
	".pdf":      true,
	".docx":     true,
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// collectPaths expands the ingest arguments: files are taken as-is,
// directories are walked recursively for supported extensions.
func collectPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if ingestableExtensions[strings.ToLower(filepath.Ext(path))] {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("ingest: walk %s: %w", arg, err)
		}
	}
	return paths, nil
}
