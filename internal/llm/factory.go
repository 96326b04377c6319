package llm

import (
	"context"
	"fmt"
	"log/slog"
)

// Config selects and configures the generation backend.
type Config struct {
	// Backend selects the implementation: "local" (Ollama) or "remote"
	// (OpenAI). Empty selects local.
	Backend string
	// Local configures the Ollama backend.
	Local LocalConfig
	// Remote configures the OpenAI backend.
	Remote RemoteConfig
}

// New constructs the configured Backend. Construction fails fast: the local
// backend verifies its model is pulled, the remote backend requires an API
// key.
func New(ctx context.Context, cfg *Config, log *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", "local":
		b, err := NewLocal(ctx, &cfg.Local)
		if err != nil {
			return nil, err
		}
		log.Info("generation backend ready", slog.String("backend", b.Name()))
		return b, nil

	case "remote":
		b, err := NewRemote(&cfg.Remote)
		if err != nil {
			return nil, err
		}
		log.Info("generation backend ready", slog.String("backend", b.Name()))
		return b, nil

	default:
		return nil, fmt.Errorf("llm: unknown backend %q — valid values: local, remote", cfg.Backend)
	}
}
