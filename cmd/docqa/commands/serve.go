package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/quintal-labs/docqa/internal/logging"
	"github.com/quintal-labs/docqa/internal/server"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP API
// server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP API server",
		Long: `Start the docqa HTTP server on localhost.

The server exposes POST /api/ask (with optional SSE streaming),
POST /api/ingest, GET /api/documents, GET /api/health, and Prometheus
metrics on /metrics. Set DOCQA_API_KEY to require bearer authentication.

Examples:
  docqa serve
  docqa serve --port 9090
  DOCQA_API_KEY=s3cret docqa serve --host 0.0.0.0`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("generation_backend", cfg.Generation.Backend),
				slog.String("embedding_provider", cfg.Embedding.Provider),
			)

			orch, reg, cleanup, err := buildOrchestrator(ctx, log, true)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer cleanup()

			if host == "" {
				host = cfg.Server.Host
			}
			if port == 0 {
				port = cfg.Server.Port
			}

			srv, err := server.New(orch, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				APIKey:    cfg.Server.APIKey,
				RateLimit: cfg.Server.RateLimit,
				Registry:  reg,
			}, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default from config)")

	return cmd
}
