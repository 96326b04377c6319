package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quintal-labs/docqa/internal/logging"
	"github.com/quintal-labs/docqa/internal/pipeline"
)

// NewIngestCmd constructs the `docqa ingest` command, which extracts, chunks,
// embeds, and indexes documents into the vector store.
func NewIngestCmd() *cobra.Command {
	var parallelism int

	cmd := &cobra.Command{
		Use:   "ingest [paths...]",
		Short: "Ingest documents into the vector store",
		Long: `Extract, chunk, embed, and index documents so they can be queried with
'docqa ask'. Accepts individual files or directories; directories are walked
recursively for PDF, DOCX, Markdown, and plain-text files.

Already-ingested documents whose content has not changed are skipped. Changed
documents are re-ingested and their old chunks replaced.

Examples:
  docqa ingest handbook.pdf
  docqa ingest ./docs ./contracts/2025
  QDRANT_HOST=localhost docqa ingest report.docx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if cmd.Flags().Changed("parallelism") {
				cfg.Ingest.Parallelism = parallelism
			}

			paths, err := collectPaths(args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("ingest: no ingestable files found under %v", args)
			}

			orch, _, cleanup, err := buildOrchestrator(ctx, log, false)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer cleanup()

			report, err := orch.Ingest(ctx, paths)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			printIngestReport(report)
			log.Info("ingest finished",
				slog.Int("ingested", report.Ingested),
				slog.Int("skipped", report.Skipped),
				slog.Int("failed", report.Failed),
				slog.Duration("elapsed", report.Elapsed),
			)
			if report.Failed > 0 {
				return fmt.Errorf("ingest: %d of %d documents failed", report.Failed, len(report.Documents))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "Number of documents processed concurrently (default from config)")

	return cmd
}

func printIngestReport(report *pipeline.IngestReport) {
	for _, doc := range report.Documents {
		switch doc.Status {
		case pipeline.DocIngested:
			fmt.Printf("  ingested  %s (%d chunks)\n", doc.Path, doc.Chunks)
		case pipeline.DocSkipped:
			if doc.Error != "" {
				fmt.Printf("  skipped   %s (%s)\n", doc.Path, doc.Error)
			} else {
				fmt.Printf("  skipped   %s (unchanged)\n", doc.Path)
			}
		case pipeline.DocFailed:
			fmt.Fprintf(os.Stderr, "  failed    %s: %s\n", doc.Path, doc.Error)
		}
	}
	fmt.Printf("%d ingested, %d skipped, %d failed in %s\n",
		report.Ingested, report.Skipped, report.Failed, report.Elapsed.Round(time.Millisecond))
}
