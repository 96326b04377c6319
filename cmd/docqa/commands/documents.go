package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quintal-labs/docqa/internal/logging"
	"github.com/quintal-labs/docqa/internal/registry"
)

// NewDocumentsCmd constructs the `docqa documents` command, which lists the
// ingestion registry.
func NewDocumentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "documents",
		Short: "List ingested documents and their status",
		Long: `List every document known to the ingestion registry with its status,
chunk count, and ingest version.

Examples:
  docqa documents`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()

			dbPath := cfg.Registry.DBPath
			if dbPath == "" {
				var err error
				dbPath, err = registry.DefaultDBPath()
				if err != nil {
					return fmt.Errorf("documents: %w", err)
				}
			}
			reg, err := registry.Open(dbPath)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			defer func() { _ = reg.Close() }()

			records, err := reg.List(ctx)
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}
			if len(records) == 0 {
				fmt.Println("no documents ingested yet — run 'docqa ingest <path>' first")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tFORMAT\tSTATUS\tCHUNKS\tVERSION\tUPDATED")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					rec.Path, rec.Format, rec.Status, rec.ChunkCount,
					rec.IngestVersion, rec.UpdatedAt.Format("2006-01-02 15:04"))
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("documents: %w", err)
			}

			log.Debug("documents listed", "count", len(records))
			return nil
		},
	}
}
