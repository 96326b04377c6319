// Package commands defines all Cobra CLI commands for the docqa binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/quintal-labs/docqa/internal/audit"
	"github.com/quintal-labs/docqa/internal/config"
	"github.com/quintal-labs/docqa/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// cfg is the effective configuration resolved in PersistentPreRunE. All
// subcommands read from it.
var cfg *config.Config

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docqa",
		Short: "docqa — question answering over your own documents",
		Long: `docqa ingests PDF, DOCX, Markdown, and plain-text documents into a local
vector store and answers natural-language questions about them, citing the
passages each answer is grounded in.

Generation runs against a local Ollama model by default; set
GENERATION_BACKEND=remote (with OPENAI_API_KEY) to use a hosted model.
Configuration is read from ~/.docqa/config.yaml, overridable with --config
and environment variables. See 'docqa --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			loaded, path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			cfg = loaded
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docqa/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewAskCmd(),
		NewDocumentsCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
