package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quintal-labs/docqa/internal/logging"
	"github.com/quintal-labs/docqa/internal/pipeline"
)

// NewAskCmd constructs the `docqa ask` command, which answers a single
// natural-language question against the ingested corpus.
func NewAskCmd() *cobra.Command {
	var stream bool
	var topK int
	var minScore float32

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about your ingested documents",
		Long: `Ask a natural-language question. The answer is generated only from the
ingested documents and cites the passages it is grounded in.

Generation runs against the configured backend (local Ollama by default).
With --stream, answer tokens are printed as they arrive.

Examples:
  docqa ask "what is our refund policy?"
  docqa ask --stream "summarise the termination clauses"
  GENERATION_BACKEND=remote docqa ask "who signed the 2024 vendor contract?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if cmd.Flags().Changed("top-k") {
				cfg.Query.TopK = topK
			}
			if cmd.Flags().Changed("min-score") {
				cfg.Query.MinScore = minScore
			}

			orch, _, cleanup, err := buildOrchestrator(ctx, log, true)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer cleanup()

			question := joinQuestion(args)

			var answer *pipeline.Answer
			if stream {
				answer, err = orch.AskStream(ctx, question, func(text string) {
					fmt.Print(text)
				})
				fmt.Println()
			} else {
				answer, err = orch.Ask(ctx, question)
				if err == nil {
					fmt.Println(answer.Text)
				}
			}
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			printCitations(answer)
			return nil
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "Print answer tokens as they are generated")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of chunks to retrieve (default from config)")
	cmd.Flags().Float32Var(&minScore, "min-score", 0, "Minimum similarity score for retrieved chunks (default from config)")

	return cmd
}

// joinQuestion reassembles a question passed as unquoted words, so
// `docqa ask what is the refund policy` asks the whole sentence.
func joinQuestion(args []string) string {
	return strings.Join(args, " ")
}

func printCitations(answer *pipeline.Answer) {
	if len(answer.Citations) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, "\nSources:")
	for _, c := range answer.Citations {
		where := c.DocumentID
		if c.Path != "" {
			where = c.Path
		}
		if c.Page > 0 {
			fmt.Fprintf(os.Stderr, "  [%d] %s, page %d (score %.2f)\n", c.Index, where, c.Page, c.Score)
		} else {
			fmt.Fprintf(os.Stderr, "  [%d] %s (score %.2f)\n", c.Index, where, c.Score)
		}
	}
	if answer.Truncated {
		fmt.Fprintln(os.Stderr, "note: some retrieved passages were dropped to fit the context window")
	}
}
