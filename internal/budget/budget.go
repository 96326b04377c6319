// Package budget provides token estimation and context-window fitting for
// prompt assembly. Because the pipeline supports multiple generation backends
// with different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose). This deliberately
// under-estimates token counts to leave headroom for model-specific overhead.
package budget

import (
	"fmt"
	"strings"

	"github.com/quintal-labs/docqa/internal/rag"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English; using 3 would be
	// more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models while leaving room
	// for the generated answer. Override via Config.MaxContextTokens.
	DefaultMaxContextTokens = 6000
)

// instructions is the fixed preamble of every grounded prompt. The model is
// told to answer only from the supplied context and to cite passages.
const instructions = `Answer the question using only the context passages below. ` +
	`Cite the passages you used by their number, e.g. [1]. ` +
	`If the context does not contain the answer, say so plainly.`

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Prompt is an assembled generation prompt plus the chunks that made it in.
type Prompt struct {
	// Text is the full prompt handed to the generation backend.
	Text string
	// Included holds the chunks present in the prompt, in prompt order.
	// Citations are built from this slice.
	Included rag.QueryResult
	// Truncated is true when at least one retrieved chunk was dropped to fit
	// the token budget.
	Truncated bool
}

// Build assembles a grounded prompt from the query and its retrieved chunks.
// Chunks arrive sorted by descending score; when the budget does not fit all
// of them, the lowest-scoring chunks are dropped first. A chunk is included
// whole or not at all — a half chunk reads as a complete statement and
// invites confident answers from missing text. At least the best chunk is
// always included, budget notwithstanding: answering from nothing is worse
// than a tight prompt.
func Build(query string, hits rag.QueryResult, maxContextTokens int) *Prompt {
	if maxContextTokens <= 0 {
		maxContextTokens = DefaultMaxContextTokens
	}

	fixed := Estimate(instructions) + Estimate(query) + 16

	var included rag.QueryResult
	used := fixed
	truncated := false
	for _, h := range hits {
		cost := Estimate(h.Text) + 8
		if used+cost > maxContextTokens && len(included) > 0 {
			truncated = true
			break
		}
		included = append(included, h)
		used += cost
	}

	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n\nContext:\n")
	for i, h := range included {
		fmt.Fprintf(&sb, "\n[%d] (%s", i+1, h.DocumentID)
		if h.Page > 0 {
			fmt.Fprintf(&sb, ", page %d", h.Page)
		}
		sb.WriteString(")\n")
		sb.WriteString(h.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(query)
	sb.WriteString("\nAnswer:")

	return &Prompt{
		Text:      sb.String(),
		Included:  included,
		Truncated: truncated,
	}
}
