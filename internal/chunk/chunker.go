// Package chunk splits extracted document segments into overlapping
// fixed-size retrieval units. Splitting is deterministic: identical input
// and config always yield identical chunk boundaries.
package chunk

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/quintal-labs/docqa/internal/extract"
	"github.com/quintal-labs/docqa/internal/rag"
)

// segmentSeparator joins segment texts into the document text the chunker
// operates on. Two newlines mark a paragraph boundary, which the boundary
// search prefers over sentence ends.
const segmentSeparator = "\n\n"

// Config holds the chunking policy. Sizes are in runes ("characters" in the
// user-facing sense).
type Config struct {
	// MaxSize is the maximum chunk length. Every chunk except the final one
	// of a document ends within MaxSize of its start.
	MaxSize int

	// Overlap is how many runes of context each chunk shares with its
	// predecessor. Must satisfy 0 <= Overlap < MaxSize.
	Overlap int

	// BoundaryTolerance is how far back from the hard cut the splitter may
	// move to land on a sentence or paragraph boundary. 0 selects
	// MaxSize/8.
	BoundaryTolerance int
}

// Validate checks the config eagerly so a bad chunking policy fails at
// startup, never on the first document.
func (c Config) Validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("chunk: max size must be positive, got %d", c.MaxSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxSize {
		return fmt.Errorf("chunk: overlap must satisfy 0 <= overlap < max size, got overlap=%d max=%d",
			c.Overlap, c.MaxSize)
	}
	if c.BoundaryTolerance < 0 {
		return fmt.Errorf("chunk: boundary tolerance must not be negative, got %d", c.BoundaryTolerance)
	}
	return nil
}

// Chunker splits segments into chunks according to a fixed policy.
type Chunker struct {
	cfg Config
}

// New constructs a Chunker, validating the config.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BoundaryTolerance == 0 {
		cfg.BoundaryTolerance = cfg.MaxSize / 8
	}
	return &Chunker{cfg: cfg}, nil
}

// pageMark records which source page a rune offset of the joined document
// text belongs to.
type pageMark struct {
	start int
	page  int
}

// Split converts a document's segments into overlapping chunks. Text is
// accumulated greedily up to MaxSize, the cut is backtracked to the nearest
// preferred boundary within the tolerance window, and the next chunk starts
// Overlap runes before the emitted chunk's end. A single segment longer than
// MaxSize is hard-split with no boundary preference. The final chunk may be
// shorter than MaxSize; no other chunk may exceed it.
func (c *Chunker) Split(segments []extract.Segment) ([]rag.Chunk, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	docID := segments[0].DocumentID

	var sb strings.Builder
	var pages []pageMark
	runeLen := 0
	for i, seg := range segments {
		if seg.DocumentID != docID {
			return nil, fmt.Errorf("chunk: segments span documents %s and %s", docID, seg.DocumentID)
		}
		if i > 0 {
			sb.WriteString(segmentSeparator)
			runeLen += len(segmentSeparator)
		}
		pages = append(pages, pageMark{start: runeLen, page: seg.Page})
		runeLen += len([]rune(seg.Text))
		sb.WriteString(seg.Text)
	}

	text := []rune(sb.String())
	var chunks []rag.Chunk

	start := 0
	for start < len(text) {
		end := start + c.cfg.MaxSize
		if end >= len(text) {
			end = len(text)
		} else if cut := c.boundaryBefore(text, start, end); cut > start {
			end = cut
		}

		body := string(text[start:end])
		chunks = append(chunks, rag.Chunk{
			ID:         chunkID(docID, len(chunks), body),
			DocumentID: docID,
			Ordinal:    len(chunks),
			Text:       body,
			Page:       pageAt(pages, start),
			Start:      start,
			End:        end,
		})

		if end == len(text) {
			break
		}
		next := end - c.cfg.Overlap
		if next <= start {
			// Backtracking shrank the chunk below the overlap; restarting
			// before the previous start would loop forever.
			next = end
		}
		start = next
	}

	return chunks, nil
}

// boundaryBefore returns the rune offset to cut at, searching backwards from
// the hard limit for at most the tolerance window. Paragraph and sentence
// ends are preferred; a plain space is better than mid-word; no boundary in
// the window means a hard split at the limit.
func (c *Chunker) boundaryBefore(text []rune, start, limit int) int {
	low := limit - c.cfg.BoundaryTolerance
	if low < start+1 {
		low = start + 1
	}

	wordCut := -1
	for i := limit; i > low; i-- {
		switch text[i-1] {
		case '\n':
			return i
		case '.', '!', '?':
			// A sentence end only counts when followed by whitespace or the
			// chunk limit, so "3.14" never splits.
			if i == len(text) || isSpace(text[i]) {
				return i
			}
		case ' ', '\t':
			if wordCut < 0 {
				wordCut = i
			}
		}
	}
	if wordCut > 0 {
		return wordCut
	}
	return limit
}

// pageAt returns the page of the segment containing the given rune offset.
func pageAt(pages []pageMark, offset int) int {
	page := 1
	for _, m := range pages {
		if m.start > offset {
			break
		}
		page = m.page
	}
	return page
}

// isSpace reports whether r separates words for boundary purposes.
func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// chunkID generates a deterministic, content-derived ID for a chunk from
// its document, ordinal, and text.
func chunkID(docID string, ordinal int, text string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d#%s", docID, ordinal, text)))
	return fmt.Sprintf("%x", h[:16])
}
