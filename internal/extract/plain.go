package extract

import (
	"strings"
	"unicode/utf8"
)

// extractPlain handles Markdown and plain text. Content is decoded as UTF-8
// with a Latin-1 fallback for legacy files, then split into paragraph
// segments on blank lines so the chunker can prefer paragraph boundaries.
func extractPlain(doc *Document) ([]Segment, error) {
	text := decodeText(doc.Content)

	var segments []Segment
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		segments = append(segments, Segment{
			DocumentID: doc.ID,
			Index:      len(segments),
			Text:       para,
			Page:       1,
		})
	}

	return segments, nil
}

// decodeText returns content as a string. Invalid UTF-8 is reinterpreted as
// Latin-1 (every byte maps to the code point of the same value), which
// round-trips legacy text files instead of littering them with replacement
// characters.
func decodeText(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	runes := make([]rune, len(content))
	for i, b := range content {
		runes[i] = rune(b)
	}
	return string(runes)
}
