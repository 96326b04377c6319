package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/quintal-labs/docqa/internal/ocr"
)

// extractPDF extracts the text layer of a PDF, one segment per page. Pages
// with no usable text layer are routed through the OCR collaborator — a
// fully scanned PDF yields only OCR segments. When OCR is needed but no
// service is configured or reachable, the document fails with
// ErrOCRUnavailable so the caller can skip it with a warning.
func (e *Extractor) extractPDF(ctx context.Context, doc *Document) ([]Segment, error) {
	r, err := pdf.NewReader(bytes.NewReader(doc.Content), int64(len(doc.Content)))
	if err != nil {
		return nil, fmt.Errorf("extract: open pdf %s: %v: %w", doc.Path, err, ErrExtractionFailed)
	}

	var segments []Segment
	numPages := r.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// A decode error on one page is a corrupt document, not a
			// scanned one.
			return nil, fmt.Errorf("extract: pdf %s page %d: %v: %w", doc.Path, i, err, ErrExtractionFailed)
		}

		if !hasTextLayer(text) {
			text, err = e.recognizePage(ctx, doc, i)
			if err != nil {
				return nil, err
			}
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			DocumentID: doc.ID,
			Index:      len(segments),
			Text:       text,
			Page:       i,
		})
	}

	return segments, nil
}

// recognizePage sends one scanned page to the OCR collaborator.
func (e *Extractor) recognizePage(ctx context.Context, doc *Document, page int) (string, error) {
	if e.ocr == nil {
		return "", fmt.Errorf("extract: %s page %d is scanned and no ocr service is configured: %w",
			doc.Path, page, ErrOCRUnavailable)
	}
	text, err := e.ocr.RecognizePage(ctx, doc.Content, page)
	if err != nil {
		// An unreachable service means the document can be skipped and
		// retried later; a service that rejected the page is a real failure.
		if errors.Is(err, ocr.ErrUnavailable) {
			return "", fmt.Errorf("extract: ocr for %s page %d: %v: %w", doc.Path, page, err, ErrOCRUnavailable)
		}
		return "", fmt.Errorf("extract: ocr for %s page %d: %w", doc.Path, page, err)
	}
	return text, nil
}

// hasTextLayer reports whether extracted page text contains enough real
// characters to be a text layer rather than the empty output of a scanned
// page.
func hasTextLayer(text string) bool {
	return len(strings.TrimSpace(text)) > 0
}
