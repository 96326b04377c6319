package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// docxDocumentXMLPath is the default path to the main document body inside a
// .docx zip.
const docxDocumentXMLPath = "word/document.xml"

// wtTag matches <w:t>text</w:t> including attributed forms like
// <w:t xml:space="preserve">. Extracting every text node keeps content
// regardless of paragraph or run attributes.
var wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// wpClose marks paragraph ends so paragraph breaks survive extraction.
var wpClose = regexp.MustCompile(`</w:p>`)

// isDOCXArchive reports whether zip content carries a WordprocessingML main
// document, distinguishing .docx from other OOXML/zip files during sniffing.
func isDOCXArchive(content []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if f.Name == docxDocumentXMLPath {
			return true
		}
	}
	return false
}

// extractDOCX extracts text from a .docx document. DOCX is a zip containing
// word/document.xml (OOXML); all <w:t> text nodes are collected per
// paragraph. One segment per non-empty paragraph preserves enough position
// structure for boundary-aware chunking.
func extractDOCX(doc *Document) ([]Segment, error) {
	zr, err := zip.NewReader(bytes.NewReader(doc.Content), int64(len(doc.Content)))
	if err != nil {
		return nil, fmt.Errorf("extract: docx %s is not a zip: %v: %w", doc.Path, err, ErrExtractionFailed)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name != docxDocumentXMLPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("extract: docx %s: open %s: %v: %w", doc.Path, f.Name, err, ErrExtractionFailed)
		}
		docXML, err = io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("extract: docx %s: read %s: %v: %w", doc.Path, f.Name, err, ErrExtractionFailed)
		}
		break
	}
	if docXML == nil {
		return nil, fmt.Errorf("extract: docx %s: %s not found: %w", doc.Path, docxDocumentXMLPath, ErrExtractionFailed)
	}

	var segments []Segment
	for _, para := range wpClose.Split(string(docXML), -1) {
		matches := wtTag.FindAllStringSubmatch(para, -1)
		if len(matches) == 0 {
			continue
		}
		var b strings.Builder
		for i, m := range matches {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strings.TrimSpace(m[1]))
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			DocumentID: doc.ID,
			Index:      len(segments),
			Text:       text,
			Page:       1,
		})
	}

	return segments, nil
}
