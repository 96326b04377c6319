// Package extract converts source documents into plain-text segments with
// page metadata. The format is determined by content sniffing and file
// extension — never by caller declaration — and dispatches over a closed
// variant set: PDF (text layer), PDF (scanned, routed through OCR), DOCX,
// Markdown, and plain text. Unknown formats are a distinct failure, not a
// silent fallback.
package extract

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors for the extraction failure modes. Callers classify with
// errors.Is.
var (
	// ErrUnsupportedFormat means the document's format is not in the known
	// variant set. Fatal for the document; never retried.
	ErrUnsupportedFormat = errors.New("extract: unsupported document format")

	// ErrExtractionFailed means the underlying decoder rejected the document
	// (corrupt file, malformed archive). Fatal for the document; other
	// documents in a batch are unaffected.
	ErrExtractionFailed = errors.New("extract: extraction failed")

	// ErrOCRUnavailable means the OCR collaborator could not be reached for a
	// scanned document. The document is skipped with a warning, not treated
	// as a hard ingestion failure.
	ErrOCRUnavailable = errors.New("extract: ocr service unavailable")
)

// Format tags the detected document format.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatUnknown  Format = "unknown"
)

// Document is a source document read into memory for extraction. It is
// immutable once extracted; the source file is never written to.
type Document struct {
	// ID is the stable identifier derived from the cleaned source path.
	// Re-ingesting the same path yields the same ID, which is what lets the
	// orchestrator delete prior chunks before re-indexing.
	ID string

	// Path is the source file path.
	Path string

	// Format is the detected format tag.
	Format Format

	// Content is the raw file content.
	Content []byte
}

// Segment is a unit of extracted text with position metadata. Segments are
// consumed only by the chunker and are not persisted independently.
type Segment struct {
	// DocumentID identifies the source document.
	DocumentID string

	// Index is the zero-based sequence position of this segment.
	Index int

	// Text is the extracted plain text.
	Text string

	// Page is the 1-based source page (1 for unpaged formats).
	Page int
}

// OCR is the text-recognition collaborator for scanned documents. It is an
// opaque service boundary: the implementation lives in internal/ocr.
type OCR interface {
	// RecognizePage submits one page of a scanned document and returns the
	// recognised text.
	RecognizePage(ctx context.Context, doc []byte, page int) (string, error)
}

// Extractor converts documents of any supported format into segments.
type Extractor struct {
	// ocr handles scanned pages. May be nil when no OCR service is
	// configured; scanned documents then fail with ErrOCRUnavailable.
	ocr OCR

	// maxFileSize rejects oversized files before reading them fully.
	maxFileSize int64
}

// DefaultMaxFileSize bounds how large a single source document may be.
const DefaultMaxFileSize = 20 << 20 // 20 MiB

// NewExtractor constructs an Extractor. ocr may be nil; maxFileSize of 0
// selects DefaultMaxFileSize.
func NewExtractor(ocr OCR, maxFileSize int64) *Extractor {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Extractor{ocr: ocr, maxFileSize: maxFileSize}
}

// Open validates and reads the file at path, detects its format, and returns
// a Document ready for Extract. The file itself is only ever read.
func (e *Extractor) Open(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("extract: stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("extract: %s is not a regular file", path)
	}
	if info.Size() > e.maxFileSize {
		return nil, fmt.Errorf("extract: %s is %d bytes, limit is %d", path, info.Size(), e.maxFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: read %s: %w", path, err)
	}

	format := DetectFormat(path, content)
	if format == FormatUnknown {
		return nil, fmt.Errorf("extract: %s: %w", path, ErrUnsupportedFormat)
	}

	return &Document{
		ID:      DocumentID(path),
		Path:    path,
		Format:  format,
		Content: content,
	}, nil
}

// DocumentID derives the stable document identifier from a source path.
func DocumentID(path string) string {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		abs = filepath.Clean(path)
	}
	h := sha256.Sum256([]byte(abs))
	return fmt.Sprintf("%x", h[:16])
}

// DetectFormat determines the document format by sniffing content magic
// first and falling back to the file extension. Content wins over extension
// because callers may hand over misnamed files.
func DetectFormat(path string, content []byte) Format {
	switch {
	case bytes.HasPrefix(content, []byte("%PDF-")):
		return FormatPDF
	case bytes.HasPrefix(content, []byte("PK\x03\x04")) && isDOCXArchive(content):
		return FormatDOCX
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	case ".md", ".markdown":
		return FormatMarkdown
	case ".txt", ".text":
		return FormatText
	default:
		return FormatUnknown
	}
}

// Extract converts the document into its plain-text segments. The dispatch
// is a closed switch over the detected format; every arm implements the same
// contract. Extraction never mutates doc or the source file.
func (e *Extractor) Extract(ctx context.Context, doc *Document) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch doc.Format {
	case FormatPDF:
		return e.extractPDF(ctx, doc)
	case FormatDOCX:
		return extractDOCX(doc)
	case FormatMarkdown, FormatText:
		return extractPlain(doc)
	default:
		return nil, fmt.Errorf("extract: %s has format %q: %w", doc.Path, doc.Format, ErrUnsupportedFormat)
	}
}
