package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeDOCX builds a minimal .docx archive with the given paragraphs.
func writeDOCX(t *testing.T, paragraphs []string) []byte {
	t.Helper()
	var body strings.Builder
	body.WriteString(`<?xml version="1.0"?><w:document><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p w:rsidR="00A">` + `<w:r><w:t xml:space="preserve">` + p + `</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create(docxDocumentXMLPath)
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := f.Write([]byte(body.String())); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func Test_DetectFormat_ContentBeatsExtension(t *testing.T) {
	t.Parallel()
	pdfBytes := []byte("%PDF-1.7 rest of file")
	if got := DetectFormat("misnamed.txt", pdfBytes); got != FormatPDF {
		t.Errorf("want pdf from magic bytes, got %s", got)
	}

	docxBytes := writeDOCX(t, []string{"hello"})
	if got := DetectFormat("misnamed.bin", docxBytes); got != FormatDOCX {
		t.Errorf("want docx from archive sniff, got %s", got)
	}
}

func Test_DetectFormat_ByExtension(t *testing.T) {
	t.Parallel()
	cases := []struct {
		path string
		want Format
	}{
		{"notes.md", FormatMarkdown},
		{"notes.markdown", FormatMarkdown},
		{"notes.txt", FormatText},
		{"doc.PDF", FormatPDF},
		{"report.docx", FormatDOCX},
		{"archive.tar.gz", FormatUnknown},
		{"binary", FormatUnknown},
	}
	for _, tc := range cases {
		if got := DetectFormat(tc.path, []byte("plain content")); got != tc.want {
			t.Errorf("%s: want %s, got %s", tc.path, tc.want, got)
		}
	}
}

func Test_Open_UnsupportedFormat(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.xyz")
	if err := os.WriteFile(path, []byte("whatever"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	e := NewExtractor(nil, 0)
	if _, err := e.Open(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("want ErrUnsupportedFormat, got %v", err)
	}
}

func Test_Open_FileTooLarge(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(path, bytes.Repeat([]byte("a"), 128), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	e := NewExtractor(nil, 64)
	if _, err := e.Open(path); err == nil {
		t.Fatal("want size-limit error, got nil")
	}
}

func Test_Open_StableDocumentID(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("content"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	e := NewExtractor(nil, 0)
	d1, err := e.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d2, err := e.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if d1.ID != d2.ID {
		t.Errorf("document id not stable across opens: %s vs %s", d1.ID, d2.ID)
	}
	if d1.ID == "" {
		t.Error("document id is empty")
	}
}

func Test_Extract_PlainTextParagraphs(t *testing.T) {
	t.Parallel()
	doc := &Document{
		ID:      "doc1",
		Path:    "notes.txt",
		Format:  FormatText,
		Content: []byte("first paragraph\nstill first\n\nsecond paragraph\n\n\nthird"),
	}

	e := NewExtractor(nil, 0)
	segs, err := e.Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("want 3 segments, got %d", len(segs))
	}
	if segs[1].Text != "second paragraph" {
		t.Errorf("segment 1: got %q", segs[1].Text)
	}
	for i, s := range segs {
		if s.Index != i {
			t.Errorf("segment %d has index %d", i, s.Index)
		}
		if s.Page != 1 {
			t.Errorf("segment %d has page %d, want 1", i, s.Page)
		}
		if s.DocumentID != "doc1" {
			t.Errorf("segment %d has document id %q", i, s.DocumentID)
		}
	}
}

func Test_Extract_Latin1Fallback(t *testing.T) {
	t.Parallel()
	// "café" in Latin-1: 0xE9 is not valid UTF-8 on its own.
	doc := &Document{
		ID:      "doc1",
		Format:  FormatText,
		Content: []byte{'c', 'a', 'f', 0xE9},
	}

	e := NewExtractor(nil, 0)
	segs, err := e.Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "café" {
		t.Fatalf("latin-1 fallback failed: %+v", segs)
	}
}

func Test_Extract_DOCXParagraphs(t *testing.T) {
	t.Parallel()
	doc := &Document{
		ID:      "doc1",
		Path:    "report.docx",
		Format:  FormatDOCX,
		Content: writeDOCX(t, []string{"Introduction text.", "Body text with details."}),
	}

	e := NewExtractor(nil, 0)
	segs, err := e.Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("want 2 segments, got %d", len(segs))
	}
	if segs[0].Text != "Introduction text." {
		t.Errorf("segment 0: got %q", segs[0].Text)
	}
	if segs[1].Text != "Body text with details." {
		t.Errorf("segment 1: got %q", segs[1].Text)
	}
}

func Test_Extract_CorruptDOCX(t *testing.T) {
	t.Parallel()
	doc := &Document{
		ID:      "doc1",
		Path:    "broken.docx",
		Format:  FormatDOCX,
		Content: []byte("this is not a zip archive"),
	}

	e := NewExtractor(nil, 0)
	if _, err := e.Extract(context.Background(), doc); !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("want ErrExtractionFailed, got %v", err)
	}
}

func Test_Extract_UnknownFormatRejected(t *testing.T) {
	t.Parallel()
	doc := &Document{ID: "doc1", Format: FormatUnknown, Content: []byte("x")}
	e := NewExtractor(nil, 0)
	if _, err := e.Extract(context.Background(), doc); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("want ErrUnsupportedFormat, got %v", err)
	}
}
