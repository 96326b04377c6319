package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quintal-labs/docqa/internal/ocr"
)

// failingOCR is an OCR collaborator whose service answered but rejected the
// page.
type failingOCR struct{}

func (failingOCR) RecognizePage(context.Context, []byte, int) (string, error) {
	return "", fmt.Errorf("ocr: recognition rejected: %w", ocr.ErrFailed)
}

func Test_RecognizePage_NoServiceConfigured(t *testing.T) {
	t.Parallel()
	e := NewExtractor(nil, 0)

	_, err := e.recognizePage(context.Background(), &Document{ID: "doc1", Path: "scan.pdf"}, 1)
	if !errors.Is(err, ErrOCRUnavailable) {
		t.Fatalf("want ErrOCRUnavailable with no service, got %v", err)
	}
}

func Test_RecognizePage_UnreachableServiceIsUnavailable(t *testing.T) {
	t.Parallel()

	// A server that is already closed yields a connection-refused endpoint.
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	e := NewExtractor(ocr.NewClient(&ocr.Config{Endpoint: endpoint}), 0)

	_, err := e.recognizePage(context.Background(), &Document{ID: "doc1", Path: "scan.pdf"}, 1)
	if !errors.Is(err, ErrOCRUnavailable) {
		t.Fatalf("want ErrOCRUnavailable for unreachable service, got %v", err)
	}
}

func Test_RecognizePage_ServiceFailureIsNotUnavailable(t *testing.T) {
	t.Parallel()
	e := NewExtractor(failingOCR{}, 0)

	_, err := e.recognizePage(context.Background(), &Document{ID: "doc1", Path: "scan.pdf"}, 1)
	if err == nil {
		t.Fatal("want error from failing service")
	}
	if errors.Is(err, ErrOCRUnavailable) {
		t.Fatalf("recognition failure misclassified as unavailable: %v", err)
	}
	if !errors.Is(err, ocr.ErrFailed) {
		t.Fatalf("want ocr.ErrFailed preserved, got %v", err)
	}
}
