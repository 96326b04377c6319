package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func Test_Client_RecognizePage(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recognize" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req recognizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Page != 2 {
			t.Errorf("want page 2, got %d", req.Page)
		}
		raw, err := base64.StdEncoding.DecodeString(req.Document)
		if err != nil || string(raw) != "fake-scan" {
			t.Errorf("document not round-tripped: %q %v", raw, err)
		}
		_ = json.NewEncoder(w).Encode(recognizeResponse{Text: "recognised text"})
	}))
	defer srv.Close()

	c := NewClient(&Config{Endpoint: srv.URL})
	text, err := c.RecognizePage(context.Background(), []byte("fake-scan"), 2)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if text != "recognised text" {
		t.Errorf("got %q", text)
	}
}

func Test_Client_ServerErrorIsUnavailable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(&Config{Endpoint: srv.URL})
	if _, err := c.RecognizePage(context.Background(), []byte("x"), 1); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func Test_Client_ClientErrorIsFailed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(recognizeResponse{Error: "page unreadable"})
	}))
	defer srv.Close()

	c := NewClient(&Config{Endpoint: srv.URL})
	_, err := c.RecognizePage(context.Background(), []byte("x"), 1)
	if !errors.Is(err, ErrFailed) {
		t.Fatalf("want ErrFailed, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatal("4xx must not classify as unavailable")
	}
}

func Test_Client_ConnectionRefusedIsUnavailable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listens any more

	c := NewClient(&Config{Endpoint: srv.URL})
	if _, err := c.RecognizePage(context.Background(), []byte("x"), 1); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}
