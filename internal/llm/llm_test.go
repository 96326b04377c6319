package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quintal-labs/docqa/internal/rag"
)

// newOllamaServer fakes the two Ollama endpoints the local backend uses.
func newOllamaServer(t *testing.T, models []string, generate http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		var tags ollamaTagsResponse
		for _, m := range models {
			tags.Models = append(tags.Models, struct {
				Name string `json:"name"`
			}{Name: m})
		}
		_ = json.NewEncoder(w).Encode(tags)
	})
	if generate != nil {
		mux.HandleFunc("/api/generate", generate)
	}
	return httptest.NewServer(mux)
}

func Test_Local_MissingModelFailsConstruction(t *testing.T) {
	t.Parallel()
	srv := newOllamaServer(t, []string{"mistral:latest"}, nil)
	defer srv.Close()

	_, err := NewLocal(context.Background(), &LocalConfig{Host: srv.URL, Model: "llama3.2"})
	if !errors.Is(err, ErrModelLoad) {
		t.Fatalf("want ErrModelLoad, got %v", err)
	}
}

func Test_Local_UnreachableRuntimeFailsConstruction(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := NewLocal(context.Background(), &LocalConfig{Host: srv.URL, Model: "llama3.2"})
	if !errors.Is(err, rag.ErrBackendUnavailable) {
		t.Fatalf("want ErrBackendUnavailable, got %v", err)
	}
}

func Test_Local_Generate(t *testing.T) {
	t.Parallel()
	srv := newOllamaServer(t, []string{"llama3.2:latest"}, func(w http.ResponseWriter, r *http.Request) {
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("Generate must not request streaming")
		}
		if req.Options == nil || req.Options.NumPredict != 256 {
			t.Errorf("max tokens not forwarded: %+v", req.Options)
		}
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "the answer", Done: true})
	})
	defer srv.Close()

	b, err := NewLocal(context.Background(), &LocalConfig{Host: srv.URL, Model: "llama3.2"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := b.Name(); got != "ollama/llama3.2" {
		t.Errorf("name = %q", got)
	}

	text, err := b.Generate(context.Background(), "question", Options{MaxTokens: 256})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "the answer" {
		t.Errorf("got %q", text)
	}
}

func Test_Local_StreamGenerate(t *testing.T) {
	t.Parallel()
	srv := newOllamaServer(t, []string{"llama3.2:latest"}, func(w http.ResponseWriter, _ *http.Request) {
		enc := json.NewEncoder(w)
		_ = enc.Encode(ollamaGenerateResponse{Response: "Hello "})
		_ = enc.Encode(ollamaGenerateResponse{Response: "world"})
		_ = enc.Encode(ollamaGenerateResponse{Done: true})
	})
	defer srv.Close()

	b, err := NewLocal(context.Background(), &LocalConfig{Host: srv.URL, Model: "llama3.2"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	stream, err := b.StreamGenerate(context.Background(), "question", Options{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var got string
	for ev := range stream {
		if ev.Err != nil {
			t.Fatalf("stream event error: %v", ev.Err)
		}
		got += ev.Text
	}
	if got != "Hello world" {
		t.Errorf("streamed %q", got)
	}
}

func Test_Remote_RetriesTransientFailures(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"recovered"}}]}`))
	}))
	defer srv.Close()

	b, err := NewRemote(&RemoteConfig{
		BaseURL:       srv.URL,
		APIKey:        "sk-test",
		MaxAttempts:   3,
		RetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	text, err := b.Generate(context.Background(), "question", Options{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "recovered" {
		t.Errorf("got %q", text)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("want exactly 3 attempts, got %d", n)
	}
}

func Test_Remote_ExhaustsRetryBudget(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b, err := NewRemote(&RemoteConfig{
		BaseURL:       srv.URL,
		APIKey:        "sk-test",
		MaxAttempts:   2,
		RetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = b.Generate(context.Background(), "question", Options{})
	if !errors.Is(err, rag.ErrBackendUnavailable) {
		t.Fatalf("want ErrBackendUnavailable, got %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("want exactly 2 attempts, got %d", n)
	}
}

func Test_Remote_AuthFailureIsNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	b, err := NewRemote(&RemoteConfig{
		BaseURL:       srv.URL,
		APIKey:        "sk-bad",
		MaxAttempts:   3,
		RetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = b.Generate(context.Background(), "question", Options{})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("want ErrAuth, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("auth failure retried: %d attempts", n)
	}
}

func Test_Remote_QuotaExhaustedIsNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"you exceeded your quota","code":"insufficient_quota"}}`))
	}))
	defer srv.Close()

	b, err := NewRemote(&RemoteConfig{
		BaseURL:       srv.URL,
		APIKey:        "sk-test",
		MaxAttempts:   3,
		RetryInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = b.Generate(context.Background(), "question", Options{})
	if !errors.Is(err, ErrQuota) {
		t.Fatalf("want ErrQuota, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("quota failure retried: %d attempts", n)
	}
}

func Test_Remote_StreamGenerate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"world\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	b, err := NewRemote(&RemoteConfig{BaseURL: srv.URL, APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	stream, err := b.StreamGenerate(context.Background(), "question", Options{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	var got string
	for ev := range stream {
		if ev.Err != nil {
			t.Fatalf("stream event error: %v", ev.Err)
		}
		got += ev.Text
	}
	if got != "Hello world" {
		t.Errorf("streamed %q", got)
	}
}

func Test_Retryable(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("wrapped: %w", rag.ErrBackendUnavailable), true},
		{fmt.Errorf("wrapped: %w", ErrAuth), false},
		{fmt.Errorf("wrapped: %w", ErrQuota), false},
		{fmt.Errorf("wrapped: %w", ErrModelLoad), false},
		{errors.New("some other error"), false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func Test_New_UnknownBackend(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.DiscardHandler)
	if _, err := New(context.Background(), &Config{Backend: "mainframe"}, log); err == nil {
		t.Fatal("want error for unknown backend, got nil")
	}
}
