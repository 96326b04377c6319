package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quintal-labs/docqa/internal/rag"
)

// Default local backend settings.
const (
	defaultOllamaHost    = "http://localhost:11434"
	defaultOllamaModel   = "llama3.2"
	defaultOllamaTimeout = 120 * time.Second
)

// Local implements Backend against a local Ollama runtime.
type Local struct {
	host   string
	model  string
	client *http.Client
}

// LocalConfig holds the settings for constructing a Local backend.
type LocalConfig struct {
	// Host is the Ollama base URL (default: http://localhost:11434).
	Host string
	// Model is the generation model name (default: llama3.2).
	Model string
	// Timeout bounds each generation request (default: 120s).
	Timeout time.Duration
}

// NewLocal constructs a Local backend and verifies that the runtime is
// reachable and the model is present. Failing here, at startup, beats a
// confusing error on the first question.
func NewLocal(ctx context.Context, cfg *LocalConfig) (*Local, error) {
	host := cfg.Host
	if host == "" {
		host = defaultOllamaHost
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}

	l := &Local{
		host:   host,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
	if err := l.verifyModel(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// ollamaTagsResponse is the JSON body returned from the /api/tags endpoint.
type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// verifyModel checks that the runtime answers and serves the configured
// model. An unreachable runtime maps to rag.ErrBackendUnavailable; a missing
// model maps to ErrModelLoad.
func (l *Local) verifyModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama: create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: runtime unreachable at %s: %v: %w", l.host, err, rag.ErrBackendUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ollama: HTTP %d from /api/tags: %w", resp.StatusCode, rag.ErrBackendUnavailable)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("ollama: decode tags: %w", err)
	}
	for _, m := range tags.Models {
		if m.Name == l.model || m.Name == l.model+":latest" {
			return nil
		}
	}
	return fmt.Errorf("ollama: model %q is not pulled (try: ollama pull %s): %w", l.model, l.model, ErrModelLoad)
}

// ollamaGenerateRequest is the JSON body sent to the /api/generate endpoint.
type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

// ollamaOptions holds generation parameters.
type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// ollamaGenerateResponse is one JSON object of the /api/generate output.
// With stream=true the endpoint emits one object per line.
type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Name identifies the backend for logging and answer attribution.
func (l *Local) Name() string {
	return "ollama/" + l.model
}

// Generate returns the full completion for the prompt.
func (l *Local) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	resp, err := l.send(ctx, prompt, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	return result.Response, nil
}

// StreamGenerate returns the completion incrementally, one event per token
// batch emitted by the runtime.
func (l *Local) StreamGenerate(ctx context.Context, prompt string, opts Options) (Stream, error) {
	resp, err := l.send(ctx, prompt, opts, true)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaGenerateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				out <- StreamEvent{Err: fmt.Errorf("ollama: decode stream: %w", err)}
				return
			}
			if chunk.Error != "" {
				out <- StreamEvent{Err: fmt.Errorf("ollama: %s", chunk.Error)}
				return
			}
			if chunk.Response != "" {
				select {
				case out <- StreamEvent{Text: chunk.Response}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamEvent{Err: fmt.Errorf("ollama: read stream: %w", err)}
		}
	}()
	return out, nil
}

// send issues a generation request and classifies transport and status
// failures. The caller owns the response body on success.
func (l *Local) send(ctx context.Context, prompt string, opts Options, stream bool) (*http.Response, error) {
	body := ollamaGenerateRequest{
		Model:  l.model,
		Prompt: prompt,
		Stream: stream,
	}
	if opts.MaxTokens > 0 || opts.Temperature > 0 {
		body.Options = &ollamaOptions{
			NumPredict:  opts.MaxTokens,
			Temperature: opts.Temperature,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %v: %w", err, rag.ErrBackendUnavailable)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var result ollamaGenerateResponse
		_ = json.NewDecoder(resp.Body).Decode(&result)
		msg := result.Error
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("ollama: %s: %w", msg, ErrModelLoad)
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("ollama: %s: %w", msg, rag.ErrBackendUnavailable)
		default:
			return nil, fmt.Errorf("ollama: %s", msg)
		}
	}
	return resp, nil
}
