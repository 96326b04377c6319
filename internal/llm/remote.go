package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/quintal-labs/docqa/internal/rag"
)

// Default remote backend settings.
const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAITimeout = 60 * time.Second

	// defaultMaxAttempts bounds the retry loop for transient failures. The
	// first call counts as an attempt.
	defaultMaxAttempts = 3
)

// Remote implements Backend against the OpenAI chat completions API.
type Remote struct {
	baseURL     string
	apiKey      string
	model       string
	maxAttempts int
	// retryInterval seeds the exponential backoff between attempts.
	retryInterval time.Duration
	client        *http.Client
}

// RemoteConfig holds the settings for constructing a Remote backend.
type RemoteConfig struct {
	// BaseURL is the API base (default: https://api.openai.com/v1).
	BaseURL string
	// APIKey is the Bearer token. Required.
	APIKey string
	// Model is the chat model name (default: gpt-4o-mini).
	Model string
	// Timeout bounds each HTTP request (default: 60s).
	Timeout time.Duration
	// MaxAttempts bounds the retry loop, first call included (default: 3).
	MaxAttempts int
	// RetryInterval seeds the exponential backoff (default: 500ms).
	RetryInterval time.Duration
}

// NewRemote constructs a Remote backend. The API key is required; everything
// else has defaults.
func NewRemote(cfg *RemoteConfig) (*Remote, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: remote backend requires an API key: %w", ErrAuth)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Remote{
		baseURL:       baseURL,
		apiKey:        cfg.APIKey,
		model:         model,
		maxAttempts:   attempts,
		retryInterval: interval,
		client:        &http.Client{Timeout: timeout},
	}, nil
}

// chatMessage is one message of a chat completion exchange.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the JSON body sent to the chat completions endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// chatResponse is the JSON body returned from the chat completions endpoint.
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
		Delta   chatMessage `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Name identifies the backend for logging and answer attribution.
func (r *Remote) Name() string {
	return "openai/" + r.model
}

// Generate returns the full completion for the prompt. Transient failures
// (network errors, 5xx, rate limits) are retried with exponential backoff up
// to MaxAttempts; auth and quota failures abort immediately.
func (r *Remote) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	var text string

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.maxAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		out, err := r.complete(ctx, prompt, opts)
		if err != nil {
			if !Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		text = out
		return nil
	}, policy)
	if err != nil {
		return "", err
	}
	return text, nil
}

// complete issues a single chat completion request.
func (r *Remote) complete(ctx context.Context, prompt string, opts Options) (string, error) {
	resp, err := r.send(ctx, prompt, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: response contained no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// StreamGenerate returns the completion incrementally via server-sent
// events. Streaming calls are not retried: a consumer may already have seen
// partial output.
func (r *Remote) StreamGenerate(ctx context.Context, prompt string, opts Options) (Stream, error) {
	resp, err := r.send(ctx, prompt, opts, true)
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
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var chunk chatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				out <- StreamEvent{Err: fmt.Errorf("openai: decode stream: %w", err)}
				return
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case out <- StreamEvent{Text: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamEvent{Err: fmt.Errorf("openai: read stream: %w", err)}
		}
	}()
	return out, nil
}

// send issues one chat completion request and classifies failures by
// transport outcome, HTTP status, and the machine-readable error code. The
// caller owns the response body on success.
func (r *Remote) send(ctx context.Context, prompt string, opts Options, stream bool) (*http.Response, error) {
	body := chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stream:      stream,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %v: %w", err, rag.ErrBackendUnavailable)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var result chatResponse
		_ = json.NewDecoder(resp.Body).Decode(&result)
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		code := ""
		if result.Error != nil {
			if result.Error.Message != "" {
				msg = result.Error.Message
			}
			code = result.Error.Code
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, fmt.Errorf("openai: %s: %w", msg, ErrAuth)
		case resp.StatusCode == http.StatusTooManyRequests && code == "insufficient_quota":
			return nil, fmt.Errorf("openai: %s: %w", msg, ErrQuota)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("openai: %s: %w", msg, rag.ErrBackendUnavailable)
		case resp.StatusCode == http.StatusNotFound && code == "model_not_found":
			return nil, fmt.Errorf("openai: %s: %w", msg, ErrModelLoad)
		default:
			return nil, fmt.Errorf("openai: %s", msg)
		}
	}
	return resp, nil
}
