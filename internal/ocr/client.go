// Package ocr provides the HTTP client for the text-extraction (OCR)
// service. The service is an opaque collaborator: it takes a scanned
// document page and returns recognised text. This client only distinguishes
// "the service cannot be reached" from "the service rejected the page",
// because the two have different ingestion semantics — unreachable means
// skip the document with a warning, rejected means the page is unreadable.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors classified from transport and HTTP status, never from
// response message text.
var (
	// ErrUnavailable means the OCR service could not be reached or answered
	// with a server error.
	ErrUnavailable = errors.New("ocr: service unavailable")

	// ErrFailed means the service was reachable but could not recognise the
	// submitted page.
	ErrFailed = errors.New("ocr: recognition failed")
)

// Config holds the settings for constructing a Client.
type Config struct {
	// Endpoint is the OCR service base URL (e.g. "http://localhost:8089").
	Endpoint string

	// APIKey is the optional Bearer token for the service.
	APIKey string

	// Timeout bounds each recognition request. Defaults to 120s — OCR on a
	// dense page is slow.
	Timeout time.Duration
}

// Client talks to the OCR service over HTTP JSON. It is safe for concurrent
// use.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewClient constructs a Client from the given config.
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// recognizeRequest is the JSON body sent to the /recognize endpoint.
type recognizeRequest struct {
	// Document is the base64-encoded source document.
	Document string `json:"document"`
	// Page is the 1-based page to recognise.
	Page int `json:"page"`
}

// recognizeResponse is the JSON body returned from the /recognize endpoint.
type recognizeResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// RecognizePage submits one page of a scanned document and returns the
// recognised text. Transport failures and 5xx responses map to
// ErrUnavailable; 4xx responses map to ErrFailed.
func (c *Client) RecognizePage(ctx context.Context, doc []byte, page int) (string, error) {
	body := recognizeRequest{
		Document: base64.StdEncoding.EncodeToString(doc),
		Page:     page,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("ocr: marshal request: %w", err)
	}

	url := c.endpoint + "/recognize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("ocr: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr: request failed: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	var result recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("ocr: decode response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return result.Text, nil
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("ocr: HTTP %d: %w", resp.StatusCode, ErrUnavailable)
	default:
		msg := result.Error
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return "", fmt.Errorf("ocr: %s: %w", msg, ErrFailed)
	}
}
