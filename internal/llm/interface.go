// Package llm provides generation backends for answering questions over
// retrieved context. Two implementations exist: a local backend speaking the
// Ollama HTTP API and a remote backend speaking the OpenAI chat completions
// API. Both talk plain HTTP — no SDK dependencies.
package llm

import (
	"context"
	"errors"

	"github.com/quintal-labs/docqa/internal/rag"
)

// Sentinel errors classified from transport and HTTP status, never from
// response message text. Transient unavailability reuses
// rag.ErrBackendUnavailable so the whole pipeline shares one retryable class.
var (
	// ErrModelLoad means the configured model is not present on the backend
	// and cannot be served. Not retryable.
	ErrModelLoad = errors.New("llm: model not available")

	// ErrAuth means the backend rejected the credentials. Not retryable.
	ErrAuth = errors.New("llm: authentication failed")

	// ErrQuota means the account is out of quota. Not retryable — retrying
	// cannot mint credit.
	ErrQuota = errors.New("llm: quota exhausted")
)

// Options control a single generation call.
type Options struct {
	// MaxTokens bounds the generated output length. 0 = backend default.
	MaxTokens int
	// Temperature controls sampling randomness. 0 = backend default.
	Temperature float64
}

// StreamEvent is one unit of streamed output. Err is set on the final event
// when the stream ends abnormally.
type StreamEvent struct {
	Text string
	Err  error
}

// Stream delivers generation output incrementally. The channel is closed when
// generation completes or fails; a failure is reported as the last event.
type Stream <-chan StreamEvent

// Backend produces text from a prompt. Implementations are safe for
// concurrent use.
type Backend interface {
	// Generate returns the full completion for the prompt.
	Generate(ctx context.Context, prompt string, opts Options) (string, error)

	// StreamGenerate returns the completion incrementally. The error return
	// covers request setup; streaming failures arrive on the stream itself.
	StreamGenerate(ctx context.Context, prompt string, opts Options) (Stream, error)

	// Name identifies the backend for logging and answer attribution,
	// e.g. "ollama/llama3.2" or "openai/gpt-4o-mini".
	Name() string
}

// Retryable reports whether the error is worth retrying: transient
// unavailability is, rejected credentials and exhausted quota are not.
func Retryable(err error) bool {
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrQuota) || errors.Is(err, ErrModelLoad) {
		return false
	}
	return errors.Is(err, rag.ErrBackendUnavailable)
}
