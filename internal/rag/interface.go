// Package rag defines the core retrieval types and interfaces: vector
// storage, query-time retrieval, and text embedding. Concrete
// implementations (Qdrant, in-memory, Ollama, OpenAI) satisfy these
// interfaces so the pipeline layer never depends on a specific backend.
package rag

import (
	"context"
	"errors"
)

// Sentinel errors shared by all VectorStore and Embedder implementations.
// Callers classify failures with errors.Is, never by message text.
var (
	// ErrDimensionMismatch is returned when a vector's length does not match
	// the dimension fixed at store creation. The store is left unchanged.
	ErrDimensionMismatch = errors.New("rag: vector dimension mismatch")

	// ErrDuplicateChunk is returned when a single upsert batch contains two
	// chunks with the same ID. Silently keeping either one would corrupt
	// retrieval quality undetectably, so the whole batch is rejected.
	ErrDuplicateChunk = errors.New("rag: duplicate chunk id in batch")

	// ErrBackendUnavailable is returned when the embedding backend cannot be
	// reached. Partial embedding is never acceptable — the store requires a
	// single consistent vector space — so this aborts the whole batch.
	ErrBackendUnavailable = errors.New("rag: embedding backend unavailable")
)

// Chunk is a retrievable unit of document text. Chunks are created by the
// chunker, enriched with a vector by the embedder, and persisted by a
// VectorStore. They are never mutated after persistence; re-ingesting a
// document deletes its prior chunks first.
type Chunk struct {
	// ID is the content-derived identifier of this chunk.
	ID string

	// DocumentID identifies the source document.
	DocumentID string

	// Ordinal is the zero-based position of this chunk within its document.
	Ordinal int

	// Text is the chunk's text content.
	Text string

	// Page is the 1-based source page this chunk starts on (1 for formats
	// without pages).
	Page int

	// Start and End are the rune offsets of this chunk within the document's
	// extracted text, preserving traceability to the source.
	Start int
	End   int

	// Vector is the embedding of Text. Empty until embedded.
	Vector []float32

	// Metadata holds arbitrary key-value pairs (source path, format, etc.).
	Metadata map[string]string
}

// ScoredChunk pairs a chunk with its similarity score from a query.
type ScoredChunk struct {
	Chunk

	// Score is the cosine similarity assigned during retrieval (0.0–1.0).
	Score float32
}

// QueryResult is an ordered sequence of scored chunks, descending by score.
type QueryResult []ScoredChunk

// Filter restricts a query to chunks matching the given metadata.
// A nil Filter matches everything.
type Filter struct {
	// DocumentID, when non-empty, restricts results to one document.
	DocumentID string
}

// VectorStore persists chunks with their embeddings and answers
// nearest-neighbour queries. The similarity metric and vector dimension are
// fixed at store creation time. Implementations must be safe to call from
// multiple goroutines, and a Query must observe the latest committed
// Upsert/DeleteDocument from this process.
type VectorStore interface {
	// Upsert stores or replaces the given chunks. Every chunk must carry a
	// vector of the store's dimension; a mismatch fails with
	// ErrDimensionMismatch and leaves the store's contents unchanged.
	Upsert(ctx context.Context, chunks []Chunk) error

	// DeleteDocument removes all chunks belonging to the given document.
	// Deleting a document with no chunks is not an error.
	DeleteDocument(ctx context.Context, documentID string) error

	// Query returns the top-k chunks most similar to the given vector,
	// descending by score. Recall is best-effort (the underlying index may
	// be approximate), but ordering and the k bound are exact.
	Query(ctx context.Context, vector []float32, k int, filter *Filter) (QueryResult, error)

	// Dimensions returns the vector dimension fixed at creation time.
	Dimensions() int

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts text into dense vector embeddings. The same text always
// yields the same vector for a fixed model and version, and the batch form is
// order- and value-identical to embedding each item alone — batching exists
// purely for throughput. Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the length of every vector this embedder produces.
	Dimensions() int
}

// Retriever fetches the chunks most relevant to a query. Implementations
// combine an Embedder and a VectorStore; the embedder must be configured
// identically to the one used at ingestion time — a mismatched embedder
// yields silently wrong results, which no implementation can detect.
type Retriever interface {
	// Retrieve embeds the query, searches the store, drops results scoring
	// below minScore, and returns at most k chunks in descending score
	// order. Equal scores keep the store's native return order.
	Retrieve(ctx context.Context, query string, k int, minScore float32) (QueryResult, error)
}
