package rag

import (
	"context"
	"fmt"
)

// DefaultRetriever implements the Retriever interface by combining an
// Embedder and a VectorStore. It embeds the query at retrieval time and
// delegates similarity search to the store.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and
// VectorStore. It fails fast when the two disagree on vector dimension, so
// a mis-paired embedder/store is caught at startup rather than producing
// silently wrong similarity scores. defaultTopK sets the fallback result
// count when Retrieve is called with k=0.
func NewRetriever(embedder Embedder, store VectorStore, defaultTopK int) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if embedder.Dimensions() != store.Dimensions() {
		return nil, fmt.Errorf("rag: embedder produces %d-dimensional vectors but store expects %d: %w",
			embedder.Dimensions(), store.Dimensions(), ErrDimensionMismatch)
	}
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &DefaultRetriever{
		embedder:    embedder,
		store:       store,
		defaultTopK: defaultTopK,
	}, nil
}

// Retrieve embeds the query and returns at most k chunks scoring at least
// minScore, descending by score. Ties on equal scores preserve the vector
// store's native return order — results are never re-sorted by a secondary
// key, so the ordering is stable and observable by callers.
func (r *DefaultRetriever) Retrieve(ctx context.Context, query string, k int, minScore float32) (QueryResult, error) {
	if k <= 0 {
		k = r.defaultTopK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	result, err := r.store.Query(ctx, embeddings[0], k, nil)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	// Drop sub-threshold hits. The store returns descending scores, so the
	// first miss ends the scan without disturbing the store's tie order.
	filtered := result[:0:len(result)]
	for _, sc := range result {
		if sc.Score < minScore {
			break
		}
		filtered = append(filtered, sc)
	}
	if len(filtered) > k {
		filtered = filtered[:k]
	}

	return filtered, nil
}
