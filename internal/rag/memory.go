package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-process VectorStore using brute-force cosine
// similarity. It backs local single-node deployments and tests, where a
// running Qdrant instance would be overkill. All operations are exact.
type MemoryStore struct {
	// dimensions is the vector length fixed at creation time.
	dimensions int

	// mu guards chunks and order for all readers and writers.
	mu sync.RWMutex

	// chunks maps chunk ID to the stored chunk (with vector).
	chunks map[string]Chunk

	// order records insertion order of chunk IDs so that equal-score query
	// results have a stable, observable tie order.
	order []string
}

// NewMemoryStore creates an in-memory vector store with the given dimension.
func NewMemoryStore(dimensions int) (*MemoryStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("rag: memory store dimensions must be positive, got %d", dimensions)
	}
	return &MemoryStore{
		dimensions: dimensions,
		chunks:     make(map[string]Chunk),
	}, nil
}

// Dimensions returns the vector dimension fixed at creation time.
func (s *MemoryStore) Dimensions() int {
	return s.dimensions
}

// Upsert stores or replaces the given chunks. The whole batch is validated
// before any mutation, so a dimension mismatch or duplicate ID leaves the
// store's existing contents unchanged.
func (s *MemoryStore) Upsert(ctx context.Context, chunks []Chunk) error {
	seen := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		if len(c.Vector) != s.dimensions {
			return fmt.Errorf("rag: chunk %s has %d-dimensional vector, store expects %d: %w",
				c.ID, len(c.Vector), s.dimensions, ErrDimensionMismatch)
		}
		if seen[c.ID] {
			return fmt.Errorf("rag: chunk id %s appears twice in batch: %w", c.ID, ErrDuplicateChunk)
		}
		seen[c.ID] = true
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		vec := make([]float32, s.dimensions)
		copy(vec, c.Vector)
		c.Vector = vec
		if _, exists := s.chunks[c.ID]; !exists {
			s.order = append(s.order, c.ID)
		}
		s.chunks[c.ID] = c
	}
	return nil
}

// DeleteDocument removes all chunks belonging to the given document.
func (s *MemoryStore) DeleteDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	for _, id := range s.order {
		if c, ok := s.chunks[id]; ok && c.DocumentID == documentID {
			delete(s.chunks, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return nil
}

// Query returns the top-k chunks by cosine similarity, descending. The sort
// is stable, so chunks with equal scores come back in insertion order.
func (s *MemoryStore) Query(ctx context.Context, vector []float32, k int, filter *Filter) (QueryResult, error) {
	if len(vector) != s.dimensions {
		return nil, fmt.Errorf("rag: query vector has %d dimensions, store expects %d: %w",
			len(vector), s.dimensions, ErrDimensionMismatch)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.order) == 0 {
		return nil, nil
	}

	scored := make(QueryResult, 0, len(s.order))
	for _, id := range s.order {
		c := s.chunks[id]
		if filter != nil && filter.DocumentID != "" && c.DocumentID != filter.DocumentID {
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: c, Score: cosine(vector, c.Vector)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// cosine returns the cosine similarity of a and b, clamped to [0, 1].
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float32(math.Max(0, math.Min(1, sim)))
}
