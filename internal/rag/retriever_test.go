package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// stubEmbedder is a deterministic 3-dimensional embedder for tests. Texts
// containing "refund" map near the x axis, everything else near the y axis.
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, txt := range texts {
		if strings.Contains(strings.ToLower(txt), "refund") {
			out[i] = []float32{1, 0, 0}
		} else {
			out[i] = []float32{0, 1, 0}
		}
	}
	return out, nil
}

func (stubEmbedder) Dimensions() int { return 3 }

// mismatchedEmbedder reports a dimension the store will not accept.
type mismatchedEmbedder struct{ stubEmbedder }

func (mismatchedEmbedder) Dimensions() int { return 7 }

func newCorpusStore(t *testing.T) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore(3)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	emb := stubEmbedder{}
	ctx := context.Background()

	// One chunk about refunds, nine unrelated.
	texts := []string{"our refund policy allows returns within 30 days"}
	for range 9 {
		texts = append(texts, "unrelated filler content")
	}
	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("embed corpus: %v", err)
	}
	chunks := make([]Chunk, len(texts))
	for i, txt := range texts {
		chunks[i] = Chunk{
			ID:         "chunk-" + string(rune('a'+i)),
			DocumentID: "handbook",
			Ordinal:    i,
			Text:       txt,
			Page:       1,
			Vector:     vecs[i],
		}
	}
	if err := s.Upsert(ctx, chunks); err != nil {
		t.Fatalf("upsert corpus: %v", err)
	}
	return s
}

func Test_Retriever_TopHitFirstAndBounded(t *testing.T) {
	t.Parallel()
	store := newCorpusStore(t)
	r, err := NewRetriever(stubEmbedder{}, store, 5)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}

	res, err := r.Retrieve(context.Background(), "refund policy", 3, 0.5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(res) == 0 || len(res) > 3 {
		t.Fatalf("want 1..3 results, got %d", len(res))
	}
	if !strings.Contains(res[0].Text, "refund policy") {
		t.Errorf("want the refund chunk first, got %q", res[0].Text)
	}
	for _, sc := range res {
		if sc.Score < 0.5 {
			t.Errorf("result below min score: %f", sc.Score)
		}
	}
}

func Test_Retriever_MinScoreFiltersEverything(t *testing.T) {
	t.Parallel()
	store := newCorpusStore(t)
	r, err := NewRetriever(stubEmbedder{}, store, 5)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}

	// An impossible threshold yields an empty result, which is a valid
	// zero-result answer path, not an error.
	res, err := r.Retrieve(context.Background(), "refund policy", 3, 1.1)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(res) != 0 {
		t.Fatalf("want 0 results above score 1.1, got %d", len(res))
	}
}

func Test_Retriever_DefaultTopKWhenZero(t *testing.T) {
	t.Parallel()
	store := newCorpusStore(t)
	r, err := NewRetriever(stubEmbedder{}, store, 2)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}

	res, err := r.Retrieve(context.Background(), "anything", 0, 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("want defaultTopK=2 results, got %d", len(res))
	}
}

func Test_NewRetriever_RejectsDimensionMismatch(t *testing.T) {
	t.Parallel()
	store, err := NewMemoryStore(3)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := NewRetriever(mismatchedEmbedder{}, store, 5); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}
}
