package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quintal-labs/docqa/internal/chunk"
	"github.com/quintal-labs/docqa/internal/extract"
	"github.com/quintal-labs/docqa/internal/llm"
	"github.com/quintal-labs/docqa/internal/rag"
	"github.com/quintal-labs/docqa/internal/registry"
)

// stubEmbedder maps any text mentioning refunds near the refund query vector
// and everything else away from it, so retrieval is deterministic.
type stubEmbedder struct {
	fail error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(strings.ToLower(t), "refund") {
			out[i] = []float32{1, 0, 0}
		} else {
			out[i] = []float32{0, 1, 0}
		}
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }

// fakeBackend is an llm.Backend with canned output.
type fakeBackend struct {
	reply string
	fail  error
	calls int
}

func (f *fakeBackend) Generate(context.Context, string, llm.Options) (string, error) {
	f.calls++
	if f.fail != nil {
		return "", f.fail
	}
	return f.reply, nil
}

func (f *fakeBackend) StreamGenerate(context.Context, string, llm.Options) (llm.Stream, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	out := make(chan llm.StreamEvent, 2)
	half := len(f.reply) / 2
	out <- llm.StreamEvent{Text: f.reply[:half]}
	out <- llm.StreamEvent{Text: f.reply[half:]}
	close(out)
	return out, nil
}

func (f *fakeBackend) Name() string { return "fake/test" }

// harness bundles an orchestrator with its collaborators for inspection.
type harness struct {
	orch     *Orchestrator
	store    *rag.MemoryStore
	registry *registry.Registry
	embedder *stubEmbedder
	backend  *fakeBackend
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	emb := &stubEmbedder{}
	store, err := rag.NewMemoryStore(3)
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	reg, err := registry.Open(":memory:")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	retriever, err := rag.NewRetriever(emb, store, 5)
	if err != nil {
		t.Fatalf("retriever: %v", err)
	}
	chunker, err := chunk.New(chunk.Config{MaxSize: 2000, Overlap: 200})
	if err != nil {
		t.Fatalf("chunker: %v", err)
	}
	backend := &fakeBackend{reply: "Refunds are available within 30 days [1]."}

	orch, err := New(
		extract.NewExtractor(nil, 0),
		chunker,
		emb,
		store,
		reg,
		retriever,
		backend,
		Options{Parallelism: 2, TopK: 5, MaxContextTokens: 6000},
	)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	return &harness{
		orch:     orch,
		store:    store,
		registry: reg,
		embedder: emb,
		backend:  backend,
		dir:      t.TempDir(),
	}
}

func (h *harness) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func Test_Ingest_SplitsAndStores(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	// 6000 unbroken characters with a 2000/200 chunker: four chunks.
	path := h.writeFile(t, "big.txt", strings.Repeat("a", 6000))

	report, err := h.orch.Ingest(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.Ingested != 1 || report.Failed != 0 {
		t.Fatalf("report: %+v", report)
	}
	if report.Documents[0].Chunks != 4 {
		t.Errorf("want 4 chunks, got %d", report.Documents[0].Chunks)
	}

	rec, err := h.registry.Get(context.Background(), report.Documents[0].DocumentID)
	if err != nil {
		t.Fatalf("registry get: %v", err)
	}
	if rec.Status != registry.StatusIngested || rec.ChunkCount != 4 {
		t.Errorf("registry record: %+v", rec)
	}
}

func Test_Ingest_SkipsUnchanged(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	path := h.writeFile(t, "notes.txt", "The refund policy allows returns within 30 days.")

	if _, err := h.orch.Ingest(context.Background(), []string{path}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	report, err := h.orch.Ingest(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if report.Skipped != 1 || report.Ingested != 0 {
		t.Fatalf("unchanged file must be skipped: %+v", report)
	}
}

func Test_Ingest_ReplacesChangedDocument(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	path := h.writeFile(t, "notes.txt", "Original refund text, version one.")

	if _, err := h.orch.Ingest(ctx, []string{path}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	docID := extract.DocumentID(path)

	h.writeFile(t, "notes.txt", "Rewritten refund text, version two, entirely new.")
	report, err := h.orch.Ingest(ctx, []string{path})
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if report.Ingested != 1 {
		t.Fatalf("changed file must re-ingest: %+v", report)
	}

	rec, err := h.registry.Get(ctx, docID)
	if err != nil {
		t.Fatalf("registry get: %v", err)
	}
	if rec.IngestVersion != 2 {
		t.Errorf("ingest version = %d, want 2", rec.IngestVersion)
	}

	// Old content must be gone from the store.
	hits, err := h.store.Query(ctx, []float32{1, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, hit := range hits {
		if strings.Contains(hit.Text, "version one") {
			t.Error("stale chunk from the old version is still retrievable")
		}
	}
}

func Test_Ingest_OneBadDocumentFailsAlone(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	good := h.writeFile(t, "good.txt", "Perfectly fine refund content.")
	bad := h.writeFile(t, "bad.xyz", "unsupported format")

	report, err := h.orch.Ingest(context.Background(), []string{good, bad})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.Ingested != 1 || report.Failed != 1 {
		t.Fatalf("report: %+v", report)
	}
	for _, d := range report.Documents {
		if d.Path == bad && d.Error == "" {
			t.Error("failed document is missing its error")
		}
	}
}

func Test_Ingest_UnavailableEmbedderAbortsBatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.embedder.fail = fmt.Errorf("connection refused: %w", rag.ErrBackendUnavailable)
	a := h.writeFile(t, "a.txt", "text one")
	b := h.writeFile(t, "b.txt", "text two")

	_, err := h.orch.Ingest(context.Background(), []string{a, b})
	if !errors.Is(err, rag.ErrBackendUnavailable) {
		t.Fatalf("want batch abort with ErrBackendUnavailable, got %v", err)
	}
}

func Test_Ask_GroundedAnswerWithCitations(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	path := h.writeFile(t, "policy.md", "Customers may request a refund within 30 days of purchase.")
	if _, err := h.orch.Ingest(ctx, []string{path}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	// Unrelated filler the retriever should rank below the refund chunk.
	filler := h.writeFile(t, "filler.md", "The office is closed on public holidays.")
	if _, err := h.orch.Ingest(ctx, []string{filler}); err != nil {
		t.Fatalf("ingest filler: %v", err)
	}

	ans, err := h.orch.Ask(ctx, "What is the refund policy?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.Text != h.backend.reply {
		t.Errorf("answer text = %q", ans.Text)
	}
	if ans.Backend != "fake/test" {
		t.Errorf("backend = %q", ans.Backend)
	}
	if len(ans.Citations) == 0 {
		t.Fatal("answer has no citations")
	}
	top := ans.Citations[0]
	if top.Index != 1 || top.Path != path {
		t.Errorf("top citation: %+v", top)
	}
	if top.Score <= 0 {
		t.Errorf("citation score = %g", top.Score)
	}
}

func Test_Ask_NoRelevantContextIsNotAnError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// Nothing ingested: retrieval finds nothing, generation never runs.
	ans, err := h.orch.Ask(context.Background(), "anything at all?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.Text != noContextAnswer {
		t.Errorf("answer = %q", ans.Text)
	}
	if len(ans.Citations) != 0 || ans.Backend != "" {
		t.Errorf("empty-corpus answer must carry no citations or backend: %+v", ans)
	}
	if h.backend.calls != 0 {
		t.Errorf("generation backend was called %d times", h.backend.calls)
	}
}

func Test_Ask_BackendFailurePropagates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	path := h.writeFile(t, "policy.txt", "Refunds take five business days.")
	if _, err := h.orch.Ingest(ctx, []string{path}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	h.backend.fail = fmt.Errorf("all attempts failed: %w", rag.ErrBackendUnavailable)
	if _, err := h.orch.Ask(ctx, "refund?"); !errors.Is(err, rag.ErrBackendUnavailable) {
		t.Fatalf("want backend error surfaced, got %v", err)
	}
}

func Test_AskStream_EmitsIncrementally(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	path := h.writeFile(t, "policy.txt", "Refunds take five business days.")
	if _, err := h.orch.Ingest(ctx, []string{path}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var pieces []string
	ans, err := h.orch.AskStream(ctx, "refund?", func(text string) {
		pieces = append(pieces, text)
	})
	if err != nil {
		t.Fatalf("ask stream: %v", err)
	}
	if len(pieces) < 2 {
		t.Errorf("want incremental delivery, got %d pieces", len(pieces))
	}
	if strings.Join(pieces, "") != ans.Text {
		t.Error("streamed pieces do not reassemble the answer")
	}
	if ans.Text != h.backend.reply {
		t.Errorf("answer text = %q", ans.Text)
	}
}

func Test_LockDoc_EvictsReleasedEntries(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	unlockA := h.orch.lockDoc("doc-a")
	unlockB := h.orch.lockDoc("doc-b")

	h.orch.mu.Lock()
	if n := len(h.orch.docLocks); n != 2 {
		t.Errorf("want 2 held locks, got %d", n)
	}
	h.orch.mu.Unlock()

	unlockA()
	unlockB()

	h.orch.mu.Lock()
	if n := len(h.orch.docLocks); n != 0 {
		t.Errorf("released locks not evicted, %d entries remain", n)
	}
	h.orch.mu.Unlock()
}

func Test_LockDoc_SerialisesSameDocument(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	unlock := h.orch.lockDoc("doc-a")

	acquired := make(chan struct{})
	go func() {
		u := h.orch.lockDoc("doc-a")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock while the first still held it")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the lock after release")
	}
}
