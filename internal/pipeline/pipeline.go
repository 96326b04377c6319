// Package pipeline wires extraction, chunking, embedding, storage, and
// generation into the two operations the system exists for: ingesting
// documents and answering questions about them.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quintal-labs/docqa/internal/budget"
	"github.com/quintal-labs/docqa/internal/chunk"
	"github.com/quintal-labs/docqa/internal/extract"
	"github.com/quintal-labs/docqa/internal/llm"
	"github.com/quintal-labs/docqa/internal/logging"
	"github.com/quintal-labs/docqa/internal/rag"
	"github.com/quintal-labs/docqa/internal/registry"
)

// Options holds the orchestrator's tunables, resolved from config.
type Options struct {
	// Parallelism bounds concurrent document ingestion.
	Parallelism int
	// TopK is how many chunks to retrieve per question.
	TopK int
	// MinScore drops retrieved chunks below this similarity.
	MinScore float32
	// MaxContextTokens bounds the prompt context budget.
	MaxContextTokens int
	// Generation is passed through to the backend on every question.
	Generation llm.Options
}

// Orchestrator owns the ingestion and question-answering flows. It is safe
// for concurrent use.
type Orchestrator struct {
	extractor *extract.Extractor
	chunker   *chunk.Chunker
	embedder  rag.Embedder
	store     rag.VectorStore
	registry  *registry.Registry
	retriever rag.Retriever
	backend   llm.Backend
	opts      Options

	// docLocks serialises work per document so two concurrent ingestions of
	// the same file cannot interleave their delete/upsert sequences.
	mu       sync.Mutex
	docLocks map[string]*docLock
}

// New constructs an Orchestrator. All collaborators are required except the
// backend, which may be nil for ingest-only deployments.
func New(
	extractor *extract.Extractor,
	chunker *chunk.Chunker,
	embedder rag.Embedder,
	store rag.VectorStore,
	reg *registry.Registry,
	retriever rag.Retriever,
	backend llm.Backend,
	opts Options,
) (*Orchestrator, error) {
	if extractor == nil || chunker == nil || embedder == nil || store == nil || reg == nil || retriever == nil {
		return nil, fmt.Errorf("pipeline: all ingestion collaborators are required")
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &Orchestrator{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		registry:  reg,
		retriever: retriever,
		backend:   backend,
		opts:      opts,
		docLocks:  make(map[string]*docLock),
	}, nil
}

// DocStatus is the per-document outcome of an ingestion run.
type DocStatus string

const (
	// DocIngested means the document's chunks are in the vector store.
	DocIngested DocStatus = "ingested"
	// DocSkipped means the document was unchanged since its last ingestion.
	DocSkipped DocStatus = "skipped"
	// DocFailed means the document could not be ingested. Other documents
	// in the batch are unaffected.
	DocFailed DocStatus = "failed"
)

// DocReport is one document's entry in an IngestReport.
type DocReport struct {
	Path       string    `json:"path"`
	DocumentID string    `json:"document_id,omitempty"`
	Status     DocStatus `json:"status"`
	Chunks     int       `json:"chunks,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// IngestReport summarises an ingestion batch.
type IngestReport struct {
	Documents []DocReport   `json:"documents"`
	Ingested  int           `json:"ingested"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// embedBatchSize bounds how many chunk texts go to the embedder per call.
const embedBatchSize = 64

// Ingest processes the given files into the vector store. Documents are
// handled concurrently up to Parallelism; one bad document fails alone and
// is reported, but an unavailable embedding backend aborts the whole batch —
// every remaining document would fail the same way.
func (o *Orchestrator) Ingest(ctx context.Context, paths []string) (*IngestReport, error) {
	log := logging.FromContext(ctx)
	started := time.Now()

	report := &IngestReport{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Parallelism)

	for _, path := range paths {
		path := path
		g.Go(func() error {
			rep, err := o.ingestOne(gctx, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, rag.ErrBackendUnavailable) {
					// Abort: the rest of the batch hits the same wall.
					return err
				}
				log.Warn("document ingestion failed",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
				report.Documents = append(report.Documents, DocReport{
					Path:       path,
					DocumentID: rep.DocumentID,
					Status:     DocFailed,
					Error:      err.Error(),
				})
				report.Failed++
				return nil
			}
			report.Documents = append(report.Documents, *rep)
			switch rep.Status {
			case DocIngested:
				report.Ingested++
			case DocSkipped:
				report.Skipped++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("pipeline: ingestion aborted: %w", err)
	}
	report.Elapsed = time.Since(started)

	log.Info("ingestion batch complete",
		slog.Int("ingested", report.Ingested),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// ingestOne runs the full pipeline for a single file. The returned DocReport
// is valid even on error, so the caller can attribute the failure.
func (o *Orchestrator) ingestOne(ctx context.Context, path string) (*DocReport, error) {
	log := logging.FromContext(ctx)
	rep := &DocReport{Path: path}

	doc, err := o.extractor.Open(path)
	if err != nil {
		return rep, err
	}
	rep.DocumentID = doc.ID

	unlock := o.lockDoc(doc.ID)
	defer unlock()

	hash := contentHash(doc.Content)
	if prev, err := o.registry.Get(ctx, doc.ID); err == nil {
		if prev.Status == registry.StatusIngested && prev.ContentHash == hash {
			log.Debug("document unchanged, skipping",
				slog.String("path", path),
				slog.String("document_id", doc.ID),
			)
			rep.Status = DocSkipped
			rep.Chunks = prev.ChunkCount
			return rep, nil
		}
	} else if !errors.Is(err, registry.ErrNotFound) {
		return rep, err
	}

	segments, err := o.extractor.Extract(ctx, doc)
	if err != nil {
		if errors.Is(err, extract.ErrOCRUnavailable) {
			// A scanned document without an OCR service is skipped, not
			// failed: the file is fine, the deployment just cannot read it.
			log.Warn("skipping scanned document, OCR service not configured or unreachable",
				slog.String("path", path),
			)
			rep.Status = DocSkipped
			rep.Error = err.Error()
			return rep, nil
		}
		return rep, err
	}

	chunks, err := o.chunker.Split(segments)
	if err != nil {
		return rep, err
	}
	if len(chunks) == 0 {
		return rep, fmt.Errorf("pipeline: %s produced no text", path)
	}

	if err := o.embedChunks(ctx, chunks); err != nil {
		return rep, err
	}

	if err := o.registry.MarkPending(ctx, doc.ID, path, string(doc.Format), hash); err != nil {
		return rep, err
	}

	// Replace in place: old chunks go first so a changed document never
	// leaves stale passages behind.
	if err := o.store.DeleteDocument(ctx, doc.ID); err != nil {
		_ = o.registry.MarkFailed(ctx, doc.ID, err.Error())
		return rep, err
	}
	if err := o.store.Upsert(ctx, chunks); err != nil {
		// Roll back to a clean absence rather than a half-written document.
		_ = o.store.DeleteDocument(ctx, doc.ID)
		_ = o.registry.MarkFailed(ctx, doc.ID, err.Error())
		return rep, err
	}

	if err := o.registry.MarkIngested(ctx, doc.ID, len(chunks)); err != nil {
		return rep, err
	}

	log.Info("document ingested",
		slog.String("path", path),
		slog.String("document_id", doc.ID),
		slog.Int("chunks", len(chunks)),
	)
	rep.Status = DocIngested
	rep.Chunks = len(chunks)
	return rep, nil
}

// embedChunks fills in the vectors for a document's chunks, batching calls
// to the embedder.
func (o *Orchestrator) embedChunks(ctx context.Context, chunks []rag.Chunk) error {
	for lo := 0; lo < len(chunks); lo += embedBatchSize {
		hi := lo + embedBatchSize
		if hi > len(chunks) {
			hi = len(chunks)
		}
		texts := make([]string, hi-lo)
		for i := lo; i < hi; i++ {
			texts[i-lo] = chunks[i].Text
		}
		vectors, err := o.embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}
		for i := lo; i < hi; i++ {
			chunks[i].Vector = vectors[i-lo]
		}
	}
	return nil
}

// docLock is a per-document mutex with a holder count so idle entries can
// be evicted from the map.
type docLock struct {
	mu   sync.Mutex
	refs int
}

// lockDoc acquires the per-document mutex and returns its unlock func.
// The map entry is removed once the last holder releases it, so the map
// stays bounded by in-flight documents rather than growing per document ID.
func (o *Orchestrator) lockDoc(id string) func() {
	o.mu.Lock()
	l, ok := o.docLocks[id]
	if !ok {
		l = &docLock{}
		o.docLocks[id] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.docLocks, id)
		}
		o.mu.Unlock()
	}
}

// contentHash returns the hex sha256 of the document content.
func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Citation points an answer back at a source passage.
type Citation struct {
	// Index is the citation number used in the prompt, starting at 1.
	Index int `json:"index"`
	// DocumentID identifies the source document.
	DocumentID string `json:"document_id"`
	// Path is the source file path, when the registry still knows it.
	Path string `json:"path,omitempty"`
	// Page is the source page, when the format has pages.
	Page int `json:"page,omitempty"`
	// Score is the retrieval similarity of the cited chunk.
	Score float32 `json:"score"`
}

// Answer is the result of a question.
type Answer struct {
	// Text is the generated answer.
	Text string `json:"text"`
	// Citations lists the source passages the prompt offered the model.
	Citations []Citation `json:"citations,omitempty"`
	// Backend names the generation backend that produced the answer. Empty
	// when no generation happened (no relevant context).
	Backend string `json:"backend,omitempty"`
	// Truncated is true when retrieved context was dropped to fit the
	// token budget.
	Truncated bool `json:"truncated,omitempty"`
	// Latency is the end-to-end time for retrieval and generation.
	Latency time.Duration `json:"latency"`
}

// noContextAnswer is returned when retrieval finds nothing relevant. An
// empty corpus or an off-topic question is an answerable state, not an
// error.
const noContextAnswer = "I could not find anything relevant to that question in the ingested documents."

// Ask answers a question from the ingested corpus: retrieve, assemble a
// grounded prompt within the token budget, generate.
func (o *Orchestrator) Ask(ctx context.Context, query string) (*Answer, error) {
	return o.ask(ctx, query, nil)
}

// AskStream behaves like Ask but delivers the answer incrementally through
// emit before returning the complete Answer.
func (o *Orchestrator) AskStream(ctx context.Context, query string, emit func(text string)) (*Answer, error) {
	if emit == nil {
		return nil, fmt.Errorf("pipeline: AskStream requires an emit func")
	}
	return o.ask(ctx, query, emit)
}

func (o *Orchestrator) ask(ctx context.Context, query string, emit func(string)) (*Answer, error) {
	if o.backend == nil {
		return nil, fmt.Errorf("pipeline: no generation backend configured")
	}
	log := logging.FromContext(ctx)
	started := time.Now()

	hits, err := o.retriever.Retrieve(ctx, query, o.opts.TopK, o.opts.MinScore)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		log.Info("no relevant context found", slog.String("query", query))
		return &Answer{
			Text:    noContextAnswer,
			Latency: time.Since(started),
		}, nil
	}

	prompt := budget.Build(query, hits, o.opts.MaxContextTokens)

	var text string
	if emit != nil {
		stream, err := o.backend.StreamGenerate(ctx, prompt.Text, o.opts.Generation)
		if err != nil {
			return nil, err
		}
		for ev := range stream {
			if ev.Err != nil {
				return nil, ev.Err
			}
			emit(ev.Text)
			text += ev.Text
		}
	} else {
		text, err = o.backend.Generate(ctx, prompt.Text, o.opts.Generation)
		if err != nil {
			return nil, err
		}
	}

	citations := make([]Citation, 0, len(prompt.Included))
	for i, h := range prompt.Included {
		c := Citation{
			Index:      i + 1,
			DocumentID: h.DocumentID,
			Page:       h.Page,
			Score:      h.Score,
		}
		if rec, err := o.registry.Get(ctx, h.DocumentID); err == nil {
			c.Path = rec.Path
		}
		citations = append(citations, c)
	}

	ans := &Answer{
		Text:      text,
		Citations: citations,
		Backend:   o.backend.Name(),
		Truncated: prompt.Truncated,
		Latency:   time.Since(started),
	}
	log.Info("question answered",
		slog.String("backend", ans.Backend),
		slog.Int("citations", len(ans.Citations)),
		slog.Bool("truncated", ans.Truncated),
		slog.Duration("latency", ans.Latency),
	)
	return ans, nil
}
