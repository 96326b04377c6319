package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// pointNamespace is the UUID namespace for deriving qdrant point IDs from
// chunk IDs. Qdrant only accepts UUID or integer point IDs, so the
// content-derived chunk ID is mapped through a deterministic SHA1 UUID —
// the same chunk always lands on the same point, which is what makes
// re-ingestion an upsert rather than an accumulation.
var pointNamespace = uuid.MustParse("8b1a7c1e-6a1f-4f0a-9f64-2d1f29c8d001")

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
// Qdrant's index is an approximate nearest-neighbour oracle: recall is
// best-effort, but the dimension and metric invariants are enforced here
// before anything reaches the wire.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it with cosine distance if necessary), and returns a
// ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set before creating a store")
	}

	clientCfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}

	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// Dimensions returns the vector dimension fixed at collection creation.
func (s *QdrantStore) Dimensions() int {
	return int(s.cfg.VectorSize)
}

// Upsert stores or replaces a batch of chunks. The batch is validated
// client-side before the request is sent, so a dimension mismatch or
// duplicate chunk ID never reaches (or corrupts) the collection.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk) error {
	seen := make(map[string]bool, len(chunks))
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if uint64(len(c.Vector)) != s.cfg.VectorSize {
			return fmt.Errorf("qdrant: chunk %s has %d-dimensional vector, collection expects %d: %w",
				c.ID, len(c.Vector), s.cfg.VectorSize, ErrDimensionMismatch)
		}
		if seen[c.ID] {
			return fmt.Errorf("qdrant: chunk id %s appears twice in batch: %w", c.ID, ErrDuplicateChunk)
		}
		seen[c.ID] = true

		payload := map[string]any{
			"chunk_id":    c.ID,
			"document_id": c.DocumentID,
			"ordinal":     int64(c.Ordinal),
			"text":        c.Text,
			"page":        int64(c.Page),
			"span_start":  int64(c.Start),
			"span_end":    int64(c.End),
		}
		for k, v := range c.Metadata {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(c.ID)).String()),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// DeleteDocument removes all chunks belonging to the given document via a
// payload filter on document_id.
func (s *QdrantStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete document %s failed: %w", documentID, err)
	}
	return nil
}

// Query performs a cosine similarity search and returns the top-k results in
// Qdrant's native order (descending score, server-side tie order preserved).
func (s *QdrantStore) Query(ctx context.Context, vector []float32, k int, filter *Filter) (QueryResult, error) {
	if uint64(len(vector)) != s.cfg.VectorSize {
		return nil, fmt.Errorf("qdrant: query vector has %d dimensions, collection expects %d: %w",
			len(vector), s.cfg.VectorSize, ErrDimensionMismatch)
	}

	limit := uint64(k)
	req := &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter != nil && filter.DocumentID != "" {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", filter.DocumentID)},
		}
	}

	results, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	out := make(QueryResult, 0, len(results))
	for _, r := range results {
		sc := ScoredChunk{Score: r.Score}
		sc.Metadata = make(map[string]string)
		for key, v := range r.GetPayload() {
			switch key {
			case "chunk_id":
				sc.ID = v.GetStringValue()
			case "document_id":
				sc.DocumentID = v.GetStringValue()
			case "text":
				sc.Text = v.GetStringValue()
			case "ordinal":
				sc.Ordinal = int(v.GetIntegerValue())
			case "page":
				sc.Page = int(v.GetIntegerValue())
			case "span_start":
				sc.Start = int(v.GetIntegerValue())
			case "span_end":
				sc.End = int(v.GetIntegerValue())
			default:
				sc.Metadata[key] = v.GetStringValue()
			}
		}
		out = append(out, sc)
	}

	return out, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
