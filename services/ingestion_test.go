package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"emergency-knowledge-service/models"
)

type fakeEmbedder struct {
	calls  int
	failOn map[int]error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	call := f.calls
	f.calls++
	if err, ok := f.failOn[call]; ok {
		return nil, err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type insertedPassage struct {
	content  string
	metadata map[string]any
}

type fakeStore struct {
	calls    int
	inserted []insertedPassage
	failOn   map[int]error
}

func (f *fakeStore) Insert(ctx context.Context, content string, metadata map[string]any, embedding []float32) (string, error) {
	call := f.calls
	f.calls++
	if err, ok := f.failOn[call]; ok {
		return "", err
	}
	f.inserted = append(f.inserted, insertedPassage{content: content, metadata: metadata})
	return fmt.Sprintf("passage-%d", call), nil
}

func newTestIngestion(t *testing.T, embedder Embedder, store PassageStore) *IngestionService {
	t.Helper()
	chunker, err := NewChunker(30, 0)
	if err != nil {
		t.Fatal(err)
	}
	return NewIngestionService(chunker, embedder, store, nil, 0)
}

// Three paragraphs, each short enough to be its own chunk but too long to
// pack together.
const threeChunkDoc = "Keep water for three days.\n\nPack a flashlight and radio.\n\nWrite down contact numbers."

func TestIngestDocumentAllChunksStored(t *testing.T) {
	store := &fakeStore{}
	svc := newTestIngestion(t, &fakeEmbedder{}, store)

	results, err := svc.IngestDocument(context.Background(), models.Document{
		Content:  threeChunkDoc,
		Metadata: map[string]any{"title": "go bag"},
	})
	if err != nil {
		t.Fatalf("ingest error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	for i, res := range results {
		if res.Err != nil {
			t.Errorf("chunk %d failed: %v", i, res.Err)
		}
		if res.ChunkIndex != i {
			t.Errorf("result %d has chunkIndex %d", i, res.ChunkIndex)
		}
		if res.PassageID == "" {
			t.Errorf("chunk %d has no passage ID", i)
		}
	}

	for i, p := range store.inserted {
		if p.metadata[models.MetaChunkIndex] != i {
			t.Errorf("chunk %d metadata chunkIndex = %v", i, p.metadata[models.MetaChunkIndex])
		}
		if p.metadata[models.MetaTotalChunks] != 3 {
			t.Errorf("chunk %d metadata totalChunks = %v", i, p.metadata[models.MetaTotalChunks])
		}
		if p.metadata["title"] != "go bag" {
			t.Errorf("chunk %d lost caller metadata: %v", i, p.metadata)
		}
	}
}

func TestIngestDocumentIsolatesChunkFailures(t *testing.T) {
	embedder := &fakeEmbedder{failOn: map[int]error{
		1: models.NewEmbeddingError("provider unreachable", nil),
	}}
	store := &fakeStore{}
	svc := newTestIngestion(t, embedder, store)

	results, err := svc.IngestDocument(context.Background(), models.Document{Content: threeChunkDoc})
	if err != nil {
		t.Fatalf("ingest error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("healthy chunks failed: %v, %v", results[0].Err, results[2].Err)
	}

	var embErr *models.EmbeddingError
	if !errors.As(results[1].Err, &embErr) {
		t.Fatalf("chunk 1 should carry the embedding error, got %v", results[1].Err)
	}

	if len(store.inserted) != 2 {
		t.Errorf("expected 2 stored passages, got %d", len(store.inserted))
	}
}

func TestIngestDocumentStoreFailure(t *testing.T) {
	store := &fakeStore{failOn: map[int]error{
		0: models.NewStoreError("insert", errors.New("503")),
	}}
	svc := newTestIngestion(t, &fakeEmbedder{}, store)

	results, err := svc.IngestDocument(context.Background(), models.Document{Content: threeChunkDoc})
	if err != nil {
		t.Fatalf("ingest error: %v", err)
	}

	var storeErr *models.StoreError
	if !errors.As(results[0].Err, &storeErr) {
		t.Fatalf("chunk 0 should carry the store error, got %v", results[0].Err)
	}
	if results[1].Err != nil || results[2].Err != nil {
		t.Error("later chunks should not be affected by an earlier store failure")
	}
}

func TestIngestDocumentEmptyContent(t *testing.T) {
	svc := newTestIngestion(t, &fakeEmbedder{}, &fakeStore{})

	_, err := svc.IngestDocument(context.Background(), models.Document{Content: "   \n\n "})
	var validationErr *models.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIngestBatchStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	svc := newTestIngestion(t, &fakeEmbedder{}, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	docs := []models.Document{
		{Content: "First document."},
		{Content: "Second document."},
	}
	results, err := svc.IngestBatch(ctx, docs)
	if err == nil {
		t.Fatal("expected error from canceled batch")
	}
	if len(results) != 0 {
		t.Errorf("no documents should complete after cancellation, got %d", len(results))
	}
}

func TestIngestBatchProcessesInOrder(t *testing.T) {
	store := &fakeStore{}
	svc := newTestIngestion(t, &fakeEmbedder{}, store)

	docs := []models.Document{
		{Content: "Alpha shelter plan."},
		{Content: "Bravo shelter plan."},
	}
	results, err := svc.IngestBatch(context.Background(), docs)
	if err != nil {
		t.Fatalf("batch error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 document results, got %d", len(results))
	}
	if store.inserted[0].content != "Alpha shelter plan." {
		t.Errorf("documents processed out of order: %q", store.inserted[0].content)
	}
}

func TestSanitizeMetadata(t *testing.T) {
	clean := SanitizeMetadata(map[string]any{
		"title": "flood guide",
		"size":  1234,
	})
	if clean["title"] != "flood guide" {
		t.Errorf("title lost: %v", clean)
	}
	// JSON round-trip turns numbers into float64
	if clean["size"] != float64(1234) {
		t.Errorf("size = %v (%T)", clean["size"], clean["size"])
	}

	if got := SanitizeMetadata(nil); got == nil || len(got) != 0 {
		t.Errorf("nil metadata should become empty map, got %v", got)
	}
}

func TestSanitizeMetadataFallsBackOnUnserializable(t *testing.T) {
	clean := SanitizeMetadata(map[string]any{
		"title":    "quake kit",
		"filename": "kit.pdf",
		"broken":   make(chan int),
	})

	if clean["title"] != "quake kit" || clean["filename"] != "kit.pdf" {
		t.Errorf("descriptive fields lost in fallback: %v", clean)
	}
	if _, ok := clean["broken"]; ok {
		t.Error("unserializable value survived sanitization")
	}
}
