package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"emergency-knowledge-service/internal/logger"
	"emergency-knowledge-service/internal/telemetry"
	"emergency-knowledge-service/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Embedder converts text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PassageStore persists embedded passages.
type PassageStore interface {
	Insert(ctx context.Context, content string, metadata map[string]any, embedding []float32) (string, error)
}

// IngestionService drives the document pipeline: split into chunks, embed
// each chunk, store each embedding. Chunks are processed sequentially and
// failures are isolated per chunk, so one bad chunk never aborts the rest
// of the document.
type IngestionService struct {
	chunker  *Chunker
	embedder Embedder
	store    PassageStore
	metrics  *telemetry.Metrics

	chunkTimeout time.Duration
}

// NewIngestionService wires the pipeline. metrics may be nil. chunkTimeout
// bounds the embed-plus-store work for a single chunk; zero means no
// per-chunk deadline.
func NewIngestionService(chunker *Chunker, embedder Embedder, store PassageStore, metrics *telemetry.Metrics, chunkTimeout time.Duration) *IngestionService {
	return &IngestionService{
		chunker:      chunker,
		embedder:     embedder,
		store:        store,
		metrics:      metrics,
		chunkTimeout: chunkTimeout,
	}
}

// IngestDocument chunks, embeds and stores one document. The returned
// slice has exactly one entry per chunk, in chunk order; entries carry
// either the stored passage ID or the error that stopped that chunk.
// A document whose content yields no chunks is a *models.ValidationError.
func (s *IngestionService) IngestDocument(ctx context.Context, doc models.Document) ([]models.ChunkResult, error) {
	tracer := otel.Tracer("ingestion-service")
	ctx, span := tracer.Start(ctx, "ingestion.document")
	defer span.End()

	chunks := s.chunker.Split(doc.Content)
	if len(chunks) == 0 {
		return nil, models.NewValidationError("content", "no text to ingest")
	}

	base := SanitizeMetadata(doc.Metadata)
	span.SetAttributes(attribute.Int("ingestion.chunks", len(chunks)))

	results := make([]models.ChunkResult, 0, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			results = append(results, models.ChunkResult{ChunkIndex: i, Err: err})
			s.recordChunk("canceled")
			continue
		}

		metadata := make(map[string]any, len(base)+2)
		for k, v := range base {
			metadata[k] = v
		}
		metadata[models.MetaChunkIndex] = i
		metadata[models.MetaTotalChunks] = len(chunks)

		id, err := s.ingestChunk(ctx, chunk, metadata)
		if err != nil {
			logger.Error("chunk ingestion failed", "chunkIndex", i, "error", err)
			results = append(results, models.ChunkResult{ChunkIndex: i, Err: err})
			s.recordChunk("failed")
			continue
		}

		results = append(results, models.ChunkResult{ChunkIndex: i, PassageID: id})
		s.recordChunk("stored")
	}

	return results, nil
}

// ingestChunk embeds and stores a single chunk under the per-chunk
// deadline.
func (s *IngestionService) ingestChunk(ctx context.Context, chunk string, metadata map[string]any) (string, error) {
	if s.chunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.chunkTimeout)
		defer cancel()
	}

	embedding, err := s.embedder.Embed(ctx, chunk)
	if err != nil {
		return "", err
	}

	return s.store.Insert(ctx, chunk, metadata, embedding)
}

// IngestFile extracts text from a raw upload and ingests it as one
// document. Extraction failure is fatal for the whole file since no
// chunks exist yet.
func (s *IngestionService) IngestFile(ctx context.Context, extractor *TextExtractor, content []byte, contentType string, metadata map[string]any) ([]models.ChunkResult, error) {
	text, err := extractor.Extract(ctx, content, contentType)
	if err != nil {
		return nil, err
	}
	return s.IngestDocument(ctx, models.Document{Content: text, Metadata: metadata})
}

// IngestBatch ingests documents in order, collecting per-document results.
// Context cancellation stops the batch between documents; documents already
// processed keep their results.
func (s *IngestionService) IngestBatch(ctx context.Context, docs []models.Document) ([][]models.ChunkResult, error) {
	all := make([][]models.ChunkResult, 0, len(docs))
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return all, fmt.Errorf("batch stopped at document %d: %w", i, err)
		}
		results, err := s.IngestDocument(ctx, doc)
		if err != nil {
			return all, fmt.Errorf("document %d: %w", i, err)
		}
		all = append(all, results)
	}
	return all, nil
}

func (s *IngestionService) recordChunk(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordChunk(outcome)
	}
}

// SanitizeMetadata forces caller metadata through a JSON round-trip so
// only JSON-representable values reach the store. Metadata that cannot be
// serialized at all is replaced with the minimal descriptive subset of
// string and number values rather than failing the document.
func SanitizeMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return map[string]any{}
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		minimal := map[string]any{}
		for _, key := range []string{models.MetaTitle, models.MetaFilename, models.MetaType, models.MetaSize, models.MetaUploadedAt} {
			switch v := metadata[key].(type) {
			case string:
				minimal[key] = v
			case int, int32, int64, float32, float64:
				minimal[key] = v
			}
		}
		return minimal
	}

	var clean map[string]any
	if err := json.Unmarshal(data, &clean); err != nil || clean == nil {
		return map[string]any{}
	}
	return clean
}
