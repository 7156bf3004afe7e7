package services

import (
	"context"

	"emergency-knowledge-service/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Searcher runs a similarity search against the vector store.
type Searcher interface {
	Search(ctx context.Context, queryEmbedding []float32, filter map[string]any, matchThreshold float64, matchCount int) ([]models.Passage, error)
}

// RetrievalService answers queries by embedding the query text and asking
// the store for the nearest passages. It adds nothing of its own: embedder
// and store errors pass through unchanged so callers can map them.
type RetrievalService struct {
	embedder Embedder
	searcher Searcher

	matchThreshold float64
	matchCount     int
}

// NewRetrievalService wires retrieval with its default threshold and
// result count.
func NewRetrievalService(embedder Embedder, searcher Searcher, matchThreshold float64, matchCount int) *RetrievalService {
	return &RetrievalService{
		embedder:       embedder,
		searcher:       searcher,
		matchThreshold: matchThreshold,
		matchCount:     matchCount,
	}
}

// Retrieve returns the passages most similar to query, ranked by the
// store. A negative matchThreshold and a matchCount <= 0 fall back to
// the configured defaults; zero is a real threshold and is forwarded
// as-is. An empty result list is a valid answer.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, filter map[string]any, matchThreshold float64, matchCount int) ([]models.Passage, error) {
	tracer := otel.Tracer("retrieval-service")
	ctx, span := tracer.Start(ctx, "retrieval.query")
	defer span.End()

	if matchThreshold < 0 {
		matchThreshold = s.matchThreshold
	}
	if matchCount <= 0 {
		matchCount = s.matchCount
	}
	span.SetAttributes(attribute.Int("retrieval.match_count", matchCount))

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	passages, err := s.searcher.Search(ctx, embedding, filter, matchThreshold, matchCount)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("retrieval.results", len(passages)))
	return passages, nil
}
