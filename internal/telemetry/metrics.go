package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter    metric.Int64Counter
	RequestDuration   metric.Float64Histogram
	ChunksIngested    metric.Int64Counter
	EmbeddingDuration metric.Float64Histogram
	SearchDuration    metric.Float64Histogram
	StoreOperations   metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("emergency-knowledge-service")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	chunksIngested, err := meter.Int64Counter(
		"ingest.chunks.total",
		metric.WithDescription("Chunks processed during ingestion, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	embeddingDuration, err := meter.Float64Histogram(
		"embedding.request.duration",
		metric.WithDescription("Embedding provider call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	searchDuration, err := meter.Float64Histogram(
		"store.search.duration",
		metric.WithDescription("Vector similarity search duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	storeOperations, err := meter.Int64Counter(
		"store.operations.total",
		metric.WithDescription("Vector store operations, by type and outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:    requestCounter,
		RequestDuration:   requestDuration,
		ChunksIngested:    chunksIngested,
		EmbeddingDuration: embeddingDuration,
		SearchDuration:    searchDuration,
		StoreOperations:   storeOperations,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordChunk records a per-chunk ingestion outcome
func (m *Metrics) RecordChunk(outcome string) {
	m.ChunksIngested.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("ingest.outcome", outcome),
	))
}

// RecordEmbedding records an embedding provider call
func (m *Metrics) RecordEmbedding(duration float64, provider string, success bool) {
	m.EmbeddingDuration.Record(context.Background(), duration, metric.WithAttributes(
		attribute.String("embedding.provider", provider),
		attribute.Bool("embedding.success", success),
	))
}

// RecordSearch records a similarity search
func (m *Metrics) RecordSearch(duration float64, results int) {
	m.SearchDuration.Record(context.Background(), duration, metric.WithAttributes(
		attribute.Int("search.results", results),
	))
}

// RecordStoreOperation records a vector store operation
func (m *Metrics) RecordStoreOperation(operation string, success bool) {
	m.StoreOperations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("store.operation", operation),
		attribute.Bool("store.success", success),
	))
}
