package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"emergency-knowledge-service/internal/config"
	"emergency-knowledge-service/internal/telemetry"
	"emergency-knowledge-service/models"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func testConfig(url string) *config.Config {
	return &config.Config{
		EmbeddingsProvider:    "openai",
		OpenAIAPIKey:          "test-key",
		OpenAIEmbeddingsURL:   url,
		OpenAIEmbeddingsModel: "text-embedding-3-small",
		VectorDimensions:      3,
		EmbedMaxTokens:        8000,
		EmbedCharsPerToken:    4,
		EmbedTimeout:          5 * time.Second,
		EmbedRPM:              6000,
	}
}

func embeddingResponse(vec []any) map[string]any {
	return map[string]any{
		"data": []map[string]any{{"embedding": vec}},
	}
}

func TestNewEmbeddingClientMissingCredential(t *testing.T) {
	cfg := testConfig("http://localhost")
	cfg.OpenAIAPIKey = ""
	if _, err := NewEmbeddingClient(cfg, nil); err == nil {
		t.Fatal("expected error for missing API key")
	}

	cfg = testConfig("http://localhost")
	cfg.EmbeddingsProvider = "google"
	if _, err := NewEmbeddingClient(cfg, nil); err == nil {
		t.Fatal("expected error for missing Gemini key")
	}

	cfg = testConfig("http://localhost")
	cfg.EmbeddingsProvider = "mystery"
	if _, err := NewEmbeddingClient(cfg, nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestEmbedSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %q", got)
		}
		json.NewEncoder(w).Encode(embeddingResponse([]any{0.1, 0.2, 0.3}))
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(testConfig(server.URL), nil)
	if err != nil {
		t.Fatal(err)
	}

	vec, err := client.Embed(context.Background(), "earthquake safety checklist")
	if err != nil {
		t.Fatalf("embed error: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3 dimensions, got %d", len(vec))
	}
	if vec[0] != 0.1 {
		t.Errorf("vec[0] = %v, want 0.1", vec[0])
	}
}

func TestEmbedCoercesNonNumericElements(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embeddingResponse([]any{0.5, nil, 0.25}))
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(testConfig(server.URL), nil)
	if err != nil {
		t.Fatal(err)
	}

	vec, err := client.Embed(context.Background(), "flood response")
	if err != nil {
		t.Fatalf("embed error: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("dimension changed: got %d, want 3", len(vec))
	}
	if vec[1] != 0 {
		t.Errorf("non-numeric element not coerced to zero: %v", vec[1])
	}
}

func TestEmbedTruncatesInput(t *testing.T) {
	var receivedLen int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		receivedLen = len(body.Input)
		json.NewEncoder(w).Encode(embeddingResponse([]any{0.1, 0.2, 0.3}))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.EmbedMaxTokens = 10
	cfg.EmbedCharsPerToken = 2

	client, err := NewEmbeddingClient(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	longInput := ""
	for i := 0; i < 100; i++ {
		longInput += "wildfire "
	}
	if _, err := client.Embed(context.Background(), longInput); err != nil {
		t.Fatalf("embed error: %v", err)
	}
	if receivedLen > 20 {
		t.Errorf("input not truncated: provider received %d chars", receivedLen)
	}
}

func TestEmbedRecordsDurationMetric(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	defer otel.SetMeterProvider(prev)

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embeddingResponse([]any{0.1, 0.2, 0.3}))
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(testConfig(server.URL), metrics)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Embed(context.Background(), "heat wave guidance"); err != nil {
		t.Fatalf("embed error: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}

	found := false
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "embedding.request.duration" {
				continue
			}
			if hist, ok := m.Data.(metricdata.Histogram[float64]); ok && len(hist.DataPoints) > 0 {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("embedding call did not record the duration histogram")
	}
}

func TestEmbedProviderFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(testConfig(server.URL), nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Embed(context.Background(), "hurricane prep")
	var embErr *models.EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected embedding error, got %v", err)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embeddingResponse([]any{0.1, 0.2}))
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(testConfig(server.URL), nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Embed(context.Background(), "tornado drill")
	var embErr *models.EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected embedding error for dimension mismatch, got %v", err)
	}
}

func TestEmbedEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer server.Close()

	client, err := NewEmbeddingClient(testConfig(server.URL), nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Embed(context.Background(), "blizzard kit")
	var embErr *models.EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected embedding error for empty response, got %v", err)
	}
}
