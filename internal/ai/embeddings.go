package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"emergency-knowledge-service/internal/config"
	"emergency-knowledge-service/internal/telemetry"
	"emergency-knowledge-service/models"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"
)

// EmbeddingClient converts text into fixed-dimension vectors through an
// external provider. The default provider speaks the plain HTTP embeddings
// API ({input, model} with a bearer credential); "google" uses the Gemini
// SDK. The client never retries on its own - retry policy belongs to the
// caller - but a circuit breaker and rate limiter bound the load sent to
// the provider.
type EmbeddingClient struct {
	cfg         *config.Config
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	metrics     *telemetry.Metrics

	genaiOnce   sync.Once
	genaiClient *genai.Client
	genaiErr    error
}

// NewEmbeddingClient validates the provider configuration and builds the
// client. A missing credential is a fatal configuration error here, not a
// per-call error later. metrics may be nil.
func NewEmbeddingClient(cfg *config.Config, metrics *telemetry.Metrics) (*EmbeddingClient, error) {
	switch cfg.EmbeddingsProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("missing OPENAI_API_KEY for embeddings")
		}
	case "google":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
		}
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "EmbeddingsAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	// RPM limit with some buffer
	rpm := cfg.EmbedRPM
	if rpm <= 0 {
		rpm = 300
	}
	rateLimiter := rate.NewLimiter(rate.Limit(float64(rpm)*0.9/60.0), rpm/10+1)

	return &EmbeddingClient{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.EmbedTimeout},
		breaker:     breaker,
		rateLimiter: rateLimiter,
		metrics:     metrics,
	}, nil
}

// Embed returns the embedding vector for text. Input is truncated to the
// provider limit before sending; the returned vector always has the
// configured dimension with non-finite elements coerced to zero. Every
// failure mode surfaces as *models.EmbeddingError.
func (ec *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	tracer := otel.Tracer("embedding-client")
	ctx, span := tracer.Start(ctx, "embeddings.embed")
	defer span.End()

	truncated, wasTruncated := ec.truncate(text)
	span.SetAttributes(
		attribute.String("embeddings.provider", ec.cfg.EmbeddingsProvider),
		attribute.Int("embeddings.input_chars", len(truncated)),
		attribute.Bool("embeddings.truncated", wasTruncated),
	)

	if err := ec.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("embeddings.rate_limited", true))
		return nil, models.NewEmbeddingError("rate limiter wait", err)
	}

	start := time.Now()
	result, err := ec.breaker.Execute(func() (interface{}, error) {
		switch ec.cfg.EmbeddingsProvider {
		case "google":
			return ec.embedGoogle(ctx, truncated)
		default:
			return ec.embedHTTP(ctx, truncated)
		}
	})
	if ec.metrics != nil {
		ec.metrics.RecordEmbedding(time.Since(start).Seconds(), ec.cfg.EmbeddingsProvider, err == nil)
	}
	if err != nil {
		span.SetAttributes(attribute.Bool("embeddings.error", true))
		if embErr, ok := err.(*models.EmbeddingError); ok {
			return nil, embErr
		}
		return nil, models.NewEmbeddingError("provider call", err)
	}

	vec := result.([]float32)
	if len(vec) == 0 {
		return nil, models.NewEmbeddingError("provider returned an empty vector", nil)
	}
	if ec.cfg.VectorDimensions > 0 && len(vec) != ec.cfg.VectorDimensions {
		return nil, models.NewEmbeddingError(
			fmt.Sprintf("unexpected vector dimension %d, want %d", len(vec), ec.cfg.VectorDimensions), nil)
	}

	span.SetAttributes(attribute.Int("embeddings.dimension", len(vec)))
	return sanitizeVector(vec), nil
}

// truncate caps the input at EmbedMaxTokens * EmbedCharsPerToken characters.
// The chars-per-token ratio is an estimate; token-dense text may still
// overflow on the provider side.
func (ec *EmbeddingClient) truncate(text string) (string, bool) {
	maxChars := ec.cfg.EmbedMaxTokens * ec.cfg.EmbedCharsPerToken
	if maxChars <= 0 {
		return text, false
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text, false
	}
	return string(runes[:maxChars]), true
}

// embedHTTP calls an OpenAI-compatible embeddings endpoint.
func (ec *EmbeddingClient) embedHTTP(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{
		"input": text,
		"model": ec.cfg.OpenAIEmbeddingsModel,
	})
	if err != nil {
		return nil, models.NewEmbeddingError("encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ec.cfg.OpenAIEmbeddingsURL, bytes.NewReader(payload))
	if err != nil {
		return nil, models.NewEmbeddingError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ec.cfg.OpenAIAPIKey)

	resp, err := ec.httpClient.Do(req)
	if err != nil {
		return nil, models.NewEmbeddingError("provider unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, models.NewEmbeddingError(
			fmt.Sprintf("provider returned %s: %s", resp.Status, string(body)), nil)
	}

	var parsed struct {
		Data []struct {
			Embedding []any `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, models.NewEmbeddingError("malformed response body", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, models.NewEmbeddingError("response contains no embedding", nil)
	}

	// Elements that are not numbers decode as non-float values; they are
	// coerced to zero below so the dimension never changes.
	vec := make([]float32, len(parsed.Data[0].Embedding))
	for i, el := range parsed.Data[0].Embedding {
		if f, ok := el.(float64); ok {
			vec[i] = float32(f)
		}
	}
	return vec, nil
}

// embedGoogle calls the Gemini embeddings model through the genai SDK.
func (ec *EmbeddingClient) embedGoogle(ctx context.Context, text string) ([]float32, error) {
	ec.genaiOnce.Do(func() {
		ec.genaiClient, ec.genaiErr = genai.NewClient(ctx, option.WithAPIKey(ec.cfg.GeminiAPIKey))
	})
	if ec.genaiErr != nil {
		return nil, models.NewEmbeddingError("create genai client", ec.genaiErr)
	}

	model := ec.genaiClient.EmbeddingModel(ec.cfg.GoogleEmbeddingsModel)
	resp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, models.NewEmbeddingError("genai embed content", err)
	}
	if resp.Embedding == nil {
		return nil, models.NewEmbeddingError("no embedding returned", nil)
	}
	return resp.Embedding.Values, nil
}

// sanitizeVector replaces NaN and infinite elements with zero. The vector
// length is never changed.
func sanitizeVector(vec []float32) []float32 {
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			vec[i] = 0
		}
	}
	return vec
}

// Close releases the underlying SDK client if one was created.
func (ec *EmbeddingClient) Close() error {
	if ec.genaiClient != nil {
		return ec.genaiClient.Close()
	}
	return nil
}
