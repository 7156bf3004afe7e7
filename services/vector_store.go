package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"emergency-knowledge-service/internal/config"
	"emergency-knowledge-service/internal/telemetry"
	"emergency-knowledge-service/models"
)

// VectorStoreClient talks to the external vector-capable store over its
// REST API. Inserts, listing and deletion go through the table endpoint;
// nearest-neighbor search is delegated to the store's match_documents
// remote procedure. The client validates inputs locally before any network
// call and never pads or truncates a mismatched embedding.
type VectorStoreClient struct {
	baseURL    string
	apiKey     string
	table      string
	dimension  int
	httpClient *http.Client
	metrics    *telemetry.Metrics

	mu     sync.Mutex
	probed bool
}

// NewVectorStoreClient builds the store client from configuration. metrics
// may be nil.
func NewVectorStoreClient(cfg *config.Config, metrics *telemetry.Metrics) *VectorStoreClient {
	return &VectorStoreClient{
		baseURL:    strings.TrimRight(cfg.StoreURL, "/"),
		apiKey:     cfg.StoreAPIKey,
		table:      cfg.StoreTable,
		dimension:  cfg.VectorDimensions,
		httpClient: &http.Client{Timeout: cfg.StoreTimeout},
		metrics:    metrics,
	}
}

type storedRow struct {
	ID         any            `json:"id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Similarity float64        `json:"similarity"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (r storedRow) passage() models.Passage {
	return models.Passage{
		ID:         idString(r.ID),
		Content:    r.Content,
		Metadata:   r.Metadata,
		Similarity: r.Similarity,
		CreatedAt:  r.CreatedAt,
	}
}

// Insert stores one passage and returns the ID assigned by the store.
// Shape problems are *models.ValidationError raised before any network
// I/O; connectivity and authorization problems are *models.StoreError.
func (s *VectorStoreClient) Insert(ctx context.Context, content string, metadata map[string]any, embedding []float32) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", models.NewValidationError("content", "must not be empty")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	if _, err := json.Marshal(metadata); err != nil {
		return "", models.NewValidationError("metadata", fmt.Sprintf("not JSON-serializable: %v", err))
	}
	if err := s.validateEmbedding(embedding); err != nil {
		return "", err
	}

	if err := s.ensureProbed(ctx); err != nil {
		s.recordOp("insert", false)
		return "", err
	}

	body := []map[string]any{{
		"content":   content,
		"metadata":  metadata,
		"embedding": embedding,
	}}

	var rows []storedRow
	err := s.doJSON(ctx, http.MethodPost, s.tableURL(""), map[string]string{
		"Prefer": "return=representation",
	}, body, &rows)
	if err != nil {
		s.recordOp("insert", false)
		return "", models.NewStoreError("insert", err)
	}
	if len(rows) == 0 {
		s.recordOp("insert", false)
		return "", models.NewStoreError("insert", fmt.Errorf("store returned no row"))
	}

	s.recordOp("insert", true)
	return idString(rows[0].ID), nil
}

// Search runs the store-side similarity search. matchThreshold is the
// minimum similarity score; filter narrows candidates to passages whose
// metadata matches every given key/value pair. An empty result is not an
// error.
func (s *VectorStoreClient) Search(ctx context.Context, queryEmbedding []float32, filter map[string]any, matchThreshold float64, matchCount int) ([]models.Passage, error) {
	if err := s.validateEmbedding(queryEmbedding); err != nil {
		return nil, err
	}
	if filter == nil {
		filter = map[string]any{}
	}

	start := time.Now()
	body := map[string]any{
		"query_embedding": queryEmbedding,
		"match_threshold": matchThreshold,
		"match_count":     matchCount,
		"filter_metadata": filter,
	}

	var rows []storedRow
	err := s.doJSON(ctx, http.MethodPost, s.rpcURL("match_documents"), nil, body, &rows)
	if err != nil {
		s.recordOp("search", false)
		return nil, models.NewStoreError("search", err)
	}

	passages := make([]models.Passage, 0, len(rows))
	for _, row := range rows {
		passages = append(passages, row.passage())
	}

	s.recordOp("search", true)
	if s.metrics != nil {
		s.metrics.RecordSearch(time.Since(start).Seconds(), len(passages))
	}
	return passages, nil
}

// List returns a page of passages ordered by insertion time descending,
// plus the exact total count.
func (s *VectorStoreClient) List(ctx context.Context, limit, offset int) ([]models.Passage, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := url.Values{}
	query.Set("select", "id,content,metadata,created_at")
	query.Set("order", "created_at.desc")
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	req, err := s.newRequest(ctx, http.MethodGet, s.tableURL("?"+query.Encode()), nil)
	if err != nil {
		return nil, 0, models.NewStoreError("list", err)
	}
	req.Header.Set("Prefer", "count=exact")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.recordOp("list", false)
		return nil, 0, models.NewStoreError("list", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.recordOp("list", false)
		return nil, 0, models.NewStoreError("list", statusError(resp))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var rows []storedRow
	if err := dec.Decode(&rows); err != nil {
		s.recordOp("list", false)
		return nil, 0, models.NewStoreError("list", err)
	}

	total := len(rows)
	if n, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
		total = n
	}

	passages := make([]models.Passage, 0, len(rows))
	for _, row := range rows {
		passages = append(passages, row.passage())
	}

	s.recordOp("list", true)
	return passages, total, nil
}

// Delete removes a passage by ID. A missing ID is *models.NotFoundError.
func (s *VectorStoreClient) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return models.NewValidationError("id", "must not be empty")
	}

	var rows []storedRow
	err := s.doJSON(ctx, http.MethodDelete, s.tableURL("?id=eq."+url.QueryEscape(id)), map[string]string{
		"Prefer": "return=representation",
	}, nil, &rows)
	if err != nil {
		s.recordOp("delete", false)
		return models.NewStoreError("delete", err)
	}
	if len(rows) == 0 {
		return &models.NotFoundError{ID: id}
	}

	s.recordOp("delete", true)
	return nil
}

// VectorExtensionEnabled asks the store whether its vector capability is
// installed. Diagnostic only; normal operation does not depend on it.
func (s *VectorStoreClient) VectorExtensionEnabled(ctx context.Context) (bool, error) {
	var enabled bool
	err := s.doJSON(ctx, http.MethodPost, s.rpcURL("vector_extension_enabled"), nil, map[string]any{}, &enabled)
	if err != nil {
		return false, models.NewStoreError("extension check", err)
	}
	return enabled, nil
}

// validateEmbedding rejects embeddings the store would misindex: empty
// vectors, non-finite elements, or a dimension that differs from the
// store's configured dimension.
func (s *VectorStoreClient) validateEmbedding(embedding []float32) error {
	if len(embedding) == 0 {
		return models.NewValidationError("embedding", "must not be empty")
	}
	if s.dimension > 0 && len(embedding) != s.dimension {
		return models.NewValidationError("embedding",
			fmt.Sprintf("dimension %d does not match store dimension %d", len(embedding), s.dimension))
	}
	for i, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return models.NewValidationError("embedding", fmt.Sprintf("element %d is not finite", i))
		}
	}
	return nil
}

// ensureProbed checks the target table is reachable once per client
// lifetime; success is cached, failures are retried on the next insert.
func (s *VectorStoreClient) ensureProbed(ctx context.Context) error {
	s.mu.Lock()
	probed := s.probed
	s.mu.Unlock()
	if probed {
		return nil
	}

	var rows []storedRow
	if err := s.doJSON(ctx, http.MethodGet, s.tableURL("?select=id&limit=1"), nil, nil, &rows); err != nil {
		return models.NewStoreError("collection probe", err)
	}

	s.mu.Lock()
	s.probed = true
	s.mu.Unlock()
	return nil
}

func (s *VectorStoreClient) tableURL(suffix string) string {
	return fmt.Sprintf("%s/rest/v1/%s%s", s.baseURL, s.table, suffix)
}

func (s *VectorStoreClient) rpcURL(fn string) string {
	return fmt.Sprintf("%s/rest/v1/rpc/%s", s.baseURL, fn)
}

func (s *VectorStoreClient) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	return req, nil
}

func (s *VectorStoreClient) doJSON(ctx context.Context, method, rawURL string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := s.newRequest(ctx, method, rawURL, reader)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out != nil {
		// UseNumber keeps store-assigned bigint IDs exact; float64 loses
		// integer precision above 2^53.
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		return dec.Decode(out)
	}
	return nil
}

func (s *VectorStoreClient) recordOp(op string, success bool) {
	if s.metrics != nil {
		s.metrics.RecordStoreOperation(op, success)
	}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("store returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
}

// parseContentRangeTotal extracts the total from a "start-end/total" or
// "*/total" Content-Range header.
func parseContentRangeTotal(header string) (int, bool) {
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return 0, false
	}
	total := header[idx+1:]
	if total == "*" || total == "" {
		return 0, false
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, false
	}
	return n, true
}

// idString renders a store-assigned ID, numeric or textual, as a string.
func idString(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
