package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"emergency-knowledge-service/internal/config"
	"emergency-knowledge-service/services"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type stubStore struct {
	inserted int
}

func (s *stubStore) Insert(ctx context.Context, content string, metadata map[string]any, embedding []float32) (string, error) {
	s.inserted++
	return "1", nil
}

func newUploadRouter(t *testing.T, store *stubStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		MaxFileSize:         1 << 20,
		SyncProcessingLimit: 1 << 19,
	}

	// The client connects lazily; no server is contacted unless a job
	// endpoint is exercised.
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI("mongodb://localhost:27017"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	chunker, err := services.NewChunker(500, 0)
	if err != nil {
		t.Fatal(err)
	}
	ingestion := services.NewIngestionService(chunker, stubEmbedder{}, store, nil, 0)
	docRoutes := NewDocumentRoutes(cfg, ingestion, services.NewTextExtractor(), nil, client.Database("test"), nil)

	router := gin.New()
	router.POST("/api/documents", docRoutes.HandleUpload())
	return router
}

func multipartBody(t *testing.T, text string, filename, fileContent string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if text != "" {
		if err := writer.WriteField("text", text); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write([]byte(fileContent)); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, writer.FormDataContentType()
}

func TestHandleUploadRejectsTextAndFileTogether(t *testing.T) {
	store := &stubStore{}
	router := newUploadRouter(t, store)

	body, contentType := multipartBody(t,
		"Boil water before drinking after a flood.",
		"notes.txt", "Separate file content that must not be dropped silently.")

	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
	if store.inserted != 0 {
		t.Errorf("nothing should be ingested on rejection, stored %d chunks", store.inserted)
	}
}

func TestHandleUploadInlineText(t *testing.T) {
	store := &stubStore{}
	router := newUploadRouter(t, store)

	body, contentType := multipartBody(t,
		"Keep a three-day supply of water per person.", "", "")

	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		Success       bool `json:"success"`
		DocumentCount int  `json:"documentCount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.DocumentCount == 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if store.inserted == 0 {
		t.Error("inline text was not ingested")
	}
}
