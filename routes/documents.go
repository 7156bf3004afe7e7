package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"emergency-knowledge-service/internal/config"
	"emergency-knowledge-service/internal/queue"
	"emergency-knowledge-service/models"
	"emergency-knowledge-service/services"
	"emergency-knowledge-service/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// DocumentRoutes bundles the dependencies of the document endpoints.
type DocumentRoutes struct {
	cfg         *config.Config
	ingestion   *services.IngestionService
	extractor   *services.TextExtractor
	store       *services.VectorStoreClient
	jobs        *mongo.Collection
	queueClient *asynq.Client
}

func NewDocumentRoutes(cfg *config.Config, ingestion *services.IngestionService, extractor *services.TextExtractor, store *services.VectorStoreClient, db *mongo.Database, queueClient *asynq.Client) *DocumentRoutes {
	return &DocumentRoutes{
		cfg:         cfg,
		ingestion:   ingestion,
		extractor:   extractor,
		store:       store,
		jobs:        db.Collection("ingest_jobs"),
		queueClient: queueClient,
	}
}

// HandleUpload ingests a document from a multipart upload. Small payloads
// are processed synchronously; files above the sync limit are stored to
// disk, recorded as a job and handed to the queue.
func (r *DocumentRoutes) HandleUpload() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseMultipartForm(r.cfg.MaxFileSize); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "file_too_large",
				"File size exceeds maximum limit", nil)
			return
		}

		metadata, rawMetadata, err := parseMetadataField(c.Request.FormValue("metadata"))
		if err != nil {
			utils.RespondWithBadRequest(c, "Metadata must be a JSON object", gin.H{"error": err.Error()})
			return
		}

		text := c.Request.FormValue("text")
		hasText := strings.TrimSpace(text) != ""
		hasFile := c.Request.MultipartForm != nil && len(c.Request.MultipartForm.File["file"]) > 0
		if hasText && hasFile {
			utils.RespondWithBadRequest(c, "Provide either a file or a text field, not both", nil)
			return
		}

		// Inline text takes the synchronous path unconditionally.
		if hasText {
			r.ingestSync(c, []byte(text), "text/plain", metadata)
			return
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "Provide a file or a text field", nil)
			return
		}
		defer file.Close()

		if header.Size > r.cfg.MaxFileSize {
			utils.RespondWithError(c, http.StatusBadRequest, "file_too_large",
				"File size exceeds maximum limit", nil)
			return
		}

		contentType := header.Header.Get("Content-Type")
		metadata[models.MetaFilename] = header.Filename
		metadata[models.MetaType] = contentType
		metadata[models.MetaSize] = header.Size
		if _, ok := metadata[models.MetaUploadedAt]; !ok {
			metadata[models.MetaUploadedAt] = time.Now().UTC().Format(time.RFC3339)
		}

		if header.Size > r.cfg.SyncProcessingLimit {
			r.ingestAsync(c, file, header.Filename, contentType, header.Size, rawMetadata)
			return
		}

		content, err := io.ReadAll(io.LimitReader(file, r.cfg.MaxFileSize))
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read upload", nil)
			return
		}
		r.ingestSync(c, content, contentType, metadata)
	}
}

// ingestSync runs the pipeline inline and reports per-chunk outcomes.
func (r *DocumentRoutes) ingestSync(c *gin.Context, content []byte, contentType string, metadata map[string]any) {
	results, err := r.ingestion.IngestFile(c.Request.Context(), r.extractor, content, contentType, metadata)
	if err != nil {
		utils.RespondWithDomainError(c, err)
		return
	}

	stored := 0
	var chunkErrors []gin.H
	for _, res := range results {
		if res.Err != nil {
			chunkErrors = append(chunkErrors, gin.H{
				"chunkIndex": res.ChunkIndex,
				"error":      res.ChunkError(),
			})
			continue
		}
		stored++
	}

	resp := gin.H{
		"success":       stored > 0,
		"documentCount": stored,
	}
	if len(chunkErrors) > 0 {
		resp["errors"] = chunkErrors
	}

	status := http.StatusOK
	if stored == 0 {
		status = http.StatusBadGateway
	}
	c.JSON(status, resp)
}

// ingestAsync stores the upload and enqueues a background ingest job.
func (r *DocumentRoutes) ingestAsync(c *gin.Context, file io.Reader, filename, contentType string, size int64, rawMetadata string) {
	jobID := uuid.NewString()

	if err := os.MkdirAll(r.cfg.FileStorageDir, 0755); err != nil {
		utils.RespondWithInternalError(c, "Failed to create upload directory", nil)
		return
	}

	filePath := filepath.Join(r.cfg.FileStorageDir, fmt.Sprintf("%s%s", jobID, filepath.Ext(filename)))
	dst, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to open destination", nil)
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, io.LimitReader(file, r.cfg.MaxFileSize)); err != nil {
		utils.RespondWithInternalError(c, "Failed to save file", nil)
		return
	}

	ctx := context.Background()
	job := models.IngestJob{
		ID:          jobID,
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
		FilePath:    filePath,
		Metadata:    rawMetadata,
		Status:      models.JobStatusPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if _, err := r.jobs.InsertOne(ctx, job); err != nil {
		os.Remove(filePath)
		utils.RespondWithInternalError(c, "Failed to create job record", nil)
		return
	}

	task, err := queue.NewIngestDocumentTask(jobID, filePath, filename, contentType, rawMetadata)
	if err == nil {
		_, err = r.queueClient.Enqueue(task)
	}
	if err != nil {
		os.Remove(filePath)
		r.jobs.DeleteOne(ctx, bson.M{"_id": jobID})
		utils.RespondWithError(c, http.StatusInternalServerError, "queue_error",
			"Failed to enqueue ingestion task", nil)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"jobId":   jobID,
		"status":  models.JobStatusPending,
	})
}

// HandleList returns stored passages, newest first.
func (r *DocumentRoutes) HandleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		passages, total, err := r.store.List(c.Request.Context(), limit, offset)
		if err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"documents": passages,
			"count":     total,
		})
	}
}

// HandleDelete removes one stored passage by ID.
func (r *DocumentRoutes) HandleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := r.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
			utils.RespondWithDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// HandleJobStatus reports the state of an async ingest job.
func (r *DocumentRoutes) HandleJobStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")

		var job models.IngestJob
		err := r.jobs.FindOne(c.Request.Context(), bson.M{"_id": jobID}).Decode(&job)
		if err != nil {
			if err == mongo.ErrNoDocuments {
				utils.RespondWithNotFound(c, "Job not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to retrieve job", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"jobId":        job.ID,
			"filename":     job.Filename,
			"status":       job.Status,
			"chunksTotal":  job.ChunksTotal,
			"chunksFailed": job.ChunksFailed,
			"error":        job.ErrorMessage,
			"createdAt":    job.CreatedAt,
			"updatedAt":    job.UpdatedAt,
		})
	}
}

// parseMetadataField decodes the optional metadata form field. Empty input
// is an empty object; anything that is not a JSON object is rejected.
func parseMetadataField(raw string) (map[string]any, string, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, "", nil
	}

	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, "", err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return metadata, raw, nil
}
