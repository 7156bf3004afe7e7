package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"emergency-knowledge-service/models"
	"emergency-knowledge-service/services"
)

const (
	TaskIngestDocument = "document:ingest"
)

type IngestDocumentPayload struct {
	JobID       string `json:"job_id"`
	FilePath    string `json:"file_path"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Metadata    string `json:"metadata"`
}

// NewIngestDocumentTask enqueues background ingestion for a stored upload.
// Metadata travels as the caller's raw JSON string.
func NewIngestDocumentTask(jobID, filePath, filename, contentType, metadata string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestDocumentPayload{
		JobID:       jobID,
		FilePath:    filePath,
		Filename:    filename,
		ContentType: contentType,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

// TaskProcessor runs queued ingestion jobs.
type TaskProcessor struct {
	ingestion *services.IngestionService
	extractor *services.TextExtractor
	jobs      *mongo.Collection
}

func NewTaskProcessor(ingestion *services.IngestionService, extractor *services.TextExtractor, db *mongo.Database) *TaskProcessor {
	return &TaskProcessor{
		ingestion: ingestion,
		extractor: extractor,
		jobs:      db.Collection("ingest_jobs"),
	}
}

// ProcessDocument handles one queued ingestion job. Malformed payloads and
// validation errors never retry; transient embedding or store failures
// return a retryable error so asynq schedules another attempt.
func (p *TaskProcessor) ProcessDocument(ctx context.Context, t *asynq.Task) error {
	var payload IngestDocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	log.Printf("Processing ingest job: job=%s file=%s", payload.JobID, payload.Filename)

	p.updateJob(payload.JobID, bson.M{"status": models.JobStatusProcessing})

	content, err := os.ReadFile(payload.FilePath)
	if err != nil {
		p.failJob(payload.JobID, fmt.Sprintf("read stored file: %v", err))
		return fmt.Errorf("read stored file: %w", asynq.SkipRetry)
	}

	metadata := map[string]any{}
	if payload.Metadata != "" {
		if err := json.Unmarshal([]byte(payload.Metadata), &metadata); err != nil {
			metadata = map[string]any{}
		}
	}
	metadata[models.MetaFilename] = payload.Filename
	metadata[models.MetaType] = payload.ContentType
	metadata[models.MetaSize] = len(content)

	results, err := p.ingestion.IngestFile(ctx, p.extractor, content, payload.ContentType, metadata)
	if err != nil {
		p.failJob(payload.JobID, err.Error())

		var validationErr *models.ValidationError
		if errors.As(err, &validationErr) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}

	update := bson.M{
		"status":        models.JobStatusCompleted,
		"chunks_total":  len(results),
		"chunks_failed": failed,
	}
	if failed == len(results) {
		update["status"] = models.JobStatusFailed
		update["error_message"] = "all chunks failed"
	}
	p.updateJob(payload.JobID, update)

	if err := os.Remove(payload.FilePath); err != nil {
		log.Printf("Failed to remove stored file %s: %v", payload.FilePath, err)
	}

	log.Printf("Ingest job done: job=%s chunks=%d failed=%d", payload.JobID, len(results), failed)
	return nil
}

func (p *TaskProcessor) failJob(jobID, message string) {
	p.updateJob(jobID, bson.M{
		"status":        models.JobStatusFailed,
		"error_message": message,
	})
}

func (p *TaskProcessor) updateJob(jobID string, fields bson.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fields["updated_at"] = time.Now()
	_, err := p.jobs.UpdateOne(ctx, bson.M{"_id": jobID}, bson.M{"$set": fields})
	if err != nil {
		log.Printf("Failed to update ingest job %s: %v", jobID, err)
	}
}
