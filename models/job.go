package models

import "time"

// IngestJob tracks a background ingestion of an uploaded file. Jobs exist
// only for files routed through the async path; small uploads are ingested
// inline and never create a job record.
type IngestJob struct {
	ID           string    `bson:"_id" json:"job_id"`
	Filename     string    `bson:"filename" json:"filename"`
	ContentType  string    `bson:"content_type" json:"content_type"`
	Size         int64     `bson:"size" json:"size"`
	FilePath     string    `bson:"file_path" json:"-"`
	Metadata     string    `bson:"metadata,omitempty" json:"-"` // caller metadata, JSON-encoded
	Status       string    `bson:"status" json:"status"`
	ChunksTotal  int       `bson:"chunks_total" json:"chunks_total"`
	ChunksFailed int       `bson:"chunks_failed" json:"chunks_failed"`
	ErrorMessage string    `bson:"error_message,omitempty" json:"error_message,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// Ingest job status constants.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)
