package models

import "time"

// Passage is the unit of storage and retrieval: one bounded span of a
// document's text together with its embedding and metadata. Passages are
// immutable once stored; the only mutation is deletion by ID.
type Passage struct {
	ID         string         `json:"id,omitempty"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Similarity float64        `json:"similarity,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
}

// Document is the ingestion input. It is never persisted as a single row;
// it decomposes into 1..N passages that share the caller metadata plus
// per-chunk chunkIndex/totalChunks fields.
type Document struct {
	Content  string
	Metadata map[string]any
}

// ChunkResult reports the outcome of ingesting a single chunk. Exactly one
// of PassageID / Err is set. Results are ordered by ChunkIndex regardless of
// processing order.
type ChunkResult struct {
	ChunkIndex int    `json:"chunk_index"`
	PassageID  string `json:"passage_id,omitempty"`
	Err        error  `json:"-"`
}

// ChunkError exposes the per-chunk error as text for API responses.
func (r ChunkResult) ChunkError() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Metadata keys injected by the ingestion pipeline.
const (
	MetaChunkIndex  = "chunkIndex"
	MetaTotalChunks = "totalChunks"
	MetaTitle       = "title"
	MetaFilename    = "filename"
	MetaType        = "type"
	MetaSize        = "size"
	MetaUploadedAt  = "uploadedAt"
)
