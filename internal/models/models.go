package models

import "time"

// Document is the unit handed in by acquisition. Re-ingesting the same ID
// replaces every chunk previously stored for it.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Chunk is a contiguous byte range of the document content after
// preprocessing.
type Chunk struct {
	ChunkID     string         `json:"chunk_id" db:"chunk_id"`
	DocumentID  string         `json:"document_id" db:"document_id"`
	Content     string         `json:"content" db:"content"`
	Index       int            `json:"chunk_index" db:"chunk_index"`
	StartOffset int            `json:"start_offset" db:"start_offset"`
	EndOffset   int            `json:"end_offset" db:"end_offset"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"-"`
}

// RetrievalHit is one ranked search result. Score is cosine similarity in [-1, 1].
type RetrievalHit struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Index      int            `json:"chunk_index"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type Citation struct {
	ID    string `json:"id"`
	URI   string `json:"uri,omitempty"`
	Title string `json:"title,omitempty"`
}

type Scores struct {
	Retrieval        float64 `json:"retrieval"`
	AnswerConfidence float64 `json:"answer_confidence"`
}

type Decision string

const (
	DecisionRelease   Decision = "release"
	DecisionWithhold  Decision = "withhold"
	DecisionRetrieval Decision = "retrieval"
)

type QueryResult struct {
	QueryID         string         `json:"query_id,omitempty"`
	Query           string         `json:"query"`
	Model           string         `json:"model,omitempty"`
	Answer          string         `json:"answer"`
	Context         []RetrievalHit `json:"context"`
	Sources         []string       `json:"sources"`
	CombinedContext string         `json:"combined_context"`
	Citations       []Citation     `json:"citations"`
	Scores          Scores         `json:"scores"`
	Decision        Decision       `json:"decision"`
	Reason          string         `json:"reason,omitempty"`
	Degraded        bool           `json:"degraded,omitempty"`
	Disclaimers     []string       `json:"disclaimers,omitempty"`
}

type QueryRequest struct {
	Query   string         `json:"query"`
	TopK    int            `json:"top_k,omitempty"`
	Model   string         `json:"model,omitempty"`
	Filters map[string]any `json:"filters,omitempty"`
}

type ModelDescriptor struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Provider     string         `json:"provider" yaml:"provider"`
	Capabilities map[string]any `json:"capabilities" yaml:"capabilities"`
	Default      bool           `json:"default" yaml:"default"`
}

type StoreCount struct {
	Backend         string `json:"backend"`
	TotalChunks     int    `json:"total_chunks"`
	UniqueDocuments int    `json:"unique_documents"`
	Dimension       int    `json:"dimension"`
}

type IngestStats struct {
	DocumentsProcessed int           `json:"documents_processed"`
	DocumentsFailed    int           `json:"documents_failed"`
	ChunksStored       int           `json:"chunks_stored"`
	Errors             []IngestError `json:"errors,omitempty"`
	Elapsed            time.Duration `json:"elapsed_ns"`
}

type IngestError struct {
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
}
