package handlers

import (
	"context"

	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/internal/pipeline"
)

// RAGService is the part of pipeline.Pipeline the HTTP layer uses.
type RAGService interface {
	Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error)
	Ingest(ctx context.Context, doc models.Document) (int, error)
	IngestBatch(ctx context.Context, docs []models.Document) (models.IngestStats, error)
	Delete(ctx context.Context, documentID string) (int, error)
	Models() []models.ModelDescriptor
	ValidateModel(id string) error
	Stats(ctx context.Context) (*pipeline.Stats, error)
}

var _ RAGService = (*pipeline.Pipeline)(nil)
