package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/chunker"
	"github.com/thfmn/ttm-rag/internal/metrics"
	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/internal/preprocess"
	"github.com/thfmn/ttm-rag/internal/vector"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

// Embedder is the part of embedding.Embedder ingestion depends on.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

type Config struct {
	// BatchSize is the number of chunks handed to the embedder per call.
	BatchSize int
}

type Processor struct {
	chunker   *chunker.Chunker
	embedder  Embedder
	store     vector.Store
	chain     *preprocess.Chain
	batchSize int
}

func NewProcessor(ch *chunker.Chunker, embedder Embedder, store vector.Store, chain *preprocess.Chain, cfg Config) (*Processor, error) {
	if ch == nil || store == nil {
		return nil, fmt.Errorf("%w: ingestion needs a chunker and a vector store", models.ErrConfiguration)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: ingestion needs an embedder", models.ErrEmbedderUnavailable)
	}
	if embedder.Dimension() != store.Dimension() {
		return nil, fmt.Errorf("%w: embedder dimension %d does not match store dimension %d",
			models.ErrConfiguration, embedder.Dimension(), store.Dimension())
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if chain == nil {
		chain = preprocess.NewChain()
	}

	return &Processor{
		chunker:   ch,
		embedder:  embedder,
		store:     store,
		chain:     chain,
		batchSize: cfg.BatchSize,
	}, nil
}

// Ingest replaces the stored chunks of doc and returns how many were
// written. Nothing is written unless every chunk was embedded.
func (p *Processor) Ingest(ctx context.Context, doc models.Document) (int, error) {
	if err := doc.Validate(); err != nil {
		return 0, err
	}

	logger.Info("Processing document", zap.String("document_id", doc.ID), zap.Int("bytes", len(doc.Content)))

	processed := p.chain.Apply(ctx, doc)

	chunks := p.chunker.Chunk(processed)
	if len(chunks) == 0 {
		metrics.DocumentsIngested.WithLabelValues("failed").Inc()
		return 0, fmt.Errorf("%w: document %s has no content after preprocessing", models.ErrValidation, doc.ID)
	}
	logger.Debug("Document chunked", zap.String("document_id", doc.ID), zap.Int("chunks", len(chunks)))

	embeddings, err := p.embedChunks(ctx, chunks)
	if err != nil {
		metrics.DocumentsIngested.WithLabelValues("failed").Inc()
		return 0, fmt.Errorf("failed to embed document %s: %w", doc.ID, err)
	}

	if err := p.store.Upsert(ctx, chunks, embeddings); err != nil {
		metrics.DocumentsIngested.WithLabelValues("failed").Inc()
		return 0, fmt.Errorf("failed to store document %s: %w", doc.ID, err)
	}

	metrics.DocumentsIngested.WithLabelValues("ok").Inc()
	metrics.ChunksWritten.Add(float64(len(chunks)))

	logger.Info("Document processed successfully",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(chunks)),
	)

	return len(chunks), nil
}

func (p *Processor) embedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(chunks))

	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, end-start)
		for i, c := range chunks[start:end] {
			texts[i] = c.Content
		}

		batch, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("%w: embedding count mismatch: got %d, expected %d",
				models.ErrEmbedderUnavailable, len(batch), len(texts))
		}
		embeddings = append(embeddings, batch...)
	}

	return embeddings, nil
}

// IngestBatch ingests docs one after another and collects per-document
// failures. It stops early only when ctx is done.
func (p *Processor) IngestBatch(ctx context.Context, docs []models.Document) (models.IngestStats, error) {
	started := time.Now()
	var stats models.IngestStats

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			stats.Elapsed = time.Since(started)
			if errors.Is(err, context.DeadlineExceeded) {
				return stats, fmt.Errorf("%w: batch ingestion stopped: %v", models.ErrTimeout, err)
			}
			return stats, err
		}

		n, err := p.Ingest(ctx, doc)
		if err != nil {
			stats.DocumentsFailed++
			stats.Errors = append(stats.Errors, models.IngestError{DocumentID: doc.ID, Error: err.Error()})
			logger.Warn("Document ingestion failed", zap.String("document_id", doc.ID), zap.Error(err))
			continue
		}
		stats.DocumentsProcessed++
		stats.ChunksStored += n
	}

	stats.Elapsed = time.Since(started)

	logger.Info("Batch ingestion completed",
		zap.Int("processed", stats.DocumentsProcessed),
		zap.Int("failed", stats.DocumentsFailed),
		zap.Int("chunks", stats.ChunksStored),
		zap.Duration("elapsed", stats.Elapsed),
	)

	return stats, nil
}

// Delete removes every chunk of a document.
func (p *Processor) Delete(ctx context.Context, documentID string) (int, error) {
	if documentID == "" {
		return 0, fmt.Errorf("%w: document id is required", models.ErrValidation)
	}

	n, err := p.store.Delete(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}

	logger.Info("Document deleted", zap.String("document_id", documentID), zap.Int("chunks", n))
	return n, nil
}
