package pipeline

import (
	"context"
	"fmt"

	"github.com/thfmn/ttm-rag/internal/generation"
	"github.com/thfmn/ttm-rag/internal/models"
)

type Stats struct {
	Store     models.StoreCount      `json:"store"`
	Embedding EmbeddingStats         `json:"embedding"`
	Chunker   ChunkerStats           `json:"chunker"`
	Retrieval RetrievalStats         `json:"retrieval"`
	Policy    PolicyStats            `json:"policy"`
	Models    []generation.ModelInfo `json:"models"`
	Default   string                 `json:"default_model,omitempty"`
}

type EmbeddingStats struct {
	Backend   string `json:"backend"`
	Dimension int    `json:"dimension"`
	BatchSize int    `json:"batch_size"`
}

type ChunkerStats struct {
	ChunkSize    int `json:"chunk_size"`
	Overlap      int `json:"overlap"`
	MinChunkSize int `json:"min_chunk_size"`
}

type RetrievalStats struct {
	TopK            int     `json:"top_k"`
	SimilarityFloor float64 `json:"similarity_floor"`
	MaxContextChars int     `json:"max_context_chars"`
}

type PolicyStats struct {
	MinCitations int     `json:"min_citations"`
	Threshold    float64 `json:"threshold"`
}

// Stats reports store counts and the effective configuration. Models lists
// only adapters that have been built so far.
func (p *Pipeline) Stats(ctx context.Context) (*Stats, error) {
	count, err := p.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count store: %w", err)
	}

	qcfg := p.engine.Config()
	stats := &Stats{
		Store: count,
		Chunker: ChunkerStats{
			ChunkSize:    p.chunker.ChunkSize,
			Overlap:      p.chunker.Overlap,
			MinChunkSize: p.chunker.MinChunkSize,
		},
		Retrieval: RetrievalStats{
			TopK:            qcfg.TopK,
			SimilarityFloor: qcfg.SimilarityFloor,
			MaxContextChars: qcfg.MaxContextChars,
		},
		Models: []generation.ModelInfo{},
	}

	if p.embedder != nil {
		stats.Embedding = EmbeddingStats{
			Backend:   p.embedder.BackendName(),
			Dimension: p.embedder.Dimension(),
			BatchSize: p.embedder.BatchSize(),
		}
	}
	if p.gate != nil {
		stats.Policy = PolicyStats{MinCitations: p.gate.MinCitations(), Threshold: p.gate.Threshold()}
	}
	if p.registry != nil {
		stats.Models = p.registry.Loaded()
		stats.Default = p.registry.Default().ID
	}

	return stats, nil
}
