package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/thfmn/ttm-rag/internal/models"
)

// Kind identifies the backend behind a Store. The set is closed; a store is
// chosen once at startup and never swapped.
type Kind int

const (
	KindNative Kind = iota
	KindFallback
	KindMilvus
)

func (k Kind) String() string {
	switch k {
	case KindNative:
		return "pgvector"
	case KindFallback:
		return "sqlite"
	case KindMilvus:
		return "milvus"
	default:
		return "unknown"
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pgvector", "postgres", "native":
		return KindNative, nil
	case "sqlite", "fallback":
		return KindFallback, nil
	case "milvus", "zilliz":
		return KindMilvus, nil
	default:
		return 0, fmt.Errorf("%w: unknown vector backend %q", models.ErrConfiguration, s)
	}
}

// DocumentIDFilter is the reserved filter key matching the document_id column
// instead of chunk metadata.
const DocumentIDFilter = "document_id"

// DocumentIDValue renders a document_id filter value as the id it selects.
// Ids are strings; any other value matches its fmt.Sprint form, so a JSON
// number 5 selects document "5" in every backend.
func DocumentIDValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

type Store interface {
	// Upsert replaces the full chunk set of every document present in chunks.
	Upsert(ctx context.Context, chunks []models.Chunk, embeddings [][]float32) error
	// Search returns at most topK hits ordered by score desc, chunk_id asc.
	Search(ctx context.Context, query []float32, topK int, filters map[string]any) ([]models.RetrievalHit, error)
	// Delete removes every chunk of a document and reports how many were removed.
	Delete(ctx context.Context, documentID string) (int, error)
	Count(ctx context.Context) (models.StoreCount, error)
	Dimension() int
	Kind() Kind
	Close() error
}

// ValidateSearch checks the arguments every backend receives in Search.
func ValidateSearch(query []float32, topK, maxTopK, dimension int) error {
	if topK < 1 || topK > maxTopK {
		return fmt.Errorf("%w: top_k must be between 1 and %d, got %d", models.ErrValidation, maxTopK, topK)
	}
	if len(query) != dimension {
		return fmt.Errorf("%w: query dimension %d does not match store dimension %d",
			models.ErrConfiguration, len(query), dimension)
	}
	return nil
}

// ValidateUpsert checks chunk/embedding pairing and dimensions.
func ValidateUpsert(chunks []models.Chunk, embeddings [][]float32, dimension int) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("%w: %d chunks but %d embeddings", models.ErrValidation, len(chunks), len(embeddings))
	}
	for i, emb := range embeddings {
		if len(emb) != dimension {
			return fmt.Errorf("%w: embedding for chunk %s has dimension %d, store expects %d",
				models.ErrConfiguration, chunks[i].ChunkID, len(emb), dimension)
		}
		if chunks[i].DocumentID == "" || chunks[i].ChunkID == "" {
			return fmt.Errorf("%w: chunk %d is missing its ids", models.ErrValidation, i)
		}
	}
	return nil
}

// GroupByDocument splits chunks into per-document sets, keeping first-seen order.
func GroupByDocument(chunks []models.Chunk, embeddings [][]float32) []DocumentBatch {
	index := make(map[string]int)
	var batches []DocumentBatch
	for i, c := range chunks {
		j, ok := index[c.DocumentID]
		if !ok {
			j = len(batches)
			index[c.DocumentID] = j
			batches = append(batches, DocumentBatch{DocumentID: c.DocumentID})
		}
		batches[j].Chunks = append(batches[j].Chunks, c)
		batches[j].Embeddings = append(batches[j].Embeddings, embeddings[i])
	}
	return batches
}

type DocumentBatch struct {
	DocumentID string
	Chunks     []models.Chunk
	Embeddings [][]float32
}
