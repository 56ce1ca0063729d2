package vector

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thfmn/ttm-rag/internal/models"
)

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"pgvector": KindNative,
		"Postgres": KindNative,
		"sqlite":   KindFallback,
		"milvus":   KindMilvus,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseKind("faiss")
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func TestValidateSearch(t *testing.T) {
	q := []float32{1, 0, 0}

	assert.NoError(t, ValidateSearch(q, 5, 100, 3))
	assert.True(t, errors.Is(ValidateSearch(q, 0, 100, 3), models.ErrValidation))
	assert.True(t, errors.Is(ValidateSearch(q, 101, 100, 3), models.ErrValidation))
	assert.True(t, errors.Is(ValidateSearch(q, 5, 100, 4), models.ErrConfiguration))
}

func TestValidateUpsert(t *testing.T) {
	chunks := []models.Chunk{{ChunkID: "d_0_x", DocumentID: "d"}}

	assert.NoError(t, ValidateUpsert(chunks, [][]float32{{1, 2}}, 2))
	assert.True(t, errors.Is(ValidateUpsert(chunks, nil, 2), models.ErrValidation))
	assert.True(t, errors.Is(ValidateUpsert(chunks, [][]float32{{1}}, 2), models.ErrConfiguration))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 1}, []float32{2, 2}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))
}

func TestRankBreaksTiesByChunkID(t *testing.T) {
	candidates := []Candidate{
		{Hit: models.RetrievalHit{ChunkID: "c"}, Embedding: []float32{1, 0}},
		{Hit: models.RetrievalHit{ChunkID: "a"}, Embedding: []float32{1, 0}},
		{Hit: models.RetrievalHit{ChunkID: "b"}, Embedding: []float32{0, 1}},
		{Hit: models.RetrievalHit{ChunkID: "d"}, Embedding: []float32{2, 0}},
	}

	hits := Rank([]float32{1, 0}, candidates, 3)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"a", "c", "d"}, []string{hits[0].ChunkID, hits[1].ChunkID, hits[2].ChunkID})
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestMatchFilters(t *testing.T) {
	meta := map[string]any{"category": "herb", "year": 2020, "tags": []any{"a", "b"}}

	tests := []struct {
		name    string
		filters map[string]any
		want    bool
	}{
		{"no filters", nil, true},
		{"single match", map[string]any{"category": "herb"}, true},
		{"numeric json equality", map[string]any{"year": 2020.0}, true},
		{"conjunction fails", map[string]any{"category": "herb", "year": 2021}, false},
		{"unknown key", map[string]any{"language": "th"}, false},
		{"array value", map[string]any{"tags": []string{"a", "b"}}, true},
		{"document id column", map[string]any{DocumentIDFilter: "doc-1"}, true},
		{"document id mismatch", map[string]any{DocumentIDFilter: "doc-2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchFilters("doc-1", meta, tt.filters))
		})
	}
}

func TestNumericDocumentIDFilter(t *testing.T) {
	assert.True(t, MatchFilters("5", nil, map[string]any{DocumentIDFilter: 5}))
	assert.True(t, MatchFilters("5", nil, map[string]any{DocumentIDFilter: 5.0}))
	assert.False(t, MatchFilters("6", nil, map[string]any{DocumentIDFilter: 5}))
	assert.Equal(t, "5", DocumentIDValue(5.0))
	assert.Equal(t, "doc-1", DocumentIDValue("doc-1"))
}

func TestGroupByDocument(t *testing.T) {
	chunks := []models.Chunk{
		{ChunkID: "b_0", DocumentID: "b"},
		{ChunkID: "a_0", DocumentID: "a"},
		{ChunkID: "b_1", DocumentID: "b"},
	}
	embs := [][]float32{{1}, {2}, {3}}

	batches := GroupByDocument(chunks, embs)
	require.Len(t, batches, 2)
	assert.Equal(t, "b", batches[0].DocumentID)
	assert.Equal(t, [][]float32{{1}, {3}}, batches[0].Embeddings)
	assert.Equal(t, "a", batches[1].DocumentID)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("doc")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, km.size())
}
