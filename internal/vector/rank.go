package vector

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"

	"github.com/thfmn/ttm-rag/internal/models"
)

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero vector.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SortHits orders hits by score desc with chunk_id asc breaking exact ties.
func SortHits(hits []models.RetrievalHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

// Candidate is a stored row considered by in-process ranking.
type Candidate struct {
	Hit       models.RetrievalHit
	Embedding []float32
}

// Rank scores every candidate against query and returns the best topK.
func Rank(query []float32, candidates []Candidate, topK int) []models.RetrievalHit {
	hits := make([]models.RetrievalHit, 0, len(candidates))
	for _, c := range candidates {
		hit := c.Hit
		hit.Score = Cosine(query, c.Embedding)
		hits = append(hits, hit)
	}
	SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// MatchFilters reports whether a chunk satisfies every filter. Values are
// compared after a JSON round trip so 3 and 3.0 are equal, as in a jsonb
// comparison.
func MatchFilters(documentID string, metadata map[string]any, filters map[string]any) bool {
	for key, want := range filters {
		if key == DocumentIDFilter {
			if DocumentIDValue(want) != documentID {
				return false
			}
			continue
		}
		got, ok := metadata[key]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(normalizeJSON(got), normalizeJSON(want)) {
			return false
		}
	}
	return true
}

func normalizeJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
