package query

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/audit"
	"github.com/thfmn/ttm-rag/internal/generation"
	"github.com/thfmn/ttm-rag/internal/metrics"
	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/internal/policy"
	"github.com/thfmn/ttm-rag/internal/vector"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

const (
	contextSeparator = "\n\n"
	// degradedConfidenceCap bounds answer confidence when the model fell back.
	degradedConfidenceCap = 0.5
)

// Embedder is the part of embedding.Embedder queries depend on.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	TopK            int
	SimilarityFloor float64
	MaxContextChars int
}

type Engine struct {
	embedder Embedder
	store    vector.Store
	registry *generation.Registry
	gate     *policy.Gate
	cfg      Config
}

func NewEngine(embedder Embedder, store vector.Store, registry *generation.Registry, gate *policy.Gate, cfg Config) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: query engine needs an embedder", models.ErrEmbedderUnavailable)
	}
	if store == nil || gate == nil {
		return nil, fmt.Errorf("%w: query engine needs a vector store and a policy gate", models.ErrConfiguration)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 4000
	}

	return &Engine{
		embedder: embedder,
		store:    store,
		registry: registry,
		gate:     gate,
		cfg:      cfg,
	}, nil
}

// Config returns the effective retrieval settings.
func (e *Engine) Config() Config {
	return e.cfg
}

// Query retrieves context for req and, when req.Model is set, generates an
// answer that is released only if the policy gate allows it. An unknown
// model fails before any embedding or search work.
func (e *Engine) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	// The seed is derived from the request as received so it matches the
	// audit record's input hash.
	seed, err := audit.InputSeed(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request is not JSON encodable: %v", models.ErrValidation, err)
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query is required", models.ErrValidation)
	}
	if req.TopK < 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", models.ErrValidation, req.TopK)
	}
	if req.TopK == 0 {
		req.TopK = e.cfg.TopK
	}

	modelID, err := e.resolveModel(req)
	if err != nil {
		return nil, err
	}

	queryID := uuid.New().String()
	logger.Info("Processing query",
		zap.String("query_id", queryID),
		zap.Int("top_k", req.TopK),
		zap.String("model", modelID),
	)

	embedding, err := e.embedder.EmbedOne(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := e.store.Search(ctx, embedding, req.TopK, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector store: %w", err)
	}

	hits = e.applyFloor(hits)
	metrics.RetrievalHits.Observe(float64(len(hits)))

	result := &models.QueryResult{
		QueryID:         queryID,
		Query:           req.Query,
		Model:           modelID,
		Context:         hits,
		Sources:         sources(hits),
		CombinedContext: combineContext(hits, e.cfg.MaxContextChars),
		Citations:       citations(hits),
		Decision:        models.DecisionRetrieval,
	}
	if len(hits) > 0 {
		result.Scores.Retrieval = hits[0].Score
	}
	confidence := meanScore(hits)

	if modelID == "" {
		result.Scores.AnswerConfidence = confidence
		logger.Info("Query answered in retrieval mode",
			zap.String("query_id", queryID),
			zap.Int("hits", len(hits)),
		)
		return result, nil
	}

	if len(hits) == 0 {
		result.Decision = models.DecisionWithhold
		result.Reason = "no relevant context was retrieved"
		metrics.PolicyDecisions.WithLabelValues(string(result.Decision)).Inc()
		return result, nil
	}

	adapter, err := e.registry.Get(ctx, modelID)
	if err != nil {
		return nil, err
	}

	gen := adapter.Generate(ctx, generation.GenerateRequest{
		Query:           req.Query,
		Prompt:          generation.BuildPrompt(req.Query, result.CombinedContext),
		Hits:            hits,
		CombinedContext: result.CombinedContext,
		Seed:            seed,
	})

	if gen.Degraded {
		result.Degraded = true
		confidence = math.Min(confidence, degradedConfidenceCap)
	}
	result.Scores.AnswerConfidence = confidence
	metrics.ConfidenceScore.Observe(confidence)

	decision := e.gate.Evaluate(gen.Text, result.Citations, result.Scores.Retrieval, confidence)
	result.Decision = decision.Outcome
	result.Reason = decision.Reason
	metrics.PolicyDecisions.WithLabelValues(string(decision.Outcome)).Inc()

	if decision.Released() {
		result.Answer = gen.Text
		result.Disclaimers = policy.Adjudicate(gen.Text, len(result.Citations))
	} else if gen.Degraded && gen.Reason != "" {
		result.Reason = decision.Reason + "; " + gen.Reason
	}

	logger.Info("Query processed successfully",
		zap.String("query_id", queryID),
		zap.String("decision", string(result.Decision)),
		zap.Bool("degraded", result.Degraded),
		zap.Float64("confidence", confidence),
		zap.Int("citations", len(result.Citations)),
	)

	return result, nil
}

func (e *Engine) resolveModel(req models.QueryRequest) (string, error) {
	if req.Model == "" {
		return "", nil
	}
	if e.registry == nil {
		return "", fmt.Errorf("%w: no models are configured", models.ErrAdapterLookup)
	}
	return e.registry.Resolve(req.Model, generation.Constraints{Language: detectLanguage(req.Query)})
}

func (e *Engine) applyFloor(hits []models.RetrievalHit) []models.RetrievalHit {
	kept := make([]models.RetrievalHit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= e.cfg.SimilarityFloor {
			kept = append(kept, h)
		}
	}
	return kept
}

// combineContext joins hit contents in rank order up to limit runes. The
// first hit that does not fit is truncated and later hits are dropped.
func combineContext(hits []models.RetrievalHit, limit int) string {
	var b strings.Builder
	remaining := limit

	for i, h := range hits {
		if i > 0 {
			if remaining <= len(contextSeparator) {
				break
			}
			b.WriteString(contextSeparator)
			remaining -= len(contextSeparator)
		}

		n := utf8.RuneCountInString(h.Content)
		if n <= remaining {
			b.WriteString(h.Content)
			remaining -= n
			continue
		}

		b.WriteString(truncateRunes(h.Content, remaining))
		break
	}

	return b.String()
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func sources(hits []models.RetrievalHit) []string {
	seen := make(map[string]bool, len(hits))
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if seen[h.DocumentID] {
			continue
		}
		seen[h.DocumentID] = true
		out = append(out, h.DocumentID)
	}
	return out
}

func citations(hits []models.RetrievalHit) []models.Citation {
	seen := make(map[string]bool, len(hits))
	out := make([]models.Citation, 0, len(hits))
	for _, h := range hits {
		if seen[h.DocumentID] {
			continue
		}
		seen[h.DocumentID] = true
		out = append(out, models.Citation{
			ID:    h.DocumentID,
			URI:   firstString(h.Metadata, "uri", "url", "source"),
			Title: firstString(h.Metadata, "title"),
		})
	}
	return out
}

func firstString(meta map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := meta[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func meanScore(hits []models.RetrievalHit) float64 {
	if len(hits) == 0 {
		return 0
	}
	var sum float64
	for _, h := range hits {
		sum += h.Score
	}
	return math.Max(0, math.Min(1, sum/float64(len(hits))))
}

func detectLanguage(text string) string {
	var thai, latin bool
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Thai, r):
			thai = true
		case unicode.Is(unicode.Latin, r):
			latin = true
		}
	}
	switch {
	case thai && latin:
		return "mixed"
	case thai:
		return "th"
	default:
		return "en"
	}
}
