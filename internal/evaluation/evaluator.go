package evaluation

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

// Querier runs one retrieval query. pipeline.Pipeline satisfies it.
type Querier interface {
	Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error)
}

type Dataset struct {
	TopK  int           `yaml:"top_k" json:"top_k"`
	Model string        `yaml:"model" json:"model"`
	Items []DatasetItem `yaml:"items" json:"items"`
}

type DatasetItem struct {
	Query               string         `yaml:"query" json:"query"`
	RelevantDocumentIDs []string       `yaml:"relevant_document_ids" json:"relevant_document_ids"`
	Filters             map[string]any `yaml:"filters" json:"filters"`
	Category            string         `yaml:"category" json:"category"`
}

type ItemResult struct {
	Query          string        `json:"query"`
	Category       string        `json:"category,omitempty"`
	Labelled       bool          `json:"labelled"`
	Retrieved      []string      `json:"retrieved_document_ids"`
	Rank           int           `json:"rank"`
	Hit            bool          `json:"hit"`
	ReciprocalRank float64       `json:"reciprocal_rank"`
	TopScore       float64       `json:"top_score"`
	NumResults     int           `json:"num_results"`
	Latency        time.Duration `json:"latency_ns"`
	Error          string        `json:"error,omitempty"`
}

type EvaluationReport struct {
	TotalQueries       int           `json:"total_queries"`
	LabelledQueries    int           `json:"labelled_queries"`
	FailedQueries      int           `json:"failed_queries"`
	K                  int           `json:"k"`
	HitRate            float64       `json:"hit_rate"`
	MRR                float64       `json:"mrr"`
	MeanTopScore       float64       `json:"mean_top_score"`
	AvgNumResults      float64       `json:"avg_num_results"`
	NonEmptyContextPct float64       `json:"non_empty_context_pct"`
	AvgLatency         time.Duration `json:"avg_latency_ns"`
	Items              []ItemResult  `json:"items"`
}

type Evaluator struct {
	querier Querier
	topK    int
}

func NewEvaluator(querier Querier, topK int) *Evaluator {
	if topK <= 0 {
		topK = 5
	}
	return &Evaluator{
		querier: querier,
		topK:    topK,
	}
}

// LoadDataset reads a YAML or JSON dataset file.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return ParseDataset(data)
}

func ParseDataset(data []byte) (*Dataset, error) {
	var dataset Dataset
	if err := yaml.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal dataset: %v", models.ErrValidation, err)
	}

	for i, item := range dataset.Items {
		if strings.TrimSpace(item.Query) == "" {
			return nil, fmt.Errorf("%w: dataset item %d has an empty query", models.ErrValidation, i)
		}
	}
	if dataset.TopK < 0 {
		return nil, fmt.Errorf("%w: top_k must be non-negative", models.ErrValidation)
	}

	return &dataset, nil
}

// EvaluateItem runs a single query and scores it against the labelled
// documents. Rank is the 1-based position of the first hit whose document is
// relevant, or 0.
func (e *Evaluator) EvaluateItem(ctx context.Context, item DatasetItem, topK int, model string) ItemResult {
	result := ItemResult{
		Query:    item.Query,
		Category: item.Category,
		Labelled: len(item.RelevantDocumentIDs) > 0,
	}

	started := time.Now()
	res, err := e.querier.Query(ctx, models.QueryRequest{
		Query:   item.Query,
		TopK:    topK,
		Model:   model,
		Filters: item.Filters,
	})
	result.Latency = time.Since(started)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	relevant := make(map[string]struct{}, len(item.RelevantDocumentIDs))
	for _, id := range item.RelevantDocumentIDs {
		relevant[id] = struct{}{}
	}

	result.NumResults = len(res.Context)
	result.TopScore = res.Scores.Retrieval
	for i, hit := range res.Context {
		result.Retrieved = append(result.Retrieved, hit.DocumentID)
		if result.Rank == 0 && i < topK {
			if _, ok := relevant[hit.DocumentID]; ok {
				result.Rank = i + 1
			}
		}
	}
	if result.Rank > 0 {
		result.Hit = true
		result.ReciprocalRank = 1 / float64(result.Rank)
	}

	return result
}

// RunDatasetEvaluation queries every item in order. Hit rate and MRR are
// averaged over labelled items only; failed queries count as misses.
func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, dataset *Dataset) (*EvaluationReport, error) {
	topK := e.topK
	if dataset.TopK > 0 {
		topK = dataset.TopK
	}

	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)), zap.Int("k", topK))

	report := &EvaluationReport{
		TotalQueries: len(dataset.Items),
		K:            topK,
		Items:        make([]ItemResult, 0, len(dataset.Items)),
	}

	var hits int
	var totalRR, totalTop, totalResults float64
	var totalLatency time.Duration
	var nonEmpty, answered int

	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logger.Debug("Evaluating item", zap.Int("index", i+1), zap.Int("total", len(dataset.Items)))

		result := e.EvaluateItem(ctx, item, topK, dataset.Model)
		report.Items = append(report.Items, result)
		totalLatency += result.Latency

		if result.Labelled {
			report.LabelledQueries++
			if result.Hit {
				hits++
			}
			totalRR += result.ReciprocalRank
		}

		if result.Error != "" {
			report.FailedQueries++
			logger.Warn("Evaluation query failed", zap.String("query", item.Query), zap.String("error", result.Error))
			continue
		}

		answered++
		totalTop += result.TopScore
		totalResults += float64(result.NumResults)
		if result.NumResults > 0 {
			nonEmpty++
		}
	}

	if report.LabelledQueries > 0 {
		report.HitRate = float64(hits) / float64(report.LabelledQueries)
		report.MRR = totalRR / float64(report.LabelledQueries)
	}
	if answered > 0 {
		report.MeanTopScore = totalTop / float64(answered)
		report.AvgNumResults = totalResults / float64(answered)
	}
	if report.TotalQueries > 0 {
		report.NonEmptyContextPct = float64(nonEmpty) / float64(report.TotalQueries) * 100
		report.AvgLatency = totalLatency / time.Duration(report.TotalQueries)
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.TotalQueries),
		zap.Int("failed", report.FailedQueries),
		zap.Float64("hit_rate", report.HitRate),
		zap.Float64("mrr", report.MRR),
	)

	return report, nil
}

func (e *Evaluator) GenerateReport(report *EvaluationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, `
Retrieval Evaluation Report
===========================

Total Queries: %d (labelled: %d, failed: %d)

Metrics:
- Hit Rate@%d: %.3f
- MRR: %.3f
- Mean Top Score: %.3f
- Avg Results per Query: %.2f
- Non-empty Context: %.1f%%
- Avg Latency: %s
`,
		report.TotalQueries, report.LabelledQueries, report.FailedQueries,
		report.K, report.HitRate,
		report.MRR,
		report.MeanTopScore,
		report.AvgNumResults,
		report.NonEmptyContextPct,
		report.AvgLatency.Round(time.Millisecond),
	)

	misses := 0
	for _, item := range report.Items {
		if item.Labelled && !item.Hit {
			if misses == 0 {
				b.WriteString("\nMisses:\n")
			}
			misses++
			fmt.Fprintf(&b, "- %s\n", item.Query)
		}
	}

	return b.String()
}
