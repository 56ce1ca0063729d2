package policy

import (
	"fmt"

	"github.com/thfmn/ttm-rag/internal/models"
)

const (
	DefaultMinCitations = 3
	DefaultThreshold    = 0.6
)

// Decision is the outcome of a gate evaluation. Reason is empty on release.
type Decision struct {
	Outcome models.Decision `json:"outcome"`
	Reason  string          `json:"reason,omitempty"`
}

func (d Decision) Released() bool {
	return d.Outcome == models.DecisionRelease
}

// Gate releases generated prose only when it is backed by enough distinct
// citations and the answer confidence reaches the threshold.
type Gate struct {
	minCitations int
	threshold    float64
}

func NewGate(minCitations int, threshold float64) (*Gate, error) {
	if minCitations < 0 {
		return nil, fmt.Errorf("%w: min citations must be non-negative, got %d", models.ErrConfiguration, minCitations)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: confidence threshold must be in [0, 1], got %v", models.ErrConfiguration, threshold)
	}
	return &Gate{minCitations: minCitations, threshold: threshold}, nil
}

func (g *Gate) MinCitations() int { return g.minCitations }
func (g *Gate) Threshold() float64 { return g.threshold }

// Evaluate decides whether draft may be released. retrievalScore is carried
// for the audit trail only; the decision depends on citations and confidence.
func (g *Gate) Evaluate(draft string, citations []models.Citation, retrievalScore, confidence float64) Decision {
	if draft == "" {
		return Decision{Outcome: models.DecisionWithhold, Reason: "no answer was generated"}
	}
	if len(citations) < g.minCitations {
		return Decision{
			Outcome: models.DecisionWithhold,
			Reason:  fmt.Sprintf("insufficient citations: %d of %d required", len(citations), g.minCitations),
		}
	}
	if confidence < g.threshold {
		return Decision{
			Outcome: models.DecisionWithhold,
			Reason:  fmt.Sprintf("answer confidence %.3f is below threshold %.3f", confidence, g.threshold),
		}
	}
	return Decision{Outcome: models.DecisionRelease}
}
