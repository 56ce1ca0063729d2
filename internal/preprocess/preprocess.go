package preprocess

import (
	"context"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

// MetadataKey holds the per-step notes of the chain in the document metadata.
const MetadataKey = "preprocess"

// Result is what one step hands to the next.
type Result struct {
	Content  string
	Metadata map[string]any
	Notes    map[string]any
}

// Preprocessor transforms a document before chunking.
type Preprocessor interface {
	Name() string
	Process(ctx context.Context, doc models.Document) (Result, error)
}

type Chain struct {
	steps []Preprocessor
}

func NewChain(steps ...Preprocessor) *Chain {
	return &Chain{steps: steps}
}

func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.steps)
}

// Apply runs every step in order. A failing step is recorded under
// MetadataKey and skipped; the document continues with the previous state.
// Metadata is merged shallowly, later steps win.
func (c *Chain) Apply(ctx context.Context, doc models.Document) models.Document {
	out := models.Document{
		ID:       doc.ID,
		Content:  doc.Content,
		Metadata: maps.Clone(doc.Metadata),
	}
	if c.Len() == 0 {
		return out
	}
	if out.Metadata == nil {
		out.Metadata = make(map[string]any)
	}

	notes := make(map[string]any, len(c.steps))
	for i, step := range c.steps {
		key := fmt.Sprintf("%d:%s", i, step.Name())

		res, err := step.Process(ctx, out)
		if err != nil {
			logger.Warn("Preprocessor failed",
				zap.String("document_id", doc.ID),
				zap.String("step", step.Name()),
				zap.Error(err),
			)
			notes[key] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}

		out.Content = res.Content
		for k, v := range res.Metadata {
			out.Metadata[k] = v
		}

		entry := map[string]any{"status": "ok"}
		if len(res.Notes) > 0 {
			entry["details"] = res.Notes
		}
		notes[key] = entry
	}

	out.Metadata[MetadataKey] = notes
	return out
}
