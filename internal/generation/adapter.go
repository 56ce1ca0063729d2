package generation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/thfmn/ttm-rag/internal/models"
)

type Status string

const (
	StatusReady    Status = "ready"
	StatusDegraded Status = "degraded"
)

const (
	fallbackRunes = 800
	noContext     = "No context available."

	SystemPrompt = "You answer questions about Thai traditional medicine using only the provided context. " +
		"Cite the document ids you rely on in square brackets. " +
		"If the context does not contain the answer, say so plainly."
)

type GenerateRequest struct {
	Query           string
	Prompt          string
	Hits            []models.RetrievalHit
	CombinedContext string
	Seed            int64
}

// Generation is always a valid answer. Degraded marks the deterministic
// fallback text produced when the model could not be used.
type Generation struct {
	Text     string
	Degraded bool
	Reason   string
}

type ModelInfo struct {
	models.ModelDescriptor
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Adapter generates text for one catalog model. Runtime failures never leave
// Generate; they come back as degraded output.
type Adapter interface {
	Generate(ctx context.Context, req GenerateRequest) Generation
	ModelInfo() ModelInfo
}

// BuildPrompt renders the user prompt sent to every model.
func BuildPrompt(query, context string) string {
	if strings.TrimSpace(context) == "" {
		context = noContext
	}
	return fmt.Sprintf("Question: %s\n\nContext:\n%s\n\nAnswer:", query, context)
}

// Fallback is the deterministic degraded answer for a model id.
func Fallback(id string, req GenerateRequest) string {
	context := req.CombinedContext
	if strings.TrimSpace(context) == "" {
		parts := make([]string, 0, len(req.Hits))
		for _, h := range req.Hits {
			parts = append(parts, h.Content)
		}
		context = strings.Join(parts, "\n\n")
	}
	if strings.TrimSpace(context) == "" {
		context = noContext
	}
	return fmt.Sprintf("[%s-fallback] %s", id, truncateRunes(context, fallbackRunes))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
