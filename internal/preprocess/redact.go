package preprocess

import (
	"context"
	"regexp"
	"sort"

	"github.com/thfmn/ttm-rag/internal/models"
)

const redactedToken = "[REDACTED]"

var piiPatterns = []struct {
	label   string
	pattern *regexp.Regexp
}{
	{"EMAIL", regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"PHONE", regexp.MustCompile(`\b(?:\+?\d{1,3}[-.\s]?)?(?:\(?\d{2,4}\)?[-.\s]?)?\d{3,4}[-.\s]?\d{3,4}\b`)},
	{"ID", regexp.MustCompile(`\b\d{10,}\b`)},
}

type span struct {
	start, end int
	label      string
}

// PIIRedactor masks e-mail addresses, phone numbers and long digit runs.
type PIIRedactor struct{}

func (PIIRedactor) Name() string { return "pdpa" }

func (PIIRedactor) Process(_ context.Context, doc models.Document) (Result, error) {
	spans := collectSpans(doc.Content)
	if len(spans) == 0 {
		return Result{Content: doc.Content, Notes: map[string]any{"pii_found": false}}, nil
	}

	counts := make(map[string]int)
	out := make([]byte, 0, len(doc.Content))
	cursor := 0
	for _, s := range spans {
		out = append(out, doc.Content[cursor:s.start]...)
		out = append(out, redactedToken...)
		cursor = s.end
		counts[s.label]++
	}
	out = append(out, doc.Content[cursor:]...)

	return Result{
		Content: string(out),
		Metadata: map[string]any{
			"pii_redacted": true,
		},
		Notes: map[string]any{
			"pii_found": true,
			"counts":    counts,
		},
	}, nil
}

func collectSpans(text string) []span {
	var spans []span
	for _, p := range piiPatterns {
		for _, loc := range p.pattern.FindAllStringIndex(text, -1) {
			spans = append(spans, span{start: loc[0], end: loc[1], label: p.label})
		}
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end < spans[j].end
	})

	var merged []span
	for _, s := range spans {
		if n := len(merged); n > 0 && s.start <= merged[n-1].end {
			if s.end > merged[n-1].end {
				merged[n-1].end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}
