package preprocess

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/thfmn/ttm-rag/internal/models"
)

var (
	htmlTagPattern = regexp.MustCompile(`(?i)<\s*(html|body|div|p|head|article|section|br|span|h[1-6])[\s>/]`)
	spacePattern   = regexp.MustCompile(`[ \t]+`)
	blankLines     = regexp.MustCompile(`\n{3,}`)
)

// HTMLCleaner turns HTML content into plain text. Documents that are not
// HTML pass through untouched.
type HTMLCleaner struct{}

func (HTMLCleaner) Name() string { return "html" }

func (HTMLCleaner) Process(_ context.Context, doc models.Document) (Result, error) {
	if !isHTML(doc) {
		return Result{Content: doc.Content, Notes: map[string]any{"skipped": true}}, nil
	}

	page, err := goquery.NewDocumentFromReader(strings.NewReader(doc.Content))
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse html: %w", err)
	}

	title := extractTitle(page)

	page.Find("script, style, nav, footer, header, aside, noscript").Remove()
	page.Find("br").ReplaceWithHtml("\n")
	page.Find("p, div, li, h1, h2, h3, h4, h5, h6, tr, section, article").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n\n")
	})

	body := page.Find("body")
	if body.Length() == 0 {
		body = page.Selection
	}
	text := cleanText(body.Text())

	meta := map[string]any{"content_type": "text"}
	if title != "" {
		if _, ok := doc.Metadata["title"]; !ok {
			meta["title"] = title
		}
	}

	return Result{
		Content:  text,
		Metadata: meta,
		Notes: map[string]any{
			"input_bytes":  len(doc.Content),
			"output_bytes": len(text),
		},
	}, nil
}

func isHTML(doc models.Document) bool {
	if ct, ok := doc.Metadata["content_type"].(string); ok {
		ct = strings.ToLower(ct)
		return ct == "html" || ct == "text/html"
	}
	return htmlTagPattern.MatchString(doc.Content)
}

func extractTitle(page *goquery.Document) string {
	title := strings.TrimSpace(page.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(page.Find("h1").First().Text())
	}
	return title
}

func cleanText(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spacePattern.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
