package preprocess

import (
	"context"

	"github.com/thfmn/ttm-rag/internal/models"
)

// ControlCharNormalizer replaces ASCII control bytes other than tab, newline
// and carriage return with spaces. It works byte by byte, so the content
// length and every byte offset are unchanged.
type ControlCharNormalizer struct{}

func (ControlCharNormalizer) Name() string { return "normalize" }

func (ControlCharNormalizer) Process(_ context.Context, doc models.Document) (Result, error) {
	buf := []byte(doc.Content)
	replaced := 0
	for i, b := range buf {
		if (b < 0x20 && b != '\t' && b != '\n' && b != '\r') || b == 0x7f {
			buf[i] = ' '
			replaced++
		}
	}

	return Result{
		Content: string(buf),
		Notes:   map[string]any{"replaced": replaced},
	}, nil
}
