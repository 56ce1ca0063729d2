package preprocess

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thfmn/ttm-rag/internal/models"
)

type failingStep struct{}

func (failingStep) Name() string { return "boom" }
func (failingStep) Process(context.Context, models.Document) (Result, error) {
	return Result{}, errors.New("boom")
}

type upperStep struct{}

func (upperStep) Name() string { return "upper" }
func (upperStep) Process(_ context.Context, doc models.Document) (Result, error) {
	return Result{Content: strings.ToUpper(doc.Content), Metadata: map[string]any{"cased": "upper"}}, nil
}

func TestChainAppliesStepsAndRecordsFailures(t *testing.T) {
	doc := models.Document{ID: "d1", Content: "fa thalai", Metadata: map[string]any{"lang": "th"}}

	out := NewChain(failingStep{}, upperStep{}).Apply(context.Background(), doc)

	assert.Equal(t, "FA THALAI", out.Content)
	assert.Equal(t, "upper", out.Metadata["cased"])
	assert.Equal(t, "th", out.Metadata["lang"])

	notes, ok := out.Metadata[MetadataKey].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "error", notes["0:boom"].(map[string]any)["status"])
	assert.Equal(t, "ok", notes["1:upper"].(map[string]any)["status"])

	// input untouched
	assert.Equal(t, "fa thalai", doc.Content)
	_, leaked := doc.Metadata[MetadataKey]
	assert.False(t, leaked)
}

func TestEmptyChainIsIdentity(t *testing.T) {
	doc := models.Document{ID: "d1", Content: "x"}
	out := NewChain().Apply(context.Background(), doc)
	assert.Equal(t, doc.Content, out.Content)
	assert.Nil(t, out.Metadata)
}

func TestHTMLCleaner(t *testing.T) {
	html := `<html><head><title>ฟ้าทะลายโจร</title><style>p{}</style></head>
<body><nav>menu</nav><h1>Andrographis</h1><p>Used for   colds.</p><script>x()</script><p>Second paragraph.</p></body></html>`

	res, err := HTMLCleaner{}.Process(context.Background(), models.Document{ID: "d", Content: html})
	require.NoError(t, err)

	assert.Equal(t, "Andrographis\n\nUsed for colds.\n\nSecond paragraph.", res.Content)
	assert.Equal(t, "ฟ้าทะลายโจร", res.Metadata["title"])
	assert.NotContains(t, res.Content, "menu")
	assert.NotContains(t, res.Content, "x()")
}

func TestHTMLCleanerKeepsExistingTitle(t *testing.T) {
	res, err := HTMLCleaner{}.Process(context.Background(), models.Document{
		ID:       "d",
		Content:  "<p>text</p>",
		Metadata: map[string]any{"content_type": "html", "title": "Given"},
	})
	require.NoError(t, err)
	_, ok := res.Metadata["title"]
	assert.False(t, ok)
	assert.Equal(t, "text", res.Content)
}

func TestHTMLCleanerSkipsPlainText(t *testing.T) {
	text := "Plain text about herbs. 2 < 3 and 5 > 4."
	res, err := HTMLCleaner{}.Process(context.Background(), models.Document{ID: "d", Content: text})
	require.NoError(t, err)
	assert.Equal(t, text, res.Content)
	assert.Equal(t, true, res.Notes["skipped"])
}

func TestControlCharNormalizerPreservesLength(t *testing.T) {
	in := "a\x00b\x07c\td\ne\x7f"
	res, err := ControlCharNormalizer{}.Process(context.Background(), models.Document{Content: in})
	require.NoError(t, err)
	assert.Equal(t, "a b c\td\ne ", res.Content)
	assert.Equal(t, len(in), len(res.Content))
	assert.Equal(t, 3, res.Notes["replaced"])
}

func TestControlCharNormalizerLeavesInvalidBytes(t *testing.T) {
	in := "ab\xffcd\x01ยา"
	res, err := ControlCharNormalizer{}.Process(context.Background(), models.Document{Content: in})
	require.NoError(t, err)
	assert.Equal(t, "ab\xffcd ยา", res.Content)
	assert.Equal(t, len(in), len(res.Content))
}

func TestPIIRedactor(t *testing.T) {
	in := "Contact herbalist@example.com for samples."
	res, err := PIIRedactor{}.Process(context.Background(), models.Document{Content: in})
	require.NoError(t, err)
	assert.Equal(t, "Contact [REDACTED] for samples.", res.Content)
	assert.Equal(t, true, res.Metadata["pii_redacted"])

	res, err = PIIRedactor{}.Process(context.Background(), models.Document{Content: "nothing here"})
	require.NoError(t, err)
	assert.Equal(t, "nothing here", res.Content)
	assert.Equal(t, false, res.Notes["pii_found"])
}

func TestCollectSpansMergesOverlaps(t *testing.T) {
	spans := collectSpans("id 1234567890123 end")
	require.Len(t, spans, 1)
	assert.Equal(t, "1234567890123", "id 1234567890123 end"[spans[0].start:spans[0].end])
}
