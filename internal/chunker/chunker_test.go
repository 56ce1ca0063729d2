package chunker

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thfmn/ttm-rag/internal/models"
)

func newChunker(t *testing.T, cfg Config) *Chunker {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

// reconstruct concatenates chunks in index order with overlap removed.
func reconstruct(chunks []models.Chunk) string {
	var b strings.Builder
	prevEnd := 0
	for _, c := range chunks {
		skip := prevEnd - c.StartOffset
		if skip < 0 {
			skip = 0
		}
		b.WriteString(c.Content[skip:])
		prevEnd = c.EndOffset
	}
	return b.String()
}

const herbalText = `Ya Hom Thep Pa Jit is a fragrant remedy made from flowers and spices. It is traditionally used for dizziness and fainting.

Prasaplai is a classical formula for menstrual pain! Practitioners prepare it as a powder or a capsule. Does it interact with anticoagulants? Consult a qualified practitioner.
ยาหอมเทพจิตร ใช้แก้ลมวิงเวียน หน้ามืด ตาลาย ใจสั่น ยาประสะไพล ใช้บรรเทาอาการปวดประจำเดือน ฟ้าทะลายโจร ใช้บรรเทาอาการเจ็บคอ`

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero size", Config{ChunkSize: 0}},
		{"negative overlap", Config{ChunkSize: 100, Overlap: -1}},
		{"overlap equals size", Config{ChunkSize: 100, Overlap: 100}},
		{"overlap exceeds size", Config{ChunkSize: 50, Overlap: 80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrConfiguration))
		})
	}
}

func TestChunkEmptyContent(t *testing.T) {
	c := newChunker(t, DefaultConfig())
	assert.Empty(t, c.Chunk(models.Document{ID: "d1"}))
}

func TestChunkShortContentIsSingleChunk(t *testing.T) {
	c := newChunker(t, DefaultConfig())
	doc := models.Document{ID: "d1", Content: "ฟ้าทะลายโจร ใช้บรรเทาอาการเจ็บคอ", Metadata: map[string]any{"title": "Andrographis"}}

	chunks := c.Chunk(doc)
	require.Len(t, chunks, 1)
	assert.Equal(t, doc.Content, chunks[0].Content)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, len(doc.Content), chunks[0].EndOffset)
	assert.Equal(t, "Andrographis", chunks[0].Metadata["title"])
	assert.Equal(t, ChunkID("d1", 0, doc.Content), chunks[0].ChunkID)
}

func TestChunkCoverageAndSizeBound(t *testing.T) {
	configs := []Config{
		{ChunkSize: 60, Overlap: 10, MinChunkSize: 20, UseSegmenter: true},
		{ChunkSize: 60, Overlap: 0, UseSegmenter: false},
		{ChunkSize: 100, Overlap: 30, MinChunkSize: 40, UseSegmenter: false},
		{ChunkSize: 17, Overlap: 5, UseSegmenter: true},
	}

	for _, cfg := range configs {
		c := newChunker(t, cfg)
		doc := models.Document{ID: "ttm-001", Content: herbalText}
		chunks := c.Chunk(doc)

		require.NotEmpty(t, chunks)
		assert.Equal(t, herbalText, reconstruct(chunks), "config %+v", cfg)

		prevStart, prevEnd := -1, 0
		for i, ch := range chunks {
			assert.Equal(t, i, ch.Index)
			assert.Greater(t, ch.EndOffset, ch.StartOffset)
			assert.Equal(t, herbalText[ch.StartOffset:ch.EndOffset], ch.Content)
			assert.LessOrEqual(t, utf8.RuneCountInString(ch.Content), cfg.ChunkSize)
			assert.Greater(t, ch.StartOffset, prevStart)
			assert.LessOrEqual(t, ch.StartOffset, prevEnd)
			if i > 0 {
				overlap := utf8.RuneCountInString(herbalText[ch.StartOffset:prevEnd])
				assert.LessOrEqual(t, overlap, cfg.Overlap)
			}
			assert.True(t, utf8.ValidString(ch.Content))
			prevStart, prevEnd = ch.StartOffset, ch.EndOffset
		}
		assert.Equal(t, len(herbalText), chunks[len(chunks)-1].EndOffset)
	}
}

func TestChunkPrefersSentenceBoundaries(t *testing.T) {
	c := newChunker(t, Config{ChunkSize: 50, Overlap: 0})
	text := strings.Repeat("This is a sentence. ", 10)

	chunks := c.Chunk(models.Document{ID: "d", Content: text})
	require.Len(t, chunks, 5)
	for _, ch := range chunks {
		assert.True(t, strings.HasSuffix(ch.Content, ". "), "chunk %q", ch.Content)
		assert.Equal(t, 40, len(ch.Content))
	}
}

func TestChunkHardCutsOversizedSentence(t *testing.T) {
	c := newChunker(t, Config{ChunkSize: 100, Overlap: 10})
	text := strings.Repeat("ก", 250)

	chunks := c.Chunk(models.Document{ID: "d", Content: text})
	require.Len(t, chunks, 3)

	runeSpans := make([][2]int, 0, len(chunks))
	for _, ch := range chunks {
		start := utf8.RuneCountInString(text[:ch.StartOffset])
		end := utf8.RuneCountInString(text[:ch.EndOffset])
		runeSpans = append(runeSpans, [2]int{start, end})
	}
	assert.Equal(t, [][2]int{{0, 100}, {90, 190}, {180, 250}}, runeSpans)
	assert.Equal(t, text, reconstruct(chunks))
}

func TestChunkIsDeterministic(t *testing.T) {
	c := newChunker(t, Config{ChunkSize: 64, Overlap: 8, UseSegmenter: true})
	doc := models.Document{ID: "d", Content: herbalText}

	first := c.Chunk(doc)
	second := c.Chunk(doc)
	assert.Equal(t, first, second)

	ids := make(map[string]bool)
	for _, ch := range first {
		assert.False(t, ids[ch.ChunkID], "duplicate chunk id %s", ch.ChunkID)
		ids[ch.ChunkID] = true
		assert.Regexp(t, `^d_\d+_[0-9a-f]{8}$`, ch.ChunkID)
	}
}

func TestChunkMetadataIsCopied(t *testing.T) {
	c := newChunker(t, Config{ChunkSize: 40, Overlap: 0})
	meta := map[string]any{"source": "textbook"}
	chunks := c.Chunk(models.Document{ID: "d", Content: strings.Repeat("word ", 30), Metadata: meta})
	require.Greater(t, len(chunks), 1)

	chunks[0].Metadata["source"] = "changed"
	assert.Equal(t, "textbook", meta["source"])
	assert.Equal(t, "textbook", chunks[1].Metadata["source"])
}
