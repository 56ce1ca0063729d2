package chunker

import (
	"fmt"
	"maps"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/pkg/logger"
	"github.com/thfmn/ttm-rag/pkg/utils"
)

type Config struct {
	// ChunkSize is the maximum chunk length in runes.
	ChunkSize int
	// Overlap is the maximum number of runes shared by consecutive chunks.
	Overlap int
	// MinChunkSize is the shortest chunk a sentence boundary may produce
	// before a word boundary further out is preferred.
	MinChunkSize int
	// UseSegmenter adds sentence ends found by the prose segmenter to the
	// punctuation based boundaries.
	UseSegmenter bool
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:    512,
		Overlap:      50,
		MinChunkSize: 100,
		UseSegmenter: true,
	}
}

var (
	sentenceEnd = regexp.MustCompile(`[.!?。！？।॥။។๚๛]+["'”’»)\]]*(?:\s+|$)`)
	lineBreak   = regexp.MustCompile(`\n\s*`)
	whitespace  = regexp.MustCompile(`\s+`)
)

type Chunker struct {
	cfg Config
}

func New(cfg Config) (*Chunker, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrConfiguration, cfg.ChunkSize)
	}
	if cfg.Overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", models.ErrConfiguration, cfg.Overlap)
	}
	if cfg.ChunkSize <= cfg.Overlap {
		return nil, fmt.Errorf("%w: chunk size %d must exceed overlap %d", models.ErrConfiguration, cfg.ChunkSize, cfg.Overlap)
	}
	if cfg.MinChunkSize < 0 || cfg.MinChunkSize > cfg.ChunkSize {
		cfg.MinChunkSize = 0
	}

	logger.Debug("Chunker initialized",
		zap.Int("chunk_size", cfg.ChunkSize),
		zap.Int("overlap", cfg.Overlap),
		zap.Int("min_chunk_size", cfg.MinChunkSize),
	)

	return &Chunker{cfg: cfg}, nil
}

func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk splits doc.Content into chunks whose Content is exactly
// doc.Content[StartOffset:EndOffset]. Offsets are in bytes, sizes in runes.
func (c *Chunker) Chunk(doc models.Document) []models.Chunk {
	text := doc.Content
	if text == "" {
		return nil
	}

	idx := newRuneIndex(text)
	total := idx.runes()

	spans := [][2]int{{0, total}}
	if total > c.cfg.ChunkSize {
		strong := idx.toRunes(c.sentenceBoundaries(text))
		weak := idx.toRunes(matchEnds(whitespace, text))
		spans = c.split(total, strong, weak)
	}

	chunks := make([]models.Chunk, 0, len(spans))
	for i, span := range spans {
		start, end := idx.bytes(span[0]), idx.bytes(span[1])
		content := text[start:end]
		chunks = append(chunks, models.Chunk{
			ChunkID:     ChunkID(doc.ID, i, content),
			DocumentID:  doc.ID,
			Content:     content,
			Index:       i,
			StartOffset: start,
			EndOffset:   end,
			Metadata:    maps.Clone(doc.Metadata),
		})
	}

	return chunks
}

// ChunkID is "<document_id>_<index>_<first 8 hex chars of md5(content)>".
func ChunkID(documentID string, index int, content string) string {
	return fmt.Sprintf("%s_%d_%s", documentID, index, utils.ShortHash(content, 8))
}

// split walks the text greedily. Each chunk ends at the furthest strong
// boundary that fits, then the furthest weak one, then a hard cut.
func (c *Chunker) split(total int, strong, weak []int) [][2]int {
	var spans [][2]int
	start, prevEnd := 0, 0

	for {
		limit := start + c.cfg.ChunkSize
		end := total
		if limit < total {
			end = furthest(strong, prevEnd, start+c.cfg.MinChunkSize, limit)
			if end < 0 {
				end = furthest(weak, prevEnd, start, limit)
			}
			if end < 0 {
				end = limit
			}
		}

		spans = append(spans, [2]int{start, end})
		if end >= total {
			return spans
		}

		next := end
		if c.cfg.Overlap > 0 && end-start > c.cfg.Overlap {
			next = end - c.cfg.Overlap
			if b := nearest(weak, next, end); b >= 0 {
				next = b
			}
		}
		start, prevEnd = next, end
	}
}

// furthest returns the largest boundary b with b > after, b >= atLeast and b <= limit, or -1.
func furthest(bounds []int, after, atLeast, limit int) int {
	i := sort.SearchInts(bounds, limit+1) - 1
	if i >= 0 && bounds[i] > after && bounds[i] >= atLeast {
		return bounds[i]
	}
	return -1
}

// nearest returns the smallest boundary b with from <= b < before, or -1.
func nearest(bounds []int, from, before int) int {
	i := sort.SearchInts(bounds, from)
	if i < len(bounds) && bounds[i] < before {
		return bounds[i]
	}
	return -1
}

func (c *Chunker) sentenceBoundaries(text string) []int {
	ends := matchEnds(sentenceEnd, text)
	ends = append(ends, matchEnds(lineBreak, text)...)
	if c.cfg.UseSegmenter {
		ends = append(ends, segmenterBoundaries(text)...)
	}
	ends = append(ends, len(text))
	sort.Ints(ends)
	return dedupe(ends)
}

// segmenterBoundaries locates each prose sentence in text and returns the
// byte offset just past it and any whitespace that follows.
func segmenterBoundaries(text string) []int {
	doc, err := prose.NewDocument(text,
		prose.WithTokenization(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		logger.Debug("Sentence segmenter failed", zap.Error(err))
		return nil
	}

	var ends []int
	cursor := 0
	for _, sent := range doc.Sentences() {
		s := strings.TrimSpace(sent.Text)
		if s == "" {
			continue
		}
		at := strings.Index(text[cursor:], s)
		if at < 0 {
			continue
		}
		end := cursor + at + len(s)
		for end < len(text) {
			r, size := utf8.DecodeRuneInString(text[end:])
			if !isSpace(r) {
				break
			}
			end += size
		}
		ends = append(ends, end)
		cursor = end
	}
	return ends
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\v'
}

func matchEnds(re *regexp.Regexp, text string) []int {
	matches := re.FindAllStringIndex(text, -1)
	ends := make([]int, 0, len(matches))
	for _, m := range matches {
		if m[1] > 0 {
			ends = append(ends, m[1])
		}
	}
	return ends
}

func dedupe(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// runeIndex maps rune positions to byte offsets and back.
type runeIndex struct {
	offsets []int
}

func newRuneIndex(text string) runeIndex {
	offsets := make([]int, 0, len(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))
	return runeIndex{offsets: offsets}
}

func (r runeIndex) runes() int {
	return len(r.offsets) - 1
}

func (r runeIndex) bytes(runePos int) int {
	return r.offsets[runePos]
}

// toRunes converts sorted byte offsets to rune positions, dropping any that
// do not fall on a rune start.
func (r runeIndex) toRunes(byteOffsets []int) []int {
	out := make([]int, 0, len(byteOffsets))
	for _, b := range byteOffsets {
		i := sort.SearchInts(r.offsets, b)
		if i < len(r.offsets) && r.offsets[i] == b && i > 0 {
			out = append(out, i)
		}
	}
	return out
}
