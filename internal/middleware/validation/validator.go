package validation

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxQueryLength      int
	MaxDocumentSize     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects malformed RAG requests and rewrites the body of the
// ones it accepts with sanitized values, so handlers parse clean input.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 1000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		path := c.Path()
		switch {
		case strings.HasSuffix(path, "/rag/query"):
			return validateQuery(c, cfg)
		case strings.HasSuffix(path, "/rag/documents/batch"):
			return validateBatch(c, cfg)
		case strings.HasSuffix(path, "/rag/documents"):
			return validateDocument(c, cfg)
		}

		return c.Next()
	}
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func validateQuery(c *fiber.Ctx, cfg Config) error {
	var req map[string]any
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return invalid(c, "Invalid JSON format")
	}

	raw, ok := req["query"].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return invalid(c, "Query is required and must be a string")
	}
	if len([]rune(raw)) > cfg.MaxQueryLength {
		return invalid(c, "Query exceeds maximum length")
	}

	query := SanitizeQuery(raw)
	if query != strings.TrimSpace(raw) {
		cfg.Logger.Warn("Query was sanitized", zap.String("ip", c.IP()))
	}
	if query == "" {
		return invalid(c, "Query is empty after sanitization")
	}
	req["query"] = query

	if f, ok := req["filters"].(map[string]any); ok {
		req["filters"] = sanitizeValue(f)
	}

	return rewrite(c, req)
}

func validateDocument(c *fiber.Ctx, cfg Config) error {
	var doc map[string]any
	if err := json.Unmarshal(c.Body(), &doc); err != nil {
		return invalid(c, "Invalid JSON format")
	}

	if msg := checkDocument(doc, cfg); msg != "" {
		return invalid(c, msg)
	}
	return rewrite(c, sanitizeDocument(doc))
}

func validateBatch(c *fiber.Ctx, cfg Config) error {
	var docs []map[string]any
	if err := json.Unmarshal(c.Body(), &docs); err != nil {
		return invalid(c, "Request body must be a JSON array of documents")
	}

	for i, doc := range docs {
		if msg := checkDocument(doc, cfg); msg != "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": msg,
				"index": i,
			})
		}
		docs[i] = sanitizeDocument(doc)
	}

	return rewrite(c, docs)
}

func checkDocument(doc map[string]any, cfg Config) string {
	id, ok := doc["id"].(string)
	if !ok || SanitizeID(id) == "" {
		return "Document id is required and must be a string"
	}
	content, ok := doc["content"].(string)
	if !ok || strings.TrimSpace(content) == "" {
		return "Document content is required and must be a string"
	}
	if len(content) > cfg.MaxDocumentSize {
		return "Document content exceeds maximum size"
	}
	if meta, present := doc["metadata"]; present && meta != nil {
		if _, ok := meta.(map[string]any); !ok {
			return "Document metadata must be an object"
		}
	}
	return ""
}

func sanitizeDocument(doc map[string]any) map[string]any {
	doc["id"] = SanitizeID(doc["id"].(string))
	doc["content"] = stripNUL(doc["content"].(string))
	if meta, ok := doc["metadata"].(map[string]any); ok {
		doc["metadata"] = sanitizeValue(meta)
	}
	return doc
}

func rewrite(c *fiber.Ctx, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return invalid(c, "Invalid JSON format")
	}
	c.Request().SetBody(body)
	c.Request().Header.SetContentType(fiber.MIMEApplicationJSON)
	return c.Next()
}

func invalid(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}

// SanitizeQuery removes markup and control characters from query text.
func SanitizeQuery(input string) string {
	text := input
	if strings.ContainsAny(text, "<>") {
		if page, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
			page.Find("script, style").Remove()
			text = page.Text()
		}
	}

	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	return strings.TrimSpace(text)
}

// SanitizeID trims an identifier and drops control characters.
func SanitizeID(input string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input))
}

func stripNUL(input string) string {
	return strings.ReplaceAll(input, "\x00", "")
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return stripNUL(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[stripNUL(k)] = sanitizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sanitizeValue(val)
		}
		return out
	default:
		return v
	}
}
