package validation

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoApp returns the body the handler received after the middleware ran.
func echoApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(cfg))
	echo := func(c *fiber.Ctx) error { return c.Send(c.Body()) }
	app.Post("/api/v1/rag/query", echo)
	app.Post("/api/v1/rag/documents", echo)
	app.Post("/api/v1/rag/documents/batch", echo)
	app.Post("/other", echo)
	return app
}

func post(t *testing.T, app *fiber.App, path, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestQueryIsSanitized(t *testing.T) {
	app := echoApp(Config{})

	status, body := post(t, app, "/api/v1/rag/query", `{"query":"  <b>ฟ้าทะลายโจร</b><script>alert(1)</script> uses\n", "top_k": 3}`)
	require.Equal(t, fiber.StatusOK, status)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, "ฟ้าทะลายโจร uses", got["query"])
	assert.Equal(t, float64(3), got["top_k"])
}

func TestQueryRejections(t *testing.T) {
	app := echoApp(Config{MaxQueryLength: 10})

	cases := map[string]string{
		"malformed":   `{"query":`,
		"missing":     `{"top_k":3}`,
		"not string":  `{"query":5}`,
		"blank":       `{"query":"   "}`,
		"too long":    `{"query":"01234567890"}`,
		"only markup": `{"query":"<p></p>"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			status, _ := post(t, app, "/api/v1/rag/query", body)
			assert.Equal(t, fiber.StatusBadRequest, status)
		})
	}
}

func TestQueryLengthCountsRunes(t *testing.T) {
	app := echoApp(Config{MaxQueryLength: 5})
	status, _ := post(t, app, "/api/v1/rag/query", `{"query":"สมุนไพร"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = post(t, app, "/api/v1/rag/query", `{"query":"ไพร"}`)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestDocumentValidation(t *testing.T) {
	app := echoApp(Config{MaxDocumentSize: 64})

	status, body := post(t, app, "/api/v1/rag/documents", `{"id":" doc-1\u0000 ","content":"a\u0000b","metadata":{"title":"x\u0000"}}`)
	require.Equal(t, fiber.StatusOK, status)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, "doc-1", got["id"])
	assert.Equal(t, "ab", got["content"])
	assert.Equal(t, map[string]any{"title": "x"}, got["metadata"])

	status, _ = post(t, app, "/api/v1/rag/documents", `{"id":"","content":"x"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = post(t, app, "/api/v1/rag/documents", `{"id":"d","content":"x","metadata":"nope"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = post(t, app, "/api/v1/rag/documents", `{"id":"d","content":"`+strings.Repeat("x", 100)+`"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestBatchValidation(t *testing.T) {
	app := echoApp(Config{})

	status, body := post(t, app, "/api/v1/rag/documents/batch", `[{"id":"a","content":"x"},{"id":"b","content":"y"}]`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"id":"b"`)

	status, body = post(t, app, "/api/v1/rag/documents/batch", `[{"id":"a","content":"x"},{"id":"b"}]`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, `"index":1`)

	status, _ = post(t, app, "/api/v1/rag/documents/batch", `{"id":"a"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestContentTypeAndPassthrough(t *testing.T) {
	app := echoApp(Config{})

	req := httptest.NewRequest("POST", "/api/v1/rag/query", strings.NewReader("query=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)

	status, body := post(t, app, "/other", `{"anything":true}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, `{"anything":true}`, body)
}

func TestSanitizeHelpers(t *testing.T) {
	assert.Equal(t, "a b", SanitizeQuery("a\tb"))
	assert.Equal(t, "ab", SanitizeQuery("a\x00b\x07"))
	assert.Equal(t, "5 < 6", SanitizeQuery("5 < 6"))
	assert.Equal(t, "id", SanitizeID("\x01 id \x7f"))
}
