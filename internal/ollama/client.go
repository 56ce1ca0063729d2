package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Endpoint is one Ollama server and model. Token is sent as a bearer token
// when set (Ollama Cloud or a reverse proxy).
type Endpoint struct {
	BaseURL string
	Model   string
	Token   string
}

type Client struct {
	endpoint   Endpoint
	httpClient *http.Client
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama API error (%d): %s", e.StatusCode, e.Body)
}

func NewClient(endpoint Endpoint, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	endpoint.BaseURL = strings.TrimRight(endpoint.BaseURL, "/")
	return &Client{endpoint: endpoint, httpClient: httpClient}
}

func (c *Client) Model() string {
	return c.endpoint.Model
}

func (c *Client) BaseURL() string {
	return c.endpoint.BaseURL
}

// Embed calls /api/embed with all texts in one request.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]any{
		"model": c.endpoint.Model,
		"input": texts,
	}

	body, err := c.do(ctx, http.MethodPost, "/api/embed", payload)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	return resp.Embeddings, nil
}

type ChatRequest struct {
	System      string
	Prompt      string
	Seed        *int
	Temperature float32
	MaxTokens   int
}

// Chat calls /api/chat without streaming and returns the assistant message.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	messages := make([]map[string]string, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	options := map[string]any{"temperature": req.Temperature}
	if req.Seed != nil {
		options["seed"] = *req.Seed
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	payload := map[string]any{
		"model":    c.endpoint.Model,
		"messages": messages,
		"stream":   false,
		"options":  options,
	}

	body, err := c.do(ctx, http.MethodPost, "/api/chat", payload)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}

	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("ollama chat decode: %w", err)
	}

	return resp.Message.Content, nil
}

// Ping lists local models via /api/tags and reports whether the configured
// model is present.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return false, fmt.Errorf("ollama tags: %w", err)
	}

	var resp struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("ollama tags decode: %w", err)
	}

	for _, m := range resp.Models {
		if sameModel(m.Name, c.endpoint.Model) || sameModel(m.Model, c.endpoint.Model) {
			return true, nil
		}
	}
	return false, nil
}

// sameModel treats "name" and "name:latest" as the same model.
func sameModel(a, b string) bool {
	return strings.TrimSuffix(a, ":latest") == strings.TrimSuffix(b, ":latest")
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		reader = bytes.NewReader(payloadBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.endpoint.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.endpoint.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return io.ReadAll(resp.Body)
}
