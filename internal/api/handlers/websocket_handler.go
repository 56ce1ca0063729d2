package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

type WebSocketHandler struct {
	service RAGService
	timeout time.Duration
}

func NewWebSocketHandler(service RAGService, timeout time.Duration) *WebSocketHandler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &WebSocketHandler{
		service: service,
		timeout: timeout,
	}
}

type wsMessage struct {
	Type    string         `json:"type"`
	Content string         `json:"content"`
	TopK    int            `json:"top_k"`
	Model   string         `json:"model"`
	Filters map[string]any `json:"filters"`
}

// HandleConnection serves query messages until the client disconnects. Each
// answer is sent as a status frame, the answer split into word chunks, and a
// final complete frame carrying the full result.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Debug("WebSocket connection established")

	defer func() {
		_ = c.Close()
		logger.Debug("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if msg.Type != "query" {
			continue
		}

		if err := h.streamResponse(c, msg); err != nil {
			logger.Warn("Failed to stream response", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, msg wsMessage) error {
	if msg.Content == "" {
		return h.sendError(c, "Query is required")
	}
	if err := h.service.ValidateModel(msg.Model); err != nil {
		_, text := statusFor(err)
		return h.sendError(c, text)
	}

	if err := h.sendChunk(c, "status", "Processing query..."); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	result, err := h.service.Query(ctx, models.QueryRequest{
		Query:   msg.Content,
		TopK:    msg.TopK,
		Model:   msg.Model,
		Filters: msg.Filters,
	})
	if err != nil {
		_, text := statusFor(err)
		return h.sendError(c, text)
	}

	words := splitIntoWords(result.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}
		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]any{
		"type":   "complete",
		"result": result,
	})
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]any{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) error {
	return c.WriteJSON(map[string]any{
		"type":  "error",
		"error": errorMsg,
	})
}

func splitIntoWords(text string) []string {
	words := []string{}
	start := -1

	for i, r := range text {
		if r == ' ' || r == '\n' {
			if start >= 0 {
				words = append(words, text[start:i])
				start = -1
			}
			if r == '\n' {
				words = append(words, "\n")
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}

	if start >= 0 {
		words = append(words, text[start:])
	}

	return words
}
