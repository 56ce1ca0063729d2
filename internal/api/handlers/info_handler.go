package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/pkg/logger"
)

type InfoHandler struct {
	service RAGService
}

func NewInfoHandler(service RAGService) *InfoHandler {
	return &InfoHandler{
		service: service,
	}
}

func (h *InfoHandler) ListModels(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"models": h.service.Models(),
	})
}

func (h *InfoHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.UserContext())
	if err != nil {
		return respondError(c, "stats", err)
	}
	return c.JSON(stats)
}

// Health reports unhealthy with 503 when the vector store cannot be counted.
func (h *InfoHandler) Health(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.UserContext())
	if err != nil {
		logger.Warn("Health check failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"time":   time.Now().Unix(),
		})
	}

	return c.JSON(fiber.Map{
		"status":            "healthy",
		"time":              time.Now().Unix(),
		"vector_backend":    stats.Store.Backend,
		"total_chunks":      stats.Store.TotalChunks,
		"unique_documents":  stats.Store.UniqueDocuments,
		"embedding_backend": stats.Embedding.Backend,
	})
}
