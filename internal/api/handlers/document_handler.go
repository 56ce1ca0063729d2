package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

const maxBatchDocuments = 500

type DocumentHandler struct {
	service RAGService
}

func NewDocumentHandler(service RAGService) *DocumentHandler {
	return &DocumentHandler{
		service: service,
	}
}

func (h *DocumentHandler) AddDocument(c *fiber.Ctx) error {
	var doc models.Document
	if err := c.BodyParser(&doc); err != nil {
		logger.Debug("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	if doc.ID == "" || doc.Content == "" {
		return badRequest(c, "Document id and content are required")
	}

	n, err := h.service.Ingest(c.UserContext(), doc)
	if err != nil {
		return respondError(c, "ingest", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":     true,
		"document_id": doc.ID,
		"chunks":      n,
	})
}

func (h *DocumentHandler) AddDocuments(c *fiber.Ctx) error {
	var docs []models.Document
	if err := c.BodyParser(&docs); err != nil {
		logger.Debug("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Request body must be a JSON array of documents")
	}

	if len(docs) == 0 {
		return badRequest(c, "At least one document is required")
	}
	if len(docs) > maxBatchDocuments {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "Too many documents in one batch",
		})
	}

	stats, err := h.service.IngestBatch(c.UserContext(), docs)
	if err != nil {
		return respondError(c, "ingest_batch", err)
	}

	avg := 0.0
	if stats.DocumentsProcessed > 0 {
		avg = stats.Elapsed.Seconds() / float64(stats.DocumentsProcessed)
	}

	return c.JSON(fiber.Map{
		"documents_processed": stats.DocumentsProcessed,
		"documents_failed":    stats.DocumentsFailed,
		"chunks_stored":       stats.ChunksStored,
		"errors":              stats.Errors,
		"processing_time":     stats.Elapsed.Seconds(),
		"avg_time_per_doc":    avg,
	})
}

func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Document id is required")
	}

	n, err := h.service.Delete(c.UserContext(), id)
	if err != nil {
		return respondError(c, "delete", err)
	}

	return c.JSON(fiber.Map{
		"document_id":    id,
		"chunks_deleted": n,
	})
}
