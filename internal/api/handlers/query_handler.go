package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

type QueryHandler struct {
	service RAGService
}

func NewQueryHandler(service RAGService) *QueryHandler {
	return &QueryHandler{
		service: service,
	}
}

type queryRequest struct {
	Query          string         `json:"query"`
	TopK           int            `json:"top_k"`
	Model          string         `json:"model"`
	Filters        map[string]any `json:"filters"`
	FilterMetadata map[string]any `json:"filter_metadata"`
}

func (r queryRequest) toModel() models.QueryRequest {
	filters := r.Filters
	if len(filters) == 0 {
		filters = r.FilterMetadata
	}
	return models.QueryRequest{
		Query:   r.Query,
		TopK:    r.TopK,
		Model:   r.Model,
		Filters: filters,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Debug("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	if req.Query == "" {
		return badRequest(c, "Query is required")
	}
	if req.TopK < 0 {
		return badRequest(c, "top_k must not be negative")
	}

	result, err := h.service.Query(c.UserContext(), req.toModel())
	if err != nil {
		return respondError(c, "query", err)
	}

	return c.JSON(result)
}
