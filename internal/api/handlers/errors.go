package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/models"
	"github.com/thfmn/ttm-rag/pkg/logger"
)

// statusFor maps a pipeline error to an HTTP status and a message safe to
// return to clients. Only validation and lookup errors expose their text.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrValidation):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrAdapterLookup):
		return fiber.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrEmbedderUnavailable):
		return fiber.StatusServiceUnavailable, "Embedding service unavailable"
	case errors.Is(err, models.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "Request timed out"
	default:
		return fiber.StatusInternalServerError, "Internal server error"
	}
}

func respondError(c *fiber.Ctx, op string, err error) error {
	status, msg := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed", zap.String("op", op), zap.Error(err))
	} else {
		logger.Debug("Request rejected", zap.String("op", op), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}
