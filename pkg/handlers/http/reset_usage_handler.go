package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/edgelimit/edgelimit/pkg/ratelimit"
)

type resetUsageHandler struct {
	logger    *logrus.Logger
	admission *ratelimit.Admission
}

func NewResetUsageHandler(logger *logrus.Logger, admission *ratelimit.Admission) Handler {
	return &resetUsageHandler{
		logger:    logger,
		admission: admission,
	}
}

// Handle deletes an identifier's window so its quota starts fresh.
func (h *resetUsageHandler) Handle(c *fiber.Ctx) error {
	category := c.Params("category")
	identifier := c.Params("identifier")
	if category == "" || identifier == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "category and identifier are required"})
	}

	if err := h.admission.Reset(c.UserContext(), identifier, category); err != nil {
		h.logger.WithFields(logrus.Fields{
			"category":   category,
			"identifier": identifier,
			"error":      err.Error(),
		}).Error("failed to reset usage")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "counter store unavailable"})
	}

	h.logger.WithFields(logrus.Fields{
		"category":   category,
		"identifier": identifier,
	}).Info("rate limit window reset")

	return c.SendStatus(fiber.StatusNoContent)
}
