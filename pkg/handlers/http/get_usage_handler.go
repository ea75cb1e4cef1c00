package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/edgelimit/edgelimit/pkg/ratelimit"
)

type getUsageHandler struct {
	logger    *logrus.Logger
	admission *ratelimit.Admission
}

func NewGetUsageHandler(logger *logrus.Logger, admission *ratelimit.Admission) Handler {
	return &getUsageHandler{
		logger:    logger,
		admission: admission,
	}
}

// Handle returns the current window for an identifier without consuming
// quota. Operator tooling only; not end-user-facing.
func (h *getUsageHandler) Handle(c *fiber.Ctx) error {
	category := c.Params("category")
	identifier := c.Params("identifier")
	if category == "" || identifier == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "category and identifier are required"})
	}

	usage, err := h.admission.GetUsage(c.UserContext(), identifier, category)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"category":   category,
			"identifier": identifier,
			"error":      err.Error(),
		}).Error("failed to read usage")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "counter store unavailable"})
	}

	response := fiber.Map{
		"category":   category,
		"identifier": identifier,
		"count":      usage.Count,
	}
	if !usage.Oldest.IsZero() {
		response["oldestEntry"] = usage.Oldest.UTC()
	}
	return c.JSON(response)
}
