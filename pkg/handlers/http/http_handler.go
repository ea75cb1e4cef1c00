package http

import "github.com/gofiber/fiber/v2"

type Handler interface {
	Handle(ctx *fiber.Ctx) error
}

// HandlerTransport groups the operator-facing admin handlers.
type HandlerTransport struct {
	GetUsageHandler   Handler
	ResetUsageHandler Handler
}
