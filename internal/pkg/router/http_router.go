package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/stripesync/stripesync/app/controllers"
)

type HttpRouter struct {
	webhook *controllers.WebhookController
}

func NewHttpRouter(webhook *controllers.WebhookController) *HttpRouter {
	return &HttpRouter{webhook: webhook}
}

func (h *HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	// The routing UUID obscures the endpoint; the controller validates it.
	app.Post("/hook/:uuid", h.webhook.HandleStripeWebhook)
}
