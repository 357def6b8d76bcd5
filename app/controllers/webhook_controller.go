package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stripesync/stripesync/internal/pkg/billing"
)

// WebhookController serves the Stripe webhook endpoint. The route is not
// behind auth middleware: Stripe calls it directly, security comes from the
// signature check plus the secret-ish routing UUID in the path.
type WebhookController struct {
	svc         *billing.Service
	routingUUID uuid.UUID
	secret      string
	tolerance   time.Duration
}

// NewWebhookController wires the dispatcher behind the configured routing
// UUID and signing secret.
func NewWebhookController(svc *billing.Service, routingUUID uuid.UUID, secret string) *WebhookController {
	return &WebhookController{
		svc:         svc,
		routingUUID: routingUUID,
		secret:      secret,
		tolerance:   billing.DefaultSignatureTolerance,
	}
}

// HandleStripeWebhook processes POST /hook/:uuid/. Any event that was
// applied, deduplicated, or intentionally ignored gets a 200; verification
// failures get a 4xx and are never stored. Non-2xx responses lean on
// Stripe's own redelivery as the outer retry loop.
func (wc *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	hookUUID, err := uuid.Parse(strings.TrimSpace(c.Params("uuid")))
	if err != nil || hookUUID != wc.routingUUID {
		log.Printf("webhook request with invalid routing uuid %q", c.Params("uuid"))
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unconfigured endpoint"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	if err := billing.VerifyStripeSignature(rawBody, signature, wc.secret, wc.tolerance, time.Now()); err != nil {
		if errors.Is(err, billing.ErrStaleEvent) {
			log.Printf("stale stripe webhook rejected: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "stale event"})
		}
		log.Printf("invalid stripe webhook signature")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid signature"})
	}

	event, err := billing.ParseEvent(rawBody, time.Now())
	if err != nil {
		log.Printf("malformed stripe webhook payload: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	outcome, err := wc.svc.ProcessEvent(ctx, event)
	if errors.Is(err, billing.ErrMalformedPayload) {
		// A redelivery of the same body can never converge; don't ask for one.
		log.Printf("malformed object in stripe event %s (%s): %v", event.ID, event.RawType, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	if err != nil {
		log.Printf("error processing stripe event %s (%s): %v", event.ID, event.RawType, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing failed"})
	}

	resp := fiber.Map{"ok": true}
	if outcome.Duplicate {
		resp["duplicate"] = true
	}
	if outcome.Ignored {
		resp["ignored"] = true
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}
