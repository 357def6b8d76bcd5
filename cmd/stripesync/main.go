package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/stripesync/stripesync/app/controllers"
	"github.com/stripesync/stripesync/app/models"
	"github.com/stripesync/stripesync/internal/pkg/billing"
	"github.com/stripesync/stripesync/internal/pkg/cache"
	"github.com/stripesync/stripesync/internal/pkg/database"
	"github.com/stripesync/stripesync/internal/pkg/env"
	"github.com/stripesync/stripesync/internal/pkg/ratelimit"
	"github.com/stripesync/stripesync/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// The process must not serve webhooks without a signing secret.
	secret, err := env.WebhookSecret()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	routingUUID, err := uuid.Parse(env.GetEnv("STRIPE_WEBHOOK_UUID", ""))
	if err != nil {
		log.Fatalf("configuration error: STRIPE_WEBHOOK_UUID must be a valid UUID: %v", err)
	}

	limiter := ratelimit.NewFromEnv(ratelimit.NewRedisStore(cache.GetClient()))
	client := billing.NewStripeClientFromEnv(limiter)
	svc := billing.NewServiceFromDB(database.GetDB(), client)

	// Default observers; the host application registers its own on top.
	svc.Notifier().OnSubscription(func(sub *models.StripeSubscription) {
		log.Printf("subscription %s now %s", sub.StripeSubscriptionID, sub.Status)
	})
	svc.Notifier().OnOrphan(func(orphan *models.OrphanedPayment) {
		log.Printf("orphaned payment recorded for event %s, manual reconciliation required", orphan.StripeEventID)
	})

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20, // Stripe event payloads are small
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// ROUTER
	router.InstallRouter(app, router.NewHttpRouter(
		controllers.NewWebhookController(svc, routingUUID, secret),
	))

	return app
}
