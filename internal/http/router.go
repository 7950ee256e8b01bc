package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/sitetrade/backend/internal/config"
	"github.com/sitetrade/backend/internal/http/handlers"
	"github.com/sitetrade/backend/internal/middleware"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	paymentHandler *handlers.PaymentHandler,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// All transaction endpoints require an authenticated caller.
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	protected.Post("/transactions", paymentHandler.InitiatePayment)
	protected.Get("/transactions", paymentHandler.ListTransactions)
	protected.Get("/transactions/:id", paymentHandler.GetTransaction)
	protected.Post("/transactions/:id/credentials", paymentHandler.SubmitCredentials)
	protected.Get("/transactions/:id/credentials", paymentHandler.RevealCredentials)
	protected.Post("/transactions/:id/confirm", paymentHandler.ConfirmReceipt)
	protected.Post("/transactions/:id/report-issue", paymentHandler.ReportIssue)
	protected.Get("/transactions/:id/events", paymentHandler.GetTransactionEvents)
}
