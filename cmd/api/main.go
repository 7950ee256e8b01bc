package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/sitetrade/backend/internal/config"
	"github.com/sitetrade/backend/internal/db"
	"github.com/sitetrade/backend/internal/escrowapi"
	"github.com/sitetrade/backend/internal/events"
	apphttp "github.com/sitetrade/backend/internal/http"
	"github.com/sitetrade/backend/internal/http/handlers"
	"github.com/sitetrade/backend/internal/repositories"
	"github.com/sitetrade/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	txRepo := repositories.NewTransactionRepo(pool)
	credRepo := repositories.NewCredentialRepo(pool)
	disputeRepo := repositories.NewDisputeRepo(pool)
	offerRepo := repositories.NewOfferRepo(pool)
	listingRepo := repositories.NewListingRepo(pool)
	userRepo := repositories.NewUserRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	notifier := events.NewRedisNotifier(publisher, log)

	// Escrow provider
	gateway := escrowapi.NewClient(
		cfg.EscrowAPIBaseURL,
		cfg.EscrowAPIKey,
		cfg.EscrowPlatformID,
		cfg.EscrowCallback,
		cfg.EscrowTimeout,
		auditRepo,
		log,
	)

	// Services
	paymentService := services.NewPaymentService(
		txRepo, credRepo, disputeRepo, offerRepo,
		listingRepo, userRepo,
		gateway, auditRepo, notifier, publisher,
		cfg, log,
	)

	// Handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService, log)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, paymentHandler)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
