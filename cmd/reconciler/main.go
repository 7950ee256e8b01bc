package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sitetrade/backend/internal/config"
	"github.com/sitetrade/backend/internal/db"
	"github.com/sitetrade/backend/internal/escrowapi"
	"github.com/sitetrade/backend/internal/repositories"
	"github.com/sitetrade/backend/internal/services"
	"go.uber.org/zap"
)

// Reconciler: periodically compares stale pending transactions against
// the escrow provider's view and records any divergence. It never
// repairs state on its own; a flagged divergence is an operator problem.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	txRepo := repositories.NewTransactionRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	gateway := escrowapi.NewClient(
		cfg.EscrowAPIBaseURL,
		cfg.EscrowAPIKey,
		cfg.EscrowPlatformID,
		cfg.EscrowCallback,
		cfg.EscrowTimeout,
		auditRepo,
		log,
	)

	reconciler := services.NewReconcileService(txRepo, gateway, auditRepo, log)

	log.Info("reconciler started",
		zap.Duration("interval", cfg.ReconcileInterval),
		zap.Duration("stale_after", cfg.ReconcileStaleAfter),
	)

	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	staleAfter := int(cfg.ReconcileStaleAfter.Seconds())

	for {
		select {
		case <-ticker.C:
			if err := reconciler.ReconcileStale(ctx, staleAfter, cfg.ReconcileBatchSize); err != nil {
				log.Error("reconcile sweep failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down reconciler")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
