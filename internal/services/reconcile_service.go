package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitetrade/backend/internal/errs"
	"github.com/sitetrade/backend/internal/models"
)

// StaleTransactionSource feeds the reconciler with pending transactions
// that have not moved in a while.
type StaleTransactionSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListStalePending(ctx context.Context, olderThanSeconds, limit int) ([]models.Transaction, error)
}

// ReconcileService re-reads provider-side escrow state for transactions
// whose local state may have diverged (the two critical-inconsistency
// windows, or simply an abandoned checkout). It repairs nothing by itself:
// settlement decisions stay with manual tooling, this service only puts
// both sides of the ledger into the audit log.
type ReconcileService struct {
	txRepo  StaleTransactionSource
	gateway EscrowGateway
	audit   AuditLog
	log     *zap.Logger
}

func NewReconcileService(txRepo StaleTransactionSource, gateway EscrowGateway, audit AuditLog, log *zap.Logger) *ReconcileService {
	return &ReconcileService{txRepo: txRepo, gateway: gateway, audit: audit, log: log}
}

// Reconcile fetches provider details for one transaction and records the
// comparison. A details fetch failure is reported, not retried here.
func (s *ReconcileService) Reconcile(ctx context.Context, transactionID uuid.UUID) error {
	t, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return err
	}
	if t.EscrowID == nil {
		return fmt.Errorf("%w: transaction has no escrow to reconcile", errs.ErrValidation)
	}

	esc, err := s.gateway.GetEscrowDetails(ctx, *t.EscrowID)
	if err != nil {
		_ = s.audit.Log(ctx, models.AuditLog{
			ActorType:  "system",
			Level:      models.AuditWarn,
			Action:     "reconcile_details_unavailable",
			EntityType: "transaction",
			EntityID:   &t.ID,
			Meta:       map[string]any{"escrow_id": *t.EscrowID, "error": err.Error()},
		})
		return err
	}

	level := models.AuditInfo
	if diverged(t, esc.Status) {
		level = models.AuditCritical
		s.log.Error("local and provider escrow state diverged",
			zap.String("transaction_id", t.ID.String()),
			zap.String("escrow_id", *t.EscrowID),
			zap.String("local_status", t.Status),
			zap.String("provider_status", esc.Status),
		)
	}
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Level:      level,
		Action:     "reconcile_snapshot",
		EntityType: "transaction",
		EntityID:   &t.ID,
		Meta: map[string]any{
			"escrow_id":             *t.EscrowID,
			"local_status":          t.Status,
			"local_transfer_status": t.CurrentTransfer(),
			"provider_status":       esc.Status,
			"total":                 t.Total.String(),
		},
	})
	return nil
}

// ReconcileStale sweeps pending transactions older than the window.
func (s *ReconcileService) ReconcileStale(ctx context.Context, olderThanSeconds, limit int) error {
	stale, err := s.txRepo.ListStalePending(ctx, olderThanSeconds, limit)
	if err != nil {
		return err
	}
	for i := range stale {
		if err := s.Reconcile(ctx, stale[i].ID); err != nil {
			s.log.Warn("reconcile failed", zap.String("transaction_id", stale[i].ID.String()), zap.Error(err))
		}
	}
	return nil
}

// diverged flags combinations that cannot both be true: a released escrow
// with a still-pending local transaction, or a locally completed purchase
// the provider does not consider released.
func diverged(t *models.Transaction, providerStatus string) bool {
	switch providerStatus {
	case "released", "completed":
		return t.Status != models.TxStatusCompleted
	default:
		return t.Status == models.TxStatusCompleted
	}
}
