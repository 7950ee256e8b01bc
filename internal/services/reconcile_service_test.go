package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitetrade/backend/internal/errs"
	"github.com/sitetrade/backend/internal/escrowapi"
	"github.com/sitetrade/backend/internal/models"
)

type staleSource struct {
	*fakeTxStore
	stale []models.Transaction
}

func (s *staleSource) ListStalePending(_ context.Context, _, _ int) ([]models.Transaction, error) {
	return s.stale, nil
}

type detailsGateway struct {
	fakeGateway
	status     string
	detailsErr error
}

func (g *detailsGateway) GetEscrowDetails(_ context.Context, escrowID string) (*escrowapi.Escrow, error) {
	if g.detailsErr != nil {
		return nil, g.detailsErr
	}
	return &escrowapi.Escrow{EscrowID: escrowID, Status: g.status}, nil
}

func seedTransaction(txs *fakeTxStore, status string) *models.Transaction {
	escrowID := "esc_1"
	t := &models.Transaction{
		ID:       uuid.New(),
		Status:   status,
		EscrowID: &escrowID,
	}
	txs.txs[t.ID] = t
	return t
}

func TestReconcileMatchingStateIsInfo(t *testing.T) {
	txs := newFakeTxStore()
	tx := seedTransaction(txs, models.TxStatusPending)
	audit := &fakeAudit{}
	svc := NewReconcileService(&staleSource{fakeTxStore: txs}, &detailsGateway{status: "funded"}, audit, zap.NewNop())

	require.NoError(t, svc.Reconcile(context.Background(), tx.ID))

	entry := audit.find("reconcile_snapshot")
	require.NotNil(t, entry)
	assert.Equal(t, models.AuditInfo, entry.Level)
}

func TestReconcileDivergenceIsCritical(t *testing.T) {
	tests := []struct {
		name           string
		localStatus    string
		providerStatus string
	}{
		{"released remotely, pending locally", models.TxStatusPending, "released"},
		{"completed locally, still funded remotely", models.TxStatusCompleted, "funded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs := newFakeTxStore()
			tx := seedTransaction(txs, tt.localStatus)
			audit := &fakeAudit{}
			svc := NewReconcileService(&staleSource{fakeTxStore: txs}, &detailsGateway{status: tt.providerStatus}, audit, zap.NewNop())

			require.NoError(t, svc.Reconcile(context.Background(), tx.ID))

			entry := audit.find("reconcile_snapshot")
			require.NotNil(t, entry)
			assert.Equal(t, models.AuditCritical, entry.Level)
		})
	}
}

func TestReconcileDetailsUnavailable(t *testing.T) {
	txs := newFakeTxStore()
	tx := seedTransaction(txs, models.TxStatusPending)
	audit := &fakeAudit{}
	gw := &detailsGateway{detailsErr: fmt.Errorf("%w: timeout", errs.ErrGateway)}
	svc := NewReconcileService(&staleSource{fakeTxStore: txs}, gw, audit, zap.NewNop())

	err := svc.Reconcile(context.Background(), tx.ID)
	require.Error(t, err)

	entry := audit.find("reconcile_details_unavailable")
	require.NotNil(t, entry)
	assert.Equal(t, models.AuditWarn, entry.Level)
	assert.Nil(t, audit.find("reconcile_snapshot"))
}

func TestReconcileWithoutEscrowIsRejected(t *testing.T) {
	txs := newFakeTxStore()
	tx := &models.Transaction{ID: uuid.New(), Status: models.TxStatusPending}
	txs.txs[tx.ID] = tx
	svc := NewReconcileService(&staleSource{fakeTxStore: txs}, &detailsGateway{status: "funded"}, &fakeAudit{}, zap.NewNop())

	err := svc.Reconcile(context.Background(), tx.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestReconcileStaleSweepsEveryCandidate(t *testing.T) {
	txs := newFakeTxStore()
	a := seedTransaction(txs, models.TxStatusPending)
	b := seedTransaction(txs, models.TxStatusPending)
	audit := &fakeAudit{}
	src := &staleSource{fakeTxStore: txs, stale: []models.Transaction{*a, *b}}
	svc := NewReconcileService(src, &detailsGateway{status: "funded"}, audit, zap.NewNop())

	require.NoError(t, svc.ReconcileStale(context.Background(), 3600, 50))

	var snapshots int
	for _, e := range audit.entries {
		if e.Action == "reconcile_snapshot" {
			snapshots++
		}
	}
	assert.Equal(t, 2, snapshots)
}
