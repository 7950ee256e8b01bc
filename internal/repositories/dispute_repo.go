package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitetrade/backend/internal/errs"
	"github.com/sitetrade/backend/internal/models"
)

type DisputeRepo struct {
	pool *pgxpool.Pool
}

func NewDisputeRepo(pool *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

// Open creates the dispute and flips transfer_status from
// credentials_submitted to disputed in one local transaction. The
// compare-and-swap loses cleanly against a racing confirmation.
func (r *DisputeRepo) Open(ctx context.Context, d *models.Dispute) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", errs.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE transactions SET transfer_status = $1, updated_at = now()
		WHERE id = $2 AND transfer_status = $3
	`, models.TransferDisputed, d.TransactionID, models.TransferCredentialsSubmitted)
	if err != nil {
		return fmt.Errorf("%w: set transfer status: %v", errs.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction is not in credentials_submitted", errs.ErrConflict)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO disputes (transaction_id, reported_by, reason, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, d.TransactionID, d.ReportedBy, d.Reason, models.DisputeStatusOpen).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert dispute: %v", errs.ErrPersistence, err)
	}
	d.Status = models.DisputeStatusOpen

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", errs.ErrPersistence, err)
	}
	return nil
}

func (r *DisputeRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.Dispute, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, transaction_id, reported_by, reason, status, created_at
		FROM disputes WHERE transaction_id = $1 ORDER BY created_at DESC
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: list disputes: %v", errs.ErrPersistence, err)
	}
	defer rows.Close()

	var out []models.Dispute
	for rows.Next() {
		var d models.Dispute
		if err := rows.Scan(&d.ID, &d.TransactionID, &d.ReportedBy, &d.Reason, &d.Status, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan dispute: %v", errs.ErrPersistence, err)
		}
		out = append(out, d)
	}
	return out, nil
}
