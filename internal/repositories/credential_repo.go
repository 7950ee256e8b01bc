package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitetrade/backend/internal/errs"
	"github.com/sitetrade/backend/internal/models"
)

type CredentialRepo struct {
	pool *pgxpool.Pool
}

func NewCredentialRepo(pool *pgxpool.Pool) *CredentialRepo {
	return &CredentialRepo{pool: pool}
}

func (r *CredentialRepo) Exists(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM listing_credentials WHERE transaction_id = $1)`,
		transactionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: credential exists: %v", errs.ErrPersistence, err)
	}
	return exists, nil
}

func (r *CredentialRepo) GetByTransaction(ctx context.Context, transactionID uuid.UUID) (*models.CredentialRecord, error) {
	var c models.CredentialRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, transaction_id, encrypted_blob, created_at, updated_at
		FROM listing_credentials WHERE transaction_id = $1
	`, transactionID).Scan(&c.ID, &c.TransactionID, &c.EncryptedBlob, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no credentials for transaction %s", errs.ErrNotFound, transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get credentials: %v", errs.ErrPersistence, err)
	}
	return &c, nil
}

// Submit inserts the encrypted record and flips transfer_status from NULL
// to credentials_submitted in one local transaction. The unique constraint
// on transaction_id plus the NULL compare-and-swap make the submission
// at-most-once even under concurrent requests.
func (r *CredentialRepo) Submit(ctx context.Context, rec *models.CredentialRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", errs.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO listing_credentials (transaction_id, encrypted_blob)
		VALUES ($1, $2)
		ON CONFLICT (transaction_id) DO NOTHING
		RETURNING id, created_at, updated_at
	`, rec.TransactionID, rec.EncryptedBlob).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: credentials already submitted", errs.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("%w: insert credentials: %v", errs.ErrPersistence, err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE transactions SET transfer_status = $1, updated_at = now()
		WHERE id = $2 AND transfer_status IS NULL
	`, models.TransferCredentialsSubmitted, rec.TransactionID)
	if err != nil {
		return fmt.Errorf("%w: set transfer status: %v", errs.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction is not awaiting credentials", errs.ErrConflict)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", errs.ErrPersistence, err)
	}
	return nil
}
