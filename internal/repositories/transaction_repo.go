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

const txColumns = `id, listing_id, buyer_id, seller_id, amount, platform_fee, seller_amount, total,
       status, transfer_status, escrow_id, escrow_transaction_ref, escrow_provider,
       encryption_key, created_at, updated_at`

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO transactions (listing_id, buyer_id, seller_id, amount, platform_fee, seller_amount, total,
		                          status, transfer_status, escrow_id, escrow_transaction_ref, escrow_provider)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`, t.ListingID, t.BuyerID, t.SellerID, t.Amount, t.PlatformFee, t.SellerAmount, t.Total,
		t.Status, t.TransferStatus, t.EscrowID, t.EscrowTransactionRef, t.EscrowProvider,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert transaction: %v", errs.ErrPersistence, err)
	}
	return nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var t models.Transaction
	err := r.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id).Scan(
		&t.ID, &t.ListingID, &t.BuyerID, &t.SellerID, &t.Amount, &t.PlatformFee, &t.SellerAmount, &t.Total,
		&t.Status, &t.TransferStatus, &t.EscrowID, &t.EscrowTransactionRef, &t.EscrowProvider,
		&t.EncryptionKey, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get transaction: %v", errs.ErrPersistence, err)
	}
	return &t, nil
}

type TransactionFilter struct {
	BuyerID  *uuid.UUID
	SellerID *uuid.UUID
	Status   *string
	Limit    int
	Offset   int
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilter) ([]models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.BuyerID != nil {
		where = append(where, fmt.Sprintf("buyer_id = $%d", argIdx))
		args = append(args, *f.BuyerID)
		argIdx++
	}
	if f.SellerID != nil {
		where = append(where, fmt.Sprintf("seller_id = $%d", argIdx))
		args = append(args, *f.SellerID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", errs.ErrPersistence, err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.ListingID, &t.BuyerID, &t.SellerID, &t.Amount, &t.PlatformFee, &t.SellerAmount, &t.Total,
			&t.Status, &t.TransferStatus, &t.EscrowID, &t.EscrowTransactionRef, &t.EscrowProvider,
			&t.EncryptionKey, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %v", errs.ErrPersistence, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// EnsureEncryptionKey stores key only if the transaction has none yet and
// returns whichever key ends up persisted. Keys are immutable once set, so
// a concurrent writer's key wins over ours and that is fine.
func (r *TransactionRepo) EnsureEncryptionKey(ctx context.Context, id uuid.UUID, key string) (string, error) {
	var stored string
	err := r.pool.QueryRow(ctx, `
		UPDATE transactions
		SET encryption_key = COALESCE(encryption_key, $1), updated_at = now()
		WHERE id = $2
		RETURNING encryption_key
	`, key, id).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: transaction %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("%w: ensure encryption key: %v", errs.ErrPersistence, err)
	}
	return stored, nil
}

// ReplaceEncryptionKey overwrites a key that failed validation. Only legal
// while no credential record exists.
func (r *TransactionRepo) ReplaceEncryptionKey(ctx context.Context, id uuid.UUID, key string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions SET encryption_key = $1, updated_at = now()
		WHERE id = $2
		  AND NOT EXISTS (SELECT 1 FROM listing_credentials lc WHERE lc.transaction_id = transactions.id)
	`, key, id)
	if err != nil {
		return fmt.Errorf("%w: replace encryption key: %v", errs.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: key already in use", errs.ErrConflict)
	}
	return nil
}

// CompletePurchase is the confirmation commit: transfer_status verified, status
// completed and the listing marked sold, all in one local transaction.
// The compare-and-swap on transfer_status is the guard that keeps a racing
// dispute and a confirmation from both succeeding.
func (r *TransactionRepo) CompletePurchase(ctx context.Context, txID, listingID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", errs.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE transactions
		SET transfer_status = $1, status = $2, updated_at = now()
		WHERE id = $3 AND transfer_status = $4
	`, models.TransferVerified, models.TxStatusCompleted, txID, models.TransferCredentialsSubmitted)
	if err != nil {
		return fmt.Errorf("%w: complete purchase: %v", errs.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction is not awaiting confirmation", errs.ErrConflict)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE listings SET status = $1, updated_at = now() WHERE id = $2
	`, models.ListingStatusSold, listingID); err != nil {
		return fmt.Errorf("%w: mark listing sold: %v", errs.ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", errs.ErrPersistence, err)
	}
	return nil
}

// ListStalePending returns pending transactions with an escrow id that have
// not moved for olderThanSeconds, for the reconciler.
func (r *TransactionRepo) ListStalePending(ctx context.Context, olderThanSeconds int, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE status = $1 AND escrow_id IS NOT NULL
		  AND updated_at < now() - ($2 || ' seconds')::interval
		ORDER BY updated_at ASC LIMIT $3
	`, models.TxStatusPending, fmt.Sprintf("%d", olderThanSeconds), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list stale pending: %v", errs.ErrPersistence, err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.ListingID, &t.BuyerID, &t.SellerID, &t.Amount, &t.PlatformFee, &t.SellerAmount, &t.Total,
			&t.Status, &t.TransferStatus, &t.EscrowID, &t.EscrowTransactionRef, &t.EscrowProvider,
			&t.EncryptionKey, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %v", errs.ErrPersistence, err)
		}
		out = append(out, t)
	}
	return out, nil
}
