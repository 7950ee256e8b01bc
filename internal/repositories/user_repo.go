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

// UserRepo reads the user directory owned by the account collaborator.
// The core only needs contact details and payout destinations.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get user: %v", errs.ErrPersistence, err)
	}
	return &u, nil
}

// GetPayoutSettings returns nil without error when the seller has no payout
// configuration; the provider wallet is the default destination.
func (r *UserRepo) GetPayoutSettings(ctx context.Context, userID uuid.UUID) (*models.PayoutSettings, error) {
	var p models.PayoutSettings
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, payout_type, bank_name, bank_code, account_name, account_number, updated_at
		FROM payout_settings WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.PayoutType, &p.BankName, &p.BankCode, &p.AccountName, &p.AccountNumber, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get payout settings: %v", errs.ErrPersistence, err)
	}
	return &p, nil
}
