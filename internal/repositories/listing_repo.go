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

// ListingRepo reads the listing directory. CRUD and search live with the
// listing collaborator; the core only resolves price, seller and category
// at checkout (the sold flip happens inside CompletePurchase).
type ListingRepo struct {
	pool *pgxpool.Pool
}

func NewListingRepo(pool *pgxpool.Pool) *ListingRepo {
	return &ListingRepo{pool: pool}
}

func (r *ListingRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var l models.Listing
	err := r.pool.QueryRow(ctx, `
		SELECT id, seller_id, title, description, category, price, status, created_at
		FROM listings WHERE id = $1
	`, id).Scan(&l.ID, &l.SellerID, &l.Title, &l.Description, &l.Category, &l.Price, &l.Status, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: listing %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get listing: %v", errs.ErrPersistence, err)
	}
	return &l, nil
}
