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

type OfferRepo struct {
	pool *pgxpool.Pool
}

func NewOfferRepo(pool *pgxpool.Pool) *OfferRepo {
	return &OfferRepo{pool: pool}
}

// FindAccepted returns the accepted offer for this buyer+listing, nil when
// the buyer checks out at asking price. Latest acceptance wins.
func (r *OfferRepo) FindAccepted(ctx context.Context, buyerID, listingID uuid.UUID) (*models.Offer, error) {
	var o models.Offer
	err := r.pool.QueryRow(ctx, `
		SELECT id, listing_id, buyer_id, amount, status, created_at
		FROM offers
		WHERE buyer_id = $1 AND listing_id = $2 AND status = $3
		ORDER BY created_at DESC LIMIT 1
	`, buyerID, listingID, models.OfferStatusAccepted).Scan(
		&o.ID, &o.ListingID, &o.BuyerID, &o.Amount, &o.Status, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find accepted offer: %v", errs.ErrPersistence, err)
	}
	return &o, nil
}
