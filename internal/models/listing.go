package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Listing statuses the core cares about
const (
	ListingStatusActive = "active"
	ListingStatusSold   = "sold"
)

// Listing is the slice of the listing entity the core reads: price, seller
// and category. Listing CRUD and search are external collaborators.
type Listing struct {
	ID          uuid.UUID       `json:"id"`
	SellerID    uuid.UUID       `json:"seller_id"`
	Title       string          `json:"title"`
	Description *string         `json:"description,omitempty"`
	Category    string          `json:"category"` // website / youtube / social_media
	Price       decimal.Decimal `json:"price"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Offer statuses
const (
	OfferStatusPending  = "pending"
	OfferStatusAccepted = "accepted"
	OfferStatusDeclined = "declined"
)

// Offer is a negotiated price for a buyer+listing pair. Only accepted
// offers influence checkout pricing; the bidding flow itself is external.
type Offer struct {
	ID        uuid.UUID       `json:"id"`
	ListingID uuid.UUID       `json:"listing_id"`
	BuyerID   uuid.UUID       `json:"buyer_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}
