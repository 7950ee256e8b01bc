package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Coarse transaction lifecycle
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
)

// Credential-handoff lifecycle (transfer_status). The empty string stands
// for NULL: escrow created, nothing handed over yet.
const (
	TransferNone                 = ""
	TransferCredentialsSubmitted = "credentials_submitted"
	TransferVerified             = "verified"
	TransferDisputed             = "disputed"
)

// Valid transfer-status transitions: from -> []to
var ValidTransferTransitions = map[string][]string{
	TransferNone:                 {TransferCredentialsSubmitted},
	TransferCredentialsSubmitted: {TransferVerified, TransferDisputed},
	TransferVerified:             {},
	TransferDisputed:             {},
}

func IsValidTransferTransition(from, to string) bool {
	allowed, ok := ValidTransferTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transaction is one purchase attempt. It is the aggregate root: the
// credential record and any dispute cannot outlive it. Money itself lives
// on the escrow provider's ledger; the transaction only owns the mapping
// between local state and the remote escrow.
type Transaction struct {
	ID        uuid.UUID `json:"id"`
	ListingID uuid.UUID `json:"listing_id"`
	BuyerID   uuid.UUID `json:"buyer_id"`
	SellerID  uuid.UUID `json:"seller_id"`

	Amount       decimal.Decimal `json:"amount"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	SellerAmount decimal.Decimal `json:"seller_amount"`
	Total        decimal.Decimal `json:"total"`

	Status         string  `json:"status"`
	TransferStatus *string `json:"transfer_status,omitempty"`

	EscrowID             *string `json:"escrow_id,omitempty"`
	EscrowTransactionRef *string `json:"escrow_transaction_ref,omitempty"`
	EscrowProvider       *string `json:"escrow_provider,omitempty"`

	// base64, 256-bit; generated lazily, immutable once set
	EncryptionKey *string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CurrentTransfer returns the transfer status with NULL mapped to
// TransferNone, for use with the transition table.
func (t *Transaction) CurrentTransfer() string {
	if t.TransferStatus == nil {
		return TransferNone
	}
	return *t.TransferStatus
}
