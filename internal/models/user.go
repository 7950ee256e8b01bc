package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the slice of the account entity the core needs: contact details
// for the escrow provider's party blocks. Registration and authentication
// live outside the core.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Payout destination types
const (
	PayoutTypeBank   = "bank_transfer"
	PayoutTypeWallet = "wallet" // provider wallet, manual withdrawal; the default
)

// PayoutSettings is the seller's payout destination. Absence means the
// seller is paid into their escrow-provider wallet.
type PayoutSettings struct {
	UserID        uuid.UUID `json:"user_id"`
	PayoutType    string    `json:"payout_type"`
	BankName      *string   `json:"bank_name,omitempty"`
	BankCode      *string   `json:"bank_code,omitempty"`
	AccountName   *string   `json:"account_name,omitempty"`
	AccountNumber *string   `json:"-"` // never serialized; masked in logs
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasBankDestination reports whether the seller configured a bank payout
// complete enough to forward to the escrow provider.
func (p *PayoutSettings) HasBankDestination() bool {
	return p != nil && p.PayoutType == PayoutTypeBank &&
		p.AccountNumber != nil && *p.AccountNumber != "" &&
		p.BankName != nil && *p.BankName != ""
}
