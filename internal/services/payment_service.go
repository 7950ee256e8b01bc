package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sitetrade/backend/internal/config"
	"github.com/sitetrade/backend/internal/errs"
	"github.com/sitetrade/backend/internal/escrowapi"
	"github.com/sitetrade/backend/internal/events"
	"github.com/sitetrade/backend/internal/models"
	"github.com/sitetrade/backend/internal/repositories"
	"github.com/sitetrade/backend/internal/secrets"
)

// Consumed capabilities. Kept minimal so the orchestrator is testable
// without a database or a live provider.

type TransactionStore interface {
	Create(ctx context.Context, t *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	List(ctx context.Context, f repositories.TransactionFilter) ([]models.Transaction, error)
	EnsureEncryptionKey(ctx context.Context, id uuid.UUID, key string) (string, error)
	ReplaceEncryptionKey(ctx context.Context, id uuid.UUID, key string) error
	CompletePurchase(ctx context.Context, txID, listingID uuid.UUID) error
}

type CredentialStore interface {
	Exists(ctx context.Context, transactionID uuid.UUID) (bool, error)
	GetByTransaction(ctx context.Context, transactionID uuid.UUID) (*models.CredentialRecord, error)
	Submit(ctx context.Context, rec *models.CredentialRecord) error
}

type DisputeStore interface {
	Open(ctx context.Context, d *models.Dispute) error
}

type OfferStore interface {
	FindAccepted(ctx context.Context, buyerID, listingID uuid.UUID) (*models.Offer, error)
}

type ListingDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
}

type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetPayoutSettings(ctx context.Context, userID uuid.UUID) (*models.PayoutSettings, error)
}

type EscrowGateway interface {
	CreateEscrow(ctx context.Context, p escrowapi.CreateEscrowParams) (*escrowapi.Escrow, error)
	CompleteEscrow(ctx context.Context, escrowID string, confirmingPartyID uuid.UUID, otp string) (*escrowapi.Escrow, error)
	GetEscrowDetails(ctx context.Context, escrowID string) (*escrowapi.Escrow, error)
}

type AuditLog interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, message string, relatedID uuid.UUID)
}

// PaymentService drives the escrow-mediated purchase lifecycle: initiate
// payment, submit credentials, confirm receipt, report an issue. Caller
// identity is always an explicit parameter; there is no ambient session.
type PaymentService struct {
	txRepo      TransactionStore
	credRepo    CredentialStore
	disputeRepo DisputeStore
	offerRepo   OfferStore
	listings    ListingDirectory
	users       UserDirectory
	gateway     EscrowGateway
	audit       AuditLog
	notifier    Notifier
	publisher   events.Publisher
	cfg         *config.Config
	log         *zap.Logger
}

func NewPaymentService(
	txRepo TransactionStore,
	credRepo CredentialStore,
	disputeRepo DisputeStore,
	offerRepo OfferStore,
	listings ListingDirectory,
	users UserDirectory,
	gateway EscrowGateway,
	audit AuditLog,
	notifier Notifier,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *PaymentService {
	return &PaymentService{
		txRepo:      txRepo,
		credRepo:    credRepo,
		disputeRepo: disputeRepo,
		offerRepo:   offerRepo,
		listings:    listings,
		users:       users,
		gateway:     gateway,
		audit:       audit,
		notifier:    notifier,
		publisher:   publisher,
		cfg:         cfg,
		log:         log,
	}
}

// PlatformFee computes round(amount * feeBPS/10000, 2).
func PlatformFee(amount decimal.Decimal, feeBPS int) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(feeBPS))).Div(decimal.NewFromInt(10000)).Round(2)
}

type Checkout struct {
	Transaction *models.Transaction `json:"transaction"`
	PaymentURL  string              `json:"payment_url"`
}

// InitiatePayment starts a purchase: resolve the price (accepted offer beats asking
// price), create the provider escrow, then persist the local transaction.
// An escrow created remotely with no local row is the one failure that
// cannot be retried (a retry would duplicate the escrow), so it is logged
// at critical and handed to reconciliation.
func (s *PaymentService) InitiatePayment(ctx context.Context, listingID, buyerID uuid.UUID) (*Checkout, error) {
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != models.ListingStatusActive {
		return nil, fmt.Errorf("%w: listing is no longer available", errs.ErrValidation)
	}
	if listing.SellerID == buyerID {
		return nil, fmt.Errorf("%w: cannot purchase your own listing", errs.ErrValidation)
	}

	amount := listing.Price
	offer, err := s.offerRepo.FindAccepted(ctx, buyerID, listingID)
	if err != nil {
		return nil, err
	}
	if offer != nil {
		amount = offer.Amount
	}
	fee := PlatformFee(amount, s.cfg.PlatformFeeBPS)
	total := amount.Add(fee)
	sellerAmount := amount.Sub(fee)

	buyer, err := s.users.GetByID(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	seller, err := s.users.GetByID(ctx, listing.SellerID)
	if err != nil {
		return nil, err
	}

	// Bank payout is forwarded when configured; otherwise the seller is
	// paid into their provider wallet, which must not block escrow creation.
	payoutSettings, err := s.users.GetPayoutSettings(ctx, listing.SellerID)
	if err != nil {
		s.log.Warn("payout settings lookup failed, defaulting to provider wallet",
			zap.String("seller_id", listing.SellerID.String()), zap.Error(err))
		payoutSettings = nil
	}
	var payout *escrowapi.Payout
	if payoutSettings.HasBankDestination() {
		payout = &escrowapi.Payout{
			PayoutType:    models.PayoutTypeBank,
			BankName:      deref(payoutSettings.BankName),
			AccountNumber: deref(payoutSettings.AccountNumber),
			AccountName:   deref(payoutSettings.AccountName),
			BankCode:      deref(payoutSettings.BankCode),
		}
	}

	t := &models.Transaction{
		ListingID:    listingID,
		BuyerID:      buyerID,
		SellerID:     listing.SellerID,
		Amount:       amount,
		PlatformFee:  fee,
		SellerAmount: sellerAmount,
		Total:        total,
		Status:       models.TxStatusPending,
	}

	esc, err := s.gateway.CreateEscrow(ctx, escrowapi.CreateEscrowParams{
		Amount:      total,
		Title:       listing.Title,
		Description: fmt.Sprintf("Purchase of %s listing %q", listing.Category, listing.Title),
		Buyer:       escrowapi.Party{Name: buyer.Name, Email: buyer.Email, Phone: deref(buyer.Phone)},
		Seller:      escrowapi.Party{Name: seller.Name, Email: seller.Email, Phone: deref(seller.Phone)},
		Payout:      payout,
	})
	if err != nil {
		// No local row was created; the buyer can simply retry checkout.
		_ = s.audit.Log(ctx, models.AuditLog{
			ActorUserID: &buyerID,
			ActorType:   "user",
			Level:       models.AuditError,
			Action:      "payment_initiate_gateway_failed",
			EntityType:  "listing",
			EntityID:    &listingID,
			Meta:        map[string]any{"amount": amount.String(), "total": total.String(), "error": err.Error()},
		})
		return nil, err
	}

	t.EscrowID = &esc.EscrowID
	t.EscrowTransactionRef = &esc.TransactionRef
	t.EscrowProvider = &esc.Provider

	if err := s.txRepo.Create(ctx, t); err != nil {
		// The escrow now exists on the provider's side with no local
		// record. Retrying would double-create it; reconciliation tooling
		// has to repair this window.
		s.log.Error("escrow created but local transaction insert failed",
			zap.String("escrow_id", esc.EscrowID),
			zap.String("listing_id", listingID.String()),
			zap.String("buyer_id", buyerID.String()),
			zap.Error(err),
		)
		_ = s.audit.Log(ctx, models.AuditLog{
			ActorUserID: &buyerID,
			ActorType:   "system",
			Level:       models.AuditCritical,
			Action:      "escrow_orphaned_no_local_transaction",
			EntityType:  "listing",
			EntityID:    &listingID,
			Meta: map[string]any{
				"escrow_id":       esc.EscrowID,
				"transaction_ref": esc.TransactionRef,
				"provider":        esc.Provider,
				"total":           total.String(),
			},
		})
		return nil, fmt.Errorf("%w: payment could not be recorded, please contact support", errs.ErrPersistence)
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &buyerID,
		ActorType:   "user",
		Action:      "payment_initiated",
		EntityType:  "transaction",
		EntityID:    &t.ID,
		Meta: map[string]any{
			"escrow_id":    esc.EscrowID,
			"amount":       amount.String(),
			"platform_fee": fee.String(),
			"total":        total.String(),
		},
	})
	_ = s.publisher.Publish(ctx, events.StreamTransaction, events.Event{
		Type: events.EventTransactionCreated,
		Payload: map[string]any{
			"transaction_id": t.ID.String(),
			"listing_id":     listingID.String(),
			"escrow_id":      esc.EscrowID,
		},
	})

	return &Checkout{Transaction: t, PaymentURL: esc.PaymentURL}, nil
}

// SubmitCredentials is the seller's delivery of the access bundle. Sellers
// only; the buyer's path through this transaction is confirm or dispute.
func (s *PaymentService) SubmitCredentials(ctx context.Context, transactionID, submitterID uuid.UUID, fields map[string]string) error {
	t, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return err
	}
	if t.SellerID != submitterID {
		return fmt.Errorf("%w: only the seller can submit credentials", errs.ErrAuthorization)
	}
	if t.CurrentTransfer() != models.TransferNone {
		return fmt.Errorf("%w: credentials already submitted", errs.ErrConflict)
	}
	if exists, err := s.credRepo.Exists(ctx, transactionID); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: credentials already submitted", errs.ErrConflict)
	}

	listing, err := s.listings.GetByID(ctx, t.ListingID)
	if err != nil {
		return err
	}
	kept := models.FilterCredentialFields(listing.Category, fields)
	if len(kept) < models.MinCredentialFields {
		return fmt.Errorf("%w: at least %d credential fields are required for a %s listing",
			errs.ErrValidation, models.MinCredentialFields, listing.Category)
	}

	key, err := s.transactionKey(ctx, t)
	if err != nil {
		return err
	}

	payload := make(map[string]any, len(kept)+3)
	for k, v := range kept {
		payload[k] = v
	}
	payload["_category"] = listing.Category
	payload["_submitted_at"] = time.Now().UTC().Format(time.RFC3339)
	payload["_submitted_by"] = submitterID.String()

	blob, err := secrets.Encrypt(payload, key)
	if err != nil {
		// Never leak cipher detail to the caller.
		s.log.Error("credential encryption failed",
			zap.String("transaction_id", transactionID.String()), zap.Error(err))
		return fmt.Errorf("%w: processing failed", errs.ErrEncryption)
	}

	rec := &models.CredentialRecord{TransactionID: transactionID, EncryptedBlob: blob}
	if err := s.credRepo.Submit(ctx, rec); err != nil {
		return err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &submitterID,
		ActorType:   "user",
		Action:      "credentials_submitted",
		EntityType:  "transaction",
		EntityID:    &transactionID,
		Meta:        map[string]any{"category": listing.Category, "field_count": len(kept)},
	})
	_ = s.publisher.Publish(ctx, events.StreamTransaction, events.Event{
		Type:    events.EventCredentialsSubmitted,
		Payload: map[string]any{"transaction_id": transactionID.String()},
	})

	// Best effort; must not fail the submission.
	s.notifier.Notify(ctx, t.BuyerID, "credentials_received",
		"Credentials received",
		fmt.Sprintf("The seller delivered the access credentials. You have %d days to review and confirm.", s.cfg.ConfirmWindowDays),
		transactionID)
	s.notifier.Notify(ctx, t.SellerID, "credentials_submitted",
		"Credentials submitted",
		"Your credentials were delivered to the buyer. Funds release once they confirm.",
		transactionID)

	return nil
}

// transactionKey returns the transaction's canonical base64 key,
// generating and persisting one on first use. Keys stored by earlier code
// paths in hex or raw form are normalized; an unusable stored key is
// replaced rather than failing the submission. Nothing was ever encrypted
// under it, and replacement is only legal while no credential record exists.
func (s *PaymentService) transactionKey(ctx context.Context, t *models.Transaction) (string, error) {
	fresh, err := secrets.GenerateKey()
	if err != nil {
		s.log.Error("key generation failed", zap.Error(err))
		return "", fmt.Errorf("%w: processing failed", errs.ErrEncryption)
	}
	stored, err := s.txRepo.EnsureEncryptionKey(ctx, t.ID, fresh)
	if err != nil {
		return "", err
	}
	normalized, err := secrets.NormalizeKey(stored)
	if err == nil {
		return normalized, nil
	}

	s.log.Warn("stored encryption key failed validation, regenerating",
		zap.String("transaction_id", t.ID.String()))
	replacement, err := secrets.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("%w: processing failed", errs.ErrEncryption)
	}
	if err := s.txRepo.ReplaceEncryptionKey(ctx, t.ID, replacement); err != nil {
		return "", err
	}
	return replacement, nil
}

// ConfirmReceipt releases the escrow. The provider call IS the release of
// funds; the local commit mirrors it afterwards. A local failure after a
// successful release is the mirror image of the orphaned-escrow window at
// initiation: logged at critical, never repaired by re-invoking the provider.
func (s *PaymentService) ConfirmReceipt(ctx context.Context, transactionID, buyerID uuid.UUID, otp string) error {
	t, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return err
	}
	if t.BuyerID != buyerID {
		return fmt.Errorf("%w: only the buyer can confirm receipt", errs.ErrAuthorization)
	}
	if t.CurrentTransfer() != models.TransferCredentialsSubmitted {
		return fmt.Errorf("%w: transaction is not awaiting confirmation", errs.ErrConflict)
	}
	if t.EscrowID == nil {
		return fmt.Errorf("%w: transaction has no escrow", errs.ErrConflict)
	}

	if _, err := s.gateway.CompleteEscrow(ctx, *t.EscrowID, buyerID, otp); err != nil {
		// Nothing was touched locally; on timeout the release may or may
		// not have happened remotely. Reconciliation resolves that via a
		// details read, never a blind retry.
		_ = s.audit.Log(ctx, models.AuditLog{
			ActorUserID: &buyerID,
			ActorType:   "user",
			Level:       models.AuditError,
			Action:      "escrow_complete_failed",
			EntityType:  "transaction",
			EntityID:    &transactionID,
			Meta:        map[string]any{"escrow_id": *t.EscrowID, "error": err.Error()},
		})
		return err
	}

	if err := s.txRepo.CompletePurchase(ctx, transactionID, t.ListingID); err != nil {
		// Funds are released remotely but local state is stale. Do NOT
		// call CompleteEscrow again.
		s.log.Error("escrow released but local completion failed",
			zap.String("transaction_id", transactionID.String()),
			zap.String("escrow_id", *t.EscrowID),
			zap.Error(err),
		)
		_ = s.audit.Log(ctx, models.AuditLog{
			ActorUserID: &buyerID,
			ActorType:   "system",
			Level:       models.AuditCritical,
			Action:      "funds_released_local_state_stale",
			EntityType:  "transaction",
			EntityID:    &transactionID,
			Meta: map[string]any{
				"escrow_id":     *t.EscrowID,
				"seller_amount": t.SellerAmount.String(),
			},
		})
		if errors.Is(err, errs.ErrConflict) {
			return err
		}
		return fmt.Errorf("%w: completion could not be recorded, please contact support", errs.ErrPersistence)
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &buyerID,
		ActorType:   "user",
		Action:      "receipt_confirmed",
		EntityType:  "transaction",
		EntityID:    &transactionID,
		Meta:        map[string]any{"escrow_id": *t.EscrowID, "seller_amount": t.SellerAmount.String()},
	})
	_ = s.publisher.Publish(ctx, events.StreamTransaction, events.Event{
		Type:    events.EventTransactionCompleted,
		Payload: map[string]any{"transaction_id": transactionID.String()},
	})

	// Attempted even on failure paths above the commit; never rolls it back.
	s.notifier.Notify(ctx, t.SellerID, "sale_completed",
		"Sale completed",
		fmt.Sprintf("The buyer confirmed receipt. %s USD is being released to you.", t.SellerAmount.StringFixed(2)),
		transactionID)
	s.notifier.Notify(ctx, t.BuyerID, "purchase_completed",
		"Purchase completed",
		"Your confirmation released the funds. The listing is now yours.",
		transactionID)

	return nil
}

// ReportIssue is the buyer's alternative to confirming. No escrow
// call is made; dispute resolution is a manual, out-of-band process.
func (s *PaymentService) ReportIssue(ctx context.Context, transactionID, buyerID uuid.UUID, reason string) (*models.Dispute, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: a reason is required", errs.ErrValidation)
	}
	t, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.BuyerID != buyerID {
		return nil, fmt.Errorf("%w: only the buyer can report an issue", errs.ErrAuthorization)
	}
	if t.CurrentTransfer() != models.TransferCredentialsSubmitted {
		return nil, fmt.Errorf("%w: transaction is not in credentials_submitted", errs.ErrConflict)
	}

	d := &models.Dispute{TransactionID: transactionID, ReportedBy: buyerID, Reason: reason}
	if err := s.disputeRepo.Open(ctx, d); err != nil {
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &buyerID,
		ActorType:   "user",
		Level:       models.AuditWarn,
		Action:      "dispute_opened",
		EntityType:  "transaction",
		EntityID:    &transactionID,
		Meta:        map[string]any{"reason": reason},
	})
	_ = s.publisher.Publish(ctx, events.StreamTransaction, events.Event{
		Type:    events.EventTransactionDisputed,
		Payload: map[string]any{"transaction_id": transactionID.String()},
	})
	s.notifier.Notify(ctx, t.SellerID, "dispute_opened",
		"Issue reported",
		"The buyer reported a problem with the delivered credentials. Support will review the transaction.",
		transactionID)

	return d, nil
}

// RevealCredentials decrypts the stored bundle for the buyer's review
// before they confirm or dispute.
func (s *PaymentService) RevealCredentials(ctx context.Context, transactionID, callerID uuid.UUID) (map[string]any, error) {
	t, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.BuyerID != callerID {
		return nil, fmt.Errorf("%w: only the buyer can view credentials", errs.ErrAuthorization)
	}
	rec, err := s.credRepo.GetByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.EncryptionKey == nil {
		return nil, fmt.Errorf("%w: processing failed", errs.ErrDecryption)
	}
	key, err := secrets.NormalizeKey(*t.EncryptionKey)
	if err != nil {
		s.log.Error("stored key unusable for decryption",
			zap.String("transaction_id", transactionID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: processing failed", errs.ErrDecryption)
	}
	fields, err := secrets.Decrypt(rec.EncryptedBlob, key)
	if err != nil {
		s.log.Error("credential decryption failed",
			zap.String("transaction_id", transactionID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: processing failed", errs.ErrDecryption)
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &callerID,
		ActorType:   "user",
		Action:      "credentials_revealed",
		EntityType:  "transaction",
		EntityID:    &transactionID,
	})
	return fields, nil
}

func (s *PaymentService) GetTransaction(ctx context.Context, transactionID, callerID uuid.UUID) (*models.Transaction, error) {
	t, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.BuyerID != callerID && t.SellerID != callerID {
		return nil, fmt.Errorf("%w: not a party to this transaction", errs.ErrAuthorization)
	}
	return t, nil
}

func (s *PaymentService) ListTransactions(ctx context.Context, callerID uuid.UUID, role string, status *string, limit, offset int) ([]models.Transaction, error) {
	f := repositories.TransactionFilter{Status: status, Limit: limit, Offset: offset}
	switch role {
	case "seller":
		f.SellerID = &callerID
	default:
		f.BuyerID = &callerID
	}
	return s.txRepo.List(ctx, f)
}

func (s *PaymentService) TransactionEvents(ctx context.Context, transactionID, callerID uuid.UUID) ([]models.AuditLog, error) {
	t, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if t.BuyerID != callerID && t.SellerID != callerID {
		return nil, fmt.Errorf("%w: not a party to this transaction", errs.ErrAuthorization)
	}
	return s.audit.GetByEntity(ctx, "transaction", transactionID, 100, 0)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
