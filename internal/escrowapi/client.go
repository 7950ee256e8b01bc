// Package escrowapi wraps the third-party escrow provider's HTTP contract.
// All failures (network, timeout, non-2xx, unparseable or incomplete
// bodies) surface as errs.ErrGateway so the orchestrator has one failure
// path regardless of cause.
package escrowapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sitetrade/backend/internal/errs"
	"github.com/sitetrade/backend/internal/models"
)

// Fixed contract values: one-off purchases initiated by the buyer, buyer
// pays provider fees, a week to deliver and to dispute, three days to
// inspect. Disputes are platform-mediated.
const (
	escrowType       = "onetime"
	initiatorRole    = "buyer"
	currency         = "USD"
	whoPayFees       = "buyer"
	deliveryDays     = 7
	disputeWindow    = 7
	inspectionPeriod = 3
)

// Recorder receives one audit entry per raw request/response so every
// external call is reconstructable even if parsing fails afterwards.
type Recorder interface {
	Log(ctx context.Context, e models.AuditLog) error
}

type Client struct {
	baseURL      string
	apiKey       string
	platformUUID string
	callbackURL  string
	httpClient   *http.Client
	audit        Recorder
	log          *zap.Logger
}

func NewClient(baseURL, apiKey, platformUUID, callbackURL string, timeout time.Duration, audit Recorder, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		platformUUID: platformUUID,
		callbackURL:  callbackURL,
		httpClient:   &http.Client{Timeout: timeout},
		audit:        audit,
		log:          log,
	}
}

type Party struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Payout struct {
	PayoutType    string `json:"payout_type"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankCode      string `json:"bank_code"`
}

type CreateEscrowParams struct {
	TransactionID uuid.UUID // local correlation, audit only
	Amount        decimal.Decimal
	Title         string
	Description   string
	Buyer         Party
	Seller        Party
	Payout        *Payout // nil: seller paid into provider wallet
}

// Escrow is the normalized provider-side view of an escrow.
type Escrow struct {
	EscrowID       string `json:"escrow_id"`
	PaymentURL     string `json:"payment_url"`
	TransactionRef string `json:"transaction_ref"`
	Provider       string `json:"provider"`
	Status         string `json:"status"`
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeRequest struct {
	UUID             string  `json:"uuid"`
	EscrowType       string  `json:"escrow_type"`
	InitiatorRole    string  `json:"initiator_role"`
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	Currency         string  `json:"currency"`
	Amount           string  `json:"amount"`
	DeliveryDate     string  `json:"delivery_date"`
	DisputeWindow    int     `json:"dispute_window"`
	InspectionPeriod int     `json:"inspection_period"`
	WhoPayFees       string  `json:"who_pay_fees"`
	BuyerDetails     Party   `json:"buyer_details"`
	SellerDetails    Party   `json:"seller_details"`
	Payout           *Payout `json:"payout,omitempty"`
	CallbackURL      string  `json:"callback_url"`
}

// CreateEscrow initializes a provider escrow for the buyer's total.
// Fail closed: a 2xx with a truthy status flag and both escrow_id and
// payment_url present is the only success.
func (c *Client) CreateEscrow(ctx context.Context, p CreateEscrowParams) (*Escrow, error) {
	req := initializeRequest{
		UUID:             c.platformUUID,
		EscrowType:       escrowType,
		InitiatorRole:    initiatorRole,
		Title:            p.Title,
		Description:      p.Description,
		Currency:         currency,
		Amount:           p.Amount.StringFixed(2),
		DeliveryDate:     time.Now().AddDate(0, 0, deliveryDays).Format("2006-01-02"),
		DisputeWindow:    disputeWindow,
		InspectionPeriod: inspectionPeriod,
		WhoPayFees:       whoPayFees,
		BuyerDetails:     p.Buyer,
		SellerDetails:    p.Seller,
		Payout:           p.Payout,
		CallbackURL:      c.callbackURL,
	}

	var entityID *uuid.UUID
	if p.TransactionID != uuid.Nil {
		entityID = &p.TransactionID
	}
	body, err := c.post(ctx, "/escrow/initialize", req, "escrow_initialize", entityID)
	if err != nil {
		return nil, err
	}
	esc, err := parseEscrow(body)
	if err != nil {
		return nil, err
	}
	if esc.EscrowID == "" || esc.PaymentURL == "" {
		return nil, fmt.Errorf("%w: initialize response missing escrow_id or payment_url", errs.ErrGateway)
	}
	return esc, nil
}

type completeRequest struct {
	EscrowID string `json:"escrow_id"`
	OTP      string `json:"otp,omitempty"`
}

// CompleteEscrow releases the held funds. This call IS the release; there
// is no local equivalent. The confirming party is recorded as the audit
// actor; the provider only needs the escrow id and optional OTP.
func (c *Client) CompleteEscrow(ctx context.Context, escrowID string, confirmingPartyID uuid.UUID, otp string) (*Escrow, error) {
	body, err := c.postAs(ctx, "/escrow/complete", completeRequest{EscrowID: escrowID, OTP: otp}, "escrow_complete", nil, &confirmingPartyID)
	if err != nil {
		return nil, err
	}
	return parseEscrow(body)
}

// GetEscrowDetails is the read-only reconciliation fetch. The request is
// audited like the POST paths so all three operations leave a symmetric
// request/response trail.
func (c *Client) GetEscrowDetails(ctx context.Context, escrowID string) (*Escrow, error) {
	_ = c.audit.Log(ctx, models.AuditLog{
		ActorType:  "gateway",
		Level:      models.AuditInfo,
		Action:     "escrow_details_request",
		EntityType: "transaction",
		Meta:       map[string]any{"escrow_id": escrowID},
	})

	url := fmt.Sprintf("%s/escrow/%s", c.baseURL, escrowID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrGateway, err)
	}
	httpReq.Header.Set("Token", c.apiKey)

	body, err := c.do(httpReq, "escrow_details", nil)
	if err != nil {
		return nil, err
	}
	esc, err := parseEscrow(body)
	if err != nil {
		return nil, err
	}
	if esc.EscrowID == "" {
		return nil, fmt.Errorf("%w: details response missing escrow_id", errs.ErrGateway)
	}
	return esc, nil
}

func (c *Client) post(ctx context.Context, path string, req any, action string, entityID *uuid.UUID) ([]byte, error) {
	return c.postAs(ctx, path, req, action, entityID, nil)
}

func (c *Client) postAs(ctx context.Context, path string, req any, action string, entityID, actorID *uuid.UUID) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrGateway, err)
	}

	_ = c.audit.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   "gateway",
		Level:       models.AuditInfo,
		Action:      action + "_request",
		EntityType:  "transaction",
		EntityID:    entityID,
		Meta:        json.RawMessage(MaskSensitiveJSON(payload)),
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrGateway, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Token", c.apiKey)

	return c.do(httpReq, action, entityID)
}

// do executes the request and records the raw (masked) response before any
// interpretation happens.
func (c *Client) do(httpReq *http.Request, action string, entityID *uuid.UUID) ([]byte, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		_ = c.audit.Log(httpReq.Context(), models.AuditLog{
			ActorType:  "gateway",
			Level:      models.AuditError,
			Action:     action + "_transport_error",
			EntityType: "transaction",
			EntityID:   entityID,
			Meta:       map[string]any{"error": err.Error()},
		})
		return nil, fmt.Errorf("%w: provider unreachable: %v", errs.ErrGateway, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	_ = c.audit.Log(httpReq.Context(), models.AuditLog{
		ActorType:  "gateway",
		Level:      models.AuditInfo,
		Action:     action + "_response",
		EntityType: "transaction",
		EntityID:   entityID,
		Meta: map[string]any{
			"status_code": resp.StatusCode,
			"body":        string(MaskSensitiveJSON(body)),
		},
	})

	if readErr != nil {
		return nil, fmt.Errorf("%w: reading response: %v", errs.ErrGateway, readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", errs.ErrGateway, providerMessage(body, fmt.Sprintf("provider returned %d", resp.StatusCode)))
	}
	return body, nil
}

func parseEscrow(body []byte) (*Escrow, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: provider returned non-JSON body", errs.ErrGateway)
	}
	if !env.Status {
		return nil, fmt.Errorf("%w: %s", errs.ErrGateway, firstNonEmpty(env.Message, "provider rejected the request"))
	}
	var esc Escrow
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &esc); err != nil {
			return nil, fmt.Errorf("%w: malformed data object", errs.ErrGateway)
		}
	}
	return &esc, nil
}

func providerMessage(body []byte, fallback string) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		return env.Message
	}
	return fallback
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
