package escrowapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitetrade/backend/internal/errs"
	"github.com/sitetrade/backend/internal/models"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (r *recordingAudit) Log(_ context.Context, e models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingAudit) byAction(action string) []models.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AuditLog
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *recordingAudit) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	audit := &recordingAudit{}
	c := NewClient(srv.URL, "test-token", "platform-uuid", "https://platform.example.com/callback", 5*time.Second, audit, zap.NewNop())
	return c, audit
}

func sampleParams() CreateEscrowParams {
	return CreateEscrowParams{
		TransactionID: uuid.New(),
		Amount:        decimal.RequireFromString("105.00"),
		Title:         "Purchase: example.com",
		Buyer:         Party{Name: "Buyer", Email: "buyer@example.com"},
		Seller:        Party{Name: "Seller", Email: "seller@example.com"},
		Payout: &Payout{
			PayoutType:    "bank",
			BankName:      "First Bank",
			AccountNumber: "0123456789",
			AccountName:   "Seller",
			BankCode:      "011",
		},
	}
}

func TestCreateEscrowSuccess(t *testing.T) {
	var gotReq initializeRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/escrow/initialize", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("Token"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))

		json.NewEncoder(w).Encode(map[string]any{
			"status":  true,
			"message": "escrow created",
			"data": map[string]any{
				"escrow_id":       "esc_123",
				"payment_url":     "https://pay.example.com/esc_123",
				"transaction_ref": "ref_456",
				"provider":        "stub-provider",
				"status":          "pending_payment",
			},
		})
	})

	esc, err := c.CreateEscrow(context.Background(), sampleParams())
	require.NoError(t, err)
	assert.Equal(t, "esc_123", esc.EscrowID)
	assert.Equal(t, "https://pay.example.com/esc_123", esc.PaymentURL)
	assert.Equal(t, "ref_456", esc.TransactionRef)

	// Request carries the fixed contract values.
	assert.Equal(t, "platform-uuid", gotReq.UUID)
	assert.Equal(t, "onetime", gotReq.EscrowType)
	assert.Equal(t, "buyer", gotReq.InitiatorRole)
	assert.Equal(t, "buyer", gotReq.WhoPayFees)
	assert.Equal(t, "USD", gotReq.Currency)
	assert.Equal(t, "105.00", gotReq.Amount)
	assert.Equal(t, 7, gotReq.DisputeWindow)
	assert.Equal(t, 3, gotReq.InspectionPeriod)
}

func TestCreateEscrowNon2xx(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "maintenance window"})
	})

	_, err := c.CreateEscrow(context.Background(), sampleParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrGateway)
	assert.Contains(t, err.Error(), "maintenance window")
}

func TestCreateEscrowNonJSONBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway timeout</html>"))
	})

	_, err := c.CreateEscrow(context.Background(), sampleParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrGateway)
}

func TestCreateEscrowFalsyStatusFlag(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "invalid payout details"})
	})

	_, err := c.CreateEscrow(context.Background(), sampleParams())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrGateway)
	assert.Contains(t, err.Error(), "invalid payout details")
}

func TestCreateEscrowMissingFieldsFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"no escrow_id", map[string]any{"payment_url": "https://pay.example.com/x"}},
		{"no payment_url", map[string]any{"escrow_id": "esc_123"}},
		{"empty data", map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"status": true, "data": tt.data})
			})

			_, err := c.CreateEscrow(context.Background(), sampleParams())
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrGateway)
		})
	}
}

func TestCreateEscrowAuditsMaskedRequest(t *testing.T) {
	c, audit := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data":   map[string]any{"escrow_id": "esc_1", "payment_url": "https://pay.example.com/1"},
		})
	})

	_, err := c.CreateEscrow(context.Background(), sampleParams())
	require.NoError(t, err)

	reqs := audit.byAction("escrow_initialize_request")
	require.Len(t, reqs, 1)
	meta, err := json.Marshal(reqs[0].Meta)
	require.NoError(t, err)
	assert.NotContains(t, string(meta), "0123456789")
	assert.Contains(t, string(meta), "******6789")

	resps := audit.byAction("escrow_initialize_response")
	require.Len(t, resps, 1)
}

func TestCompleteEscrowRecordsConfirmingParty(t *testing.T) {
	c, audit := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/escrow/complete", r.URL.Path)
		var req completeRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "esc_123", req.EscrowID)
		assert.Equal(t, "994211", req.OTP)

		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data":   map[string]any{"escrow_id": "esc_123", "status": "released"},
		})
	})

	buyerID := uuid.New()
	esc, err := c.CompleteEscrow(context.Background(), "esc_123", buyerID, "994211")
	require.NoError(t, err)
	assert.Equal(t, "released", esc.Status)

	reqs := audit.byAction("escrow_complete_request")
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].ActorUserID)
	assert.Equal(t, buyerID, *reqs[0].ActorUserID)

	// OTP is masked in the audit trail.
	meta, err := json.Marshal(reqs[0].Meta)
	require.NoError(t, err)
	assert.NotContains(t, string(meta), "994211")
}

func TestGetEscrowDetails(t *testing.T) {
	c, audit := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/escrow/esc_123", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data":   map[string]any{"escrow_id": "esc_123", "status": "funded"},
		})
	})

	esc, err := c.GetEscrowDetails(context.Background(), "esc_123")
	require.NoError(t, err)
	assert.Equal(t, "funded", esc.Status)

	// The read leaves the same request/response pair as the POST paths.
	require.Len(t, audit.byAction("escrow_details_request"), 1)
	require.Len(t, audit.byAction("escrow_details_response"), 1)
}

func TestGetEscrowDetailsMissingIDFails(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": true, "data": map[string]any{"status": "funded"}})
	})

	_, err := c.GetEscrowDetails(context.Background(), "esc_123")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrGateway)
}

func TestClientUnreachableProvider(t *testing.T) {
	audit := &recordingAudit{}
	c := NewClient("http://127.0.0.1:1", "token", "uuid", "", time.Second, audit, zap.NewNop())

	_, err := c.GetEscrowDetails(context.Background(), "esc_123")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrGateway)
	assert.Len(t, audit.byAction("escrow_details_transport_error"), 1)
}

func TestMaskAccountNumber(t *testing.T) {
	assert.Equal(t, "******6789", MaskAccountNumber("0123456789"))
	assert.Equal(t, "****", MaskAccountNumber("1234"))
	assert.Equal(t, "**", MaskAccountNumber("12"))
	assert.Equal(t, "", MaskAccountNumber(""))
}

func TestMaskSensitiveJSONNested(t *testing.T) {
	in := []byte(`{"payout":{"account_number":"0123456789"},"items":[{"otp":"994211"}],"amount":"105.00"}`)
	out := MaskSensitiveJSON(in)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	payout := doc["payout"].(map[string]any)
	assert.Equal(t, "******6789", payout["account_number"])
	items := doc["items"].([]any)
	assert.Equal(t, "**4211", items[0].(map[string]any)["otp"])
	assert.Equal(t, "105.00", doc["amount"])
}

func TestMaskSensitiveJSONPassesThroughNonJSON(t *testing.T) {
	in := []byte("<html>not json</html>")
	assert.Equal(t, in, MaskSensitiveJSON(in))
}
