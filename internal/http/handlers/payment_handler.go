package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sitetrade/backend/internal/errs"
	"github.com/sitetrade/backend/internal/http/dto"
	"github.com/sitetrade/backend/internal/middleware"
	"github.com/sitetrade/backend/internal/services"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	payments *services.PaymentService
	log      *zap.Logger
}

func NewPaymentHandler(payments *services.PaymentService, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, log: log}
}

// respondError maps service sentinels to HTTP statuses. Crypto and
// persistence details never reach the client.
func (h *PaymentHandler) respondError(c *fiber.Ctx, err error) error {
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)

	switch {
	case errors.Is(err, errs.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: reqID})
	case errors.Is(err, errs.ErrAuthorization):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: reqID})
	case errors.Is(err, errs.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: reqID})
	case errors.Is(err, errs.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: reqID})
	case errors.Is(err, errs.ErrGateway):
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "payment provider unavailable", RequestID: reqID})
	case errors.Is(err, errs.ErrEncryption), errors.Is(err, errs.ErrDecryption):
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "processing failed", RequestID: reqID})
	default:
		h.log.Error("unhandled service error", zap.String("request_id", reqID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error", RequestID: reqID})
	}
}

func (h *PaymentHandler) InitiatePayment(c *fiber.Ctx) error {
	var req dto.InitiatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid listing_id"})
	}

	buyerID := middleware.GetUserID(c)
	checkout, err := h.payments.InitiatePayment(c.Context(), listingID, buyerID)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.CheckoutResponse{
		Transaction: checkout.Transaction,
		PaymentURL:  checkout.PaymentURL,
	}})
}

func (h *PaymentHandler) GetTransaction(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	callerID := middleware.GetUserID(c)
	tx, err := h.payments.GetTransaction(c.Context(), id, callerID)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: tx})
}

func (h *PaymentHandler) ListTransactions(c *fiber.Ctx) error {
	callerID := middleware.GetUserID(c)

	limit, offset := 20, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	var status *string
	if v := c.Query("status"); v != "" {
		status = &v
	}

	txs, err := h.payments.ListTransactions(c.Context(), callerID, c.Query("role"), status, limit, offset)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: txs})
}

func (h *PaymentHandler) SubmitCredentials(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	var req dto.SubmitCredentialsRequest
	if err := c.BodyParser(&req); err != nil || len(req.Fields) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "fields are required"})
	}

	actorID := middleware.GetUserID(c)
	if err := h.payments.SubmitCredentials(c.Context(), id, actorID, req.Fields); err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *PaymentHandler) RevealCredentials(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	callerID := middleware.GetUserID(c)
	payload, err := h.payments.RevealCredentials(c.Context(), id, callerID)
	if err != nil {
		return h.respondError(c, err)
	}

	category, _ := payload["_category"].(string)
	fields := make(map[string]any, len(payload))
	for k, v := range payload {
		if strings.HasPrefix(k, "_") {
			continue
		}
		fields[k] = v
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.CredentialsResponse{
		Category: category,
		Fields:   fields,
	}})
}

func (h *PaymentHandler) ConfirmReceipt(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	var req dto.ConfirmReceiptRequest
	_ = c.BodyParser(&req)

	actorID := middleware.GetUserID(c)
	if err := h.payments.ConfirmReceipt(c.Context(), id, actorID, req.OTP); err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *PaymentHandler) ReportIssue(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	var req dto.ReportIssueRequest
	if err := c.BodyParser(&req); err != nil || req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "reason is required"})
	}

	actorID := middleware.GetUserID(c)
	dispute, err := h.payments.ReportIssue(c.Context(), id, actorID, req.Reason)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dispute})
}

func (h *PaymentHandler) GetTransactionEvents(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid transaction id"})
	}

	callerID := middleware.GetUserID(c)
	events, err := h.payments.TransactionEvents(c.Context(), id, callerID)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: events})
}
