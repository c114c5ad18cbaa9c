package handler

import (
	"bytes"
	"io"
	"time"

	"payment-ledger/internal/adapter/http/dto"
	"payment-ledger/internal/adapter/http/middleware"
	"payment-ledger/internal/core/domain"
	"payment-ledger/internal/core/ports"
	"payment-ledger/pkg/apperror"
	"payment-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TransactionHandler handles payment transaction endpoints.
type TransactionHandler struct {
	ledger ports.LedgerService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(ledger ports.LedgerService) *TransactionHandler {
	return &TransactionHandler{ledger: ledger}
}

// Create handles POST /api/v1/payments.
// The Idempotency-Key header is mandatory; replays return the transaction
// created by the first request.
func (h *TransactionHandler) Create(c *gin.Context) {
	idemKey := c.GetHeader(middleware.HeaderIdempotencyKey)
	if idemKey == "" {
		response.Error(c, apperror.Validation("Idempotency-Key header is required"))
		return
	}

	// The fingerprint covers the raw body so a replayed key with a
	// different payload can be detected.
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	orderID, _ := uuid.Parse(req.OrderID)
	customerID, _ := uuid.Parse(req.CustomerID)

	txn, err := h.ledger.Create(c.Request.Context(), ports.CreateTransactionRequest{
		TenantID:       tenantID(c),
		OrderID:        orderID,
		CustomerID:     customerID,
		Provider:       req.Provider,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         domain.PaymentMethod(req.Method),
		IdempotencyKey: idemKey,
		Fingerprint:    domain.Fingerprint(bodyBytes),
		Actor:          actor(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(txn))
}

// Get handles GET /api/v1/payments/:id.
func (h *TransactionHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	txn, err := h.ledger.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if txn == nil {
		response.Error(c, apperror.ErrNotFound("transaction"))
		return
	}

	response.OK(c, toTransactionResponse(txn))
}

// Transition handles POST /api/v1/payments/:id/transitions. Used by internal
// operators and the COD confirmation flow; gateway webhooks do not come
// through here.
func (h *TransactionHandler) Transition(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	txn, err := h.ledger.Transition(c.Request.Context(), id, domain.TransactionStatus(req.TargetStatus), ports.TransitionEvidence{
		Actor:         actor(c),
		Source:        "api",
		GatewayTxnID:  req.GatewayTxnID,
		FailureReason: req.FailureReason,
		CodCollector:  req.CodCollector,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionResponse(txn))
}

// MarkFee handles POST /api/v1/payments/:id/fee.
func (h *TransactionHandler) MarkFee(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	var req dto.MarkFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	if err := h.ledger.MarkFee(c.Request.Context(), id, req.Fee, actor(c)); err != nil {
		response.Error(c, err)
		return
	}

	txn, err := h.ledger.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionResponse(txn))
}

func tenantID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(middleware.CtxTenantID); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

func actor(c *gin.Context) string {
	if v, ok := c.Get(middleware.CtxActorID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "anonymous"
}

// toTransactionResponse converts domain.PaymentTransaction to DTO.
func toTransactionResponse(txn *domain.PaymentTransaction) dto.TransactionResponse {
	resp := dto.TransactionResponse{
		ID:             txn.ID.String(),
		Number:         txn.Number,
		OrderID:        txn.OrderID.String(),
		CustomerID:     txn.CustomerID.String(),
		Provider:       txn.Provider,
		GatewayTxnID:   txn.GatewayTxnID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		GatewayFee:     txn.GatewayFee,
		NetAmount:      txn.NetAmount,
		RefundedTotal:  txn.RefundedTotal,
		Status:         string(txn.Status),
		FailureReason:  txn.FailureReason,
		Method:         string(txn.Method),
		PaymentLinkURL: txn.PaymentLinkURL,
		CreatedAt:      txn.CreatedAt.Format(time.RFC3339),
	}
	if txn.PaidAt != nil {
		s := txn.PaidAt.Format(time.RFC3339)
		resp.PaidAt = &s
	}
	if txn.ExpiresAt != nil {
		s := txn.ExpiresAt.Format(time.RFC3339)
		resp.ExpiresAt = &s
	}
	return resp
}
