package handler

import (
	"time"

	"payment-ledger/internal/adapter/http/dto"
	"payment-ledger/internal/core/domain"
	"payment-ledger/internal/core/ports"
	"payment-ledger/pkg/apperror"
	"payment-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RefundHandler handles refund workflow endpoints.
type RefundHandler struct {
	refunds ports.RefundService
}

// NewRefundHandler creates a new RefundHandler.
func NewRefundHandler(refunds ports.RefundService) *RefundHandler {
	return &RefundHandler{refunds: refunds}
}

// Request handles POST /api/v1/refunds.
func (h *RefundHandler) Request(c *gin.Context) {
	var req dto.CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	transactionID, _ := uuid.Parse(req.TransactionID)

	rf, err := h.refunds.Request(c.Request.Context(), ports.RefundRequest{
		TenantID:      tenantID(c),
		TransactionID: transactionID,
		Amount:        req.Amount,
		Reason:        req.Reason,
		RequestedBy:   actor(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toRefundResponse(rf))
}

// Approve handles POST /api/v1/refunds/:id/approve.
func (h *RefundHandler) Approve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	rf, err := h.refunds.Approve(c.Request.Context(), id, actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toRefundResponse(rf))
}

// Reject handles POST /api/v1/refunds/:id/reject.
func (h *RefundHandler) Reject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	var req dto.RejectRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	rf, err := h.refunds.Reject(c.Request.Context(), id, req.Reason, actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toRefundResponse(rf))
}

// Process handles POST /api/v1/refunds/:id/process. The gateway call may
// complete asynchronously, in which case the refund stays PROCESSING.
func (h *RefundHandler) Process(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	rf, err := h.refunds.Process(c.Request.Context(), id, actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	if rf.Status == domain.RefundStatusProcessing {
		response.Accepted(c, toRefundResponse(rf))
		return
	}
	response.OK(c, toRefundResponse(rf))
}

// Get handles GET /api/v1/refunds/:id.
func (h *RefundHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return
	}

	rf, err := h.refunds.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if rf == nil {
		response.Error(c, apperror.ErrNotFound("refund"))
		return
	}

	response.OK(c, toRefundResponse(rf))
}

// toRefundResponse converts domain.Refund to DTO.
func toRefundResponse(rf *domain.Refund) dto.RefundResponse {
	resp := dto.RefundResponse{
		ID:              rf.ID.String(),
		Number:          rf.Number,
		TransactionID:   rf.TransactionID.String(),
		GatewayRefundID: rf.GatewayRefundID,
		Amount:          rf.Amount,
		Status:          string(rf.Status),
		Reason:          rf.Reason,
		RejectionReason: rf.RejectionReason,
		RequestedBy:     rf.RequestedBy,
		ApprovedBy:      rf.ApprovedBy,
		CreatedAt:       rf.CreatedAt.Format(time.RFC3339),
	}
	if rf.ProcessedAt != nil {
		s := rf.ProcessedAt.Format(time.RFC3339)
		resp.ProcessedAt = &s
	}
	return resp
}
