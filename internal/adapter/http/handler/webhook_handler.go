package handler

import (
	"io"

	"payment-ledger/internal/adapter/http/dto"
	"payment-ledger/internal/core/ports"
	"payment-ledger/pkg/apperror"
	"payment-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// HeaderWebhookSignature carries the provider's HMAC over the raw body.
const HeaderWebhookSignature = "X-Signature"

// WebhookHandler handles inbound gateway callbacks.
type WebhookHandler struct {
	ingest ports.WebhookIngestService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(ingest ports.WebhookIngestService) *WebhookHandler {
	return &WebhookHandler{ingest: ingest}
}

// Receive handles POST /api/v1/payments/webhooks/:provider.
// The raw body is passed through untouched; signature verification needs the
// exact bytes the provider signed.
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := c.Param("provider")

	rawPayload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}
	if len(rawPayload) == 0 {
		response.Error(c, apperror.Validation("empty webhook payload"))
		return
	}

	result, err := h.ingest.Ingest(c.Request.Context(), provider, rawPayload, c.GetHeader(HeaderWebhookSignature))
	if err != nil {
		response.Error(c, err)
		return
	}

	ack := dto.WebhookAckResponse{
		Status:       string(result.Status),
		Deduplicated: result.Deduplicated,
	}
	if result.TransactionID != nil {
		s := result.TransactionID.String()
		ack.Transaction = &s
	}

	response.OK(c, ack)
}
