package handler

import (
	"time"

	"payment-ledger/internal/adapter/http/dto"
	"payment-ledger/internal/core/domain"
	"payment-ledger/internal/core/ports"
	"payment-ledger/pkg/apperror"
	"payment-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// CredentialHandler handles gateway credential administration.
type CredentialHandler struct {
	creds ports.CredentialAdminService
}

// NewCredentialHandler creates a new CredentialHandler.
func NewCredentialHandler(creds ports.CredentialAdminService) *CredentialHandler {
	return &CredentialHandler{creds: creds}
}

// Upsert handles PUT /api/v1/admin/credentials.
func (h *CredentialHandler) Upsert(c *gin.Context) {
	var req dto.UpsertCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	rec, err := h.creds.Upsert(c.Request.Context(), ports.UpsertCredentialInput{
		TenantID:    tenantID(c),
		Provider:    req.Provider,
		Environment: domain.GatewayEnvironment(req.Environment),
		Credentials: domain.GatewayCredentials{
			MerchantCode:  req.MerchantCode,
			APIKey:        req.APIKey,
			WebhookSecret: req.WebhookSecret,
			Endpoint:      req.Endpoint,
		},
		SupportedCurrencies: req.SupportedCurrencies,
		MinAmount:           req.MinAmount,
		MaxAmount:           req.MaxAmount,
		SupportsCod:         req.SupportsCod,
		SupportsInsurance:   req.SupportsInsurance,
		Active:              req.Active,
		Actor:               actor(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toCredentialResponse(rec))
}

// Rotate handles POST /api/v1/admin/credentials/:provider/rotate.
func (h *CredentialHandler) Rotate(c *gin.Context) {
	provider := c.Param("provider")

	rec, err := h.creds.Rotate(c.Request.Context(), provider, actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toCredentialResponse(rec))
}

// List handles GET /api/v1/admin/credentials.
func (h *CredentialHandler) List(c *gin.Context) {
	recs, err := h.creds.ListActive(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.CredentialResponse, 0, len(recs))
	for i := range recs {
		out = append(out, toCredentialResponse(&recs[i]))
	}
	response.OK(c, out)
}

// toCredentialResponse converts a record to its DTO, omitting the sealed blob.
func toCredentialResponse(rec *domain.GatewayCredentialRecord) dto.CredentialResponse {
	return dto.CredentialResponse{
		ID:                  rec.ID.String(),
		Provider:            rec.Provider,
		Environment:         string(rec.Environment),
		KeyID:               rec.KeyID,
		SupportedCurrencies: rec.SupportedCurrencies,
		MinAmount:           rec.MinAmount,
		MaxAmount:           rec.MaxAmount,
		SupportsCod:         rec.SupportsCod,
		SupportsInsurance:   rec.SupportsInsurance,
		Active:              rec.Active,
		UpdatedAt:           rec.UpdatedAt.Format(time.RFC3339),
	}
}
