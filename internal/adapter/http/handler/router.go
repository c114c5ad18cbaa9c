package handler

import (
	"payment-ledger/internal/adapter/http/middleware"
	"payment-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	LedgerSvc      ports.LedgerService
	RefundSvc      ports.RefundService
	WebhookSvc     ports.WebhookIngestService
	CredentialSvc  ports.CredentialAdminService // nil = credential admin disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	v1 := r.Group("/api/v1")

	// --- Webhook ingestion (provider-signed, no tenant header) ---
	webhookHandler := NewWebhookHandler(deps.WebhookSvc)
	v1.POST("/payments/webhooks/:provider", webhookHandler.Receive)

	// --- Tenant-scoped routes ---
	tenant := middleware.TenantContext()

	txnHandler := NewTransactionHandler(deps.LedgerSvc)
	payments := v1.Group("/payments", tenant)
	{
		payments.POST("", txnHandler.Create)
		payments.GET("/:id", txnHandler.Get)
		payments.POST("/:id/transitions", txnHandler.Transition)
		payments.POST("/:id/fee", txnHandler.MarkFee)
	}

	refundHandler := NewRefundHandler(deps.RefundSvc)
	refunds := v1.Group("/refunds", tenant)
	{
		refunds.POST("", refundHandler.Request)
		refunds.GET("/:id", refundHandler.Get)
		refunds.POST("/:id/approve", refundHandler.Approve)
		refunds.POST("/:id/reject", refundHandler.Reject)
		refunds.POST("/:id/process", refundHandler.Process)
	}

	// --- Credential administration ---
	if deps.CredentialSvc != nil {
		credHandler := NewCredentialHandler(deps.CredentialSvc)
		admin := v1.Group("/admin/credentials", tenant)
		{
			admin.PUT("", credHandler.Upsert)
			admin.GET("", credHandler.List)
			admin.POST("/:provider/rotate", credHandler.Rotate)
		}
	}

	return r
}
