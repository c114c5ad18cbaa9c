package ports

import (
	"context"
	"time"

	"payment-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
)

// PaymentLinkRequest asks a provider to open a hosted payment page.
type PaymentLinkRequest struct {
	Transaction *domain.PaymentTransaction
	ReturnURL   string
	ExpiresAt   time.Time
}

// PaymentLink is the provider's hosted page for a transaction.
type PaymentLink struct {
	URL          string
	GatewayTxnID string
	ExpiresAt    time.Time
}

// RefundCall asks a provider to return money to the customer.
type RefundCall struct {
	Transaction *domain.PaymentTransaction
	Refund      *domain.Refund
}

// RefundResult is the provider's synchronous answer to a refund call.
// Completed=false means the provider accepted the request and will confirm
// through a webhook.
type RefundResult struct {
	GatewayRefundID string
	Completed       bool
}

// StatementEntry is one transaction in the provider's authoritative record.
type StatementEntry struct {
	GatewayTxnID   string
	TransactionNum string // Our number echoed back by the provider
	Status         domain.TransactionStatus
	Amount         decimal.Decimal
	PaidAt         *time.Time
}

// GatewayCapabilities advertises optional provider features.
type GatewayCapabilities struct {
	SupportsCod       bool
	SupportsInsurance bool
}

// GatewayAdapter translates ledger intents into provider-specific calls and
// normalizes provider payloads into common shapes. One implementation per
// provider; providers are added by adding implementations, not branches.
type GatewayAdapter interface {
	Code() string
	CreatePaymentLink(ctx context.Context, creds *domain.GatewayCredentials, req PaymentLinkRequest) (*PaymentLink, error)
	QueryTransaction(ctx context.Context, creds *domain.GatewayCredentials, gatewayTxnID string) (*StatementEntry, error)
	ExecuteRefund(ctx context.Context, creds *domain.GatewayCredentials, call RefundCall) (*RefundResult, error)
	FetchStatement(ctx context.Context, creds *domain.GatewayCredentials, from, to time.Time) ([]StatementEntry, error)
	VerifyWebhook(creds *domain.GatewayCredentials, payload []byte, signature string) bool
	ParseWebhook(payload []byte) (*domain.WebhookEvent, error)
	Capabilities() GatewayCapabilities
}

// GatewayRegistry resolves adapters by provider code.
type GatewayRegistry interface {
	Get(code string) (GatewayAdapter, error)
	Codes() []string
}
