package dto

import "github.com/shopspring/decimal"

// CreatePaymentRequest is the request body for payment creation.
type CreatePaymentRequest struct {
	OrderID    string          `json:"order_id" binding:"required,uuid"`
	CustomerID string          `json:"customer_id" binding:"required,uuid"`
	Provider   string          `json:"provider" binding:"required,safe_id,max=32"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	Currency   string          `json:"currency" binding:"required,len=3"`
	Method     string          `json:"method" binding:"required,oneof=CARD WALLET QR COD"`
}

// TransitionRequest is the request body for a manual status transition.
type TransitionRequest struct {
	TargetStatus  string  `json:"target_status" binding:"required"`
	GatewayTxnID  *string `json:"gateway_txn_id,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
	CodCollector  *string `json:"cod_collector,omitempty"`
}

// MarkFeeRequest is the request body for recording a gateway fee.
type MarkFeeRequest struct {
	Fee decimal.Decimal `json:"fee" binding:"required"`
}

// TransactionResponse is the response body for payment transactions.
type TransactionResponse struct {
	ID             string          `json:"id"`
	Number         string          `json:"number"`
	OrderID        string          `json:"order_id"`
	CustomerID     string          `json:"customer_id"`
	Provider       string          `json:"provider"`
	GatewayTxnID   *string         `json:"gateway_txn_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	GatewayFee     decimal.Decimal `json:"gateway_fee"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	RefundedTotal  decimal.Decimal `json:"refunded_total"`
	Status         string          `json:"status"`
	FailureReason  *string         `json:"failure_reason,omitempty"`
	Method         string          `json:"method"`
	PaymentLinkURL *string         `json:"payment_link_url,omitempty"`
	CreatedAt      string          `json:"created_at"`
	PaidAt         *string         `json:"paid_at,omitempty"`
	ExpiresAt      *string         `json:"expires_at,omitempty"`
}

// CreateRefundRequest is the request body for requesting a refund.
type CreateRefundRequest struct {
	TransactionID string          `json:"transaction_id" binding:"required,uuid"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	Reason        string          `json:"reason" binding:"required,max=500"`
}

// RejectRefundRequest is the request body for rejecting a refund.
type RejectRefundRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// RefundResponse is the response body for refunds.
type RefundResponse struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	TransactionID   string          `json:"transaction_id"`
	GatewayRefundID *string         `json:"gateway_refund_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	Reason          string          `json:"reason"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	RequestedBy     string          `json:"requested_by"`
	ApprovedBy      *string         `json:"approved_by,omitempty"`
	CreatedAt       string          `json:"created_at"`
	ProcessedAt     *string         `json:"processed_at,omitempty"`
}

// WebhookAckResponse acknowledges an inbound provider callback.
type WebhookAckResponse struct {
	Status       string  `json:"status"`
	Deduplicated bool    `json:"deduplicated"`
	Transaction  *string `json:"transaction_id,omitempty"`
}

// UpsertCredentialRequest is the request body for configuring a gateway.
type UpsertCredentialRequest struct {
	Provider            string          `json:"provider" binding:"required,safe_id,max=32"`
	Environment         string          `json:"environment" binding:"required,oneof=SANDBOX LIVE"`
	MerchantCode        string          `json:"merchant_code" binding:"required"`
	APIKey              string          `json:"api_key" binding:"required"`
	WebhookSecret       string          `json:"webhook_secret" binding:"required"`
	Endpoint            string          `json:"endpoint" binding:"required,safe_url"`
	SupportedCurrencies []string        `json:"supported_currencies" binding:"required,min=1"`
	MinAmount           decimal.Decimal `json:"min_amount"`
	MaxAmount           decimal.Decimal `json:"max_amount"`
	SupportsCod         bool            `json:"supports_cod"`
	SupportsInsurance   bool            `json:"supports_insurance"`
	Active              bool            `json:"active"`
}

// CredentialResponse is the response body for credential records. The
// encrypted blob and plaintext credentials are never echoed back.
type CredentialResponse struct {
	ID                  string          `json:"id"`
	Provider            string          `json:"provider"`
	Environment         string          `json:"environment"`
	KeyID               string          `json:"key_id"`
	SupportedCurrencies []string        `json:"supported_currencies"`
	MinAmount           decimal.Decimal `json:"min_amount"`
	MaxAmount           decimal.Decimal `json:"max_amount"`
	SupportsCod         bool            `json:"supports_cod"`
	SupportsInsurance   bool            `json:"supports_insurance"`
	Active              bool            `json:"active"`
	UpdatedAt           string          `json:"updated_at"`
}
