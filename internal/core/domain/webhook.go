package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WebhookProcessingStatus represents the outcome of an inbound delivery.
type WebhookProcessingStatus string

const (
	WebhookStatusReceived  WebhookProcessingStatus = "RECEIVED"
	WebhookStatusProcessed WebhookProcessingStatus = "PROCESSED"
	WebhookStatusIgnored   WebhookProcessingStatus = "IGNORED"
	WebhookStatusFailed    WebhookProcessingStatus = "FAILED"
)

// PaymentWebhookLog is one row per inbound webhook delivery.
// (provider, provider_event_id) is unique: a replayed delivery updates the
// existing row instead of creating a new one.
type PaymentWebhookLog struct {
	ID               uuid.UUID               `json:"id"`
	Provider         string                  `json:"provider"`
	EventType        string                  `json:"event_type"`
	ProviderEventID  string                  `json:"provider_event_id"`
	SignatureValid   bool                    `json:"signature_valid"`
	ProcessingStatus WebhookProcessingStatus `json:"processing_status"`
	RetryCount       int                     `json:"retry_count"`
	TransactionID    *uuid.UUID              `json:"transaction_id,omitempty"`
	Payload          string                  `json:"payload"`
	Error            *string                 `json:"error,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// WebhookEvent is a provider callback normalized by a gateway adapter.
// Payment events carry TransactionNum and TargetStatus; refund confirmation
// events carry RefundNum instead, plus the gateway's verdict.
type WebhookEvent struct {
	Provider        string            `json:"provider"`
	ProviderEventID string            `json:"provider_event_id"`
	EventType       string            `json:"event_type"` // Provider's raw event name
	GatewayTxnID    string            `json:"gateway_txn_id"`
	TransactionNum  string            `json:"transaction_num"` // Our number echoed back by the provider
	TargetStatus    TransactionStatus `json:"target_status"`
	Amount          decimal.Decimal   `json:"amount"`
	Fee             decimal.Decimal   `json:"fee"`
	FailureReason   *string           `json:"failure_reason,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`

	RefundNum       string `json:"refund_num,omitempty"` // Our refund number echoed back by the provider
	GatewayRefundID string `json:"gateway_refund_id,omitempty"`
	RefundSucceeded bool   `json:"refund_succeeded,omitempty"`
}

// IsRefund reports whether the event confirms an asynchronously accepted refund.
func (e *WebhookEvent) IsRefund() bool {
	return e.RefundNum != ""
}
