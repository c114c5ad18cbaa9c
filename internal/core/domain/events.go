package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType identifies a domain event on the bus.
type EventType string

const (
	EventPaymentPaid            EventType = "payment.paid"
	EventPaymentFailed          EventType = "payment.failed"
	EventRefundCompleted        EventType = "refund.completed"
	EventCodCollectionReminder  EventType = "cod.collection_reminder"
	EventReconciliationMismatch EventType = "reconciliation.mismatch"
)

// Event is the envelope published for consumers (order module, notifications).
// Consumers are expected to be idempotent on the event ID.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       EventType `json:"type"`
	TenantID   uuid.UUID `json:"tenant_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// NewEvent builds an event envelope with a fresh id and timestamp.
func NewEvent(eventType EventType, tenantID uuid.UUID, payload any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// PaymentPaidEvent notifies the order module of a successful payment.
type PaymentPaidEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Number        string          `json:"number"`
	OrderID       uuid.UUID       `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaidAt        time.Time       `json:"paid_at"`
}

// PaymentFailedEvent notifies the order module of a terminal failure.
type PaymentFailedEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Number        string          `json:"number"`
	OrderID       uuid.UUID       `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"` // FAILED, CANCELLED or EXPIRED
	Reason        string          `json:"reason"`
}

// RefundCompletedEvent notifies consumers that money went back to the customer.
type RefundCompletedEvent struct {
	RefundID      uuid.UUID       `json:"refund_id"`
	Number        string          `json:"number"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	ProcessedAt   time.Time       `json:"processed_at"`
}

// CodCollectionReminderEvent flags a COD transaction awaiting collection.
type CodCollectionReminderEvent struct {
	TransactionID    uuid.UUID       `json:"transaction_id"`
	Number           string          `json:"number"`
	Amount           decimal.Decimal `json:"amount"`
	HoursOutstanding int             `json:"hours_outstanding"`
}

// ReconciliationMismatchEvent flags drift between the ledger and the gateway.
// Mismatches are never auto-corrected; an operator resolves them through
// the normal transition path.
type ReconciliationMismatchEvent struct {
	Provider      string     `json:"provider"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	Number        string     `json:"number"`
	LocalStatus   string     `json:"local_status"`
	RemoteStatus  string     `json:"remote_status"`
	Detail        string     `json:"detail"`
	AlertEmail    string     `json:"alert_email,omitempty"`
}
