package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RefundStatus represents the lifecycle state of a refund.
type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "PENDING"
	RefundStatusApproved   RefundStatus = "APPROVED"
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusCompleted  RefundStatus = "COMPLETED"
	RefundStatusRejected   RefundStatus = "REJECTED"
	RefundStatusFailed     RefundStatus = "FAILED"
)

var refundGraph = map[RefundStatus][]RefundStatus{
	RefundStatusPending:    {RefundStatusApproved, RefundStatusRejected},
	RefundStatusApproved:   {RefundStatusProcessing, RefundStatusFailed},
	RefundStatusProcessing: {RefundStatusCompleted, RefundStatusFailed},
}

// CanTransitionTo reports whether the edge s -> to exists in the refund graph.
func (s RefundStatus) CanTransitionTo(to RefundStatus) bool {
	for _, next := range refundGraph[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the refund reached a final state.
func (s RefundStatus) IsTerminal() bool {
	switch s {
	case RefundStatusCompleted, RefundStatusRejected, RefundStatusFailed:
		return true
	}
	return false
}

// Refund is one refund request against a payment transaction.
type Refund struct {
	ID              uuid.UUID       `json:"id"`
	Number          string          `json:"number"` // e.g. RF-20260828-00000001
	TenantID        uuid.UUID       `json:"tenant_id"`
	TransactionID   uuid.UUID       `json:"transaction_id"`
	GatewayRefundID *string         `json:"gateway_refund_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Status          RefundStatus    `json:"status"`
	Reason          string          `json:"reason"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	RequestedBy     string          `json:"requested_by"`
	ApprovedBy      *string         `json:"approved_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
