package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMethod represents how the customer pays.
type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "CARD"
	PaymentMethodWallet PaymentMethod = "WALLET"
	PaymentMethodQR     PaymentMethod = "QR"
	PaymentMethodCod    PaymentMethod = "COD"
)

// TransactionStatus represents the lifecycle state of a payment transaction.
type TransactionStatus string

const (
	TransactionStatusPending        TransactionStatus = "PENDING"
	TransactionStatusProcessing     TransactionStatus = "PROCESSING"
	TransactionStatusRequiresAction TransactionStatus = "REQUIRES_ACTION"
	TransactionStatusAuthorized     TransactionStatus = "AUTHORIZED"
	TransactionStatusPaid           TransactionStatus = "PAID"
	TransactionStatusPartialRefund  TransactionStatus = "PARTIAL_REFUND"
	TransactionStatusRefunded       TransactionStatus = "REFUNDED"
	TransactionStatusFailed         TransactionStatus = "FAILED"
	TransactionStatusCancelled      TransactionStatus = "CANCELLED"
	TransactionStatusExpired        TransactionStatus = "EXPIRED"
	TransactionStatusCodPending     TransactionStatus = "COD_PENDING"
	TransactionStatusCodCollected   TransactionStatus = "COD_COLLECTED"
)

// transitionGraph lists the allowed edges of the transaction state machine.
// Forward jumps along the main chain are legal: gateways commonly report
// "paid" without an intermediate "processing" callback.
var transitionGraph = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusProcessing,
		TransactionStatusRequiresAction,
		TransactionStatusAuthorized,
		TransactionStatusPaid,
		TransactionStatusFailed,
		TransactionStatusCancelled,
		TransactionStatusExpired,
		TransactionStatusCodPending,
	},
	TransactionStatusProcessing: {
		TransactionStatusRequiresAction,
		TransactionStatusAuthorized,
		TransactionStatusPaid,
		TransactionStatusFailed,
		TransactionStatusExpired,
	},
	TransactionStatusRequiresAction: {
		TransactionStatusAuthorized,
		TransactionStatusPaid,
	},
	TransactionStatusAuthorized: {
		TransactionStatusPaid,
	},
	TransactionStatusPaid: {
		TransactionStatusPartialRefund,
		TransactionStatusRefunded,
	},
	TransactionStatusPartialRefund: {
		TransactionStatusRefunded,
	},
	TransactionStatusCodPending: {
		TransactionStatusCodCollected,
		TransactionStatusCancelled,
	},
	TransactionStatusCodCollected: {
		TransactionStatusPartialRefund,
		TransactionStatusRefunded,
	},
}

// statusRank orders statuses along the lifecycle. A webhook targeting a rank
// at or below the current one is stale and must be ignored, never applied.
var statusRank = map[TransactionStatus]int{
	TransactionStatusPending:        10,
	TransactionStatusCodPending:     15,
	TransactionStatusProcessing:     20,
	TransactionStatusRequiresAction: 30,
	TransactionStatusAuthorized:     40,
	TransactionStatusPaid:           50,
	TransactionStatusCodCollected:   55,
	TransactionStatusPartialRefund:  60,
	TransactionStatusRefunded:       70,
	TransactionStatusFailed:         90,
	TransactionStatusCancelled:      90,
	TransactionStatusExpired:        90,
}

// CanTransitionTo reports whether the edge s -> to exists in the graph.
func (s TransactionStatus) CanTransitionTo(to TransactionStatus) bool {
	for _, next := range transitionGraph[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Rank returns the lifecycle ordering of the status. Unknown statuses rank 0.
func (s TransactionStatus) Rank() int {
	return statusRank[s]
}

// IsTerminal returns true if no outgoing edges remain.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusFailed, TransactionStatusCancelled,
		TransactionStatusExpired, TransactionStatusRefunded:
		return true
	}
	return false
}

// PaymentTransaction is one payment attempt tracked by the ledger.
type PaymentTransaction struct {
	ID               uuid.UUID         `json:"id"`
	Number           string            `json:"number"` // Human-readable, e.g. TXN-20260828-00000001
	TenantID         uuid.UUID         `json:"tenant_id"`
	OrderID          uuid.UUID         `json:"order_id"`
	CustomerID       uuid.UUID         `json:"customer_id"`
	Provider         string            `json:"provider"`                  // Gateway code, e.g. vnpay
	GatewayTxnID     *string           `json:"gateway_txn_id,omitempty"`  // Provider-assigned id
	Amount           decimal.Decimal   `json:"amount"`
	Currency         string            `json:"currency"`
	GatewayFee       decimal.Decimal   `json:"gateway_fee"`
	NetAmount        decimal.Decimal   `json:"net_amount"`        // Amount - fee, once fee known
	RefundedTotal    decimal.Decimal   `json:"refunded_total"`    // Sum of completed refunds
	Status           TransactionStatus `json:"status"`
	FailureReason    *string           `json:"failure_reason,omitempty"`
	Method           PaymentMethod     `json:"method"`
	IdempotencyKey   string            `json:"idempotency_key"`
	PaymentLinkURL   *string           `json:"payment_link_url,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	PaidAt           *time.Time        `json:"paid_at,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	CodCollectorName *string           `json:"cod_collector_name,omitempty"`
	CodCollectedAt   *time.Time        `json:"cod_collected_at,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// IsRefundable returns true if a refund may be requested against this transaction.
func (t *PaymentTransaction) IsRefundable() bool {
	switch t.Status {
	case TransactionStatusPaid, TransactionStatusPartialRefund, TransactionStatusCodCollected:
		return true
	}
	return false
}

// RefundableRemaining returns the amount still eligible for refund.
func (t *PaymentTransaction) RefundableRemaining() decimal.Decimal {
	return t.Amount.Sub(t.RefundedTotal)
}
