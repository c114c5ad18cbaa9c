package ports

import (
	"context"
	"time"

	"payment-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TransactionRepository defines persistence for payment transactions.
// Methods accepting pgx.Tx run inside transaction blocks; GetByIDForUpdate
// takes the per-row lock that serializes concurrent transitions.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, txn *domain.PaymentTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentTransaction, error)
	GetByNumber(ctx context.Context, number string) (*domain.PaymentTransaction, error)
	Update(ctx context.Context, tx pgx.Tx, txn *domain.PaymentTransaction) error
	// ListByStatus returns transactions of one tenant/provider in a status,
	// created after since. Used by reconciliation and COD reminder scans.
	ListByStatus(ctx context.Context, tenantID uuid.UUID, provider string, status domain.TransactionStatus, since time.Time) ([]domain.PaymentTransaction, error)
	// NextSequence draws the next value for human-readable numbering.
	NextSequence(ctx context.Context) (int64, error)
}

// RefundRepository defines persistence for refunds.
type RefundRepository interface {
	Create(ctx context.Context, tx pgx.Tx, refund *domain.Refund) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Refund, error)
	GetByNumber(ctx context.Context, number string) (*domain.Refund, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Refund, error)
	Update(ctx context.Context, tx pgx.Tx, refund *domain.Refund) error
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.Refund, error)
	// SumCompletedByTransaction computes the completed-refund total guarding
	// the over-refund invariant. Must be read under the transaction row lock.
	SumCompletedByTransaction(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) (decimal.Decimal, error)
}

// WebhookLogRepository defines persistence for inbound webhook deliveries.
// Rows are append-only; only the processing outcome fields are updated.
type WebhookLogRepository interface {
	Insert(ctx context.Context, log *domain.PaymentWebhookLog) error
	GetByProviderEvent(ctx context.Context, provider, providerEventID string) (*domain.PaymentWebhookLog, error)
	UpdateOutcome(ctx context.Context, log *domain.PaymentWebhookLog) error
}

// OperationLogRepository appends to the audit trail. No reads, no deletes.
type OperationLogRepository interface {
	Append(ctx context.Context, entry *domain.PaymentOperationLog) error
}

// CredentialRepository defines persistence for gateway credential records.
type CredentialRepository interface {
	Create(ctx context.Context, rec *domain.GatewayCredentialRecord) error
	Update(ctx context.Context, rec *domain.GatewayCredentialRecord) error
	GetByProvider(ctx context.Context, provider string) (*domain.GatewayCredentialRecord, error)
	ListActive(ctx context.Context) ([]domain.GatewayCredentialRecord, error)
}

// IdempotencyRepository is the durable backstop behind the Redis fast path.
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, rec *domain.IdempotencyRecord) error
	// Get returns nil for an absent or expired record.
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
