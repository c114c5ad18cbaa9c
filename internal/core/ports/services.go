package ports

import (
	"context"
	"time"

	"payment-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EncryptionService is the credential vault: AES-256-GCM with a fresh random
// nonce per call, keyed by a data key derived from the master key and KeyID.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	// DecryptWithKeyID decrypts a blob sealed under an older data key.
	// Used during credential rotation.
	DecryptWithKeyID(keyID, ciphertext string) (string, error)
	KeyID() string
}

// SignatureService handles HMAC-SHA256 signing and verification of webhook
// payloads. Verify uses constant-time comparison.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// EventPublisher delivers domain events to the order module and notification
// consumers.
type EventPublisher interface {
	Publish(evt domain.Event) error
}

// IdempotencyStore is the atomic compare-and-set in front of the ledger.
// Acquire is the only place where two concurrent callers with the same key
// must deterministically agree on one winner.
type IdempotencyStore interface {
	// Acquire atomically claims key with a placeholder value.
	// Returns true if this caller won, false if the key already exists.
	Acquire(ctx context.Context, key string, placeholder []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error) // nil if absent
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Release(ctx context.Context, key string) error // Drops a placeholder after a failed create
}

// RunLockStore serializes reconciliation runs: one in flight per gateway per
// tenant.
type RunLockStore interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, name string) error
}

// CredentialResolver decrypts a provider's credential blob on demand.
type CredentialResolver interface {
	Resolve(ctx context.Context, provider string) (*domain.GatewayCredentials, *domain.GatewayCredentialRecord, error)
}

// --- Service Ports (Business Logic) ---

// LedgerService owns the payment transaction state machine.
type LedgerService interface {
	Create(ctx context.Context, req CreateTransactionRequest) (*domain.PaymentTransaction, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error)
	Transition(ctx context.Context, id uuid.UUID, target domain.TransactionStatus, evidence TransitionEvidence) (*domain.PaymentTransaction, error)
	MarkFee(ctx context.Context, id uuid.UUID, fee decimal.Decimal, actor string) error
	// ApplyRefund decrements the refundable-remaining view. Invoked only by
	// the refund workflow after a refund completes.
	ApplyRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, actor string) error
}

// CreateTransactionRequest holds validated input for transaction creation.
type CreateTransactionRequest struct {
	TenantID       uuid.UUID
	OrderID        uuid.UUID
	CustomerID     uuid.UUID
	Provider       string
	Amount         decimal.Decimal
	Currency       string
	Method         domain.PaymentMethod
	IdempotencyKey string
	Fingerprint    string
	Actor          string
}

// TransitionEvidence carries the facts justifying a status change.
type TransitionEvidence struct {
	Actor         string // Actor id, "webhook" or "scheduler"
	Source        string // api, webhook, reconciliation
	GatewayTxnID  *string
	Fee           decimal.Decimal
	FailureReason *string
	CodCollector  *string
	OccurredAt    time.Time
}

// RefundService owns the refund state machine and approval policy.
type RefundService interface {
	Request(ctx context.Context, req RefundRequest) (*domain.Refund, error)
	Approve(ctx context.Context, refundID uuid.UUID, approvedBy string) (*domain.Refund, error)
	Reject(ctx context.Context, refundID uuid.UUID, reason, actor string) (*domain.Refund, error)
	Process(ctx context.Context, refundID uuid.UUID, actor string) (*domain.Refund, error)
	// Confirm settles a refund the gateway accepted asynchronously. Idempotent
	// on a refund that already reached a terminal state.
	Confirm(ctx context.Context, number string, conf RefundConfirmation) (*domain.Refund, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Refund, error)
}

// RefundConfirmation carries the gateway's final verdict on an async refund.
type RefundConfirmation struct {
	GatewayRefundID string
	Succeeded       bool
	FailureReason   *string
	OccurredAt      time.Time
}

// RefundRequest holds validated input for a refund request.
type RefundRequest struct {
	TenantID      uuid.UUID
	TransactionID uuid.UUID
	Amount        decimal.Decimal
	Reason        string
	RequestedBy   string
}

// CredentialAdminService manages gateway credential records.
type CredentialAdminService interface {
	Upsert(ctx context.Context, in UpsertCredentialInput) (*domain.GatewayCredentialRecord, error)
	// Rotate re-encrypts a provider's blob under the vault's current data key.
	Rotate(ctx context.Context, provider, actor string) (*domain.GatewayCredentialRecord, error)
	ListActive(ctx context.Context) ([]domain.GatewayCredentialRecord, error)
}

// UpsertCredentialInput carries one provider configuration write.
type UpsertCredentialInput struct {
	TenantID            uuid.UUID
	Provider            string
	Environment         domain.GatewayEnvironment
	Credentials         domain.GatewayCredentials
	SupportedCurrencies []string
	MinAmount           decimal.Decimal
	MaxAmount           decimal.Decimal
	SupportsCod         bool
	SupportsInsurance   bool
	Active              bool
	Actor               string
}

// IngestResult is the acknowledgment returned to the webhook caller.
type IngestResult struct {
	Status        domain.WebhookProcessingStatus
	Deduplicated  bool
	TransactionID *uuid.UUID
}

// WebhookIngestService verifies, deduplicates and applies provider callbacks.
type WebhookIngestService interface {
	Ingest(ctx context.Context, provider string, rawPayload []byte, signatureHeader string) (*IngestResult, error)
}

// ReconciliationService compares ledger state against gateway records.
type ReconciliationService interface {
	// RunOnce reconciles every active gateway. Cancellable between gateways.
	RunOnce(ctx context.Context) error
	// Start blocks, running on the configured interval until ctx is done.
	Start(ctx context.Context)
}
