package domain

import (
	"time"

	"github.com/google/uuid"
)

// OperationType classifies an entry in the operation log.
type OperationType string

const (
	OperationCreateLink      OperationType = "CREATE_PAYMENT_LINK"
	OperationQueryStatus     OperationType = "QUERY_STATUS"
	OperationExecuteRefund   OperationType = "EXECUTE_REFUND"
	OperationFetchStatement  OperationType = "FETCH_STATEMENT"
	OperationTransition      OperationType = "LEDGER_TRANSITION"
	OperationReconcile       OperationType = "RECONCILE"
	OperationCredentialWrite OperationType = "CREDENTIAL_WRITE"
)

// PaymentOperationLog is an append-only record of every outbound gateway call
// and significant ledger transition. Never mutated, never deleted; used for
// audit and debugging, not control flow.
type PaymentOperationLog struct {
	ID              uuid.UUID     `json:"id"`
	TenantID        uuid.UUID     `json:"tenant_id"`
	TransactionID   *uuid.UUID    `json:"transaction_id,omitempty"`
	Operation       OperationType `json:"operation"`
	CorrelationID   string        `json:"correlation_id"`
	RequestPayload  string        `json:"request_payload"`  // Redacted JSON
	ResponsePayload string        `json:"response_payload"` // Redacted JSON
	DurationMs      int64         `json:"duration_ms"`
	Success         bool          `json:"success"`
	ErrorCode       *string       `json:"error_code,omitempty"`
	ErrorMessage    *string       `json:"error_message,omitempty"`
	Actor           string        `json:"actor"` // Actor id, "webhook", or "scheduler"
	CreatedAt       time.Time     `json:"created_at"`
}
