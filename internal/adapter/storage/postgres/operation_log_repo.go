package postgres

import (
	"context"
	"fmt"

	"payment-ledger/internal/core/domain"
)

// OperationLogRepo implements ports.OperationLogRepository. Append-only.
type OperationLogRepo struct {
	pool Pool
}

// NewOperationLogRepo creates a new OperationLogRepo.
func NewOperationLogRepo(pool Pool) *OperationLogRepo {
	return &OperationLogRepo{pool: pool}
}

// Append writes one audit entry.
func (r *OperationLogRepo) Append(ctx context.Context, entry *domain.PaymentOperationLog) error {
	query := `INSERT INTO payment_operation_logs (
		id, tenant_id, transaction_id, operation, correlation_id,
		request_payload, response_payload, duration_ms, success,
		error_code, error_message, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.TenantID, entry.TransactionID, entry.Operation, entry.CorrelationID,
		entry.RequestPayload, entry.ResponsePayload, entry.DurationMs, entry.Success,
		entry.ErrorCode, entry.ErrorMessage, entry.Actor, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append operation log: %w", err)
	}
	return nil
}
