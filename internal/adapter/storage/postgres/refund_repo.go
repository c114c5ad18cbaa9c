package postgres

import (
	"context"
	"errors"
	"fmt"

	"payment-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const refundColumns = `id, number, tenant_id, transaction_id, gateway_refund_id, amount, status,
	reason, rejection_reason, requested_by, approved_by, created_at, processed_at, updated_at`

// RefundRepo implements ports.RefundRepository.
type RefundRepo struct {
	pool Pool
}

// NewRefundRepo creates a new RefundRepo.
func NewRefundRepo(pool Pool) *RefundRepo {
	return &RefundRepo{pool: pool}
}

// Create inserts a new refund within a database transaction.
func (r *RefundRepo) Create(ctx context.Context, tx pgx.Tx, rf *domain.Refund) error {
	query := `INSERT INTO refunds (` + refundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := tx.Exec(ctx, query,
		rf.ID, rf.Number, rf.TenantID, rf.TransactionID, rf.GatewayRefundID, rf.Amount, rf.Status,
		rf.Reason, rf.RejectionReason, rf.RequestedBy, rf.ApprovedBy, rf.CreatedAt, rf.ProcessedAt, rf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// GetByID fetches a refund by UUID.
func (r *RefundRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1`
	return scanRefund(r.pool.QueryRow(ctx, query, id))
}

// GetByNumber fetches a refund by its human-readable number.
func (r *RefundRepo) GetByNumber(ctx context.Context, number string) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE number = $1`
	return scanRefund(r.pool.QueryRow(ctx, query, number))
}

// GetByIDForUpdate fetches a refund with a row lock.
func (r *RefundRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1 FOR UPDATE`
	return scanRefund(tx.QueryRow(ctx, query, id))
}

// Update writes all mutable fields within a database transaction.
func (r *RefundRepo) Update(ctx context.Context, tx pgx.Tx, rf *domain.Refund) error {
	query := `UPDATE refunds SET
		gateway_refund_id = $1, status = $2, rejection_reason = $3, approved_by = $4,
		processed_at = $5, updated_at = $6
		WHERE id = $7`

	tag, err := tx.Exec(ctx, query,
		rf.GatewayRefundID, rf.Status, rf.RejectionReason, rf.ApprovedBy,
		rf.ProcessedAt, rf.UpdatedAt, rf.ID,
	)
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("refund not found: %s", rf.ID)
	}
	return nil
}

// ListByTransaction returns all refunds against one transaction.
func (r *RefundRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE transaction_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		rf := domain.Refund{}
		if err := scanRefundInto(rows, &rf); err != nil {
			return nil, err
		}
		refunds = append(refunds, rf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refunds: %w", err)
	}
	return refunds, nil
}

// SumCompletedByTransaction computes the completed-refund total. Called
// under the transaction's row lock so concurrent requests cannot both pass
// the over-refund check.
func (r *RefundRepo) SumCompletedByTransaction(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE transaction_id = $1 AND status = $2`

	var sum decimal.Decimal
	err := tx.QueryRow(ctx, query, transactionID, domain.RefundStatusCompleted).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum completed refunds: %w", err)
	}
	return sum, nil
}

func scanRefund(row pgx.Row) (*domain.Refund, error) {
	rf := &domain.Refund{}
	if err := scanRefundInto(row, rf); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rf, nil
}

func scanRefundInto(row pgx.Row, rf *domain.Refund) error {
	err := row.Scan(
		&rf.ID, &rf.Number, &rf.TenantID, &rf.TransactionID, &rf.GatewayRefundID, &rf.Amount, &rf.Status,
		&rf.Reason, &rf.RejectionReason, &rf.RequestedBy, &rf.ApprovedBy, &rf.CreatedAt, &rf.ProcessedAt, &rf.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		return fmt.Errorf("scan refund: %w", err)
	}
	return nil
}
