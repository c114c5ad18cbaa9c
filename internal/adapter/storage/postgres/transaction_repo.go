package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const txnColumns = `id, number, tenant_id, order_id, customer_id, provider, gateway_txn_id,
	amount, currency, gateway_fee, net_amount, refunded_total, status, failure_reason,
	method, idempotency_key, payment_link_url, created_at, paid_at, expires_at,
	cod_collector_name, cod_collected_at, updated_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a new payment transaction within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.PaymentTransaction) error {
	query := `INSERT INTO payment_transactions (` + txnColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.Number, t.TenantID, t.OrderID, t.CustomerID, t.Provider, t.GatewayTxnID,
		t.Amount, t.Currency, t.GatewayFee, t.NetAmount, t.RefundedTotal, t.Status, t.FailureReason,
		t.Method, t.IdempotencyKey, t.PaymentLinkURL, t.CreatedAt, t.PaidAt, t.ExpiresAt,
		t.CodCollectorName, t.CodCollectedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + txnColumns + ` FROM payment_transactions WHERE id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a transaction with a row lock. All mutations of
// one transaction serialize on this lock.
func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + txnColumns + ` FROM payment_transactions WHERE id = $1 FOR UPDATE`
	return scanTransaction(tx.QueryRow(ctx, query, id))
}

// GetByNumber fetches a transaction by its human-readable number.
func (r *TransactionRepo) GetByNumber(ctx context.Context, number string) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + txnColumns + ` FROM payment_transactions WHERE number = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, number))
}

// Update writes all mutable fields within a database transaction.
func (r *TransactionRepo) Update(ctx context.Context, tx pgx.Tx, t *domain.PaymentTransaction) error {
	query := `UPDATE payment_transactions SET
		gateway_txn_id = $1, gateway_fee = $2, net_amount = $3, refunded_total = $4,
		status = $5, failure_reason = $6, payment_link_url = $7, paid_at = $8,
		expires_at = $9, cod_collector_name = $10, cod_collected_at = $11, updated_at = $12
		WHERE id = $13`

	tag, err := tx.Exec(ctx, query,
		t.GatewayTxnID, t.GatewayFee, t.NetAmount, t.RefundedTotal,
		t.Status, t.FailureReason, t.PaymentLinkURL, t.PaidAt,
		t.ExpiresAt, t.CodCollectorName, t.CodCollectedAt, t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update payment transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment transaction not found: %s", t.ID)
	}
	return nil
}

// ListByStatus returns one tenant/provider's transactions in a status,
// created after since.
func (r *TransactionRepo) ListByStatus(ctx context.Context, tenantID uuid.UUID, provider string, status domain.TransactionStatus, since time.Time) ([]domain.PaymentTransaction, error) {
	query := `SELECT ` + txnColumns + ` FROM payment_transactions
		WHERE tenant_id = $1 AND provider = $2 AND status = $3 AND created_at >= $4
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, tenantID, provider, status, since)
	if err != nil {
		return nil, fmt.Errorf("list payment transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.PaymentTransaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment transactions: %w", err)
	}
	return txns, nil
}

// NextSequence draws the next value for human-readable numbering.
func (r *TransactionRepo) NextSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('payment_number_seq')`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next payment number: %w", err)
	}
	return seq, nil
}

func scanTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	t, err := scanTransactionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func scanTransactionRow(row pgx.Row) (*domain.PaymentTransaction, error) {
	t := &domain.PaymentTransaction{}
	err := row.Scan(
		&t.ID, &t.Number, &t.TenantID, &t.OrderID, &t.CustomerID, &t.Provider, &t.GatewayTxnID,
		&t.Amount, &t.Currency, &t.GatewayFee, &t.NetAmount, &t.RefundedTotal, &t.Status, &t.FailureReason,
		&t.Method, &t.IdempotencyKey, &t.PaymentLinkURL, &t.CreatedAt, &t.PaidAt, &t.ExpiresAt,
		&t.CodCollectorName, &t.CodCollectedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan payment transaction: %w", err)
	}
	return t, nil
}
