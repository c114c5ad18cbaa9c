package postgres

import (
	"context"
	"testing"
	"time"

	"payment-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newTestTransaction() *domain.PaymentTransaction {
	now := time.Now().UTC().Truncate(time.Microsecond)
	expires := now.Add(15 * time.Minute)
	return &domain.PaymentTransaction{
		ID:             uuid.New(),
		Number:         "TXN-20260828-00000042",
		TenantID:       uuid.New(),
		OrderID:        uuid.New(),
		CustomerID:     uuid.New(),
		Provider:       "vnpay",
		Amount:         decimal.NewFromInt(250000),
		Currency:       "VND",
		GatewayFee:     decimal.Zero,
		NetAmount:      decimal.Zero,
		RefundedTotal:  decimal.Zero,
		Status:         domain.TransactionStatusPending,
		Method:         domain.PaymentMethodQR,
		IdempotencyKey: "vnpay:order-42",
		PaymentLinkURL: strPtr("https://pay.example.com/t/42"),
		CreatedAt:      now,
		ExpiresAt:      &expires,
		UpdatedAt:      now,
	}
}

func txnTestColumns() []string {
	return []string{"id", "number", "tenant_id", "order_id", "customer_id", "provider", "gateway_txn_id",
		"amount", "currency", "gateway_fee", "net_amount", "refunded_total", "status", "failure_reason",
		"method", "idempotency_key", "payment_link_url", "created_at", "paid_at", "expires_at",
		"cod_collector_name", "cod_collected_at", "updated_at"}
}

func txnRow(t *domain.PaymentTransaction) *pgxmock.Rows {
	return pgxmock.NewRows(txnTestColumns()).AddRow(
		t.ID, t.Number, t.TenantID, t.OrderID, t.CustomerID, t.Provider, t.GatewayTxnID,
		t.Amount, t.Currency, t.GatewayFee, t.NetAmount, t.RefundedTotal, t.Status, t.FailureReason,
		t.Method, t.IdempotencyKey, t.PaymentLinkURL, t.CreatedAt, t.PaidAt, t.ExpiresAt,
		t.CodCollectorName, t.CodCollectedAt, t.UpdatedAt,
	)
}

func TestTransactionRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payment_transactions").
		WithArgs(
			txn.ID, txn.Number, txn.TenantID, txn.OrderID, txn.CustomerID, txn.Provider, txn.GatewayTxnID,
			txn.Amount, txn.Currency, txn.GatewayFee, txn.NetAmount, txn.RefundedTotal, txn.Status, txn.FailureReason,
			txn.Method, txn.IdempotencyKey, txn.PaymentLinkURL, txn.CreatedAt, txn.PaidAt, txn.ExpiresAt,
			txn.CodCollectorName, txn.CodCollectedAt, txn.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), dbTx, txn)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction()

	mock.ExpectQuery("SELECT .+ FROM payment_transactions WHERE id").
		WithArgs(txn.ID).
		WillReturnRows(txnRow(txn))

	result, err := repo.GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, txn.ID, result.ID)
	assert.Equal(t, txn.Number, result.Number)
	assert.True(t, txn.Amount.Equal(result.Amount))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM payment_transactions WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(txnTestColumns()))

	result, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM payment_transactions WHERE id = \\$1 FOR UPDATE").
		WithArgs(txn.ID).
		WillReturnRows(txnRow(txn))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.GetByIDForUpdate(context.Background(), dbTx, txn.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, txn.ID, result.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByNumber(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction()

	mock.ExpectQuery("SELECT .+ FROM payment_transactions WHERE number").
		WithArgs(txn.Number).
		WillReturnRows(txnRow(txn))

	result, err := repo.GetByNumber(context.Background(), txn.Number)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, txn.ID, result.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction()
	txn.Status = domain.TransactionStatusPaid

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payment_transactions SET").
		WithArgs(
			txn.GatewayTxnID, txn.GatewayFee, txn.NetAmount, txn.RefundedTotal,
			txn.Status, txn.FailureReason, txn.PaymentLinkURL, txn.PaidAt,
			txn.ExpiresAt, txn.CodCollectorName, txn.CodCollectedAt, txn.UpdatedAt,
			txn.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Update(context.Background(), dbTx, txn)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Update_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payment_transactions SET").
		WithArgs(
			txn.GatewayTxnID, txn.GatewayFee, txn.NetAmount, txn.RefundedTotal,
			txn.Status, txn.FailureReason, txn.PaymentLinkURL, txn.PaidAt,
			txn.ExpiresAt, txn.CodCollectorName, txn.CodCollectedAt, txn.UpdatedAt,
			txn.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Update(context.Background(), dbTx, txn)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ListByStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	first := newTestTransaction()
	second := newTestTransaction()
	second.Number = "TXN-20260828-00000043"
	since := time.Now().UTC().Add(-48 * time.Hour)

	rows := txnRow(first).AddRow(
		second.ID, second.Number, second.TenantID, second.OrderID, second.CustomerID, second.Provider, second.GatewayTxnID,
		second.Amount, second.Currency, second.GatewayFee, second.NetAmount, second.RefundedTotal, second.Status, second.FailureReason,
		second.Method, second.IdempotencyKey, second.PaymentLinkURL, second.CreatedAt, second.PaidAt, second.ExpiresAt,
		second.CodCollectorName, second.CodCollectedAt, second.UpdatedAt,
	)

	mock.ExpectQuery("SELECT .+ FROM payment_transactions").
		WithArgs(first.TenantID, "vnpay", domain.TransactionStatusPending, since).
		WillReturnRows(rows)

	result, err := repo.ListByStatus(context.Background(), first.TenantID, "vnpay", domain.TransactionStatusPending, since)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, first.Number, result[0].Number)
	assert.Equal(t, second.Number, result[1].Number)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_NextSequence(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)

	mock.ExpectQuery("SELECT nextval").
		WillReturnRows(pgxmock.NewRows([]string{"nextval"}).AddRow(int64(42)))

	seq, err := repo.NextSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}
