package integration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"payment-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// --- In-Memory Transaction Repo ---

type inMemoryTransactionRepo struct {
	mu           sync.RWMutex
	transactions map[uuid.UUID]*domain.PaymentTransaction
	seq          atomic.Int64
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{transactions: make(map[uuid.UUID]*domain.PaymentTransaction)}
}

func (r *inMemoryTransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.transactions[t.ID] = &cp
	return nil
}

func (r *inMemoryTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transactions[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryTransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentTransaction, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryTransactionRepo) GetByNumber(ctx context.Context, number string) (*domain.PaymentTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.transactions {
		if t.Number == number {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryTransactionRepo) Update(ctx context.Context, tx pgx.Tx, t *domain.PaymentTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transactions[t.ID]; !ok {
		return fmt.Errorf("payment transaction not found: %s", t.ID)
	}
	cp := *t
	r.transactions[t.ID] = &cp
	return nil
}

func (r *inMemoryTransactionRepo) ListByStatus(ctx context.Context, tenantID uuid.UUID, provider string, status domain.TransactionStatus, since time.Time) ([]domain.PaymentTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.PaymentTransaction
	for _, t := range r.transactions {
		if t.TenantID == tenantID && t.Provider == provider && t.Status == status && !t.CreatedAt.Before(since) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *inMemoryTransactionRepo) NextSequence(ctx context.Context) (int64, error) {
	return r.seq.Add(1), nil
}

func (r *inMemoryTransactionRepo) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transactions)
}

// --- In-Memory Refund Repo ---

type inMemoryRefundRepo struct {
	mu      sync.RWMutex
	refunds map[uuid.UUID]*domain.Refund
}

func newInMemoryRefundRepo() *inMemoryRefundRepo {
	return &inMemoryRefundRepo{refunds: make(map[uuid.UUID]*domain.Refund)}
}

func (r *inMemoryRefundRepo) Create(ctx context.Context, tx pgx.Tx, rf *domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rf
	r.refunds[rf.ID] = &cp
	return nil
}

func (r *inMemoryRefundRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Refund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rf, ok := r.refunds[id]
	if !ok {
		return nil, nil
	}
	cp := *rf
	return &cp, nil
}

func (r *inMemoryRefundRepo) GetByNumber(ctx context.Context, number string) (*domain.Refund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rf := range r.refunds {
		if rf.Number == number {
			cp := *rf
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryRefundRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Refund, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryRefundRepo) Update(ctx context.Context, tx pgx.Tx, rf *domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.refunds[rf.ID]; !ok {
		return fmt.Errorf("refund not found: %s", rf.ID)
	}
	cp := *rf
	r.refunds[rf.ID] = &cp
	return nil
}

func (r *inMemoryRefundRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.Refund, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Refund
	for _, rf := range r.refunds {
		if rf.TransactionID == transactionID {
			out = append(out, *rf)
		}
	}
	return out, nil
}

func (r *inMemoryRefundRepo) SumCompletedByTransaction(ctx context.Context, tx pgx.Tx, transactionID uuid.UUID) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sum := decimal.Zero
	for _, rf := range r.refunds {
		if rf.TransactionID == transactionID && rf.Status == domain.RefundStatusCompleted {
			sum = sum.Add(rf.Amount)
		}
	}
	return sum, nil
}

// --- In-Memory Webhook Log Repo ---

type inMemoryWebhookLogRepo struct {
	mu   sync.RWMutex
	logs map[string]*domain.PaymentWebhookLog // key: provider + "/" + providerEventID
}

func newInMemoryWebhookLogRepo() *inMemoryWebhookLogRepo {
	return &inMemoryWebhookLogRepo{logs: make(map[string]*domain.PaymentWebhookLog)}
}

func webhookKey(provider, eventID string) string { return provider + "/" + eventID }

func (r *inMemoryWebhookLogRepo) Insert(ctx context.Context, wl *domain.PaymentWebhookLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := webhookKey(wl.Provider, wl.ProviderEventID)
	if _, ok := r.logs[key]; ok {
		return fmt.Errorf("duplicate webhook log for %s", key)
	}
	cp := *wl
	r.logs[key] = &cp
	return nil
}

func (r *inMemoryWebhookLogRepo) GetByProviderEvent(ctx context.Context, provider, providerEventID string) (*domain.PaymentWebhookLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wl, ok := r.logs[webhookKey(provider, providerEventID)]
	if !ok {
		return nil, nil
	}
	cp := *wl
	return &cp, nil
}

func (r *inMemoryWebhookLogRepo) UpdateOutcome(ctx context.Context, wl *domain.PaymentWebhookLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := webhookKey(wl.Provider, wl.ProviderEventID)
	if _, ok := r.logs[key]; !ok {
		return fmt.Errorf("webhook log not found: %s", key)
	}
	cp := *wl
	r.logs[key] = &cp
	return nil
}

// --- In-Memory Operation Log Repo ---

type inMemoryOperationLogRepo struct {
	mu      sync.Mutex
	entries []domain.PaymentOperationLog
}

func newInMemoryOperationLogRepo() *inMemoryOperationLogRepo {
	return &inMemoryOperationLogRepo{}
}

func (r *inMemoryOperationLogRepo) Append(ctx context.Context, entry *domain.PaymentOperationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

// --- In-Memory Credential Repo ---

type inMemoryCredentialRepo struct {
	mu      sync.RWMutex
	records map[string]*domain.GatewayCredentialRecord // key: provider
}

func newInMemoryCredentialRepo() *inMemoryCredentialRepo {
	return &inMemoryCredentialRepo{records: make(map[string]*domain.GatewayCredentialRecord)}
}

func (r *inMemoryCredentialRepo) Create(ctx context.Context, rec *domain.GatewayCredentialRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.Provider] = &cp
	return nil
}

func (r *inMemoryCredentialRepo) Update(ctx context.Context, rec *domain.GatewayCredentialRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.Provider]; !ok {
		return fmt.Errorf("credential not found: %s", rec.Provider)
	}
	cp := *rec
	r.records[rec.Provider] = &cp
	return nil
}

func (r *inMemoryCredentialRepo) GetByProvider(ctx context.Context, provider string) (*domain.GatewayCredentialRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[provider]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *inMemoryCredentialRepo) ListActive(ctx context.Context) ([]domain.GatewayCredentialRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.GatewayCredentialRecord
	for _, rec := range r.records {
		if rec.Active {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// --- In-Memory Idempotency Repo ---

type inMemoryIdempotencyRepo struct {
	mu      sync.RWMutex
	records map[string]*domain.IdempotencyRecord
}

func newInMemoryIdempotencyRepo() *inMemoryIdempotencyRepo {
	return &inMemoryIdempotencyRepo{records: make(map[string]*domain.IdempotencyRecord)}
}

func (r *inMemoryIdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, rec *domain.IdempotencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.Key] = &cp
	return nil
}

func (r *inMemoryIdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key]
	if !ok || rec.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// --- In-Memory Transactor (no-op tx) ---

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &noopTx{}, nil
}

// noopTx is a no-op pgx.Tx implementation for in-memory testing.
type noopTx struct{}

func (t *noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *noopTx) Commit(ctx context.Context) error          { return nil }
func (t *noopTx) Rollback(ctx context.Context) error        { return nil }
func (t *noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}
func (t *noopTx) Conn() *pgx.Conn { return nil }
