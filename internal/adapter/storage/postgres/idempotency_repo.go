package postgres

import (
	"context"
	"errors"
	"fmt"

	"payment-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository, the durable backstop
// consulted when the Redis cache has evicted an entry.
type IdempotencyRepo struct {
	pool Pool
}

// NewIdempotencyRepo creates a new IdempotencyRepo.
func NewIdempotencyRepo(pool Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Create upserts a record within the same transaction that creates the
// payment, so a crash between the two cannot leave a dangling key. The
// upsert lets a key whose previous record has expired be reused; Get never
// returns expired rows, so only a stale row can be overwritten here.
func (r *IdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, rec *domain.IdempotencyRecord) error {
	query := `INSERT INTO idempotency_keys (key, tenant_id, fingerprint, transaction_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			fingerprint = EXCLUDED.fingerprint,
			transaction_id = EXCLUDED.transaction_id,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`

	_, err := tx.Exec(ctx, query,
		rec.Key, rec.TenantID, rec.Fingerprint, rec.TransactionID, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", err)
	}
	return nil
}

// Get returns the record for a key, nil when absent or expired.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	query := `SELECT key, tenant_id, fingerprint, transaction_id, created_at, expires_at
		FROM idempotency_keys WHERE key = $1 AND expires_at > now()`

	rec := &domain.IdempotencyRecord{}
	err := r.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key, &rec.TenantID, &rec.Fingerprint, &rec.TransactionID, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return rec, nil
}
