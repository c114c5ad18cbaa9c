package postgres

import (
	"context"
	"errors"
	"fmt"

	"payment-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

const webhookLogColumns = `id, provider, event_type, provider_event_id, signature_valid,
	processing_status, retry_count, transaction_id, payload, error, created_at, updated_at`

// WebhookLogRepo implements ports.WebhookLogRepository.
type WebhookLogRepo struct {
	pool Pool
}

// NewWebhookLogRepo creates a new WebhookLogRepo.
func NewWebhookLogRepo(pool Pool) *WebhookLogRepo {
	return &WebhookLogRepo{pool: pool}
}

// Insert records a freshly received delivery.
func (r *WebhookLogRepo) Insert(ctx context.Context, wl *domain.PaymentWebhookLog) error {
	query := `INSERT INTO payment_webhook_logs (` + webhookLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		wl.ID, wl.Provider, wl.EventType, wl.ProviderEventID, wl.SignatureValid,
		wl.ProcessingStatus, wl.RetryCount, wl.TransactionID, wl.Payload, wl.Error, wl.CreatedAt, wl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook log: %w", err)
	}
	return nil
}

// GetByProviderEvent looks up the log row for a delivery, nil when unseen.
func (r *WebhookLogRepo) GetByProviderEvent(ctx context.Context, provider, providerEventID string) (*domain.PaymentWebhookLog, error) {
	query := `SELECT ` + webhookLogColumns + ` FROM payment_webhook_logs
		WHERE provider = $1 AND provider_event_id = $2`

	wl := &domain.PaymentWebhookLog{}
	err := r.pool.QueryRow(ctx, query, provider, providerEventID).Scan(
		&wl.ID, &wl.Provider, &wl.EventType, &wl.ProviderEventID, &wl.SignatureValid,
		&wl.ProcessingStatus, &wl.RetryCount, &wl.TransactionID, &wl.Payload, &wl.Error, &wl.CreatedAt, &wl.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook log: %w", err)
	}
	return wl, nil
}

// UpdateOutcome writes the processing result back onto the delivery row.
func (r *WebhookLogRepo) UpdateOutcome(ctx context.Context, wl *domain.PaymentWebhookLog) error {
	query := `UPDATE payment_webhook_logs SET
		signature_valid = $1, processing_status = $2, retry_count = $3,
		transaction_id = $4, error = $5, updated_at = $6
		WHERE id = $7`

	tag, err := r.pool.Exec(ctx, query,
		wl.SignatureValid, wl.ProcessingStatus, wl.RetryCount,
		wl.TransactionID, wl.Error, wl.UpdatedAt, wl.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook log not found: %s", wl.ID)
	}
	return nil
}
