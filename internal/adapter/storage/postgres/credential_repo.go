package postgres

import (
	"context"
	"errors"
	"fmt"

	"payment-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

const credentialColumns = `id, tenant_id, provider, environment, credentials_enc, key_id,
	supported_currencies, min_amount, max_amount, supports_cod, supports_insurance,
	active, created_at, updated_at`

// CredentialRepo implements ports.CredentialRepository.
type CredentialRepo struct {
	pool Pool
}

// NewCredentialRepo creates a new CredentialRepo.
func NewCredentialRepo(pool Pool) *CredentialRepo {
	return &CredentialRepo{pool: pool}
}

// Create inserts a new credential record.
func (r *CredentialRepo) Create(ctx context.Context, rec *domain.GatewayCredentialRecord) error {
	query := `INSERT INTO gateway_credentials (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.TenantID, rec.Provider, rec.Environment, rec.CredentialsEnc, rec.KeyID,
		rec.SupportedCurrencies, rec.MinAmount, rec.MaxAmount, rec.SupportsCod, rec.SupportsInsurance,
		rec.Active, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing record.
func (r *CredentialRepo) Update(ctx context.Context, rec *domain.GatewayCredentialRecord) error {
	query := `UPDATE gateway_credentials SET
		environment = $1, credentials_enc = $2, key_id = $3, supported_currencies = $4,
		min_amount = $5, max_amount = $6, supports_cod = $7, supports_insurance = $8,
		active = $9, updated_at = $10
		WHERE id = $11`

	tag, err := r.pool.Exec(ctx, query,
		rec.Environment, rec.CredentialsEnc, rec.KeyID, rec.SupportedCurrencies,
		rec.MinAmount, rec.MaxAmount, rec.SupportsCod, rec.SupportsInsurance,
		rec.Active, rec.UpdatedAt, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential not found: %s", rec.ID)
	}
	return nil
}

// GetByProvider fetches the record for one provider, nil when unconfigured.
func (r *CredentialRepo) GetByProvider(ctx context.Context, provider string) (*domain.GatewayCredentialRecord, error) {
	query := `SELECT ` + credentialColumns + ` FROM gateway_credentials WHERE provider = $1`

	rec := &domain.GatewayCredentialRecord{}
	if err := scanCredentialInto(r.pool.QueryRow(ctx, query, provider), rec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// ListActive returns all records with active = true.
func (r *CredentialRepo) ListActive(ctx context.Context) ([]domain.GatewayCredentialRecord, error) {
	query := `SELECT ` + credentialColumns + ` FROM gateway_credentials WHERE active = true ORDER BY provider`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var recs []domain.GatewayCredentialRecord
	for rows.Next() {
		rec := domain.GatewayCredentialRecord{}
		if err := scanCredentialInto(rows, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return recs, nil
}

func scanCredentialInto(row pgx.Row, rec *domain.GatewayCredentialRecord) error {
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.Provider, &rec.Environment, &rec.CredentialsEnc, &rec.KeyID,
		&rec.SupportedCurrencies, &rec.MinAmount, &rec.MaxAmount, &rec.SupportsCod, &rec.SupportsInsurance,
		&rec.Active, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		return fmt.Errorf("scan credential: %w", err)
	}
	return nil
}
