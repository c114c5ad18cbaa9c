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

func newTestCredential(provider string) *domain.GatewayCredentialRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.GatewayCredentialRecord{
		ID:                  uuid.New(),
		TenantID:            uuid.New(),
		Provider:            provider,
		Environment:         domain.EnvironmentSandbox,
		CredentialsEnc:      "enc:v1:abcdef",
		KeyID:               "key-2026-01",
		SupportedCurrencies: []string{"VND"},
		MinAmount:           decimal.NewFromInt(10000),
		MaxAmount:           decimal.NewFromInt(500000000),
		SupportsCod:         true,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func credentialTestColumns() []string {
	return []string{"id", "tenant_id", "provider", "environment", "credentials_enc", "key_id",
		"supported_currencies", "min_amount", "max_amount", "supports_cod", "supports_insurance",
		"active", "created_at", "updated_at"}
}

func credentialRow(rec *domain.GatewayCredentialRecord) *pgxmock.Rows {
	return pgxmock.NewRows(credentialTestColumns()).AddRow(
		rec.ID, rec.TenantID, rec.Provider, rec.Environment, rec.CredentialsEnc, rec.KeyID,
		rec.SupportedCurrencies, rec.MinAmount, rec.MaxAmount, rec.SupportsCod, rec.SupportsInsurance,
		rec.Active, rec.CreatedAt, rec.UpdatedAt,
	)
}

func TestCredentialRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewCredentialRepo(mock)
	rec := newTestCredential("vnpay")

	mock.ExpectExec("INSERT INTO gateway_credentials").
		WithArgs(
			rec.ID, rec.TenantID, rec.Provider, rec.Environment, rec.CredentialsEnc, rec.KeyID,
			rec.SupportedCurrencies, rec.MinAmount, rec.MaxAmount, rec.SupportsCod, rec.SupportsInsurance,
			rec.Active, rec.CreatedAt, rec.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), rec)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewCredentialRepo(mock)
	rec := newTestCredential("vnpay")
	rec.KeyID = "key-2026-02"

	mock.ExpectExec("UPDATE gateway_credentials SET").
		WithArgs(
			rec.Environment, rec.CredentialsEnc, rec.KeyID, rec.SupportedCurrencies,
			rec.MinAmount, rec.MaxAmount, rec.SupportsCod, rec.SupportsInsurance,
			rec.Active, rec.UpdatedAt, rec.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.Update(context.Background(), rec)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepo_GetByProvider(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewCredentialRepo(mock)
	rec := newTestCredential("momo")

	mock.ExpectQuery("SELECT .+ FROM gateway_credentials WHERE provider").
		WithArgs("momo").
		WillReturnRows(credentialRow(rec))

	result, err := repo.GetByProvider(context.Background(), "momo")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, rec.ID, result.ID)
	assert.Equal(t, []string{"VND"}, result.SupportedCurrencies)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepo_GetByProvider_Unconfigured(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewCredentialRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM gateway_credentials WHERE provider").
		WithArgs("stripe").
		WillReturnRows(pgxmock.NewRows(credentialTestColumns()))

	result, err := repo.GetByProvider(context.Background(), "stripe")
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepo_ListActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewCredentialRepo(mock)
	momo := newTestCredential("momo")
	vnpay := newTestCredential("vnpay")

	rows := credentialRow(momo).AddRow(
		vnpay.ID, vnpay.TenantID, vnpay.Provider, vnpay.Environment, vnpay.CredentialsEnc, vnpay.KeyID,
		vnpay.SupportedCurrencies, vnpay.MinAmount, vnpay.MaxAmount, vnpay.SupportsCod, vnpay.SupportsInsurance,
		vnpay.Active, vnpay.CreatedAt, vnpay.UpdatedAt,
	)

	mock.ExpectQuery("SELECT .+ FROM gateway_credentials WHERE active").
		WillReturnRows(rows)

	result, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "momo", result[0].Provider)
	assert.Equal(t, "vnpay", result[1].Provider)
	assert.NoError(t, mock.ExpectationsWereMet())
}
