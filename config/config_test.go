package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "TXN", cfg.Payment.NumberPrefix)
	assert.Equal(t, "VND", cfg.Payment.DefaultCurrency)
	assert.Equal(t, 24*time.Hour, cfg.Payment.IdempotencyTTL)
	assert.Equal(t, 15*time.Minute, cfg.Payment.LinkExpiry)
	assert.Equal(t, 180, cfg.Payment.MaxRefundDays)
	assert.True(t, cfg.Payment.RequireRefundApproval)
	assert.Equal(t, "v1", cfg.Vault.KeyID)
	assert.True(t, cfg.Reconciliation.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Reconciliation.Interval)
	assert.Equal(t, 48, cfg.Cod.ReminderHours)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
payment:
  number_prefix: PAY
  default_currency: USD
  require_refund_approval: false
  refund_approval_threshold: "500000"
cod:
  enabled: true
  max_amount: "2000000"
reconciliation:
  interval: 6h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "PAY", cfg.Payment.NumberPrefix)
	assert.Equal(t, "USD", cfg.Payment.DefaultCurrency)
	assert.False(t, cfg.Payment.RequireRefundApproval)
	assert.True(t, cfg.Payment.ApprovalThreshold().Equal(decimal.NewFromInt(500000)))
	assert.True(t, cfg.Cod.Enabled)
	assert.True(t, cfg.Cod.MaxAmountDecimal().Equal(decimal.NewFromInt(2000000)))
	assert.Equal(t, 6*time.Hour, cfg.Reconciliation.Interval)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PLG_PAYMENT_DEFAULT_CURRENCY", "EUR")
	t.Setenv("PLG_VAULT_KEY_ID", "v2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "EUR", cfg.Payment.DefaultCurrency)
	assert.Equal(t, "v2", cfg.Vault.KeyID)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "u", Password: "p",
		DBName: "ledger", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://u:p@localhost:5432/ledger?sslmode=disable", cfg.DSN())
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{Host: "127.0.0.1", Port: 6380}
	assert.Equal(t, "127.0.0.1:6380", cfg.Addr())
}

func TestApprovalThreshold_Unparseable(t *testing.T) {
	p := PaymentConfig{RefundApprovalThreshold: "not-a-number"}
	assert.True(t, p.ApprovalThreshold().IsZero())
}
