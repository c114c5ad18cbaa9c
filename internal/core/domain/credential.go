package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GatewayEnvironment tells sandbox credentials from live ones.
type GatewayEnvironment string

const (
	EnvironmentSandbox GatewayEnvironment = "SANDBOX"
	EnvironmentLive    GatewayEnvironment = "LIVE"
)

// GatewayCredentialRecord holds a provider's configuration with its
// credential blob encrypted at rest. Plaintext credentials exist only in
// transient memory after a vault Decrypt call.
type GatewayCredentialRecord struct {
	ID                  uuid.UUID          `json:"id"`
	TenantID            uuid.UUID          `json:"tenant_id"`
	Provider            string             `json:"provider"`
	Environment         GatewayEnvironment `json:"environment"`
	CredentialsEnc      string             `json:"-"`      // Encrypted blob, never exposed
	KeyID               string             `json:"key_id"` // Vault data-key id used to encrypt
	SupportedCurrencies []string           `json:"supported_currencies"`
	MinAmount           decimal.Decimal    `json:"min_amount"`
	MaxAmount           decimal.Decimal    `json:"max_amount"` // Zero = uncapped
	SupportsCod         bool               `json:"supports_cod"`
	SupportsInsurance   bool               `json:"supports_insurance"`
	Active              bool               `json:"active"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// SupportsCurrency reports whether the gateway accepts the given currency.
func (c *GatewayCredentialRecord) SupportsCurrency(currency string) bool {
	for _, cur := range c.SupportedCurrencies {
		if cur == currency {
			return true
		}
	}
	return false
}

// AllowsAmount checks the configured min/max bounds.
func (c *GatewayCredentialRecord) AllowsAmount(amount decimal.Decimal) bool {
	if amount.LessThan(c.MinAmount) {
		return false
	}
	if !c.MaxAmount.IsZero() && amount.GreaterThan(c.MaxAmount) {
		return false
	}
	return true
}

// GatewayCredentials is the decrypted credential blob for one provider.
type GatewayCredentials struct {
	MerchantCode  string `json:"merchant_code"`
	APIKey        string `json:"api_key"`
	WebhookSecret string `json:"webhook_secret"`
	Endpoint      string `json:"endpoint"`
}
