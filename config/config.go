package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Vault          VaultConfig          `mapstructure:"vault"`
	Payment        PaymentConfig        `mapstructure:"payment"`
	Cod            CodConfig            `mapstructure:"cod"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Log            LogConfig            `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// VaultConfig configures the credential vault.
// MasterKey is a 64-character hex string (32 bytes decoded). The environment
// variable PLG_VAULT_MASTER_KEY takes precedence over the file value.
type VaultConfig struct {
	MasterKey string `mapstructure:"master_key"`
	KeyID     string `mapstructure:"key_id"` // Active data-key id, bump to rotate
}

// PaymentConfig holds ledger and refund policy settings.
type PaymentConfig struct {
	NumberPrefix            string        `mapstructure:"number_prefix"` // Transaction number prefix, e.g. TXN
	DefaultCurrency         string        `mapstructure:"default_currency"`
	IdempotencyTTL          time.Duration `mapstructure:"idempotency_ttl"`
	LinkExpiry              time.Duration `mapstructure:"link_expiry"` // Payment link validity window
	ReturnURL               string        `mapstructure:"return_url"`  // Where the hosted page sends the customer back
	GatewayTimeout          time.Duration `mapstructure:"gateway_timeout"`
	GatewayMaxRetries       int           `mapstructure:"gateway_max_retries"`
	MaxRefundDays           int           `mapstructure:"max_refund_days"`
	RequireRefundApproval   bool          `mapstructure:"require_refund_approval"`
	RefundApprovalThreshold string        `mapstructure:"refund_approval_threshold"` // Decimal string
}

// ApprovalThreshold parses the refund approval threshold.
// An unparseable value yields zero, forcing manual approval for everything.
func (p PaymentConfig) ApprovalThreshold() decimal.Decimal {
	d, err := decimal.NewFromString(p.RefundApprovalThreshold)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// CodConfig holds cash-on-delivery settings.
type CodConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxAmount     string `mapstructure:"max_amount"` // Decimal string, empty = no cap
	ReminderHours int    `mapstructure:"reminder_hours"`
}

// MaxAmountDecimal parses the COD cap. Zero means uncapped.
func (c CodConfig) MaxAmountDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(c.MaxAmount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ReconciliationConfig holds the scheduler settings.
type ReconciliationConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	Lookback   time.Duration `mapstructure:"lookback"`
	AlertEmail string        `mapstructure:"alert_email"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: PLG_ (Payment Ledger).
// Nested keys use underscore: PLG_DATABASE_HOST, PLG_VAULT_MASTER_KEY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "payment_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("vault.master_key", "")
	v.SetDefault("vault.key_id", "v1")
	v.SetDefault("payment.number_prefix", "TXN")
	v.SetDefault("payment.default_currency", "VND")
	v.SetDefault("payment.idempotency_ttl", "24h")
	v.SetDefault("payment.link_expiry", "15m")
	v.SetDefault("payment.return_url", "")
	v.SetDefault("payment.gateway_timeout", "10s")
	v.SetDefault("payment.gateway_max_retries", 3)
	v.SetDefault("payment.max_refund_days", 180)
	v.SetDefault("payment.require_refund_approval", true)
	v.SetDefault("payment.refund_approval_threshold", "1000000")
	v.SetDefault("cod.enabled", false)
	v.SetDefault("cod.max_amount", "0")
	v.SetDefault("cod.reminder_hours", 48)
	v.SetDefault("reconciliation.enabled", true)
	v.SetDefault("reconciliation.interval", "24h")
	v.SetDefault("reconciliation.lookback", "72h")
	v.SetDefault("reconciliation.alert_email", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: PLG_DATABASE_HOST -> database.host
	v.SetEnvPrefix("PLG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
