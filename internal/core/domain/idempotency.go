package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// IdempotencyRecord binds a client-supplied key to the transaction it created.
// The key is unique per (provider, key) within its TTL window; after expiry
// the same key may be reused for a new transaction.
type IdempotencyRecord struct {
	Key           string    `json:"key"` // Format: "provider:client_key"
	TenantID      uuid.UUID `json:"tenant_id"`
	Fingerprint   string    `json:"fingerprint"` // SHA-256 of the canonical request body
	TransactionID uuid.UUID `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// BuildIdempotencyKey constructs the standard key format.
func BuildIdempotencyKey(provider, clientKey string) string {
	return provider + ":" + clientKey
}

// Fingerprint hashes a canonical request body for duplicate detection.
// A repeated key with a different fingerprint is logged as a mismatch
// warning but still resolves to the existing transaction.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
