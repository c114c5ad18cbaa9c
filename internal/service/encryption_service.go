package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"payment-ledger/config"
	"payment-ledger/pkg/apperror"

	"golang.org/x/crypto/hkdf"
)

// MasterKeyEnvVar overrides the configured master key when set.
const MasterKeyEnvVar = "PLG_VAULT_MASTER_KEY"

// placeholderKeys are values shipped in sample configs. Booting with one of
// them is a fatal misconfiguration, not a valid key.
var placeholderKeys = map[string]struct{}{
	strings.Repeat("0", 64):                {},
	strings.Repeat("0123456789abcdef", 4): {},
	"changeme": {},
}

// VaultService implements ports.EncryptionService using AES-256-GCM.
// Data keys are derived from the master key per key id via HKDF, so rotating
// the active key id re-keys new writes without touching the master secret.
// Key material is read-only after construction and safe for concurrent use.
type VaultService struct {
	master []byte
	keyID  string
}

// NewVaultService resolves the master key through the ordered provider chain:
// environment variable, then configuration, then failure. The key must be a
// 64-character hex string decoding to exactly 32 bytes.
func NewVaultService(cfg config.VaultConfig) (*VaultService, error) {
	hexKey := os.Getenv(MasterKeyEnvVar)
	if hexKey == "" {
		hexKey = cfg.MasterKey
	}
	if hexKey == "" {
		return nil, apperror.ErrEncryptionKey(fmt.Errorf("no master key in %s or configuration", MasterKeyEnvVar))
	}
	if _, placeholder := placeholderKeys[strings.ToLower(hexKey)]; placeholder {
		return nil, apperror.ErrEncryptionKey(fmt.Errorf("master key is a placeholder value"))
	}

	master, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, apperror.ErrEncryptionKey(fmt.Errorf("decoding master key: %w", err))
	}
	if len(master) != 32 {
		return nil, apperror.ErrEncryptionKey(fmt.Errorf("master key must be 32 bytes, got %d", len(master)))
	}

	keyID := cfg.KeyID
	if keyID == "" {
		keyID = "v1"
	}
	return &VaultService{master: master, keyID: keyID}, nil
}

// KeyID returns the active data-key id.
func (s *VaultService) KeyID() string {
	return s.keyID
}

// Encrypt seals plaintext under the active data key.
// Returns hex-encoded nonce + ciphertext; a fresh random nonce per call means
// encrypting the same plaintext twice yields different ciphertext.
func (s *VaultService) Encrypt(plaintext string) (string, error) {
	aesGCM, err := s.aead(s.keyID)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperror.ErrEncryptionKey(fmt.Errorf("generating nonce: %w", err))
	}

	ciphertext := aesGCM.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

// Decrypt opens a blob sealed under the active data key.
func (s *VaultService) Decrypt(ciphertextHex string) (string, error) {
	return s.DecryptWithKeyID(s.keyID, ciphertextHex)
}

// DecryptWithKeyID opens a blob sealed under an older data key. Used during
// credential rotation.
func (s *VaultService) DecryptWithKeyID(keyID, ciphertextHex string) (string, error) {
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", apperror.ErrDecryptionFailure(fmt.Errorf("decoding ciphertext: %w", err))
	}

	aesGCM, err := s.aead(keyID)
	if err != nil {
		return "", err
	}

	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", apperror.ErrDecryptionFailure(fmt.Errorf("ciphertext truncated: %d bytes", len(ciphertext)))
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", apperror.ErrDecryptionFailure(err)
	}

	return string(plaintext), nil
}

// aead builds the AES-256-GCM cipher for one derived data key.
func (s *VaultService) aead(keyID string) (cipher.AEAD, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, s.master, nil, []byte("payment-ledger:"+keyID))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, apperror.ErrEncryptionKey(fmt.Errorf("deriving data key %s: %w", keyID, err))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperror.ErrEncryptionKey(err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperror.ErrEncryptionKey(err)
	}
	return aesGCM, nil
}
