package service

import (
	"strings"
	"testing"

	"payment-ledger/config"
	"payment-ledger/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMasterKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func newTestVault(t *testing.T) *VaultService {
	t.Helper()
	v, err := NewVaultService(config.VaultConfig{MasterKey: testMasterKey, KeyID: "v1"})
	require.NoError(t, err)
	return v
}

func TestVault_EncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t)

	for _, plaintext := range []string{
		"",
		"short",
		`{"merchant_code":"MC01","api_key":"sk_live_abc","webhook_secret":"whsec_xyz"}`,
		strings.Repeat("x", 4096),
	} {
		ciphertext, err := v.Encrypt(plaintext)
		require.NoError(t, err)

		decrypted, err := v.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestVault_FreshNoncePerCall(t *testing.T) {
	v := newTestVault(t)

	c1, err := v.Encrypt("same plaintext")
	require.NoError(t, err)
	c2, err := v.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2)
}

func TestVault_CorruptedCiphertext(t *testing.T) {
	v := newTestVault(t)

	ciphertext, err := v.Encrypt("secret")
	require.NoError(t, err)

	// Flip the final hex digit
	last := ciphertext[len(ciphertext)-1]
	flipped := "0"
	if last == '0' {
		flipped = "1"
	}
	corrupted := ciphertext[:len(ciphertext)-1] + flipped

	_, err = v.Decrypt(corrupted)
	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "SEC_003", appErr.Code)
}

func TestVault_TruncatedCiphertext(t *testing.T) {
	v := newTestVault(t)

	_, err := v.Decrypt("abcd")
	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "SEC_003", appErr.Code)
}

func TestVault_NotHexCiphertext(t *testing.T) {
	v := newTestVault(t)
	_, err := v.Decrypt("zz-not-hex")
	assert.Error(t, err)
}

func TestVault_WrongKeyID(t *testing.T) {
	v := newTestVault(t)

	ciphertext, err := v.Encrypt("secret")
	require.NoError(t, err)

	_, err = v.DecryptWithKeyID("v2", ciphertext)
	assert.Error(t, err)
}

func TestVault_KeyRotationRoundTrip(t *testing.T) {
	v1, err := NewVaultService(config.VaultConfig{MasterKey: testMasterKey, KeyID: "v1"})
	require.NoError(t, err)
	sealed, err := v1.Encrypt("rotate me")
	require.NoError(t, err)

	v2, err := NewVaultService(config.VaultConfig{MasterKey: testMasterKey, KeyID: "v2"})
	require.NoError(t, err)

	// Old blobs open under the old key id, new writes use the new one.
	plaintext, err := v2.DecryptWithKeyID("v1", sealed)
	require.NoError(t, err)
	assert.Equal(t, "rotate me", plaintext)

	resealed, err := v2.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, resealed)

	again, err := v2.Decrypt(resealed)
	require.NoError(t, err)
	assert.Equal(t, "rotate me", again)
}

func TestNewVaultService_MissingKey(t *testing.T) {
	_, err := NewVaultService(config.VaultConfig{})
	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "SEC_002", appErr.Code)
}

func TestNewVaultService_PlaceholderKey(t *testing.T) {
	_, err := NewVaultService(config.VaultConfig{MasterKey: strings.Repeat("0", 64)})
	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "SEC_002", appErr.Code)
}

func TestNewVaultService_WrongLength(t *testing.T) {
	_, err := NewVaultService(config.VaultConfig{MasterKey: "abcdef"})
	assert.Error(t, err)
}

func TestNewVaultService_NotHex(t *testing.T) {
	_, err := NewVaultService(config.VaultConfig{MasterKey: strings.Repeat("zz", 32)})
	assert.Error(t, err)
}

func TestNewVaultService_EnvOverridesConfig(t *testing.T) {
	envKey := "8368616e676520746869732070617373776f726420746f206120736563726574"
	t.Setenv(MasterKeyEnvVar, envKey)

	v, err := NewVaultService(config.VaultConfig{MasterKey: testMasterKey, KeyID: "v1"})
	require.NoError(t, err)

	// A vault keyed from config alone cannot open blobs sealed by the env key.
	fromConfig := newTestVaultWithKey(t, testMasterKey)
	sealed, err := v.Encrypt("env wins")
	require.NoError(t, err)
	_, err = fromConfig.Decrypt(sealed)
	assert.Error(t, err)
}

func newTestVaultWithKey(t *testing.T, hexKey string) *VaultService {
	t.Helper()
	t.Setenv(MasterKeyEnvVar, "")
	v, err := NewVaultService(config.VaultConfig{MasterKey: hexKey, KeyID: "v1"})
	require.NoError(t, err)
	return v
}
