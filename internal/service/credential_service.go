package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payment-ledger/internal/core/domain"
	"payment-ledger/internal/core/ports"
	"payment-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CredentialServiceImpl manages gateway credential records. Credentials are
// encrypted before they reach the repository and decrypted only on demand;
// plaintext never appears in logs or API responses.
type CredentialServiceImpl struct {
	repo      ports.CredentialRepository
	vault     ports.EncryptionService
	opLogRepo ports.OperationLogRepository
	log       zerolog.Logger
}

// NewCredentialService creates a new CredentialServiceImpl.
func NewCredentialService(
	repo ports.CredentialRepository,
	vault ports.EncryptionService,
	opLogRepo ports.OperationLogRepository,
	log zerolog.Logger,
) *CredentialServiceImpl {
	return &CredentialServiceImpl{
		repo:      repo,
		vault:     vault,
		opLogRepo: opLogRepo,
		log:       log,
	}
}

// Resolve loads and decrypts one provider's credentials.
func (s *CredentialServiceImpl) Resolve(ctx context.Context, provider string) (*domain.GatewayCredentials, *domain.GatewayCredentialRecord, error) {
	rec, err := s.repo.GetByProvider(ctx, provider)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("load credential record: %w", err))
	}
	if rec == nil || !rec.Active {
		return nil, nil, apperror.ErrUnknownProvider(provider)
	}

	plaintext, err := s.decrypt(rec)
	if err != nil {
		return nil, nil, err
	}

	var creds domain.GatewayCredentials
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return nil, nil, apperror.ErrDecryptionFailure(fmt.Errorf("credential blob is not valid JSON: %w", err))
	}
	return &creds, rec, nil
}

func (s *CredentialServiceImpl) decrypt(rec *domain.GatewayCredentialRecord) (string, error) {
	if rec.KeyID != "" && rec.KeyID != s.vault.KeyID() {
		return s.vault.DecryptWithKeyID(rec.KeyID, rec.CredentialsEnc)
	}
	return s.vault.Decrypt(rec.CredentialsEnc)
}

// Upsert encrypts and stores a provider configuration, creating or replacing
// the existing record for that provider.
func (s *CredentialServiceImpl) Upsert(ctx context.Context, in ports.UpsertCredentialInput) (*domain.GatewayCredentialRecord, error) {
	if in.Provider == "" {
		return nil, apperror.Validation("provider is required")
	}
	if len(in.SupportedCurrencies) == 0 {
		return nil, apperror.Validation("at least one supported currency is required")
	}

	blob, err := json.Marshal(in.Credentials)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("marshal credentials: %w", err))
	}
	enc, err := s.vault.Encrypt(string(blob))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	existing, err := s.repo.GetByProvider(ctx, in.Provider)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load credential record: %w", err))
	}

	rec := existing
	if rec == nil {
		rec = &domain.GatewayCredentialRecord{
			ID:        uuid.New(),
			CreatedAt: now,
		}
	}
	rec.TenantID = in.TenantID
	rec.Provider = in.Provider
	rec.Environment = in.Environment
	rec.CredentialsEnc = enc
	rec.KeyID = s.vault.KeyID()
	rec.SupportedCurrencies = in.SupportedCurrencies
	rec.MinAmount = in.MinAmount
	rec.MaxAmount = in.MaxAmount
	rec.SupportsCod = in.SupportsCod
	rec.SupportsInsurance = in.SupportsInsurance
	rec.Active = in.Active
	rec.UpdatedAt = now

	if existing == nil {
		err = s.repo.Create(ctx, rec)
	} else {
		err = s.repo.Update(ctx, rec)
	}
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("save credential record: %w", err))
	}

	recordOperation(ctx, s.opLogRepo, s.log, opRecord{
		TenantID:      rec.TenantID,
		Operation:     domain.OperationCredentialWrite,
		CorrelationID: rec.Provider,
		Request:       map[string]any{"provider": rec.Provider, "environment": rec.Environment, "active": rec.Active},
		Success:       true,
		Actor:         in.Actor,
	})

	s.log.Info().
		Str("provider", rec.Provider).
		Str("environment", string(rec.Environment)).
		Bool("active", rec.Active).
		Msg("gateway credentials written")

	return rec, nil
}

// Rotate re-encrypts a provider's credential blob under the vault's current
// data key. Used after bumping the key id in configuration.
func (s *CredentialServiceImpl) Rotate(ctx context.Context, provider, actor string) (*domain.GatewayCredentialRecord, error) {
	rec, err := s.repo.GetByProvider(ctx, provider)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load credential record: %w", err))
	}
	if rec == nil {
		return nil, apperror.ErrNotFound("credential record")
	}
	if rec.KeyID == s.vault.KeyID() {
		return rec, nil // Already on the active key
	}

	plaintext, err := s.decrypt(rec)
	if err != nil {
		return nil, err
	}
	enc, err := s.vault.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	oldKeyID := rec.KeyID
	rec.CredentialsEnc = enc
	rec.KeyID = s.vault.KeyID()
	rec.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("save credential record: %w", err))
	}

	recordOperation(ctx, s.opLogRepo, s.log, opRecord{
		TenantID:      rec.TenantID,
		Operation:     domain.OperationCredentialWrite,
		CorrelationID: rec.Provider,
		Request:       map[string]any{"action": "rotate", "from_key": oldKeyID, "to_key": rec.KeyID},
		Success:       true,
		Actor:         actor,
	})

	s.log.Info().
		Str("provider", provider).
		Str("from_key", oldKeyID).
		Str("to_key", rec.KeyID).
		Msg("gateway credentials rotated")

	return rec, nil
}

// ListActive returns all active provider records, credentials still sealed.
func (s *CredentialServiceImpl) ListActive(ctx context.Context) ([]domain.GatewayCredentialRecord, error) {
	recs, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return recs, nil
}
