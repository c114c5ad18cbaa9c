package service

import (
	"context"
	"fmt"
	"time"

	"payment-ledger/internal/core/domain"
	"payment-ledger/internal/core/ports"
	"payment-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WebhookServiceImpl implements ports.WebhookIngestService. Every delivery
// leaves a log row regardless of outcome; (provider, provider_event_id)
// dedup makes replays acknowledge without side effects.
type WebhookServiceImpl struct {
	webhookRepo ports.WebhookLogRepository
	txRepo      ports.TransactionRepository
	ledger      ports.LedgerService
	refunds     ports.RefundService
	registry    ports.GatewayRegistry
	creds       ports.CredentialResolver
	log         zerolog.Logger
}

// NewWebhookService creates a new WebhookServiceImpl.
func NewWebhookService(
	webhookRepo ports.WebhookLogRepository,
	txRepo ports.TransactionRepository,
	ledger ports.LedgerService,
	refunds ports.RefundService,
	registry ports.GatewayRegistry,
	creds ports.CredentialResolver,
	log zerolog.Logger,
) *WebhookServiceImpl {
	return &WebhookServiceImpl{
		webhookRepo: webhookRepo,
		txRepo:      txRepo,
		ledger:      ledger,
		refunds:     refunds,
		registry:    registry,
		creds:       creds,
		log:         log,
	}
}

// Ingest verifies, deduplicates and applies one provider callback.
func (s *WebhookServiceImpl) Ingest(ctx context.Context, provider string, rawPayload []byte, signatureHeader string) (*ports.IngestResult, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, apperror.ErrUnknownProvider(provider)
	}
	creds, _, err := s.creds.Resolve(ctx, provider)
	if err != nil {
		return nil, err
	}

	sigValid := adapter.VerifyWebhook(creds, rawPayload, signatureHeader)

	// Parse even on an invalid signature so the log row carries the
	// provider's event id where possible.
	event, parseErr := adapter.ParseWebhook(rawPayload)
	eventID := domain.Fingerprint(rawPayload)
	eventType := ""
	if parseErr == nil {
		eventID = event.ProviderEventID
		eventType = event.EventType
	}

	// Signature rejection happens before the dedup shortcut: a forged replay
	// of a known event id must never earn the legitimate delivery's ack.
	if !sigValid {
		sigErr := apperror.ErrInvalidSignature()
		s.recordInvalidSignature(ctx, provider, eventID, eventType, rawPayload, sigErr)
		s.log.Warn().
			Str("provider", provider).
			Str("event_id", eventID).
			Msg("webhook signature verification failed")
		return nil, sigErr
	}

	logRow, replay, err := s.openLogRow(ctx, provider, eventID, eventType, true, rawPayload)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	if parseErr != nil {
		failErr := apperror.Validation(fmt.Sprintf("unparseable webhook payload: %v", parseErr))
		s.closeLogRow(ctx, logRow, domain.WebhookStatusFailed, nil, failErr)
		return nil, failErr
	}

	if event.IsRefund() {
		return s.applyRefund(ctx, logRow, event)
	}

	result, procErr := s.apply(ctx, logRow, event)
	if procErr != nil {
		return result, procErr
	}
	return result, nil
}

// recordInvalidSignature persists a failed log row for a rejected delivery.
// An existing row for the same event id is left untouched so a forged replay
// cannot overwrite a processed outcome.
func (s *WebhookServiceImpl) recordInvalidSignature(ctx context.Context, provider, eventID, eventType string, payload []byte, sigErr error) {
	existing, err := s.webhookRepo.GetByProviderEvent(ctx, provider, eventID)
	if err != nil {
		s.log.Error().Err(err).Str("event_id", eventID).Msg("failed to look up webhook log for rejected delivery")
		return
	}
	if existing != nil {
		return
	}
	msg := sigErr.Error()
	now := time.Now().UTC()
	row := &domain.PaymentWebhookLog{
		ID:               uuid.New(),
		Provider:         provider,
		EventType:        eventType,
		ProviderEventID:  eventID,
		SignatureValid:   false,
		ProcessingStatus: domain.WebhookStatusFailed,
		Payload:          string(payload),
		Error:            &msg,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.webhookRepo.Insert(ctx, row); err != nil {
		s.log.Error().Err(err).Str("event_id", eventID).Msg("failed to record rejected webhook delivery")
	}
}

// openLogRow finds or creates the delivery's log row. A replayed delivery
// that already reached a non-Failed outcome is acknowledged without
// reprocessing; a Failed one is retried on the same row.
func (s *WebhookServiceImpl) openLogRow(ctx context.Context, provider, eventID, eventType string, sigValid bool, payload []byte) (*domain.PaymentWebhookLog, *ports.IngestResult, error) {
	existing, err := s.webhookRepo.GetByProviderEvent(ctx, provider, eventID)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("lookup webhook log: %w", err))
	}
	if existing != nil {
		if existing.ProcessingStatus != domain.WebhookStatusFailed {
			s.log.Info().
				Str("provider", provider).
				Str("event_id", eventID).
				Str("status", string(existing.ProcessingStatus)).
				Msg("duplicate webhook delivery acknowledged")
			return nil, &ports.IngestResult{
				Status:        existing.ProcessingStatus,
				Deduplicated:  true,
				TransactionID: existing.TransactionID,
			}, nil
		}
		existing.RetryCount++
		existing.SignatureValid = sigValid
		existing.ProcessingStatus = domain.WebhookStatusReceived
		existing.Error = nil
		existing.UpdatedAt = time.Now().UTC()
		if err := s.webhookRepo.UpdateOutcome(ctx, existing); err != nil {
			return nil, nil, apperror.InternalError(fmt.Errorf("reopen webhook log: %w", err))
		}
		return existing, nil, nil
	}

	now := time.Now().UTC()
	row := &domain.PaymentWebhookLog{
		ID:               uuid.New(),
		Provider:         provider,
		EventType:        eventType,
		ProviderEventID:  eventID,
		SignatureValid:   sigValid,
		ProcessingStatus: domain.WebhookStatusReceived,
		Payload:          string(payload),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.webhookRepo.Insert(ctx, row); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("insert webhook log: %w", err))
	}
	return row, nil, nil
}

func (s *WebhookServiceImpl) closeLogRow(ctx context.Context, row *domain.PaymentWebhookLog, status domain.WebhookProcessingStatus, txnID *uuid.UUID, outcomeErr error) {
	row.ProcessingStatus = status
	row.TransactionID = txnID
	row.UpdatedAt = time.Now().UTC()
	if outcomeErr != nil {
		msg := outcomeErr.Error()
		row.Error = &msg
	}
	if err := s.webhookRepo.UpdateOutcome(ctx, row); err != nil {
		s.log.Error().Err(err).Str("webhook_id", row.ID.String()).Msg("failed to record webhook outcome")
	}
}

// apply locates the transaction and drives the ledger transition.
func (s *WebhookServiceImpl) apply(ctx context.Context, row *domain.PaymentWebhookLog, event *domain.WebhookEvent) (*ports.IngestResult, error) {
	txn, err := s.txRepo.GetByNumber(ctx, event.TransactionNum)
	if err != nil {
		wrapped := apperror.InternalError(fmt.Errorf("lookup transaction: %w", err))
		s.closeLogRow(ctx, row, domain.WebhookStatusFailed, nil, wrapped)
		return &ports.IngestResult{Status: domain.WebhookStatusFailed}, wrapped
	}
	if txn == nil {
		notFound := apperror.ErrNotFound("transaction")
		s.closeLogRow(ctx, row, domain.WebhookStatusFailed, nil, notFound)
		return &ports.IngestResult{Status: domain.WebhookStatusFailed}, notFound
	}

	// Out-of-order delivery: a target at or below the current lifecycle rank
	// carries no new information and must never move the state backwards.
	if event.TargetStatus.Rank() <= txn.Status.Rank() {
		s.closeLogRow(ctx, row, domain.WebhookStatusIgnored, &txn.ID, nil)
		s.log.Info().
			Str("txn_id", txn.ID.String()).
			Str("current", string(txn.Status)).
			Str("target", string(event.TargetStatus)).
			Msg("stale webhook ignored")
		return &ports.IngestResult{Status: domain.WebhookStatusIgnored, TransactionID: &txn.ID}, nil
	}

	evidence := ports.TransitionEvidence{
		Actor:         "webhook",
		Source:        "webhook",
		Fee:           event.Fee,
		FailureReason: event.FailureReason,
		OccurredAt:    event.OccurredAt,
	}
	if event.GatewayTxnID != "" {
		evidence.GatewayTxnID = &event.GatewayTxnID
	}

	if _, err := s.ledger.Transition(ctx, txn.ID, event.TargetStatus, evidence); err != nil {
		if apperror.IsInvalidTransition(err) {
			// Higher rank but no graph edge (e.g. REFUNDED arriving on a
			// FAILED transaction). Nothing to apply, nothing to retry.
			s.closeLogRow(ctx, row, domain.WebhookStatusIgnored, &txn.ID, err)
			return &ports.IngestResult{Status: domain.WebhookStatusIgnored, TransactionID: &txn.ID}, nil
		}
		s.closeLogRow(ctx, row, domain.WebhookStatusFailed, &txn.ID, err)
		return &ports.IngestResult{Status: domain.WebhookStatusFailed, TransactionID: &txn.ID}, err
	}

	s.closeLogRow(ctx, row, domain.WebhookStatusProcessed, &txn.ID, nil)
	s.log.Info().
		Str("txn_id", txn.ID.String()).
		Str("provider", event.Provider).
		Str("event_id", event.ProviderEventID).
		Str("target", string(event.TargetStatus)).
		Msg("webhook processed")

	return &ports.IngestResult{Status: domain.WebhookStatusProcessed, TransactionID: &txn.ID}, nil
}

// applyRefund settles an asynchronously accepted refund from the gateway's
// confirmation callback.
func (s *WebhookServiceImpl) applyRefund(ctx context.Context, row *domain.PaymentWebhookLog, event *domain.WebhookEvent) (*ports.IngestResult, error) {
	conf := ports.RefundConfirmation{
		GatewayRefundID: event.GatewayRefundID,
		Succeeded:       event.RefundSucceeded,
		FailureReason:   event.FailureReason,
		OccurredAt:      event.OccurredAt,
	}
	refund, err := s.refunds.Confirm(ctx, event.RefundNum, conf)
	if err != nil {
		s.closeLogRow(ctx, row, domain.WebhookStatusFailed, nil, err)
		return &ports.IngestResult{Status: domain.WebhookStatusFailed}, err
	}

	s.closeLogRow(ctx, row, domain.WebhookStatusProcessed, &refund.TransactionID, nil)
	s.log.Info().
		Str("refund_id", refund.ID.String()).
		Str("provider", event.Provider).
		Str("event_id", event.ProviderEventID).
		Bool("succeeded", event.RefundSucceeded).
		Msg("refund confirmation processed")

	return &ports.IngestResult{Status: domain.WebhookStatusProcessed, TransactionID: &refund.TransactionID}, nil
}
