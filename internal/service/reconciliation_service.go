package service

import (
	"context"
	"fmt"
	"time"

	"payment-ledger/config"
	"payment-ledger/internal/core/domain"
	"payment-ledger/internal/core/ports"
	"payment-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// ReconciliationServiceImpl compares ledger state against each gateway's
// statement on a schedule. Mismatches raise events for an operator; the
// reconciler never rewrites ledger state from remote data. The only
// transitions it drives are expiring overdue payment links.
type ReconciliationServiceImpl struct {
	txRepo    ports.TransactionRepository
	credRepo  ports.CredentialRepository
	creds     ports.CredentialResolver
	registry  ports.GatewayRegistry
	ledger    ports.LedgerService
	opLogRepo ports.OperationLogRepository
	locks     ports.RunLockStore
	events    ports.EventPublisher
	cfg       config.ReconciliationConfig
	codCfg    config.CodConfig
	log       zerolog.Logger
}

// NewReconciliationService creates a new ReconciliationServiceImpl.
func NewReconciliationService(
	txRepo ports.TransactionRepository,
	credRepo ports.CredentialRepository,
	creds ports.CredentialResolver,
	registry ports.GatewayRegistry,
	ledger ports.LedgerService,
	opLogRepo ports.OperationLogRepository,
	locks ports.RunLockStore,
	events ports.EventPublisher,
	cfg config.ReconciliationConfig,
	codCfg config.CodConfig,
	log zerolog.Logger,
) *ReconciliationServiceImpl {
	return &ReconciliationServiceImpl{
		txRepo:    txRepo,
		credRepo:  credRepo,
		creds:     creds,
		registry:  registry,
		ledger:    ledger,
		opLogRepo: opLogRepo,
		locks:     locks,
		events:    events,
		cfg:       cfg,
		codCfg:    codCfg,
		log:       log,
	}
}

// Start runs RunOnce on the configured interval until ctx is cancelled.
// The first run happens immediately.
func (s *ReconciliationServiceImpl) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info().Msg("reconciliation disabled")
		return
	}

	s.log.Info().Dur("interval", s.cfg.Interval).Msg("reconciliation scheduler started")

	if err := s.RunOnce(ctx); err != nil {
		s.log.Error().Err(err).Msg("reconciliation run failed")
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("reconciliation scheduler stopped")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("reconciliation run failed")
			}
		}
	}
}

// RunOnce reconciles every active gateway. A per-gateway run lock keeps at
// most one run in flight per gateway per tenant across instances.
func (s *ReconciliationServiceImpl) RunOnce(ctx context.Context) error {
	recs, err := s.credRepo.ListActive(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("list active gateways: %w", err))
	}

	for i := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := &recs[i]

		lockName := fmt.Sprintf("reconcile:%s:%s", rec.Provider, rec.TenantID)
		got, err := s.locks.TryLock(ctx, lockName, s.cfg.Interval)
		if err != nil {
			s.log.Error().Err(err).Str("provider", rec.Provider).Msg("run lock unavailable")
			continue
		}
		if !got {
			s.log.Info().Str("provider", rec.Provider).Msg("reconciliation already running, skipping")
			continue
		}

		if err := s.reconcileGateway(ctx, rec); err != nil {
			s.log.Error().Err(err).Str("provider", rec.Provider).Msg("gateway reconciliation failed")
		}

		if err := s.locks.Unlock(ctx, lockName); err != nil {
			s.log.Warn().Err(err).Str("provider", rec.Provider).Msg("failed to release run lock")
		}
	}
	return nil
}

func (s *ReconciliationServiceImpl) reconcileGateway(ctx context.Context, rec *domain.GatewayCredentialRecord) error {
	adapter, err := s.registry.Get(rec.Provider)
	if err != nil {
		return err
	}
	creds, _, err := s.creds.Resolve(ctx, rec.Provider)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	since := now.Add(-s.cfg.Lookback)

	started := time.Now()
	statement, err := adapter.FetchStatement(ctx, creds, since, now)
	recordOperation(ctx, s.opLogRepo, s.log, opRecord{
		TenantID:      rec.TenantID,
		Operation:     domain.OperationFetchStatement,
		CorrelationID: rec.Provider,
		Request:       map[string]any{"from": since, "to": now},
		Response:      map[string]any{"entries": len(statement)},
		DurationMs:    time.Since(started).Milliseconds(),
		Success:       err == nil,
		Err:           err,
		Actor:         "scheduler",
	})
	if err != nil {
		return err
	}

	remote := make(map[string]ports.StatementEntry, len(statement))
	for _, entry := range statement {
		remote[entry.TransactionNum] = entry
	}

	mismatches := 0
	mismatches += s.checkPendingStates(ctx, rec, adapter, creds, remote, since)
	mismatches += s.checkSettledStates(ctx, rec, remote, since)
	expired := s.expireOverdueLinks(ctx, rec, since)
	reminders := s.remindOverdueCod(ctx, rec)

	recordOperation(ctx, s.opLogRepo, s.log, opRecord{
		TenantID:      rec.TenantID,
		Operation:     domain.OperationReconcile,
		CorrelationID: rec.Provider,
		Response: map[string]any{
			"statement_entries": len(statement),
			"mismatches":        mismatches,
			"expired":           expired,
			"cod_reminders":     reminders,
		},
		Success: true,
		Actor:   "scheduler",
	})

	s.log.Info().
		Str("provider", rec.Provider).
		Int("entries", len(statement)).
		Int("mismatches", mismatches).
		Int("expired", expired).
		Int("cod_reminders", reminders).
		Msg("gateway reconciled")

	return nil
}

// checkPendingStates flags in-flight transactions the gateway already settled.
// A transaction absent from the statement but already known to the gateway is
// queried directly so its outcome does not stay unknown for another cycle.
func (s *ReconciliationServiceImpl) checkPendingStates(ctx context.Context, rec *domain.GatewayCredentialRecord, adapter ports.GatewayAdapter, creds *domain.GatewayCredentials, remote map[string]ports.StatementEntry, since time.Time) int {
	mismatches := 0
	for _, status := range []domain.TransactionStatus{domain.TransactionStatusPending, domain.TransactionStatusProcessing} {
		txns, err := s.txRepo.ListByStatus(ctx, rec.TenantID, rec.Provider, status, since)
		if err != nil {
			s.log.Error().Err(err).Str("status", string(status)).Msg("listing transactions for reconciliation failed")
			continue
		}
		for i := range txns {
			txn := &txns[i]
			entry, ok := remote[txn.Number]
			if !ok {
				if txn.GatewayTxnID == nil {
					continue // Provider has not seen it yet, nothing to compare
				}
				queried := s.queryUnknownOutcome(ctx, rec, adapter, creds, txn)
				if queried == nil {
					continue
				}
				entry = *queried
			}
			if entry.Status != txn.Status {
				s.raiseMismatch(txn, rec.Provider, string(entry.Status), "gateway settled a transaction the ledger still holds in flight")
				mismatches++
			}
		}
	}
	return mismatches
}

// queryUnknownOutcome asks the gateway for one transaction's state directly.
func (s *ReconciliationServiceImpl) queryUnknownOutcome(ctx context.Context, rec *domain.GatewayCredentialRecord, adapter ports.GatewayAdapter, creds *domain.GatewayCredentials, txn *domain.PaymentTransaction) *ports.StatementEntry {
	started := time.Now()
	entry, err := adapter.QueryTransaction(ctx, creds, *txn.GatewayTxnID)
	recordOperation(ctx, s.opLogRepo, s.log, opRecord{
		TenantID:      rec.TenantID,
		TransactionID: &txn.ID,
		Operation:     domain.OperationQueryStatus,
		CorrelationID: txn.Number,
		Request:       map[string]any{"gateway_txn_id": *txn.GatewayTxnID},
		Response:      entry,
		DurationMs:    time.Since(started).Milliseconds(),
		Success:       err == nil,
		Err:           err,
		Actor:         "scheduler",
	})
	if err != nil {
		s.log.Warn().Err(err).Str("txn_id", txn.ID.String()).Msg("gateway status query failed")
		return nil
	}
	return entry
}

// checkSettledStates verifies that locally settled transactions exist
// remotely with the same status and amount.
func (s *ReconciliationServiceImpl) checkSettledStates(ctx context.Context, rec *domain.GatewayCredentialRecord, remote map[string]ports.StatementEntry, since time.Time) int {
	txns, err := s.txRepo.ListByStatus(ctx, rec.TenantID, rec.Provider, domain.TransactionStatusPaid, since)
	if err != nil {
		s.log.Error().Err(err).Msg("listing paid transactions for reconciliation failed")
		return 0
	}

	mismatches := 0
	for i := range txns {
		txn := &txns[i]
		entry, ok := remote[txn.Number]
		if !ok {
			s.raiseMismatch(txn, rec.Provider, "ABSENT", "transaction paid locally but missing from the gateway statement")
			mismatches++
			continue
		}
		if entry.Status != txn.Status {
			s.raiseMismatch(txn, rec.Provider, string(entry.Status), "status drift between ledger and gateway")
			mismatches++
			continue
		}
		if !entry.Amount.Equal(txn.Amount) {
			s.raiseMismatch(txn, rec.Provider, string(entry.Status),
				fmt.Sprintf("amount drift: ledger %s, gateway %s", txn.Amount, entry.Amount))
			mismatches++
		}
	}
	return mismatches
}

func (s *ReconciliationServiceImpl) raiseMismatch(txn *domain.PaymentTransaction, provider, remoteStatus, detail string) {
	evt := domain.NewEvent(domain.EventReconciliationMismatch, txn.TenantID, domain.ReconciliationMismatchEvent{
		Provider:      provider,
		TransactionID: &txn.ID,
		Number:        txn.Number,
		LocalStatus:   string(txn.Status),
		RemoteStatus:  remoteStatus,
		Detail:        detail,
		AlertEmail:    s.cfg.AlertEmail,
	})
	if err := s.events.Publish(evt); err != nil {
		s.log.Warn().Err(err).Str("txn_id", txn.ID.String()).Msg("failed to publish mismatch event")
	}
	s.log.Warn().
		Str("txn_id", txn.ID.String()).
		Str("number", txn.Number).
		Str("local", string(txn.Status)).
		Str("remote", remoteStatus).
		Str("detail", detail).
		Msg("reconciliation mismatch")
}

// expireOverdueLinks moves Pending transactions whose payment link lapsed
// into Expired.
func (s *ReconciliationServiceImpl) expireOverdueLinks(ctx context.Context, rec *domain.GatewayCredentialRecord, since time.Time) int {
	txns, err := s.txRepo.ListByStatus(ctx, rec.TenantID, rec.Provider, domain.TransactionStatusPending, since)
	if err != nil {
		s.log.Error().Err(err).Msg("listing pending transactions for expiry failed")
		return 0
	}

	now := time.Now().UTC()
	expired := 0
	for i := range txns {
		txn := &txns[i]
		if txn.ExpiresAt == nil || txn.ExpiresAt.After(now) {
			continue
		}
		_, err := s.ledger.Transition(ctx, txn.ID, domain.TransactionStatusExpired, ports.TransitionEvidence{
			Actor:  "scheduler",
			Source: "reconciliation",
		})
		if err != nil {
			s.log.Error().Err(err).Str("txn_id", txn.ID.String()).Msg("failed to expire transaction")
			continue
		}
		expired++
	}
	return expired
}

// remindOverdueCod publishes reminders for COD transactions still awaiting
// collection past the configured age.
func (s *ReconciliationServiceImpl) remindOverdueCod(ctx context.Context, rec *domain.GatewayCredentialRecord) int {
	if !s.codCfg.Enabled || s.codCfg.ReminderHours <= 0 {
		return 0
	}

	// Scan the full lookback plus reminder age so long-outstanding COD is
	// not silently dropped from the window.
	since := time.Now().UTC().Add(-s.cfg.Lookback - time.Duration(s.codCfg.ReminderHours)*time.Hour)
	txns, err := s.txRepo.ListByStatus(ctx, rec.TenantID, rec.Provider, domain.TransactionStatusCodPending, since)
	if err != nil {
		s.log.Error().Err(err).Msg("listing cod transactions for reminders failed")
		return 0
	}

	cutoff := time.Now().UTC().Add(-time.Duration(s.codCfg.ReminderHours) * time.Hour)
	reminders := 0
	for i := range txns {
		txn := &txns[i]
		if txn.CreatedAt.After(cutoff) {
			continue
		}
		evt := domain.NewEvent(domain.EventCodCollectionReminder, txn.TenantID, domain.CodCollectionReminderEvent{
			TransactionID:    txn.ID,
			Number:           txn.Number,
			Amount:           txn.Amount,
			HoursOutstanding: int(time.Since(txn.CreatedAt).Hours()),
		})
		if err := s.events.Publish(evt); err != nil {
			s.log.Warn().Err(err).Str("txn_id", txn.ID.String()).Msg("failed to publish cod reminder")
			continue
		}
		reminders++
	}
	return reminders
}
