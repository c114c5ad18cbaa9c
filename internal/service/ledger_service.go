package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payment-ledger/config"
	"payment-ledger/internal/core/domain"
	"payment-ledger/internal/core/ports"
	"payment-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// acquireRetries bounds how long a losing Create caller waits for the
// winner's row to become visible.
const (
	acquireRetries    = 3
	acquireRetryDelay = 50 * time.Millisecond
)

// idempotencyEntry is the value cached behind an idempotency key.
type idempotencyEntry struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Fingerprint   string    `json:"fingerprint"`
}

// LedgerServiceImpl implements ports.LedgerService. It exclusively owns
// PaymentTransaction mutation; all writes on a given transaction id are
// serialized through a SELECT ... FOR UPDATE row lock.
type LedgerServiceImpl struct {
	txRepo     ports.TransactionRepository
	idempRepo  ports.IdempotencyRepository
	idempStore ports.IdempotencyStore
	credRepo   ports.CredentialRepository
	opLogRepo  ports.OperationLogRepository
	transactor ports.DBTransactor
	registry   ports.GatewayRegistry
	creds      ports.CredentialResolver
	events     ports.EventPublisher
	cfg        config.PaymentConfig
	codCfg     config.CodConfig
	log        zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	txRepo ports.TransactionRepository,
	idempRepo ports.IdempotencyRepository,
	idempStore ports.IdempotencyStore,
	credRepo ports.CredentialRepository,
	opLogRepo ports.OperationLogRepository,
	transactor ports.DBTransactor,
	registry ports.GatewayRegistry,
	creds ports.CredentialResolver,
	events ports.EventPublisher,
	cfg config.PaymentConfig,
	codCfg config.CodConfig,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		txRepo:     txRepo,
		idempRepo:  idempRepo,
		idempStore: idempStore,
		credRepo:   credRepo,
		opLogRepo:  opLogRepo,
		transactor: transactor,
		registry:   registry,
		creds:      creds,
		events:     events,
		cfg:        cfg,
		codCfg:     codCfg,
		log:        log,
	}
}

// Create registers a new payment transaction behind the idempotency guard.
// A repeated key within its TTL returns the existing transaction, never a
// second one, even under concurrent identical requests.
func (s *LedgerServiceImpl) Create(ctx context.Context, req ports.CreateTransactionRequest) (*domain.PaymentTransaction, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}

	rec, err := s.credRepo.GetByProvider(ctx, req.Provider)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load gateway config: %w", err))
	}
	if rec == nil || !rec.Active {
		return nil, apperror.ErrUnknownProvider(req.Provider)
	}
	if !rec.SupportsCurrency(req.Currency) {
		return nil, apperror.ErrUnsupportedCurrency(req.Currency)
	}
	if !rec.AllowsAmount(req.Amount) {
		return nil, apperror.ErrAmountOutOfRange()
	}
	if req.Method == domain.PaymentMethodCod {
		if !s.codCfg.Enabled || !rec.SupportsCod {
			return nil, apperror.ErrCodDisabled()
		}
		if cap := s.codCfg.MaxAmountDecimal(); !cap.IsZero() && req.Amount.GreaterThan(cap) {
			return nil, apperror.ErrAmountOutOfRange()
		}
	}

	idempKey := domain.BuildIdempotencyKey(req.Provider, req.IdempotencyKey)

	// Layer 1: cache fast path
	if existing, err := s.lookupExisting(ctx, idempKey, req.Fingerprint); err == nil && existing != nil {
		return existing, nil
	} else if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("idempotency fast path failed, falling through")
	}

	// Layer 2: claim the key. This SET NX is the single compare-and-set where
	// concurrent callers with the same key agree on one winner.
	placeholder, _ := json.Marshal(idempotencyEntry{Fingerprint: req.Fingerprint})
	won, err := s.idempStore.Acquire(ctx, idempKey, placeholder, s.cfg.IdempotencyTTL)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("idempotency acquire: %w", err))
	}
	if !won {
		return s.awaitWinner(ctx, idempKey, req.Fingerprint)
	}

	txn, err := s.createTransaction(ctx, req, idempKey)
	if err != nil {
		// Drop the placeholder so a retry of the same key can proceed.
		if relErr := s.idempStore.Release(ctx, idempKey); relErr != nil {
			s.log.Warn().Err(relErr).Str("key", idempKey).Msg("failed to release idempotency placeholder")
		}
		return nil, err
	}

	entry, _ := json.Marshal(idempotencyEntry{TransactionID: txn.ID, Fingerprint: req.Fingerprint})
	if err := s.idempStore.Set(ctx, idempKey, entry, s.cfg.IdempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency entry")
	}

	s.appendOpLog(ctx, txn.TenantID, &txn.ID, domain.OperationTransition,
		txn.Number, map[string]any{"action": "create", "status": txn.Status, "amount": txn.Amount},
		nil, true, nil, req.Actor)

	s.log.Info().
		Str("txn_id", txn.ID.String()).
		Str("number", txn.Number).
		Str("provider", txn.Provider).
		Str("amount", txn.Amount.String()).
		Msg("transaction created")

	return txn, nil
}

// lookupExisting resolves an idempotency key through cache then database.
// Returns nil, nil when the key is unclaimed.
func (s *LedgerServiceImpl) lookupExisting(ctx context.Context, idempKey, fingerprint string) (*domain.PaymentTransaction, error) {
	cached, err := s.idempStore.Get(ctx, idempKey)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		var entry idempotencyEntry
		if err := json.Unmarshal(cached, &entry); err == nil && entry.TransactionID != uuid.Nil {
			return s.resolveEntry(ctx, idempKey, entry, fingerprint)
		}
		// Placeholder without a transaction id: a concurrent winner is still
		// committing. Treat as claimed.
		return nil, nil
	}

	rec, err := s.idempRepo.Get(ctx, idempKey)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return s.resolveEntry(ctx, idempKey, idempotencyEntry{TransactionID: rec.TransactionID, Fingerprint: rec.Fingerprint}, fingerprint)
}

func (s *LedgerServiceImpl) resolveEntry(ctx context.Context, idempKey string, entry idempotencyEntry, fingerprint string) (*domain.PaymentTransaction, error) {
	if entry.Fingerprint != "" && fingerprint != "" && entry.Fingerprint != fingerprint {
		// Same key, different payload: the key wins, not the payload.
		s.log.Warn().
			Str("key", idempKey).
			Str("fingerprint", fingerprint).
			Msg("idempotency fingerprint mismatch, returning existing transaction")
	}
	txn, err := s.txRepo.GetByID(ctx, entry.TransactionID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, fmt.Errorf("idempotency entry points at missing transaction %s", entry.TransactionID)
	}
	return txn, nil
}

// awaitWinner polls briefly for the concurrent winner's committed row.
func (s *LedgerServiceImpl) awaitWinner(ctx context.Context, idempKey, fingerprint string) (*domain.PaymentTransaction, error) {
	for i := 0; i < acquireRetries; i++ {
		existing, err := s.lookupExisting(ctx, idempKey, fingerprint)
		if err == nil && existing != nil {
			return existing, nil
		}
		select {
		case <-ctx.Done():
			return nil, apperror.InternalError(ctx.Err())
		case <-time.After(acquireRetryDelay):
		}
	}
	return nil, apperror.ErrLockContention(fmt.Errorf("idempotency key %s claimed by concurrent request", idempKey))
}

func (s *LedgerServiceImpl) createTransaction(ctx context.Context, req ports.CreateTransactionRequest, idempKey string) (*domain.PaymentTransaction, error) {
	seq, err := s.txRepo.NextSequence(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("next transaction number: %w", err))
	}

	now := time.Now().UTC()
	status := domain.TransactionStatusPending
	var expiresAt *time.Time
	if req.Method == domain.PaymentMethodCod {
		status = domain.TransactionStatusCodPending
	} else {
		exp := now.Add(s.cfg.LinkExpiry)
		expiresAt = &exp
	}

	txn := &domain.PaymentTransaction{
		ID:             uuid.New(),
		Number:         fmt.Sprintf("%s-%s-%08d", s.cfg.NumberPrefix, now.Format("20060102"), seq),
		TenantID:       req.TenantID,
		OrderID:        req.OrderID,
		CustomerID:     req.CustomerID,
		Provider:       req.Provider,
		Amount:         req.Amount,
		Currency:       req.Currency,
		GatewayFee:     decimal.Zero,
		NetAmount:      req.Amount,
		RefundedTotal:  decimal.Zero,
		Status:         status,
		Method:         req.Method,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
		UpdatedAt:      now,
	}

	// Hosted payment methods need the provider's page before the row is
	// committed; a gateway failure leaves no transaction behind. COD has no
	// hosted page.
	if req.Method != domain.PaymentMethodCod {
		link, err := s.createPaymentLink(ctx, txn, req.Actor)
		if err != nil {
			return nil, err
		}
		txn.PaymentLinkURL = &link.URL
		if link.GatewayTxnID != "" {
			gwID := link.GatewayTxnID
			txn.GatewayTxnID = &gwID
		}
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
	}

	idempRec := &domain.IdempotencyRecord{
		Key:           idempKey,
		TenantID:      req.TenantID,
		Fingerprint:   req.Fingerprint,
		TransactionID: txn.ID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.IdempotencyTTL),
	}
	if err := s.idempRepo.Create(ctx, dbTx, idempRec); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("save idempotency record: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return txn, nil
}

// createPaymentLink asks the provider for a hosted payment page. The row is
// not durable yet, so the audit entry carries the number as correlation only.
func (s *LedgerServiceImpl) createPaymentLink(ctx context.Context, txn *domain.PaymentTransaction, actor string) (*ports.PaymentLink, error) {
	adapter, err := s.registry.Get(txn.Provider)
	if err != nil {
		return nil, apperror.ErrUnknownProvider(txn.Provider)
	}
	creds, _, err := s.creds.Resolve(ctx, txn.Provider)
	if err != nil {
		return nil, err
	}

	linkReq := ports.PaymentLinkRequest{
		Transaction: txn,
		ReturnURL:   s.cfg.ReturnURL,
	}
	if txn.ExpiresAt != nil {
		linkReq.ExpiresAt = *txn.ExpiresAt
	}

	started := time.Now()
	link, err := adapter.CreatePaymentLink(ctx, creds, linkReq)
	s.appendOpLogTimed(ctx, txn.TenantID, nil, domain.OperationCreateLink,
		txn.Number, map[string]any{"provider": txn.Provider, "amount": txn.Amount, "currency": txn.Currency},
		link, time.Since(started).Milliseconds(), err == nil, err, actor)
	if err != nil {
		return nil, err
	}
	return link, nil
}

// GetByID fetches one transaction.
func (s *LedgerServiceImpl) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentTransaction, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	return txn, nil
}

// Transition moves a transaction along the state graph. Off-graph requests
// fail with an invalid-transition error and are logged, not retried.
func (s *LedgerServiceImpl) Transition(ctx context.Context, id uuid.UUID, target domain.TransactionStatus, evidence ports.TransitionEvidence) (*domain.PaymentTransaction, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}

	from := txn.Status
	if !from.CanTransitionTo(target) {
		transErr := apperror.ErrInvalidTransition(string(from), string(target))
		s.appendOpLog(ctx, txn.TenantID, &txn.ID, domain.OperationTransition,
			txn.Number, map[string]any{"from": from, "to": target, "source": evidence.Source},
			nil, false, transErr, evidence.Actor)
		return nil, transErr
	}

	s.applyEvidence(txn, target, evidence)

	if err := s.txRepo.Update(ctx, dbTx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update transaction: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.appendOpLog(ctx, txn.TenantID, &txn.ID, domain.OperationTransition,
		txn.Number, map[string]any{"from": from, "to": target, "source": evidence.Source},
		nil, true, nil, evidence.Actor)

	s.publishTransitionEvent(txn, target)

	s.log.Info().
		Str("txn_id", txn.ID.String()).
		Str("from", string(from)).
		Str("to", string(target)).
		Str("source", evidence.Source).
		Msg("transaction transitioned")

	return txn, nil
}

func (s *LedgerServiceImpl) applyEvidence(txn *domain.PaymentTransaction, target domain.TransactionStatus, evidence ports.TransitionEvidence) {
	now := time.Now().UTC()
	occurred := evidence.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}

	txn.Status = target
	txn.UpdatedAt = now
	if evidence.GatewayTxnID != nil {
		txn.GatewayTxnID = evidence.GatewayTxnID
	}
	if evidence.FailureReason != nil {
		txn.FailureReason = evidence.FailureReason
	}

	switch target {
	case domain.TransactionStatusPaid:
		txn.PaidAt = &occurred
		if evidence.Fee.IsPositive() {
			txn.GatewayFee = evidence.Fee
			txn.NetAmount = txn.Amount.Sub(evidence.Fee)
		}
	case domain.TransactionStatusCodCollected:
		txn.CodCollectedAt = &occurred
		txn.PaidAt = &occurred
		if evidence.CodCollector != nil {
			txn.CodCollectorName = evidence.CodCollector
		}
	}
}

func (s *LedgerServiceImpl) publishTransitionEvent(txn *domain.PaymentTransaction, target domain.TransactionStatus) {
	var evt *domain.Event
	switch target {
	case domain.TransactionStatusPaid, domain.TransactionStatusCodCollected:
		paidAt := time.Now().UTC()
		if txn.PaidAt != nil {
			paidAt = *txn.PaidAt
		}
		e := domain.NewEvent(domain.EventPaymentPaid, txn.TenantID, domain.PaymentPaidEvent{
			TransactionID: txn.ID,
			Number:        txn.Number,
			OrderID:       txn.OrderID,
			Amount:        txn.Amount,
			Currency:      txn.Currency,
			PaidAt:        paidAt,
		})
		evt = &e
	case domain.TransactionStatusFailed, domain.TransactionStatusCancelled, domain.TransactionStatusExpired:
		reason := ""
		if txn.FailureReason != nil {
			reason = *txn.FailureReason
		}
		e := domain.NewEvent(domain.EventPaymentFailed, txn.TenantID, domain.PaymentFailedEvent{
			TransactionID: txn.ID,
			Number:        txn.Number,
			OrderID:       txn.OrderID,
			Amount:        txn.Amount,
			Status:        string(target),
			Reason:        reason,
		})
		evt = &e
	}
	if evt == nil {
		return
	}
	if err := s.events.Publish(*evt); err != nil {
		s.log.Warn().Err(err).Str("event", string(evt.Type)).Msg("failed to publish domain event")
	}
}

// MarkFee records the gateway fee and recomputes the net amount.
// Valid only once the transaction is Authorized or Paid.
func (s *LedgerServiceImpl) MarkFee(ctx context.Context, id uuid.UUID, fee decimal.Decimal, actor string) error {
	if fee.IsNegative() {
		return apperror.ErrInvalidAmount()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock transaction: %w", err))
	}
	if txn == nil {
		return apperror.ErrNotFound("transaction")
	}

	switch txn.Status {
	case domain.TransactionStatusAuthorized, domain.TransactionStatusPaid,
		domain.TransactionStatusPartialRefund, domain.TransactionStatusCodCollected:
	default:
		return apperror.ErrFeeNotApplicable(string(txn.Status))
	}

	txn.GatewayFee = fee
	txn.NetAmount = txn.Amount.Sub(fee)
	txn.UpdatedAt = time.Now().UTC()

	if err := s.txRepo.Update(ctx, dbTx, txn); err != nil {
		return apperror.InternalError(fmt.Errorf("update transaction: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.appendOpLog(ctx, txn.TenantID, &txn.ID, domain.OperationTransition,
		txn.Number, map[string]any{"action": "mark_fee", "fee": fee}, nil, true, nil, actor)
	return nil
}

// ApplyRefund decrements the refundable-remaining view after a refund
// completes. Fails before any write if the completed-refund sum would exceed
// the transaction amount.
func (s *LedgerServiceImpl) ApplyRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, actor string) error {
	if !amount.IsPositive() {
		return apperror.ErrInvalidAmount()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, id)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lock transaction: %w", err))
	}
	if txn == nil {
		return apperror.ErrNotFound("transaction")
	}

	newTotal := txn.RefundedTotal.Add(amount)
	if newTotal.GreaterThan(txn.Amount) {
		overErr := apperror.ErrOverRefund()
		s.appendOpLog(ctx, txn.TenantID, &txn.ID, domain.OperationTransition,
			txn.Number, map[string]any{"action": "apply_refund", "amount": amount},
			nil, false, overErr, actor)
		return overErr
	}

	target := domain.TransactionStatusPartialRefund
	if newTotal.Equal(txn.Amount) {
		target = domain.TransactionStatusRefunded
	}
	if txn.Status != target && !txn.Status.CanTransitionTo(target) {
		return apperror.ErrInvalidTransition(string(txn.Status), string(target))
	}

	from := txn.Status
	txn.RefundedTotal = newTotal
	txn.Status = target
	txn.UpdatedAt = time.Now().UTC()

	if err := s.txRepo.Update(ctx, dbTx, txn); err != nil {
		return apperror.InternalError(fmt.Errorf("update transaction: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.appendOpLog(ctx, txn.TenantID, &txn.ID, domain.OperationTransition,
		txn.Number, map[string]any{"action": "apply_refund", "from": from, "to": target, "amount": amount},
		nil, true, nil, actor)
	return nil
}

func (s *LedgerServiceImpl) appendOpLog(
	ctx context.Context,
	tenantID uuid.UUID,
	txnID *uuid.UUID,
	op domain.OperationType,
	correlationID string,
	request any,
	response any,
	success bool,
	opErr error,
	actor string,
) {
	recordOperation(ctx, s.opLogRepo, s.log, opRecord{
		TenantID:      tenantID,
		TransactionID: txnID,
		Operation:     op,
		CorrelationID: correlationID,
		Request:       request,
		Response:      response,
		Success:       success,
		Err:           opErr,
		Actor:         actor,
	})
}

func (s *LedgerServiceImpl) appendOpLogTimed(
	ctx context.Context,
	tenantID uuid.UUID,
	txnID *uuid.UUID,
	op domain.OperationType,
	correlationID string,
	request any,
	response any,
	durationMs int64,
	success bool,
	opErr error,
	actor string,
) {
	recordOperation(ctx, s.opLogRepo, s.log, opRecord{
		TenantID:      tenantID,
		TransactionID: txnID,
		Operation:     op,
		CorrelationID: correlationID,
		Request:       request,
		Response:      response,
		DurationMs:    durationMs,
		Success:       success,
		Err:           opErr,
		Actor:         actor,
	})
}
