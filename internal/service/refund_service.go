package service

import (
	"context"
	"fmt"
	"time"

	"payment-ledger/config"
	"payment-ledger/internal/core/domain"
	"payment-ledger/internal/core/ports"
	"payment-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// autoApprover is recorded as the approver when policy approves a refund
// without a human in the loop.
const autoApprover = "auto-policy"

// RefundServiceImpl implements ports.RefundService: the refund state machine
// and the approval policy in front of it.
type RefundServiceImpl struct {
	refundRepo ports.RefundRepository
	txRepo     ports.TransactionRepository
	opLogRepo  ports.OperationLogRepository
	transactor ports.DBTransactor
	ledger     ports.LedgerService
	registry   ports.GatewayRegistry
	creds      ports.CredentialResolver
	events     ports.EventPublisher
	cfg        config.PaymentConfig
	log        zerolog.Logger
}

// NewRefundService creates a new RefundServiceImpl.
func NewRefundService(
	refundRepo ports.RefundRepository,
	txRepo ports.TransactionRepository,
	opLogRepo ports.OperationLogRepository,
	transactor ports.DBTransactor,
	ledger ports.LedgerService,
	registry ports.GatewayRegistry,
	creds ports.CredentialResolver,
	events ports.EventPublisher,
	cfg config.PaymentConfig,
	log zerolog.Logger,
) *RefundServiceImpl {
	return &RefundServiceImpl{
		refundRepo: refundRepo,
		txRepo:     txRepo,
		opLogRepo:  opLogRepo,
		transactor: transactor,
		ledger:     ledger,
		registry:   registry,
		creds:      creds,
		events:     events,
		cfg:        cfg,
		log:        log,
	}
}

// Request validates a refund against the transaction under its row lock and
// records it as Pending, or Approved directly when policy allows.
func (s *RefundServiceImpl) Request(ctx context.Context, req ports.RefundRequest) (*domain.Refund, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, req.TransactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if !txn.IsRefundable() {
		return nil, apperror.ErrNotRefundable(string(txn.Status))
	}
	if err := s.checkRefundWindow(txn); err != nil {
		return nil, err
	}

	// Completed refunds plus this request must fit within the original
	// amount. Read under the same row lock that ApplyRefund takes, so two
	// racing requests cannot both pass.
	completed, err := s.refundRepo.SumCompletedByTransaction(ctx, dbTx, txn.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("sum completed refunds: %w", err))
	}
	if completed.Add(req.Amount).GreaterThan(txn.Amount) {
		return nil, apperror.ErrOverRefund()
	}

	seq, err := s.txRepo.NextSequence(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("next refund number: %w", err))
	}

	now := time.Now().UTC()
	refund := &domain.Refund{
		ID:            uuid.New(),
		Number:        fmt.Sprintf("RF-%s-%08d", now.Format("20060102"), seq),
		TenantID:      req.TenantID,
		TransactionID: txn.ID,
		Amount:        req.Amount,
		Status:        domain.RefundStatusPending,
		Reason:        req.Reason,
		RequestedBy:   req.RequestedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if s.autoApprovable(req) {
		approver := autoApprover
		refund.Status = domain.RefundStatusApproved
		refund.ApprovedBy = &approver
	}

	if err := s.refundRepo.Create(ctx, dbTx, refund); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create refund: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	recordOperation(ctx, s.opLogRepo, s.log, opRecord{
		TenantID:      refund.TenantID,
		TransactionID: &txn.ID,
		Operation:     domain.OperationExecuteRefund,
		CorrelationID: refund.Number,
		Request:       map[string]any{"action": "request", "amount": refund.Amount, "status": refund.Status},
		Success:       true,
		Actor:         req.RequestedBy,
	})

	s.log.Info().
		Str("refund_id", refund.ID.String()).
		Str("txn_id", txn.ID.String()).
		Str("amount", refund.Amount.String()).
		Str("status", string(refund.Status)).
		Msg("refund requested")

	return refund, nil
}

// checkRefundWindow enforces the maximum refund age against the moment money
// actually moved.
func (s *RefundServiceImpl) checkRefundWindow(txn *domain.PaymentTransaction) error {
	if s.cfg.MaxRefundDays <= 0 {
		return nil
	}
	paidAt := txn.PaidAt
	if txn.CodCollectedAt != nil {
		paidAt = txn.CodCollectedAt
	}
	if paidAt == nil {
		return nil
	}
	deadline := paidAt.AddDate(0, 0, s.cfg.MaxRefundDays)
	if time.Now().UTC().After(deadline) {
		return apperror.ErrRefundWindowClosed(s.cfg.MaxRefundDays)
	}
	return nil
}

func (s *RefundServiceImpl) autoApprovable(req ports.RefundRequest) bool {
	if s.cfg.RequireRefundApproval {
		return false
	}
	return req.Amount.LessThanOrEqual(s.cfg.ApprovalThreshold())
}

// Approve moves a Pending refund to Approved.
func (s *RefundServiceImpl) Approve(ctx context.Context, refundID uuid.UUID, approvedBy string) (*domain.Refund, error) {
	return s.mutateRefund(ctx, refundID, approvedBy, func(refund *domain.Refund) error {
		if refund.Status != domain.RefundStatusPending {
			return apperror.ErrRefundNotPending()
		}
		refund.Status = domain.RefundStatusApproved
		refund.ApprovedBy = &approvedBy
		return nil
	})
}

// Reject moves a Pending refund to Rejected with a reason.
func (s *RefundServiceImpl) Reject(ctx context.Context, refundID uuid.UUID, reason, actor string) (*domain.Refund, error) {
	return s.mutateRefund(ctx, refundID, actor, func(refund *domain.Refund) error {
		if refund.Status != domain.RefundStatusPending {
			return apperror.ErrRefundNotPending()
		}
		refund.Status = domain.RefundStatusRejected
		refund.RejectionReason = &reason
		return nil
	})
}

// mutateRefund applies one guarded state change under the refund row lock.
func (s *RefundServiceImpl) mutateRefund(ctx context.Context, refundID uuid.UUID, actor string, apply func(*domain.Refund) error) (*domain.Refund, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	refund, err := s.refundRepo.GetByIDForUpdate(ctx, dbTx, refundID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock refund: %w", err))
	}
	if refund == nil {
		return nil, apperror.ErrNotFound("refund")
	}

	before := refund.Status
	if err := apply(refund); err != nil {
		return nil, err
	}
	refund.UpdatedAt = time.Now().UTC()

	if err := s.refundRepo.Update(ctx, dbTx, refund); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update refund: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	recordOperation(ctx, s.opLogRepo, s.log, opRecord{
		TenantID:      refund.TenantID,
		TransactionID: &refund.TransactionID,
		Operation:     domain.OperationExecuteRefund,
		CorrelationID: refund.Number,
		Request:       map[string]any{"from": before, "to": refund.Status},
		Success:       true,
		Actor:         actor,
	})
	return refund, nil
}

// Process executes an Approved refund against the gateway. On gateway
// failure the refund is marked Failed and the ledger stays untouched.
func (s *RefundServiceImpl) Process(ctx context.Context, refundID uuid.UUID, actor string) (*domain.Refund, error) {
	refund, err := s.mutateRefund(ctx, refundID, actor, func(refund *domain.Refund) error {
		if refund.Status == domain.RefundStatusPending {
			return apperror.ErrApprovalRequired()
		}
		if refund.Status != domain.RefundStatusApproved {
			return apperror.ErrRefundNotApproved()
		}
		refund.Status = domain.RefundStatusProcessing
		return nil
	})
	if err != nil {
		return nil, err
	}

	txn, err := s.txRepo.GetByID(ctx, refund.TransactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}

	result, gwErr := s.callGateway(ctx, txn, refund, actor)
	if gwErr != nil {
		failed, failErr := s.mutateRefund(ctx, refund.ID, actor, func(r *domain.Refund) error {
			r.Status = domain.RefundStatusFailed
			return nil
		})
		if failErr != nil {
			s.log.Error().Err(failErr).Str("refund_id", refund.ID.String()).Msg("failed to mark refund failed")
			return nil, gwErr
		}
		return failed, gwErr
	}

	if !result.Completed {
		// Provider accepted and will confirm asynchronously. The refund stays
		// Processing until Confirm settles it from the provider's callback.
		updated, err := s.mutateRefund(ctx, refund.ID, actor, func(r *domain.Refund) error {
			r.GatewayRefundID = &result.GatewayRefundID
			return nil
		})
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	now := time.Now().UTC()
	completed, err := s.mutateRefund(ctx, refund.ID, actor, func(r *domain.Refund) error {
		r.GatewayRefundID = &result.GatewayRefundID
		r.Status = domain.RefundStatusCompleted
		r.ProcessedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.ledger.ApplyRefund(ctx, txn.ID, completed.Amount, actor); err != nil {
		s.log.Error().Err(err).
			Str("refund_id", completed.ID.String()).
			Str("txn_id", txn.ID.String()).
			Msg("refund completed at gateway but ledger update failed")
		return completed, err
	}

	evt := domain.NewEvent(domain.EventRefundCompleted, completed.TenantID, domain.RefundCompletedEvent{
		RefundID:      completed.ID,
		Number:        completed.Number,
		TransactionID: txn.ID,
		Amount:        completed.Amount,
		ProcessedAt:   now,
	})
	if err := s.events.Publish(evt); err != nil {
		s.log.Warn().Err(err).Str("event", string(evt.Type)).Msg("failed to publish domain event")
	}

	s.log.Info().
		Str("refund_id", completed.ID.String()).
		Str("txn_id", txn.ID.String()).
		Str("amount", completed.Amount.String()).
		Msg("refund completed")

	return completed, nil
}

// Confirm settles a Processing refund from the gateway's asynchronous
// verdict. A refund that already reached a terminal state is returned
// unchanged so replayed confirmations stay harmless.
func (s *RefundServiceImpl) Confirm(ctx context.Context, number string, conf ports.RefundConfirmation) (*domain.Refund, error) {
	refund, err := s.refundRepo.GetByNumber(ctx, number)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lookup refund: %w", err))
	}
	if refund == nil {
		return nil, apperror.ErrNotFound("refund")
	}
	if refund.Status.IsTerminal() {
		return refund, nil
	}

	target := domain.RefundStatusCompleted
	if !conf.Succeeded {
		target = domain.RefundStatusFailed
	}
	if refund.Status != domain.RefundStatusProcessing {
		return nil, apperror.ErrInvalidTransition(string(refund.Status), string(target))
	}

	if !conf.Succeeded {
		reason := ""
		if conf.FailureReason != nil {
			reason = *conf.FailureReason
		}
		failed, err := s.mutateRefund(ctx, refund.ID, "webhook", func(r *domain.Refund) error {
			r.Status = domain.RefundStatusFailed
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.log.Warn().
			Str("refund_id", failed.ID.String()).
			Str("reason", reason).
			Msg("gateway reported async refund failure")
		return failed, nil
	}

	processedAt := conf.OccurredAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	completed, err := s.mutateRefund(ctx, refund.ID, "webhook", func(r *domain.Refund) error {
		if conf.GatewayRefundID != "" {
			r.GatewayRefundID = &conf.GatewayRefundID
		}
		r.Status = domain.RefundStatusCompleted
		r.ProcessedAt = &processedAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.ledger.ApplyRefund(ctx, completed.TransactionID, completed.Amount, "webhook"); err != nil {
		s.log.Error().Err(err).
			Str("refund_id", completed.ID.String()).
			Str("txn_id", completed.TransactionID.String()).
			Msg("refund confirmed at gateway but ledger update failed")
		return completed, err
	}

	evt := domain.NewEvent(domain.EventRefundCompleted, completed.TenantID, domain.RefundCompletedEvent{
		RefundID:      completed.ID,
		Number:        completed.Number,
		TransactionID: completed.TransactionID,
		Amount:        completed.Amount,
		ProcessedAt:   processedAt,
	})
	if err := s.events.Publish(evt); err != nil {
		s.log.Warn().Err(err).Str("event", string(evt.Type)).Msg("failed to publish domain event")
	}

	s.log.Info().
		Str("refund_id", completed.ID.String()).
		Str("txn_id", completed.TransactionID.String()).
		Str("amount", completed.Amount.String()).
		Msg("async refund confirmed")

	return completed, nil
}

func (s *RefundServiceImpl) callGateway(ctx context.Context, txn *domain.PaymentTransaction, refund *domain.Refund, actor string) (*ports.RefundResult, error) {
	adapter, err := s.registry.Get(txn.Provider)
	if err != nil {
		return nil, apperror.ErrUnknownProvider(txn.Provider)
	}
	creds, _, err := s.creds.Resolve(ctx, txn.Provider)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := adapter.ExecuteRefund(ctx, creds, ports.RefundCall{Transaction: txn, Refund: refund})
	recordOperation(ctx, s.opLogRepo, s.log, opRecord{
		TenantID:      refund.TenantID,
		TransactionID: &txn.ID,
		Operation:     domain.OperationExecuteRefund,
		CorrelationID: refund.Number,
		Request:       map[string]any{"provider": txn.Provider, "amount": refund.Amount},
		Response:      result,
		DurationMs:    time.Since(started).Milliseconds(),
		Success:       err == nil,
		Err:           err,
		Actor:         actor,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetByID fetches one refund.
func (s *RefundServiceImpl) GetByID(ctx context.Context, id uuid.UUID) (*domain.Refund, error) {
	refund, err := s.refundRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if refund == nil {
		return nil, apperror.ErrNotFound("refund")
	}
	return refund, nil
}
