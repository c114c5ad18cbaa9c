package service

import (
	"context"
	"testing"
	"time"

	"payment-ledger/internal/core/domain"
	"payment-ledger/internal/core/ports"
	"payment-ledger/internal/core/ports/mocks"
	"payment-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type webhookFixture struct {
	ctrl        *gomock.Controller
	webhookRepo *mocks.MockWebhookLogRepository
	txRepo      *mocks.MockTransactionRepository
	ledger      *mocks.MockLedgerService
	refunds     *mocks.MockRefundService
	registry    *mocks.MockGatewayRegistry
	creds       *mocks.MockCredentialResolver
	adapter     *mocks.MockGatewayAdapter
	svc         *WebhookServiceImpl
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	ctrl := gomock.NewController(t)
	f := &webhookFixture{
		ctrl:        ctrl,
		webhookRepo: mocks.NewMockWebhookLogRepository(ctrl),
		txRepo:      mocks.NewMockTransactionRepository(ctrl),
		ledger:      mocks.NewMockLedgerService(ctrl),
		refunds:     mocks.NewMockRefundService(ctrl),
		registry:    mocks.NewMockGatewayRegistry(ctrl),
		creds:       mocks.NewMockCredentialResolver(ctrl),
		adapter:     mocks.NewMockGatewayAdapter(ctrl),
	}
	f.svc = NewWebhookService(f.webhookRepo, f.txRepo, f.ledger, f.refunds, f.registry, f.creds, zerolog.Nop())
	return f
}

func (f *webhookFixture) expectAdapter(payload []byte, sigValid bool, event *domain.WebhookEvent) {
	creds := &domain.GatewayCredentials{WebhookSecret: "whsec"}
	f.registry.EXPECT().Get("vnpay").Return(f.adapter, nil)
	f.creds.EXPECT().Resolve(gomock.Any(), "vnpay").Return(creds, nil, nil)
	f.adapter.EXPECT().VerifyWebhook(creds, payload, gomock.Any()).Return(sigValid)
	if event != nil {
		f.adapter.EXPECT().ParseWebhook(payload).Return(event, nil)
	}
}

func paidEvent() *domain.WebhookEvent {
	return &domain.WebhookEvent{
		Provider:        "vnpay",
		ProviderEventID: "evt-001",
		EventType:       "payment.success",
		GatewayTxnID:    "VNP789",
		TransactionNum:  "TXN-20260828-00000001",
		TargetStatus:    domain.TransactionStatusPaid,
		Amount:          decimal.NewFromInt(250000),
		Fee:             decimal.NewFromInt(5000),
		OccurredAt:      time.Now().UTC(),
	}
}

func TestWebhookIngest_Processed(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	payload := []byte(`{"event":"payment.success"}`)
	event := paidEvent()

	txn := &domain.PaymentTransaction{
		ID:     uuid.New(),
		Number: event.TransactionNum,
		Status: domain.TransactionStatusPending,
	}

	f.expectAdapter(payload, true, event)
	f.webhookRepo.EXPECT().GetByProviderEvent(ctx, "vnpay", "evt-001").Return(nil, nil)
	f.webhookRepo.EXPECT().Insert(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, row *domain.PaymentWebhookLog) error {
			assert.Equal(t, domain.WebhookStatusReceived, row.ProcessingStatus)
			assert.True(t, row.SignatureValid)
			return nil
		})
	f.txRepo.EXPECT().GetByNumber(ctx, event.TransactionNum).Return(txn, nil)
	f.ledger.EXPECT().Transition(ctx, txn.ID, domain.TransactionStatusPaid, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, _ domain.TransactionStatus, ev ports.TransitionEvidence) (*domain.PaymentTransaction, error) {
			assert.Equal(t, "webhook", ev.Source)
			require.NotNil(t, ev.GatewayTxnID)
			assert.Equal(t, "VNP789", *ev.GatewayTxnID)
			return txn, nil
		})
	f.webhookRepo.EXPECT().UpdateOutcome(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, row *domain.PaymentWebhookLog) error {
			assert.Equal(t, domain.WebhookStatusProcessed, row.ProcessingStatus)
			return nil
		})

	res, err := f.svc.Ingest(ctx, "vnpay", payload, "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusProcessed, res.Status)
	assert.False(t, res.Deduplicated)
	require.NotNil(t, res.TransactionID)
	assert.Equal(t, txn.ID, *res.TransactionID)
}

func TestWebhookIngest_InvalidSignature(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	payload := []byte(`{"event":"payment.success"}`)
	event := paidEvent()

	f.expectAdapter(payload, false, event)
	f.webhookRepo.EXPECT().GetByProviderEvent(ctx, "vnpay", "evt-001").Return(nil, nil)
	f.webhookRepo.EXPECT().Insert(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, row *domain.PaymentWebhookLog) error {
			assert.Equal(t, domain.WebhookStatusFailed, row.ProcessingStatus)
			assert.False(t, row.SignatureValid)
			require.NotNil(t, row.Error)
			return nil
		})

	_, err := f.svc.Ingest(ctx, "vnpay", payload, "bad-sig")
	require.Error(t, err)
	assert.Equal(t, "SEC_001", err.(*apperror.AppError).Code)
}

func TestWebhookIngest_InvalidSignatureReplayNotAcknowledged(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	payload := []byte(`{"event":"payment.success"}`)
	event := paidEvent()
	txnID := uuid.New()

	existing := &domain.PaymentWebhookLog{
		ID:               uuid.New(),
		Provider:         "vnpay",
		ProviderEventID:  "evt-001",
		SignatureValid:   true,
		ProcessingStatus: domain.WebhookStatusProcessed,
		TransactionID:    &txnID,
	}

	f.expectAdapter(payload, false, event)
	f.webhookRepo.EXPECT().GetByProviderEvent(ctx, "vnpay", "evt-001").Return(existing, nil)
	// No insert, no outcome update: the processed row stays untouched and the
	// forged replay never earns the legitimate delivery's ack.

	res, err := f.svc.Ingest(ctx, "vnpay", payload, "bad-sig")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, "SEC_001", err.(*apperror.AppError).Code)
	assert.Equal(t, domain.WebhookStatusProcessed, existing.ProcessingStatus)
	assert.True(t, existing.SignatureValid)
}

func TestWebhookIngest_DuplicateAcknowledgedWithoutReprocessing(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	payload := []byte(`{"event":"payment.success"}`)
	event := paidEvent()
	txnID := uuid.New()

	f.expectAdapter(payload, true, event)
	f.webhookRepo.EXPECT().GetByProviderEvent(ctx, "vnpay", "evt-001").Return(&domain.PaymentWebhookLog{
		ID:               uuid.New(),
		Provider:         "vnpay",
		ProviderEventID:  "evt-001",
		ProcessingStatus: domain.WebhookStatusProcessed,
		TransactionID:    &txnID,
	}, nil)
	// No insert, no transition.

	res, err := f.svc.Ingest(ctx, "vnpay", payload, "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusProcessed, res.Status)
	assert.True(t, res.Deduplicated)
}

func TestWebhookIngest_FailedDeliveryRetriedOnSameRow(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	payload := []byte(`{"event":"payment.success"}`)
	event := paidEvent()

	txn := &domain.PaymentTransaction{
		ID:     uuid.New(),
		Number: event.TransactionNum,
		Status: domain.TransactionStatusPending,
	}
	prevErr := "db down"
	existing := &domain.PaymentWebhookLog{
		ID:               uuid.New(),
		Provider:         "vnpay",
		ProviderEventID:  "evt-001",
		ProcessingStatus: domain.WebhookStatusFailed,
		RetryCount:       1,
		Error:            &prevErr,
	}

	f.expectAdapter(payload, true, event)
	f.webhookRepo.EXPECT().GetByProviderEvent(ctx, "vnpay", "evt-001").Return(existing, nil)
	f.webhookRepo.EXPECT().UpdateOutcome(ctx, existing).Return(nil).Times(2)
	f.txRepo.EXPECT().GetByNumber(ctx, event.TransactionNum).Return(txn, nil)
	f.ledger.EXPECT().Transition(ctx, txn.ID, domain.TransactionStatusPaid, gomock.Any()).Return(txn, nil)

	res, err := f.svc.Ingest(ctx, "vnpay", payload, "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusProcessed, res.Status)
	assert.Equal(t, 2, existing.RetryCount)
}

func TestWebhookIngest_StaleEventIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	payload := []byte(`{"event":"payment.processing"}`)
	event := paidEvent()
	event.TargetStatus = domain.TransactionStatusProcessing

	txn := &domain.PaymentTransaction{
		ID:     uuid.New(),
		Number: event.TransactionNum,
		Status: domain.TransactionStatusPaid, // Already past PROCESSING
	}

	f.expectAdapter(payload, true, event)
	f.webhookRepo.EXPECT().GetByProviderEvent(ctx, "vnpay", "evt-001").Return(nil, nil)
	f.webhookRepo.EXPECT().Insert(ctx, gomock.Any()).Return(nil)
	f.txRepo.EXPECT().GetByNumber(ctx, event.TransactionNum).Return(txn, nil)
	// Crucially, no Transition call.
	f.webhookRepo.EXPECT().UpdateOutcome(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, row *domain.PaymentWebhookLog) error {
			assert.Equal(t, domain.WebhookStatusIgnored, row.ProcessingStatus)
			return nil
		})

	res, err := f.svc.Ingest(ctx, "vnpay", payload, "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusIgnored, res.Status)
	assert.Equal(t, domain.TransactionStatusPaid, txn.Status)
}

func TestWebhookIngest_UnknownTransactionFails(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	payload := []byte(`{"event":"payment.success"}`)
	event := paidEvent()

	f.expectAdapter(payload, true, event)
	f.webhookRepo.EXPECT().GetByProviderEvent(ctx, "vnpay", "evt-001").Return(nil, nil)
	f.webhookRepo.EXPECT().Insert(ctx, gomock.Any()).Return(nil)
	f.txRepo.EXPECT().GetByNumber(ctx, event.TransactionNum).Return(nil, nil)
	f.webhookRepo.EXPECT().UpdateOutcome(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, row *domain.PaymentWebhookLog) error {
			assert.Equal(t, domain.WebhookStatusFailed, row.ProcessingStatus)
			return nil
		})

	res, err := f.svc.Ingest(ctx, "vnpay", payload, "sig")
	require.Error(t, err)
	assert.Equal(t, "PAY_001", err.(*apperror.AppError).Code)
	assert.Equal(t, domain.WebhookStatusFailed, res.Status)
}

func TestWebhookIngest_HigherRankWithoutEdgeIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	payload := []byte(`{"event":"refund.success"}`)
	event := paidEvent()
	event.TargetStatus = domain.TransactionStatusRefunded

	txn := &domain.PaymentTransaction{
		ID:     uuid.New(),
		Number: event.TransactionNum,
		Status: domain.TransactionStatusProcessing,
	}

	f.expectAdapter(payload, true, event)
	f.webhookRepo.EXPECT().GetByProviderEvent(ctx, "vnpay", "evt-001").Return(nil, nil)
	f.webhookRepo.EXPECT().Insert(ctx, gomock.Any()).Return(nil)
	f.txRepo.EXPECT().GetByNumber(ctx, event.TransactionNum).Return(txn, nil)
	f.ledger.EXPECT().Transition(ctx, txn.ID, domain.TransactionStatusRefunded, gomock.Any()).
		Return(nil, apperror.ErrInvalidTransition("PROCESSING", "REFUNDED"))
	f.webhookRepo.EXPECT().UpdateOutcome(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, row *domain.PaymentWebhookLog) error {
			assert.Equal(t, domain.WebhookStatusIgnored, row.ProcessingStatus)
			return nil
		})

	res, err := f.svc.Ingest(ctx, "vnpay", payload, "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusIgnored, res.Status)
}

func TestWebhookIngest_RefundConfirmationRoutedToRefunds(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	payload := []byte(`{"event":"refund.confirmed"}`)
	txnID := uuid.New()

	event := &domain.WebhookEvent{
		Provider:        "vnpay",
		ProviderEventID: "evt-rf-01",
		EventType:       "refund.confirmed",
		RefundNum:       "RF-20260828-00000012",
		GatewayRefundID: "VNPRF-551",
		RefundSucceeded: true,
		OccurredAt:      time.Now().UTC(),
	}
	refund := &domain.Refund{
		ID:            uuid.New(),
		Number:        event.RefundNum,
		TransactionID: txnID,
		Status:        domain.RefundStatusCompleted,
	}

	f.expectAdapter(payload, true, event)
	f.webhookRepo.EXPECT().GetByProviderEvent(ctx, "vnpay", "evt-rf-01").Return(nil, nil)
	f.webhookRepo.EXPECT().Insert(ctx, gomock.Any()).Return(nil)
	f.refunds.EXPECT().Confirm(ctx, event.RefundNum, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, conf ports.RefundConfirmation) (*domain.Refund, error) {
			assert.Equal(t, "VNPRF-551", conf.GatewayRefundID)
			assert.True(t, conf.Succeeded)
			return refund, nil
		})
	// The ledger is driven by the refund service, not by the webhook path.
	f.webhookRepo.EXPECT().UpdateOutcome(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, row *domain.PaymentWebhookLog) error {
			assert.Equal(t, domain.WebhookStatusProcessed, row.ProcessingStatus)
			require.NotNil(t, row.TransactionID)
			assert.Equal(t, txnID, *row.TransactionID)
			return nil
		})

	res, err := f.svc.Ingest(ctx, "vnpay", payload, "sig")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookStatusProcessed, res.Status)
	require.NotNil(t, res.TransactionID)
	assert.Equal(t, txnID, *res.TransactionID)
}

func TestWebhookIngest_UnknownProvider(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	f.registry.EXPECT().Get("unknown").Return(nil, apperror.ErrUnknownProvider("unknown"))

	_, err := f.svc.Ingest(ctx, "unknown", []byte("{}"), "sig")
	require.Error(t, err)
	assert.Equal(t, "GW_003", err.(*apperror.AppError).Code)
}
