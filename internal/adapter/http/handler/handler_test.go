package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payment-ledger/internal/adapter/http/dto"
	"payment-ledger/internal/adapter/http/middleware"
	"payment-ledger/internal/core/domain"
	"payment-ledger/internal/core/ports"
	"payment-ledger/internal/core/ports/mocks"
	"payment-ledger/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testContext(t *testing.T, method, path string, body []byte) (*httptest.ResponseRecorder, *gin.Context, uuid.UUID) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	tid := uuid.New()
	c.Set(middleware.CtxTenantID, tid)
	c.Set(middleware.CtxActorID, "ops-1")
	return w, c, tid
}

func sampleTransaction(tenantID uuid.UUID) *domain.PaymentTransaction {
	now := time.Now().UTC()
	return &domain.PaymentTransaction{
		ID:             uuid.New(),
		Number:         "TXN-20260828-00000001",
		TenantID:       tenantID,
		OrderID:        uuid.New(),
		CustomerID:     uuid.New(),
		Provider:       "vnpay",
		Amount:         decimal.NewFromInt(250000),
		Currency:       "VND",
		GatewayFee:     decimal.Zero,
		NetAmount:      decimal.Zero,
		RefundedTotal:  decimal.Zero,
		Status:         domain.TransactionStatusPending,
		Method:         domain.PaymentMethodQR,
		IdempotencyKey: "vnpay:order-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// --- Transaction Handler Tests ---

func TestCreatePayment_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewTransactionHandler(mockLedger)

	orderID := uuid.New()
	customerID := uuid.New()
	body, _ := json.Marshal(dto.CreatePaymentRequest{
		OrderID:    orderID.String(),
		CustomerID: customerID.String(),
		Provider:   "vnpay",
		Amount:     decimal.NewFromInt(250000),
		Currency:   "VND",
		Method:     "QR",
	})

	w, c, tid := testContext(t, http.MethodPost, "/api/v1/payments", body)
	c.Request.Header.Set(middleware.HeaderIdempotencyKey, "order-1")

	txn := sampleTransaction(tid)
	mockLedger.EXPECT().Create(gomock.Any(), ports.CreateTransactionRequest{
		TenantID:       tid,
		OrderID:        orderID,
		CustomerID:     customerID,
		Provider:       "vnpay",
		Amount:         decimal.NewFromInt(250000),
		Currency:       "VND",
		Method:         domain.PaymentMethodQR,
		IdempotencyKey: "order-1",
		Fingerprint:    domain.Fingerprint(body),
		Actor:          "ops-1",
	}).Return(txn, nil)

	h.Create(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, txn.Number, data["number"])
	assert.Equal(t, "PENDING", data["status"])
}

func TestCreatePayment_MissingIdempotencyKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewTransactionHandler(mockLedger)

	w, c, _ := testContext(t, http.MethodPost, "/api/v1/payments", []byte("{}"))

	h.Create(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePayment_BindingError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewTransactionHandler(mockLedger)

	w, c, _ := testContext(t, http.MethodPost, "/api/v1/payments", []byte(`{"provider":"vnpay"}`))
	c.Request.Header.Set(middleware.HeaderIdempotencyKey, "order-1")

	h.Create(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPayment_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewTransactionHandler(mockLedger)

	id := uuid.New()
	mockLedger.EXPECT().GetByID(gomock.Any(), id).Return(nil, nil)

	w, c, _ := testContext(t, http.MethodGet, "/api/v1/payments/"+id.String(), nil)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	h.Get(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTransition_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewTransactionHandler(mockLedger)

	id := uuid.New()
	body := []byte(`{"target_status":"PAID","gateway_txn_id":"vnp-100"}`)

	w, c, tid := testContext(t, http.MethodPost, fmt.Sprintf("/api/v1/payments/%s/transitions", id), body)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	paid := sampleTransaction(tid)
	paid.Status = domain.TransactionStatusPaid

	mockLedger.EXPECT().
		Transition(gomock.Any(), id, domain.TransactionStatusPaid, gomock.Any()).
		DoAndReturn(func(_ interface{}, _ uuid.UUID, _ domain.TransactionStatus, ev ports.TransitionEvidence) (*domain.PaymentTransaction, error) {
			assert.Equal(t, "ops-1", ev.Actor)
			assert.Equal(t, "api", ev.Source)
			require.NotNil(t, ev.GatewayTxnID)
			assert.Equal(t, "vnp-100", *ev.GatewayTxnID)
			return paid, nil
		})

	h.Transition(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "PAID", data["status"])
}

func TestTransition_IllegalEdge(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewTransactionHandler(mockLedger)

	id := uuid.New()
	body := []byte(`{"target_status":"REFUNDED"}`)

	w, c, _ := testContext(t, http.MethodPost, fmt.Sprintf("/api/v1/payments/%s/transitions", id), body)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	mockLedger.EXPECT().
		Transition(gomock.Any(), id, domain.TransactionStatusRefunded, gomock.Any()).
		Return(nil, apperror.ErrInvalidTransition("PENDING", "REFUNDED"))

	h.Transition(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PAY_101", resp["error_code"])
}

func TestMarkFee_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockLedgerService(ctrl)
	h := NewTransactionHandler(mockLedger)

	id := uuid.New()
	body := []byte(`{"fee":"2500"}`)

	w, c, tid := testContext(t, http.MethodPost, fmt.Sprintf("/api/v1/payments/%s/fee", id), body)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	txn := sampleTransaction(tid)
	txn.Status = domain.TransactionStatusPaid
	txn.GatewayFee = decimal.NewFromInt(2500)

	mockLedger.EXPECT().MarkFee(gomock.Any(), id, decimal.NewFromInt(2500), "ops-1").Return(nil)
	mockLedger.EXPECT().GetByID(gomock.Any(), id).Return(txn, nil)

	h.MarkFee(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

// --- Refund Handler Tests ---

func TestRequestRefund_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRefunds := mocks.NewMockRefundService(ctrl)
	h := NewRefundHandler(mockRefunds)

	txnID := uuid.New()
	body, _ := json.Marshal(dto.CreateRefundRequest{
		TransactionID: txnID.String(),
		Amount:        decimal.NewFromInt(50000),
		Reason:        "customer returned goods",
	})

	w, c, tid := testContext(t, http.MethodPost, "/api/v1/refunds", body)

	rf := &domain.Refund{
		ID:            uuid.New(),
		Number:        "RF-20260828-00000001",
		TenantID:      tid,
		TransactionID: txnID,
		Amount:        decimal.NewFromInt(50000),
		Status:        domain.RefundStatusPending,
		Reason:        "customer returned goods",
		RequestedBy:   "ops-1",
		CreatedAt:     time.Now().UTC(),
	}

	mockRefunds.EXPECT().Request(gomock.Any(), ports.RefundRequest{
		TenantID:      tid,
		TransactionID: txnID,
		Amount:        decimal.NewFromInt(50000),
		Reason:        "customer returned goods",
		RequestedBy:   "ops-1",
	}).Return(rf, nil)

	h.Request(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, rf.Number, data["number"])
	assert.Equal(t, "PENDING", data["status"])
}

func TestRequestRefund_OverRefund(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRefunds := mocks.NewMockRefundService(ctrl)
	h := NewRefundHandler(mockRefunds)

	txnID := uuid.New()
	body, _ := json.Marshal(dto.CreateRefundRequest{
		TransactionID: txnID.String(),
		Amount:        decimal.NewFromInt(999999),
		Reason:        "too much",
	})

	w, c, _ := testContext(t, http.MethodPost, "/api/v1/refunds", body)

	mockRefunds.EXPECT().Request(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrOverRefund())

	h.Request(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PAY_102", resp["error_code"])
}

func TestProcessRefund_AsyncReturnsAccepted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRefunds := mocks.NewMockRefundService(ctrl)
	h := NewRefundHandler(mockRefunds)

	id := uuid.New()
	w, c, _ := testContext(t, http.MethodPost, fmt.Sprintf("/api/v1/refunds/%s/process", id), nil)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	gwRef := "gw-ref-1"
	mockRefunds.EXPECT().Process(gomock.Any(), id, "ops-1").Return(&domain.Refund{
		ID:              id,
		Status:          domain.RefundStatusProcessing,
		GatewayRefundID: &gwRef,
	}, nil)

	h.Process(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestProcessRefund_CompletedReturnsOK(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRefunds := mocks.NewMockRefundService(ctrl)
	h := NewRefundHandler(mockRefunds)

	id := uuid.New()
	w, c, _ := testContext(t, http.MethodPost, fmt.Sprintf("/api/v1/refunds/%s/process", id), nil)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	now := time.Now().UTC()
	mockRefunds.EXPECT().Process(gomock.Any(), id, "ops-1").Return(&domain.Refund{
		ID:          id,
		Status:      domain.RefundStatusCompleted,
		ProcessedAt: &now,
	}, nil)

	h.Process(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRejectRefund_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRefunds := mocks.NewMockRefundService(ctrl)
	h := NewRefundHandler(mockRefunds)

	id := uuid.New()
	body := []byte(`{"reason":"duplicate request"}`)

	w, c, _ := testContext(t, http.MethodPost, fmt.Sprintf("/api/v1/refunds/%s/reject", id), body)
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	rejection := "duplicate request"
	mockRefunds.EXPECT().Reject(gomock.Any(), id, "duplicate request", "ops-1").Return(&domain.Refund{
		ID:              id,
		Status:          domain.RefundStatusRejected,
		RejectionReason: &rejection,
	}, nil)

	h.Reject(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

// --- Webhook Handler Tests ---

func TestReceiveWebhook_Processed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockIngest := mocks.NewMockWebhookIngestService(ctrl)
	h := NewWebhookHandler(mockIngest)

	payload := []byte(`{"eventId":"evt-1","code":"00"}`)

	w, c, _ := testContext(t, http.MethodPost, "/api/v1/payments/webhooks/vnpay", payload)
	c.Params = gin.Params{{Key: "provider", Value: "vnpay"}}
	c.Request.Header.Set(HeaderWebhookSignature, "sig-abc")

	txnID := uuid.New()
	mockIngest.EXPECT().Ingest(gomock.Any(), "vnpay", payload, "sig-abc").Return(&ports.IngestResult{
		Status:        domain.WebhookStatusProcessed,
		TransactionID: &txnID,
	}, nil)

	h.Receive(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "PROCESSED", data["status"])
	assert.Equal(t, false, data["deduplicated"])
	assert.Equal(t, txnID.String(), data["transaction_id"])
}

func TestReceiveWebhook_Duplicate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockIngest := mocks.NewMockWebhookIngestService(ctrl)
	h := NewWebhookHandler(mockIngest)

	payload := []byte(`{"eventId":"evt-1","code":"00"}`)

	w, c, _ := testContext(t, http.MethodPost, "/api/v1/payments/webhooks/vnpay", payload)
	c.Params = gin.Params{{Key: "provider", Value: "vnpay"}}

	mockIngest.EXPECT().Ingest(gomock.Any(), "vnpay", payload, "").Return(&ports.IngestResult{
		Status:       domain.WebhookStatusProcessed,
		Deduplicated: true,
	}, nil)

	h.Receive(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, true, data["deduplicated"])
}

func TestReceiveWebhook_InvalidSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockIngest := mocks.NewMockWebhookIngestService(ctrl)
	h := NewWebhookHandler(mockIngest)

	payload := []byte(`{"eventId":"evt-2"}`)

	w, c, _ := testContext(t, http.MethodPost, "/api/v1/payments/webhooks/vnpay", payload)
	c.Params = gin.Params{{Key: "provider", Value: "vnpay"}}
	c.Request.Header.Set(HeaderWebhookSignature, "bad-sig")

	mockIngest.EXPECT().Ingest(gomock.Any(), "vnpay", payload, "bad-sig").
		Return(nil, apperror.ErrInvalidSignature())

	h.Receive(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SEC_001", resp["error_code"])
}

func TestReceiveWebhook_EmptyBody(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockIngest := mocks.NewMockWebhookIngestService(ctrl)
	h := NewWebhookHandler(mockIngest)

	w, c, _ := testContext(t, http.MethodPost, "/api/v1/payments/webhooks/vnpay", nil)
	c.Params = gin.Params{{Key: "provider", Value: "vnpay"}}

	h.Receive(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Credential Handler Tests ---

func TestUpsertCredential_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCreds := mocks.NewMockCredentialAdminService(ctrl)
	h := NewCredentialHandler(mockCreds)

	body, _ := json.Marshal(dto.UpsertCredentialRequest{
		Provider:            "vnpay",
		Environment:         "SANDBOX",
		MerchantCode:        "MC001",
		APIKey:              "api-key",
		WebhookSecret:       "hook-secret",
		Endpoint:            "https://sandbox.vnpay.example.com",
		SupportedCurrencies: []string{"VND"},
		Active:              true,
	})

	w, c, tid := testContext(t, http.MethodPut, "/api/v1/admin/credentials", body)

	mockCreds.EXPECT().Upsert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, in ports.UpsertCredentialInput) (*domain.GatewayCredentialRecord, error) {
			assert.Equal(t, tid, in.TenantID)
			assert.Equal(t, "vnpay", in.Provider)
			assert.Equal(t, "hook-secret", in.Credentials.WebhookSecret)
			return &domain.GatewayCredentialRecord{
				ID:                  uuid.New(),
				TenantID:            in.TenantID,
				Provider:            in.Provider,
				Environment:         in.Environment,
				KeyID:               "key-2026-01",
				SupportedCurrencies: in.SupportedCurrencies,
				Active:              true,
				UpdatedAt:           time.Now().UTC(),
			}, nil
		})

	h.Upsert(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "vnpay", data["provider"])
	// Sealed blob must never appear in the response
	assert.NotContains(t, w.Body.String(), "hook-secret")
}

func TestRotateCredential_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCreds := mocks.NewMockCredentialAdminService(ctrl)
	h := NewCredentialHandler(mockCreds)

	w, c, _ := testContext(t, http.MethodPost, "/api/v1/admin/credentials/vnpay/rotate", nil)
	c.Params = gin.Params{{Key: "provider", Value: "vnpay"}}

	mockCreds.EXPECT().Rotate(gomock.Any(), "vnpay", "ops-1").Return(&domain.GatewayCredentialRecord{
		ID:       uuid.New(),
		Provider: "vnpay",
		KeyID:    "key-2026-02",
	}, nil)

	h.Rotate(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

// --- Health Handler Tests ---

type healthyChecker struct{}

func (healthyChecker) Ping(ctx context.Context) error { return nil }
func (healthyChecker) Name() string                   { return "postgresql" }

type unhealthyChecker struct{}

func (unhealthyChecker) Ping(ctx context.Context) error { return errors.New("connection refused") }
func (unhealthyChecker) Name() string                   { return "redis" }

func TestHealthCheck(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck(healthyChecker{})(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthCheck_Degraded(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck(healthyChecker{}, unhealthyChecker{})(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
}
