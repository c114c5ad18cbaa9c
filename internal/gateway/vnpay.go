package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payment-ledger/internal/core/domain"
	"payment-ledger/internal/core/ports"
	"payment-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const vnpayCode = "vnpay"

// vnpayStatusByCode maps VNPay response codes onto ledger statuses.
var vnpayStatusByCode = map[string]domain.TransactionStatus{
	"00": domain.TransactionStatusPaid,
	"05": domain.TransactionStatusProcessing,
	"07": domain.TransactionStatusRequiresAction,
	"09": domain.TransactionStatusFailed,
	"24": domain.TransactionStatusCancelled,
	"99": domain.TransactionStatusFailed,
}

var vnpayStatementStatus = map[string]domain.TransactionStatus{
	"success":  domain.TransactionStatusPaid,
	"pending":  domain.TransactionStatusProcessing,
	"failed":   domain.TransactionStatusFailed,
	"refunded": domain.TransactionStatusRefunded,
}

// VnpayAdapter implements ports.GatewayAdapter for VNPay.
type VnpayAdapter struct {
	client *Client
	signer ports.SignatureService
	log    zerolog.Logger
}

// NewVnpayAdapter creates a VNPay adapter.
func NewVnpayAdapter(client *Client, signer ports.SignatureService, log zerolog.Logger) *VnpayAdapter {
	return &VnpayAdapter{client: client, signer: signer, log: log}
}

func (a *VnpayAdapter) Code() string { return vnpayCode }

func (a *VnpayAdapter) Capabilities() ports.GatewayCapabilities {
	return ports.GatewayCapabilities{SupportsCod: true}
}

// signedHeaders computes the request signature over the exact JSON the
// client will send.
func (a *VnpayAdapter) signedHeaders(creds *domain.GatewayCredentials, body any) (map[string]string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("marshal vnpay request: %w", err))
	}
	return map[string]string{
		"X-Merchant-Code": creds.MerchantCode,
		"X-Signature":     a.signer.Sign(creds.APIKey, string(raw)),
	}, nil
}

type vnpayCreateRequest struct {
	MerchantCode string `json:"merchantCode"`
	TxnRef       string `json:"txnRef"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	OrderInfo    string `json:"orderInfo"`
	ReturnURL    string `json:"returnUrl"`
	ExpireDate   string `json:"expireDate"`
}

type vnpayCreateResponse struct {
	ResponseCode  string `json:"vnpResponseCode"`
	Message       string `json:"message"`
	PayURL        string `json:"payUrl"`
	TransactionNo string `json:"vnpTransactionNo"`
}

func (a *VnpayAdapter) CreatePaymentLink(ctx context.Context, creds *domain.GatewayCredentials, req ports.PaymentLinkRequest) (*ports.PaymentLink, error) {
	body := vnpayCreateRequest{
		MerchantCode: creds.MerchantCode,
		TxnRef:       req.Transaction.Number,
		Amount:       req.Transaction.Amount.String(),
		Currency:     req.Transaction.Currency,
		OrderInfo:    fmt.Sprintf("Payment for order %s", req.Transaction.OrderID),
		ReturnURL:    req.ReturnURL,
		ExpireDate:   req.ExpiresAt.UTC().Format(time.RFC3339),
	}
	headers, err := a.signedHeaders(creds, body)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.PostJSON(ctx, vnpayCode, creds.Endpoint+"/paygate/v2/create", headers, body)
	if err != nil {
		return nil, err
	}
	var out vnpayCreateResponse
	if err := decode(vnpayCode, resp, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "00" {
		return nil, apperror.ErrGatewayRejected(vnpayCode, fmt.Sprintf("%s: %s", out.ResponseCode, out.Message))
	}
	return &ports.PaymentLink{
		URL:          out.PayURL,
		GatewayTxnID: out.TransactionNo,
		ExpiresAt:    req.ExpiresAt,
	}, nil
}

type vnpayQueryResponse struct {
	ResponseCode  string `json:"vnpResponseCode"`
	Message       string `json:"message"`
	TxnRef        string `json:"txnRef"`
	TransactionNo string `json:"vnpTransactionNo"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	PayDate       string `json:"payDate"`
}

func (a *VnpayAdapter) QueryTransaction(ctx context.Context, creds *domain.GatewayCredentials, gatewayTxnID string) (*ports.StatementEntry, error) {
	body := map[string]string{"merchantCode": creds.MerchantCode, "vnpTransactionNo": gatewayTxnID}
	headers, err := a.signedHeaders(creds, body)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.PostJSON(ctx, vnpayCode, creds.Endpoint+"/paygate/v2/query", headers, body)
	if err != nil {
		return nil, err
	}
	var out vnpayQueryResponse
	if err := decode(vnpayCode, resp, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "00" {
		return nil, apperror.ErrGatewayRejected(vnpayCode, fmt.Sprintf("%s: %s", out.ResponseCode, out.Message))
	}
	return vnpayEntry(out.TransactionNo, out.TxnRef, out.Status, out.Amount, out.PayDate)
}

type vnpayRefundResponse struct {
	ResponseCode string `json:"vnpResponseCode"`
	Message      string `json:"message"`
	RefundNo     string `json:"vnpRefundNo"`
}

func (a *VnpayAdapter) ExecuteRefund(ctx context.Context, creds *domain.GatewayCredentials, call ports.RefundCall) (*ports.RefundResult, error) {
	gatewayTxnID := ""
	if call.Transaction.GatewayTxnID != nil {
		gatewayTxnID = *call.Transaction.GatewayTxnID
	}
	body := map[string]string{
		"merchantCode":     creds.MerchantCode,
		"vnpTransactionNo": gatewayTxnID,
		"refundRef":        call.Refund.Number,
		"amount":           call.Refund.Amount.String(),
		"reason":           call.Refund.Reason,
	}
	headers, err := a.signedHeaders(creds, body)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.PostJSON(ctx, vnpayCode, creds.Endpoint+"/paygate/v2/refund", headers, body)
	if err != nil {
		return nil, err
	}
	var out vnpayRefundResponse
	if err := decode(vnpayCode, resp, &out); err != nil {
		return nil, err
	}
	switch out.ResponseCode {
	case "00":
		return &ports.RefundResult{GatewayRefundID: out.RefundNo, Completed: true}, nil
	case "05":
		// Accepted, confirmation comes through a webhook.
		return &ports.RefundResult{GatewayRefundID: out.RefundNo, Completed: false}, nil
	default:
		return nil, apperror.ErrGatewayRejected(vnpayCode, fmt.Sprintf("%s: %s", out.ResponseCode, out.Message))
	}
}

type vnpayStatementResponse struct {
	ResponseCode string `json:"vnpResponseCode"`
	Message      string `json:"message"`
	Entries      []struct {
		TransactionNo string `json:"vnpTransactionNo"`
		TxnRef        string `json:"txnRef"`
		Status        string `json:"status"`
		Amount        string `json:"amount"`
		PayDate       string `json:"payDate"`
	} `json:"entries"`
}

func (a *VnpayAdapter) FetchStatement(ctx context.Context, creds *domain.GatewayCredentials, from, to time.Time) ([]ports.StatementEntry, error) {
	body := map[string]string{
		"merchantCode": creds.MerchantCode,
		"fromDate":     from.UTC().Format(time.RFC3339),
		"toDate":       to.UTC().Format(time.RFC3339),
	}
	headers, err := a.signedHeaders(creds, body)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.PostJSON(ctx, vnpayCode, creds.Endpoint+"/paygate/v2/statement", headers, body)
	if err != nil {
		return nil, err
	}
	var out vnpayStatementResponse
	if err := decode(vnpayCode, resp, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "00" {
		return nil, apperror.ErrGatewayRejected(vnpayCode, fmt.Sprintf("%s: %s", out.ResponseCode, out.Message))
	}

	entries := make([]ports.StatementEntry, 0, len(out.Entries))
	for _, e := range out.Entries {
		entry, err := vnpayEntry(e.TransactionNo, e.TxnRef, e.Status, e.Amount, e.PayDate)
		if err != nil {
			a.log.Warn().Err(err).Str("txn_ref", e.TxnRef).Msg("skipping malformed statement entry")
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func vnpayEntry(transactionNo, txnRef, status, amount, payDate string) (*ports.StatementEntry, error) {
	mapped, ok := vnpayStatementStatus[status]
	if !ok {
		return nil, fmt.Errorf("unknown vnpay status %q", status)
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("bad amount %q: %w", amount, err)
	}
	entry := &ports.StatementEntry{
		GatewayTxnID:   transactionNo,
		TransactionNum: txnRef,
		Status:         mapped,
		Amount:         amt,
	}
	if payDate != "" {
		if ts, err := time.Parse(time.RFC3339, payDate); err == nil {
			entry.PaidAt = &ts
		}
	}
	return entry, nil
}

// VerifyWebhook checks the signature VNPay computes over the raw body.
func (a *VnpayAdapter) VerifyWebhook(creds *domain.GatewayCredentials, payload []byte, signature string) bool {
	return a.signer.Verify(creds.WebhookSecret, string(payload), signature)
}

type vnpayWebhookPayload struct {
	EventID       string `json:"eventId"`
	EventType     string `json:"eventType"`
	TxnRef        string `json:"txnRef"`
	RefundRef     string `json:"refundRef"`
	TransactionNo string `json:"vnpTransactionNo"`
	RefundNo      string `json:"vnpRefundNo"`
	ResponseCode  string `json:"vnpResponseCode"`
	Amount        string `json:"amount"`
	Fee           string `json:"fee"`
	Message       string `json:"message"`
	PayDate       string `json:"payDate"`
}

func (a *VnpayAdapter) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var p vnpayWebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("unmarshal vnpay webhook: %w", err)
	}
	if p.RefundRef != "" {
		return a.parseRefundWebhook(&p)
	}
	if p.EventID == "" || p.TxnRef == "" {
		return nil, fmt.Errorf("vnpay webhook missing eventId or txnRef")
	}
	target, ok := vnpayStatusByCode[p.ResponseCode]
	if !ok {
		return nil, fmt.Errorf("unknown vnpay response code %q", p.ResponseCode)
	}

	event := &domain.WebhookEvent{
		Provider:        vnpayCode,
		ProviderEventID: p.EventID,
		EventType:       p.EventType,
		GatewayTxnID:    p.TransactionNo,
		TransactionNum:  p.TxnRef,
		TargetStatus:    target,
		OccurredAt:      time.Now().UTC(),
	}
	if amt, err := decimal.NewFromString(p.Amount); err == nil {
		event.Amount = amt
	}
	if fee, err := decimal.NewFromString(p.Fee); err == nil {
		event.Fee = fee
	}
	if p.PayDate != "" {
		if ts, err := time.Parse(time.RFC3339, p.PayDate); err == nil {
			event.OccurredAt = ts
		}
	}
	if target == domain.TransactionStatusFailed || target == domain.TransactionStatusCancelled {
		reason := p.Message
		if reason == "" {
			reason = fmt.Sprintf("vnpay response code %s", p.ResponseCode)
		}
		event.FailureReason = &reason
	}
	return event, nil
}

// parseRefundWebhook handles the confirmation VNPay sends for a refund it
// accepted asynchronously. Code 00 completes the refund, any other known
// code fails it.
func (a *VnpayAdapter) parseRefundWebhook(p *vnpayWebhookPayload) (*domain.WebhookEvent, error) {
	if p.EventID == "" {
		return nil, fmt.Errorf("vnpay refund webhook missing eventId")
	}
	succeeded := p.ResponseCode == "00"
	event := &domain.WebhookEvent{
		Provider:        vnpayCode,
		ProviderEventID: p.EventID,
		EventType:       p.EventType,
		GatewayTxnID:    p.TransactionNo,
		RefundNum:       p.RefundRef,
		GatewayRefundID: p.RefundNo,
		RefundSucceeded: succeeded,
		OccurredAt:      time.Now().UTC(),
	}
	if amt, err := decimal.NewFromString(p.Amount); err == nil {
		event.Amount = amt
	}
	if p.PayDate != "" {
		if ts, err := time.Parse(time.RFC3339, p.PayDate); err == nil {
			event.OccurredAt = ts
		}
	}
	if !succeeded {
		reason := p.Message
		if reason == "" {
			reason = fmt.Sprintf("vnpay response code %s", p.ResponseCode)
		}
		event.FailureReason = &reason
	}
	return event, nil
}
