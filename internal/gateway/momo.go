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

const momoCode = "momo"

// momoStatusByResult maps MoMo result codes onto ledger statuses.
var momoStatusByResult = map[int]domain.TransactionStatus{
	0:    domain.TransactionStatusPaid,
	9000: domain.TransactionStatusAuthorized,
	8000: domain.TransactionStatusProcessing,
	7002: domain.TransactionStatusRequiresAction,
	1006: domain.TransactionStatusCancelled,
	1005: domain.TransactionStatusExpired,
}

// MomoAdapter implements ports.GatewayAdapter for the MoMo wallet.
type MomoAdapter struct {
	client *Client
	signer ports.SignatureService
	log    zerolog.Logger
}

// NewMomoAdapter creates a MoMo adapter.
func NewMomoAdapter(client *Client, signer ports.SignatureService, log zerolog.Logger) *MomoAdapter {
	return &MomoAdapter{client: client, signer: signer, log: log}
}

func (a *MomoAdapter) Code() string { return momoCode }

func (a *MomoAdapter) Capabilities() ports.GatewayCapabilities {
	return ports.GatewayCapabilities{}
}

func (a *MomoAdapter) signedHeaders(creds *domain.GatewayCredentials, body any) (map[string]string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("marshal momo request: %w", err))
	}
	return map[string]string{
		"X-Partner-Code": creds.MerchantCode,
		"X-Signature":    a.signer.Sign(creds.APIKey, string(raw)),
	}, nil
}

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	Amount      string `json:"amount"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	RequestType string `json:"requestType"`
}

type momoCreateResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
	TransID    string `json:"transId"`
}

func (a *MomoAdapter) CreatePaymentLink(ctx context.Context, creds *domain.GatewayCredentials, req ports.PaymentLinkRequest) (*ports.PaymentLink, error) {
	body := momoCreateRequest{
		PartnerCode: creds.MerchantCode,
		OrderID:     req.Transaction.Number,
		Amount:      req.Transaction.Amount.String(),
		OrderInfo:   fmt.Sprintf("Payment for order %s", req.Transaction.OrderID),
		RedirectURL: req.ReturnURL,
		RequestType: "captureWallet",
	}
	headers, err := a.signedHeaders(creds, body)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.PostJSON(ctx, momoCode, creds.Endpoint+"/v2/gateway/api/create", headers, body)
	if err != nil {
		return nil, err
	}
	var out momoCreateResponse
	if err := decode(momoCode, resp, &out); err != nil {
		return nil, err
	}
	if out.ResultCode != 0 {
		return nil, apperror.ErrGatewayRejected(momoCode, fmt.Sprintf("%d: %s", out.ResultCode, out.Message))
	}
	return &ports.PaymentLink{
		URL:          out.PayURL,
		GatewayTxnID: out.TransID,
		ExpiresAt:    req.ExpiresAt,
	}, nil
}

type momoQueryResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	OrderID    string `json:"orderId"`
	TransID    string `json:"transId"`
	Amount     string `json:"amount"`
	PaidAt     string `json:"responseTime"`
}

func (a *MomoAdapter) QueryTransaction(ctx context.Context, creds *domain.GatewayCredentials, gatewayTxnID string) (*ports.StatementEntry, error) {
	body := map[string]string{"partnerCode": creds.MerchantCode, "transId": gatewayTxnID}
	headers, err := a.signedHeaders(creds, body)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.PostJSON(ctx, momoCode, creds.Endpoint+"/v2/gateway/api/query", headers, body)
	if err != nil {
		return nil, err
	}
	var out momoQueryResponse
	if err := decode(momoCode, resp, &out); err != nil {
		return nil, err
	}
	status, ok := momoStatusByResult[out.ResultCode]
	if !ok {
		status = domain.TransactionStatusFailed
	}
	amt, err := decimal.NewFromString(out.Amount)
	if err != nil {
		return nil, apperror.ErrGatewayRejected(momoCode, fmt.Sprintf("bad amount %q", out.Amount))
	}
	entry := &ports.StatementEntry{
		GatewayTxnID:   out.TransID,
		TransactionNum: out.OrderID,
		Status:         status,
		Amount:         amt,
	}
	if ts, err := time.Parse(time.RFC3339, out.PaidAt); err == nil {
		entry.PaidAt = &ts
	}
	return entry, nil
}

type momoRefundResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	RefundID   string `json:"refundTransId"`
}

func (a *MomoAdapter) ExecuteRefund(ctx context.Context, creds *domain.GatewayCredentials, call ports.RefundCall) (*ports.RefundResult, error) {
	gatewayTxnID := ""
	if call.Transaction.GatewayTxnID != nil {
		gatewayTxnID = *call.Transaction.GatewayTxnID
	}
	body := map[string]string{
		"partnerCode": creds.MerchantCode,
		"transId":     gatewayTxnID,
		"orderId":     call.Refund.Number,
		"amount":      call.Refund.Amount.String(),
		"description": call.Refund.Reason,
	}
	headers, err := a.signedHeaders(creds, body)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.PostJSON(ctx, momoCode, creds.Endpoint+"/v2/gateway/api/refund", headers, body)
	if err != nil {
		return nil, err
	}
	var out momoRefundResponse
	if err := decode(momoCode, resp, &out); err != nil {
		return nil, err
	}
	switch out.ResultCode {
	case 0:
		return &ports.RefundResult{GatewayRefundID: out.RefundID, Completed: true}, nil
	case 8000:
		return &ports.RefundResult{GatewayRefundID: out.RefundID, Completed: false}, nil
	default:
		return nil, apperror.ErrGatewayRejected(momoCode, fmt.Sprintf("%d: %s", out.ResultCode, out.Message))
	}
}

type momoStatementResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	Entries    []struct {
		TransID    string `json:"transId"`
		OrderID    string `json:"orderId"`
		ResultCode int    `json:"resultCode"`
		Amount     string `json:"amount"`
		PaidAt     string `json:"responseTime"`
	} `json:"entries"`
}

func (a *MomoAdapter) FetchStatement(ctx context.Context, creds *domain.GatewayCredentials, from, to time.Time) ([]ports.StatementEntry, error) {
	body := map[string]string{
		"partnerCode": creds.MerchantCode,
		"fromTime":    from.UTC().Format(time.RFC3339),
		"toTime":      to.UTC().Format(time.RFC3339),
	}
	headers, err := a.signedHeaders(creds, body)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.PostJSON(ctx, momoCode, creds.Endpoint+"/v2/gateway/api/statement", headers, body)
	if err != nil {
		return nil, err
	}
	var out momoStatementResponse
	if err := decode(momoCode, resp, &out); err != nil {
		return nil, err
	}
	if out.ResultCode != 0 {
		return nil, apperror.ErrGatewayRejected(momoCode, fmt.Sprintf("%d: %s", out.ResultCode, out.Message))
	}

	entries := make([]ports.StatementEntry, 0, len(out.Entries))
	for _, e := range out.Entries {
		status, ok := momoStatusByResult[e.ResultCode]
		if !ok {
			status = domain.TransactionStatusFailed
		}
		amt, err := decimal.NewFromString(e.Amount)
		if err != nil {
			a.log.Warn().Str("order_id", e.OrderID).Str("amount", e.Amount).Msg("skipping malformed statement entry")
			continue
		}
		entry := ports.StatementEntry{
			GatewayTxnID:   e.TransID,
			TransactionNum: e.OrderID,
			Status:         status,
			Amount:         amt,
		}
		if ts, err := time.Parse(time.RFC3339, e.PaidAt); err == nil {
			entry.PaidAt = &ts
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// VerifyWebhook checks the signature MoMo computes over the raw body.
func (a *MomoAdapter) VerifyWebhook(creds *domain.GatewayCredentials, payload []byte, signature string) bool {
	return a.signer.Verify(creds.WebhookSecret, string(payload), signature)
}

type momoWebhookPayload struct {
	EventID       string `json:"eventId"`
	EventType     string `json:"eventType"`
	OrderID       string `json:"orderId"`
	TransID       string `json:"transId"`
	RefundTransID string `json:"refundTransId"`
	ResultCode    *int   `json:"resultCode"`
	Amount        string `json:"amount"`
	Message       string `json:"message"`
	PaidAt        string `json:"responseTime"`
}

func (a *MomoAdapter) ParseWebhook(payload []byte) (*domain.WebhookEvent, error) {
	var p momoWebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("unmarshal momo webhook: %w", err)
	}
	if p.EventID == "" || p.OrderID == "" || p.ResultCode == nil {
		return nil, fmt.Errorf("momo webhook missing eventId, orderId or resultCode")
	}
	// A refundTransId marks the confirmation of an asynchronously accepted
	// refund; orderId then carries our refund number.
	if p.RefundTransID != "" {
		succeeded := *p.ResultCode == 0
		event := &domain.WebhookEvent{
			Provider:        momoCode,
			ProviderEventID: p.EventID,
			EventType:       p.EventType,
			GatewayTxnID:    p.TransID,
			RefundNum:       p.OrderID,
			GatewayRefundID: p.RefundTransID,
			RefundSucceeded: succeeded,
			OccurredAt:      time.Now().UTC(),
		}
		if amt, err := decimal.NewFromString(p.Amount); err == nil {
			event.Amount = amt
		}
		if p.PaidAt != "" {
			if ts, err := time.Parse(time.RFC3339, p.PaidAt); err == nil {
				event.OccurredAt = ts
			}
		}
		if !succeeded {
			reason := p.Message
			if reason == "" {
				reason = fmt.Sprintf("momo result code %d", *p.ResultCode)
			}
			event.FailureReason = &reason
		}
		return event, nil
	}

	target, ok := momoStatusByResult[*p.ResultCode]
	if !ok {
		target = domain.TransactionStatusFailed
	}

	event := &domain.WebhookEvent{
		Provider:        momoCode,
		ProviderEventID: p.EventID,
		EventType:       p.EventType,
		GatewayTxnID:    p.TransID,
		TransactionNum:  p.OrderID,
		TargetStatus:    target,
		OccurredAt:      time.Now().UTC(),
	}
	if amt, err := decimal.NewFromString(p.Amount); err == nil {
		event.Amount = amt
	}
	if p.PaidAt != "" {
		if ts, err := time.Parse(time.RFC3339, p.PaidAt); err == nil {
			event.OccurredAt = ts
		}
	}
	if target == domain.TransactionStatusFailed || target == domain.TransactionStatusCancelled {
		reason := p.Message
		if reason == "" {
			reason = fmt.Sprintf("momo result code %d", *p.ResultCode)
		}
		event.FailureReason = &reason
	}
	return event, nil
}
