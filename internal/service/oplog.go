package service

import (
	"context"
	"encoding/json"
	"time"

	"payment-ledger/internal/core/domain"
	"payment-ledger/internal/core/ports"
	"payment-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// opRecord collects the fields of one audit entry.
type opRecord struct {
	TenantID      uuid.UUID
	TransactionID *uuid.UUID
	Operation     domain.OperationType
	CorrelationID string
	Request       any
	Response      any
	DurationMs    int64
	Success       bool
	Err           error
	Actor         string
}

// recordOperation appends an audit entry. Best effort: a failed append is
// logged and never fails the business operation.
func recordOperation(ctx context.Context, repo ports.OperationLogRepository, log zerolog.Logger, rec opRecord) {
	entry := &domain.PaymentOperationLog{
		ID:            uuid.New(),
		TenantID:      rec.TenantID,
		TransactionID: rec.TransactionID,
		Operation:     rec.Operation,
		CorrelationID: rec.CorrelationID,
		DurationMs:    rec.DurationMs,
		Success:       rec.Success,
		Actor:         rec.Actor,
		CreatedAt:     time.Now().UTC(),
	}
	if rec.Request != nil {
		if b, err := json.Marshal(rec.Request); err == nil {
			entry.RequestPayload = string(b)
		}
	}
	if rec.Response != nil {
		if b, err := json.Marshal(rec.Response); err == nil {
			entry.ResponsePayload = string(b)
		}
	}
	if rec.Err != nil {
		msg := rec.Err.Error()
		entry.ErrorMessage = &msg
		if appErr, ok := rec.Err.(*apperror.AppError); ok {
			entry.ErrorCode = &appErr.Code
		}
	}
	if err := repo.Append(ctx, entry); err != nil {
		log.Warn().Err(err).Str("operation", string(rec.Operation)).Msg("failed to append operation log")
	}
}
