package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Retryable  bool   `json:"-"` // Callers may retry with backoff
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Validation (VAL) ----

func ErrInvalidAmount() *AppError {
	return New("VAL_001", "Amount must be positive", http.StatusBadRequest)
}

func ErrUnsupportedCurrency(currency string) *AppError {
	return New("VAL_002", fmt.Sprintf("Currency %s is not supported by this gateway", currency), http.StatusBadRequest)
}

func ErrAmountOutOfRange() *AppError {
	return New("VAL_003", "Amount is outside the gateway's allowed range", http.StatusBadRequest)
}

// Validation returns a generic VAL_000 validation error.
func Validation(message string) *AppError {
	return New("VAL_000", message, http.StatusBadRequest)
}

// ---- Lookup (PAY 0xx) ----

func ErrNotFound(entity string) *AppError {
	return New("PAY_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Conflicts (PAY 1xx) ----

// CodeInvalidTransition is the code carried by ErrInvalidTransition.
const CodeInvalidTransition = "PAY_101"

func ErrInvalidTransition(from, to string) *AppError {
	return New(CodeInvalidTransition, fmt.Sprintf("Transition %s -> %s is not allowed", from, to), http.StatusConflict)
}

func ErrOverRefund() *AppError {
	return New("PAY_102", "Refund amount exceeds remaining refundable balance", http.StatusConflict)
}

func ErrNotRefundable(status string) *AppError {
	return New("PAY_103", fmt.Sprintf("Transaction in status %s is not refundable", status), http.StatusConflict)
}

func ErrRefundNotPending() *AppError {
	return New("PAY_104", "Refund is not awaiting approval", http.StatusConflict)
}

func ErrRefundNotApproved() *AppError {
	return New("PAY_105", "Refund has not been approved for processing", http.StatusConflict)
}

func ErrFeeNotApplicable(status string) *AppError {
	return New("PAY_106", fmt.Sprintf("Gateway fee cannot be recorded in status %s", status), http.StatusConflict)
}

// ---- Policy (POL) ----

func ErrApprovalRequired() *AppError {
	return New("POL_001", "Refund requires manual approval", http.StatusUnprocessableEntity)
}

func ErrRefundWindowClosed(maxDays int) *AppError {
	return New("POL_002", fmt.Sprintf("Refund window of %d days has closed", maxDays), http.StatusUnprocessableEntity)
}

func ErrCodDisabled() *AppError {
	return New("POL_003", "Cash on delivery is disabled for this gateway", http.StatusUnprocessableEntity)
}

// ---- Gateway (GW) ----

// ErrGatewayUnavailable marks an upstream timeout/5xx after retries were exhausted.
func ErrGatewayUnavailable(provider string, err error) *AppError {
	e := Wrap("GW_001", fmt.Sprintf("Payment gateway %s is unavailable", provider), http.StatusBadGateway, err)
	e.Retryable = true
	return e
}

func ErrGatewayRejected(provider, reason string) *AppError {
	return New("GW_002", fmt.Sprintf("Gateway %s rejected the request: %s", provider, reason), http.StatusBadGateway)
}

func ErrUnknownProvider(provider string) *AppError {
	return New("GW_003", fmt.Sprintf("No adapter registered for provider %s", provider), http.StatusNotFound)
}

// ---- Security (SEC) ----

func ErrInvalidSignature() *AppError {
	return New("SEC_001", "Invalid webhook signature", http.StatusBadRequest)
}

func ErrEncryptionKey(err error) *AppError {
	return Wrap("SEC_002", "Encryption key is missing or malformed", http.StatusInternalServerError, err)
}

func ErrDecryptionFailure(err error) *AppError {
	return Wrap("SEC_003", "Ciphertext is corrupted or key mismatch", http.StatusInternalServerError, err)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrLockContention(err error) *AppError {
	e := Wrap("SYS_002", "Could not acquire transaction lock", http.StatusServiceUnavailable, err)
	e.Retryable = true
	return e
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// IsRetryable reports whether err is an AppError marked retryable.
func IsRetryable(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Retryable
	}
	return false
}

// IsInvalidTransition reports whether err is a state-machine transition conflict.
func IsInvalidTransition(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == CodeInvalidTransition
	}
	return false
}
