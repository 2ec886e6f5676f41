package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Ledger errors
	ErrCodeInsufficientHoldings ErrorCode = "INSUFFICIENT_HOLDINGS"
	ErrCodeUnreconciledSale     ErrorCode = "UNRECONCILED_SALE"
	ErrCodePositionNotFound     ErrorCode = "POSITION_NOT_FOUND"

	// Backtest errors
	ErrCodeInsufficientData ErrorCode = "INSUFFICIENT_DATA"
	ErrCodeBacktestNotFound ErrorCode = "BACKTEST_NOT_FOUND"

	// Recurring plan errors
	ErrCodePlanNotFound      ErrorCode = "PLAN_NOT_FOUND"
	ErrCodeInvalidTransition ErrorCode = "INVALID_PLAN_TRANSITION"
	ErrCodePaymentFailed     ErrorCode = "PAYMENT_FAILED"

	// External collaborator errors
	ErrCodePriceUnavailable ErrorCode = "PRICE_UNAVAILABLE"
	ErrCodeTimeout          ErrorCode = "TIMEOUT"

	// System errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// CoreError represents a standardized error raised by the accounting core
type CoreError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	cause   error
}

func (e *CoreError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains
func (e *CoreError) Unwrap() error {
	return e.cause
}

// New creates a new CoreError
func New(code ErrorCode, message string) *CoreError {
	return &CoreError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a CoreError
func Wrap(err error, code ErrorCode, message string) *CoreError {
	return &CoreError{
		Code:    code,
		Message: message,
		Details: map[string]interface{}{"original_error": err.Error()},
		cause:   err,
	}
}

// AddDetail adds a detail to the error
func (e *CoreError) AddDetail(key string, value interface{}) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HasCode reports whether err is a CoreError carrying the given code
func HasCode(err error, code ErrorCode) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// Common error constructors

func ValidationError(message string) *CoreError {
	return New(ErrCodeValidation, message)
}

func InsufficientHoldings(message string) *CoreError {
	return New(ErrCodeInsufficientHoldings, message)
}

func UnreconciledSale(message string) *CoreError {
	return New(ErrCodeUnreconciledSale, message)
}

func InsufficientData(message string) *CoreError {
	return New(ErrCodeInsufficientData, message)
}

func PriceUnavailable(message string) *CoreError {
	return New(ErrCodePriceUnavailable, message)
}

func PaymentFailed(message string) *CoreError {
	return New(ErrCodePaymentFailed, message)
}

func NotFound(code ErrorCode, resource string) *CoreError {
	return New(code, fmt.Sprintf("%s not found", resource))
}

func Internal(message string) *CoreError {
	return New(ErrCodeInternal, message)
}
