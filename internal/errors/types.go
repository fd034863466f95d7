package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorCode represents a categorized error type
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig ErrorCode = "MISSING_CONFIG"

	// Store errors
	ErrCodeStoreConnection ErrorCode = "STORE_CONNECTION"
	ErrCodeStoreQuery      ErrorCode = "STORE_QUERY"

	// Delivery errors
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"
	ErrCodeNetwork      ErrorCode = "NETWORK"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeRejected     ErrorCode = "REJECTED"
	ErrCodeUnknownChat  ErrorCode = "UNKNOWN_CHAT"
	ErrCodeTelegramAPI  ErrorCode = "TELEGRAM_API"
	ErrCodeQQGateway    ErrorCode = "QQ_GATEWAY"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
)

// AppError is a structured application error. Delivery failures carry a
// Retryable flag that decides whether they enter the retry queue or are
// dropped as permanent.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Retryable bool                   `json:"retryable"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapRetryable wraps an error and marks it as retryable
func WrapRetryable(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// NewTransientDeliveryError marks a dispatch failure that should be queued
// for retry (network faults, timeouts, rate limits).
func NewTransientDeliveryError(code ErrorCode, err error) *AppError {
	return WrapRetryable(err, code, "transient delivery failure")
}

// NewPermanentDeliveryError marks a dispatch failure that must never be
// retried (payload rejected, unknown target chat).
func NewPermanentDeliveryError(code ErrorCode, err error) *AppError {
	return Wrap(err, code, "permanent delivery failure")
}

// IsRetryable checks if an error is retryable. Raw network and deadline
// errors from the transport count as retryable even when unwrapped.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalError
}

// FromHTTPStatus classifies a platform API response status into a delivery
// error. 429 and 5xx are transient; 4xx payload or target problems are
// permanent.
func FromHTTPStatus(code ErrorCode, status int, err error) *AppError {
	if status == 429 || status == 408 || status >= 500 {
		return NewTransientDeliveryError(code, err).
			WithContext("status_code", status)
	}
	appErr := NewPermanentDeliveryError(code, err).
		WithContext("status_code", status)
	if status == 403 || status == 404 {
		appErr.Code = ErrCodeUnknownChat
	}
	return appErr
}

// NewConfigError creates a configuration error; these are fatal at startup.
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key)
}

// NewStoreError creates a store error with operation context
func NewStoreError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStoreQuery, fmt.Sprintf("store %s failed", operation)).
		WithContext("operation", operation)
}
