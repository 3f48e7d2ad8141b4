package utils

import (
	"errors"
	"fmt"
)

// ResponseCode identifies an error class in API responses.
type ResponseCode int

const (
	CodeSuccess      ResponseCode = 0
	CodeInvalidParam ResponseCode = 1001
	CodeUnauthorized ResponseCode = 1002
	CodeRateLimit    ResponseCode = 1003

	// Reservation / redemption
	CodeReservationNotFound ResponseCode = 2001
	CodeInvalidState        ResponseCode = 2002
	CodeInvalidTransition   ResponseCode = 2003
	CodePinMismatch         ResponseCode = 2004
	CodeTooManyAttempts     ResponseCode = 2005
	CodeCredentialNotFound  ResponseCode = 2006
	CodePaymentDeclined     ResponseCode = 2007
	CodeIntakeDegraded      ResponseCode = 2008

	// Lots
	CodeLotNotFound ResponseCode = 2101
	CodeLotSoldOut  ResponseCode = 2102
	CodeLotClosed   ResponseCode = 2103

	// Notifications
	CodeDeliveryUnavailable   ResponseCode = 2201
	CodeReconciliationFailure ResponseCode = 2202
	CodeNotificationNotFound  ResponseCode = 2203

	// System
	CodeInternalError ResponseCode = 5000
	CodeDatabaseError ResponseCode = 5001
	CodeRedisError    ResponseCode = 5002
)

// AppError application error structure
type AppError struct {
	Code    ResponseCode `json:"code"`
	Message string       `json:"message"`
	Err     error        `json:"-"`
}

// Error implement error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code: %d, message: %s, error: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
}

// Unwrap implement errors.Unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match AppErrors by code, so wrapped copies of a
// predefined error still compare equal to the original.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError create new application error
func NewError(code ResponseCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// WrapError wrap an underlying error with a code and message
func WrapError(err error, code ResponseCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Predefined errors
var (
	ErrInvalidParam = NewError(CodeInvalidParam, "invalid parameter")
	ErrUnauthorized = NewError(CodeUnauthorized, "unauthorized")
	ErrRateLimit    = NewError(CodeRateLimit, "rate limit exceeded")

	// Redemption protocol errors. Always surfaced to the operator
	// performing the scan, never silently retried.
	ErrReservationNotFound = NewError(CodeReservationNotFound, "reservation not found")
	ErrInvalidState        = NewError(CodeInvalidState, "reservation state does not permit this operation")
	ErrPinMismatch         = NewError(CodePinMismatch, "pin does not match")
	ErrTooManyAttempts     = NewError(CodeTooManyAttempts, "too many failed attempts")
	ErrCredentialNotFound  = NewError(CodeCredentialNotFound, "credential not found")
	ErrPaymentDeclined     = NewError(CodePaymentDeclined, "payment authorization declined")
	ErrIntakeDegraded      = NewError(CodeIntakeDegraded, "reservation intake temporarily paused")

	ErrLotNotFound = NewError(CodeLotNotFound, "lot not found")
	ErrLotSoldOut  = NewError(CodeLotSoldOut, "lot quantity exhausted")
	ErrLotClosed   = NewError(CodeLotClosed, "lot pickup window closed")

	// Absorbed locally, never user-facing.
	ErrDeliveryUnavailable = NewError(CodeDeliveryUnavailable, "recipient not reachable for push delivery")
	// Degraded-mode indicator, not fatal.
	ErrReconciliationFailure = NewError(CodeReconciliationFailure, "authoritative notification fetch failed")
	ErrNotificationNotFound  = NewError(CodeNotificationNotFound, "notification not found")

	ErrInternalError = NewError(CodeInternalError, "internal server error")
	ErrDatabaseError = NewError(CodeDatabaseError, "database error")
	ErrRedisError    = NewError(CodeRedisError, "redis error")
)

// GetErrorCode extracts the response code from an error
func GetErrorCode(err error) ResponseCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}
