package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden              ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest             ErrorCode = "BAD_REQUEST"
	ErrCodeValidation             ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidTransition      ErrorCode = "INVALID_TRANSITION"
	ErrCodeConflict               ErrorCode = "CONFLICT"
	ErrCodeProvider               ErrorCode = "PROVIDER_ERROR"
	ErrCodeProviderUnavailable    ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeReconciliationRequired ErrorCode = "RECONCILIATION_REQUIRED"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabaseError          ErrorCode = "DATABASE_ERROR"
)

// AppError carries a stable machine-readable kind plus a human message.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// Provider builds a payment-provider error. Retryable means the caller may
// re-invoke the operation without risking a duplicate charge or payout.
func Provider(err error, message string, retryable bool) *AppError {
	code := ErrCodeProvider
	if retryable {
		code = ErrCodeProviderUnavailable
	}
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Retryable:  retryable,
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation, ErrCodeInvalidTransition, ErrCodeProvider:
		return http.StatusBadRequest
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeProviderUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeNotFound
}

func IsForbidden(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeForbidden
}

func IsValidation(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeValidation
}

func IsInvalidTransition(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeInvalidTransition
}

func IsConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeConflict
}

func IsRetryable(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Retryable
}

var (
	ErrJobNotFound      = New(ErrCodeNotFound, "job not found")
	ErrProposalNotFound = New(ErrCodeNotFound, "proposal not found")
	ErrUserNotFound     = New(ErrCodeNotFound, "user not found")
	ErrUnauthorized     = New(ErrCodeUnauthorized, "authorization required")
	ErrForbidden        = New(ErrCodeForbidden, "insufficient permissions")
	ErrVersionConflict  = New(ErrCodeConflict, "job was modified concurrently, refetch and retry")
)
