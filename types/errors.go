package types

import (
	"errors"
	"fmt"
)

// Error codes
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeEncoding            = "ENCODING_ERROR"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeUserRejected        = "USER_REJECTED"
	CodeSubmission          = "SUBMISSION_ERROR"
	CodePollTransport       = "POLL_TRANSPORT_ERROR"
	CodeStatusFailed        = "STATUS_FAILED"
	CodeDuplicateSubmission = "DUPLICATE_SUBMISSION"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeNotFound            = "NOT_FOUND"
	CodeConfig              = "CONFIG_ERROR"
	CodeUnsupportedNetwork  = "UNSUPPORTED_NETWORK"
)

// BatchPayError is the error type returned by every batchpay component.
type BatchPayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *BatchPayError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *BatchPayError) Unwrap() error {
	return e.Err
}

// Is matches any *BatchPayError with the same code, so the sentinels below
// work with errors.Is.
func (e *BatchPayError) Is(target error) bool {
	t, ok := target.(*BatchPayError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrValidation          = &BatchPayError{Code: CodeValidation, Message: "validation error"}
	ErrEncoding            = &BatchPayError{Code: CodeEncoding, Message: "encoding error"}
	ErrProviderUnavailable = &BatchPayError{Code: CodeProviderUnavailable, Message: "provider unavailable"}
	ErrUserRejected        = &BatchPayError{Code: CodeUserRejected, Message: "user rejected"}
	ErrSubmission          = &BatchPayError{Code: CodeSubmission, Message: "submission rejected"}
	ErrPollTransport       = &BatchPayError{Code: CodePollTransport, Message: "status query failed"}
	ErrStatusFailed        = &BatchPayError{Code: CodeStatusFailed, Message: "batch failed"}
	ErrDuplicateSubmission = &BatchPayError{Code: CodeDuplicateSubmission, Message: "duplicate submission"}
	ErrInvalidTransition   = &BatchPayError{Code: CodeInvalidTransition, Message: "invalid transition"}
	ErrNotFound            = &BatchPayError{Code: CodeNotFound, Message: "not found"}
	ErrConfig              = &BatchPayError{Code: CodeConfig, Message: "config error"}
)

// NewError builds a BatchPayError with a formatted message.
func NewError(code, format string, args ...any) *BatchPayError {
	return &BatchPayError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a BatchPayError around cause.
func WrapError(code string, cause error, format string, args ...any) *BatchPayError {
	return &BatchPayError{Code: code, Message: fmt.Sprintf(format, args...), Err: cause}
}

// ErrorCode extracts the code of the first BatchPayError in err's chain.
func ErrorCode(err error) string {
	var e *BatchPayError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the caller may retry the same operation as is.
// Only transport unavailability qualifies; rejected or failed batches need a
// new user action.
func IsRetryable(err error) bool {
	switch ErrorCode(err) {
	case CodeProviderUnavailable, CodePollTransport:
		return true
	}
	return false
}
