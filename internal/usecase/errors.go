package usecase

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorCode classifies a use-case failure for transport mapping.
type ErrorCode string

const (
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrorBlocked            ErrorCode = "BLOCKED"
	ErrorNotFound           ErrorCode = "NOT_FOUND"
	ErrorWriteFailure       ErrorCode = "WRITE_FAILURE"
	ErrorReadFailure        ErrorCode = "READ_FAILURE"
	ErrorTranslationFailure ErrorCode = "TRANSLATION_FAILURE"
	ErrorResolutionFailure  ErrorCode = "RESOLUTION_FAILURE"
	ErrorRateLimited        ErrorCode = "RATE_LIMITED"
	ErrorInternal           ErrorCode = "INTERNAL_ERROR"
)

// Error is a coded use-case failure. Reason is a stable machine-readable
// detail; Err keeps the underlying cause.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of a use-case error, or ErrorInternal for anything
// else.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorInternal
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
