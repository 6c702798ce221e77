package usecase

import (
	"context"
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorNotTracked   ErrorCode = "NOT_TRACKED"
	ErrorStaleStep    ErrorCode = "STALE_STEP"
	ErrorCompleted    ErrorCode = "COMPLETED"
	ErrorCorruptState ErrorCode = "CORRUPT_STATE"
	ErrorUpstream     ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

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

// CodeOf returns the code of the first *Error in err's chain, or "" when
// err carries none.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ""
}

// IsBenign reports whether err describes an expected no-op outcome:
// a stale or duplicate delivery, or a completed conversation.
func IsBenign(err error) bool {
	switch CodeOf(err) {
	case ErrorStaleStep, ErrorCompleted:
		return true
	}
	return false
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

// upstreamReason tags rate limiting separately so operators can tell it
// apart from other upstream failures.
func upstreamReason(base string, err error) string {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return base + "_rate_limited"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return base + "_timeout"
	}
	return base + "_error"
}
