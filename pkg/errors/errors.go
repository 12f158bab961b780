// Package errors defines the failure taxonomy shared across the pipeline:
// transient failures are retried, permanent failures are recorded per item,
// precondition failures abort the batch, and everything else is internal.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrPaperNotFound    = errors.New("paper not found")
	ErrRunNotFound      = errors.New("run not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("document store unavailable")
	ErrIndexUnavailable = errors.New("search index unavailable")
	ErrTimeout          = errors.New("operation timed out")
	ErrInternal         = errors.New("internal error")
)

// Kind classifies an error for retry and propagation decisions.
type Kind int

const (
	// KindInternal covers unclassified failures.
	KindInternal Kind = iota
	// KindTransient failures (5xx, timeout, refused connection) are safe to
	// retry with backoff.
	KindTransient
	// KindPermanent failures (4xx, unreadable payload) fail one item and are
	// never retried.
	KindPermanent
	// KindPrecondition failures (store or index unreachable) abort the whole
	// batch.
	KindPrecondition
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindPrecondition:
		return "precondition"
	default:
		return "internal"
	}
}

type AppError struct {
	Err     error
	Message string
	Kind    Kind
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func Transient(err error, format string, args ...any) *AppError {
	return &AppError{Err: err, Message: fmt.Sprintf(format, args...), Kind: KindTransient}
}

func Permanent(err error, format string, args ...any) *AppError {
	return &AppError{Err: err, Message: fmt.Sprintf(format, args...), Kind: KindPermanent}
}

func Precondition(err error, format string, args ...any) *AppError {
	return &AppError{Err: err, Message: fmt.Sprintf(format, args...), Kind: KindPrecondition}
}

func Internal(err error, format string, args ...any) *AppError {
	return &AppError{Err: err, Message: fmt.Sprintf(format, args...), Kind: KindInternal}
}

// KindOf returns the classification of err, or KindInternal when it carries
// none.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsTransient reports whether err is safe to retry. It is the retryable
// predicate handed to the retry policy.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// HTTPStatusCode maps an error onto the status code the HTTP handlers return.
func HTTPStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrPaperNotFound), errors.Is(err, ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	}

	switch KindOf(err) {
	case KindTransient, KindPrecondition:
		return http.StatusServiceUnavailable
	case KindPermanent:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
