package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrInternal        = errors.New("internal error")
)

// ErrorKind is the closed error taxonomy recorded in the error ledger and
// used by the retry layer to decide retryability.
type ErrorKind string

const (
	KindAPIError         ErrorKind = "api_error"
	KindRateLimit        ErrorKind = "rate_limit"
	KindTimeout          ErrorKind = "timeout"
	KindValidation       ErrorKind = "validation"
	KindAuth             ErrorKind = "auth"
	KindProcessingError  ErrorKind = "processing_error"
	KindRetryExhausted   ErrorKind = "retry_exhausted"
	KindCircuitOpen      ErrorKind = "circuit_open"
	KindRateLimiterError ErrorKind = "rate_limiter_error"
	KindStorageError     ErrorKind = "storage_error"
	KindInvalidGrant     ErrorKind = "invalid_grant"
)

// Failure tags an underlying error with its taxonomy kind and the external
// service it came from. The retry layer inspects the tag instead of matching
// exception types.
type Failure struct {
	Kind    ErrorKind
	Service string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Service, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Service, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Fail wraps err as a tagged failure.
func Fail(kind ErrorKind, service string, err error) error {
	return &Failure{Kind: kind, Service: service, Err: err}
}

// Failf wraps a formatted message as a tagged failure.
func Failf(kind ErrorKind, service, format string, args ...any) error {
	return &Failure{Kind: kind, Service: service, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the taxonomy kind from an error chain. Untagged errors
// report processing_error. A RetryExhausted wrapper dominates the kind of
// the failure it carries; attempts=0 means the circuit was open and no call
// was made.
func KindOf(err error) ErrorKind {
	var re *RetryExhausted
	if errors.As(err, &re) {
		if re.Attempts == 0 {
			return KindCircuitOpen
		}
		return KindRetryExhausted
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindProcessingError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ServiceOf extracts the originating service from a tagged failure chain.
// Untagged errors report "internal".
func ServiceOf(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Service
	}
	return "internal"
}

// Retryable reports whether a failure kind is worth another attempt.
// Validation, auth and invalid-grant failures surface after attempt one;
// circuit-open never reaches the attempt loop.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindValidation, KindAuth, KindInvalidGrant, KindCircuitOpen:
		return false
	}
	return true
}
