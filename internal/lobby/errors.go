package lobby

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInSession is returned when a create or join is attempted while a
	// session is joined or a request is still in flight.
	ErrAlreadyInSession = errors.New("already in session")
	// ErrNoActiveSession is returned by Broadcast when no session is joined.
	ErrNoActiveSession = errors.New("no active session")
)

// ErrorCode classifies provider failures.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeTimeout
	CodeUnavailable
	CodeNotFound
	CodeLimitExceeded
	CodeAccessDenied
)

func (c ErrorCode) String() string {
	switch c {
	case CodeTimeout:
		return "timeout"
	case CodeUnavailable:
		return "unavailable"
	case CodeNotFound:
		return "not_found"
	case CodeLimitExceeded:
		return "limit_exceeded"
	case CodeAccessDenied:
		return "access_denied"
	default:
		return "unknown"
	}
}

// Sentinel provider errors for errors.Is matching against a *ProviderError.
var (
	ErrTimeout       = &ProviderError{Code: CodeTimeout}
	ErrUnavailable   = &ProviderError{Code: CodeUnavailable}
	ErrNotFound      = &ProviderError{Code: CodeNotFound}
	ErrLimitExceeded = &ProviderError{Code: CodeLimitExceeded}
	ErrAccessDenied  = &ProviderError{Code: CodeAccessDenied}
)

// ProviderError wraps a failure reported asynchronously by the provider.
type ProviderError struct {
	Code ErrorCode
	// Op is the provider operation that failed ("create", "join").
	Op  string
	Err error
}

// NewProviderError builds a ProviderError for op.
func NewProviderError(code ErrorCode, op string, err error) *ProviderError {
	return &ProviderError{Code: code, Op: op, Err: err}
}

func (e *ProviderError) Error() string {
	msg := "provider error: " + e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is matches any *ProviderError carrying the same code.
func (e *ProviderError) Is(target error) bool {
	var pe *ProviderError
	if !errors.As(target, &pe) {
		return false
	}
	return pe.Code == e.Code
}

// asProviderError normalises an arbitrary completion error.
func asProviderError(op string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Op == "" {
			return &ProviderError{Code: pe.Code, Op: op, Err: pe.Err}
		}
		return pe
	}
	return &ProviderError{Code: CodeUnknown, Op: op, Err: err}
}

// SendError is a per-member failure collected by Broadcast.
type SendError struct {
	To  Member
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending to member %s: %v", e.To, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
