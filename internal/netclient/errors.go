package netclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorType classifies every failure that crosses the pipeline boundary.
type ErrorType string

const (
	TypeTimeout      ErrorType = "TIMEOUT"
	TypeNoNetwork    ErrorType = "NO_NETWORK"
	TypeServerError  ErrorType = "SERVER_ERROR"
	TypeClientError  ErrorType = "CLIENT_ERROR"
	TypeUnauthorized ErrorType = "UNAUTHORIZED"
	TypeForbidden    ErrorType = "FORBIDDEN"
	TypeNotFound     ErrorType = "NOT_FOUND"
	TypeCancel       ErrorType = "CANCEL"
	TypeUnknown      ErrorType = "UNKNOWN"
)

// Error is the only error type the pipeline returns; raw transport errors
// never escape. Status is the HTTP status when one was received, 0
// otherwise. Err keeps the original cause for errors.Is/As chains.
type Error struct {
	Type    ErrorType
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Type, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsType reports whether err is a pipeline Error of the given type.
func IsType(err error, t ErrorType) bool {
	var ne *Error
	return errors.As(err, &ne) && ne.Type == t
}

// classifyStatus maps an HTTP status to the error taxonomy.
func classifyStatus(status int, message string) *Error {
	e := &Error{Status: status, Message: message}
	switch {
	case status == http.StatusUnauthorized:
		e.Type = TypeUnauthorized
	case status == http.StatusForbidden:
		e.Type = TypeForbidden
	case status == http.StatusNotFound:
		e.Type = TypeNotFound
	case status >= 500:
		e.Type = TypeServerError
	case status >= 400:
		e.Type = TypeClientError
	default:
		e.Type = TypeUnknown
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// classifyTransport maps a transport-level error to the taxonomy.
// ctxErr is the request context's error at the time of failure, used to
// tell a caller cancellation apart from a deadline.
func classifyTransport(err error, ctxErr error) *Error {
	e := &Error{Message: err.Error(), Err: err}
	var netErr net.Error
	switch {
	case errors.Is(ctxErr, context.Canceled) || errors.Is(err, context.Canceled):
		e.Type = TypeCancel
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		e.Type = TypeTimeout
	case isConnectivityError(err):
		e.Type = TypeNoNetwork
	default:
		e.Type = TypeUnknown
	}
	return e
}

func isConnectivityError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
