package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ConnectionError is a transient connectivity failure talking to the
// backend. Retry managers treat it as retryable.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend connection error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backend connection error during %s", e.Op)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a non-retryable backend failure: malformed responses,
// backend-reported fatal errors, rejected requests.
type ProtocolError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("backend protocol error [%s]: %s", e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("backend protocol error: %s", e.Message)
	case e.Err != nil:
		return fmt.Sprintf("backend protocol error: %v", e.Err)
	default:
		return "backend protocol error"
	}
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTransient reports whether an error should be treated as transient
// connectivity. Explicitly typed errors win; otherwise the error text is
// screened for connectivity patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return hasTransientPattern(err.Error())
}

func hasTransientPattern(msg string) bool {
	msg = strings.ToLower(msg)

	// Rate limiting
	if strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") {
		return true
	}

	// Server-side trouble
	if strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") ||
		strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "gateway timeout") {
		return true
	}

	// Timeouts and broken connections
	if strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "no such host") {
		return true
	}

	return false
}
