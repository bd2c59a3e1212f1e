package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection_error", &ConnectionError{Op: "query", Err: errors.New("eof")}, true},
		{"wrapped_connection_error", fmt.Errorf("dispatch: %w", &ConnectionError{Op: "query"}), true},
		{"protocol_error", &ProtocolError{Code: "invalid_request", Message: "bad"}, false},
		{"protocol_error_with_500_text", &ProtocolError{Message: "error 500 from upstream"}, false},
		{"context_canceled", context.Canceled, false},
		{"context_deadline", context.DeadlineExceeded, false},
		{"rate_limit_text", errors.New("429 too many requests"), true},
		{"rate_limit_word", errors.New("rate_limit_error: slow down"), true},
		{"server_error_text", errors.New("upstream returned 503 service unavailable"), true},
		{"bad_gateway", errors.New("502 bad gateway"), true},
		{"timeout_text", errors.New("request timeout"), true},
		{"connection_reset", errors.New("read tcp: connection reset by peer"), true},
		{"connection_refused", errors.New("dial tcp: connection refused"), true},
		{"dns_failure", errors.New("lookup api.example.com: no such host"), true},
		{"plain_error", errors.New("something else went wrong"), false},
		{"auth_error", errors.New("401 unauthorized"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConnectionError_Error(t *testing.T) {
	err := &ConnectionError{Op: "connect", Err: errors.New("connection refused")}
	msg := err.Error()
	for _, want := range []string{"connect", "connection refused"} {
		if !contains(msg, want) {
			t.Errorf("Error() = %q, should contain %q", msg, want)
		}
	}
}

func TestConnectionError_Unwrap(t *testing.T) {
	cause := errors.New("eof")
	err := &ConnectionError{Op: "query", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("ConnectionError should unwrap to its cause")
	}
}

func TestProtocolError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ProtocolError
		want string
	}{
		{"code_and_message", &ProtocolError{Code: "overloaded", Message: "busy"}, "[overloaded]"},
		{"message_only", &ProtocolError{Message: "stream ended early"}, "stream ended early"},
		{"cause_only", &ProtocolError{Err: errors.New("decode failed")}, "decode failed"},
		{"empty", &ProtocolError{}, "backend protocol error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if msg := tt.err.Error(); !contains(msg, tt.want) {
				t.Errorf("Error() = %q, should contain %q", msg, tt.want)
			}
		})
	}
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
