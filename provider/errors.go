package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Reason classifies why a provider call failed. The gathering layer records
// it on the fallback result so callers can render accurate caveats.
type Reason string

const (
	ReasonRateLimit       Reason = "rate_limit"
	ReasonTimeout         Reason = "timeout"
	ReasonAuthentication  Reason = "authentication"
	ReasonUnavailable     Reason = "service_unavailable"
	ReasonNetwork         Reason = "network_error"
	ReasonInvalidResponse Reason = "invalid_response"
	ReasonNotConfigured   Reason = "not_configured"
	ReasonUnknown         Reason = "unknown"
)

// Error is the typed failure every adapter returns. Adapters never let raw
// transport errors escape.
type Error struct {
	Source  Source
	Reason  Reason
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Source, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Reason)
}

func (e *Error) Unwrap() error { return e.err }

// NewError creates a typed provider error.
func NewError(source Source, reason Reason, message string, err error) *Error {
	return &Error{Source: source, Reason: reason, Message: message, err: err}
}

// Classify maps an arbitrary error to a failure Reason. Typed *Error values
// keep their reason; everything else is classified by shape and message.
func Classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}

	var perr *Error
	if errors.As(err, &perr) {
		return perr.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || (strings.Contains(msg, "rate") && strings.Contains(msg, "limit")):
		return ReasonRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline"):
		return ReasonTimeout
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "auth"):
		return ReasonAuthentication
	case strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "unavailable"):
		return ReasonUnavailable
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "no such host"):
		return ReasonNetwork
	case strings.Contains(msg, "json") || strings.Contains(msg, "parse") || strings.Contains(msg, "decode"):
		return ReasonInvalidResponse
	default:
		return ReasonUnknown
	}
}

// Retryable reports whether a failure reason is worth a task-level retry.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonNetwork, ReasonUnavailable:
		return true
	default:
		return false
	}
}

// RetryAfterSeconds suggests how long a client should wait before retrying
// a task that failed for this reason. Zero means no suggestion.
func (r Reason) RetryAfterSeconds() int {
	switch r {
	case ReasonRateLimit:
		return 60
	case ReasonUnavailable:
		return 45
	case ReasonTimeout:
		return 30
	case ReasonNetwork:
		return 15
	default:
		return 0
	}
}
