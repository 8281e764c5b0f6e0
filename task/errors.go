package task

import (
	"errors"
	"fmt"

	"github.com/tripstream/tripstream/provider"
)

// ErrUnknownTask is returned when a caller references a nonexistent task id.
var ErrUnknownTask = errors.New("unknown task")

// Code is the task-level failure taxonomy. Provider faults never appear here;
// they are absorbed by fallback synthesis and recorded per source.
type Code string

const (
	// CodeInvalidRequest means required slots were missing after the
	// context merge. Not retryable: the request itself must change.
	CodeInvalidRequest Code = "invalid_request"
	// CodeAmbiguousModification means a replan request could not be mapped
	// to specific days or activities. Not retryable; needs clarification.
	CodeAmbiguousModification Code = "ambiguous_modification"
	// CodeProviderDegraded is recorded per source, never as a task failure.
	CodeProviderDegraded Code = "provider_degraded"
	// CodeCompositionFailure means the plan composition step failed with no
	// synthesizable plan. Retryable.
	CodeCompositionFailure Code = "composition_failure"
	// CodeStorageUnavailable means a persistence operation failed. Retryable.
	CodeStorageUnavailable Code = "storage_unavailable"
	// CodeCancelled marks explicit cancellation. Terminal but reported via
	// the cancelled status, never as failed.
	CodeCancelled Code = "cancelled"
	// CodeUnknownTask means the caller referenced a nonexistent id.
	CodeUnknownTask Code = "unknown_task"
)

// Retryable reports whether a retry of the same request can plausibly
// succeed.
func (c Code) Retryable() bool {
	switch c {
	case CodeCompositionFailure, CodeStorageUnavailable:
		return true
	default:
		return false
	}
}

// retryAfterSeconds is the default wait hint per failure code.
func (c Code) retryAfterSeconds() int {
	switch c {
	case CodeCompositionFailure:
		return 30
	case CodeStorageUnavailable:
		return 15
	default:
		return 0
	}
}

// Failure is the terminal error record carried by a failed task.
type Failure struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	// RetryAfterSeconds hints how long a client should wait before
	// retrying. Zero means no hint.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// NewFailure builds a Failure with the code's default retry semantics.
func NewFailure(code Code, message string) *Failure {
	return &Failure{
		Code:              code,
		Message:           message,
		Retryable:         code.Retryable(),
		RetryAfterSeconds: code.retryAfterSeconds(),
	}
}

// FailureFromError maps an arbitrary pipeline error to a Failure. Typed
// failures pass through; transient provider-shaped errors become retryable
// composition failures with the provider's wait hint.
func FailureFromError(err error) *Failure {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	reason := provider.Classify(err)
	failure := NewFailure(CodeCompositionFailure, err.Error())
	if !reason.Retryable() && reason != provider.ReasonUnknown {
		failure.Retryable = false
		failure.RetryAfterSeconds = 0
	}
	if hint := reason.RetryAfterSeconds(); hint > 0 {
		failure.RetryAfterSeconds = hint
	}
	return failure
}
