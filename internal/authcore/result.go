package authcore

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a backend call did not succeed.
type FailureKind string

const (
	KindConfig       FailureKind = "config"
	KindNetwork      FailureKind = "network"
	KindTimeout      FailureKind = "timeout"
	KindUnauthorized FailureKind = "unauthorized"
	KindInvalidCode  FailureKind = "invalid_code"
	KindExpiredCode  FailureKind = "expired_code"
	KindRateLimited  FailureKind = "rate_limited"
	KindRejected     FailureKind = "rejected"
	KindContract     FailureKind = "contract"
)

// Failure is the failure variant of a Result.
type Failure struct {
	Kind    FailureKind
	Message string
	// Status is the HTTP status, 0 when the request never got a response.
	Status int
	Err    error
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Result is either a value or a *Failure.
type Result[T any] struct {
	Value   T
	Failure *Failure
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] { return Result[T]{Value: v} }

// Fail wraps a failure.
func Fail[T any](f *Failure) Result[T] { return Result[T]{Failure: f} }

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool { return r.Failure == nil }

// Err returns the failure as an error, nil on success.
func (r Result[T]) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Message returns the failure message or fallback.
func (r Result[T]) Message(fallback string) string {
	if r.Failure == nil || r.Failure.Message == "" {
		return fallback
	}
	return r.Failure.Message
}
