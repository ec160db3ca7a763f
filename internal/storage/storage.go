// Package storage provides the key-value persistence that holds transient OAuth bookkeeping
// and the current access token between agent runs. Every backend stores plain string values
// under flat string keys and is safe for concurrent use.
package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage: backend closed")

// Storage is the shared mutable resource behind the auth components. Keys are provider- or
// purpose-scoped names such as "google_oauth_state"; callers own their keys and clear them.
type Storage interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// SetIfAbsent stores value only when key is missing and reports whether it did.
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)
	// Delete removes the keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Close releases the backend's resources.
	Close() error
}

// GetOr returns the value under key, or fallback when it is missing or unreadable.
func GetOr(ctx context.Context, s Storage, key, fallback string) string {
	if s == nil {
		return fallback
	}
	value, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return fallback
	}
	return value
}
