// Package blob fetches uploaded document bytes by storage key.
package blob

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the key does not resolve to an object.
	// Freshly uploaded objects can be briefly invisible, so callers retry it.
	ErrNotFound = errors.New("blob not found")
	// ErrTransient wraps network and storage hiccups.
	ErrTransient = errors.New("transient blob store error")
	// ErrPermanent marks failures no retry can fix (bad credentials, missing bucket).
	ErrPermanent = errors.New("permanent blob store error")
)

type Store interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// IsRetryable is the retry predicate for fetches.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, ErrPermanent)
}
