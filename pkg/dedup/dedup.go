// Package dedup records which messages have already been handled so a
// redelivered message is acknowledged without repeating its side effects.
// The same stores back the per-message attempt counters used by
// broker.WithRetryLimit.
package dedup

import (
	"context"
	"time"
)

const DefaultTTL = 24 * time.Hour

type Store interface {
	// Seen reports whether key has been marked.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark records key. It returns false when the key was already present.
	Mark(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}
