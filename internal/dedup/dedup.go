// Package dedup decides whether an event has already been seen within the retention window.
package dedup

import (
	"context"
	"time"
)

const (
	DefaultRetention = 24 * time.Hour
	DefaultCapacity  = 100_000
)

// Deduplicator performs an atomic test-and-set on a dedup key. Observe returns true
// only for the first observation of key within the retention window.
type Deduplicator interface {
	Observe(ctx context.Context, key string) (bool, error)
}
