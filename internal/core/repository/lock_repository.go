package repository

import (
	"context"
	"time"
)

// LockRepository provides named mutual-exclusion locks shared by every
// process using the same database. A lock whose TTL has lapsed may be taken
// over by a new owner.
type LockRepository interface {
	Acquire(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error)
	Release(ctx context.Context, name, owner string) error
}
