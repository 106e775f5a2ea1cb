package driven

import (
	"context"
	"time"
)

// DistributedLock coordinates work across instances. The scheduler acquires
// a lock before enqueuing due syncs so multi-instance deployments do not
// double-schedule.
type DistributedLock interface {
	// Acquire attempts to take a named lock with the given TTL. Returns
	// true on success, false when another instance holds it. The lock
	// auto-expires after TTL.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)

	// Release releases a named lock. Best-effort: safe to call when the
	// lock is not held or has expired.
	Release(ctx context.Context, name string) error

	// Ping checks if the lock backend is healthy.
	Ping(ctx context.Context) error
}

// NotificationDebouncer collapses rapid repeated webhook notifications for
// the same resource into a single sync trigger.
type NotificationDebouncer interface {
	// Allow reports whether a notification for the keyed resource should
	// fire, recording the hit when it does. Subsequent calls within the
	// window return false.
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}
