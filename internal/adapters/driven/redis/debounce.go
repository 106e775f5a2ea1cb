package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.NotificationDebouncer = (*Debouncer)(nil)

const debouncePrefix = "aide:debounce:"

// Debouncer implements NotificationDebouncer with SETNX and a TTL: the first
// hit within a window wins, later hits see the key and are suppressed until
// it expires.
type Debouncer struct {
	client *redis.Client
}

// NewDebouncer creates a Redis-backed notification debouncer.
func NewDebouncer(client *redis.Client) *Debouncer {
	return &Debouncer{client: client}
}

// Allow reports whether a hit for the key should fire, recording it when it
// does.
func (d *Debouncer) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, debouncePrefix+key, "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("debounce %s: %w", key, err)
	}
	return ok, nil
}
