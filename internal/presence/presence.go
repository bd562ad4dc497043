// Package presence keeps a Redis cache of which addresses are currently
// online. The cache complements the persisted online flag: keys carry a TTL
// so that a crashed server's connections eventually read as offline even
// though no disconnect handler ran for them.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for presence records.
	KeyPrefix = "online:"

	// OnlineTTL bounds how long a presence record survives without a
	// refreshing online signal.
	OnlineTTL = 1 * time.Hour
)

// Tracker manages presence records in Redis.
type Tracker struct {
	client *redis.Client
}

// NewTracker creates a presence tracker using the provided Redis client.
func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

// SetOnline marks an address online (with TTL) or deletes its record.
func (t *Tracker) SetOnline(ctx context.Context, address string, online bool) error {
	key := KeyPrefix + address
	if online {
		if err := t.client.Set(ctx, key, time.Now().Unix(), OnlineTTL).Err(); err != nil {
			return fmt.Errorf("presence: set online: %w", err)
		}
		return nil
	}
	if err := t.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("presence: set offline: %w", err)
	}
	return nil
}

// IsOnline reports whether an address has a live presence record.
func (t *Tracker) IsOnline(ctx context.Context, address string) (bool, error) {
	n, err := t.client.Exists(ctx, KeyPrefix+address).Result()
	if err != nil {
		return false, fmt.Errorf("presence: exists: %w", err)
	}
	return n > 0, nil
}
