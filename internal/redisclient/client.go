package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/notify_claim.lua
var notifyClaimScript string

// Notification claim outcomes.
const (
	ClaimGranted   = 1
	ClaimDuplicate = 0
	ClaimCapped    = -1
)

type Client struct {
	rdb         *redis.Client
	claimScript *redis.Script
}

// NewClient creates a new Redis client with the claim script loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		claimScript: redis.NewScript(notifyClaimScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// ClaimNotification atomically claims one notification slot for a
// triggering event, deduplicated by (userID, entityID) and capped per
// event. Returns ClaimGranted, ClaimDuplicate, or ClaimCapped.
func (c *Client) ClaimNotification(ctx context.Context, eventID, userID, entityID string, cap int, ttl time.Duration) (int, error) {
	setKey := fmt.Sprintf("notify:dedup:%s", eventID)
	counterKey := fmt.Sprintf("notify:count:%s", eventID)
	member := fmt.Sprintf("%s:%s", userID, entityID)

	result, err := c.claimScript.Run(ctx, c.rdb, []string{setKey, counterKey},
		member, cap, int(ttl.Seconds())).Result()
	if err != nil {
		return ClaimCapped, fmt.Errorf("notify claim script failed: %w", err)
	}

	outcome, ok := result.(int64)
	if !ok {
		return ClaimCapped, fmt.Errorf("unexpected script result type")
	}
	return int(outcome), nil
}

// ClaimEvent is the fast-path idempotency check for inbound events.
// Returns true if this process is the first to claim the event ID; the
// processed_events table remains the durable source of truth.
func (c *Client) ClaimEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("event:%s", eventID), "1", ttl).Result()
}

// ReleaseEvent drops an event claim so a failed run can be redelivered
func (c *Client) ReleaseEvent(ctx context.Context, eventID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("event:%s", eventID)).Err()
}

// AcquireLock acquires a short distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
