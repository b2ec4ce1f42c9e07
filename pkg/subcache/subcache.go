// Package subcache caches subscription snapshots in Redis so the status
// endpoint does not hit Postgres on every request. Entries carry a short
// TTL and every subscription writer invalidates on write, so a stale
// entry can outlive the truth only for the TTL window.
package subcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/membergate/pkg/entitlement"
)

// ErrCacheMiss reports that no snapshot is cached for the user.
var ErrCacheMiss = errors.New("subscription snapshot not cached")

const (
	defaultTTL       = 30 * time.Second
	defaultKeyPrefix = "membergate:sub:"
)

// Snapshot is the cached view of a user's subscription, already
// normalized for entitlement checks.
type Snapshot struct {
	Tier                  entitlement.Tier   `json:"tier"`
	Status                entitlement.Status `json:"status"`
	CurrentPeriodEnd      *time.Time         `json:"current_period_end,omitempty"`
	BillingCustomerID     string             `json:"billing_customer_id,omitempty"`
	BillingSubscriptionID string             `json:"billing_subscription_id,omitempty"`
}

// Subscription converts the snapshot to the entitlement view.
func (s Snapshot) Subscription() entitlement.Subscription {
	return entitlement.Subscription{
		Tier:   entitlement.NormalizeTier(s.Tier),
		Status: s.Status,
	}
}

// Cache stores snapshots keyed by user id.
type Cache struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the default entry TTL. Panics on non-positive values.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl <= 0 {
			panic("subcache: ttl must be positive")
		}
		c.ttl = ttl
	}
}

// WithKeyPrefix overrides the default key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(c *Cache) {
		c.keyPrefix = prefix
	}
}

// New creates a Cache. Panics on a nil client to fail fast during
// initialization.
func New(client redis.UniversalClient, opts ...Option) *Cache {
	if client == nil {
		panic("subcache: redis client is required")
	}

	c := &Cache{
		client:    client,
		ttl:       defaultTTL,
		keyPrefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) key(userID string) string {
	return c.keyPrefix + userID
}

// Get returns the cached snapshot or ErrCacheMiss. Corrupted entries are
// dropped and reported as a miss so the caller falls through to the store.
func (c *Cache) Get(ctx context.Context, userID string) (*Snapshot, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		_ = c.client.Del(ctx, c.key(userID)).Err()
		return nil, ErrCacheMiss
	}
	return &snap, nil
}

// Set stores a snapshot with the configured TTL.
func (c *Cache) Set(ctx context.Context, userID string, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(userID), raw, c.ttl).Err()
}

// Invalidate removes the snapshot for a user. Missing keys are success.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.key(userID)).Err()
}
