package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	app "github.com/erp/shipmerge/internal/application/consolidation"
)

const defaultClaimKeyPrefix = "shipmerge:merge-claim:"

// RedisMergeClaimStore implements MergeClaimStore using Redis.
// This is suitable for deployments where several instances receive webhooks
// for the same shop.
type RedisMergeClaimStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisMergeClaimStore connects to Redis and creates a claim store
func NewRedisMergeClaimStore(ctx context.Context, cfg RedisConfig) (*RedisMergeClaimStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisMergeClaimStoreWithClient(client, ""), nil
}

// NewRedisMergeClaimStoreWithClient creates a store with an existing Redis client
func NewRedisMergeClaimStoreWithClient(client *redis.Client, keyPrefix string) *RedisMergeClaimStore {
	if keyPrefix == "" {
		keyPrefix = defaultClaimKeyPrefix
	}
	return &RedisMergeClaimStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Claim sets the owner of heldOrderID with SETNX and returns whoever owns it.
// A claim that expires between SETNX and GET is retried once.
func (s *RedisMergeClaimStore) Claim(ctx context.Context, heldOrderID, triggerOrderID string, ttl time.Duration) (string, error) {
	key := s.keyPrefix + heldOrderID

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, key, triggerOrderID, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("failed to claim order %s: %w", heldOrderID, err)
		}
		if ok {
			return triggerOrderID, nil
		}

		owner, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to read claim on order %s: %w", heldOrderID, err)
		}
		return owner, nil
	}
	return "", fmt.Errorf("claim on order %s kept expiring", heldOrderID)
}

// Close closes the Redis client
func (s *RedisMergeClaimStore) Close() error {
	return s.client.Close()
}

var _ app.MergeClaimStore = (*RedisMergeClaimStore)(nil)
