package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	app "github.com/erp/shipmerge/internal/application/consolidation"
)

// ClaimStore is a MergeClaimStore that owns resources
type ClaimStore interface {
	app.MergeClaimStore
	Close() error
}

// ClaimStoreFactory creates merge claim stores based on configuration
type ClaimStoreFactory struct {
	redisConfig           RedisConfig
	redisEnabled          bool
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// ClaimStoreFactoryOption is a functional option for configuring the factory
type ClaimStoreFactoryOption func(*ClaimStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) ClaimStoreFactoryOption {
	return func(f *ClaimStoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis falls back to
// the in-memory store. Default is true.
func WithInMemoryFallback(allow bool) ClaimStoreFactoryOption {
	return func(f *ClaimStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewClaimStoreFactory creates a new factory
func NewClaimStoreFactory(cfg RedisConfig, redisEnabled bool, opts ...ClaimStoreFactoryOption) *ClaimStoreFactory {
	f := &ClaimStoreFactory{
		redisConfig:           cfg,
		redisEnabled:          redisEnabled,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateStore returns a Redis store when enabled and reachable, otherwise
// an in-memory store
func (f *ClaimStoreFactory) CreateStore(ctx context.Context) (ClaimStore, error) {
	if !f.redisEnabled {
		f.logger.Info("Redis disabled, using in-memory merge claim store")
		return NewInMemoryMergeClaimStore(), nil
	}

	store, err := NewRedisMergeClaimStore(ctx, f.redisConfig)
	if err == nil {
		f.logger.Info("Using Redis merge claim store",
			zap.String("host", f.redisConfig.Host),
			zap.Int("port", f.redisConfig.Port))
		return store, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for merge claims but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory merge claim store. "+
		"Concurrent merges on other instances will not be arbitrated.",
		zap.Error(err),
	)
	return NewInMemoryMergeClaimStore(), nil
}
