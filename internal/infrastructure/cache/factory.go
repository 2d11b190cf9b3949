package cache

import (
	"context"

	appval "github.com/erp/stockvaluation/internal/application/valuation"
	"github.com/erp/stockvaluation/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// JobLockerFactory creates the job locker used by the administrative tools
type JobLockerFactory struct {
	redisConfig config.RedisConfig
	logger      *zap.Logger
}

// JobLockerFactoryOption is a functional option for configuring the factory
type JobLockerFactoryOption func(*JobLockerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) JobLockerFactoryOption {
	return func(f *JobLockerFactory) {
		f.logger = logger
	}
}

// NewJobLockerFactory creates a new factory
func NewJobLockerFactory(cfg config.RedisConfig, opts ...JobLockerFactoryOption) *JobLockerFactory {
	f := &JobLockerFactory{
		redisConfig: cfg,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateLocker returns a Redis-backed locker when Redis is enabled and
// reachable, and a process-local one otherwise. The returned client is nil
// for the local locker; callers close it when done.
func (f *JobLockerFactory) CreateLocker(ctx context.Context) (appval.JobLocker, *redis.Client) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using process-local job lock")
		return appval.NewLocalJobLocker(), nil
	}

	client, err := NewRedisClient(ctx, RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err != nil {
		f.logger.Warn("Redis unavailable, falling back to process-local job lock. "+
			"Concurrent runs from other processes will not be detected.",
			zap.Error(err),
		)
		return appval.NewLocalJobLocker(), nil
	}

	f.logger.Info("using Redis job lock", zap.String("addr", f.redisConfig.Addr()))
	return NewRedisJobLocker(client, ""), client
}
