package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	appval "github.com/erp/stockvaluation/internal/application/valuation"
	"github.com/redis/go-redis/v9"
)

const defaultLockPrefix = "stockvaluation:joblock:"

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisJobLocker implements appval.JobLocker with redislock so that only one
// backfill, recalculation or repair of a key runs across all processes
type RedisJobLocker struct {
	locker    *redislock.Client
	keyPrefix string
}

// NewRedisJobLocker creates a job locker on an existing client
func NewRedisJobLocker(client redis.UniversalClient, keyPrefix string) *RedisJobLocker {
	if keyPrefix == "" {
		keyPrefix = defaultLockPrefix
	}
	return &RedisJobLocker{
		locker:    redislock.New(client),
		keyPrefix: keyPrefix,
	}
}

// Obtain takes the lock once, without retrying. A held lock returns appval.ErrJobLocked.
func (l *RedisJobLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.locker.Obtain(ctx, l.keyPrefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", appval.ErrJobLocked, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain job lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			// TTL expired while the job ran
			return nil
		}
		return err
	}, nil
}

var _ appval.JobLocker = (*RedisJobLocker)(nil)
