package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/pkg/logger"
)

// Redis lock defaults.
const (
	DefaultTTL           = 30 * time.Second
	DefaultRetryInterval = 100 * time.Millisecond
	DefaultKeyPrefix     = "samasy:lock:"
)

var (
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisOptions configures a RedisLocker.
type RedisOptions struct {
	TTL           time.Duration
	RetryInterval time.Duration
	KeyPrefix     string
}

// RedisLocker is a Locker backed by a single Redis instance (SET NX PX with
// a random token; release and refresh compare the token first). A held lock
// is refreshed every TTL/3 until released.
type RedisLocker struct {
	rdb  goredis.UniversalClient
	opts RedisOptions
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker wraps an existing client.
func NewRedisLocker(rdb goredis.UniversalClient, opts RedisOptions) *RedisLocker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	return &RedisLocker{rdb: rdb, opts: opts}
}

// DialRedis opens a client and checks connectivity.
func DialRedis(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := l.opts.KeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.opts.RetryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.opts.TTL).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.ErrBatchBusyf(key)
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(redisKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(relCtx, l.rdb, []string{redisKey}, token).Err(); err != nil {
				logger.Warn("failed to release redis lock",
					zap.String("key", key),
					zap.Error(err),
				)
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.opts.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.opts.TTL/3)
			n, err := refreshScript.Run(ctx, l.rdb, []string{redisKey}, token, l.opts.TTL.Milliseconds()).Int64()
			cancel()
			if err != nil {
				logger.Warn("failed to refresh redis lock", zap.String("key", redisKey), zap.Error(err))
				continue
			}
			if n == 0 {
				logger.Warn("redis lock lost before release", zap.String("key", redisKey))
				return
			}
		}
	}
}
