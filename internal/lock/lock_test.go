package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	apperrors "samasy.io/samasy/internal/pkg/errors"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLocker(rdb, RedisOptions{TTL: time.Second, RetryInterval: 5 * time.Millisecond}), mr
}

func lockers(t *testing.T) map[string]Locker {
	redis, _ := newRedisLocker(t)
	return map[string]Locker{
		"local": NewLocalLocker(),
		"redis": redis,
	}
}

func TestLocker_ExclusiveUntilUnlock(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			unlock, err := l.Lock(context.Background(), "B1")
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()
			_, err = l.Lock(ctx, "B1")
			require.ErrorIs(t, err, apperrors.ErrConflict)
			require.Equal(t, apperrors.CodeBatchBusy, apperrors.CodeOf(err))

			other, err := l.Lock(context.Background(), "B2")
			require.NoError(t, err)
			other()

			unlock()
			unlock()

			again, err := l.Lock(context.Background(), "B1")
			require.NoError(t, err)
			again()
		})
	}
}

func TestLocker_SerializesWriters(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			var inside, maxInside int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock, err := l.Lock(context.Background(), "B1")
					if err != nil {
						t.Error(err)
						return
					}
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&maxInside)
						if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&inside, -1)
					unlock()
				}()
			}
			wg.Wait()
			require.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
		})
	}
}

func TestLockAll_SortsAndDeduplicates(t *testing.T) {
	rec := &recordingLocker{inner: NewLocalLocker()}
	unlock, err := LockAll(context.Background(), rec, []string{"B3", "B1", "B3", "B2"})
	require.NoError(t, err)
	require.Equal(t, []string{"B1", "B2", "B3"}, rec.order)
	unlock()
	require.Equal(t, []string{"B3", "B2", "B1"}, rec.released)
}

func TestLockAll_ReleasesOnFailure(t *testing.T) {
	local := NewLocalLocker()
	held, err := local.Lock(context.Background(), "B2")
	require.NoError(t, err)
	defer held()

	rec := &recordingLocker{inner: local}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = LockAll(ctx, rec, []string{"B1", "B2"})
	require.Error(t, err)
	require.Equal(t, []string{"B1"}, rec.released)
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	l, mr := newRedisLocker(t)
	unlock, err := l.Lock(context.Background(), "B1")
	require.NoError(t, err)

	// Simulate expiry followed by another holder.
	mr.Del(DefaultKeyPrefix + "B1")
	require.NoError(t, mr.Set(DefaultKeyPrefix+"B1", "someone-else"))

	unlock()
	got, err := mr.Get(DefaultKeyPrefix + "B1")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestRedisLocker_SetsTTL(t *testing.T) {
	l, mr := newRedisLocker(t)
	unlock, err := l.Lock(context.Background(), "B1")
	require.NoError(t, err)
	defer unlock()
	require.Greater(t, mr.TTL(DefaultKeyPrefix+"B1"), time.Duration(0))
}

type recordingLocker struct {
	mu       sync.Mutex
	inner    Locker
	order    []string
	released []string
}

func (r *recordingLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	unlock, err := r.inner.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.order = append(r.order, key)
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.released = append(r.released, key)
		r.mu.Unlock()
		unlock()
	}, nil
}
