// Package lock provides keyed mutual exclusion for batch-level writers.
//
// A batch is ingested or completed by one writer at a time. LocalLocker
// serializes writers inside one process; RedisLocker extends that across
// processes sharing a store.
//
// Import Path: samasy.io/samasy/internal/lock
package lock

import (
	"context"
	"sort"
)

// Unlock releases a lock. It is safe to call more than once.
type Unlock func()

// Locker acquires exclusive locks by key. Lock blocks until the lock is
// held or ctx is done; in the latter case it returns a BATCH_BUSY error.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// LockAll acquires every distinct key in sorted order. Writers that take
// overlapping key sets can therefore never deadlock on each other. On
// failure the keys acquired so far are released.
func LockAll(ctx context.Context, l Locker, keys []string) (Unlock, error) {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)

	held := make([]Unlock, 0, len(uniq))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, k := range uniq {
		unlock, err := l.Lock(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		held = append(held, unlock)
	}
	return release, nil
}
