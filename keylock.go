package curtain

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyLocks serializes operations per screen key. Entries are reference
// counted and dropped when no operation holds or waits on them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// acquire blocks until key is free or ctx is done. The returned func
// releases the lock.
func (k *keyLocks) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: semaphore.NewWeighted(1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		k.unref(key, l)
		return nil, err
	}
	return func() {
		l.sem.Release(1)
		k.unref(key, l)
	}, nil
}

func (k *keyLocks) unref(key string, l *keyLock) {
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// held reports how many keys currently have holders or waiters.
func (k *keyLocks) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
