package engine

import (
	"context"
	"sync"
	"time"

	"github.com/flowbotio/flowbot/model"
	"github.com/spaolacci/murmur3"
)

// LockTable provides per-contact mutual exclusion. Keys hash onto a
// fixed set of shards; within a key, waiters are served strictly in
// arrival order. Acquisition is bounded: a caller that cannot get the
// lock within its timeout gets a LockTimeoutError and the event is
// rejected.
type LockTable struct {
	shards []*lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	held    bool
	waiters []chan struct{}
}

func NewLockTable(shardCount int) *LockTable {
	if shardCount <= 0 {
		shardCount = 32
	}
	shards := make([]*lockShard, shardCount)
	for i := range shards {
		shards[i] = &lockShard{locks: make(map[string]*keyLock)}
	}
	return &LockTable{shards: shards}
}

func (lt *LockTable) shard(key string) *lockShard {
	return lt.shards[murmur3.Sum32([]byte(key))%uint32(len(lt.shards))]
}

// Acquire blocks until the key's lock is free or the timeout expires.
// On success the returned release func must be called exactly once.
func (lt *LockTable) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	shard := lt.shard(key)

	shard.mu.Lock()
	kl, ok := shard.locks[key]
	if !ok {
		kl = &keyLock{}
		shard.locks[key] = kl
	}
	if !kl.held {
		kl.held = true
		shard.mu.Unlock()
		return func() { lt.release(shard, key) }, nil
	}
	wait := make(chan struct{})
	kl.waiters = append(kl.waiters, wait)
	shard.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-wait:
		// Lock handed off while held; no state change needed here.
		return func() { lt.release(shard, key) }, nil
	case <-timer.C:
		lt.abandon(shard, key, wait)
		return nil, model.LockTimeoutError{Key: key}
	case <-ctx.Done():
		lt.abandon(shard, key, wait)
		return nil, ctx.Err()
	}
}

// release hands the lock to the oldest waiter, or frees it.
func (lt *LockTable) release(shard *lockShard, key string) {
	shard.mu.Lock()
	defer shard.mu.Unlock()
	kl, ok := shard.locks[key]
	if !ok {
		return
	}
	if len(kl.waiters) > 0 {
		next := kl.waiters[0]
		kl.waiters = kl.waiters[1:]
		close(next)
		return
	}
	kl.held = false
	delete(shard.locks, key)
}

// abandon removes a timed-out waiter; if the hand-off raced the
// timeout and the waiter already owns the lock, it is released again.
func (lt *LockTable) abandon(shard *lockShard, key string, wait chan struct{}) {
	shard.mu.Lock()
	kl, ok := shard.locks[key]
	if !ok {
		shard.mu.Unlock()
		return
	}
	for i, w := range kl.waiters {
		if w == wait {
			kl.waiters = append(kl.waiters[:i], kl.waiters[i+1:]...)
			shard.mu.Unlock()
			return
		}
	}
	shard.mu.Unlock()
	select {
	case <-wait:
		lt.release(shard, key)
	default:
	}
}
