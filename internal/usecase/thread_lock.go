package usecase

import (
	"context"
	"fmt"
	"sync"
)

// ThreadLocker provides operation-level mutual exclusion per thread. Turns
// on the same thread run strictly one at a time; turns on different threads
// run freely in parallel.
type ThreadLocker struct {
	mu    sync.Mutex
	locks map[string]*threadMutex
}

type threadMutex struct {
	mu       sync.Mutex
	refCount int
}

// NewThreadLocker creates a new thread locker.
func NewThreadLocker() *ThreadLocker {
	return &ThreadLocker{
		locks: make(map[string]*threadMutex),
	}
}

// Lock acquires the lock for the given thread ID. It blocks until the lock
// is acquired or the context is cancelled. Returns an unlock function that
// MUST be called when the turn is complete.
func (tl *ThreadLocker) Lock(ctx context.Context, threadID string) (unlock func(), err error) {
	tl.mu.Lock()
	tm, ok := tl.locks[threadID]
	if !ok {
		tm = &threadMutex{}
		tl.locks[threadID] = tm
	}
	tm.refCount++
	tl.mu.Unlock()

	// Acquire the per-thread mutex with context cancellation support.
	acquired := make(chan struct{})
	go func() {
		tm.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return func() {
			tm.mu.Unlock()
			tl.mu.Lock()
			tm.refCount--
			if tm.refCount == 0 {
				delete(tl.locks, threadID)
			}
			tl.mu.Unlock()
		}, nil

	case <-ctx.Done():
		// The acquiring goroutine will eventually get the mutex; release
		// it as soon as it does so the lock is never held forever.
		go func() {
			<-acquired
			tm.mu.Unlock()
			tl.mu.Lock()
			tm.refCount--
			if tm.refCount == 0 {
				delete(tl.locks, threadID)
			}
			tl.mu.Unlock()
		}()
		return nil, fmt.Errorf("thread lock: %w", ctx.Err())
	}
}

// ActiveCount returns the number of threads with active or pending locks.
// Intended for testing.
func (tl *ThreadLocker) ActiveCount() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.locks)
}
