// Package syncutil provides locking primitives that respect context cancellation.
package syncutil

import (
	"context"
	"sync"
)

// ContextMutex is a mutex implemented via a buffered channel, so waiters can
// select on their context and give up instead of blocking forever.
type ContextMutex struct {
	ch   chan struct{}
	once sync.Once
}

// NewContextMutex creates an unlocked ContextMutex.
func NewContextMutex() *ContextMutex {
	m := &ContextMutex{}
	m.init()
	return m
}

func (m *ContextMutex) init() {
	m.once.Do(func() {
		m.ch = make(chan struct{}, 1)
		m.ch <- struct{}{} // Start unlocked.
	})
}

// LockContext acquires the mutex, respecting context cancellation.
// On success, returns an unlock function and nil error. The caller MUST call
// the unlock function exactly once.
// On context cancellation, returns nil and the context error.
func (m *ContextMutex) LockContext(ctx context.Context) (func(), error) {
	m.init()

	// Fail fast on an already-cancelled context even if the lock is free.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case <-m.ch:
		return m.unlock, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lock acquires the mutex unconditionally and returns the unlock function.
func (m *ContextMutex) Lock() func() {
	m.init()
	<-m.ch
	return m.unlock
}

func (m *ContextMutex) unlock() {
	m.ch <- struct{}{}
}
