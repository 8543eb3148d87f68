// Package fairlock provides a FIFO-fair exclusive lock. Waiters acquire in
// strict arrival order, so bursts of producers cannot starve one another.
// It guards the task queue's mutating operations and per-session arbitration
// transitions; critical sections must stay short and free of network I/O.
package fairlock

import (
	"container/list"
	"context"
	"sync"
)

// Mutex is a FIFO-fair exclusive lock. The zero value is not usable; create
// one with New.
type Mutex struct {
	mu      sync.Mutex
	locked  bool
	waiters *list.List // of chan struct{}, oldest first
}

// New creates an unlocked FIFO mutex
func New() *Mutex {
	return &Mutex{waiters: list.New()}
}

// Lock blocks until the lock is acquired or ctx is done. Waiters are granted
// strictly in arrival order; a canceled waiter leaves the queue without
// disturbing the order of the others.
func (m *Mutex) Lock(ctx context.Context) error {
	m.mu.Lock()
	if !m.locked && m.waiters.Len() == 0 {
		m.locked = true
		m.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	elem := m.waiters.PushBack(ready)
	m.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	select {
	case <-ready:
		// The grant raced the cancellation and won. We own the lock but the
		// caller is gone, so hand it straight to the next waiter.
		m.grantNextLocked()
	default:
		m.waiters.Remove(elem)
	}
	m.mu.Unlock()
	return ctx.Err()
}

// TryLock acquires the lock only if it is free and nobody is waiting.
// Refusing to barge past the queue keeps the FIFO guarantee intact.
func (m *Mutex) TryLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked || m.waiters.Len() > 0 {
		return false
	}
	m.locked = true
	return true
}

// Unlock releases the lock, transferring ownership to the oldest waiter if
// one exists. Unlocking an unheld lock panics, matching sync.Mutex.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.locked {
		panic("fairlock: unlock of unlocked mutex")
	}
	m.grantNextLocked()
}

// QueueLen reports how many callers are currently waiting
func (m *Mutex) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiters.Len()
}

// grantNextLocked hands the lock to the oldest waiter, or marks it free.
// Ownership transfers directly so no barging window opens between waiters.
// Caller must hold m.mu.
func (m *Mutex) grantNextLocked() {
	front := m.waiters.Front()
	if front == nil {
		m.locked = false
		return
	}
	m.waiters.Remove(front)
	close(front.Value.(chan struct{}))
}
