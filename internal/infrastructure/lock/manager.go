package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLockHeld is returned when a lock could not be obtained before the
// caller's context ended.
var ErrLockHeld = errors.New("lock is held by another party")

// Manager hands out exclusive locks by key. The returned unlock function is
// safe to call more than once.
type Manager interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// MemoryManager serializes callers within one process.
type MemoryManager struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{locks: make(map[string]*keyedLock)}
}

// Acquire waits for the key until ctx is done.
func (m *MemoryManager) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, l, false)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockHeld, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(key, l, true) })
	}, nil
}

func (m *MemoryManager) release(key string, l *keyedLock, held bool) {
	if held {
		<-l.ch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

var _ Manager = (*MemoryManager)(nil)
