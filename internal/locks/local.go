package locks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalManager serializes goroutines of one process. TTLs are not enforced
// since a holder cannot outlive the process.
type LocalManager struct {
	mu    sync.Mutex
	slots map[string]*localSlot
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalManager creates an in-process lock manager
func NewLocalManager() *LocalManager {
	return &LocalManager{slots: make(map[string]*localSlot)}
}

func (m *LocalManager) slot(key string) *localSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	return s
}

func (m *LocalManager) unref(key string, s *localSlot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

// AcquireLock waits for key until ctx is done
func (m *LocalManager) AcquireLock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	s := m.slot(key)
	select {
	case s.ch <- struct{}{}:
		return &localLock{manager: m, key: key, slot: s}, nil
	case <-ctx.Done():
		m.unref(key, s)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}
}

// TryAcquireLock takes key only if it is free
func (m *LocalManager) TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error) {
	s := m.slot(key)
	select {
	case s.ch <- struct{}{}:
		return &localLock{manager: m, key: key, slot: s}, true, nil
	default:
		m.unref(key, s)
		return nil, false, nil
	}
}

func (m *LocalManager) Close() error {
	return nil
}

type localLock struct {
	manager *LocalManager
	key     string
	slot    *localSlot
	once     sync.Once
	mu       sync.Mutex
	released bool
}

func (l *localLock) Key() string { return l.key }

func (l *localLock) Release(ctx context.Context) error {
	l.once.Do(func() {
		<-l.slot.ch
		l.manager.unref(l.key, l.slot)
		l.mu.Lock()
		l.released = true
		l.mu.Unlock()
	})
	return nil
}

func (l *localLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.released
}
