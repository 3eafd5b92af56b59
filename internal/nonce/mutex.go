package nonce

import "sync"

// Mutex is a FIFO mutual-exclusion lock. Waiters acquire the lock strictly in
// arrival order, unlike sync.Mutex which makes no ordering promise. Transaction
// signing for one address depends on that ordering: the first caller to ask for
// a nonce must be the first to get one.
type Mutex struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

func (m *Mutex) Lock() {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()
	<-ch
}

func (m *Mutex) Unlock() {
	m.mu.Lock()
	if len(m.waiters) > 0 {
		// Hand the lock directly to the oldest waiter; locked stays true.
		ch := m.waiters[0]
		m.waiters = m.waiters[1:]
		m.mu.Unlock()
		close(ch)
		return
	}
	m.locked = false
	m.mu.Unlock()
}

// RunExclusive runs fn while holding the lock. The lock is released on every
// exit path, including a panic inside fn.
func (m *Mutex) RunExclusive(fn func() error) error {
	m.Lock()
	defer m.Unlock()
	return fn()
}

// MutexManager hands out one Mutex per key, created lazily on first use and
// retained for the process lifetime.
type MutexManager struct {
	mu      sync.Mutex
	mutexes map[string]*Mutex
}

func NewMutexManager() *MutexManager {
	return &MutexManager{mutexes: make(map[string]*Mutex)}
}

func (mm *MutexManager) For(key string) *Mutex {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	m, ok := mm.mutexes[key]
	if !ok {
		m = &Mutex{}
		mm.mutexes[key] = m
	}
	return m
}
