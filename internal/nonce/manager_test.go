package nonce

import (
	"sync"
	"testing"
	"time"
)

func TestManager_ConcurrentNextIsSequential(t *testing.T) {
	m := NewManager(7)

	var mu sync.Mutex
	got := make(map[uint64]int)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := m.Next()
			mu.Lock()
			got[n]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, want := range []uint64{7, 8, 9} {
		if got[want] != 1 {
			t.Fatalf("nonce %d issued %d times, want exactly once (got=%v)", want, got[want], got)
		}
	}
	if c := m.Current(); c != 10 {
		t.Fatalf("current after three issues: got %d want 10", c)
	}
}

func TestManager_NoDuplicatesUnderLoad(t *testing.T) {
	m := NewManager(0)
	const n = 200

	results := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.Next()
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint64]bool, n)
	for v := range results {
		if seen[v] {
			t.Fatalf("duplicate nonce %d", v)
		}
		seen[v] = true
	}
	for i := uint64(0); i < n; i++ {
		if !seen[i] {
			t.Fatalf("gap: nonce %d never issued", i)
		}
	}
}

func TestManager_FailedNonceIsReissued(t *testing.T) {
	m := NewManager(5)

	k := m.Next()
	if k != 5 {
		t.Fatalf("first issue: got %d want 5", k)
	}
	m.MarkFailed(k)

	if again := m.Next(); again != k {
		t.Fatalf("after MarkFailed(%d): got %d want %d", k, again, k)
	}
}

func TestManager_FailureRewindDoesNotGoForward(t *testing.T) {
	m := NewManager(0)
	a := m.Next() // 0
	b := m.Next() // 1

	m.MarkUsed(a)
	m.MarkFailed(b)

	if next := m.Next(); next != b {
		t.Fatalf("got %d want %d", next, b)
	}

	// Failing an old, already-passed slot must not move current forward.
	m.MarkFailed(a)
	if next := m.Next(); next != a {
		t.Fatalf("after failing old slot: got %d want %d", next, a)
	}
}

func TestManager_ResetDiscardsPending(t *testing.T) {
	m := NewManager(0)
	m.Next()
	m.Next()

	m.Reset(42)
	if len(m.Pending()) != 0 {
		t.Fatalf("pending not cleared: %v", m.Pending())
	}
	if n := m.Next(); n != 42 {
		t.Fatalf("got %d want 42", n)
	}
}

func TestManager_PendingTracksUnresolved(t *testing.T) {
	m := NewManager(3)
	a := m.Next()
	b := m.Next()
	c := m.Next()

	m.MarkUsed(b)

	p := m.Pending()
	if len(p) != 2 || p[0] != a || p[1] != c {
		t.Fatalf("pending: got %v want [%d %d]", p, a, c)
	}
}

func TestMutex_FIFOOrder(t *testing.T) {
	var m Mutex

	m.Lock()

	var mu sync.Mutex
	var order []int
	ready := make(chan struct{}, 3)
	done := make(chan struct{})

	go func() {
		for i := 0; i < 3; i++ {
			i := i
			go func() {
				ready <- struct{}{}
				m.Lock()
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				m.Unlock()
			}()
			// Give each goroutine time to enqueue before the next starts.
			<-ready
			time.Sleep(20 * time.Millisecond)
		}
		close(done)
	}()

	<-done
	m.Unlock()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("waiters did not finish (order=%v)", order)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("acquisition order %v, want [0 1 2]", order)
		}
	}
}

func TestMutex_RunExclusiveReleasesOnPanic(t *testing.T) {
	var m Mutex

	func() {
		defer func() { _ = recover() }()
		_ = m.RunExclusive(func() error { panic("boom") })
	}()

	done := make(chan struct{})
	go func() {
		_ = m.RunExclusive(func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock not released after panic")
	}
}

func TestMutexManager_SameKeySameMutex(t *testing.T) {
	mm := NewMutexManager()
	a := mm.For("0xabc")
	b := mm.For("0xabc")
	c := mm.For("0xdef")

	if a != b {
		t.Fatalf("same key returned different mutexes")
	}
	if a == c {
		t.Fatalf("different keys share a mutex")
	}
}
