package nonce

import "sort"

// Manager issues transaction nonces for a single address. Issued nonces are
// tracked as pending until the caller reports the outcome: MarkUsed frees the
// slot, MarkFailed frees it and rewinds so the slot is reissued. A transaction
// can fail locally (gas misestimate, rejected by the RPC node) without ever
// consuming its chain-level nonce slot; an always-increment counter would
// desynchronize from the chain after the first such failure.
type Manager struct {
	mu      Mutex
	current uint64
	pending map[uint64]struct{}
}

func NewManager(start uint64) *Manager {
	return &Manager{
		current: start,
		pending: make(map[uint64]struct{}),
	}
}

// Next issues the next nonce. Safe for concurrent use; concurrent callers
// observe distinct, sequential values.
func (m *Manager) Next() uint64 {
	var n uint64
	_ = m.mu.RunExclusive(func() error {
		n = m.current
		m.pending[n] = struct{}{}
		m.current++
		return nil
	})
	return n
}

// MarkUsed records that the transaction holding n was accepted by the chain.
func (m *Manager) MarkUsed(n uint64) {
	_ = m.mu.RunExclusive(func() error {
		delete(m.pending, n)
		return nil
	})
}

// MarkFailed records that the transaction holding n never reached the chain.
// The slot is reissued: current rewinds to min(current, n).
func (m *Manager) MarkFailed(n uint64) {
	_ = m.mu.RunExclusive(func() error {
		delete(m.pending, n)
		if n < m.current {
			m.current = n
		}
		return nil
	})
}

// Reset reinitializes the manager from an authoritative on-chain nonce,
// discarding all pending bookkeeping. Manual recovery only.
func (m *Manager) Reset(n uint64) {
	_ = m.mu.RunExclusive(func() error {
		m.current = n
		m.pending = make(map[uint64]struct{})
		return nil
	})
}

// Current returns the next nonce that would be issued.
func (m *Manager) Current() uint64 {
	var n uint64
	_ = m.mu.RunExclusive(func() error {
		n = m.current
		return nil
	})
	return n
}

// Pending returns the issued-but-unresolved nonces in ascending order.
func (m *Manager) Pending() []uint64 {
	var out []uint64
	_ = m.mu.RunExclusive(func() error {
		out = make([]uint64, 0, len(m.pending))
		for n := range m.pending {
			out = append(out, n)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
