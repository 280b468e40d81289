// Package connectivity carries the online/offline signal consumed by the
// request gateway and the mutation ledger. The core only reacts to
// transitions; it never decides connectivity itself.
package connectivity

import (
	"sort"
	"sync"
)

// Observer is the contract the sync core consumes.
type Observer interface {
	// Online reports the current state synchronously.
	Online() bool
	// Subscribe registers fn to be called on every transition with the new
	// state. The returned func removes the subscription.
	Subscribe(fn func(online bool)) (cancel func())
}

// Monitor is a push-based Observer whose state is set by the host
// (a platform network callback, a Prober, or a test).
//
// Listeners run synchronously inside Set, in subscription order, and must not
// call Set themselves. No debouncing is performed: a flapping signal produces
// one callback per transition.
type Monitor struct {
	setMu sync.Mutex // serialises Set so listeners observe transitions in order

	mu        sync.RWMutex
	online    bool
	nextID    int
	listeners map[int]func(bool)
}

var _ Observer = (*Monitor)(nil)

// NewMonitor returns a Monitor starting in the given state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online, listeners: make(map[int]func(bool))}
}

// Online implements Observer.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Set records the new state and notifies listeners if it changed.
// It reports whether a transition happened.
func (m *Monitor) Set(online bool) bool {
	m.setMu.Lock()
	defer m.setMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.listeners[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
	return true
}

// Subscribe implements Observer.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}
