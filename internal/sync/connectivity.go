package sync

import "sync"

// Connectivity is a synchronously queryable "is the network reachable"
// signal plus a way to be notified when it transitions to reachable.
//
// The sync queue samples Online immediately before each remote attempt
// rather than trusting a flag set by an earlier event.
type Connectivity interface {
	Online() bool
	OnOnline(fn func())
}

// Monitor is the default Connectivity implementation. The owning application
// feeds it reachability transitions via SetOnline; registered callbacks fire
// on each offline-to-online transition.
type Monitor struct {
	mu        sync.RWMutex
	online    bool
	callbacks []func()
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online}
}

// Online reports the current reachability state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// OnOnline registers a callback invoked after every transition to reachable.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// SetOnline records a reachability change. Callbacks run synchronously, in
// registration order, outside the lock.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	callbacks := m.callbacks
	m.mu.Unlock()

	if online && !wasOnline {
		for _, fn := range callbacks {
			fn()
		}
	}
}
