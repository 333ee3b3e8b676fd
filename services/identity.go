package services

import (
	"fmt"
	"sync"

	"roopapi/models"
)

// IdentityMonitor holds the single current identity mode for this process
// and notifies subscribers on every transition, in order. Sign-in, guest and
// sign-out effects from the auth endpoints all land here; the repository
// only ever reacts to what the monitor emits.
type IdentityMonitor struct {
	mu        sync.Mutex
	mode      models.IdentityMode
	nextID    int
	listeners map[int]func(models.IdentityMode)

	// Serializes listener dispatch so transitions are never observed out of
	// order even when Set* is called from different goroutines.
	notifyMu sync.Mutex
}

func NewIdentityMonitor() *IdentityMonitor {
	return &IdentityMonitor{
		mode:      models.Unauthenticated(),
		listeners: map[int]func(models.IdentityMode){},
	}
}

// Mode returns the current identity mode without blocking on listeners.
func (m *IdentityMonitor) Mode() models.IdentityMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// OnChange registers a listener invoked once per transition. The returned
// cancel func deregisters it.
func (m *IdentityMonitor) OnChange(fn func(models.IdentityMode)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// SetAuthenticated records a real session. A real identity always supersedes
// any guest declaration from before.
func (m *IdentityMonitor) SetAuthenticated(userID string) {
	m.transition(models.Authenticated(userID))
}

// SetGuest records an explicit local-only session.
func (m *IdentityMonitor) SetGuest() {
	m.transition(models.Guest())
}

func (m *IdentityMonitor) SetUnauthenticated() {
	m.transition(models.Unauthenticated())
}

func (m *IdentityMonitor) transition(next models.IdentityMode) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.mode == next {
		m.mu.Unlock()
		return
	}
	m.mode = next
	targets := make([]func(models.IdentityMode), 0, len(m.listeners))
	for _, fn := range m.listeners {
		targets = append(targets, fn)
	}
	m.mu.Unlock()

	fmt.Println("Identity mode changed to", next.State.String())
	for _, fn := range targets {
		fn(next)
	}
}
