// Package restart defines the minimal restart-manager hooks spec.md's
// Non-goals leave in scope: suppress/reset, not a scheduling policy
// engine. The stop pipeline calls Suppress while a restart-triggered
// stop is in flight so a concurrent auto-remove does not fire, and
// SetManualStop/Reset record whether the last stop was operator-driven
// (suppressing the policy) or natural (leaving it free to restart).
package restart

import "sync"

// Manager tracks per-container restart suppression state. It holds no
// policy (backoff windows, max-retry counts) by design — spec.md's
// Non-goals exclude restart-policy scheduling; only the hooks survive.
type Manager struct {
	mu         sync.Mutex
	suppressed map[string]bool
	manualStop map[string]bool
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{
		suppressed: make(map[string]bool),
		manualStop: make(map[string]bool),
	}
}

// Suppress marks id's restart policy inactive for the duration of a
// restart-triggered stop, so the pipeline's own delete-on-auto-remove
// doesn't race a policy-driven restart.
func (m *Manager) Suppress(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppressed[id] = true
}

// Reset clears suppression for id, re-arming its restart policy.
func (m *Manager) Reset(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.suppressed, id)
}

// IsSuppressed reports whether id's restart policy is currently
// suppressed.
func (m *Manager) IsSuppressed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suppressed[id]
}

// SetManualStop records that id's most recent stop was operator-
// initiated, read by RuntimeState.HasBeenManualStopped consumers to
// decide whether an exit should trigger a restart.
func (m *Manager) SetManualStop(id string, manual bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manualStop[id] = manual
}

// WasManualStop reports whether id's last stop was operator-initiated.
func (m *Manager) WasManualStop(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manualStop[id]
}

// Forget drops id's bookkeeping entirely, called once a container is
// deleted.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.suppressed, id)
	delete(m.manualStop, id)
}
