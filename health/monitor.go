package health

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Probe reports the current health of something owned elsewhere
type Probe func() error

// Monitor holds pushed statuses and probes. It is safe for concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	probes   map[string]Probe
}

// NewMonitor creates an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		probes:   make(map[string]Probe),
	}
}

// Update stores status under name
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[name] = status
}

// UpdateHealthy marks name healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateDegraded marks name degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// UpdateUnhealthy marks name unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// AddProbe registers a probe evaluated on every read. A pushed status with
// the same name is shadowed.
func (m *Monitor) AddProbe(name string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = probe
}

// Remove drops both the status and the probe for name
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.probes, name)
}

// Get returns the current status for name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	probe, isProbe := m.probes[name]
	status, ok := m.statuses[name]
	m.mu.RUnlock()

	if isProbe {
		return FromError(name, probe()), true
	}
	return status, ok
}

// Names returns every monitored name, sorted
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses)+len(m.probes))
	for name := range m.statuses {
		names = append(names, name)
	}
	for name := range m.probes {
		if _, dup := m.statuses[name]; !dup {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Aggregate evaluates every part and folds them into one status. Probes run
// outside the lock.
func (m *Monitor) Aggregate(system string) Status {
	names := m.Names()
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		if s, ok := m.Get(name); ok {
			subs = append(subs, s)
		}
	}
	return Aggregate(system, subs)
}

// Err returns nil unless the aggregate is unhealthy, in which case the error
// names the failing parts.
func (m *Monitor) Err(system string) error {
	status := m.Aggregate(system)
	if !status.IsUnhealthy() {
		return nil
	}

	var failing []string
	for _, sub := range status.SubStatuses {
		if sub.IsUnhealthy() {
			failing = append(failing, sub.Component+": "+sub.Message)
		}
	}
	return fmt.Errorf("%s unhealthy: %s", system, strings.Join(failing, "; "))
}
