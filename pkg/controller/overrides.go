package controller

import (
	"sync"
	"time"
)

// Overrides records the last manual state change per device. While an entry
// is younger than the TTL the controller leaves that device alone. It is
// shared between the API layer (writer) and the live simulation (reader).
type Overrides struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int64]time.Time
}

// NewOverrides creates an empty registry whose entries expire after ttl.
func NewOverrides(ttl time.Duration) *Overrides {
	return &Overrides{
		ttl:     ttl,
		entries: make(map[int64]time.Time),
	}
}

// Record notes a manual change of the device at now.
func (o *Overrides) Record(deviceID int64, now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if prev, ok := o.entries[deviceID]; ok && prev.After(now) {
		return
	}
	o.entries[deviceID] = now
}

// IsActive reports whether the device was manually changed within the TTL of
// now. A timestamp ahead of now is held to the same bound.
func (o *Overrides) IsActive(deviceID int64, now time.Time) bool {
	o.mu.Lock()
	ts, ok := o.entries[deviceID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	age := now.Sub(ts)
	return age < o.ttl && age > -o.ttl
}

// Forget drops the device's entry.
func (o *Overrides) Forget(deviceID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, deviceID)
}

// Len returns the number of recorded devices, expired entries included.
func (o *Overrides) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// TTL returns how long an override stays active.
func (o *Overrides) TTL() time.Duration {
	return o.ttl
}

// Mode holds the externally settable switches of the live simulation.
type Mode struct {
	mu           sync.RWMutex
	loadShifting bool
}

// NewMode creates the mode flags.
func NewMode(loadShifting bool) *Mode {
	return &Mode{loadShifting: loadShifting}
}

// LoadShiftingEnabled reports whether peak shedding is enabled.
func (m *Mode) LoadShiftingEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadShifting
}

// SetLoadShifting enables or disables peak shedding.
func (m *Mode) SetLoadShifting(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadShifting = enabled
}
