// Package vehiclestate owns the per-vehicle state objects. Vehicles are
// created on first sight and live until they are evicted.
package vehiclestate

import (
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/fueltrack/core/efficiency"
	"github.com/kilianp07/fueltrack/core/estimator"
	"github.com/kilianp07/fueltrack/core/maintenance"
	"github.com/kilianp07/fueltrack/core/theft"
)

// Meta is the bookkeeping shared by the components of one vehicle.
type Meta struct {
	FleetID  string    `json:"fleet_id"`
	LastSeen time.Time `json:"last_seen"`
	// LastOdometer is the last cumulative odometer value seen, if any.
	LastOdometer *float64 `json:"last_odometer,omitempty"`
	// PendingDistance is distance reported while the filter could not
	// advance. It is consumed by the next filter update.
	PendingDistance float64 `json:"pending_distance"`
}

// Vehicle groups the four component states. Callers must hold the lock
// while reading or writing any field.
type Vehicle struct {
	mu sync.Mutex

	ID          string
	Meta        Meta
	Estimator   estimator.State
	Efficiency  efficiency.State
	Theft       theft.Tracker
	Maintenance maintenance.State

	updates int
	dirty   bool
}

func (v *Vehicle) Lock()   { v.mu.Lock() }
func (v *Vehicle) Unlock() { v.mu.Unlock() }

// Touch marks the vehicle as modified and returns the number of updates
// since the last snapshot.
func (v *Vehicle) Touch() int {
	v.dirty = true
	v.updates++
	return v.updates
}

// Dirty reports whether the vehicle changed since the last snapshot.
func (v *Vehicle) Dirty() bool { return v.dirty }

// MarkClean resets the change tracking after a snapshot was captured.
func (v *Vehicle) MarkClean() {
	v.dirty = false
	v.updates = 0
}

// MarkDirty flags the vehicle for the next snapshot cycle.
func (v *Vehicle) MarkDirty() { v.dirty = true }

// Store is the explicit registry of vehicle states keyed by vehicle id.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Vehicle
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: map[string]*Vehicle{}}
}

// GetOrCreate returns the vehicle, creating a fresh one if unknown. The bool
// is true when the vehicle was created.
func (s *Store) GetOrCreate(id, fleetID string) (*Vehicle, bool) {
	s.mu.RLock()
	v, ok := s.data[id]
	s.mu.RUnlock()
	if ok {
		return v, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[id]; ok {
		return v, false
	}
	v = &Vehicle{ID: id, Meta: Meta{FleetID: fleetID}}
	s.data[id] = v
	return v, true
}

// Put installs a vehicle, replacing any existing entry. It is used when
// restoring snapshots.
func (s *Store) Put(v *Vehicle) {
	s.mu.Lock()
	s.data[v.ID] = v
	s.mu.Unlock()
}

// Get returns the vehicle if known.
func (s *Store) Get(id string) (*Vehicle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[id]
	return v, ok
}

// Evict removes the vehicle. It returns false if the vehicle was unknown.
func (s *Store) Evict(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return false
	}
	delete(s.data, id)
	return true
}

// IDs returns the known vehicle ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of vehicles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Each calls fn for every vehicle in id order. The store lock is not held
// while fn runs, so fn may lock the vehicle.
func (s *Store) Each(fn func(*Vehicle)) {
	s.mu.RLock()
	list := make([]*Vehicle, 0, len(s.data))
	for _, v := range s.data {
		list = append(list, v)
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	for _, v := range list {
		fn(v)
	}
}
