// Package series accumulates per-area values, one track per series id.
package series

import (
	"sort"
	"sync"
)

// Default is the series used when none is given.
const Default = 1

// Value is one series value of an area.
type Value struct {
	Series int
	Value  float64
}

// Store maps area id to its series values. All methods are safe for
// concurrent use; a single mutex guards every read-modify-write.
type Store struct {
	mu     sync.Mutex
	values map[int]map[int]float64
	order  []int

	target    float64
	hasTarget bool
}

// NewStore creates a store for the given area ids with the default series
// of every area initialized to 0.
func NewStore(ids []int) *Store {
	s := &Store{}
	s.Reset(ids)
	return s
}

// Reset replaces the known areas, dropping all values. The target value is
// kept.
func (s *Store) Reset(ids []int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = make(map[int]map[int]float64, len(ids))
	s.order = append(s.order[:0], ids...)
	for _, id := range ids {
		s.values[id] = map[int]float64{Default: 0}
	}
}

// Has reports whether the area exists.
func (s *Store) Has(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[id]
	return ok
}

// Add accumulates delta into the area's series, starting the series at
// delta when it has no value yet. Unknown areas are ignored and reported
// with false.
func (s *Store) Add(id, series int, delta float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.values[id]
	if !ok {
		return false
	}
	m[series] += delta
	return true
}

// Set overwrites the area's series value. Unknown areas are ignored and
// reported with false.
func (s *Store) Set(id, series int, value float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.values[id]
	if !ok {
		return false
	}
	m[series] = value
	return true
}

// Get returns the area's series value, 0 when unset.
func (s *Store) Get(id, series int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[id][series]
}

// SetTarget fixes the value returned by Max regardless of stored data.
func (s *Store) SetTarget(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = v
	s.hasTarget = true
}

// ClearTarget restores the observed maximum.
func (s *Store) ClearTarget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = 0
	s.hasTarget = false
}

// Target returns the target value and whether one is set.
func (s *Store) Target() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target, s.hasTarget
}

// Max returns the target value when set, otherwise the largest value of the
// series across all areas (0 when there is none above 0).
func (s *Store) Max(series int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasTarget {
		return s.target
	}
	var max float64
	for _, m := range s.values {
		if v := m[series]; v > max {
			max = v
		}
	}
	return max
}

// Ranked returns every series value of the area ordered by value, highest
// first. Ties keep ascending series id order.
func (s *Store) Ranked(id int) []Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.values[id]
	out := make([]Value, 0, len(m))
	for sid, v := range m {
		out = append(out, Value{Series: sid, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Series < out[j].Series
	})
	return out
}

// Snapshot returns a copy of all values keyed by area id.
func (s *Store) Snapshot() map[int]map[int]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]map[int]float64, len(s.values))
	for _, id := range s.order {
		m := make(map[int]float64, len(s.values[id]))
		for k, v := range s.values[id] {
			m[k] = v
		}
		out[id] = m
	}
	return out
}
