// Package carstate owns the in-memory state of every known car.
package carstate

import (
	"math/rand"
	"reflect"
	"sort"
	"sync"

	"github.com/kilianp07/cariot/core/logger"
	"github.com/kilianp07/cariot/core/model"
)

// Store keeps one CarState per id. Cars are created on first reference and
// live for the lifetime of the process. A single mutex guards the map and the
// records; snapshots are taken under it so callers can fan out without it.
type Store struct {
	mu   sync.Mutex
	cars map[string]*model.CarState
	log  logger.Logger
}

// NewStore returns an empty store. log may be nil.
func NewStore(log logger.Logger) *Store {
	return &Store{cars: map[string]*model.CarState{}, log: log}
}

// GetOrCreate returns the state for id, creating the baseline on first use.
// The returned pointer is stable across calls; treat it as read-only and go
// through the Store to mutate.
func (s *Store) GetOrCreate(id string) *model.CarState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(id)
}

func (s *Store) getOrCreate(id string) *model.CarState {
	st, ok := s.cars[id]
	if !ok {
		st = model.NewCarState(id)
		s.cars[id] = st
		if s.log != nil {
			s.log.Debugw("created car state", map[string]any{"car_id": id})
		}
	}
	return st
}

// ApplyFullUpdate overwrites every field present in fields. A nil battery,
// range or temperature never erases an observed value. It reports whether
// any field actually changed.
func (s *Store) ApplyFullUpdate(id string, fields map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreate(id)
	changed := false
	for key, value := range fields {
		if value == nil && isDriftField(key) {
			continue
		}
		if setField(st, key, value) {
			changed = true
		}
	}
	return changed
}

// ApplySingleField sets one field and always reports a change, so subtopic
// deliveries are re-broadcast even when the value is unchanged.
func (s *Store) ApplySingleField(id, field string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	setField(s.getOrCreate(id), field, value)
	return true
}

// SetLocation sets both coordinates of a car.
func (s *Store) SetLocation(id string, c model.Coordinate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreate(id)
	lat, lng := c.Latitude, c.Longitude
	st.Latitude, st.Longitude = &lat, &lng
	return true
}

// Snapshot returns the rounded projection of a car.
func (s *Store) Snapshot(id string) model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(id).Snapshot()
}

// Evolve advances the mock simulation of one car by a tick and returns the
// resulting snapshot.
func (s *Store) Evolve(id string, r *rand.Rand) model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.getOrCreate(id)
	Tick(st, r)
	return st.Snapshot()
}

// IDs returns the known car ids in lexical order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.cars))
	for id := range s.cars {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of known cars.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cars)
}

func isDriftField(key string) bool {
	return key == model.FieldBattery || key == model.FieldRange || key == model.FieldTemperature
}

// setField writes value into the matching field and reports a change. Values
// that cannot be converted to the field's type are ignored.
func setField(st *model.CarState, key string, value any) bool {
	switch key {
	case model.FieldBattery:
		return setFloat(&st.Battery, value)
	case model.FieldRange:
		return setFloat(&st.Range, value)
	case model.FieldTemperature:
		return setFloat(&st.Temperature, value)
	case model.FieldLock:
		return setBool(&st.Lock, value)
	case model.FieldLights:
		return setBool(&st.Lights, value)
	case model.FieldClimate:
		return setBool(&st.Climate, value)
	case model.FieldHeating:
		return setBool(&st.Heating, value)
	case model.FieldLatitude:
		return setOptionalFloat(&st.Latitude, value)
	case model.FieldLongitude:
		return setOptionalFloat(&st.Longitude, value)
	}
	old, ok := st.Extra[key]
	if ok && reflect.DeepEqual(old, value) {
		return false
	}
	st.Extra[key] = value
	return true
}

func setFloat(dst *float64, value any) bool {
	f, ok := toFloat(value)
	if !ok || *dst == f {
		return false
	}
	*dst = f
	return true
}

func setBool(dst *bool, value any) bool {
	b, ok := toBool(value)
	if !ok || *dst == b {
		return false
	}
	*dst = b
	return true
}

func setOptionalFloat(dst **float64, value any) bool {
	if value == nil {
		if *dst == nil {
			return false
		}
		*dst = nil
		return true
	}
	f, ok := toFloat(value)
	if !ok || (*dst != nil && **dst == f) {
		return false
	}
	*dst = &f
	return true
}
