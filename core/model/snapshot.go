package model

import (
	"encoding/json"
	"time"
)

// Snapshot is the rounded, read-only view of a CarState that is pushed to
// real-time clients. Extra fields are flattened into the same JSON object.
type Snapshot struct {
	Battery     float64
	Range       float64
	Temperature float64
	Lock        bool
	Lights      bool
	Climate     bool
	Heating     bool
	Latitude    *float64
	Longitude   *float64
	Extra       map[string]any
}

// Fields returns the flattened representation. Known fields override extras
// carrying the same key.
func (s Snapshot) Fields() map[string]any {
	out := make(map[string]any, len(s.Extra)+9)
	for k, v := range s.Extra {
		out[k] = v
	}
	out[FieldBattery] = s.Battery
	out[FieldRange] = s.Range
	out[FieldTemperature] = s.Temperature
	out[FieldLock] = s.Lock
	out[FieldLights] = s.Lights
	out[FieldClimate] = s.Climate
	out[FieldHeating] = s.Heating
	if s.Latitude != nil {
		out[FieldLatitude] = *s.Latitude
	}
	if s.Longitude != nil {
		out[FieldLongitude] = *s.Longitude
	}
	return out
}

// MarshalJSON encodes the flattened field map.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Fields())
}

// WithCarID returns the legacy payload shape: the snapshot plus a carId key.
func (s Snapshot) WithCarID(carID string) map[string]any {
	out := s.Fields()
	out["carId"] = carID
	return out
}

// Event sources.
const (
	SourceIngress  = "ingress"
	SourceTick     = "tick"
	SourceLocation = "location"
)

// StateEvent is published on the internal bus every time a snapshot is
// emitted, so recorders can persist it without touching the hot path.
type StateEvent struct {
	CarID    string
	Snapshot Snapshot
	Source   string
	Time     time.Time
}
