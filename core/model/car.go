package model

import "math"

// Baseline values applied to a car the first time it is referenced.
const (
	BaselineBattery     = 100.0
	BaselineRange       = 300.0
	BaselineTemperature = 20.0
)

// Known field names, as used in topics and snapshot payloads.
const (
	FieldBattery     = "battery"
	FieldRange       = "range"
	FieldTemperature = "temperature"
	FieldLock        = "lock"
	FieldLights      = "lights"
	FieldClimate     = "climate"
	FieldHeating     = "heating"
	FieldLatitude    = "latitude"
	FieldLongitude   = "longitude"
)

// CarState is the live state of one car. Fields not known at compile time are
// kept in Extra, keyed by their subtopic.
type CarState struct {
	ID          string
	Battery     float64 // percent, 0..100
	Range       float64 // km
	Temperature float64 // °C

	Lock    bool
	Lights  bool
	Climate bool
	Heating bool

	Latitude  *float64
	Longitude *float64

	Extra map[string]any
}

// NewCarState returns the baseline state for id.
func NewCarState(id string) *CarState {
	return &CarState{
		ID:          id,
		Battery:     BaselineBattery,
		Range:       BaselineRange,
		Temperature: BaselineTemperature,
		Extra:       map[string]any{},
	}
}

// Snapshot projects the state into its display form.
func (s *CarState) Snapshot() Snapshot {
	snap := Snapshot{
		Battery:     roundHalfUp(s.Battery, 0),
		Range:       roundHalfUp(s.Range, 0),
		Temperature: roundHalfUp(s.Temperature, 1),
		Lock:        s.Lock,
		Lights:      s.Lights,
		Climate:     s.Climate,
		Heating:     s.Heating,
	}
	if s.Latitude != nil {
		lat := *s.Latitude
		snap.Latitude = &lat
	}
	if s.Longitude != nil {
		lng := *s.Longitude
		snap.Longitude = &lng
	}
	if len(s.Extra) > 0 {
		snap.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			snap.Extra[k] = v
		}
	}
	return snap
}

// roundHalfUp rounds to the given number of decimals with .5 going up,
// including for negative values.
func roundHalfUp(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Floor(v*p+0.5) / p
}
